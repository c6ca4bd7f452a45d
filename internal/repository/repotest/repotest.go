// Package repotest opens throwaway sqlite databases for package tests.
package repotest

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/talkincode/toughwa/internal/domain"
	"github.com/talkincode/toughwa/internal/repository"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// OpenDB returns a migrated in-memory database private to the test.
func OpenDB(t testing.TB) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// a single connection keeps the in-memory database alive and shared
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(domain.Tables...))
	require.NoError(t, repository.EnsureIndexes(db))
	return db
}

// NewStore returns gorm repositories over a fresh database.
func NewStore(t testing.TB) (*repository.Store, *gorm.DB) {
	db := OpenDB(t)
	return repository.NewGormStore(db), db
}
