package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/talkincode/toughwa/config"
	"github.com/talkincode/toughwa/internal/domain"
	"github.com/talkincode/toughwa/internal/repository"
	"github.com/talkincode/toughwa/internal/repository/repotest"
)

func newTestApp(t *testing.T) *Application {
	t.Helper()
	cfg := *config.DefaultAppConfig
	cfg.System.Workdir = t.TempDir()
	a := NewApplication(&cfg)
	a.OverrideDB(repotest.OpenDB(t))
	return a
}

func TestCheckDefaultInstanceSeedsOnce(t *testing.T) {
	a := newTestApp(t)
	repo := repository.NewGormInstanceRepository(a.DB())

	a.checkDefaultInstance()
	a.checkDefaultInstance()

	instances, err := repo.List(context.Background())
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, defaultInstanceName, instances[0].Name)
	assert.Equal(t, domain.ProviderNativeFlow, instances[0].Provider)
	assert.Equal(t, domain.InstanceDisconnected, instances[0].Status)
}

func TestMigrateDBIsRepeatable(t *testing.T) {
	a := newTestApp(t)
	require.NoError(t, a.MigrateDB(false))
	require.NoError(t, a.MigrateDB(false))
	assert.True(t, a.DB().Migrator().HasTable(&domain.Instance{}))
}

func TestInitDbResetsTables(t *testing.T) {
	a := newTestApp(t)
	a.checkDefaultInstance()

	a.InitDb()

	instances, err := repository.NewGormInstanceRepository(a.DB()).List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, instances)
}

func TestSchedClearInstanceLogs(t *testing.T) {
	a := newTestApp(t)
	repo := repository.NewGormInstanceRepository(a.DB())
	ctx := context.Background()
	require.NoError(t, repo.AppendLog(ctx, &domain.InstanceLog{InstanceID: 1, Action: "connect", CreatedAt: time.Now().Add(-2 * instanceLogRetention)}))
	require.NoError(t, repo.AppendLog(ctx, &domain.InstanceLog{InstanceID: 1, Action: "connected", CreatedAt: time.Now()}))

	a.SchedClearInstanceLogs()

	var n int64
	require.NoError(t, a.DB().Model(&domain.InstanceLog{}).Count(&n).Error)
	assert.Equal(t, int64(1), n)
}
