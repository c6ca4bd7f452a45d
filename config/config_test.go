package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Equal(t, "postgres", cfg.Database.Type)
	assert.Equal(t, 60*time.Second, cfg.QRTTL())
	assert.Equal(t, 5*time.Second, cfg.ReconnectDelay())
	assert.Equal(t, 1818, cfg.Web.Port)
	assert.Empty(t, cfg.Web.Secret)
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	cfile := filepath.Join(dir, "toughwa.yml")
	content := []byte(`
system:
  workdir: /tmp/wa
database:
  type: sqlite
whatsapp:
  qr_ttl: 30
web:
  port: 0
`)
	require.NoError(t, os.WriteFile(cfile, content, 0o644))

	t.Setenv("TOUGHWA_WA_RECONNECT_DELAY", "9")
	t.Setenv("TOUGHWA_WA_AUTO_CONNECT", "false")
	t.Setenv("TOUGHWA_DB_PORT", "not-a-number")
	t.Setenv("TOUGHWA_WEB_SECRET", "k")

	cfg := LoadConfig(cfile)
	assert.Equal(t, "/tmp/wa", cfg.System.Workdir)
	assert.Equal(t, "sqlite", cfg.Database.Type)
	assert.Equal(t, 30*time.Second, cfg.QRTTL())
	assert.Equal(t, 9*time.Second, cfg.ReconnectDelay())
	assert.False(t, cfg.WhatsApp.AutoConnect)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "/tmp/wa/public/uploads", cfg.GetMediaDir())
	assert.Equal(t, 0, cfg.Web.Port)
	assert.Equal(t, "k", cfg.Web.Secret)
}

func TestLoadConfigDoesNotMutateDefaults(t *testing.T) {
	t.Setenv("TOUGHWA_DB_NAME", "other")
	cfg := LoadConfig(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Equal(t, "other", cfg.Database.Name)
	assert.Equal(t, "toughwa", DefaultAppConfig.Database.Name)
}
