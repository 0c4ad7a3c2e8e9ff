package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
server:
  address: ":8080"
database:
  url: "user:pass@tcp(localhost:3306)/lankatrips?parseTime=true"
auth:
  jwt_secret: "file-secret"
booking:
  base_url: "https://booking.internal"
  webhook_secret: "hook"
notifications:
  broadcast_batch_size: 25
`

func writeConfig(t *testing.T, body string) string {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_FileWithDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.Equal(t, 25, cfg.Notifications.BroadcastBatchSize)
	assert.Equal(t, 8, cfg.Notifications.BroadcastConcurrency)
	assert.Equal(t, 5*time.Minute, cfg.Notifications.ExpiredSweepInterval)
	assert.Equal(t, 10*time.Second, cfg.Booking.Timeout)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("JWT_SECRET", "env-secret")
	t.Setenv("BOOKING_TIMEOUT", "3s")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Address)
	assert.Equal(t, "env-secret", cfg.Auth.JWTSecret)
	assert.Equal(t, 3*time.Second, cfg.Booking.Timeout)
	assert.Equal(t, "localhost:6379", cfg.Redis.Address)
}

func TestLoad_MissingFileUsesEnvironment(t *testing.T) {
	t.Setenv("DATABASE_URL", "user:pass@tcp(db:3306)/lankatrips")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("BOOKING_API_URL", "https://booking.internal")
	t.Setenv("BOOKING_WEBHOOK_SECRET", "hook")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":4001", cfg.Server.Address)
}

func TestLoad_ValidateRequired(t *testing.T) {
	_, err := Load(writeConfig(t, "server:\n  address: \":1\"\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.url")
	assert.Contains(t, err.Error(), "auth.jwt_secret")
}

func TestLoad_MySQLDSNReportsFoundRows(t *testing.T) {
	t.Setenv("DATABASE_URL", "user:pass@tcp(db:3306)/lankatrips?loc=UTC")

	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)
	assert.Contains(t, cfg.Database.URL, "clientFoundRows=true")
	assert.Contains(t, cfg.Database.URL, "parseTime=true")
	assert.Contains(t, cfg.Database.URL, "tcp(db:3306)/lankatrips")
}

func TestLoad_InvalidMySQLDSN(t *testing.T) {
	t.Setenv("DATABASE_URL", "not a dsn")

	_, err := Load(writeConfig(t, sampleYAML))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.url")
}
