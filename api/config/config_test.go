package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("MESHY_API_KEY", "test-key")
	t.Setenv("MESHY_API_BASE_URL", "https://api.meshy.example.com/openapi/v1")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Port)
	assert.Equal(t, ":8000", cfg.Addr())
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, 10*time.Second, cfg.PollInterval)
	assert.Equal(t, 2, cfg.PollRetryLimit)
	assert.Equal(t, 60*time.Second, cfg.RemoteTimeout)
	assert.Equal(t, 5, cfg.WorkerCount)
	assert.Equal(t, int64(20<<20), cfg.MaxFileSize)
	assert.Equal(t, "static/models", cfg.OutputDir)
	assert.Equal(t, "/static/models", cfg.ModelURLPrefix)
	assert.Equal(t, "generation_events", cfg.KafkaTopic)
	assert.Equal(t, 587, cfg.MailPort)
	assert.Equal(t, 15*time.Second, cfg.ShutdownTimeout)
	assert.False(t, cfg.LedgerEnabled())
	assert.False(t, cfg.EventsEnabled())
	assert.False(t, cfg.MailEnabled())
	assert.False(t, cfg.IsProduction())
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("SERVICE_PORT", "9090")
	t.Setenv("POLL_INTERVAL", "250ms")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092,kafka-2:9092")
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost:5432/gen")
	t.Setenv("ENV", "production")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 250*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	assert.True(t, cfg.LedgerEnabled())
	assert.True(t, cfg.EventsEnabled())
	assert.True(t, cfg.IsProduction())
}

func TestLoad_EnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "service.env")
	content := "MESHY_API_KEY=file-key\nMESHY_API_BASE_URL=https://api.meshy.example.com\nWORKER_COUNT=3\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "file-key", cfg.MeshyAPIKey)
	assert.Equal(t, 3, cfg.WorkerCount)
}

func TestLoad_EnvironmentBeatsEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "service.env")
	content := "MESHY_API_KEY=file-key\nMESHY_API_BASE_URL=https://api.meshy.example.com\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("MESHY_API_KEY", "env-key")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "env-key", cfg.MeshyAPIKey)
}

func TestLoad_MissingExplicitEnvFile(t *testing.T) {
	setRequired(t)

	_, err := Load(filepath.Join(t.TempDir(), "absent.env"))
	assert.Error(t, err)
}

func TestLoad_MissingRequired(t *testing.T) {
	t.Setenv("MESHY_API_KEY", "")
	t.Setenv("MESHY_API_BASE_URL", "")

	_, err := Load("")
	assert.ErrorContains(t, err, "MeshyAPIKey")
}

func TestLoad_InvalidWorkerCount(t *testing.T) {
	setRequired(t)
	t.Setenv("WORKER_COUNT", "0")

	_, err := Load("")
	assert.Error(t, err)
}
