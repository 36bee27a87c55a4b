package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.toml"))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 25, cfg.Retrieval.CandidateK)
	assert.Equal(t, 10, cfg.Retrieval.KeywordLimit)
	assert.Equal(t, 8, cfg.Retrieval.TopK)
	assert.Equal(t, 30, cfg.Guard.MaxRequestsPerMinute)
	assert.Equal(t, 2, cfg.Guard.MaxConcurrentStreams)
	assert.Equal(t, 1800, cfg.Memory.AbortTTLSeconds)
}

func TestLoadFileThenEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[app]
port = 9090

[retrieval]
top_k = 4

[guard]
max_concurrent_streams = 5
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("NET_MAX_CONCURRENT_STREAMS", "7")
	t.Setenv("REDIS_ENABLED", "false")
	t.Setenv("RABBITMQ_ENABLED", "false")
	t.Setenv("STORAGE_LOCAL_DIR", "/var/lib/docchat")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9090", cfg.HTTPAddr())
	assert.Equal(t, 4, cfg.Retrieval.TopK)
	assert.Equal(t, 7, cfg.Guard.MaxConcurrentStreams)
	assert.False(t, cfg.Redis.Enabled)
	assert.False(t, cfg.RabbitMQ.Enabled)
	assert.Equal(t, "/var/lib/docchat", cfg.Storage.LocalDir)
}

func TestGetEnvAsIntIgnoresGarbage(t *testing.T) {
	t.Setenv("SOME_INT", "not-a-number")
	assert.Equal(t, 3, getEnvAsInt("SOME_INT", 3))
}
