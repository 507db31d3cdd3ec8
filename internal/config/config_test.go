package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 30*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, 100*time.Millisecond, cfg.Persistence.Debounce)
	assert.Equal(t, BackendFile, cfg.Persistence.Backend)
	assert.Len(t, cfg.QueueManager.DefaultQueues, 4)
}

func TestLoad_NoFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "QM1", cfg.QueueManager.Name)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  http_port: 9090
  grpc_port: 9091
queue_manager:
  name: QM.TEST
  default_queues:
    - name: ORDERS.IN
      max_depth: 10
persistence:
  backend: redis
  debounce: 0s
redis:
  address: redis:6379
  db: 2
imposters:
  file: /etc/mqsim/imposters.yaml
  watch: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.HTTPPort)
	assert.Equal(t, 30*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, "QM.TEST", cfg.QueueManager.Name)
	require.Len(t, cfg.QueueManager.DefaultQueues, 1)
	assert.Equal(t, 10, cfg.QueueManager.DefaultQueues[0].MaxDepth)
	assert.Equal(t, BackendRedis, cfg.Persistence.Backend)
	assert.Equal(t, time.Duration(0), cfg.Persistence.Debounce)
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.True(t, cfg.Imposters.Watch)
	assert.Equal(t, 50*time.Millisecond, cfg.Imposters.PollInterval)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
server:
  http_port: 9090
vault:
  enabled: false
logger:
  level: debug
`)
	t.Setenv("SERVER_HTTP_PORT", "7070")
	t.Setenv("PERSISTENCE_BACKEND", "none")
	t.Setenv("SERVER_ALLOWED_ORIGINS", "http://a.test,http://b.test")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.HTTPPort)
	assert.Equal(t, BackendNone, cfg.Persistence.Backend)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.False(t, cfg.Vault.Enabled)
}

func TestLoad_StrictFile(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 1\n")
	_, err := Load(path)
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{name: "zero http port", mutate: func(c *Config) { c.Server.HTTPPort = 0 }},
		{name: "grpc port too large", mutate: func(c *Config) { c.Server.GRPCPort = 65536 }},
		{name: "same ports", mutate: func(c *Config) { c.Server.GRPCPort = c.Server.HTTPPort }},
		{name: "no request timeout", mutate: func(c *Config) { c.Server.RequestTimeout = 0 }},
		{name: "no queue manager", mutate: func(c *Config) { c.QueueManager.Name = "" }},
		{name: "duplicate default queue", mutate: func(c *Config) {
			c.QueueManager.DefaultQueues = append(c.QueueManager.DefaultQueues, c.QueueManager.DefaultQueues[0])
		}},
		{name: "unknown backend", mutate: func(c *Config) { c.Persistence.Backend = "s3" }},
		{name: "file backend without path", mutate: func(c *Config) { c.Persistence.FilePath = "" }},
		{name: "negative debounce", mutate: func(c *Config) { c.Persistence.Debounce = -time.Second }},
		{name: "minio without bucket", mutate: func(c *Config) {
			c.Persistence.Backend = BackendMinIO
			c.MinIO.BucketName = ""
		}},
		{name: "redis without address", mutate: func(c *Config) {
			c.Persistence.Backend = BackendRedis
			c.Redis.Address = ""
		}},
		{name: "tarantool without address", mutate: func(c *Config) {
			c.Persistence.Backend = BackendTarantool
			c.Tarantool.Address = ""
		}},
		{name: "vault without address", mutate: func(c *Config) {
			c.Vault.Enabled = true
			c.Vault.Address = ""
		}},
		{name: "bad log format", mutate: func(c *Config) { c.Logger.Format = "xml" }},
		{name: "watch without file", mutate: func(c *Config) { c.Imposters.Watch = true }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestVaultConfig_GetVaultToken(t *testing.T) {
	cfg := &VaultConfig{Token: "direct"}
	token, err := cfg.GetVaultToken()
	require.NoError(t, err)
	assert.Equal(t, "direct", token)

	path := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(path, []byte("from-file\n"), 0o600))
	cfg = &VaultConfig{TokenPath: path}
	token, err = cfg.GetVaultToken()
	require.NoError(t, err)
	assert.Equal(t, "from-file", token)

	cfg = &VaultConfig{TokenPath: filepath.Join(t.TempDir(), "missing")}
	_, err = cfg.GetVaultToken()
	assert.Error(t, err)

	_, err = (&VaultConfig{}).GetVaultToken()
	assert.Error(t, err)
}

func TestLoad_ExampleConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "QM1", cfg.QueueManager.Name)
	assert.Equal(t, "configs/imposters.yaml", cfg.Imposters.File)
	assert.Equal(t, Default().QueueManager.DefaultQueues, cfg.QueueManager.DefaultQueues)
}
