package config

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewVaultClient_Disabled(t *testing.T) {
	client, err := NewVaultClient(&VaultConfig{Enabled: false})
	require.NoError(t, err)
	assert.Nil(t, client)
}

func TestNewVaultClient_NoToken(t *testing.T) {
	_, err := NewVaultClient(&VaultConfig{Enabled: true, Address: "http://localhost:8200"})
	assert.Error(t, err)
}

func TestVaultClient_GetSecret_NilClient(t *testing.T) {
	var vc *VaultClient
	_, err := vc.GetSecret(context.Background(), "secret/path")
	require.Error(t, err)
	assert.Equal(t, "vault client is not initialized", err.Error())
}

func TestApplyVaultSecrets_NilClient(t *testing.T) {
	cfg := &Config{
		Tarantool: TarantoolConfig{User: "file_user", Password: "file_pass"},
	}

	require.NoError(t, ApplyVaultSecrets(context.Background(), cfg, nil))
	assert.Equal(t, "file_user", cfg.Tarantool.User)
	assert.Equal(t, "file_pass", cfg.Tarantool.Password)
}

// fakeVault serves KV v2 reads from a map of path to secret data
func fakeVault(t *testing.T, secrets map[string]map[string]interface{}) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-token", r.Header.Get("X-Vault-Token"))

		data, ok := secrets[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"errors":[]}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"request_id":     "1",
			"lease_id":       "",
			"renewable":      false,
			"lease_duration": 0,
			"data": map[string]interface{}{
				"data": data,
				"metadata": map[string]interface{}{
					"created_time":    "2024-01-01T00:00:00Z",
					"custom_metadata": nil,
					"deletion_time":   "",
					"destroyed":       false,
					"version":         1,
				},
			},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestApplyVaultSecrets(t *testing.T) {
	srv := fakeVault(t, map[string]map[string]interface{}{
		"/v1/secret/data/mqsim/tarantool": {"user": "vault_user", "password": "vault_pass"},
		"/v1/secret/data/mqsim/minio":     {"access_key_id": "AK", "secret_access_key": "SK"},
		"/v1/secret/data/mqsim/redis":     {"password": "redis_pass"},
	})

	client, err := NewVaultClient(&VaultConfig{Enabled: true, Address: srv.URL, Token: "test-token", MountPath: "secret"})
	require.NoError(t, err)

	cfg := Default()
	cfg.Tarantool.VaultPath = "mqsim/tarantool"
	cfg.MinIO.VaultPath = "mqsim/minio"
	cfg.Redis.VaultPath = "mqsim/redis"

	require.NoError(t, ApplyVaultSecrets(context.Background(), cfg, client))
	assert.Equal(t, "vault_user", cfg.Tarantool.User)
	assert.Equal(t, "vault_pass", cfg.Tarantool.Password)
	assert.Equal(t, "AK", cfg.MinIO.AccessKeyID)
	assert.Equal(t, "SK", cfg.MinIO.SecretAccessKey)
	assert.Equal(t, "redis_pass", cfg.Redis.Password)
}

func TestApplyVaultSecrets_MissingSecret(t *testing.T) {
	srv := fakeVault(t, nil)

	client, err := NewVaultClient(&VaultConfig{Enabled: true, Address: srv.URL, Token: "test-token"})
	require.NoError(t, err)

	cfg := Default()
	cfg.Redis.VaultPath = "mqsim/redis"

	err = ApplyVaultSecrets(context.Background(), cfg, client)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to get redis secrets")
}
