package config

import (
	"context"
	"fmt"

	vault "github.com/hashicorp/vault/api"
)

// VaultClient reads KV v2 secrets
type VaultClient struct {
	client *vault.Client
	mount  string
}

// NewVaultClient returns nil when Vault is disabled
func NewVaultClient(cfg *VaultConfig) (*VaultClient, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	vaultCfg := vault.DefaultConfig()
	vaultCfg.Address = cfg.Address

	client, err := vault.NewClient(vaultCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}

	token, err := cfg.GetVaultToken()
	if err != nil {
		return nil, err
	}
	client.SetToken(token)

	if cfg.Namespace != "" {
		client.SetNamespace(cfg.Namespace)
	}

	mount := cfg.MountPath
	if mount == "" {
		mount = "secret"
	}

	return &VaultClient{client: client, mount: mount}, nil
}

// GetSecret retrieves the data of a KV v2 secret
func (vc *VaultClient) GetSecret(ctx context.Context, path string) (map[string]interface{}, error) {
	if vc == nil {
		return nil, fmt.Errorf("vault client is not initialized")
	}

	secret, err := vc.client.KVv2(vc.mount).Get(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read secret from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("secret not found: %s", path)
	}

	return secret.Data, nil
}

// credentialBinding maps keys of one secret onto config fields
type credentialBinding struct {
	backend string
	path    string
	fields  map[string]*string
}

func credentialBindings(cfg *Config) []credentialBinding {
	return []credentialBinding{
		{
			backend: BackendTarantool,
			path:    cfg.Tarantool.VaultPath,
			fields: map[string]*string{
				"user":     &cfg.Tarantool.User,
				"password": &cfg.Tarantool.Password,
			},
		},
		{
			backend: BackendMinIO,
			path:    cfg.MinIO.VaultPath,
			fields: map[string]*string{
				"access_key_id":     &cfg.MinIO.AccessKeyID,
				"secret_access_key": &cfg.MinIO.SecretAccessKey,
			},
		},
		{
			backend: BackendRedis,
			path:    cfg.Redis.VaultPath,
			fields: map[string]*string{
				"password": &cfg.Redis.Password,
			},
		},
	}
}

// ApplyVaultSecrets overlays backend credentials stored in Vault.
// Backends without a vault path keep their configured values.
func ApplyVaultSecrets(ctx context.Context, cfg *Config, vaultClient *VaultClient) error {
	if vaultClient == nil {
		return nil
	}

	for _, b := range credentialBindings(cfg) {
		if b.path == "" {
			continue
		}
		secret, err := vaultClient.GetSecret(ctx, b.path)
		if err != nil {
			return fmt.Errorf("failed to get %s secrets: %w", b.backend, err)
		}
		for key, dst := range b.fields {
			if val, ok := secret[key].(string); ok {
				*dst = val
			}
		}
	}

	return nil
}
