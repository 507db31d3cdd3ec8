package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/moroshma/mqsim/internal/domain/entity"
)

// Persistence backends
const (
	BackendFile      = "file"
	BackendMinIO     = "minio"
	BackendRedis     = "redis"
	BackendTarantool = "tarantool"
	BackendNone      = "none"
)

// Config represents the application configuration
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	QueueManager QueueManagerConfig `yaml:"queue_manager"`
	Persistence  PersistenceConfig  `yaml:"persistence"`
	MinIO        MinIOConfig        `yaml:"minio"`
	Redis        RedisConfig        `yaml:"redis"`
	Tarantool    TarantoolConfig    `yaml:"tarantool"`
	Vault        VaultConfig        `yaml:"vault"`
	Logger       LoggerConfig       `yaml:"logger"`
	Imposters    ImpostersConfig    `yaml:"imposters"`
}

// ServerConfig represents HTTP and gRPC listener configuration
type ServerConfig struct {
	HTTPPort        int           `yaml:"http_port" envconfig:"SERVER_HTTP_PORT"`
	GRPCPort        int           `yaml:"grpc_port" envconfig:"SERVER_GRPC_PORT"`
	RequestTimeout  time.Duration `yaml:"request_timeout" envconfig:"SERVER_REQUEST_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SERVER_SHUTDOWN_TIMEOUT"`
	AllowedOrigins  []string      `yaml:"allowed_origins" envconfig:"SERVER_ALLOWED_ORIGINS"`
}

// QueueManagerConfig represents the simulated queue manager
type QueueManagerConfig struct {
	Name          string             `yaml:"name" envconfig:"QUEUE_MANAGER_NAME"`
	Version       string             `yaml:"version" envconfig:"QUEUE_MANAGER_VERSION"`
	DefaultQueues []entity.QueueSpec `yaml:"default_queues" ignored:"true"`
}

// PersistenceConfig represents snapshot persistence configuration
type PersistenceConfig struct {
	Backend      string        `yaml:"backend" envconfig:"PERSISTENCE_BACKEND"` // file, minio, redis, tarantool or none
	FilePath     string        `yaml:"file_path" envconfig:"PERSISTENCE_FILE_PATH"`
	Debounce     time.Duration `yaml:"debounce" envconfig:"PERSISTENCE_DEBOUNCE"`
	WriteTimeout time.Duration `yaml:"write_timeout" envconfig:"PERSISTENCE_WRITE_TIMEOUT"`
	Key          string        `yaml:"key" envconfig:"PERSISTENCE_KEY"`
}

// MinIOConfig represents MinIO connection configuration
type MinIOConfig struct {
	Endpoint        string `yaml:"endpoint" envconfig:"MINIO_ENDPOINT"`
	AccessKeyID     string `yaml:"access_key_id" envconfig:"MINIO_ACCESS_KEY_ID"`
	SecretAccessKey string `yaml:"secret_access_key" envconfig:"MINIO_SECRET_ACCESS_KEY"`
	UseSSL          bool   `yaml:"use_ssl" envconfig:"MINIO_USE_SSL"`
	BucketName      string `yaml:"bucket_name" envconfig:"MINIO_BUCKET_NAME"`
	ObjectName      string `yaml:"object_name" envconfig:"MINIO_OBJECT_NAME"`

	// Vault path for credentials (optional)
	VaultPath string `yaml:"vault_path" envconfig:"MINIO_VAULT_PATH"`
}

// RedisConfig represents Redis connection configuration
type RedisConfig struct {
	Address  string `yaml:"address" envconfig:"REDIS_ADDRESS"`
	Password string `yaml:"password" envconfig:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" envconfig:"REDIS_DB"`

	// Vault path for credentials (optional)
	VaultPath string `yaml:"vault_path" envconfig:"REDIS_VAULT_PATH"`
}

// TarantoolConfig represents Tarantool connection configuration
type TarantoolConfig struct {
	Address  string        `yaml:"address" envconfig:"TARANTOOL_ADDRESS"`
	User     string        `yaml:"user" envconfig:"TARANTOOL_USER"`
	Password string        `yaml:"password" envconfig:"TARANTOOL_PASSWORD"`
	Timeout  time.Duration `yaml:"timeout" envconfig:"TARANTOOL_TIMEOUT"`
	Space    string        `yaml:"space" envconfig:"TARANTOOL_SPACE"`

	// Vault path for credentials (optional)
	VaultPath string `yaml:"vault_path" envconfig:"TARANTOOL_VAULT_PATH"`
}

// VaultConfig represents HashiCorp Vault configuration
type VaultConfig struct {
	Enabled   bool   `yaml:"enabled" envconfig:"VAULT_ENABLED"`
	Address   string `yaml:"address" envconfig:"VAULT_ADDR"`
	Token     string `yaml:"token" envconfig:"VAULT_TOKEN"`
	TokenPath string `yaml:"token_path" envconfig:"VAULT_TOKEN_PATH"`
	Namespace string `yaml:"namespace" envconfig:"VAULT_NAMESPACE"`
	MountPath string `yaml:"mount_path" envconfig:"VAULT_MOUNT_PATH"`
}

// LoggerConfig represents logger configuration
type LoggerConfig struct {
	Level      string `yaml:"level" envconfig:"LOG_LEVEL"`
	Format     string `yaml:"format" envconfig:"LOG_FORMAT"` // json or console
	OutputPath string `yaml:"output_path" envconfig:"LOG_OUTPUT_PATH"`
}

// ImpostersConfig represents imposter loading
type ImpostersConfig struct {
	File          string        `yaml:"file" envconfig:"IMPOSTERS_FILE"`
	Watch         bool          `yaml:"watch" envconfig:"IMPOSTERS_WATCH"`
	WatchDebounce time.Duration `yaml:"watch_debounce" envconfig:"IMPOSTERS_WATCH_DEBOUNCE"`
	PollInterval  time.Duration `yaml:"poll_interval" envconfig:"IMPOSTERS_POLL_INTERVAL"`
}

// Default returns the configuration used when nothing overrides it
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:        8080,
			GRPCPort:        50051,
			RequestTimeout:  30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		QueueManager: QueueManagerConfig{
			Name:    "QM1",
			Version: "1.0.0",
			DefaultQueues: []entity.QueueSpec{
				{Name: "DEV.QUEUE.1", Description: "Development queue 1"},
				{Name: "DEV.QUEUE.2", Description: "Development queue 2"},
				{Name: "DEV.QUEUE.3", Description: "Development queue 3"},
				{Name: "DEV.DEAD.LETTER.QUEUE", Description: "Dead letter queue"},
			},
		},
		Persistence: PersistenceConfig{
			Backend:      BackendFile,
			FilePath:     "data/mq-state.json",
			Debounce:     100 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
			Key:          "mqsim:state",
		},
		MinIO: MinIOConfig{
			Endpoint:        "localhost:9000",
			AccessKeyID:     "minioadmin",
			SecretAccessKey: "minioadmin",
			BucketName:      "mqsim",
			ObjectName:      "mq-state.json",
		},
		Redis: RedisConfig{
			Address: "localhost:6379",
		},
		Tarantool: TarantoolConfig{
			Address: "localhost:3301",
			User:    "guest",
			Timeout: 5 * time.Second,
			Space:   "mqsim_snapshots",
		},
		Vault: VaultConfig{
			Address:   "http://localhost:8200",
			MountPath: "secret",
		},
		Logger: LoggerConfig{
			Level:      "info",
			Format:     "json",
			OutputPath: "stdout",
		},
		Imposters: ImpostersConfig{
			WatchDebounce: 500 * time.Millisecond,
			PollInterval:  50 * time.Millisecond,
		},
	}
}

// Load loads configuration from defaults, then the file, then environment
// variables. Each layer overrides the previous one.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		if err := loadFromFile(configPath, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// No default tags: only variables that are set override the file
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadFromFile loads configuration from YAML file
func loadFromFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true) // Strict parsing

	return decoder.Decode(cfg)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := validatePort("server http", c.Server.HTTPPort); err != nil {
		return err
	}
	if err := validatePort("server grpc", c.Server.GRPCPort); err != nil {
		return err
	}
	if c.Server.HTTPPort == c.Server.GRPCPort {
		return fmt.Errorf("http and grpc ports must differ: %d", c.Server.HTTPPort)
	}
	if c.Server.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive")
	}

	if c.QueueManager.Name == "" {
		return fmt.Errorf("queue manager name is required")
	}
	seen := make(map[string]bool, len(c.QueueManager.DefaultQueues))
	for _, q := range c.QueueManager.DefaultQueues {
		if q.Name == "" {
			return fmt.Errorf("default queue name is required")
		}
		if seen[q.Name] {
			return fmt.Errorf("duplicate default queue: %s", q.Name)
		}
		seen[q.Name] = true
	}

	if c.Persistence.Debounce < 0 {
		return fmt.Errorf("persistence debounce must not be negative")
	}
	switch c.Persistence.Backend {
	case BackendNone:
	case BackendFile:
		if c.Persistence.FilePath == "" {
			return fmt.Errorf("persistence file path is required for the file backend")
		}
	case BackendMinIO:
		if c.MinIO.Endpoint == "" {
			return fmt.Errorf("minio endpoint is required")
		}
		if c.MinIO.BucketName == "" {
			return fmt.Errorf("minio bucket name is required")
		}
	case BackendRedis:
		if c.Redis.Address == "" {
			return fmt.Errorf("redis address is required")
		}
	case BackendTarantool:
		if c.Tarantool.Address == "" {
			return fmt.Errorf("tarantool address is required")
		}
	default:
		return fmt.Errorf("unknown persistence backend: %q", c.Persistence.Backend)
	}

	if c.Vault.Enabled && c.Vault.Address == "" {
		return fmt.Errorf("vault address is required when vault is enabled")
	}

	if c.Logger.Format != "json" && c.Logger.Format != "console" {
		return fmt.Errorf("log format must be json or console, got %q", c.Logger.Format)
	}

	if c.Imposters.Watch && c.Imposters.File == "" {
		return fmt.Errorf("imposters file is required when watch is enabled")
	}

	return nil
}

func validatePort(name string, port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("invalid %s port: %d", name, port)
	}
	return nil
}

// GetVaultToken returns the Vault token from config or file
func (c *VaultConfig) GetVaultToken() (string, error) {
	if c.Token != "" {
		return c.Token, nil
	}

	if c.TokenPath != "" {
		token, err := os.ReadFile(c.TokenPath)
		if err != nil {
			return "", fmt.Errorf("failed to read vault token from file: %w", err)
		}
		return strings.TrimSpace(string(token)), nil
	}

	return "", fmt.Errorf("vault token not configured")
}
