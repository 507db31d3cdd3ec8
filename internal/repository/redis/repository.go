package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/moroshma/mqsim/internal/domain/repository"
	"github.com/moroshma/mqsim/pkg/logger"
)

// Config represents Redis repository configuration
type Config struct {
	Address  string
	Password string
	DB       int
	Key      string
}

// Repository stores the snapshot under a single Redis key
type Repository struct {
	client *redis.Client
	key    string
	logger *logger.Logger
}

// NewRepository creates a new Redis repository
func NewRepository(cfg *Config, log *logger.Logger) (*Repository, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}
	if cfg.Key == "" {
		return nil, fmt.Errorf("redis key cannot be empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewRepositoryWithClient(client, cfg.Key, log), nil
}

// NewRepositoryWithClient wraps an existing client
func NewRepositoryWithClient(client *redis.Client, key string, log *logger.Logger) *Repository {
	if log == nil {
		log = logger.NewNop()
	}
	return &Repository{
		client: client,
		key:    key,
		logger: log,
	}
}

// Ping checks the connection
func (r *Repository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Save replaces the stored document
func (r *Repository) Save(ctx context.Context, data []byte) error {
	if err := r.client.Set(ctx, r.key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to write snapshot to redis: %w", err)
	}
	r.logger.Debug("Snapshot written to redis",
		logger.String("key", r.key),
		logger.Int("size", len(data)),
	)
	return nil
}

// Load reads the stored document
func (r *Repository) Load(ctx context.Context) ([]byte, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, repository.ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot from redis: %w", err)
	}
	return data, nil
}

// Close closes the client
func (r *Repository) Close() error {
	return r.client.Close()
}
