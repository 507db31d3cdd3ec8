package main

import (
	"context"
	"fmt"

	"github.com/moroshma/mqsim/internal/config"
	"github.com/moroshma/mqsim/internal/domain/repository"
	fileRepo "github.com/moroshma/mqsim/internal/repository/file"
	minioRepo "github.com/moroshma/mqsim/internal/repository/minio"
	redisRepo "github.com/moroshma/mqsim/internal/repository/redis"
	tarantoolRepo "github.com/moroshma/mqsim/internal/repository/tarantool"
	"github.com/moroshma/mqsim/pkg/logger"
)

// newSnapshotRepository opens the configured persistence backend.
// It returns nil for the none backend.
func newSnapshotRepository(ctx context.Context, cfg *config.Config, log *logger.Logger) (repository.SnapshotRepository, error) {
	switch cfg.Persistence.Backend {
	case config.BackendNone:
		log.Info("Persistence disabled")
		return nil, nil

	case config.BackendFile:
		log.Info("Using file snapshots", logger.String("path", cfg.Persistence.FilePath))
		return fileRepo.NewRepository(cfg.Persistence.FilePath, log)

	case config.BackendMinIO:
		log.Info("Connecting to MinIO", logger.String("endpoint", cfg.MinIO.Endpoint))
		repo, err := minioRepo.NewRepository(&minioRepo.Config{
			Endpoint:        cfg.MinIO.Endpoint,
			AccessKeyID:     cfg.MinIO.AccessKeyID,
			SecretAccessKey: cfg.MinIO.SecretAccessKey,
			UseSSL:          cfg.MinIO.UseSSL,
			BucketName:      cfg.MinIO.BucketName,
			ObjectName:      cfg.MinIO.ObjectName,
		}, log)
		if err != nil {
			return nil, err
		}
		if err := repo.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		log.Info("✓ Connected to MinIO", logger.String("object", repo.ObjectURL()))
		return repo, nil

	case config.BackendRedis:
		log.Info("Connecting to Redis", logger.String("address", cfg.Redis.Address))
		repo, err := redisRepo.NewRepository(&redisRepo.Config{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Key:      cfg.Persistence.Key,
		}, log)
		if err != nil {
			return nil, err
		}
		if err := repo.Ping(ctx); err != nil {
			_ = repo.Close()
			return nil, err
		}
		log.Info("✓ Connected to Redis")
		return repo, nil

	case config.BackendTarantool:
		log.Info("Connecting to Tarantool", logger.String("address", cfg.Tarantool.Address))
		repo, err := tarantoolRepo.NewRepository(&tarantoolRepo.Config{
			Address:  cfg.Tarantool.Address,
			User:     cfg.Tarantool.User,
			Password: cfg.Tarantool.Password,
			Timeout:  cfg.Tarantool.Timeout,
			Space:    cfg.Tarantool.Space,
			Key:      cfg.Persistence.Key,
		}, log)
		if err != nil {
			return nil, err
		}
		if err := repo.Ping(); err != nil {
			_ = repo.Close()
			return nil, fmt.Errorf("failed to ping Tarantool: %w", err)
		}
		if err := repo.EnsureSpace(); err != nil {
			_ = repo.Close()
			return nil, err
		}
		log.Info("✓ Connected to Tarantool")
		return repo, nil
	}

	return nil, fmt.Errorf("unknown persistence backend: %q", cfg.Persistence.Backend)
}
