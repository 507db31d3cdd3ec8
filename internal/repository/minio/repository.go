package minio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/moroshma/mqsim/internal/domain/repository"
	"github.com/moroshma/mqsim/pkg/logger"
)

const contentTypeJSON = "application/json"

// Config represents MinIO repository configuration
type Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	BucketName      string
	ObjectName      string
}

// Repository stores the snapshot as a single MinIO object
type Repository struct {
	client *minio.Client
	config *Config
	logger *logger.Logger

	bucketReady bool
	bucketMu    sync.Mutex
}

// NewRepository creates a new MinIO repository
func NewRepository(cfg *Config, log *logger.Logger) (*Repository, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.BucketName == "" {
		return nil, fmt.Errorf("bucket name cannot be empty")
	}
	if cfg.ObjectName == "" {
		return nil, fmt.Errorf("object name cannot be empty")
	}
	if log == nil {
		log = logger.NewNop()
	}

	minioClient, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	return &Repository{
		client: minioClient,
		config: cfg,
		logger: log,
	}, nil
}

// EnsureBucket creates the bucket if it doesn't exist
func (r *Repository) EnsureBucket(ctx context.Context) error {
	r.bucketMu.Lock()
	defer r.bucketMu.Unlock()

	if r.bucketReady {
		return nil
	}

	bucketName := r.config.BucketName
	exists, err := r.client.BucketExists(ctx, bucketName)
	if err != nil {
		r.logger.Error("Failed to check bucket existence",
			logger.String("bucket", bucketName),
			logger.Error(err),
		)
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		r.logger.Info("Creating bucket", logger.String("bucket", bucketName))
		if err := r.client.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	r.bucketReady = true
	return nil
}

// Save uploads the document, replacing the previous object
func (r *Repository) Save(ctx context.Context, data []byte) error {
	if err := r.EnsureBucket(ctx); err != nil {
		return err
	}

	_, err := r.client.PutObject(ctx, r.config.BucketName, r.config.ObjectName,
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentTypeJSON},
	)
	if err != nil {
		r.logger.Error("Failed to upload snapshot to MinIO",
			logger.String("bucket", r.config.BucketName),
			logger.String("object", r.config.ObjectName),
			logger.Error(err),
		)
		return fmt.Errorf("failed to upload snapshot: %w", err)
	}

	r.logger.Debug("Snapshot uploaded",
		logger.String("object", r.config.ObjectName),
		logger.Int("size", len(data)),
	)
	return nil
}

// Load downloads the document
func (r *Repository) Load(ctx context.Context) ([]byte, error) {
	obj, err := r.client.GetObject(ctx, r.config.BucketName, r.config.ObjectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, translateError(err)
	}
	defer obj.Close()

	// GetObject is lazy; Stat surfaces a missing object or bucket
	if _, err := obj.Stat(); err != nil {
		return nil, translateError(err)
	}

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot object: %w", err)
	}
	return data, nil
}

// Close is a no-op; the MinIO client holds no persistent connection
func (r *Repository) Close() error {
	return nil
}

// ObjectURL returns the URL of the snapshot object
func (r *Repository) ObjectURL() string {
	protocol := "http"
	if r.config.UseSSL {
		protocol = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", protocol, r.config.Endpoint, r.config.BucketName, r.config.ObjectName)
}

func translateError(err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return repository.ErrSnapshotNotFound
	}
	return fmt.Errorf("failed to get snapshot object: %w", err)
}
