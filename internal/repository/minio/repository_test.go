package minio

import (
	"errors"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moroshma/mqsim/internal/domain/repository"
)

func validConfig() *Config {
	return &Config{
		Endpoint:        "localhost:9000",
		AccessKeyID:     "minioadmin",
		SecretAccessKey: "minioadmin",
		BucketName:      "mqsim",
		ObjectName:      "state/mq-state.json",
	}
}

func TestNewRepository_Validation(t *testing.T) {
	tests := []struct {
		name   string
		config *Config
	}{
		{name: "nil config", config: nil},
		{name: "empty bucket", config: &Config{Endpoint: "localhost:9000", ObjectName: "x"}},
		{name: "empty object", config: &Config{Endpoint: "localhost:9000", BucketName: "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRepository(tt.config, nil)
			assert.Error(t, err)
		})
	}
}

func TestNewRepository_Success(t *testing.T) {
	repo, err := NewRepository(validConfig(), nil)
	require.NoError(t, err)
	assert.NotNil(t, repo.client)
	assert.NoError(t, repo.Close())
}

func TestObjectURL(t *testing.T) {
	cfg := validConfig()
	repo, err := NewRepository(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9000/mqsim/state/mq-state.json", repo.ObjectURL())

	cfg.UseSSL = true
	assert.Equal(t, "https://localhost:9000/mqsim/state/mq-state.json", repo.ObjectURL())
}

func TestTranslateError(t *testing.T) {
	notFound := minio.ErrorResponse{Code: "NoSuchKey", Message: "missing"}
	assert.ErrorIs(t, translateError(notFound), repository.ErrSnapshotNotFound)

	noBucket := minio.ErrorResponse{Code: "NoSuchBucket", Message: "missing"}
	assert.ErrorIs(t, translateError(noBucket), repository.ErrSnapshotNotFound)

	other := errors.New("connection refused")
	err := translateError(other)
	assert.NotErrorIs(t, err, repository.ErrSnapshotNotFound)
	assert.ErrorIs(t, err, other)
}
