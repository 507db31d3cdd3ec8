package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moroshma/mqsim/internal/domain/repository"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *Repository) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	repo, err := NewRepository(&Config{Address: mr.Addr(), Key: "mqsim:state"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return mr, repo
}

func TestNewRepository_Validation(t *testing.T) {
	_, err := NewRepository(nil, nil)
	assert.Error(t, err)

	_, err = NewRepository(&Config{Key: "k"}, nil)
	assert.Error(t, err)

	_, err = NewRepository(&Config{Address: "localhost:6379"}, nil)
	assert.Error(t, err)
}

func TestRepository_LoadMissing(t *testing.T) {
	_, repo := setupTestRedis(t)

	_, err := repo.Load(context.Background())
	assert.ErrorIs(t, err, repository.ErrSnapshotNotFound)
}

func TestRepository_SaveLoad(t *testing.T) {
	mr, repo := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, repo.Ping(ctx))
	require.NoError(t, repo.Save(ctx, []byte(`{"messageId":1}`)))
	require.NoError(t, repo.Save(ctx, []byte(`{"messageId":2}`)))

	data, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, `{"messageId":2}`, string(data))

	stored, err := mr.Get("mqsim:state")
	require.NoError(t, err)
	assert.Equal(t, `{"messageId":2}`, stored)
}

func TestRepository_ServerDown(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	repo := NewRepositoryWithClient(client, "k", nil)
	defer repo.Close()
	mr.Close()

	err = repo.Save(context.Background(), []byte(`{}`))
	assert.Error(t, err)

	_, err = repo.Load(context.Background())
	assert.Error(t, err)
	assert.NotErrorIs(t, err, repository.ErrSnapshotNotFound)
}
