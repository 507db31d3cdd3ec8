package repository

import (
	"context"
	"errors"
)

// ErrSnapshotNotFound is returned by Load when no snapshot has been saved yet
var ErrSnapshotNotFound = errors.New("snapshot not found")

// SnapshotRepository stores a single encoded state document
type SnapshotRepository interface {
	// Save replaces the stored document
	Save(ctx context.Context, data []byte) error

	// Load returns the stored document or ErrSnapshotNotFound
	Load(ctx context.Context) ([]byte, error)

	// Close releases backend resources
	Close() error
}
