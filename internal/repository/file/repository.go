package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/moroshma/mqsim/internal/domain/repository"
	"github.com/moroshma/mqsim/pkg/logger"
)

// Repository keeps the snapshot in a single file on local disk
type Repository struct {
	path   string
	logger *logger.Logger
}

// NewRepository creates a file repository for the given path
func NewRepository(path string, log *logger.Logger) (*Repository, error) {
	if path == "" {
		return nil, fmt.Errorf("snapshot file path cannot be empty")
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Repository{path: path, logger: log}, nil
}

// Path returns the snapshot file path
func (r *Repository) Path() string {
	return r.path
}

// Save writes the document to a temp file and renames it over the target,
// so readers never observe a half-written snapshot.
func (r *Repository) Save(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(r.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}

	r.logger.Debug("Snapshot written to file",
		logger.String("path", r.path),
		logger.Int("size", len(data)),
	)
	return nil
}

// Load reads the document
func (r *Repository) Load(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, repository.ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return data, nil
}

// Close is a no-op
func (r *Repository) Close() error {
	return nil
}
