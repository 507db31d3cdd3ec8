package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/moroshma/mqsim/pkg/logger"
)

// Reloader applies the contents of a configuration file
type Reloader interface {
	LoadFile(path string) error
}

// Config represents watcher configuration
type Config struct {
	Path     string
	Debounce time.Duration
}

// Service reloads a file into a Reloader whenever it changes on disk.
// The parent directory is watched so that editors replacing the file by
// rename are seen too.
type Service struct {
	path     string
	debounce time.Duration
	reloader Reloader
	logger   *logger.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	timer   *time.Timer
	stopCh  chan struct{}
	done    chan struct{}
	running bool
}

// NewService creates a new watcher service
func NewService(reloader Reloader, cfg Config, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewNop()
	}
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &Service{
		path:     filepath.Clean(cfg.Path),
		debounce: debounce,
		reloader: reloader,
		logger:   log,
	}
}

// Start begins watching
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(s.path), err)
	}

	s.watcher = w
	s.stopCh = make(chan struct{})
	s.done = make(chan struct{})
	s.running = true

	go s.loop(ctx, w, s.stopCh, s.done)

	s.logger.Info("Watching imposters file", logger.String("path", s.path))
	return nil
}

// Stop stops watching and cancels a pending reload
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	done := s.done
	if s.timer != nil {
		s.timer.Stop()
	}
	w := s.watcher
	s.watcher = nil
	s.mu.Unlock()

	<-done
	if err := w.Close(); err != nil {
		s.logger.Error("Failed to close file watcher", logger.Error(err))
	}
	s.logger.Info("File watcher stopped")
}

func (s *Service) loop(ctx context.Context, w *fsnotify.Watcher, stopCh, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != s.path {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			s.schedule()
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			s.logger.Error("File watcher error", logger.Error(err))
		}
	}
}

// schedule collapses a burst of events into one reload
func (s *Service) schedule() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.debounce, s.reload)
}

func (s *Service) reload() {
	if err := s.reloader.LoadFile(s.path); err != nil {
		s.logger.Error("Failed to reload imposters, keeping the running set",
			logger.String("path", s.path),
			logger.Error(err),
		)
		return
	}
	s.logger.Info("Imposters reloaded", logger.String("path", s.path))
}
