package flusher

import (
	"context"
	"sync"
	"time"

	"github.com/moroshma/mqsim/pkg/logger"
)

// Saver writes one full snapshot
type Saver interface {
	Save(ctx context.Context) error
}

// Config represents flusher configuration
type Config struct {
	// Debounce is the longest a change waits before it is written.
	// Zero writes synchronously on every change.
	Debounce time.Duration
	// WriteTimeout bounds a single snapshot write
	WriteTimeout time.Duration
}

// Service batches store change notifications into snapshot writes.
// Writes are best effort: failures are logged and never reach the
// operation that caused the change, and the last write wins.
type Service struct {
	saver        Saver
	logger       *logger.Logger
	debounce     time.Duration
	writeTimeout time.Duration

	dirty   chan struct{}
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	syncMu  sync.Mutex
}

// NewService creates a new flusher
func NewService(saver Saver, cfg Config, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewNop()
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &Service{
		saver:        saver,
		logger:       log,
		debounce:     cfg.Debounce,
		writeTimeout: writeTimeout,
		dirty:        make(chan struct{}, 1),
		stopCh:       make(chan struct{}),
	}
}

// Notify marks the state dirty. It never blocks.
func (s *Service) Notify() {
	if s.debounce <= 0 {
		s.syncMu.Lock()
		defer s.syncMu.Unlock()
		s.write(context.Background())
		return
	}

	select {
	case s.dirty <- struct{}{}:
	default:
	}
}

// Start starts the background writer
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running || s.debounce <= 0 {
		return
	}
	s.running = true

	s.logger.Info("Starting snapshot flusher", logger.Duration("debounce", s.debounce))

	s.wg.Add(1)
	go s.loop(ctx)
}

// Stop stops the background writer and flushes pending changes
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	s.logger.Info("Stopping snapshot flusher...")
	close(s.stopCh)
	s.wg.Wait()
	s.running = false
	s.logger.Info("Snapshot flusher stopped")
}

// Flush writes immediately
func (s *Service) Flush(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()
	return s.saver.Save(ctx)
}

func (s *Service) loop(ctx context.Context) {
	defer s.wg.Done()

	timer := time.NewTimer(s.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	pending := false

	for {
		select {
		case <-ctx.Done():
			s.finalFlush(pending)
			return
		case <-s.stopCh:
			s.finalFlush(pending)
			return
		case <-s.dirty:
			if !pending {
				pending = true
				timer.Reset(s.debounce)
			}
		case <-timer.C:
			pending = false
			s.write(ctx)
		}
	}
}

func (s *Service) finalFlush(pending bool) {
	select {
	case <-s.dirty:
		pending = true
	default:
	}
	if pending {
		s.write(context.Background())
	}
}

func (s *Service) write(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()

	if err := s.saver.Save(ctx); err != nil {
		s.logger.Error("Failed to write snapshot", logger.Error(err))
	}
}
