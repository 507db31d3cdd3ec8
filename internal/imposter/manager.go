package imposter

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"sync"

	"github.com/moroshma/mqsim/pkg/logger"
)

var (
	ErrImposterExists   = errors.New("imposter already exists")
	ErrImposterNotFound = errors.New("imposter not found")
)

// Manager keeps the running imposters keyed by port
type Manager struct {
	mu        sync.RWMutex
	imposters map[int]*Imposter
	opts      Options
	logger    *logger.Logger
}

// NewManager creates an empty manager
func NewManager(opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	return &Manager{
		imposters: make(map[int]*Imposter),
		opts:      opts,
		logger:    opts.Logger,
	}
}

// Create validates cfg, then builds and starts a new imposter
func (m *Manager) Create(cfg Config) (*Imposter, error) {
	imp, err := New(cfg, m.opts)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if _, exists := m.imposters[cfg.Port]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: port %d", ErrImposterExists, cfg.Port)
	}
	m.imposters[cfg.Port] = imp
	m.mu.Unlock()

	m.activate(imp)
	return imp, nil
}

// Get returns the imposter on port
func (m *Manager) Get(port int) (*Imposter, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	imp, ok := m.imposters[port]
	return imp, ok
}

// List returns imposters ordered by port
func (m *Manager) List() []*Imposter {
	m.mu.RLock()
	result := make([]*Imposter, 0, len(m.imposters))
	for _, imp := range m.imposters {
		result = append(result, imp)
	}
	m.mu.RUnlock()

	sort.Slice(result, func(a, b int) bool {
		return result[a].Port() < result[b].Port()
	})
	return result
}

// Delete stops and removes the imposter on port
func (m *Manager) Delete(port int) (*Imposter, error) {
	m.mu.Lock()
	imp, ok := m.imposters[port]
	if ok {
		delete(m.imposters, port)
	}
	m.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: port %d", ErrImposterNotFound, port)
	}
	m.deactivate(imp)
	return imp, nil
}

// Replace swaps every imposter for cfgs. All configurations are validated
// first; on any problem nothing changes.
func (m *Manager) Replace(cfgs []Config) error {
	built := make([]*Imposter, 0, len(cfgs))
	var problems []string
	ports := make(map[int]bool, len(cfgs))

	for idx, cfg := range cfgs {
		at := fmt.Sprintf("imposters[%d]", idx)
		if ports[cfg.Port] {
			problems = append(problems, fmt.Sprintf("%s.port: duplicate port %d", at, cfg.Port))
			continue
		}
		ports[cfg.Port] = true

		imp, err := New(cfg, m.opts)
		if err != nil {
			var ve *ValidationError
			if errors.As(err, &ve) {
				for _, p := range ve.Problems {
					problems = append(problems, at+"."+p)
				}
				continue
			}
			return fmt.Errorf("failed to build %s: %w", at, err)
		}
		built = append(built, imp)
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}

	m.mu.Lock()
	old := m.imposters
	m.imposters = make(map[int]*Imposter, len(built))
	for _, imp := range built {
		m.imposters[imp.Port()] = imp
	}
	m.mu.Unlock()

	for _, imp := range old {
		m.deactivate(imp)
	}
	for _, imp := range built {
		m.activate(imp)
	}

	m.logger.Info("Imposters replaced", logger.Int("count", len(built)))
	return nil
}

// LoadFile reads an imposters file and replaces the running set with it
func (m *Manager) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read imposters file: %w", err)
	}
	cfgs, err := ParseFile(data)
	if err != nil {
		return err
	}
	if err := m.Replace(cfgs); err != nil {
		return err
	}
	m.logger.Info("Imposters loaded", logger.String("path", path))
	return nil
}

// Close stops every imposter
func (m *Manager) Close() {
	m.mu.Lock()
	old := m.imposters
	m.imposters = make(map[int]*Imposter)
	m.mu.Unlock()

	for _, imp := range old {
		m.deactivate(imp)
	}
}

func (m *Manager) activate(imp *Imposter) {
	if err := m.opts.Metrics.RegisterQueues(metricsName(imp.Port()), imp.Store()); err != nil {
		m.logger.Warn("Failed to export imposter queues", logger.Int("port", imp.Port()), logger.Error(err))
	}
	imp.Start()
	m.logger.Info("Imposter started",
		logger.Int("port", imp.Port()),
		logger.Int("queues", len(imp.Config().Queues)),
	)
}

func (m *Manager) deactivate(imp *Imposter) {
	imp.Stop()
	m.opts.Metrics.UnregisterQueues(metricsName(imp.Port()))
	m.logger.Info("Imposter stopped", logger.Int("port", imp.Port()))
}

func metricsName(port int) string {
	return "imposter-" + strconv.Itoa(port)
}
