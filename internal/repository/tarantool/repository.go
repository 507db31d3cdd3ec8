package tarantool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tarantool/go-tarantool/v2"

	"github.com/moroshma/mqsim/internal/domain/repository"
	"github.com/moroshma/mqsim/pkg/logger"
)

// ensureSpaceScript creates the snapshot space: {key string, document string, saved_at unsigned}
const ensureSpaceScript = `
local name = ...
box.schema.space.create(name, {
    if_not_exists = true,
    format = {
        {name = 'key', type = 'string'},
        {name = 'document', type = 'string'},
        {name = 'saved_at', type = 'unsigned'},
    },
})
box.space[name]:create_index('primary', {parts = {'key'}, if_not_exists = true})
`

// Config represents Tarantool repository configuration
type Config struct {
	Address  string
	User     string
	Password string
	Timeout  time.Duration
	Space    string
	Key      string
}

// Repository stores the snapshot as one tuple of a Tarantool space
type Repository struct {
	conn   *tarantool.Connection
	space  string
	key    string
	logger *logger.Logger
	mu     sync.RWMutex
	closed bool
}

// NewRepository connects to Tarantool
func NewRepository(cfg *Config, log *logger.Logger) (*Repository, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Space == "" || cfg.Key == "" {
		return nil, fmt.Errorf("space and key are required")
	}
	if log == nil {
		log = logger.NewNop()
	}

	dialer := tarantool.NetDialer{
		Address:  cfg.Address,
		User:     cfg.User,
		Password: cfg.Password,
	}
	opts := tarantool.Opts{
		Timeout: cfg.Timeout,
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout(cfg.Timeout))
	defer cancel()

	conn, err := tarantool.Connect(ctx, dialer, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Tarantool: %w", err)
	}

	return &Repository{
		conn:   conn,
		space:  cfg.Space,
		key:    cfg.Key,
		logger: log,
	}, nil
}

func connectTimeout(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return 5 * time.Second
	}
	return timeout
}

// Close closes the Tarantool connection
func (r *Repository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}

	r.closed = true
	return r.conn.Close()
}

// Ping checks if the connection to Tarantool is alive
func (r *Repository) Ping() error {
	_, err := r.do(tarantool.NewPingRequest())
	return err
}

// EnsureSpace creates the snapshot space and its primary index if missing
func (r *Repository) EnsureSpace() error {
	_, err := r.do(tarantool.NewEvalRequest(ensureSpaceScript).Args([]interface{}{r.space}))
	if err != nil {
		return fmt.Errorf("failed to ensure space %s: %w", r.space, err)
	}
	return nil
}

func (r *Repository) do(req tarantool.Request) ([]interface{}, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, fmt.Errorf("repository is closed")
	}

	return r.conn.Do(req).Get()
}

// Save replaces the snapshot tuple
func (r *Repository) Save(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	req := tarantool.NewReplaceRequest(r.space).
		Context(ctx).
		Tuple([]interface{}{r.key, string(data), uint64(time.Now().Unix())})
	if _, err := r.do(req); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}

	r.logger.Debug("Snapshot written to Tarantool",
		logger.String("space", r.space),
		logger.Int("size", len(data)),
	)
	return nil
}

// Load reads the snapshot tuple
func (r *Repository) Load(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	req := tarantool.NewSelectRequest(r.space).
		Context(ctx).
		Index("primary").
		Iterator(tarantool.IterEq).
		Limit(1).
		Key([]interface{}{r.key})
	resp, err := r.do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	doc, ok := documentFromTuples(resp)
	if !ok {
		return nil, repository.ErrSnapshotNotFound
	}
	return []byte(doc), nil
}

// documentFromTuples extracts the document field of the first tuple
func documentFromTuples(resp []interface{}) (string, bool) {
	if len(resp) == 0 {
		return "", false
	}
	tuple, ok := resp[0].([]interface{})
	if !ok || len(tuple) < 2 {
		return "", false
	}
	doc := toString(tuple[1])
	if doc == "" {
		return "", false
	}
	return doc, true
}

// toString accepts both msgpack string encodings
func toString(val interface{}) string {
	switch v := val.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	}
	return ""
}
