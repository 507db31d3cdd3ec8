// Package queue holds the in-memory queue store: named FIFO queues, their
// messages and counters, and the client connections that open them.
package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/moroshma/mqsim/internal/domain/entity"
	"github.com/moroshma/mqsim/pkg/logger"
)

var (
	ErrQueueNotFound      = errors.New("queue not found")
	ErrQueueFull          = errors.New("queue is full")
	ErrInvalidQueueName   = errors.New("queue name cannot be empty")
	ErrInvalidPayload     = errors.New("payload is not valid JSON")
	ErrConnectionNotFound = errors.New("connection not found")
	ErrInvalidOpenMode    = errors.New("open mode must be input or output")
)

// ChangeNotifier is told after every mutation that should reach a snapshot.
// Notify is always called without the store lock held.
type ChangeNotifier interface {
	Notify()
}

type queueHandle struct {
	queue string
	mode  string
}

type connectionState struct {
	conn    entity.Connection
	handles []queueHandle
}

// Store owns every queue and message of one queue manager.
// All operations are serialized by a single mutex, so one call is one
// atomic step and a consuming get hands a message to exactly one caller.
type Store struct {
	mu             sync.Mutex
	queues         map[string]*entity.Queue
	order          []string
	connections    map[string]*connectionState
	messageSeq     int64
	correlationSeq int64

	notifier ChangeNotifier
	logger   *logger.Logger
	now      func() time.Time
}

// NewStore creates an empty store. notifier may be nil.
func NewStore(log *logger.Logger, notifier ChangeNotifier) *Store {
	if log == nil {
		log = logger.NewNop()
	}
	return &Store{
		queues:      make(map[string]*entity.Queue),
		connections: make(map[string]*connectionState),
		notifier:    notifier,
		logger:      log,
		now:         time.Now,
	}
}

// SetNotifier replaces the change notifier
func (s *Store) SetNotifier(n ChangeNotifier) {
	s.mu.Lock()
	s.notifier = n
	s.mu.Unlock()
}

func (s *Store) notify() {
	s.mu.Lock()
	n := s.notifier
	s.mu.Unlock()
	if n != nil {
		n.Notify()
	}
}

// CreateQueue creates a queue. It returns false, without touching the
// existing queue, when the name is already taken.
func (s *Store) CreateQueue(spec entity.QueueSpec) (bool, error) {
	if spec.Name == "" {
		return false, ErrInvalidQueueName
	}
	maxDepth := spec.MaxDepth
	if maxDepth <= 0 {
		maxDepth = entity.DefaultMaxDepth
	}
	queueType := spec.Type
	if queueType == "" {
		queueType = entity.QueueTypeLocal
	}

	s.mu.Lock()
	if _, exists := s.queues[spec.Name]; exists {
		s.mu.Unlock()
		return false, nil
	}
	s.queues[spec.Name] = &entity.Queue{
		Name:        spec.Name,
		Type:        queueType,
		Description: spec.Description,
		MaxDepth:    maxDepth,
		Messages:    []*entity.Message{},
		CreatedAt:   s.now().UTC(),
	}
	s.order = append(s.order, spec.Name)
	s.mu.Unlock()

	s.logger.Debug("Queue created",
		logger.String("queue", spec.Name),
		logger.Int("max_depth", maxDepth),
	)
	s.notify()
	return true, nil
}

// DeleteQueue removes a queue and its messages
func (s *Store) DeleteQueue(name string) bool {
	s.mu.Lock()
	if _, exists := s.queues[name]; !exists {
		s.mu.Unlock()
		return false
	}
	delete(s.queues, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	s.logger.Debug("Queue deleted", logger.String("queue", name))
	s.notify()
	return true
}

// HasQueue reports whether a queue exists
func (s *Store) HasQueue(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.queues[name]
	return ok
}

// ListQueues returns queues in creation order
func (s *Store) ListQueues() []entity.QueueInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]entity.QueueInfo, 0, len(s.order))
	for _, name := range s.order {
		q := s.queues[name]
		infos = append(infos, entity.QueueInfo{
			Name:         q.Name,
			Type:         q.Type,
			CurrentDepth: len(q.Messages),
			MaxDepth:     q.MaxDepth,
			Description:  q.Description,
			CreatedAt:    q.CreatedAt,
		})
	}
	return infos
}

// Depth returns the depth and counters of a queue
func (s *Store) Depth(name string) (entity.QueueDepth, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.queues[name]
	if !ok {
		return entity.QueueDepth{}, fmt.Errorf("%w: %s", ErrQueueNotFound, name)
	}
	return entity.QueueDepth{
		CurrentDepth:    len(q.Messages),
		MaxDepth:        q.MaxDepth,
		TotalIn:         q.TotalIn,
		TotalOut:        q.TotalOut,
		OpenInputCount:  q.OpenInputCount,
		OpenOutputCount: q.OpenOutputCount,
	}, nil
}

// ClearQueue drops every message of a queue. Counters are left alone.
func (s *Store) ClearQueue(name string) (int, error) {
	s.mu.Lock()
	q, ok := s.queues[name]
	if !ok {
		s.mu.Unlock()
		return 0, fmt.Errorf("%w: %s", ErrQueueNotFound, name)
	}
	cleared := len(q.Messages)
	q.Messages = []*entity.Message{}
	s.mu.Unlock()

	s.logger.Debug("Queue cleared",
		logger.String("queue", name),
		logger.Int("cleared", cleared),
	)
	s.notify()
	return cleared, nil
}

// Put appends a message to the tail of a queue and returns a copy of it
func (s *Store) Put(queueName string, payload json.RawMessage, opts entity.PutOptions) (*entity.Message, error) {
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	if !json.Valid(payload) {
		return nil, ErrInvalidPayload
	}

	s.mu.Lock()
	q, ok := s.queues[queueName]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrQueueNotFound, queueName)
	}
	if len(q.Messages) >= q.MaxDepth {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s (max depth %d)", ErrQueueFull, queueName, q.MaxDepth)
	}

	now := s.now()
	msg := &entity.Message{
		MessageID:     s.nextMessageID(now),
		CorrelationID: opts.CorrelationID,
		Payload:       append(json.RawMessage(nil), payload...),
		PutTime:       now.UTC(),
		Priority:      opts.Priority,
		Persistence:   opts.Persistence,
		Format:        opts.Format,
		ReplyToQueue:  opts.ReplyToQueue,
		Expiry:        opts.Expiry,
	}
	if msg.CorrelationID == "" {
		msg.CorrelationID = s.nextCorrelationID(now)
	}
	if msg.Format == "" {
		msg.Format = entity.DefaultFormat
	}
	if msg.Expiry == 0 {
		msg.Expiry = entity.NoExpiry
	}

	q.Messages = append(q.Messages, msg)
	q.TotalIn++
	depth := len(q.Messages)
	out := msg.Clone()
	s.mu.Unlock()

	s.logger.Debug("Message put",
		logger.String("queue", queueName),
		logger.String("message_id", out.MessageID),
		logger.Int("depth", depth),
	)
	s.notify()
	return out, nil
}

// Get returns the head of a queue. A consuming get removes it; a browse
// leaves the queue untouched. An empty queue yields nil and no error.
func (s *Store) Get(queueName string, opts entity.GetOptions) (*entity.Message, error) {
	s.mu.Lock()
	q, ok := s.queues[queueName]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrQueueNotFound, queueName)
	}
	if len(q.Messages) == 0 {
		s.mu.Unlock()
		return nil, nil
	}

	head := q.Messages[0]
	if opts.Browse {
		out := head.Clone()
		s.mu.Unlock()
		return out, nil
	}

	q.Messages[0] = nil
	q.Messages = q.Messages[1:]
	q.TotalOut++
	s.mu.Unlock()

	s.logger.Debug("Message got",
		logger.String("queue", queueName),
		logger.String("message_id", head.MessageID),
	)
	s.notify()
	return head, nil
}

// Stats summarizes the store
func (s *Store) Stats() entity.StoreStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := entity.StoreStats{
		Queues:      len(s.queues),
		Connections: len(s.connections),
	}
	for _, q := range s.queues {
		stats.TotalMessages += len(q.Messages)
	}
	return stats
}

func (s *Store) nextMessageID(now time.Time) string {
	s.messageSeq++
	return fmt.Sprintf("MSG-%08d-%d", s.messageSeq, now.UnixMilli())
}

func (s *Store) nextCorrelationID(now time.Time) string {
	s.correlationSeq++
	return fmt.Sprintf("CORR-%08d-%d", s.correlationSeq, now.UnixMilli())
}

// Connect registers a client connection
func (s *Store) Connect(info entity.ConnectionInfo) entity.Connection {
	conn := entity.Connection{
		ID:          uuid.NewString(),
		Info:        info,
		ConnectedAt: s.now().UTC(),
	}

	s.mu.Lock()
	s.connections[conn.ID] = &connectionState{conn: conn}
	s.mu.Unlock()

	s.logger.Debug("Client connected",
		logger.String("connection_id", conn.ID),
		logger.String("client", info.ClientName),
		logger.String("channel", info.Channel),
	)
	return conn
}

// Disconnect drops a connection and closes every queue handle it held
func (s *Store) Disconnect(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cs, ok := s.connections[id]
	if !ok {
		return false
	}
	for _, h := range cs.handles {
		s.adjustOpenCount(h.queue, h.mode, -1)
	}
	delete(s.connections, id)
	return true
}

// Connections returns the active connections, oldest first
func (s *Store) Connections() []entity.Connection {
	s.mu.Lock()
	conns := make([]entity.Connection, 0, len(s.connections))
	for _, cs := range s.connections {
		conns = append(conns, cs.conn)
	}
	s.mu.Unlock()

	sort.Slice(conns, func(i, j int) bool {
		if conns[i].ConnectedAt.Equal(conns[j].ConnectedAt) {
			return conns[i].ID < conns[j].ID
		}
		return conns[i].ConnectedAt.Before(conns[j].ConnectedAt)
	})
	return conns
}

// OpenQueue records a queue handle opened by a connection
func (s *Store) OpenQueue(connID, queueName, mode string) error {
	if mode != entity.OpenModeInput && mode != entity.OpenModeOutput {
		return ErrInvalidOpenMode
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cs, ok := s.connections[connID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrConnectionNotFound, connID)
	}
	if _, ok := s.queues[queueName]; !ok {
		return fmt.Errorf("%w: %s", ErrQueueNotFound, queueName)
	}
	cs.handles = append(cs.handles, queueHandle{queue: queueName, mode: mode})
	s.adjustOpenCount(queueName, mode, 1)
	return nil
}

// CloseQueue releases one handle previously opened with OpenQueue
func (s *Store) CloseQueue(connID, queueName, mode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cs, ok := s.connections[connID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrConnectionNotFound, connID)
	}
	for i, h := range cs.handles {
		if h.queue == queueName && h.mode == mode {
			cs.handles = append(cs.handles[:i], cs.handles[i+1:]...)
			s.adjustOpenCount(queueName, mode, -1)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrQueueNotFound, queueName)
}

func (s *Store) adjustOpenCount(queueName, mode string, delta int) {
	q, ok := s.queues[queueName]
	if !ok {
		return
	}
	switch mode {
	case entity.OpenModeInput:
		q.OpenInputCount = max(q.OpenInputCount+delta, 0)
	case entity.OpenModeOutput:
		q.OpenOutputCount = max(q.OpenOutputCount+delta, 0)
	}
}
