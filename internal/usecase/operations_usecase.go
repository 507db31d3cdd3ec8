package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/moroshma/mqsim/internal/domain/entity"
	"github.com/moroshma/mqsim/internal/metrics"
	"github.com/moroshma/mqsim/internal/queue"
	"github.com/moroshma/mqsim/pkg/logger"
)

// Operation names
const (
	OpSend       = "send"
	OpReceive    = "receive"
	OpDepth      = "depth"
	OpHealth     = "health"
	OpList       = "list"
	OpCreate     = "create"
	OpClear      = "clear"
	OpDelete     = "delete"
	OpConnect    = "connect"
	OpDisconnect = "disconnect"
	OpOpen       = "open"
	OpClose      = "close"
)

// Body statuses
const (
	StatusSuccess     = "SUCCESS"
	StatusError       = "ERROR"
	StatusNoMessages  = "NO_MESSAGES"
	StatusQueueExists = "QUEUE_EXISTS"
	StatusRunning     = "RUNNING"
)

// Operations lists every supported operation
var Operations = []string{
	OpSend, OpReceive, OpDepth, OpHealth, OpList, OpCreate, OpClear, OpDelete,
	OpConnect, OpDisconnect, OpOpen, OpClose,
}

// QueueStore defines the store operations the use case needs
type QueueStore interface {
	CreateQueue(spec entity.QueueSpec) (bool, error)
	DeleteQueue(name string) bool
	ListQueues() []entity.QueueInfo
	Depth(name string) (entity.QueueDepth, error)
	ClearQueue(name string) (int, error)
	Put(queueName string, payload json.RawMessage, opts entity.PutOptions) (*entity.Message, error)
	Get(queueName string, opts entity.GetOptions) (*entity.Message, error)
	Stats() entity.StoreStats
	Connect(info entity.ConnectionInfo) entity.Connection
	Disconnect(id string) bool
	Connections() []entity.Connection
	OpenQueue(connID, queueName, mode string) error
	CloseQueue(connID, queueName, mode string) error
}

// SnapshotReporter tells when state was last persisted
type SnapshotReporter interface {
	LastSaved() time.Time
}

// OperationRequest is the JSON body every operation accepts.
// Message and Body are synonyms; Message wins when both are set.
type OperationRequest struct {
	Queue         string          `json:"queue,omitempty"`
	Message       json.RawMessage `json:"message,omitempty"`
	Body          json.RawMessage `json:"body,omitempty"`
	CorrelationID string          `json:"correlationId,omitempty"`
	ReplyQueue    string          `json:"replyQueue,omitempty"`
	Priority      int             `json:"priority,omitempty"`
	Persistence   bool            `json:"persistence,omitempty"`
	Format        string          `json:"format,omitempty"`
	Expiry        int64           `json:"expiry,omitempty"`
	Browse        bool            `json:"browse,omitempty"`
	MaxDepth      int             `json:"maxDepth,omitempty"`
	Description   string          `json:"description,omitempty"`

	ClientName   string `json:"clientName,omitempty"`
	Channel      string `json:"channel,omitempty"`
	Host         string `json:"host,omitempty"`
	Port         int    `json:"port,omitempty"`
	ConnectionID string `json:"connectionId,omitempty"`
	Mode         string `json:"mode,omitempty"` // input or output, for open and close
}

// Envelope is the result of an operation. StatusCode follows HTTP
// conventions whatever the transport.
type Envelope struct {
	StatusCode int                    `json:"statusCode"`
	Headers    map[string]string      `json:"headers"`
	Body       map[string]interface{} `json:"body"`
}

// Config holds the queue manager identity reported by health
type Config struct {
	QueueManager string
	Version      string
	// Snapshots adds lastSaved to health when set
	Snapshots SnapshotReporter
}

// OperationsUseCase executes queue operations against one store
type OperationsUseCase struct {
	store   QueueStore
	cfg     Config
	metrics *metrics.Metrics
	logger  *logger.Logger
	now     func() time.Time
}

// NewOperationsUseCase creates a new operations use case
func NewOperationsUseCase(store QueueStore, cfg Config, m *metrics.Metrics, log *logger.Logger) *OperationsUseCase {
	if log == nil {
		log = logger.NewNop()
	}
	return &OperationsUseCase{
		store:   store,
		cfg:     cfg,
		metrics: m,
		logger:  log,
		now:     time.Now,
	}
}

// Execute runs one operation. It never fails: every outcome, including
// bad input, is described by the envelope.
func (uc *OperationsUseCase) Execute(ctx context.Context, operation string, req *OperationRequest) *Envelope {
	if req == nil {
		req = &OperationRequest{}
	}

	var env *Envelope
	if err := ctx.Err(); err != nil {
		env = uc.failure(operation, http.StatusInternalServerError, err)
	} else {
		env = uc.dispatch(operation, req)
	}

	uc.metrics.ObserveOperation(operation, env.StatusCode)
	if env.StatusCode >= http.StatusInternalServerError {
		uc.logger.Error("Operation failed",
			logger.String("operation", operation),
			logger.String("queue", req.Queue),
			logger.Int("status_code", env.StatusCode),
		)
	} else {
		uc.logger.Debug("Operation executed",
			logger.String("operation", operation),
			logger.String("queue", req.Queue),
			logger.Int("status_code", env.StatusCode),
		)
	}
	return env
}

func (uc *OperationsUseCase) dispatch(operation string, req *OperationRequest) *Envelope {
	switch operation {
	case OpSend:
		return uc.send(req)
	case OpReceive:
		return uc.receive(req)
	case OpDepth:
		return uc.depth(req)
	case OpHealth:
		return uc.health()
	case OpList:
		return uc.list()
	case OpCreate:
		return uc.create(req)
	case OpClear:
		return uc.clear(req)
	case OpDelete:
		return uc.remove(req)
	case OpConnect:
		return uc.connect(req)
	case OpDisconnect:
		return uc.disconnect(req)
	case OpOpen:
		return uc.openQueue(req)
	case OpClose:
		return uc.closeQueue(req)
	}
	return uc.failure(operation, http.StatusBadRequest, fmt.Errorf("unknown operation %q", operation))
}

func (uc *OperationsUseCase) send(req *OperationRequest) *Envelope {
	if req.Queue == "" {
		return uc.failure(OpSend, http.StatusBadRequest, errQueueRequired)
	}
	payload := req.Message
	if len(payload) == 0 {
		payload = req.Body
	}

	msg, err := uc.store.Put(req.Queue, payload, entity.PutOptions{
		CorrelationID: req.CorrelationID,
		ReplyToQueue:  req.ReplyQueue,
		Priority:      req.Priority,
		Persistence:   req.Persistence,
		Format:        req.Format,
		Expiry:        req.Expiry,
	})
	if err != nil {
		return uc.storeFailure(OpSend, err)
	}

	return uc.success(OpSend, http.StatusOK, map[string]interface{}{
		"queue":         req.Queue,
		"messageId":     msg.MessageID,
		"correlationId": msg.CorrelationID,
		"putTime":       msg.PutTime.Format(time.RFC3339Nano),
	})
}

func (uc *OperationsUseCase) receive(req *OperationRequest) *Envelope {
	if req.Queue == "" {
		return uc.failure(OpReceive, http.StatusBadRequest, errQueueRequired)
	}

	msg, err := uc.store.Get(req.Queue, entity.GetOptions{Browse: req.Browse})
	if err != nil {
		return uc.storeFailure(OpReceive, err)
	}
	if msg == nil {
		return uc.envelope(http.StatusNoContent, map[string]interface{}{
			"status":    StatusNoMessages,
			"operation": OpReceive,
			"queue":     req.Queue,
			"message":   "No messages available",
		})
	}

	return uc.success(OpReceive, http.StatusOK, map[string]interface{}{
		"queue":   req.Queue,
		"browse":  req.Browse,
		"message": messageBody(msg),
	})
}

func (uc *OperationsUseCase) depth(req *OperationRequest) *Envelope {
	if req.Queue == "" {
		return uc.failure(OpDepth, http.StatusBadRequest, errQueueRequired)
	}

	d, err := uc.store.Depth(req.Queue)
	if err != nil {
		return uc.storeFailure(OpDepth, err)
	}

	return uc.success(OpDepth, http.StatusOK, map[string]interface{}{
		"queue":           req.Queue,
		"currentDepth":    d.CurrentDepth,
		"maxDepth":        d.MaxDepth,
		"totalIn":         d.TotalIn,
		"totalOut":        d.TotalOut,
		"openInputCount":  d.OpenInputCount,
		"openOutputCount": d.OpenOutputCount,
	})
}

func (uc *OperationsUseCase) health() *Envelope {
	stats := uc.store.Stats()

	conns := uc.store.Connections()
	clients := make([]interface{}, 0, len(conns))
	for _, c := range conns {
		clients = append(clients, map[string]interface{}{
			"connectionId": c.ID,
			"clientName":   c.Info.ClientName,
			"channel":      c.Info.Channel,
			"connectedAt":  c.ConnectedAt.Format(time.RFC3339Nano),
		})
	}

	body := map[string]interface{}{
		"status":        StatusRunning,
		"operation":     OpHealth,
		"queueManager":  uc.cfg.QueueManager,
		"queues":        stats.Queues,
		"connections":   stats.Connections,
		"clients":       clients,
		"totalMessages": stats.TotalMessages,
		"version":       uc.cfg.Version,
		"platform":      runtime.GOOS + "/" + runtime.GOARCH,
	}
	if uc.cfg.Snapshots != nil {
		if saved := uc.cfg.Snapshots.LastSaved(); !saved.IsZero() {
			body["lastSaved"] = saved.UTC().Format(time.RFC3339Nano)
		}
	}
	return uc.envelope(http.StatusOK, body)
}

func (uc *OperationsUseCase) list() *Envelope {
	queues := uc.store.ListQueues()
	rows := make([]interface{}, 0, len(queues))
	for _, q := range queues {
		rows = append(rows, map[string]interface{}{
			"name":         q.Name,
			"currentDepth": q.CurrentDepth,
			"maxDepth":     q.MaxDepth,
			"description":  q.Description,
			"createdAt":    q.CreatedAt.Format(time.RFC3339Nano),
		})
	}
	return uc.success(OpList, http.StatusOK, map[string]interface{}{
		"queues": rows,
		"count":  len(rows),
	})
}

func (uc *OperationsUseCase) create(req *OperationRequest) *Envelope {
	if req.Queue == "" {
		return uc.failure(OpCreate, http.StatusBadRequest, errQueueRequired)
	}

	maxDepth := req.MaxDepth
	if maxDepth <= 0 {
		maxDepth = entity.DefaultMaxDepth
	}
	created, err := uc.store.CreateQueue(entity.QueueSpec{
		Name:        req.Queue,
		MaxDepth:    maxDepth,
		Description: req.Description,
	})
	if err != nil {
		return uc.storeFailure(OpCreate, err)
	}
	if !created {
		return uc.envelope(http.StatusConflict, map[string]interface{}{
			"status":    StatusQueueExists,
			"operation": OpCreate,
			"queue":     req.Queue,
			"message":   fmt.Sprintf("Queue %s already exists", req.Queue),
		})
	}

	return uc.success(OpCreate, http.StatusCreated, map[string]interface{}{
		"queue":       req.Queue,
		"maxDepth":    maxDepth,
		"description": req.Description,
	})
}

func (uc *OperationsUseCase) clear(req *OperationRequest) *Envelope {
	if req.Queue == "" {
		return uc.failure(OpClear, http.StatusBadRequest, errQueueRequired)
	}

	cleared, err := uc.store.ClearQueue(req.Queue)
	if err != nil {
		return uc.storeFailure(OpClear, err)
	}

	return uc.success(OpClear, http.StatusOK, map[string]interface{}{
		"queue":        req.Queue,
		"clearedCount": cleared,
	})
}

func (uc *OperationsUseCase) remove(req *OperationRequest) *Envelope {
	if req.Queue == "" {
		return uc.failure(OpDelete, http.StatusBadRequest, errQueueRequired)
	}
	if !uc.store.DeleteQueue(req.Queue) {
		return uc.storeFailure(OpDelete, fmt.Errorf("%w: %s", queue.ErrQueueNotFound, req.Queue))
	}
	return uc.success(OpDelete, http.StatusOK, map[string]interface{}{
		"queue": req.Queue,
	})
}

func (uc *OperationsUseCase) connect(req *OperationRequest) *Envelope {
	conn := uc.store.Connect(entity.ConnectionInfo{
		ClientName: req.ClientName,
		Channel:    req.Channel,
		Host:       req.Host,
		Port:       req.Port,
	})
	return uc.success(OpConnect, http.StatusOK, map[string]interface{}{
		"connectionId": conn.ID,
		"queueManager": uc.cfg.QueueManager,
		"connectedAt":  conn.ConnectedAt.Format(time.RFC3339Nano),
	})
}

func (uc *OperationsUseCase) disconnect(req *OperationRequest) *Envelope {
	if req.ConnectionID == "" {
		return uc.failure(OpDisconnect, http.StatusBadRequest, errors.New("connectionId is required"))
	}
	if !uc.store.Disconnect(req.ConnectionID) {
		return uc.failure(OpDisconnect, http.StatusBadRequest, fmt.Errorf("%w: %s", queue.ErrConnectionNotFound, req.ConnectionID))
	}
	return uc.success(OpDisconnect, http.StatusOK, map[string]interface{}{
		"connectionId": req.ConnectionID,
	})
}

func (uc *OperationsUseCase) openQueue(req *OperationRequest) *Envelope {
	if env := uc.checkHandle(OpOpen, req); env != nil {
		return env
	}
	if err := uc.store.OpenQueue(req.ConnectionID, req.Queue, req.Mode); err != nil {
		return uc.storeFailure(OpOpen, err)
	}
	return uc.success(OpOpen, http.StatusOK, map[string]interface{}{
		"connectionId": req.ConnectionID,
		"queue":        req.Queue,
		"mode":         req.Mode,
	})
}

func (uc *OperationsUseCase) closeQueue(req *OperationRequest) *Envelope {
	if env := uc.checkHandle(OpClose, req); env != nil {
		return env
	}
	if err := uc.store.CloseQueue(req.ConnectionID, req.Queue, req.Mode); err != nil {
		return uc.storeFailure(OpClose, err)
	}
	return uc.success(OpClose, http.StatusOK, map[string]interface{}{
		"connectionId": req.ConnectionID,
		"queue":        req.Queue,
		"mode":         req.Mode,
	})
}

func (uc *OperationsUseCase) checkHandle(operation string, req *OperationRequest) *Envelope {
	if req.ConnectionID == "" {
		return uc.failure(operation, http.StatusBadRequest, errors.New("connectionId is required"))
	}
	if req.Queue == "" {
		return uc.failure(operation, http.StatusBadRequest, errQueueRequired)
	}
	return nil
}

var errQueueRequired = errors.New("queue is required")

// StatusCodeFor maps a store error to its status code
func StatusCodeFor(err error) int {
	switch {
	case errors.Is(err, queue.ErrQueueFull):
		return http.StatusServiceUnavailable
	case errors.Is(err, queue.ErrQueueNotFound),
		errors.Is(err, queue.ErrInvalidQueueName),
		errors.Is(err, queue.ErrInvalidPayload),
		errors.Is(err, queue.ErrConnectionNotFound),
		errors.Is(err, queue.ErrInvalidOpenMode):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (uc *OperationsUseCase) storeFailure(operation string, err error) *Envelope {
	return uc.failure(operation, StatusCodeFor(err), err)
}

func (uc *OperationsUseCase) failure(operation string, code int, err error) *Envelope {
	return uc.envelope(code, map[string]interface{}{
		"status":    StatusError,
		"operation": operation,
		"error":     err.Error(),
	})
}

func (uc *OperationsUseCase) success(operation string, code int, fields map[string]interface{}) *Envelope {
	fields["status"] = StatusSuccess
	fields["operation"] = operation
	return uc.envelope(code, fields)
}

func (uc *OperationsUseCase) envelope(code int, body map[string]interface{}) *Envelope {
	body["timestamp"] = uc.now().UTC().Format(time.RFC3339Nano)
	return &Envelope{
		StatusCode: code,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       body,
	}
}

func messageBody(msg *entity.Message) map[string]interface{} {
	return map[string]interface{}{
		"messageId":     msg.MessageID,
		"correlationId": msg.CorrelationID,
		"payload":       msg.Payload,
		"putTime":       msg.PutTime.Format(time.RFC3339Nano),
		"priority":      msg.Priority,
		"persistence":   msg.Persistence,
		"format":        msg.Format,
		"replyToQueue":  msg.ReplyToQueue,
		"expiry":        msg.Expiry,
	}
}
