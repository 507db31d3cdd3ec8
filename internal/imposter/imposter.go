// Package imposter runs stubbed queue managers. Each imposter owns a private
// queue store, consumes its request queues and answers every message with
// the response of the first matching stub.
package imposter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/moroshma/mqsim/internal/domain/entity"
	"github.com/moroshma/mqsim/internal/metrics"
	"github.com/moroshma/mqsim/internal/queue"
	"github.com/moroshma/mqsim/internal/stub"
	"github.com/moroshma/mqsim/internal/usecase"
	"github.com/moroshma/mqsim/pkg/logger"
)

// DefaultPollInterval is how often request queues are checked
const DefaultPollInterval = 50 * time.Millisecond

// Options carries the dependencies shared by every imposter
type Options struct {
	Logger       *logger.Logger
	Metrics      *metrics.Metrics
	PollInterval time.Duration
}

// Info summarizes an imposter for listings
type Info struct {
	Port             int                `json:"port"`
	Protocol         string             `json:"protocol"`
	Name             string             `json:"name,omitempty"`
	MQ               MQSettings         `json:"mq"`
	Queues           []entity.QueueInfo `json:"queues"`
	Stubs            int                `json:"stubs"`
	NumberOfRequests int64              `json:"numberOfRequests"`
}

// Imposter is one running stubbed queue manager
type Imposter struct {
	cfg     Config
	stubs   []*stub.Stub
	store   *queue.Store
	ops     *usecase.OperationsUseCase
	logger  *logger.Logger
	metrics *metrics.Metrics
	label   string
	now     func() time.Time

	pollInterval time.Duration
	requests     atomic.Int64

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	loopWg  sync.WaitGroup
	workWg  sync.WaitGroup
}

// New validates cfg and builds an imposter with its declared queues.
// The dispatcher is not started.
func New(cfg Config, opts Options) (*Imposter, error) {
	stubs, err := compile(cfg)
	if err != nil {
		return nil, err
	}

	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}

	label := strconv.Itoa(cfg.Port)
	log = log.Named("imposter").WithFields(map[string]interface{}{
		"port":          cfg.Port,
		"queue_manager": cfg.MQ.QueueManager,
	})

	store := queue.NewStore(log, nil)
	for _, q := range cfg.Queues {
		if _, err := store.CreateQueue(q.Spec()); err != nil {
			return nil, fmt.Errorf("failed to create queue %s: %w", q.Name, err)
		}
	}

	ops := usecase.NewOperationsUseCase(store, usecase.Config{
		QueueManager: cfg.MQ.QueueManager,
	}, opts.Metrics, log.Named("operations"))

	return &Imposter{
		cfg:          cfg,
		stubs:        stubs,
		store:        store,
		ops:          ops,
		logger:       log,
		metrics:      opts.Metrics,
		label:        label,
		now:          time.Now,
		pollInterval: pollInterval,
	}, nil
}

// Port returns the imposter's identifying port
func (i *Imposter) Port() int {
	return i.cfg.Port
}

// Config returns the configuration the imposter was built from
func (i *Imposter) Config() Config {
	return i.cfg
}

// Store returns the imposter's private queue store
func (i *Imposter) Store() *queue.Store {
	return i.store
}

// Execute runs a queue operation against the imposter's own queues. A send
// to a request queue is picked up by the dispatcher; its reply is read back
// with a receive on the reply or response queue.
func (i *Imposter) Execute(ctx context.Context, operation string, req *usecase.OperationRequest) *usecase.Envelope {
	return i.ops.Execute(ctx, operation, req)
}

// Info returns a listing summary
func (i *Imposter) Info() Info {
	return Info{
		Port:             i.cfg.Port,
		Protocol:         i.cfg.Protocol,
		Name:             i.cfg.Name,
		MQ:               i.cfg.MQ,
		Queues:           i.store.ListQueues(),
		Stubs:            len(i.stubs),
		NumberOfRequests: i.requests.Load(),
	}
}

// Respond produces the outbound message for msg read from requestQueue.
// Processing failures become ERROR payloads; the returned error is set only
// when no payload at all could be produced. The outbound message carries the
// inbound correlation id; its message id is assigned when it is put.
func (i *Imposter) Respond(ctx context.Context, requestQueue string, msg *entity.Message) (*entity.Message, error) {
	if msg == nil {
		return nil, errors.New("message cannot be nil")
	}
	start := i.now()
	i.requests.Add(1)

	payload, result := i.render(ctx, requestQueue, msg)
	i.metrics.ObserveStub(i.label, result, i.now().Sub(start))

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode response for %s: %w", msg.MessageID, err)
	}

	return &entity.Message{
		CorrelationID: msg.CorrelationID,
		Payload:       data,
		PutTime:       i.now().UTC(),
		Format:        entity.DefaultFormat,
		Expiry:        entity.NoExpiry,
	}, nil
}

func (i *Imposter) render(ctx context.Context, requestQueue string, msg *entity.Message) (interface{}, string) {
	req, err := stub.NewRequest(requestQueue, msg)
	if err != nil {
		return i.failure(msg, err), metrics.ResultError
	}

	matched, index, ok := stub.Match(i.stubs, req)
	if !ok {
		i.logger.Debug("No stub matched", logger.String("message_id", msg.MessageID))
		return stub.NoMatchResponse(msg.MessageID, i.now()), metrics.ResultNoMatch
	}

	response := matched.NextResponse()
	i.logger.Debug("Stub matched",
		logger.String("message_id", msg.MessageID),
		logger.Int("stub", index),
		logger.String("kind", response.Kind()),
	)

	var out interface{}
	switch response.Kind() {
	case stub.KindProxy:
		out, err = i.forward(ctx, req, response, msg)
	default:
		out, err = response.Render(ctx, req)
	}
	if err != nil {
		return i.failure(msg, err), metrics.ResultError
	}
	return out, metrics.ResultMatched
}

// forward puts the inbound payload on the proxy queue and acknowledges it
func (i *Imposter) forward(ctx context.Context, req stub.Request, response *stub.Response, msg *entity.Message) (interface{}, error) {
	forwarded, err := i.store.Put(response.ProxyQueue(), msg.Payload, entity.PutOptions{
		CorrelationID: msg.CorrelationID,
		ReplyToQueue:  msg.ReplyToQueue,
		Priority:      msg.Priority,
		Persistence:   msg.Persistence,
		Format:        msg.Format,
		Expiry:        msg.Expiry,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to forward to %s: %w", response.ProxyQueue(), err)
	}

	return response.ApplyBehaviors(ctx, req, map[string]interface{}{
		"status":             "FORWARDED",
		"forwardedTo":        response.ProxyQueue(),
		"forwardedMessageId": forwarded.MessageID,
	})
}

func (i *Imposter) failure(msg *entity.Message, err error) map[string]interface{} {
	i.logger.Warn("Failed to process message",
		logger.String("message_id", msg.MessageID),
		logger.Error(err),
	)
	return stub.ErrorResponse(msg.MessageID, err, i.now())
}
