package imposter

import (
	"context"
	"time"

	"github.com/moroshma/mqsim/internal/domain/entity"
	"github.com/moroshma/mqsim/pkg/logger"
)

// Start launches the dispatcher that drains request queues
func (i *Imposter) Start() {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.running {
		return
	}
	i.running = true

	ctx, cancel := context.WithCancel(context.Background())
	i.cancel = cancel

	i.logger.Info("Starting imposter dispatcher", logger.Duration("poll_interval", i.pollInterval))

	i.loopWg.Add(1)
	go i.loop(ctx)
}

// Stop stops polling, cancels in-flight messages and waits for them
func (i *Imposter) Stop() {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.running {
		return
	}

	i.cancel()
	i.loopWg.Wait()
	i.workWg.Wait()
	i.running = false
	i.logger.Info("Imposter dispatcher stopped")
}

func (i *Imposter) loop(ctx context.Context) {
	defer i.loopWg.Done()

	ticker := time.NewTicker(i.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			i.poll(ctx)
		}
	}
}

// poll consumes every waiting request message. Each message is processed on
// its own goroutine so a wait behavior delays only that message.
func (i *Imposter) poll(ctx context.Context) {
	for _, q := range i.cfg.Queues {
		if q.Type != entity.QueueTypeRequest {
			continue
		}
		for ctx.Err() == nil {
			msg, err := i.store.Get(q.Name, entity.GetOptions{})
			if err != nil {
				i.logger.Error("Failed to read request queue", logger.String("queue", q.Name), logger.Error(err))
				break
			}
			if msg == nil {
				break
			}

			i.workWg.Add(1)
			go func(queueName string, msg *entity.Message) {
				defer i.workWg.Done()
				i.process(ctx, queueName, msg)
			}(q.Name, msg)
		}
	}
}

func (i *Imposter) process(ctx context.Context, requestQueue string, msg *entity.Message) {
	response, err := i.Respond(ctx, requestQueue, msg)
	if err != nil {
		i.logger.Error("Failed to build response", logger.String("message_id", msg.MessageID), logger.Error(err))
		return
	}

	destination := i.destination(msg)
	if destination == "" {
		i.logger.Warn("No response queue, dropping response",
			logger.String("message_id", msg.MessageID),
			logger.String("reply_to", msg.ReplyToQueue),
		)
		return
	}

	out, err := i.store.Put(destination, response.Payload, entity.PutOptions{
		CorrelationID: response.CorrelationID,
		Format:        response.Format,
		Expiry:        response.Expiry,
	})
	if err != nil {
		i.logger.Error("Failed to put response",
			logger.String("message_id", msg.MessageID),
			logger.String("queue", destination),
			logger.Error(err),
		)
		return
	}

	i.logger.Debug("Response sent",
		logger.String("request_id", msg.MessageID),
		logger.String("response_id", out.MessageID),
		logger.String("queue", destination),
	)
}

// destination picks the reply-to queue when the imposter has it, else the
// first response queue
func (i *Imposter) destination(msg *entity.Message) string {
	if msg.ReplyToQueue != "" && i.store.HasQueue(msg.ReplyToQueue) {
		return msg.ReplyToQueue
	}
	for _, q := range i.cfg.Queues {
		if q.Type == entity.QueueTypeResponse {
			return q.Name
		}
	}
	return ""
}
