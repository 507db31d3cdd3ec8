package queue

import (
	"github.com/moroshma/mqsim/internal/domain/entity"
	"github.com/moroshma/mqsim/pkg/logger"
)

// Snapshot returns a deep copy of the whole store state
func (s *Store) Snapshot() entity.State {
	s.mu.Lock()
	defer s.mu.Unlock()

	queues := make([]*entity.Queue, 0, len(s.order))
	for _, name := range s.order {
		q := *s.queues[name]
		q.Messages = make([]*entity.Message, len(s.queues[name].Messages))
		for i, m := range s.queues[name].Messages {
			q.Messages[i] = m.Clone()
		}
		queues = append(queues, &q)
	}

	return entity.State{
		Queues:        queues,
		MessageID:     s.messageSeq,
		CorrelationID: s.correlationSeq,
		LastSaved:     s.now().UTC(),
	}
}

// Restore replaces the whole store state. Connections do not survive a
// restart, so open handle counts start at zero. A queue holding more
// messages than its maxDepth keeps them all and has its maxDepth raised.
func (s *Store) Restore(state entity.State) {
	var raised []string

	s.mu.Lock()
	s.queues = make(map[string]*entity.Queue, len(state.Queues))
	s.order = s.order[:0]
	for _, q := range state.Queues {
		if q == nil || q.Name == "" {
			continue
		}
		if _, dup := s.queues[q.Name]; dup {
			continue
		}
		restored := *q
		if restored.MaxDepth <= 0 {
			restored.MaxDepth = entity.DefaultMaxDepth
		}
		if restored.Type == "" {
			restored.Type = entity.QueueTypeLocal
		}
		restored.Messages = make([]*entity.Message, 0, len(q.Messages))
		for _, m := range q.Messages {
			if m != nil {
				restored.Messages = append(restored.Messages, m.Clone())
			}
		}
		if len(restored.Messages) > restored.MaxDepth {
			restored.MaxDepth = len(restored.Messages)
			raised = append(raised, q.Name)
		}
		restored.OpenInputCount = 0
		restored.OpenOutputCount = 0
		s.queues[q.Name] = &restored
		s.order = append(s.order, q.Name)
	}
	s.messageSeq = state.MessageID
	s.correlationSeq = state.CorrelationID
	s.connections = make(map[string]*connectionState)
	count := len(s.order)
	s.mu.Unlock()

	for _, name := range raised {
		s.logger.Warn("Restored queue exceeded its max depth, max depth raised",
			logger.String("queue", name),
		)
	}
	s.logger.Info("Store state restored",
		logger.Int("queues", count),
		logger.Int64("message_seq", state.MessageID),
	)
}
