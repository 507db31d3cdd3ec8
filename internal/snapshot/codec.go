// Package snapshot encodes whole-store state documents and moves them
// between a queue.Store and a SnapshotRepository.
package snapshot

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/moroshma/mqsim/internal/domain/entity"
)

// document is the persisted shape:
// {"queues": [[name, queue], ...], "messageId": n, "correlationId": n, "lastSaved": "..."}
type document struct {
	Queues        []queueEntry `json:"queues"`
	MessageID     int64        `json:"messageId"`
	CorrelationID int64        `json:"correlationId"`
	LastSaved     time.Time    `json:"lastSaved"`
}

// queueEntry is a [name, queue] pair
type queueEntry struct {
	Name  string
	Queue *entity.Queue
}

func (e queueEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{e.Name, e.Queue})
}

func (e *queueEntry) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("queue entry must be a [name, queue] pair: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("queue entry must have 2 elements, got %d", len(pair))
	}
	if err := json.Unmarshal(pair[0], &e.Name); err != nil {
		return fmt.Errorf("invalid queue name: %w", err)
	}
	e.Queue = &entity.Queue{}
	if err := json.Unmarshal(pair[1], e.Queue); err != nil {
		return fmt.Errorf("invalid queue %q: %w", e.Name, err)
	}
	// The pair name is the key; the inner name is informational
	if e.Name != "" {
		e.Queue.Name = e.Name
	}
	return nil
}

// Encode serializes a state
func Encode(state entity.State) ([]byte, error) {
	doc := document{
		Queues:        make([]queueEntry, 0, len(state.Queues)),
		MessageID:     state.MessageID,
		CorrelationID: state.CorrelationID,
		LastSaved:     state.LastSaved,
	}
	for _, q := range state.Queues {
		doc.Queues = append(doc.Queues, queueEntry{Name: q.Name, Queue: q})
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return data, nil
}

// Decode parses a state document
func Decode(data []byte) (entity.State, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return entity.State{}, fmt.Errorf("failed to decode snapshot: %w", err)
	}

	state := entity.State{
		Queues:        make([]*entity.Queue, 0, len(doc.Queues)),
		MessageID:     doc.MessageID,
		CorrelationID: doc.CorrelationID,
		LastSaved:     doc.LastSaved,
	}
	for _, e := range doc.Queues {
		state.Queues = append(state.Queues, e.Queue)
	}
	return state, nil
}
