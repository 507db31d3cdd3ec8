package entity

import (
	"encoding/json"
	"time"
)

// Default message attributes applied when a put does not specify them
const (
	DefaultFormat = "MQSTR"
	NoExpiry      = -1
)

// Message represents a message resident in a queue.
// A queued message is never modified; the store hands out copies.
type Message struct {
	MessageID     string          `json:"messageId"`
	CorrelationID string          `json:"correlationId"`
	Payload       json.RawMessage `json:"payload"`
	PutTime       time.Time       `json:"putTime"`
	Priority      int             `json:"priority"`
	Persistence   bool            `json:"persistence"`
	Format        string          `json:"format"`
	ReplyToQueue  string          `json:"replyToQueue,omitempty"`
	Expiry        int64           `json:"expiry"`
}

// Clone returns a deep copy of the message
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	if m.Payload != nil {
		c.Payload = append(json.RawMessage(nil), m.Payload...)
	}
	return &c
}

// PutOptions carries the caller supplied metadata of a put
type PutOptions struct {
	CorrelationID string
	ReplyToQueue  string
	Priority      int
	Persistence   bool
	Format        string
	Expiry        int64
}

// GetOptions controls a get. Browse leaves the message in place.
type GetOptions struct {
	Browse bool
}
