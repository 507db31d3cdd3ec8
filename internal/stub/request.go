package stub

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/moroshma/mqsim/internal/domain/entity"
)

// Request is the HTTP-like view of an inbound message that predicates and
// copy behaviors read from. It is built from a copy of the payload, so
// nothing done to it reaches the stored message.
type Request map[string]interface{}

// NewRequest builds the synthetic request for a message read from queueName
func NewRequest(queueName string, msg *entity.Message) (Request, error) {
	if msg == nil {
		return nil, fmt.Errorf("message cannot be nil")
	}

	var body interface{}
	if len(msg.Payload) > 0 {
		if err := json.Unmarshal(msg.Payload, &body); err != nil {
			return nil, fmt.Errorf("failed to decode payload of %s: %w", msg.MessageID, err)
		}
	}

	path := msg.ReplyToQueue
	if path == "" {
		path = "/"
	}

	return Request{
		"method": "PUT",
		"path":   path,
		"queue":  queueName,
		"headers": map[string]interface{}{
			"MessageId":     msg.MessageID,
			"CorrelationId": msg.CorrelationID,
			"Priority":      strconv.Itoa(msg.Priority),
			"Persistence":   strconv.FormatBool(msg.Persistence),
			"Format":        msg.Format,
			"ReplyToQueue":  msg.ReplyToQueue,
			"PutTime":       msg.PutTime.UTC().Format(time.RFC3339Nano),
			"Expiry":        strconv.FormatInt(msg.Expiry, 10),
		},
		"body": body,
	}, nil
}

// Get returns the value at a dotted path
func (r Request) Get(path string) (interface{}, bool) {
	return getPath(map[string]interface{}(r), path)
}
