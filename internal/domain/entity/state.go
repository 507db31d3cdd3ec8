package entity

import "time"

// State is a whole-store snapshot
type State struct {
	Queues        []*Queue
	MessageID     int64
	CorrelationID int64
	LastSaved     time.Time
}
