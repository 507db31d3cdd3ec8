package entity

import "time"

// DefaultMaxDepth is the capacity given to queues created without one
const DefaultMaxDepth = 5000

// Queue types used by imposters to route traffic
const (
	QueueTypeLocal    = "local"
	QueueTypeRequest  = "request"
	QueueTypeResponse = "response"
)

// Queue is the persisted representation of a named FIFO queue
type Queue struct {
	Name            string     `json:"name"`
	Type            string     `json:"type,omitempty"`
	Description     string     `json:"description"`
	MaxDepth        int        `json:"maxDepth"`
	Messages        []*Message `json:"messages"`
	TotalIn         int64      `json:"totalIn"`
	TotalOut        int64      `json:"totalOut"`
	OpenInputCount  int        `json:"openInputCount"`
	OpenOutputCount int        `json:"openOutputCount"`
	CreatedAt       time.Time  `json:"createdAt"`
}

// QueueSpec describes a queue to create
type QueueSpec struct {
	Name        string `yaml:"name" json:"name"`
	Type        string `yaml:"type" json:"type,omitempty"`
	MaxDepth    int    `yaml:"max_depth" json:"maxDepth,omitempty"`
	Description string `yaml:"description" json:"description,omitempty"`
}

// QueueInfo is a listing row
type QueueInfo struct {
	Name         string    `json:"name"`
	Type         string    `json:"type,omitempty"`
	CurrentDepth int       `json:"currentDepth"`
	MaxDepth     int       `json:"maxDepth"`
	Description  string    `json:"description"`
	CreatedAt    time.Time `json:"createdAt"`
}

// QueueDepth reports depth and counters of one queue
type QueueDepth struct {
	CurrentDepth    int   `json:"currentDepth"`
	MaxDepth        int   `json:"maxDepth"`
	TotalIn         int64 `json:"totalIn"`
	TotalOut        int64 `json:"totalOut"`
	OpenInputCount  int   `json:"openInputCount"`
	OpenOutputCount int   `json:"openOutputCount"`
}

// StoreStats summarizes a store for health reporting
type StoreStats struct {
	Queues        int `json:"queues"`
	Connections   int `json:"connections"`
	TotalMessages int `json:"totalMessages"`
}
