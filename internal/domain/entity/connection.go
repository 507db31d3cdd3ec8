package entity

import "time"

// Open modes for a queue handle held by a connection
const (
	OpenModeInput  = "input"
	OpenModeOutput = "output"
)

// ConnectionInfo is the client metadata presented on connect
type ConnectionInfo struct {
	ClientName string `json:"clientName"`
	Channel    string `json:"channel"`
	Host       string `json:"host"`
	Port       int    `json:"port"`
}

// Connection is an ephemeral client session. It owns no messages.
type Connection struct {
	ID          string         `json:"id"`
	Info        ConnectionInfo `json:"info"`
	ConnectedAt time.Time      `json:"connectedAt"`
}
