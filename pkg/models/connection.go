package models

import "time"

// ConnectionStatus is the health of a registered field connection.
type ConnectionStatus string

const (
	ConnectionConnected    ConnectionStatus = "connected"
	ConnectionDisconnected ConnectionStatus = "disconnected"
)

// ScadaConnection describes one registered feed from a control system.
// Connections are registered at startup and only ever marked disconnected,
// never deleted.
type ScadaConnection struct {
	ConnectionID  string           `json:"connection_id"`
	System        SourceSystem     `json:"system"`
	Node          string           `json:"node,omitempty"`
	Address       string           `json:"address,omitempty"`
	Protocol      string           `json:"protocol,omitempty"`
	Status        ConnectionStatus `json:"status"`
	LastHeartbeat time.Time        `json:"last_heartbeat,omitempty"`
}
