package types

import "time"

// EngineInstance tracks a running pipeline engine for multi-instance coordination
type EngineInstance struct {
	InstanceID    string    `json:"instance_id"`
	Hostname      string    `json:"hostname"`
	PID           int       `json:"pid"`
	Status        string    `json:"status"` // "running" or "stopped"
	StartedAt     time.Time `json:"started_at"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	Version       string    `json:"version"`
}
