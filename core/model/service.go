package model

import "time"

// ServiceHandle describes the currently active inference service. At most
// one exists system-wide; it is owned by the supervisor and mirrored into
// the persisted record for later invocations.
type ServiceHandle struct {
	ModelID   string
	Port      int
	PID       int
	StartedAt time.Time
}

// ServiceRecord is the durable serialization of the last known handle.
// Its absence on disk means no service is running.
type ServiceRecord struct {
	Hash      string    `json:"hash"`
	Port      int       `json:"port"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
}

func (r *ServiceRecord) Handle() ServiceHandle {
	return ServiceHandle{
		ModelID:   r.Hash,
		Port:      r.Port,
		PID:       r.PID,
		StartedAt: r.StartedAt,
	}
}
