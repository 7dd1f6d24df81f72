package models

import (
	"time"

	"github.com/google/uuid"
)

// PulseStatus represents the lifecycle state of a pulse
type PulseStatus string

const (
	PulseStatusScheduled PulseStatus = "SCHEDULED"
	PulseStatusBroadcast PulseStatus = "BROADCAST"
	PulseStatusExpired   PulseStatus = "EXPIRED"
)

// Pulse represents a scheduled, time-boxed synchronization event.
// At most one pulse is active at a time. Pulses are never deleted; an
// expired pulse stays in history with its final statistics.
type Pulse struct {
	ID                  uuid.UUID   `json:"id"`
	ScheduledTime       time.Time   `json:"scheduled_time"`
	ActualBroadcastTime *time.Time  `json:"actual_broadcast_time,omitempty"`
	WindowStartMs       int64       `json:"window_start_ms"`
	WindowEndMs         int64       `json:"window_end_ms"`
	IsActive            bool        `json:"is_active"`
	Status              PulseStatus `json:"status"`
	Description         string      `json:"description"`
	TotalAttempts       int64       `json:"total_attempts"`
	SuccessfulAttempts  int64       `json:"successful_attempts"`
	ConnectedClients    int         `json:"connected_clients"`
	CreatedAt           time.Time   `json:"created_at"`
}

// AllowedWindowMs is the total tolerance applied to attempts against this pulse.
func (p *Pulse) AllowedWindowMs() int64 {
	return p.WindowStartMs + p.WindowEndMs
}
