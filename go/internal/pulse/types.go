package pulse

import (
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/timesync/go/internal/models"
)

// CreatePulseRequest is the repository-level shape of a new pulse row.
type CreatePulseRequest struct {
	ID                  uuid.UUID
	ScheduledTime       time.Time
	ActualBroadcastTime *time.Time
	WindowStartMs       int64
	WindowEndMs         int64
	IsActive            bool
	Status              models.PulseStatus
	Description         string
	ConnectedClients    int
}

// NextPulseInfo describes the next pulse clients should expect.
type NextPulseInfo struct {
	ScheduledTime     time.Time     `json:"scheduled_time"`
	MillisecondsUntil int64         `json:"milliseconds_until"`
	Source            string        `json:"source"` // "daily" or "custom"
	Pulse             *models.Pulse `json:"pulse,omitempty"`
}

// PulseStats aggregates pulse outcomes over a trailing window of days.
type PulseStats struct {
	WindowDays         int     `json:"window_days"`
	TotalPulses        int     `json:"total_pulses"`
	TotalAttempts      int64   `json:"total_attempts"`
	SuccessfulAttempts int64   `json:"successful_attempts"`
	SuccessRate        float64 `json:"success_rate"`
}
