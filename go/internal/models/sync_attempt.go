package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SyncAttempt is one user's reported action time judged against a pulse.
// Rows are immutable once written; the attempt log is append-only.
type SyncAttempt struct {
	ID                 uuid.UUID       `json:"id"`
	UserID             string          `json:"user_id"`
	PulseID            uuid.UUID       `json:"pulse_id"`
	ClientTimestamp    time.Time       `json:"client_timestamp"`
	ServerTimestamp    time.Time       `json:"server_timestamp"`
	PulseScheduledTime time.Time       `json:"pulse_scheduled_time"`
	TimeDifferenceMs   int64           `json:"time_difference_ms"`
	AllowedWindowMs    int64           `json:"allowed_window_ms"`
	WithinWindow       bool            `json:"within_window"`
	WasSuccessful      bool            `json:"was_successful"`
	NetworkLatencyMs   int64           `json:"network_latency_ms"`
	DeviceInfo         json.RawMessage `json:"device_info,omitempty"`
	NTPData            json.RawMessage `json:"ntp_data,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
}
