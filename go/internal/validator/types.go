package validator

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/timesync/go/internal/models"
)

// SyncAttemptRequest is one user's claim to have acted at ClientTimestamp.
// A zero PulseID targets the active pulse. NetworkLatencyMs is the
// client-measured round trip; when absent the server falls back to the gap
// between the client stamp and receipt.
type SyncAttemptRequest struct {
	UserID           string
	PulseID          uuid.UUID
	ClientTimestamp  time.Time
	NetworkLatencyMs *int64
	DeviceInfo       json.RawMessage
	NTPData          json.RawMessage
}

// SyncResult is the full verdict on one sync attempt.
type SyncResult struct {
	AttemptID            uuid.UUID `json:"attempt_id"`
	PulseID              uuid.UUID `json:"pulse_id"`
	Success              bool      `json:"success"`
	TimeDifferenceMs     int64     `json:"time_difference_ms"`
	AdjustedDifferenceMs int64     `json:"adjusted_difference_ms"`
	AllowedWindowMs      int64     `json:"allowed_window_ms"`
	WithinWindow         bool      `json:"within_window"`
	NetworkLatencyMs     int64     `json:"network_latency_ms"`
	CapsuleUnlocked      bool      `json:"capsule_unlocked"`
	Message              string    `json:"message"`
}

// NTPSyncRequest carries the four timestamps of one clock exchange. The
// server timestamps are optional; zero values are stamped at receipt.
type NTPSyncRequest struct {
	UserID         string
	ClientSent     time.Time
	ServerReceived time.Time
	ServerSent     time.Time
	ClientReceived time.Time
}

// UserSyncStatus summarizes one user's progress toward an unlock.
type UserSyncStatus struct {
	UserID        string         `json:"user_id"`
	TotalAttempts int64          `json:"total_attempts"`
	Unlocked      bool           `json:"unlocked"`
	Unlock        *models.Unlock `json:"unlock,omitempty"`
}

// GlobalSyncStats aggregates attempt outcomes across all users over a
// trailing window of days.
type GlobalSyncStats struct {
	WindowDays          int      `json:"window_days"`
	TotalAttempts       int64    `json:"total_attempts"`
	SuccessfulAttempts  int64    `json:"successful_attempts"`
	UniqueUsers         int64    `json:"unique_users"`
	TotalUnlocks        int64    `json:"total_unlocks"`
	SuccessRate         float64  `json:"success_rate"`
	AvgTimeDifferenceMs *float64 `json:"avg_time_difference_ms,omitempty"`
}
