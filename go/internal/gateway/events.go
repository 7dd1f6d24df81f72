package gateway

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SyncEvent is the base structure for every server-to-client event.
type SyncEvent struct {
	ID        string          `json:"id"`        // Event UUID
	Type      EventType       `json:"type"`      // Event type
	Timestamp time.Time       `json:"timestamp"` // Event creation time
	Data      json.RawMessage `json:"data"`      // Event-specific payload
}

// EventType represents the type of sync event
type EventType string

const (
	EventTypeSyncPulse       EventType = "SyncPulse"
	EventTypeCapsuleUnlocked EventType = "CapsuleUnlocked"
	EventTypeSyncResult      EventType = "SyncResult"
	EventTypeNTPResponse     EventType = "NTPResponse"
	EventTypeRegistered      EventType = "Registered"
	EventTypeServerTime      EventType = "ServerTime"
	EventTypeError           EventType = "Error"
)

// NewSyncEvent wraps a payload into the event envelope. Marshal errors are
// impossible for the payload structs below, so they surface as an empty
// data field rather than a failure.
func NewSyncEvent(eventType EventType, payload interface{}) *SyncEvent {
	data, _ := json.Marshal(payload)
	return &SyncEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// SyncPulsePayload announces a live pulse. All timestamps are epoch
// milliseconds UTC so clients never parse time strings on the hot path.
type SyncPulsePayload struct {
	PulseID               string `json:"pulse_id"`
	ScheduledTimeMs       int64  `json:"scheduled_time_ms"`
	ActualBroadcastTimeMs int64  `json:"actual_broadcast_time_ms,omitempty"`
	ServerTimeMs          int64  `json:"server_time_ms"`
	WindowStartMs         int64  `json:"window_start_ms"`
	WindowEndMs           int64  `json:"window_end_ms"`
	AllowedWindowMs       int64  `json:"allowed_window_ms"`
	Description           string `json:"description"`
}

// CapsuleUnlockedPayload celebrates a user's first successful sync.
type CapsuleUnlockedPayload struct {
	UserID           string `json:"user_id"`
	PulseID          string `json:"pulse_id"`
	UnlockedAtMs     int64  `json:"unlocked_at_ms"`
	TimingAccuracyMs int64  `json:"timing_accuracy_ms"`
	TotalAttempts    int64  `json:"total_attempts"`
}

// SyncResultPayload is the per-session verdict on one sync attempt.
type SyncResultPayload struct {
	AttemptID            string `json:"attempt_id"`
	PulseID              string `json:"pulse_id"`
	Success              bool   `json:"success"`
	TimeDifferenceMs     int64  `json:"time_difference_ms"`
	AdjustedDifferenceMs int64  `json:"adjusted_difference_ms"`
	AllowedWindowMs      int64  `json:"allowed_window_ms"`
	CapsuleUnlocked      bool   `json:"capsule_unlocked"`
	Message              string `json:"message"`
}

// NTPResponsePayload carries the server half of a clock exchange. When the
// client completed a prior exchange, offset and round trip are filled in.
type NTPResponsePayload struct {
	ClientSentMs     int64  `json:"client_sent_ms"`
	ServerReceivedMs int64  `json:"server_received_ms"`
	ServerSentMs     int64  `json:"server_sent_ms"`
	ClockOffsetMs    *int64 `json:"clock_offset_ms,omitempty"`
	RoundTripTimeMs  *int64 `json:"round_trip_time_ms,omitempty"`
}

// RegisteredPayload acknowledges a session registration.
type RegisteredPayload struct {
	UserID       string `json:"user_id"`
	SessionID    string `json:"session_id"`
	ServerTimeMs int64  `json:"server_time_ms"`
}

// ServerTimePayload answers a time request.
type ServerTimePayload struct {
	ServerTimeMs  int64 `json:"server_time_ms"`
	ClockOffsetMs int64 `json:"clock_offset_ms"`
}

// ErrorPayload reports a rejected client message.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ClientMessage is the envelope for every client-to-server message.
type ClientMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Client message types.
const (
	ClientMessageRegister    = "register"
	ClientMessageNTPSync     = "ntp_sync"
	ClientMessageSyncAttempt = "sync_attempt"
	ClientMessageTimeRequest = "time_request"
)

// RegisterMessage binds a user identity to the session.
type RegisterMessage struct {
	UserID string `json:"user_id"`
}

// NTPSyncMessage is one clock exchange. ClientReceivedMs closes the loop on
// a previous exchange; when absent the server only stamps and echoes. The
// server stamps echo the first leg so the estimate covers the wire round
// trip, not the client's think time between legs.
type NTPSyncMessage struct {
	ClientSentMs     int64 `json:"client_sent_ms"`
	ClientReceivedMs int64 `json:"client_received_ms,omitempty"`
	ServerReceivedMs int64 `json:"server_received_ms,omitempty"`
	ServerSentMs     int64 `json:"server_sent_ms,omitempty"`
}

// SyncAttemptMessage is a user's claim to have acted at ClientTimestampMs.
// An empty pulse_id targets the active pulse.
type SyncAttemptMessage struct {
	PulseID           string          `json:"pulse_id,omitempty"`
	ClientTimestampMs int64           `json:"client_timestamp_ms"`
	NetworkLatencyMs  *int64          `json:"network_latency_ms,omitempty"`
	DeviceInfo        json.RawMessage `json:"device_info,omitempty"`
	NTPData           json.RawMessage `json:"ntp_data,omitempty"`
}
