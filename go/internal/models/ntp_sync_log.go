package models

import (
	"time"

	"github.com/google/uuid"
)

// NTPSyncLog is write-only telemetry for one four-timestamp clock exchange.
type NTPSyncLog struct {
	ID                 uuid.UUID `json:"id"`
	UserID             string    `json:"user_id"`
	ClientSentTime     time.Time `json:"client_sent_time"`
	ServerReceivedTime time.Time `json:"server_received_time"`
	ServerSentTime     time.Time `json:"server_sent_time"`
	ClientReceivedTime time.Time `json:"client_received_time"`
	ClockOffsetMs      int64     `json:"clock_offset_ms"`
	RoundTripTimeMs    int64     `json:"round_trip_time_ms"`
	CreatedAt          time.Time `json:"created_at"`
}
