package db

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

type Pulse struct {
	ID                  uuid.UUID
	ScheduledTime       time.Time
	ActualBroadcastTime sql.NullTime
	WindowStartMs       int64
	WindowEndMs         int64
	IsActive            bool
	Status              string
	Description         string
	TotalAttempts       int64
	SuccessfulAttempts  int64
	ConnectedClients    int32
	CreatedAt           time.Time
}

type SyncAttempt struct {
	ID                 uuid.UUID
	UserID             string
	PulseID            uuid.UUID
	ClientTimestamp    time.Time
	ServerTimestamp    time.Time
	PulseScheduledTime time.Time
	TimeDifferenceMs   int64
	AllowedWindowMs    int64
	WithinWindow       bool
	WasSuccessful      bool
	NetworkLatencyMs   int64
	DeviceInfo         pqtype.NullRawMessage
	NtpData            pqtype.NullRawMessage
	CreatedAt          time.Time
}

type Unlock struct {
	ID                  uuid.UUID
	UserID              string
	PulseID             uuid.UUID
	SuccessfulAttemptID uuid.UUID
	UnlockedAt          time.Time
	TimingAccuracyMs    int64
	TotalAttempts       int64
}

type NtpSyncLog struct {
	ID                 uuid.UUID
	UserID             string
	ClientSentTime     time.Time
	ServerReceivedTime time.Time
	ServerSentTime     time.Time
	ClientReceivedTime time.Time
	ClockOffsetMs      int64
	RoundTripTimeMs    int64
	CreatedAt          time.Time
}
