package db

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const createNtpSyncLog = `
INSERT INTO ntp_sync_logs (
    id, user_id, client_sent_time, server_received_time, server_sent_time,
    client_received_time, clock_offset_ms, round_trip_time_ms
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id, user_id, client_sent_time, server_received_time, server_sent_time,
client_received_time, clock_offset_ms, round_trip_time_ms, created_at`

type CreateNtpSyncLogParams struct {
	ID                 uuid.UUID
	UserID             string
	ClientSentTime     time.Time
	ServerReceivedTime time.Time
	ServerSentTime     time.Time
	ClientReceivedTime time.Time
	ClockOffsetMs      int64
	RoundTripTimeMs    int64
}

func (q *Queries) CreateNtpSyncLog(ctx context.Context, arg CreateNtpSyncLogParams) (NtpSyncLog, error) {
	var l NtpSyncLog
	err := q.db.QueryRowContext(ctx, createNtpSyncLog,
		arg.ID,
		arg.UserID,
		arg.ClientSentTime,
		arg.ServerReceivedTime,
		arg.ServerSentTime,
		arg.ClientReceivedTime,
		arg.ClockOffsetMs,
		arg.RoundTripTimeMs,
	).Scan(
		&l.ID,
		&l.UserID,
		&l.ClientSentTime,
		&l.ServerReceivedTime,
		&l.ServerSentTime,
		&l.ClientReceivedTime,
		&l.ClockOffsetMs,
		&l.RoundTripTimeMs,
		&l.CreatedAt,
	)
	return l, err
}
