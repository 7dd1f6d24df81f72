package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

const syncAttemptColumns = `id, user_id, pulse_id, client_timestamp, server_timestamp,
pulse_scheduled_time, time_difference_ms, allowed_window_ms, within_window, was_successful,
network_latency_ms, device_info, ntp_data, created_at`

func scanSyncAttempt(row interface{ Scan(...interface{}) error }) (SyncAttempt, error) {
	var a SyncAttempt
	err := row.Scan(
		&a.ID,
		&a.UserID,
		&a.PulseID,
		&a.ClientTimestamp,
		&a.ServerTimestamp,
		&a.PulseScheduledTime,
		&a.TimeDifferenceMs,
		&a.AllowedWindowMs,
		&a.WithinWindow,
		&a.WasSuccessful,
		&a.NetworkLatencyMs,
		&a.DeviceInfo,
		&a.NtpData,
		&a.CreatedAt,
	)
	return a, err
}

const createSyncAttempt = `
INSERT INTO sync_attempts (
    id, user_id, pulse_id, client_timestamp, server_timestamp, pulse_scheduled_time,
    time_difference_ms, allowed_window_ms, within_window, was_successful,
    network_latency_ms, device_info, ntp_data
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
RETURNING ` + syncAttemptColumns

type CreateSyncAttemptParams struct {
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
}

func (q *Queries) CreateSyncAttempt(ctx context.Context, arg CreateSyncAttemptParams) (SyncAttempt, error) {
	row := q.db.QueryRowContext(ctx, createSyncAttempt,
		arg.ID,
		arg.UserID,
		arg.PulseID,
		arg.ClientTimestamp,
		arg.ServerTimestamp,
		arg.PulseScheduledTime,
		arg.TimeDifferenceMs,
		arg.AllowedWindowMs,
		arg.WithinWindow,
		arg.WasSuccessful,
		arg.NetworkLatencyMs,
		arg.DeviceInfo,
		arg.NtpData,
	)
	return scanSyncAttempt(row)
}

const listSyncAttemptsByUser = `
SELECT ` + syncAttemptColumns + `
FROM sync_attempts
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2`

type ListSyncAttemptsByUserParams struct {
	UserID string
	Limit  int32
}

func (q *Queries) ListSyncAttemptsByUser(ctx context.Context, arg ListSyncAttemptsByUserParams) ([]SyncAttempt, error) {
	rows, err := q.db.QueryContext(ctx, listSyncAttemptsByUser, arg.UserID, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []SyncAttempt
	for rows.Next() {
		a, err := scanSyncAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

const countSyncAttemptsByUser = `SELECT COUNT(*) FROM sync_attempts WHERE user_id = $1`

func (q *Queries) CountSyncAttemptsByUser(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := q.db.QueryRowContext(ctx, countSyncAttemptsByUser, userID).Scan(&count)
	return count, err
}

const getBestSyncAttemptForUser = `
SELECT ` + syncAttemptColumns + `
FROM sync_attempts
WHERE user_id = $1 AND was_successful
ORDER BY ABS(time_difference_ms) ASC, created_at ASC
LIMIT 1`

func (q *Queries) GetBestSyncAttemptForUser(ctx context.Context, userID string) (SyncAttempt, error) {
	return scanSyncAttempt(q.db.QueryRowContext(ctx, getBestSyncAttemptForUser, userID))
}

const getGlobalSyncStats = `
SELECT
    COUNT(*) AS total_attempts,
    COUNT(*) FILTER (WHERE was_successful) AS successful_attempts,
    COUNT(DISTINCT user_id) AS unique_users,
    AVG(time_difference_ms) AS avg_time_difference_ms
FROM sync_attempts
WHERE created_at >= $1`

type GetGlobalSyncStatsRow struct {
	TotalAttempts       int64
	SuccessfulAttempts  int64
	UniqueUsers         int64
	AvgTimeDifferenceMs sql.NullFloat64
}

func (q *Queries) GetGlobalSyncStats(ctx context.Context, since time.Time) (GetGlobalSyncStatsRow, error) {
	var row GetGlobalSyncStatsRow
	err := q.db.QueryRowContext(ctx, getGlobalSyncStats, since).Scan(
		&row.TotalAttempts,
		&row.SuccessfulAttempts,
		&row.UniqueUsers,
		&row.AvgTimeDifferenceMs,
	)
	return row, err
}
