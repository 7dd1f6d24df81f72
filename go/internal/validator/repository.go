package validator

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/timesync/go/internal/db"
	"github.com/mcdev12/timesync/go/internal/models"
	"github.com/mcdev12/timesync/go/internal/sqlutil"
)

// CreateSyncAttemptRequest is the repository-level shape of a judged attempt.
type CreateSyncAttemptRequest struct {
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
	DeviceInfo         json.RawMessage
	NTPData            json.RawMessage
}

// Repository implements sync attempt, unlock and NTP log data access.
// Unlock creation runs in a transaction so the attempt count snapshot and
// the insert see the same state.
type Repository struct {
	dbh     *sql.DB
	queries *db.Queries
}

// NewRepository creates a new validator repository
func NewRepository(dbh *sql.DB, queries *db.Queries) *Repository {
	return &Repository{
		dbh:     dbh,
		queries: queries,
	}
}

// CreateSyncAttempt appends one judged attempt to the log.
func (r *Repository) CreateSyncAttempt(ctx context.Context, req CreateSyncAttemptRequest) (*models.SyncAttempt, error) {
	attempt, err := r.queries.CreateSyncAttempt(ctx, db.CreateSyncAttemptParams{
		ID:                 uuid.New(),
		UserID:             req.UserID,
		PulseID:            req.PulseID,
		ClientTimestamp:    req.ClientTimestamp,
		ServerTimestamp:    req.ServerTimestamp,
		PulseScheduledTime: req.PulseScheduledTime,
		TimeDifferenceMs:   req.TimeDifferenceMs,
		AllowedWindowMs:    req.AllowedWindowMs,
		WithinWindow:       req.WithinWindow,
		WasSuccessful:      req.WasSuccessful,
		NetworkLatencyMs:   req.NetworkLatencyMs,
		DeviceInfo:         sqlutil.ToNullRawMessage(req.DeviceInfo),
		NtpData:            sqlutil.ToNullRawMessage(req.NTPData),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create sync attempt: %w", err)
	}

	return dbSyncAttemptToModel(attempt), nil
}

// CreateUnlock records the user's first successful sync. The bool reports
// whether a row was created; (nil, false, nil) means the user was already
// unlocked and nothing changed.
func (r *Repository) CreateUnlock(ctx context.Context, userID string, pulseID, attemptID uuid.UUID, unlockedAt time.Time, accuracyMs int64) (*models.Unlock, bool, error) {
	var unlock *models.Unlock

	err := sqlutil.Run(ctx, r.dbh, r.queries, func(q *db.Queries) error {
		attempts, err := q.CountSyncAttemptsByUser(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to count attempts: %w", err)
		}

		row, err := q.CreateUnlock(ctx, db.CreateUnlockParams{
			ID:                  uuid.New(),
			UserID:              userID,
			PulseID:             pulseID,
			SuccessfulAttemptID: attemptID,
			UnlockedAt:          unlockedAt,
			TimingAccuracyMs:    accuracyMs,
			TotalAttempts:       attempts,
		})
		if err != nil {
			// The conflict target swallowed the insert: already unlocked.
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("failed to create unlock: %w", err)
		}

		unlock = dbUnlockToModel(row)
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	return unlock, unlock != nil, nil
}

// GetUnlockByUser returns the user's unlock, or (nil, nil).
func (r *Repository) GetUnlockByUser(ctx context.Context, userID string) (*models.Unlock, error) {
	unlock, err := r.queries.GetUnlockByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get unlock: %w", err)
	}

	return dbUnlockToModel(unlock), nil
}

// ListSyncAttemptsByUser returns the user's most recent attempts.
func (r *Repository) ListSyncAttemptsByUser(ctx context.Context, userID string, limit int32) ([]*models.SyncAttempt, error) {
	attempts, err := r.queries.ListSyncAttemptsByUser(ctx, db.ListSyncAttemptsByUserParams{
		UserID: userID,
		Limit:  limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list sync attempts: %w", err)
	}

	result := make([]*models.SyncAttempt, len(attempts))
	for i, a := range attempts {
		result[i] = dbSyncAttemptToModel(a)
	}
	return result, nil
}

// CountSyncAttemptsByUser returns the user's lifetime attempt count.
func (r *Repository) CountSyncAttemptsByUser(ctx context.Context, userID string) (int64, error) {
	count, err := r.queries.CountSyncAttemptsByUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to count sync attempts: %w", err)
	}
	return count, nil
}

// GetBestSyncAttemptForUser returns the user's most accurate successful
// attempt, or (nil, nil) when none succeeded yet.
func (r *Repository) GetBestSyncAttemptForUser(ctx context.Context, userID string) (*models.SyncAttempt, error) {
	attempt, err := r.queries.GetBestSyncAttemptForUser(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get best sync attempt: %w", err)
	}

	return dbSyncAttemptToModel(attempt), nil
}

// GetGlobalSyncStats aggregates attempts and unlocks since the given time.
func (r *Repository) GetGlobalSyncStats(ctx context.Context, since time.Time) (*GlobalSyncStats, error) {
	row, err := r.queries.GetGlobalSyncStats(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("failed to get global sync stats: %w", err)
	}

	unlocks, err := r.queries.CountUnlocksSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("failed to count unlocks: %w", err)
	}

	stats := &GlobalSyncStats{
		TotalAttempts:      row.TotalAttempts,
		SuccessfulAttempts: row.SuccessfulAttempts,
		UniqueUsers:        row.UniqueUsers,
		TotalUnlocks:       unlocks,
	}
	if row.AvgTimeDifferenceMs.Valid {
		avg := row.AvgTimeDifferenceMs.Float64
		stats.AvgTimeDifferenceMs = &avg
	}
	if stats.TotalAttempts > 0 {
		stats.SuccessRate = float64(stats.SuccessfulAttempts) / float64(stats.TotalAttempts)
	}
	return stats, nil
}

// CreateNTPSyncLog appends one clock exchange to the telemetry log.
func (r *Repository) CreateNTPSyncLog(ctx context.Context, logEntry *models.NTPSyncLog) (*models.NTPSyncLog, error) {
	row, err := r.queries.CreateNtpSyncLog(ctx, db.CreateNtpSyncLogParams{
		ID:                 logEntry.ID,
		UserID:             logEntry.UserID,
		ClientSentTime:     logEntry.ClientSentTime,
		ServerReceivedTime: logEntry.ServerReceivedTime,
		ServerSentTime:     logEntry.ServerSentTime,
		ClientReceivedTime: logEntry.ClientReceivedTime,
		ClockOffsetMs:      logEntry.ClockOffsetMs,
		RoundTripTimeMs:    logEntry.RoundTripTimeMs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ntp sync log: %w", err)
	}

	return dbNtpSyncLogToModel(row), nil
}

// dbSyncAttemptToModel converts a database sync attempt to domain model
func dbSyncAttemptToModel(a db.SyncAttempt) *models.SyncAttempt {
	return &models.SyncAttempt{
		ID:                 a.ID,
		UserID:             a.UserID,
		PulseID:            a.PulseID,
		ClientTimestamp:    a.ClientTimestamp,
		ServerTimestamp:    a.ServerTimestamp,
		PulseScheduledTime: a.PulseScheduledTime,
		TimeDifferenceMs:   a.TimeDifferenceMs,
		AllowedWindowMs:    a.AllowedWindowMs,
		WithinWindow:       a.WithinWindow,
		WasSuccessful:      a.WasSuccessful,
		NetworkLatencyMs:   a.NetworkLatencyMs,
		DeviceInfo:         sqlutil.FromNullRawMessage(a.DeviceInfo),
		NTPData:            sqlutil.FromNullRawMessage(a.NtpData),
		CreatedAt:          a.CreatedAt,
	}
}

func dbUnlockToModel(u db.Unlock) *models.Unlock {
	return &models.Unlock{
		ID:                  u.ID,
		UserID:              u.UserID,
		PulseID:             u.PulseID,
		SuccessfulAttemptID: u.SuccessfulAttemptID,
		UnlockedAt:          u.UnlockedAt,
		TimingAccuracyMs:    u.TimingAccuracyMs,
		TotalAttempts:       u.TotalAttempts,
	}
}

func dbNtpSyncLogToModel(l db.NtpSyncLog) *models.NTPSyncLog {
	return &models.NTPSyncLog{
		ID:                 l.ID,
		UserID:             l.UserID,
		ClientSentTime:     l.ClientSentTime,
		ServerReceivedTime: l.ServerReceivedTime,
		ServerSentTime:     l.ServerSentTime,
		ClientReceivedTime: l.ClientReceivedTime,
		ClockOffsetMs:      l.ClockOffsetMs,
		RoundTripTimeMs:    l.RoundTripTimeMs,
		CreatedAt:          l.CreatedAt,
	}
}
