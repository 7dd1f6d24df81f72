package db

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const unlockColumns = `id, user_id, pulse_id, successful_attempt_id, unlocked_at, timing_accuracy_ms, total_attempts`

func scanUnlock(row interface{ Scan(...interface{}) error }) (Unlock, error) {
	var u Unlock
	err := row.Scan(
		&u.ID,
		&u.UserID,
		&u.PulseID,
		&u.SuccessfulAttemptID,
		&u.UnlockedAt,
		&u.TimingAccuracyMs,
		&u.TotalAttempts,
	)
	return u, err
}

// CreateUnlock relies on the unique constraint on user_id: when the user is
// already unlocked the insert is a no-op and sql.ErrNoRows comes back from
// the RETURNING clause.
const createUnlock = `
INSERT INTO unlocks (
    id, user_id, pulse_id, successful_attempt_id, unlocked_at, timing_accuracy_ms, total_attempts
) VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (user_id) DO NOTHING
RETURNING ` + unlockColumns

type CreateUnlockParams struct {
	ID                  uuid.UUID
	UserID              string
	PulseID             uuid.UUID
	SuccessfulAttemptID uuid.UUID
	UnlockedAt          time.Time
	TimingAccuracyMs    int64
	TotalAttempts       int64
}

func (q *Queries) CreateUnlock(ctx context.Context, arg CreateUnlockParams) (Unlock, error) {
	row := q.db.QueryRowContext(ctx, createUnlock,
		arg.ID,
		arg.UserID,
		arg.PulseID,
		arg.SuccessfulAttemptID,
		arg.UnlockedAt,
		arg.TimingAccuracyMs,
		arg.TotalAttempts,
	)
	return scanUnlock(row)
}

const getUnlockByUser = `SELECT ` + unlockColumns + ` FROM unlocks WHERE user_id = $1`

func (q *Queries) GetUnlockByUser(ctx context.Context, userID string) (Unlock, error) {
	return scanUnlock(q.db.QueryRowContext(ctx, getUnlockByUser, userID))
}

const countUnlocksSince = `SELECT COUNT(*) FROM unlocks WHERE unlocked_at >= $1`

func (q *Queries) CountUnlocksSince(ctx context.Context, since time.Time) (int64, error) {
	var count int64
	err := q.db.QueryRowContext(ctx, countUnlocksSince, since).Scan(&count)
	return count, err
}
