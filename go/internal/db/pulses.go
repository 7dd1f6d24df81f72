package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

const pulseColumns = `id, scheduled_time, actual_broadcast_time, window_start_ms, window_end_ms,
is_active, status, description, total_attempts, successful_attempts, connected_clients, created_at`

func scanPulse(row interface{ Scan(...interface{}) error }) (Pulse, error) {
	var p Pulse
	err := row.Scan(
		&p.ID,
		&p.ScheduledTime,
		&p.ActualBroadcastTime,
		&p.WindowStartMs,
		&p.WindowEndMs,
		&p.IsActive,
		&p.Status,
		&p.Description,
		&p.TotalAttempts,
		&p.SuccessfulAttempts,
		&p.ConnectedClients,
		&p.CreatedAt,
	)
	return p, err
}

const createPulse = `
INSERT INTO pulses (
    id, scheduled_time, actual_broadcast_time, window_start_ms, window_end_ms,
    is_active, status, description, connected_clients
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING ` + pulseColumns

type CreatePulseParams struct {
	ID                  uuid.UUID
	ScheduledTime       time.Time
	ActualBroadcastTime sql.NullTime
	WindowStartMs       int64
	WindowEndMs         int64
	IsActive            bool
	Status              string
	Description         string
	ConnectedClients    int32
}

func (q *Queries) CreatePulse(ctx context.Context, arg CreatePulseParams) (Pulse, error) {
	row := q.db.QueryRowContext(ctx, createPulse,
		arg.ID,
		arg.ScheduledTime,
		arg.ActualBroadcastTime,
		arg.WindowStartMs,
		arg.WindowEndMs,
		arg.IsActive,
		arg.Status,
		arg.Description,
		arg.ConnectedClients,
	)
	return scanPulse(row)
}

const getPulse = `SELECT ` + pulseColumns + ` FROM pulses WHERE id = $1`

func (q *Queries) GetPulse(ctx context.Context, id uuid.UUID) (Pulse, error) {
	return scanPulse(q.db.QueryRowContext(ctx, getPulse, id))
}

const getActivePulse = `SELECT ` + pulseColumns + ` FROM pulses WHERE is_active LIMIT 1`

func (q *Queries) GetActivePulse(ctx context.Context) (Pulse, error) {
	return scanPulse(q.db.QueryRowContext(ctx, getActivePulse))
}

const activatePulse = `
UPDATE pulses
SET is_active = TRUE, status = 'BROADCAST', actual_broadcast_time = $2, connected_clients = $3
WHERE id = $1
RETURNING ` + pulseColumns

type ActivatePulseParams struct {
	ID                  uuid.UUID
	ActualBroadcastTime time.Time
	ConnectedClients    int32
}

func (q *Queries) ActivatePulse(ctx context.Context, arg ActivatePulseParams) (Pulse, error) {
	row := q.db.QueryRowContext(ctx, activatePulse, arg.ID, arg.ActualBroadcastTime, arg.ConnectedClients)
	return scanPulse(row)
}

const deactivatePulse = `
UPDATE pulses
SET is_active = FALSE, status = 'EXPIRED'
WHERE id = $1
RETURNING ` + pulseColumns

func (q *Queries) DeactivatePulse(ctx context.Context, id uuid.UUID) (Pulse, error) {
	return scanPulse(q.db.QueryRowContext(ctx, deactivatePulse, id))
}

const deactivateActivePulses = `
UPDATE pulses SET is_active = FALSE, status = 'EXPIRED' WHERE is_active`

func (q *Queries) DeactivateActivePulses(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, deactivateActivePulses)
	return err
}

// UpdatePulseStats increments the attempt counters in the database itself so
// concurrent attempts cannot lose updates.
const updatePulseStats = `
UPDATE pulses
SET total_attempts = total_attempts + 1,
    successful_attempts = successful_attempts + CASE WHEN $2::boolean THEN 1 ELSE 0 END
WHERE id = $1
RETURNING ` + pulseColumns

type UpdatePulseStatsParams struct {
	ID            uuid.UUID
	WasSuccessful bool
}

func (q *Queries) UpdatePulseStats(ctx context.Context, arg UpdatePulseStatsParams) (Pulse, error) {
	return scanPulse(q.db.QueryRowContext(ctx, updatePulseStats, arg.ID, arg.WasSuccessful))
}

const listPulsesSince = `
SELECT ` + pulseColumns + ` FROM pulses WHERE scheduled_time >= $1 ORDER BY scheduled_time DESC`

func (q *Queries) ListPulsesSince(ctx context.Context, since time.Time) ([]Pulse, error) {
	rows, err := q.db.QueryContext(ctx, listPulsesSince, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pulses []Pulse
	for rows.Next() {
		p, err := scanPulse(rows)
		if err != nil {
			return nil, err
		}
		pulses = append(pulses, p)
	}
	return pulses, rows.Err()
}

const getNextScheduledPulse = `
SELECT ` + pulseColumns + `
FROM pulses
WHERE status = 'SCHEDULED' AND scheduled_time > $1
ORDER BY scheduled_time ASC
LIMIT 1`

func (q *Queries) GetNextScheduledPulse(ctx context.Context, after time.Time) (Pulse, error) {
	return scanPulse(q.db.QueryRowContext(ctx, getNextScheduledPulse, after))
}
