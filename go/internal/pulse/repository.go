package pulse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/timesync/go/internal/db"
	"github.com/mcdev12/timesync/go/internal/models"
	"github.com/mcdev12/timesync/go/internal/sqlutil"
)

// Querier defines what the repository needs from the database layer
type Querier interface {
	CreatePulse(ctx context.Context, arg db.CreatePulseParams) (db.Pulse, error)
	GetPulse(ctx context.Context, id uuid.UUID) (db.Pulse, error)
	GetActivePulse(ctx context.Context) (db.Pulse, error)
	ActivatePulse(ctx context.Context, arg db.ActivatePulseParams) (db.Pulse, error)
	DeactivatePulse(ctx context.Context, id uuid.UUID) (db.Pulse, error)
	UpdatePulseStats(ctx context.Context, arg db.UpdatePulseStatsParams) (db.Pulse, error)
	ListPulsesSince(ctx context.Context, since time.Time) ([]db.Pulse, error)
	GetNextScheduledPulse(ctx context.Context, after time.Time) (db.Pulse, error)
}

// Repository implements pulse data access operations
type Repository struct {
	queries Querier
}

// NewRepository creates a new pulse repository
func NewRepository(querier Querier) *Repository {
	return &Repository{
		queries: querier,
	}
}

// CreatePulse persists a new pulse row.
func (r *Repository) CreatePulse(ctx context.Context, req CreatePulseRequest) (*models.Pulse, error) {
	pulse, err := r.queries.CreatePulse(ctx, db.CreatePulseParams{
		ID:                  req.ID,
		ScheduledTime:       req.ScheduledTime,
		ActualBroadcastTime: sqlutil.ToSqlTime(req.ActualBroadcastTime),
		WindowStartMs:       req.WindowStartMs,
		WindowEndMs:         req.WindowEndMs,
		IsActive:            req.IsActive,
		Status:              string(req.Status),
		Description:         req.Description,
		ConnectedClients:    int32(req.ConnectedClients),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create pulse: %w", err)
	}

	return r.dbPulseToModel(pulse), nil
}

// GetPulse retrieves a pulse by ID. Returns (nil, nil) when no row exists.
func (r *Repository) GetPulse(ctx context.Context, id uuid.UUID) (*models.Pulse, error) {
	pulse, err := r.queries.GetPulse(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get pulse: %w", err)
	}

	return r.dbPulseToModel(pulse), nil
}

// GetActivePulse retrieves the currently active pulse, or (nil, nil).
func (r *Repository) GetActivePulse(ctx context.Context) (*models.Pulse, error) {
	pulse, err := r.queries.GetActivePulse(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get active pulse: %w", err)
	}

	return r.dbPulseToModel(pulse), nil
}

// ActivatePulse flips a scheduled pulse to broadcast state.
func (r *Repository) ActivatePulse(ctx context.Context, id uuid.UUID, broadcastTime time.Time, connectedClients int) (*models.Pulse, error) {
	pulse, err := r.queries.ActivatePulse(ctx, db.ActivatePulseParams{
		ID:                  id,
		ActualBroadcastTime: broadcastTime,
		ConnectedClients:    int32(connectedClients),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to activate pulse: %w", err)
	}

	return r.dbPulseToModel(pulse), nil
}

// DeactivatePulse marks a pulse expired. Expired pulses never reactivate.
func (r *Repository) DeactivatePulse(ctx context.Context, id uuid.UUID) (*models.Pulse, error) {
	pulse, err := r.queries.DeactivatePulse(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to deactivate pulse: %w", err)
	}

	return r.dbPulseToModel(pulse), nil
}

// UpdatePulseStats increments the attempt counters on a pulse row.
func (r *Repository) UpdatePulseStats(ctx context.Context, id uuid.UUID, wasSuccessful bool) (*models.Pulse, error) {
	pulse, err := r.queries.UpdatePulseStats(ctx, db.UpdatePulseStatsParams{
		ID:            id,
		WasSuccessful: wasSuccessful,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update pulse stats: %w", err)
	}

	return r.dbPulseToModel(pulse), nil
}

// ListPulsesSince returns pulses scheduled at or after the given time.
func (r *Repository) ListPulsesSince(ctx context.Context, since time.Time) ([]*models.Pulse, error) {
	pulses, err := r.queries.ListPulsesSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list pulses: %w", err)
	}

	result := make([]*models.Pulse, len(pulses))
	for i, p := range pulses {
		result[i] = r.dbPulseToModel(p)
	}
	return result, nil
}

// GetNextScheduledPulse returns the earliest pending pulse after the given
// time, or (nil, nil).
func (r *Repository) GetNextScheduledPulse(ctx context.Context, after time.Time) (*models.Pulse, error) {
	pulse, err := r.queries.GetNextScheduledPulse(ctx, after)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get next scheduled pulse: %w", err)
	}

	return r.dbPulseToModel(pulse), nil
}

// dbPulseToModel converts a database pulse to domain model
func (r *Repository) dbPulseToModel(dbPulse db.Pulse) *models.Pulse {
	return &models.Pulse{
		ID:                  dbPulse.ID,
		ScheduledTime:       dbPulse.ScheduledTime,
		ActualBroadcastTime: sqlutil.FromSqlTime(dbPulse.ActualBroadcastTime),
		WindowStartMs:       dbPulse.WindowStartMs,
		WindowEndMs:         dbPulse.WindowEndMs,
		IsActive:            dbPulse.IsActive,
		Status:              models.PulseStatus(dbPulse.Status),
		Description:         dbPulse.Description,
		TotalAttempts:       dbPulse.TotalAttempts,
		SuccessfulAttempts:  dbPulse.SuccessfulAttempts,
		ConnectedClients:    int(dbPulse.ConnectedClients),
		CreatedAt:           dbPulse.CreatedAt,
	}
}
