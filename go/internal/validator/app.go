package validator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/timesync/go/internal/config"
	"github.com/mcdev12/timesync/go/internal/models"
	"github.com/mcdev12/timesync/go/internal/notify"
	"github.com/mcdev12/timesync/go/internal/timeserver"
	"github.com/rs/zerolog/log"
)

// SyncRepository defines what the app layer needs from the repository
type SyncRepository interface {
	CreateSyncAttempt(ctx context.Context, req CreateSyncAttemptRequest) (*models.SyncAttempt, error)
	CreateUnlock(ctx context.Context, userID string, pulseID, attemptID uuid.UUID, unlockedAt time.Time, accuracyMs int64) (*models.Unlock, bool, error)
	GetUnlockByUser(ctx context.Context, userID string) (*models.Unlock, error)
	ListSyncAttemptsByUser(ctx context.Context, userID string, limit int32) ([]*models.SyncAttempt, error)
	CountSyncAttemptsByUser(ctx context.Context, userID string) (int64, error)
	GetBestSyncAttemptForUser(ctx context.Context, userID string) (*models.SyncAttempt, error)
	GetGlobalSyncStats(ctx context.Context, since time.Time) (*GlobalSyncStats, error)
	CreateNTPSyncLog(ctx context.Context, logEntry *models.NTPSyncLog) (*models.NTPSyncLog, error)
}

// PulseProvider is the slice of the pulse broadcaster the validator needs:
// pulse lookup and the attempt counters.
type PulseProvider interface {
	GetPulse(ctx context.Context, id uuid.UUID) (*models.Pulse, error)
	GetActivePulse(ctx context.Context) (*models.Pulse, error)
	UpdatePulseStatistics(ctx context.Context, pulseID uuid.UUID, wasSuccessful bool) error
}

// UnlockFanout pushes unlock celebrations to connected sessions. Optional;
// nil disables the push.
type UnlockFanout interface {
	BroadcastUnlock(unlock *models.Unlock)
}

// App judges sync attempts against the active pulse and owns the
// one-unlock-per-user rule.
type App struct {
	repo     SyncRepository
	timeSrv  *timeserver.TimeServer
	pulses   PulseProvider
	notifier notify.Notifier
	fanout   UnlockFanout
	cfg      *config.Store
}

// NewApp creates a new sync validator App
func NewApp(repo SyncRepository, timeSrv *timeserver.TimeServer, pulses PulseProvider, notifier notify.Notifier, fanout UnlockFanout, cfg *config.Store) *App {
	return &App{
		repo:     repo,
		timeSrv:  timeSrv,
		pulses:   pulses,
		notifier: notifier,
		fanout:   fanout,
		cfg:      cfg,
	}
}

// ProcessSyncAttempt judges one attempt end to end: resolve the active
// pulse, run the timing arithmetic, persist the attempt, bump the pulse
// counters and, on the user's first success, record the unlock.
func (a *App) ProcessSyncAttempt(ctx context.Context, req SyncAttemptRequest) (*SyncResult, error) {
	if req.UserID == "" {
		return nil, ErrMissingUserID
	}
	if req.ClientTimestamp.IsZero() {
		return nil, ErrInvalidTimestamp
	}

	pulse, err := a.resolvePulse(ctx, req.PulseID)
	if err != nil {
		return nil, err
	}

	serverTime := a.timeSrv.Now()
	latency := a.resolveLatency(req, serverTime)

	timing := a.timeSrv.ValidateSyncTiming(
		req.ClientTimestamp,
		serverTime,
		pulse.ScheduledTime,
		pulse.AllowedWindowMs(),
		latency,
	)

	attempt, err := a.repo.CreateSyncAttempt(ctx, CreateSyncAttemptRequest{
		UserID:             req.UserID,
		PulseID:            pulse.ID,
		ClientTimestamp:    req.ClientTimestamp,
		ServerTimestamp:    serverTime,
		PulseScheduledTime: pulse.ScheduledTime,
		TimeDifferenceMs:   timing.TimeDifferenceMs,
		AllowedWindowMs:    pulse.AllowedWindowMs(),
		WithinWindow:       timing.WithinWindow,
		WasSuccessful:      timing.WithinWindow,
		NetworkLatencyMs:   latency,
		DeviceInfo:         req.DeviceInfo,
		NTPData:            req.NTPData,
	})
	if err != nil {
		return nil, err
	}

	if err := a.pulses.UpdatePulseStatistics(ctx, pulse.ID, timing.WithinWindow); err != nil {
		log.Warn().Err(err).Str("pulse_id", pulse.ID.String()).Msg("failed to update pulse statistics")
	}

	result := &SyncResult{
		AttemptID:            attempt.ID,
		PulseID:              pulse.ID,
		Success:              timing.WithinWindow,
		TimeDifferenceMs:     timing.TimeDifferenceMs,
		AdjustedDifferenceMs: timing.AdjustedDifferenceMs,
		AllowedWindowMs:      pulse.AllowedWindowMs(),
		WithinWindow:         timing.WithinWindow,
		NetworkLatencyMs:     latency,
	}

	if timing.WithinWindow {
		_, created, err := a.unlockCapsule(ctx, attempt)
		if err != nil {
			log.Error().Err(err).Str("user_id", req.UserID).Msg("unlock failed after successful sync")
		}
		result.CapsuleUnlocked = created
		if created {
			result.Message = fmt.Sprintf("Synchronized within %dms. Capsule unlocked!", timing.AdjustedDifferenceMs)
		} else {
			result.Message = fmt.Sprintf("Synchronized within %dms.", timing.AdjustedDifferenceMs)
		}
	} else {
		result.Message = fmt.Sprintf("Off by %dms, allowed window is %dms. Try again on the next pulse.",
			timing.AdjustedDifferenceMs, pulse.AllowedWindowMs())
	}

	log.Info().
		Str("user_id", req.UserID).
		Str("pulse_id", pulse.ID.String()).
		Int64("time_difference_ms", timing.TimeDifferenceMs).
		Int64("adjusted_difference_ms", timing.AdjustedDifferenceMs).
		Int64("network_latency_ms", latency).
		Bool("within_window", timing.WithinWindow).
		Bool("capsule_unlocked", result.CapsuleUnlocked).
		Msg("sync attempt processed")

	return result, nil
}

// resolvePulse finds the pulse an attempt targets: the named one when the
// request carries an id, otherwise whatever is currently active.
func (a *App) resolvePulse(ctx context.Context, pulseID uuid.UUID) (*models.Pulse, error) {
	if pulseID != uuid.Nil {
		pulse, err := a.pulses.GetPulse(ctx, pulseID)
		if err != nil {
			return nil, fmt.Errorf("failed to look up pulse: %w", err)
		}
		if pulse == nil {
			return nil, ErrPulseNotFound
		}
		return pulse, nil
	}

	pulse, err := a.pulses.GetActivePulse(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve active pulse: %w", err)
	}
	if pulse == nil {
		return nil, ErrNoPulseActive
	}
	return pulse, nil
}

// resolveLatency picks the latency credit for an attempt. A client-reported
// round trip wins; otherwise the gap between the client stamp and receipt
// stands in for it. Either way the credit is capped by configuration so a
// fabricated latency cannot buy an arbitrarily wide window.
func (a *App) resolveLatency(req SyncAttemptRequest, serverTime time.Time) int64 {
	var latency int64
	if req.NetworkLatencyMs != nil && *req.NetworkLatencyMs >= 0 {
		latency = *req.NetworkLatencyMs
	} else {
		latency = serverTime.Sub(req.ClientTimestamp).Milliseconds()
		if latency < 0 {
			latency = -latency
		}
	}

	if max := a.cfg.Pulse().MaxNetworkLatencyMs; max > 0 && latency > max {
		latency = max
	}
	return latency
}

// unlockCapsule records the user's first successful sync. Subsequent
// successes are no-ops; the unique constraint on user_id makes the race
// between concurrent attempts safe.
func (a *App) unlockCapsule(ctx context.Context, attempt *models.SyncAttempt) (*models.Unlock, bool, error) {
	unlock, created, err := a.repo.CreateUnlock(
		ctx,
		attempt.UserID,
		attempt.PulseID,
		attempt.ID,
		a.timeSrv.Now(),
		attempt.TimeDifferenceMs,
	)
	if err != nil {
		return nil, false, err
	}
	if !created {
		return nil, false, nil
	}

	log.Info().
		Str("user_id", unlock.UserID).
		Str("pulse_id", unlock.PulseID.String()).
		Int64("timing_accuracy_ms", unlock.TimingAccuracyMs).
		Msg("capsule unlocked")

	if a.fanout != nil {
		a.fanout.BroadcastUnlock(unlock)
	}

	if a.cfg.Pulse().NotificationsEnabled {
		if err := a.notifier.Notify(ctx, notify.EventCapsuleUnlocked, unlock); err != nil {
			log.Warn().Err(err).Str("user_id", unlock.UserID).Msg("unlock notification failed")
		}
	}

	return unlock, true, nil
}

// RecordNTPSync runs the clock offset estimator over one four-timestamp
// exchange and persists the telemetry. Zero server timestamps are stamped
// at receipt.
func (a *App) RecordNTPSync(ctx context.Context, req NTPSyncRequest) (*models.NTPSyncLog, error) {
	if req.UserID == "" {
		return nil, ErrMissingUserID
	}
	if req.ClientSent.IsZero() || req.ClientReceived.IsZero() {
		return nil, ErrInvalidTimestamp
	}
	// A non-positive round trip means the client stamps are unusable.
	if !req.ClientReceived.After(req.ClientSent) {
		return nil, ErrInvalidTimestamp
	}

	now := a.timeSrv.Now()
	if req.ServerReceived.IsZero() {
		req.ServerReceived = now
	}
	if req.ServerSent.IsZero() {
		req.ServerSent = now
	}

	result := a.timeSrv.PerformNTPSync(req.ClientSent, req.ServerReceived, req.ServerSent, req.ClientReceived)

	return a.repo.CreateNTPSyncLog(ctx, &models.NTPSyncLog{
		ID:                 uuid.New(),
		UserID:             req.UserID,
		ClientSentTime:     req.ClientSent,
		ServerReceivedTime: req.ServerReceived,
		ServerSentTime:     req.ServerSent,
		ClientReceivedTime: req.ClientReceived,
		ClockOffsetMs:      result.ClockOffsetMs,
		RoundTripTimeMs:    result.RoundTripTimeMs,
	})
}

// GetUserSyncHistory returns the user's most recent attempts, newest first.
func (a *App) GetUserSyncHistory(ctx context.Context, userID string, limit int32) ([]*models.SyncAttempt, error) {
	if userID == "" {
		return nil, ErrMissingUserID
	}
	if limit <= 0 {
		limit = 50
	}
	return a.repo.ListSyncAttemptsByUser(ctx, userID, limit)
}

// GetUserSyncStatus reports the user's attempt count and unlock state.
func (a *App) GetUserSyncStatus(ctx context.Context, userID string) (*UserSyncStatus, error) {
	if userID == "" {
		return nil, ErrMissingUserID
	}

	attempts, err := a.repo.CountSyncAttemptsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	unlock, err := a.repo.GetUnlockByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &UserSyncStatus{
		UserID:        userID,
		TotalAttempts: attempts,
		Unlocked:      unlock != nil,
		Unlock:        unlock,
	}, nil
}

// GetUserBestSync returns the user's most accurate successful attempt, or
// (nil, nil) when none succeeded yet.
func (a *App) GetUserBestSync(ctx context.Context, userID string) (*models.SyncAttempt, error) {
	if userID == "" {
		return nil, ErrMissingUserID
	}
	return a.repo.GetBestSyncAttemptForUser(ctx, userID)
}

// GetGlobalSyncStats aggregates attempts and unlocks over the trailing
// window of days.
func (a *App) GetGlobalSyncStats(ctx context.Context, windowDays int) (*GlobalSyncStats, error) {
	if windowDays <= 0 {
		windowDays = 7
	}

	since := a.timeSrv.Now().AddDate(0, 0, -windowDays)
	stats, err := a.repo.GetGlobalSyncStats(ctx, since)
	if err != nil {
		return nil, err
	}

	stats.WindowDays = windowDays
	return stats, nil
}
