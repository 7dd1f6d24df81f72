package pulse

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/timesync/go/internal/config"
	"github.com/mcdev12/timesync/go/internal/models"
	"github.com/mcdev12/timesync/go/internal/notify"
	"github.com/mcdev12/timesync/go/internal/timeserver"
	"github.com/rs/zerolog/log"
)

// PulseRepository defines what the app layer needs from the repository
type PulseRepository interface {
	CreatePulse(ctx context.Context, req CreatePulseRequest) (*models.Pulse, error)
	GetPulse(ctx context.Context, id uuid.UUID) (*models.Pulse, error)
	GetActivePulse(ctx context.Context) (*models.Pulse, error)
	ActivatePulse(ctx context.Context, id uuid.UUID, broadcastTime time.Time, connectedClients int) (*models.Pulse, error)
	DeactivatePulse(ctx context.Context, id uuid.UUID) (*models.Pulse, error)
	UpdatePulseStats(ctx context.Context, id uuid.UUID, wasSuccessful bool) (*models.Pulse, error)
	ListPulsesSince(ctx context.Context, since time.Time) ([]*models.Pulse, error)
	GetNextScheduledPulse(ctx context.Context, after time.Time) (*models.Pulse, error)
}

// Fanout delivers pulse events to connected sessions. The broadcaster only
// ever sees this abstraction, never a concrete transport.
type Fanout interface {
	BroadcastPulse(pulse *models.Pulse, serverTime time.Time)
	ActiveSessions() int
}

// App owns the single active pulse, the deactivation and custom-pulse
// timers, and the per-pulse statistics. All mutation of that state goes
// through the app mutex.
type App struct {
	repo     PulseRepository
	timeSrv  *timeserver.TimeServer
	fanout   Fanout
	notifier notify.Notifier
	cfg      *config.Store
	clock    clockwork.Clock

	mu               sync.Mutex
	active           *models.Pulse
	deactivateTimers map[uuid.UUID]clockwork.Timer
	pendingTimers    map[uuid.UUID]clockwork.Timer

	done     chan struct{}
	stopOnce sync.Once
}

// NewApp creates a new pulse broadcaster App
func NewApp(repo PulseRepository, timeSrv *timeserver.TimeServer, fanout Fanout, notifier notify.Notifier, cfg *config.Store, clock clockwork.Clock) *App {
	return &App{
		repo:             repo,
		timeSrv:          timeSrv,
		fanout:           fanout,
		notifier:         notifier,
		cfg:              cfg,
		clock:            clock,
		deactivateTimers: make(map[uuid.UUID]clockwork.Timer),
		pendingTimers:    make(map[uuid.UUID]clockwork.Timer),
		done:             make(chan struct{}),
	}
}

// Close stops all in-flight timers. Safe to call more than once.
func (a *App) Close() {
	a.stopOnce.Do(func() {
		close(a.done)
	})
}

// CreateAndBroadcastPulse creates a pulse stamped with the corrected server
// time, makes it the sole active pulse (superseding any previous one), fans
// it out to every connected session and arms its deactivation timer.
func (a *App) CreateAndBroadcastPulse(ctx context.Context, scheduledTime time.Time, description string, windowStartMs, windowEndMs int64) (*models.Pulse, error) {
	broadcastTime := a.timeSrv.Now()

	return a.activateAndBroadcast(ctx, func(ctx context.Context) (*models.Pulse, error) {
		return a.repo.CreatePulse(ctx, CreatePulseRequest{
			ID:                  uuid.New(),
			ScheduledTime:       scheduledTime,
			ActualBroadcastTime: &broadcastTime,
			WindowStartMs:       windowStartMs,
			WindowEndMs:         windowEndMs,
			IsActive:            true,
			Status:              models.PulseStatusBroadcast,
			Description:         description,
			ConnectedClients:    a.fanout.ActiveSessions(),
		})
	})
}

// activateAndBroadcast runs the shared activation path: supersede the
// previous active pulse, install the new one, fan out, notify, arm the
// deactivation timer.
func (a *App) activateAndBroadcast(ctx context.Context, activate func(ctx context.Context) (*models.Pulse, error)) (*models.Pulse, error) {
	a.mu.Lock()
	if prev := a.active; prev != nil {
		a.cancelTimerLocked(a.deactivateTimers, prev.ID)
		if _, err := a.repo.DeactivatePulse(ctx, prev.ID); err != nil {
			log.Warn().Err(err).Str("pulse_id", prev.ID.String()).Msg("failed to deactivate superseded pulse")
		}
		a.active = nil
		log.Info().Str("pulse_id", prev.ID.String()).Msg("active pulse superseded")
	}

	pulse, err := activate(ctx)
	if err != nil {
		a.mu.Unlock()
		return nil, err
	}
	a.active = pulse
	a.mu.Unlock()

	serverTime := a.timeSrv.Now()
	a.fanout.BroadcastPulse(pulse, serverTime)

	if a.cfg.Pulse().NotificationsEnabled {
		if err := a.notifier.Notify(ctx, notify.EventPulseBroadcast, pulse); err != nil {
			log.Warn().Err(err).Str("pulse_id", pulse.ID.String()).Msg("pulse broadcast notification failed")
		}
	}

	a.scheduleDeactivation(pulse)

	log.Info().
		Str("pulse_id", pulse.ID.String()).
		Time("scheduled_time", pulse.ScheduledTime).
		Int64("window_start_ms", pulse.WindowStartMs).
		Int64("window_end_ms", pulse.WindowEndMs).
		Int("connected_clients", pulse.ConnectedClients).
		Msg("pulse broadcast")

	return pulse, nil
}

// ScheduleDailyPulse creates the daily pulse with a symmetric window from
// the configured sync window. No-ops when daily pulses are disabled.
func (a *App) ScheduleDailyPulse(ctx context.Context) (*models.Pulse, error) {
	pc := a.cfg.Pulse()
	if !pc.DailyPulseEnabled {
		log.Debug().Msg("daily pulses disabled, skipping")
		return nil, nil
	}

	now := a.timeSrv.Now()
	return a.CreateAndBroadcastPulse(ctx, now, "Daily sync pulse", pc.SyncWindowMs, pc.SyncWindowMs)
}

// ScheduleCustomPulse broadcasts immediately when scheduledTime has already
// passed; otherwise it persists a pending pulse and arms a one-shot timer.
func (a *App) ScheduleCustomPulse(ctx context.Context, scheduledTime time.Time, description string, windowMs int64) (*models.Pulse, error) {
	if windowMs <= 0 {
		windowMs = a.cfg.Pulse().SyncWindowMs
	}

	now := a.timeSrv.Now()
	if !scheduledTime.After(now) {
		return a.CreateAndBroadcastPulse(ctx, scheduledTime, description, windowMs, windowMs)
	}

	pulse, err := a.repo.CreatePulse(ctx, CreatePulseRequest{
		ID:            uuid.New(),
		ScheduledTime: scheduledTime,
		WindowStartMs: windowMs,
		WindowEndMs:   windowMs,
		IsActive:      false,
		Status:        models.PulseStatusScheduled,
		Description:   description,
	})
	if err != nil {
		return nil, err
	}

	a.armPendingTimer(pulse)

	log.Info().
		Str("pulse_id", pulse.ID.String()).
		Time("scheduled_time", scheduledTime).
		Msg("custom pulse scheduled")

	return pulse, nil
}

// armPendingTimer arms the one-shot timer that will broadcast a scheduled
// pulse when its time arrives.
func (a *App) armPendingTimer(pulse *models.Pulse) {
	duration := pulse.ScheduledTime.Sub(a.timeSrv.Now())
	if duration < 0 {
		duration = 0
	}

	timer := a.clock.NewTimer(duration)
	a.mu.Lock()
	a.replaceTimerLocked(a.pendingTimers, pulse.ID, timer)
	a.mu.Unlock()

	go func(id uuid.UUID, t clockwork.Timer) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Str("pulse_id", id.String()).Msg("recovered panic in pending pulse timer")
			}
		}()

		select {
		case <-t.Chan():
			a.removeTimer(a.pendingTimers, id)
			a.broadcastScheduled(id)
		case <-a.done:
			stopAndDrainTimer(t)
			a.removeTimer(a.pendingTimers, id)
		}
	}(pulse.ID, timer)
}

// broadcastScheduled promotes a pending pulse to active and fans it out.
func (a *App) broadcastScheduled(id uuid.UUID) {
	ctx := context.Background()
	_, err := a.activateAndBroadcast(ctx, func(ctx context.Context) (*models.Pulse, error) {
		return a.repo.ActivatePulse(ctx, id, a.timeSrv.Now(), a.fanout.ActiveSessions())
	})
	if err != nil {
		log.Error().Err(err).Str("pulse_id", id.String()).Msg("failed to broadcast scheduled pulse")
	}
}

// CancelScheduledPulse cancels a custom pulse that has not fired yet.
func (a *App) CancelScheduledPulse(ctx context.Context, id uuid.UUID) error {
	pulse, err := a.repo.GetPulse(ctx, id)
	if err != nil {
		return err
	}
	if pulse == nil {
		return fmt.Errorf("pulse %s not found", id)
	}
	if pulse.Status != models.PulseStatusScheduled {
		return fmt.Errorf("pulse %s is not pending", id)
	}

	a.mu.Lock()
	a.cancelTimerLocked(a.pendingTimers, id)
	a.mu.Unlock()

	if _, err := a.repo.DeactivatePulse(ctx, id); err != nil {
		return err
	}

	log.Info().Str("pulse_id", id.String()).Msg("scheduled pulse cancelled")
	return nil
}

// DeactivatePulse expires a pulse. Fired by the deactivation timer or by an
// administrative call; the transition is one-way.
func (a *App) DeactivatePulse(ctx context.Context, id uuid.UUID) error {
	a.mu.Lock()
	a.cancelTimerLocked(a.deactivateTimers, id)
	if a.active != nil && a.active.ID == id {
		a.active = nil
	}
	a.mu.Unlock()

	if _, err := a.repo.DeactivatePulse(ctx, id); err != nil {
		return fmt.Errorf("failed to deactivate pulse: %w", err)
	}

	log.Info().Str("pulse_id", id.String()).Msg("pulse deactivated")
	return nil
}

// scheduleDeactivation arms the one-shot timer that expires a pulse
// windowEndMs + gracePeriod after its broadcast. The grace period absorbs
// attempts still in flight when the window closes.
func (a *App) scheduleDeactivation(pulse *models.Pulse) {
	base := a.timeSrv.Now()
	if pulse.ActualBroadcastTime != nil {
		base = *pulse.ActualBroadcastTime
	}

	fireAt := base.Add(time.Duration(pulse.WindowEndMs+a.cfg.Pulse().GracePeriodMs) * time.Millisecond)
	duration := fireAt.Sub(a.timeSrv.Now())
	if duration < 0 {
		duration = 0
	}

	timer := a.clock.NewTimer(duration)
	a.mu.Lock()
	a.replaceTimerLocked(a.deactivateTimers, pulse.ID, timer)
	a.mu.Unlock()

	go func(id uuid.UUID, t clockwork.Timer) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Str("pulse_id", id.String()).Msg("recovered panic in deactivation timer")
			}
		}()

		select {
		case <-t.Chan():
			a.removeTimer(a.deactivateTimers, id)
			if err := a.DeactivatePulse(context.Background(), id); err != nil {
				log.Error().Err(err).Str("pulse_id", id.String()).Msg("timed deactivation failed")
			}
		case <-a.done:
			stopAndDrainTimer(t)
			a.removeTimer(a.deactivateTimers, id)
		}
	}(pulse.ID, timer)
}

// UpdatePulseStatistics increments a pulse's attempt counters. The app
// mutex serializes concurrent attempts so the in-memory active pulse and
// the stored counters never lose an update.
func (a *App) UpdatePulseStatistics(ctx context.Context, pulseID uuid.UUID, wasSuccessful bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	pulse, err := a.repo.UpdatePulseStats(ctx, pulseID, wasSuccessful)
	if err != nil {
		return fmt.Errorf("failed to update pulse statistics: %w", err)
	}

	if a.active != nil && a.active.ID == pulse.ID {
		a.active = pulse
	}
	return nil
}

// GetPulse retrieves a pulse by ID; (nil, nil) when it does not exist.
func (a *App) GetPulse(ctx context.Context, id uuid.UUID) (*models.Pulse, error) {
	a.mu.Lock()
	if a.active != nil && a.active.ID == id {
		p := *a.active
		a.mu.Unlock()
		return &p, nil
	}
	a.mu.Unlock()

	return a.repo.GetPulse(ctx, id)
}

// GetActivePulse returns the active pulse, or (nil, nil) when none is live.
func (a *App) GetActivePulse(ctx context.Context) (*models.Pulse, error) {
	a.mu.Lock()
	if a.active != nil {
		p := *a.active
		a.mu.Unlock()
		return &p, nil
	}
	a.mu.Unlock()

	return a.repo.GetActivePulse(ctx)
}

// GetNextPulseInfo reports the next pulse: a pending custom pulse when one
// exists, otherwise the next daily occurrence.
func (a *App) GetNextPulseInfo(ctx context.Context) (*NextPulseInfo, error) {
	now := a.timeSrv.Now()

	pending, err := a.repo.GetNextScheduledPulse(ctx, now)
	if err != nil {
		return nil, err
	}
	if pending != nil {
		return &NextPulseInfo{
			ScheduledTime:     pending.ScheduledTime,
			MillisecondsUntil: pending.ScheduledTime.Sub(now).Milliseconds(),
			Source:            "custom",
			Pulse:             pending,
		}, nil
	}

	pc := a.cfg.Pulse()
	if !pc.DailyPulseEnabled {
		return nil, nil
	}

	next, ms, err := a.timeSrv.TimeUntilNextPulse(pc.DailyTimeOfDay)
	if err != nil {
		return nil, err
	}
	return &NextPulseInfo{
		ScheduledTime:     next,
		MillisecondsUntil: ms,
		Source:            "daily",
	}, nil
}

// GetPulseStatistics aggregates outcomes over the trailing window of days.
func (a *App) GetPulseStatistics(ctx context.Context, windowDays int) (*PulseStats, error) {
	if windowDays <= 0 {
		windowDays = 7
	}

	since := a.timeSrv.Now().AddDate(0, 0, -windowDays)
	pulses, err := a.repo.ListPulsesSince(ctx, since)
	if err != nil {
		return nil, err
	}

	stats := &PulseStats{
		WindowDays:  windowDays,
		TotalPulses: len(pulses),
	}
	for _, p := range pulses {
		stats.TotalAttempts += p.TotalAttempts
		stats.SuccessfulAttempts += p.SuccessfulAttempts
	}
	if stats.TotalAttempts > 0 {
		stats.SuccessRate = float64(stats.SuccessfulAttempts) / float64(stats.TotalAttempts)
	}
	return stats, nil
}

// replaceTimerLocked swaps in a new timer for a pulse, cancelling any
// existing one so two timers can never race for the same pulse.
func (a *App) replaceTimerLocked(timers map[uuid.UUID]clockwork.Timer, id uuid.UUID, newTimer clockwork.Timer) {
	if existing, exists := timers[id]; exists {
		stopAndDrainTimer(existing)
	}
	timers[id] = newTimer
}

func (a *App) cancelTimerLocked(timers map[uuid.UUID]clockwork.Timer, id uuid.UUID) {
	if timer, exists := timers[id]; exists {
		stopAndDrainTimer(timer)
		delete(timers, id)
	}
}

func (a *App) removeTimer(timers map[uuid.UUID]clockwork.Timer, id uuid.UUID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(timers, id)
}

// stopAndDrainTimer safely stops a timer and drains its channel, following
// the pattern from the time.Timer.Stop documentation.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
