package pulse

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/timesync/go/internal/config"
	"github.com/mcdev12/timesync/go/internal/timeserver"
	"github.com/rs/zerolog/log"
)

// Scheduler drives the recurring daily pulse. It sleeps until the next
// configured occurrence, fires the pulse, and recomputes. A configuration
// reload wakes it early so a changed time-of-day takes effect immediately.
type Scheduler struct {
	app     *App
	timeSrv *timeserver.TimeServer
	cfg     *config.Store
	clock   clockwork.Clock
}

// NewScheduler creates the daily pulse scheduler
func NewScheduler(app *App, timeSrv *timeserver.TimeServer, cfg *config.Store, clock clockwork.Clock) *Scheduler {
	return &Scheduler{
		app:     app,
		timeSrv: timeSrv,
		cfg:     cfg,
		clock:   clock,
	}
}

// Run loops until the context is cancelled. A failure inside one firing is
// logged and isolated; the loop keeps scheduling the next occurrence.
func (s *Scheduler) Run(ctx context.Context) error {
	log.Info().Msg("pulse scheduler started")

	var timer clockwork.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		pc := s.cfg.Pulse()

		next, ms, err := s.timeSrv.TimeUntilNextPulse(pc.DailyTimeOfDay)
		if err != nil {
			// Invalid schedule; wait for a config reload to fix it.
			log.Error().Err(err).Str("daily_time", pc.DailyTimeOfDay).Msg("cannot compute next pulse time")
			select {
			case <-ctx.Done():
				log.Info().Msg("pulse scheduler shutting down")
				return nil
			case <-s.cfg.ReloadNotify():
				continue
			}
		}

		log.Info().
			Time("next_pulse", next).
			Int64("milliseconds_until", ms).
			Bool("daily_enabled", pc.DailyPulseEnabled).
			Msg("sleeping until next daily pulse")

		if timer == nil {
			timer = s.clock.NewTimer(time.Duration(ms) * time.Millisecond)
		} else {
			timer.Reset(time.Duration(ms) * time.Millisecond)
		}

		select {
		case <-ctx.Done():
			stopAndDrainTimer(timer)
			log.Info().Msg("pulse scheduler shutting down")
			return nil
		case <-s.cfg.ReloadNotify():
			stopAndDrainTimer(timer)
			log.Debug().Msg("config reloaded, recomputing pulse schedule")
			continue
		case <-timer.Chan():
			s.fireDaily(ctx)
		}
	}
}

// fireDaily runs one daily pulse. Panics are recovered so a broken firing
// never takes the scheduler loop down.
func (s *Scheduler) fireDaily(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("recovered panic in daily pulse firing")
		}
	}()

	if _, err := s.app.ScheduleDailyPulse(ctx); err != nil {
		log.Error().Err(err).Msg("daily pulse failed")
	}
}
