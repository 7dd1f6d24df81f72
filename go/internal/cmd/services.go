package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/timesync/go/internal/api"
	"github.com/mcdev12/timesync/go/internal/config"
	"github.com/mcdev12/timesync/go/internal/db"
	"github.com/mcdev12/timesync/go/internal/gateway"
	"github.com/mcdev12/timesync/go/internal/notify"
	"github.com/mcdev12/timesync/go/internal/pulse"
	"github.com/mcdev12/timesync/go/internal/timeserver"
	"github.com/mcdev12/timesync/go/internal/validator"
	"github.com/rs/zerolog/log"
)

type Services struct {
	TimeServer        *timeserver.TimeServer
	Pulses            *pulse.App
	Validator         *validator.App
	Scheduler         *pulse.Scheduler
	ConnectionManager *gateway.ConnectionManager
	WebSocketHandler  *gateway.WebSocketHandler
	API               *api.Handler

	notifierClose func()
}

func setupServices(ctx context.Context, database *sql.DB, store *config.Store) (*Services, error) {
	// Wire up dependency injection chain
	// Database layer → Repository layer → App layer → Transport layer
	clock := clockwork.NewRealClock()
	timeSrv := timeserver.New(clock)
	queries := db.New(database)

	// A previous run may have died with a pulse still marked active.
	if err := queries.DeactivateActivePulses(ctx); err != nil {
		return nil, fmt.Errorf("failed to clear stale active pulses: %w", err)
	}

	notifier, notifierClose := setupNotifier(store)

	// The connection manager comes first; the fanout adapter over it lets
	// the pulse and validator layers broadcast without knowing the
	// transport, and the message router is attached once both exist.
	cm := gateway.NewConnectionManager(gateway.DefaultConnectionConfig())
	fanout := gateway.NewFanout(cm)

	pulseRepo := pulse.NewRepository(queries)
	pulseApp := pulse.NewApp(pulseRepo, timeSrv, fanout, notifier, store, clock)

	validatorRepo := validator.NewRepository(database, queries)
	validatorApp := validator.NewApp(validatorRepo, timeSrv, pulseApp, notifier, fanout, store)

	cm.SetRouter(gateway.NewService(cm, validatorApp, timeSrv))

	return &Services{
		TimeServer:        timeSrv,
		Pulses:            pulseApp,
		Validator:         validatorApp,
		Scheduler:         pulse.NewScheduler(pulseApp, timeSrv, store, clock),
		ConnectionManager: cm,
		WebSocketHandler:  gateway.NewWebSocketHandler(cm),
		API:               api.NewHandler(pulseApp, validatorApp, timeSrv),
		notifierClose:     notifierClose,
	}, nil
}

// setupNotifier connects to NATS when configured, falling back to the
// logging notifier otherwise.
func setupNotifier(store *config.Store) (notify.Notifier, func()) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	natsCfg := store.NATS()
	if natsCfg.URL == "" {
		log.Info().Msg("NATS not configured, notifications log only")
		return notify.NewMockNotifier(logger), nil
	}

	notifier, err := notify.NewNATSNotifier(natsCfg.URL, natsCfg.SubjectPrefix, logger)
	if err != nil {
		log.Warn().Err(err).Str("url", natsCfg.URL).Msg("NATS unavailable, notifications log only")
		return notify.NewMockNotifier(logger), nil
	}

	log.Info().Str("url", natsCfg.URL).Msg("connected to NATS")
	return notifier, notifier.Close
}

// Close releases everything the services hold: pulse timers and the
// notifier connection.
func (s *Services) Close() {
	s.Pulses.Close()
	if s.notifierClose != nil {
		s.notifierClose()
	}
}
