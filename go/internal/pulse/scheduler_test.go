package pulse

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/timesync/go/internal/config"
	"github.com/mcdev12/timesync/go/internal/notify"
	"github.com/mcdev12/timesync/go/internal/timeserver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(t *testing.T, fc *clockwork.FakeClock, cfg *config.Config) (*Scheduler, *App, *fakeFanout) {
	t.Helper()

	repo := newFakeRepo()
	fanout := &fakeFanout{sessions: 2}
	timeSrv := timeserver.New(fc)
	notifier := notify.NewMockNotifier(slog.New(slog.NewTextHandler(io.Discard, nil)))
	store := config.NewStore(cfg, "")

	app := NewApp(repo, timeSrv, fanout, notifier, store, fc)
	t.Cleanup(app.Close)

	return NewScheduler(app, timeSrv, store, fc), app, fanout
}

func TestSchedulerFiresDailyPulse(t *testing.T) {
	fc := clockwork.NewFakeClockAt(time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC))
	cfg := config.Default()
	cfg.Pulse.DailyTimeOfDay = "17:00:00"
	sched, app, fanout := newTestScheduler(t, fc, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()

	// Wait for the scheduler to arm its timer, then jump past 17:00.
	fc.BlockUntil(1)
	fc.Advance(5 * time.Hour)

	require.Eventually(t, func() bool {
		return fanout.broadcastCount() == 1
	}, time.Second, 5*time.Millisecond)

	active, err := app.GetActivePulse(ctx)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, "Daily sync pulse", active.Description)
	assert.Equal(t, int64(3000), active.WindowStartMs)
	assert.Equal(t, int64(3000), active.WindowEndMs)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not shut down")
	}
}

func TestSchedulerSkipsWhenDailyDisabled(t *testing.T) {
	fc := clockwork.NewFakeClockAt(time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC))
	cfg := config.Default()
	cfg.Pulse.DailyTimeOfDay = "17:00:00"
	cfg.Pulse.DailyPulseEnabled = false
	sched, app, fanout := newTestScheduler(t, fc, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()

	fc.BlockUntil(1)
	fc.Advance(5 * time.Hour)

	// The firing is a no-op; the loop keeps running for the next day.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, fanout.broadcastCount())

	active, err := app.GetActivePulse(ctx)
	require.NoError(t, err)
	assert.Nil(t, active)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not shut down")
	}
}

func TestSchedulerFiresOnConsecutiveDays(t *testing.T) {
	fc := clockwork.NewFakeClockAt(time.Date(2025, 6, 15, 16, 59, 0, 0, time.UTC))
	cfg := config.Default()
	cfg.Pulse.DailyTimeOfDay = "17:00:00"
	sched, _, fanout := newTestScheduler(t, fc, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()

	fc.BlockUntil(1)
	fc.Advance(time.Minute)
	require.Eventually(t, func() bool {
		return fanout.broadcastCount() == 1
	}, time.Second, 5*time.Millisecond)

	// The loop re-arms for tomorrow; the deactivation timer is also waiting.
	fc.BlockUntil(2)
	fc.Advance(24 * time.Hour)
	require.Eventually(t, func() bool {
		return fanout.broadcastCount() == 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not shut down")
	}
}
