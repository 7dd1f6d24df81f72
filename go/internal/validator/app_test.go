package validator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/timesync/go/internal/config"
	"github.com/mcdev12/timesync/go/internal/models"
	"github.com/mcdev12/timesync/go/internal/notify"
	"github.com/mcdev12/timesync/go/internal/timeserver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSyncRepo struct {
	mu       sync.Mutex
	attempts []*models.SyncAttempt
	unlocks  map[string]*models.Unlock
	ntpLogs  []*models.NTPSyncLog
}

func newFakeSyncRepo() *fakeSyncRepo {
	return &fakeSyncRepo{unlocks: make(map[string]*models.Unlock)}
}

func (f *fakeSyncRepo) CreateSyncAttempt(ctx context.Context, req CreateSyncAttemptRequest) (*models.SyncAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	a := &models.SyncAttempt{
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
		DeviceInfo:         req.DeviceInfo,
		NTPData:            req.NTPData,
		CreatedAt:          req.ServerTimestamp,
	}
	f.attempts = append(f.attempts, a)
	cp := *a
	return &cp, nil
}

func (f *fakeSyncRepo) CreateUnlock(ctx context.Context, userID string, pulseID, attemptID uuid.UUID, unlockedAt time.Time, accuracyMs int64) (*models.Unlock, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.unlocks[userID]; exists {
		return nil, false, nil
	}

	var count int64
	for _, a := range f.attempts {
		if a.UserID == userID {
			count++
		}
	}

	u := &models.Unlock{
		ID:                  uuid.New(),
		UserID:              userID,
		PulseID:             pulseID,
		SuccessfulAttemptID: attemptID,
		UnlockedAt:          unlockedAt,
		TimingAccuracyMs:    accuracyMs,
		TotalAttempts:       count,
	}
	f.unlocks[userID] = u
	cp := *u
	return &cp, true, nil
}

func (f *fakeSyncRepo) GetUnlockByUser(ctx context.Context, userID string) (*models.Unlock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	u, ok := f.unlocks[userID]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (f *fakeSyncRepo) ListSyncAttemptsByUser(ctx context.Context, userID string, limit int32) ([]*models.SyncAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*models.SyncAttempt
	for i := len(f.attempts) - 1; i >= 0 && int32(len(out)) < limit; i-- {
		if f.attempts[i].UserID == userID {
			cp := *f.attempts[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeSyncRepo) CountSyncAttemptsByUser(ctx context.Context, userID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var count int64
	for _, a := range f.attempts {
		if a.UserID == userID {
			count++
		}
	}
	return count, nil
}

func (f *fakeSyncRepo) GetBestSyncAttemptForUser(ctx context.Context, userID string) (*models.SyncAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var best *models.SyncAttempt
	for _, a := range f.attempts {
		if a.UserID != userID || !a.WasSuccessful {
			continue
		}
		if best == nil || abs(a.TimeDifferenceMs) < abs(best.TimeDifferenceMs) {
			best = a
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

func (f *fakeSyncRepo) GetGlobalSyncStats(ctx context.Context, since time.Time) (*GlobalSyncStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	stats := &GlobalSyncStats{}
	users := make(map[string]struct{})
	var sum int64
	for _, a := range f.attempts {
		if a.CreatedAt.Before(since) {
			continue
		}
		stats.TotalAttempts++
		if a.WasSuccessful {
			stats.SuccessfulAttempts++
		}
		users[a.UserID] = struct{}{}
		sum += a.TimeDifferenceMs
	}
	stats.UniqueUsers = int64(len(users))
	for _, u := range f.unlocks {
		if !u.UnlockedAt.Before(since) {
			stats.TotalUnlocks++
		}
	}
	if stats.TotalAttempts > 0 {
		stats.SuccessRate = float64(stats.SuccessfulAttempts) / float64(stats.TotalAttempts)
		avg := float64(sum) / float64(stats.TotalAttempts)
		stats.AvgTimeDifferenceMs = &avg
	}
	return stats, nil
}

func (f *fakeSyncRepo) CreateNTPSyncLog(ctx context.Context, logEntry *models.NTPSyncLog) (*models.NTPSyncLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	cp := *logEntry
	f.ntpLogs = append(f.ntpLogs, &cp)
	out := cp
	return &out, nil
}

func (f *fakeSyncRepo) unlockCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.unlocks)
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

type fakePulseProvider struct {
	mu         sync.Mutex
	active     *models.Pulse
	total      int64
	successful int64
}

func (f *fakePulseProvider) GetPulse(ctx context.Context, id uuid.UUID) (*models.Pulse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.active == nil || f.active.ID != id {
		return nil, nil
	}
	cp := *f.active
	return &cp, nil
}

func (f *fakePulseProvider) GetActivePulse(ctx context.Context) (*models.Pulse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.active == nil {
		return nil, nil
	}
	cp := *f.active
	return &cp, nil
}

func (f *fakePulseProvider) UpdatePulseStatistics(ctx context.Context, pulseID uuid.UUID, wasSuccessful bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.total++
	if wasSuccessful {
		f.successful++
	}
	return nil
}

func (f *fakePulseProvider) counters() (int64, int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.total, f.successful
}

type fakeUnlockFanout struct {
	mu      sync.Mutex
	unlocks []*models.Unlock
}

func (f *fakeUnlockFanout) BroadcastUnlock(unlock *models.Unlock) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unlocks = append(f.unlocks, unlock)
}

func (f *fakeUnlockFanout) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.unlocks)
}

func newTestValidator(t *testing.T, fc *clockwork.FakeClock) (*App, *fakeSyncRepo, *fakePulseProvider, *fakeUnlockFanout, *timeserver.TimeServer) {
	t.Helper()

	repo := newFakeSyncRepo()
	pulses := &fakePulseProvider{}
	fanout := &fakeUnlockFanout{}
	timeSrv := timeserver.New(fc)
	notifier := notify.NewMockNotifier(slog.New(slog.NewTextHandler(io.Discard, nil)))
	store := config.NewStore(config.Default(), "")

	app := NewApp(repo, timeSrv, pulses, notifier, fanout, store)
	return app, repo, pulses, fanout, timeSrv
}

// activePulse returns a broadcast pulse whose total allowed window is
// windowStart + windowEnd milliseconds around its scheduled time.
func activePulse(scheduled time.Time, windowStartMs, windowEndMs int64) *models.Pulse {
	broadcast := scheduled
	return &models.Pulse{
		ID:                  uuid.New(),
		ScheduledTime:       scheduled,
		ActualBroadcastTime: &broadcast,
		WindowStartMs:       windowStartMs,
		WindowEndMs:         windowEndMs,
		IsActive:            true,
		Status:              models.PulseStatusBroadcast,
	}
}

func TestProcessSyncAttemptJudgesTiming(t *testing.T) {
	scheduled := time.Date(2025, 6, 15, 17, 0, 0, 0, time.UTC)

	tests := []struct {
		name             string
		clientOffsetMs   int64
		latencyMs        *int64
		wantSuccess      bool
		wantRawDiff      int64
		wantAdjustedDiff int64
	}{
		{
			name:             "late but saved by latency credit",
			clientOffsetMs:   2500,
			latencyMs:        int64Ptr(800),
			wantSuccess:      true,
			wantRawDiff:      2500,
			wantAdjustedDiff: 2100,
		},
		{
			name:             "too far off",
			clientOffsetMs:   5000,
			latencyMs:        int64Ptr(0),
			wantSuccess:      false,
			wantRawDiff:      5000,
			wantAdjustedDiff: 5000,
		},
		{
			name:             "exactly on the boundary counts",
			clientOffsetMs:   3000,
			latencyMs:        int64Ptr(0),
			wantSuccess:      true,
			wantRawDiff:      3000,
			wantAdjustedDiff: 3000,
		},
		{
			name:             "one past the boundary fails",
			clientOffsetMs:   3001,
			latencyMs:        int64Ptr(0),
			wantSuccess:      false,
			wantRawDiff:      3001,
			wantAdjustedDiff: 3001,
		},
		{
			name:             "early attempt judged by magnitude",
			clientOffsetMs:   -2000,
			latencyMs:        int64Ptr(0),
			wantSuccess:      true,
			wantRawDiff:      2000,
			wantAdjustedDiff: 2000,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc := clockwork.NewFakeClockAt(scheduled.Add(time.Second))
			app, _, provider, _, _ := newTestValidator(t, fc)
			provider.active = activePulse(scheduled, 1500, 1500)

			result, err := app.ProcessSyncAttempt(context.Background(), SyncAttemptRequest{
				UserID:           "user-1",
				ClientTimestamp:  scheduled.Add(time.Duration(tt.clientOffsetMs) * time.Millisecond),
				NetworkLatencyMs: tt.latencyMs,
			})
			require.NoError(t, err)

			assert.Equal(t, tt.wantSuccess, result.Success)
			assert.Equal(t, tt.wantSuccess, result.WithinWindow)
			assert.Equal(t, tt.wantRawDiff, result.TimeDifferenceMs)
			assert.Equal(t, tt.wantAdjustedDiff, result.AdjustedDifferenceMs)
			assert.Equal(t, int64(3000), result.AllowedWindowMs)
		})
	}
}

func int64Ptr(v int64) *int64 { return &v }

func TestProcessSyncAttemptRequiresActivePulse(t *testing.T) {
	fc := clockwork.NewFakeClockAt(time.Date(2025, 6, 15, 17, 0, 0, 0, time.UTC))
	app, _, _, _, _ := newTestValidator(t, fc)

	_, err := app.ProcessSyncAttempt(context.Background(), SyncAttemptRequest{
		UserID:          "user-1",
		ClientTimestamp: fc.Now(),
	})
	assert.ErrorIs(t, err, ErrNoPulseActive)
}

func TestProcessSyncAttemptTargetsNamedPulse(t *testing.T) {
	scheduled := time.Date(2025, 6, 15, 17, 0, 0, 0, time.UTC)
	fc := clockwork.NewFakeClockAt(scheduled.Add(time.Second))
	app, _, provider, _, _ := newTestValidator(t, fc)
	provider.active = activePulse(scheduled, 1500, 1500)

	result, err := app.ProcessSyncAttempt(context.Background(), SyncAttemptRequest{
		UserID:           "user-1",
		PulseID:          provider.active.ID,
		ClientTimestamp:  scheduled.Add(500 * time.Millisecond),
		NetworkLatencyMs: int64Ptr(0),
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, provider.active.ID, result.PulseID)

	_, err = app.ProcessSyncAttempt(context.Background(), SyncAttemptRequest{
		UserID:          "user-1",
		PulseID:         uuid.New(),
		ClientTimestamp: scheduled,
	})
	assert.ErrorIs(t, err, ErrPulseNotFound)
}

func TestProcessSyncAttemptValidatesInput(t *testing.T) {
	fc := clockwork.NewFakeClockAt(time.Date(2025, 6, 15, 17, 0, 0, 0, time.UTC))
	app, _, _, _, _ := newTestValidator(t, fc)

	_, err := app.ProcessSyncAttempt(context.Background(), SyncAttemptRequest{
		ClientTimestamp: fc.Now(),
	})
	assert.ErrorIs(t, err, ErrMissingUserID)

	_, err = app.ProcessSyncAttempt(context.Background(), SyncAttemptRequest{
		UserID: "user-1",
	})
	assert.ErrorIs(t, err, ErrInvalidTimestamp)
}

func TestProcessSyncAttemptCapsLatencyCredit(t *testing.T) {
	scheduled := time.Date(2025, 6, 15, 17, 0, 0, 0, time.UTC)
	fc := clockwork.NewFakeClockAt(scheduled.Add(time.Second))
	app, _, provider, _, _ := newTestValidator(t, fc)
	provider.active = activePulse(scheduled, 1500, 1500)

	// Default max latency is 10000ms, so the credit is at most 5000ms.
	// A claimed 60s round trip cannot turn an 8.2s miss into a hit.
	result, err := app.ProcessSyncAttempt(context.Background(), SyncAttemptRequest{
		UserID:           "user-1",
		ClientTimestamp:  scheduled.Add(8200 * time.Millisecond),
		NetworkLatencyMs: int64Ptr(60000),
	})
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, int64(10000), result.NetworkLatencyMs)
	assert.Equal(t, int64(3200), result.AdjustedDifferenceMs)
}

func TestProcessSyncAttemptDefaultsLatencyFromReceiptGap(t *testing.T) {
	scheduled := time.Date(2025, 6, 15, 17, 0, 0, 0, time.UTC)
	fc := clockwork.NewFakeClockAt(scheduled.Add(time.Second))
	app, _, provider, _, _ := newTestValidator(t, fc)
	provider.active = activePulse(scheduled, 1500, 1500)

	// No reported latency: the 1s gap between the client stamp and
	// receipt stands in, crediting 500ms.
	result, err := app.ProcessSyncAttempt(context.Background(), SyncAttemptRequest{
		UserID:          "user-1",
		ClientTimestamp: scheduled,
	})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, int64(1000), result.NetworkLatencyMs)
	assert.Equal(t, int64(0), result.TimeDifferenceMs)
}

func TestFirstSuccessUnlocksOnceOnly(t *testing.T) {
	scheduled := time.Date(2025, 6, 15, 17, 0, 0, 0, time.UTC)
	fc := clockwork.NewFakeClockAt(scheduled.Add(time.Second))
	app, repo, provider, fanout, _ := newTestValidator(t, fc)
	provider.active = activePulse(scheduled, 1500, 1500)

	req := SyncAttemptRequest{
		UserID:           "user-1",
		ClientTimestamp:  scheduled.Add(500 * time.Millisecond),
		NetworkLatencyMs: int64Ptr(0),
	}

	first, err := app.ProcessSyncAttempt(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, first.Success)
	assert.True(t, first.CapsuleUnlocked)
	assert.Contains(t, first.Message, "unlocked")

	second, err := app.ProcessSyncAttempt(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.Success)
	assert.False(t, second.CapsuleUnlocked)
	assert.NotContains(t, second.Message, "unlocked")

	assert.Equal(t, 1, repo.unlockCount())
	assert.Equal(t, 1, fanout.count())
}

func TestConcurrentSuccessesDistinctUsers(t *testing.T) {
	scheduled := time.Date(2025, 6, 15, 17, 0, 0, 0, time.UTC)
	fc := clockwork.NewFakeClockAt(scheduled.Add(time.Second))
	app, repo, provider, _, _ := newTestValidator(t, fc)
	provider.active = activePulse(scheduled, 1500, 1500)

	const users = 500
	var wg sync.WaitGroup
	unlocked := make([]bool, users)
	for i := 0; i < users; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := app.ProcessSyncAttempt(context.Background(), SyncAttemptRequest{
				UserID:           fmt.Sprintf("user-%d", i),
				ClientTimestamp:  scheduled.Add(time.Duration(i%3000) * time.Millisecond),
				NetworkLatencyMs: int64Ptr(0),
			})
			if assert.NoError(t, err) {
				unlocked[i] = result.CapsuleUnlocked
			}
		}(i)
	}
	wg.Wait()

	for i, u := range unlocked {
		assert.True(t, u, "user %d should have unlocked", i)
	}
	assert.Equal(t, users, repo.unlockCount())

	total, successful := provider.counters()
	assert.Equal(t, int64(users), total)
	assert.Equal(t, int64(users), successful)
}

func TestConcurrentSuccessesSameUserUnlockOnce(t *testing.T) {
	scheduled := time.Date(2025, 6, 15, 17, 0, 0, 0, time.UTC)
	fc := clockwork.NewFakeClockAt(scheduled.Add(time.Second))
	app, repo, provider, fanout, _ := newTestValidator(t, fc)
	provider.active = activePulse(scheduled, 1500, 1500)

	const attempts = 50
	var wg sync.WaitGroup
	results := make([]*SyncResult, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := app.ProcessSyncAttempt(context.Background(), SyncAttemptRequest{
				UserID:           "racer",
				ClientTimestamp:  scheduled.Add(time.Second),
				NetworkLatencyMs: int64Ptr(0),
			})
			if assert.NoError(t, err) {
				results[i] = result
			}
		}(i)
	}
	wg.Wait()

	unlocks := 0
	for _, r := range results {
		require.NotNil(t, r)
		assert.True(t, r.Success)
		if r.CapsuleUnlocked {
			unlocks++
		}
	}
	assert.Equal(t, 1, unlocks)
	assert.Equal(t, 1, repo.unlockCount())
	assert.Equal(t, 1, fanout.count())
}

func TestRecordNTPSync(t *testing.T) {
	base := time.Date(2025, 6, 15, 17, 0, 0, 0, time.UTC)
	fc := clockwork.NewFakeClockAt(base)
	app, repo, _, _, timeSrv := newTestValidator(t, fc)

	// Client clock runs 155ms behind: T1-T0 = 255, T2-T3 = 55.
	logEntry, err := app.RecordNTPSync(context.Background(), NTPSyncRequest{
		UserID:         "user-1",
		ClientSent:     base.Add(-255 * time.Millisecond),
		ServerReceived: base,
		ServerSent:     base.Add(10 * time.Millisecond),
		ClientReceived: base.Add(-45 * time.Millisecond),
	})
	require.NoError(t, err)

	assert.Equal(t, int64(155), logEntry.ClockOffsetMs)
	assert.Equal(t, int64(210), logEntry.RoundTripTimeMs)
	assert.Equal(t, int64(155), timeSrv.OffsetMs())

	repo.mu.Lock()
	assert.Len(t, repo.ntpLogs, 1)
	repo.mu.Unlock()
}

func TestRecordNTPSyncStampsServerTimes(t *testing.T) {
	base := time.Date(2025, 6, 15, 17, 0, 0, 0, time.UTC)
	fc := clockwork.NewFakeClockAt(base)
	app, _, _, _, _ := newTestValidator(t, fc)

	logEntry, err := app.RecordNTPSync(context.Background(), NTPSyncRequest{
		UserID:         "user-1",
		ClientSent:     base.Add(-100 * time.Millisecond),
		ClientReceived: base.Add(-50 * time.Millisecond),
	})
	require.NoError(t, err)

	assert.Equal(t, base, logEntry.ServerReceivedTime)
	assert.Equal(t, base, logEntry.ServerSentTime)
}

func TestRecordNTPSyncValidatesInput(t *testing.T) {
	fc := clockwork.NewFakeClockAt(time.Date(2025, 6, 15, 17, 0, 0, 0, time.UTC))
	app, _, _, _, _ := newTestValidator(t, fc)

	_, err := app.RecordNTPSync(context.Background(), NTPSyncRequest{
		ClientSent:     fc.Now(),
		ClientReceived: fc.Now(),
	})
	assert.ErrorIs(t, err, ErrMissingUserID)

	_, err = app.RecordNTPSync(context.Background(), NTPSyncRequest{UserID: "user-1"})
	assert.ErrorIs(t, err, ErrInvalidTimestamp)

	// Client received before it sent: non-positive round trip.
	_, err = app.RecordNTPSync(context.Background(), NTPSyncRequest{
		UserID:         "user-1",
		ClientSent:     fc.Now(),
		ClientReceived: fc.Now().Add(-time.Second),
	})
	assert.ErrorIs(t, err, ErrInvalidTimestamp)
}

func TestGetUserSyncStatus(t *testing.T) {
	scheduled := time.Date(2025, 6, 15, 17, 0, 0, 0, time.UTC)
	fc := clockwork.NewFakeClockAt(scheduled.Add(time.Second))
	app, _, provider, _, _ := newTestValidator(t, fc)
	provider.active = activePulse(scheduled, 1500, 1500)

	status, err := app.GetUserSyncStatus(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), status.TotalAttempts)
	assert.False(t, status.Unlocked)

	// A miss, then a hit.
	_, err = app.ProcessSyncAttempt(context.Background(), SyncAttemptRequest{
		UserID:           "user-1",
		ClientTimestamp:  scheduled.Add(9 * time.Second),
		NetworkLatencyMs: int64Ptr(0),
	})
	require.NoError(t, err)
	_, err = app.ProcessSyncAttempt(context.Background(), SyncAttemptRequest{
		UserID:           "user-1",
		ClientTimestamp:  scheduled.Add(time.Second),
		NetworkLatencyMs: int64Ptr(0),
	})
	require.NoError(t, err)

	status, err = app.GetUserSyncStatus(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), status.TotalAttempts)
	assert.True(t, status.Unlocked)
	require.NotNil(t, status.Unlock)
	assert.Equal(t, "user-1", status.Unlock.UserID)
	assert.Equal(t, int64(2), status.Unlock.TotalAttempts)
}

func TestGetUserBestSync(t *testing.T) {
	scheduled := time.Date(2025, 6, 15, 17, 0, 0, 0, time.UTC)
	fc := clockwork.NewFakeClockAt(scheduled.Add(time.Second))
	app, _, provider, _, _ := newTestValidator(t, fc)
	provider.active = activePulse(scheduled, 1500, 1500)

	best, err := app.GetUserBestSync(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Nil(t, best)

	for _, offset := range []int64{2500, 300, 1200} {
		_, err := app.ProcessSyncAttempt(context.Background(), SyncAttemptRequest{
			UserID:           "user-1",
			ClientTimestamp:  scheduled.Add(time.Duration(offset) * time.Millisecond),
			NetworkLatencyMs: int64Ptr(0),
		})
		require.NoError(t, err)
	}

	best, err = app.GetUserBestSync(context.Background(), "user-1")
	require.NoError(t, err)
	require.NotNil(t, best)
	assert.Equal(t, int64(300), best.TimeDifferenceMs)
}

func TestGetGlobalSyncStats(t *testing.T) {
	scheduled := time.Date(2025, 6, 15, 17, 0, 0, 0, time.UTC)
	fc := clockwork.NewFakeClockAt(scheduled.Add(time.Second))
	app, _, provider, _, _ := newTestValidator(t, fc)
	provider.active = activePulse(scheduled, 1500, 1500)

	for i, offset := range []int64{500, 9000, 1500} {
		_, err := app.ProcessSyncAttempt(context.Background(), SyncAttemptRequest{
			UserID:           fmt.Sprintf("user-%d", i%2),
			ClientTimestamp:  scheduled.Add(time.Duration(offset) * time.Millisecond),
			NetworkLatencyMs: int64Ptr(0),
		})
		require.NoError(t, err)
	}

	stats, err := app.GetGlobalSyncStats(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 7, stats.WindowDays)
	assert.Equal(t, int64(3), stats.TotalAttempts)
	assert.Equal(t, int64(2), stats.SuccessfulAttempts)
	assert.Equal(t, int64(2), stats.UniqueUsers)
	assert.Equal(t, int64(2), stats.TotalUnlocks)
	assert.InDelta(t, 2.0/3.0, stats.SuccessRate, 1e-9)
}
