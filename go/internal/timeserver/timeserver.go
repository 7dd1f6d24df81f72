package timeserver

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// TimeServer is the single source of truth for "now", corrected for the
// estimated clock skew, and for the arithmetic that decides sync success.
//
// The offset is a single scalar read on every request and written only on
// NTP syncs, so it lives in an atomic rather than behind a mutex. Updates
// are last-writer-wins with no averaging or outlier filtering; a bad sample
// from one client skews the shared clock until the next sync.
type TimeServer struct {
	clock    clockwork.Clock
	offsetMs atomic.Int64
}

// New creates a TimeServer on top of the given clock. Use
// clockwork.NewRealClock() in production and a fake clock in tests.
func New(clock clockwork.Clock) *TimeServer {
	return &TimeServer{clock: clock}
}

// Now returns the corrected server time: wall clock plus the current NTP
// offset. It never fails; before the first sync the offset is zero.
func (ts *TimeServer) Now() time.Time {
	return ts.clock.Now().Add(time.Duration(ts.offsetMs.Load()) * time.Millisecond)
}

// OffsetMs returns the current clock offset in milliseconds.
func (ts *TimeServer) OffsetMs() int64 {
	return ts.offsetMs.Load()
}

// NTPResult holds the derived values of a four-timestamp exchange.
type NTPResult struct {
	ClockOffsetMs   int64 `json:"clock_offset_ms"`
	RoundTripTimeMs int64 `json:"round_trip_time_ms"`
}

// PerformNTPSync runs the standard four-timestamp NTP offset estimator:
//
//	roundTrip = clientReceived - clientSent
//	offset    = ((serverReceived - clientSent) + (serverSent - clientReceived)) / 2
//
// Side effect: the shared offset is replaced with the new estimate.
// Timestamp validation happens at the boundary, not here.
func (ts *TimeServer) PerformNTPSync(clientSent, serverReceived, serverSent, clientReceived time.Time) NTPResult {
	roundTrip := clientReceived.Sub(clientSent).Milliseconds()
	offset := (serverReceived.Sub(clientSent).Milliseconds() + serverSent.Sub(clientReceived).Milliseconds()) / 2

	ts.offsetMs.Store(offset)

	log.Debug().
		Int64("clock_offset_ms", offset).
		Int64("round_trip_ms", roundTrip).
		Msg("ntp offset updated")

	return NTPResult{
		ClockOffsetMs:   offset,
		RoundTripTimeMs: roundTrip,
	}
}

// TimingResult is the outcome of judging one attempt against a pulse window.
type TimingResult struct {
	TimeDifferenceMs     int64 `json:"time_difference_ms"`
	AdjustedDifferenceMs int64 `json:"adjusted_difference_ms"`
	WithinWindow         bool  `json:"within_window"`
}

// ValidateSyncTiming decides whether a client's reported action time falls
// inside the pulse window once network latency is accounted for:
//
//	raw      = |clientTimestamp - pulseScheduledTime|
//	adjusted = max(0, raw - networkLatency/2)
//	within   = adjusted <= windowMs
//
// Half the latency is credited to the client: its locally-stamped action
// time reaches the server only after at least one-way transit.
// serverTimestamp is recorded with the attempt but does not enter the
// window arithmetic.
func (ts *TimeServer) ValidateSyncTiming(clientTimestamp, serverTimestamp, pulseScheduledTime time.Time, windowMs, networkLatencyMs int64) TimingResult {
	raw := clientTimestamp.Sub(pulseScheduledTime).Milliseconds()
	if raw < 0 {
		raw = -raw
	}

	adjusted := raw - networkLatencyMs/2
	if adjusted < 0 {
		adjusted = 0
	}

	return TimingResult{
		TimeDifferenceMs:     raw,
		AdjustedDifferenceMs: adjusted,
		WithinWindow:         adjusted <= windowMs,
	}
}

// TimeUntilNextPulse computes the next UTC occurrence of an HH:MM:SS
// time-of-day, rolling to tomorrow when today's occurrence has passed.
// Returns the occurrence and the milliseconds until it, measured against
// the corrected clock.
func (ts *TimeServer) TimeUntilNextPulse(dailyTimeOfDay string) (time.Time, int64, error) {
	tod, err := time.Parse("15:04:05", dailyTimeOfDay)
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("invalid daily pulse time %q: %w", dailyTimeOfDay, err)
	}

	now := ts.Now().UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), tod.Hour(), tod.Minute(), tod.Second(), 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}

	return next, next.Sub(now).Milliseconds(), nil
}
