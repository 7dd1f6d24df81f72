package gateway

import (
	"time"

	"github.com/mcdev12/timesync/go/internal/models"
)

// Fanout adapts the connection manager to the broadcast interfaces the
// pulse and validator layers expect, keeping those layers free of any
// transport types.
type Fanout struct {
	cm *ConnectionManager
}

// NewFanout creates a broadcast adapter over the connection manager
func NewFanout(cm *ConnectionManager) *Fanout {
	return &Fanout{cm: cm}
}

// BroadcastPulse pushes a live pulse to every connected session.
func (f *Fanout) BroadcastPulse(pulse *models.Pulse, serverTime time.Time) {
	payload := SyncPulsePayload{
		PulseID:         pulse.ID.String(),
		ScheduledTimeMs: pulse.ScheduledTime.UnixMilli(),
		ServerTimeMs:    serverTime.UnixMilli(),
		WindowStartMs:   pulse.WindowStartMs,
		WindowEndMs:     pulse.WindowEndMs,
		AllowedWindowMs: pulse.AllowedWindowMs(),
		Description:     pulse.Description,
	}
	if pulse.ActualBroadcastTime != nil {
		payload.ActualBroadcastTimeMs = pulse.ActualBroadcastTime.UnixMilli()
	}
	f.cm.Broadcast(NewSyncEvent(EventTypeSyncPulse, payload))
}

// BroadcastUnlock pushes an unlock celebration to every connected session.
func (f *Fanout) BroadcastUnlock(unlock *models.Unlock) {
	f.cm.Broadcast(NewSyncEvent(EventTypeCapsuleUnlocked, CapsuleUnlockedPayload{
		UserID:           unlock.UserID,
		PulseID:          unlock.PulseID.String(),
		UnlockedAtMs:     unlock.UnlockedAt.UnixMilli(),
		TimingAccuracyMs: unlock.TimingAccuracyMs,
		TotalAttempts:    unlock.TotalAttempts,
	}))
}

// ActiveSessions reports the number of live sessions.
func (f *Fanout) ActiveSessions() int {
	return f.cm.ActiveSessions()
}
