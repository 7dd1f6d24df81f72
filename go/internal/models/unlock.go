package models

import (
	"time"

	"github.com/google/uuid"
)

// Unlock records a user's first successful sync. user_id carries a unique
// constraint in the store, so at most one row exists per user, ever.
type Unlock struct {
	ID                  uuid.UUID `json:"id"`
	UserID              string    `json:"user_id"`
	PulseID             uuid.UUID `json:"pulse_id"`
	SuccessfulAttemptID uuid.UUID `json:"successful_attempt_id"`
	UnlockedAt          time.Time `json:"unlocked_at"`
	TimingAccuracyMs    int64     `json:"timing_accuracy_ms"`
	TotalAttempts       int64     `json:"total_attempts"`
}
