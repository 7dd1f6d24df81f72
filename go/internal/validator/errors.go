package validator

import "errors"

var (
	// ErrNoPulseActive means a sync attempt arrived outside any pulse.
	ErrNoPulseActive = errors.New("no active pulse")

	// ErrPulseNotFound means the referenced pulse id does not exist.
	ErrPulseNotFound = errors.New("pulse not found")

	// ErrMissingUserID means the request carried no user identifier.
	ErrMissingUserID = errors.New("missing user id")

	// ErrInvalidTimestamp means a client timestamp was absent or unusable.
	ErrInvalidTimestamp = errors.New("invalid timestamp")
)
