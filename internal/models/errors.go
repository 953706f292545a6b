package models

import (
	"errors"
	"fmt"
)

var (
	// ErrTransientFetch marks a network or timeout failure talking to a feed.
	// The fixture is retried next cycle with its state untouched.
	ErrTransientFetch = errors.New("transient fetch error")
	// ErrDataShape marks a feed row missing expected fields.
	ErrDataShape = errors.New("unexpected data shape")
	// ErrDuplicateAlert is returned by storage when fixture+tier already has an alert.
	ErrDuplicateAlert = errors.New("duplicate alert")
	// ErrSettlementAmbiguous means the final statistics are not available yet.
	ErrSettlementAmbiguous = errors.New("settlement ambiguous")
	// ErrAlreadyGraded is returned when an alert already carries a result.
	ErrAlreadyGraded = errors.New("alert already graded")
	// ErrNotFound is returned by lookups that match no row.
	ErrNotFound = errors.New("not found")
)

// FixtureError is a per-fixture, non-fatal failure collected during a cycle or pass.
type FixtureError struct {
	FixtureID int64
	Stage     string
	Err       error
}

func (e FixtureError) Error() string {
	return fmt.Sprintf("fixture %d (%s): %v", e.FixtureID, e.Stage, e.Err)
}

func (e FixtureError) Unwrap() error {
	return e.Err
}

// ErrorKind classifies err into the taxonomy used for logging and metrics.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrTransientFetch):
		return "transient_fetch"
	case errors.Is(err, ErrDataShape):
		return "data_shape"
	case errors.Is(err, ErrDuplicateAlert):
		return "duplicate_alert"
	case errors.Is(err, ErrSettlementAmbiguous):
		return "settlement_ambiguous"
	default:
		return "other"
	}
}
