package core

import (
	"fmt"
	"time"
)

// TimestampValidator enforces that applied events never go back in time.
// Equal timestamps are accepted; several operations may share one "now".
// Not thread-safe; guarded by the core mutex.
type TimestampValidator struct {
	last time.Time
}

func NewTimestampValidator() *TimestampValidator {
	return &TimestampValidator{}
}

// Check rejects ts if it precedes the last accepted timestamp
func (tv *TimestampValidator) Check(ts time.Time) error {
	if ts.IsZero() {
		return fmt.Errorf("%w: zero timestamp", ErrClockRegression)
	}
	if ts.Before(tv.last) {
		return fmt.Errorf("%w: got %s, last %s",
			ErrClockRegression, ts.Format(time.RFC3339Nano), tv.last.Format(time.RFC3339Nano))
	}
	return nil
}

// Advance records ts as applied
func (tv *TimestampValidator) Advance(ts time.Time) {
	if ts.After(tv.last) {
		tv.last = ts
	}
}

func (tv *TimestampValidator) Last() time.Time {
	return tv.last
}

// Restore sets the watermark from a snapshot
func (tv *TimestampValidator) Restore(ts time.Time) {
	tv.last = ts
}
