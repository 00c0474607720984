// Package clock abstracts wall-clock time so lock expiry and sync timers can be driven deterministically in tests.
package clock

import "time"

// Clock is the time source used by the token codec, the lock state machine and the sync scheduler.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// Real implements Clock using the standard library.
type Real struct{}

// Now returns the current UTC time.
func (Real) Now() time.Time {
	return time.Now().UTC()
}

// After mirrors time.After.
func (Real) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}
