package poller

import "time"

// Clock interface abstracts time operations for testing
type Clock interface {
	// Now returns the current time
	Now() time.Time
	// AfterFunc waits for the duration and then calls f in its own goroutine
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a pending call that can be cancelled
type Timer interface {
	// Stop prevents the call from firing; it reports whether it did
	Stop() bool
}

// RealClock implements Clock using the real system time
type RealClock struct{}

// Now returns the current time
func (RealClock) Now() time.Time {
	return time.Now()
}

// AfterFunc wraps time.AfterFunc
func (RealClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Ensure the implementation satisfies the interface
var _ Clock = RealClock{}
