// Package clock abstracts time so the latch's hold and cooldown timers
// and the authorizer's hour windows can be driven deterministically in
// tests.
package clock

import "time"

// Clock is the subset of the time package secbot components use.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// NewTimer returns a one-shot timer that delivers on C after d.
	NewTimer(d time.Duration) *Timer
}

// Timer is a stoppable one-shot timer.
type Timer struct {
	// C receives the fire time once.
	C <-chan time.Time

	stop func() bool
}

// Stop prevents the timer from firing. It reports whether the call
// stopped the timer (false if it had already fired or been stopped).
func (t *Timer) Stop() bool {
	if t == nil {
		return false
	}
	return t.stop()
}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) NewTimer(d time.Duration) *Timer {
	t := time.NewTimer(d)
	return &Timer{C: t.C, stop: t.Stop}
}
