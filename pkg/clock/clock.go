// Package clock provides an injectable time source for the protocol thread.
//
// Every component that arms a timer (subscribe-response timeout, liveness
// timeout, resubscribe backoff, upload throttling) takes a Clock instead of
// calling the time package directly. Production code uses Real(); tests use
// Fake() and drive time with Advance.
package clock

import "time"

// Clock abstracts the time operations used by the sync stack.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// AfterFunc waits for duration d, then calls f. The returned Timer can
	// cancel the pending call with Stop.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a pending AfterFunc call.
type Timer interface {
	// Stop prevents the Timer from firing. Returns true if the call stops
	// the timer, false if it has already fired or been stopped.
	Stop() bool
}

// Real returns a Clock backed by the time package.
func Real() Clock {
	return realClock{}
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
