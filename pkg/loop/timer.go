package loop

import (
	"time"

	"github.com/mash-protocol/mash-sync/pkg/clock"
)

// Timer is a re-armable timer whose callback runs on the loop. A callback
// that was already queued when the timer was stopped or re-armed is
// ignored.
type Timer struct {
	loop    *Loop
	pending clock.Timer
	seq     uint64
}

// NewTimer returns a stopped timer.
func (l *Loop) NewTimer() *Timer {
	return &Timer{loop: l}
}

// Arm (re)starts the timer.
func (t *Timer) Arm(d time.Duration, fn func()) {
	t.Stop()
	seq := t.seq
	t.pending = t.loop.AfterFunc(d, func() {
		if t.seq != seq {
			return
		}
		t.pending = nil
		fn()
	})
}

// Stop cancels the timer.
func (t *Timer) Stop() {
	t.seq++
	if t.pending != nil {
		t.pending.Stop()
		t.pending = nil
	}
}

// Armed reports whether the timer is running.
func (t *Timer) Armed() bool {
	return t.pending != nil
}
