// Package loop implements the protocol thread.
//
// A single goroutine owns the catalog, path stores, subscription state
// machines and the event log. Other goroutines never call into those
// structures directly; they Post a work item which the loop runs in order.
// Timers armed through the loop deliver their callback as a work item too,
// so every callback observes the same single-writer discipline.
package loop

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/mash-protocol/mash-sync/pkg/clock"
)

// Loop errors.
var (
	ErrStopped   = errors.New("loop stopped")
	ErrQueueFull = errors.New("loop queue full")
)

// DefaultQueueSize is the default capacity of the work queue.
const DefaultQueueSize = 256

// Config configures a Loop.
type Config struct {
	// Clock is the time source for timers. Defaults to clock.Real().
	Clock clock.Clock

	// QueueSize is the work queue capacity.
	QueueSize int

	// Inline runs posted work synchronously on the posting goroutine.
	// Work posted while another item is running is queued behind it.
	// Used by tests together with clock.Fake.
	Inline bool

	// Strict makes Guard violations panic instead of being logged.
	Strict bool

	// Logger is the optional logger for debug output.
	Logger *slog.Logger
}

// Loop is a serial work queue with timer support.
type Loop struct {
	clock  clock.Clock
	logger *slog.Logger
	strict bool
	inline bool

	queue chan func()

	mu       sync.Mutex
	stopped  bool
	running  bool
	inlineQ  []func()
	executed uint64
}

// New creates a loop. Call Run to start consuming work unless Inline is set.
func New(config Config) *Loop {
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultQueueSize
	}
	return &Loop{
		clock:  config.Clock,
		logger: config.Logger,
		strict: config.Strict,
		inline: config.Inline,
		queue:  make(chan func(), config.QueueSize),
	}
}

// Clock returns the loop's time source.
func (l *Loop) Clock() clock.Clock {
	return l.clock
}

// Now returns the current time of the loop's clock.
func (l *Loop) Now() time.Time {
	return l.clock.Now()
}

// Post schedules fn to run on the protocol thread. Safe for concurrent use.
func (l *Loop) Post(fn func()) error {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return ErrStopped
	}
	if l.inline {
		l.inlineQ = append(l.inlineQ, fn)
		if l.running {
			l.mu.Unlock()
			return nil
		}
		l.running = true
		l.mu.Unlock()
		l.drainInline()
		return nil
	}
	defer l.mu.Unlock()

	// The send happens under mu so Stop cannot close the queue under us.
	select {
	case l.queue <- fn:
		return nil
	default:
		return ErrQueueFull
	}
}

// drainInline runs queued inline work until the queue is empty.
func (l *Loop) drainInline() {
	for {
		l.mu.Lock()
		if len(l.inlineQ) == 0 {
			l.running = false
			l.mu.Unlock()
			return
		}
		fn := l.inlineQ[0]
		l.inlineQ = l.inlineQ[1:]
		l.executed++
		l.mu.Unlock()

		fn()
	}
}

// AfterFunc arms a timer whose callback runs on the protocol thread.
func (l *Loop) AfterFunc(d time.Duration, fn func()) clock.Timer {
	return l.clock.AfterFunc(d, func() {
		if err := l.Post(fn); err != nil {
			l.debugLog("loop: dropping timer callback", "error", err)
		}
	})
}

// Run consumes work items until ctx is done or Stop is called.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return errors.New("loop already running")
	}
	l.running = true
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.running = false
		l.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			l.Stop()
			return ctx.Err()
		case fn, ok := <-l.queue:
			if !ok {
				return nil
			}
			l.mu.Lock()
			l.executed++
			l.mu.Unlock()
			fn()
		}
	}
}

// Stop prevents further Posts. Items already queued are discarded when Run
// returns. It is safe to call Stop multiple times.
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return
	}
	l.stopped = true
	if !l.inline {
		close(l.queue)
	}
}

// Executed returns the number of work items run so far.
func (l *Loop) Executed() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.executed
}

// NewGuard returns a re-entrancy guard configured like this loop.
func (l *Loop) NewGuard(name string) *Guard {
	return &Guard{name: name, strict: l.strict, logger: l.logger}
}

func (l *Loop) debugLog(msg string, args ...any) {
	if l.logger != nil {
		l.logger.Debug(msg, args...)
	}
}
