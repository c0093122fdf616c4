// Package counter implements a monotonic counter that survives reboot.
//
// A Persisted counter checkpoints its value to durable storage once per
// epoch instead of once per increment. The stored value is always the next
// epoch boundary beyond anything the counter can reach without another
// write, so after an unclean restart the counter resumes at or above every
// value it ever handed out. The cost is a bounded gap in the sequence.
package counter

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/mash-protocol/mash-sync/pkg/persistence"
)

// Counter errors.
var (
	ErrInvalidEpoch = errors.New("epoch must be positive")
	ErrOverflow     = errors.New("counter overflow")
)

// DefaultEpoch is the default checkpoint interval.
const DefaultEpoch = 0x10000

// Persisted is an epoch-batched persisted counter.
type Persisted struct {
	store  persistence.KVStore
	key    string
	epoch  uint32
	logger *slog.Logger

	// startingValue is the value the counter resumed from at Init.
	startingValue uint32

	// value is the current in-memory value.
	value uint32

	// nextEpoch is the value last written to storage.
	nextEpoch uint32
}

// New creates and initializes a persisted counter.
//
// The stored start value is read from store. A missing value starts at
// zero. A corrupt value starts one epoch in, trading continuity for
// forward progress. The next boundary is written before New returns.
func New(store persistence.KVStore, key string, epoch uint32, logger *slog.Logger) (*Persisted, error) {
	if epoch == 0 {
		return nil, ErrInvalidEpoch
	}
	c := &Persisted{
		store:  store,
		key:    key,
		epoch:  epoch,
		logger: logger,
	}
	if err := c.init(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Persisted) init() error {
	start, err := c.store.Read(c.key)
	switch {
	case err == nil:
		start = roundUp(start, c.epoch)
	case errors.Is(err, persistence.ErrNotFound):
		start = 0
	case errors.Is(err, persistence.ErrCorrupt):
		c.warn("counter: stored start value corrupt, restarting one epoch in", "key", c.key, "error", err)
		start = c.epoch
	default:
		return fmt.Errorf("counter %s: read start value: %w", c.key, err)
	}

	next, ok := add(start, c.epoch)
	if !ok {
		return fmt.Errorf("counter %s: %w", c.key, ErrOverflow)
	}

	c.startingValue = start
	c.value = start
	if err := c.store.Write(c.key, next); err != nil {
		return fmt.Errorf("counter %s: write start value: %w", c.key, err)
	}
	c.nextEpoch = next
	return nil
}

// Value returns the current value.
func (c *Persisted) Value() uint32 {
	return c.value
}

// StartingValue returns the value the counter resumed from.
func (c *Persisted) StartingValue() uint32 {
	return c.startingValue
}

// PersistedValue returns the start value last written to storage.
func (c *Persisted) PersistedValue() uint32 {
	return c.nextEpoch
}

// Epoch returns the checkpoint interval.
func (c *Persisted) Epoch() uint32 {
	return c.epoch
}

// Increment advances the counter by one. When the value reaches the
// persisted boundary, the next boundary is written first; if that write
// fails the increment is rolled back so the invariant still holds.
func (c *Persisted) Increment() error {
	v, ok := add(c.value, 1)
	if !ok {
		return fmt.Errorf("counter %s: %w", c.key, ErrOverflow)
	}

	if v >= c.nextEpoch {
		// v can only reach nextEpoch exactly, so the next boundary is one
		// epoch further.
		next, ok := add(c.nextEpoch, c.epoch)
		if !ok {
			return fmt.Errorf("counter %s: %w", c.key, ErrOverflow)
		}
		if err := c.store.Write(c.key, next); err != nil {
			return fmt.Errorf("counter %s: advance epoch: %w", c.key, err)
		}
		c.nextEpoch = next
	}

	c.value = v
	return nil
}

// Advance increments the counter by n.
func (c *Persisted) Advance(n uint32) error {
	for i := uint32(0); i < n; i++ {
		if err := c.Increment(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Persisted) warn(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Warn(msg, args...)
	}
}

// roundUp returns the smallest multiple of epoch that is >= v.
func roundUp(v, epoch uint32) uint32 {
	if r := v % epoch; r != 0 {
		if sum, ok := add(v, epoch-r); ok {
			return sum
		}
	}
	return v
}

func add(a, b uint32) (uint32, bool) {
	sum := a + b
	return sum, sum >= a
}
