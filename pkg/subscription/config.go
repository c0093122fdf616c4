package subscription

import (
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/mash-protocol/mash-sync/pkg/log"
	"github.com/mash-protocol/mash-sync/pkg/wire"
)

// Subscription errors.
var (
	ErrTooManyHandlers = errors.New("maximum subscription handlers reached")
	ErrTooManyClients  = errors.New("maximum subscription clients reached")
	ErrInvalidState    = errors.New("operation not valid in current state")
	ErrUnhandled       = errors.New("message not handled by subscription engine")
	ErrReentrant       = errors.New("re-entrant message dispatch")
	ErrNoPaths         = errors.New("subscription has no paths")
)

// Defaults.
const (
	DefaultMaxHandlers       = 8
	DefaultMaxClients        = 8
	DefaultPathStoreCapacity = 64
	DefaultMaxNotifySize     = 2048
	DefaultLivenessTimeout   = 60 * time.Second
	DefaultResponseTimeout   = 10 * time.Second
	DefaultMaxEncodeOverruns = 3
)

// Config configures an Engine.
type Config struct {
	// MaxHandlers bounds concurrently served subscriptions.
	MaxHandlers int

	// MaxClients bounds concurrently held outbound subscriptions.
	MaxClients int

	// PathStoreCapacity is the dirty-set size of each handler.
	PathStoreCapacity int

	// MaxNotifySize is the byte budget of one NotifyRequest envelope.
	MaxNotifySize int

	// LivenessTimeout applies when a request does not name one.
	LivenessTimeout time.Duration

	// HeartbeatInterval is the idle time after which a handler sends a
	// heartbeat. Zero means a third of the liveness timeout.
	HeartbeatInterval time.Duration

	// ResponseTimeout bounds the wait for SubscribeResponse,
	// NotifyResponse and CancelResponse.
	ResponseTimeout time.Duration

	// MaxEncodeOverruns is the number of overruns of one path after which
	// the subscription is terminated.
	MaxEncodeOverruns int

	// Backoff configures client resubscription.
	Backoff BackoffConfig

	// Logger is the optional logger for debug output.
	Logger *slog.Logger

	// Trace receives protocol trace events. Nil disables tracing.
	Trace log.Logger
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		MaxHandlers:       DefaultMaxHandlers,
		MaxClients:        DefaultMaxClients,
		PathStoreCapacity: DefaultPathStoreCapacity,
		MaxNotifySize:     DefaultMaxNotifySize,
		LivenessTimeout:   DefaultLivenessTimeout,
		ResponseTimeout:   DefaultResponseTimeout,
		MaxEncodeOverruns: DefaultMaxEncodeOverruns,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxHandlers <= 0 {
		c.MaxHandlers = d.MaxHandlers
	}
	if c.MaxClients <= 0 {
		c.MaxClients = d.MaxClients
	}
	if c.PathStoreCapacity <= 0 {
		c.PathStoreCapacity = d.PathStoreCapacity
	}
	if c.MaxNotifySize <= 0 {
		c.MaxNotifySize = d.MaxNotifySize
	}
	if c.LivenessTimeout <= 0 {
		c.LivenessTimeout = d.LivenessTimeout
	}
	// The timeout travels as uint32 milliseconds.
	c.LivenessTimeout = min(c.LivenessTimeout, maxWireDuration)
	if c.ResponseTimeout <= 0 {
		c.ResponseTimeout = d.ResponseTimeout
	}
	if c.MaxEncodeOverruns <= 0 {
		c.MaxEncodeOverruns = d.MaxEncodeOverruns
	}
	c.Trace = log.OrNoop(c.Trace)
	return c
}

// heartbeatFor returns the heartbeat interval for a liveness timeout.
func (c Config) heartbeatFor(liveness time.Duration) time.Duration {
	if c.HeartbeatInterval > 0 && c.HeartbeatInterval < liveness {
		return c.HeartbeatInterval
	}
	return liveness / 3
}

// PeerID identifies a remote endpoint.
type PeerID string

// Sender delivers protocol messages to a peer. Send must not call back into
// the engine synchronously.
type Sender interface {
	Send(peer PeerID, msg wire.Message) error
}

// maxWireDuration is the longest duration a uint32 millisecond field holds.
const maxWireDuration = time.Duration(math.MaxUint32) * time.Millisecond

// toMillis converts d for a uint32 millisecond wire field, clamping
// instead of wrapping.
func toMillis(d time.Duration) uint32 {
	switch {
	case d <= 0:
		return 0
	case d >= maxWireDuration:
		return math.MaxUint32
	}
	return uint32(d / time.Millisecond)
}

func fromMillis(ms uint32) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
