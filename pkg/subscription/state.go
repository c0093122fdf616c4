package subscription

import "time"

// State is the state of a handler or client.
type State uint8

const (
	StateIdle State = iota
	StateSubscribePending
	StateSubscribeInProgress
	StateEstablished
	StateAborting
	StateCanceling
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateSubscribePending:
		return "SUBSCRIBE_PENDING"
	case StateSubscribeInProgress:
		return "SUBSCRIBE_IN_PROGRESS"
	case StateEstablished:
		return "ESTABLISHED"
	case StateAborting:
		return "ABORTING"
	case StateCanceling:
		return "CANCELING"
	default:
		return "UNKNOWN"
	}
}

// Side tells whether an event comes from a handler or a client.
type Side uint8

const (
	SideHandler Side = iota
	SideClient
)

// String returns the side name.
func (s Side) String() string {
	if s == SideClient {
		return "client"
	}
	return "handler"
}

// EventKind classifies engine events.
type EventKind uint8

const (
	// EventEstablished is emitted when a subscription reaches Established.
	EventEstablished EventKind = iota

	// EventTerminated is emitted when a subscription returns to Idle
	// without a pending resubscribe.
	EventTerminated

	// EventResubscribeScheduled is emitted when a client arms its
	// resubscribe timer. Delay holds the chosen backoff.
	EventResubscribeScheduled

	// EventNotifySent is emitted for every NotifyRequest a handler sends.
	EventNotifySent
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case EventEstablished:
		return "established"
	case EventTerminated:
		return "terminated"
	case EventResubscribeScheduled:
		return "resubscribe_scheduled"
	case EventNotifySent:
		return "notify_sent"
	default:
		return "unknown"
	}
}

// Event reports an observable subscription transition.
type Event struct {
	Kind           EventKind
	Side           Side
	Peer           PeerID
	SubscriptionID uint64

	// Reason is the status that ended a subscription.
	Reason string

	// Delay is set for EventResubscribeScheduled.
	Delay time.Duration

	// Elements and Bytes are set for EventNotifySent.
	Elements int
	Bytes    int
}
