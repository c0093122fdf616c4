package log

import (
	"time"

	"github.com/mash-protocol/mash-sync/pkg/wire"
)

// Event represents a protocol trace event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// PeerID identifies the remote endpoint the event belongs to.
	PeerID string `cbor:"2,keyasint"`

	// Direction indicates message flow.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// LocalRole indicates whether the local side publishes or subscribes.
	LocalRole Role `cbor:"6,keyasint,omitempty"`

	// RemoteAddr is the peer address (IP:port).
	RemoteAddr string `cbor:"7,keyasint,omitempty"`

	// SubscriptionID is set for events tied to one subscription.
	SubscriptionID uint64 `cbor:"8,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"`
	Message     *MessageEvent     `cbor:"11,keyasint,omitempty"`
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"`
	Transfer    *TransferEvent    `cbor:"13,keyasint,omitempty"`
	Error       *ErrorEventData   `cbor:"14,keyasint,omitempty"`
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	DirectionIn  Direction = 0
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which protocol layer captured the event.
type Layer uint8

const (
	// LayerTransport is the framing layer (raw bytes).
	LayerTransport Layer = 0
	// LayerWire is the message encoding layer (decoded CBOR).
	LayerWire Layer = 1
	// LayerEngine is the subscription engine and uploader.
	LayerEngine Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerWire:
		return "WIRE"
	case LayerEngine:
		return "ENGINE"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryMessage is a subscription protocol message.
	CategoryMessage Category = 0
	// CategoryTransfer is a block-transfer step of a log upload.
	CategoryTransfer Category = 1
	// CategoryState is a state machine transition.
	CategoryState Category = 2
	// CategoryError is an error at any layer.
	CategoryError Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryTransfer:
		return "TRANSFER"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Role indicates which side of a subscription the local endpoint plays.
type Role uint8

const (
	// RolePublisher serves subscriptions (handler side).
	RolePublisher Role = 0
	// RoleSubscriber consumes subscriptions (client side).
	RoleSubscriber Role = 1
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RolePublisher:
		return "PUBLISHER"
	case RoleSubscriber:
		return "SUBSCRIBER"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent captures raw frame data at the transport layer.
type FrameEvent struct {
	// Size is the frame size in bytes (including length prefix).
	Size int `cbor:"1,keyasint"`

	// Data is the raw frame bytes (may be truncated for large frames).
	Data []byte `cbor:"2,keyasint,omitempty"`

	// Truncated indicates if Data was truncated.
	Truncated bool `cbor:"3,keyasint,omitempty"`
}

// MessageEvent captures a decoded protocol message at the wire layer.
type MessageEvent struct {
	Type wire.MessageType `cbor:"1,keyasint"`

	// Status is set for responses and status reports.
	Status *wire.Status `cbor:"2,keyasint,omitempty"`

	// Elements is the number of data elements carried by notifies and updates.
	Elements int `cbor:"3,keyasint,omitempty"`

	// Size is the encoded envelope size in bytes.
	Size int `cbor:"4,keyasint,omitempty"`

	// More mirrors the notify continuation flag.
	More bool `cbor:"5,keyasint,omitempty"`

	// Payload is the decoded message body (CBOR-compatible representation).
	Payload any `cbor:"6,keyasint,omitempty"`
}

// StateChangeEvent captures state machine transitions.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntityConnection indicates a peer connection state change.
	StateEntityConnection StateEntity = 0
	// StateEntitySubscription indicates a handler or client state change.
	StateEntitySubscription StateEntity = 1
	// StateEntityUpload indicates a log upload state change.
	StateEntityUpload StateEntity = 2
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityConnection:
		return "CONNECTION"
	case StateEntitySubscription:
		return "SUBSCRIPTION"
	case StateEntityUpload:
		return "UPLOAD"
	default:
		return "UNKNOWN"
	}
}

// TransferEvent captures one step of a block transfer.
type TransferEvent struct {
	// Step is the transfer message type (SendInit, Block, BlockAck, ...).
	Step wire.MessageType `cbor:"1,keyasint"`

	// SessionID is the transfer session.
	SessionID []byte `cbor:"2,keyasint,omitempty"`

	// Destination is the upload target named in SendInit.
	Destination string `cbor:"3,keyasint,omitempty"`

	// Counter is the block counter.
	Counter uint32 `cbor:"4,keyasint,omitempty"`

	// Bytes is the block payload size.
	Bytes int `cbor:"5,keyasint,omitempty"`

	// Last marks the final block of a session.
	Last bool `cbor:"6,keyasint,omitempty"`
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Status is the protocol status the error maps to, if any.
	Status *wire.Status `cbor:"3,keyasint,omitempty"`

	// Context describes what operation was being performed.
	Context string `cbor:"4,keyasint,omitempty"`
}
