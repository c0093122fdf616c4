package wire

import "fmt"

// ResourceKind classifies the resource that hosts an object.
type ResourceKind uint8

const (
	// ResourceSelf is the local device.
	ResourceSelf ResourceKind = 0

	// ResourceDevice is a device named by its numeric id.
	ResourceDevice ResourceKind = 1

	// ResourceService is a service-side resource.
	ResourceService ResourceKind = 2
)

// ResourceID names the resource an object lives on.
type ResourceID struct {
	Kind ResourceKind `cbor:"1,keyasint"`
	ID   uint64       `cbor:"2,keyasint,omitempty"`
}

// String returns a compact representation for logs.
func (r ResourceID) String() string {
	switch r.Kind {
	case ResourceSelf:
		return "self"
	case ResourceDevice:
		return fmt.Sprintf("device:%016x", r.ID)
	case ResourceService:
		return fmt.Sprintf("service:%d", r.ID)
	default:
		return fmt.Sprintf("kind%d:%d", r.Kind, r.ID)
	}
}

// VersionRange is an inclusive range of schema versions.
type VersionRange struct {
	Min uint16 `cbor:"1,keyasint"`
	Max uint16 `cbor:"2,keyasint"`
}

// Path addresses an object instance and, optionally, a property within it.
//
// CBOR encoding:
//
//	{
//	  1: profile,   // uint32 schema profile id
//	  2: instance,  // uint64, omitted for instance 0
//	  3: resource,  // ResourceID, omitted for self
//	  4: tags,      // array of context tags from the root, omitted for root
//	  5: versions   // VersionRange, omitted when unconstrained
//	}
type Path struct {
	Profile  uint32        `cbor:"1,keyasint"`
	Instance uint64        `cbor:"2,keyasint,omitempty"`
	Resource *ResourceID   `cbor:"3,keyasint,omitempty"`
	Tags     []uint64      `cbor:"4,keyasint,omitempty"`
	Versions *VersionRange `cbor:"5,keyasint,omitempty"`
}

// ResourceOrSelf returns the resource, defaulting to self.
func (p Path) ResourceOrSelf() ResourceID {
	if p.Resource == nil {
		return ResourceID{Kind: ResourceSelf}
	}
	return *p.Resource
}

// String returns a compact representation for logs.
func (p Path) String() string {
	return fmt.Sprintf("%s/%08x.%d%v", p.ResourceOrSelf(), p.Profile, p.Instance, p.Tags)
}

// DataElement carries the value of one property.
//
// CBOR encoding:
//
//	{
//	  1: path,     // Path
//	  2: version,  // uint64 data version of the object
//	  3: data,     // value, null when deleted
//	  4: deleted   // bool, omitted when false
//	}
type DataElement struct {
	Path    Path   `cbor:"1,keyasint"`
	Version uint64 `cbor:"2,keyasint"`
	Data    any    `cbor:"3,keyasint"`
	Deleted bool   `cbor:"4,keyasint,omitempty"`
}

// SubscribeRequest asks a publisher to open a subscription.
type SubscribeRequest struct {
	SubscriptionID  uint64 `cbor:"1,keyasint"`
	Paths           []Path `cbor:"2,keyasint"`
	LivenessTimeout uint32 `cbor:"3,keyasint,omitempty"` // ms
}

// MessageType implements Message.
func (*SubscribeRequest) MessageType() MessageType { return MsgSubscribeRequest }

// SubscribeResponse accepts or rejects a subscription. On success it
// precedes the priming notifications.
type SubscribeResponse struct {
	SubscriptionID  uint64 `cbor:"1,keyasint"`
	Status          Status `cbor:"2,keyasint"`
	LivenessTimeout uint32 `cbor:"3,keyasint,omitempty"` // ms
}

// MessageType implements Message.
func (*SubscribeResponse) MessageType() MessageType { return MsgSubscribeResponse }

// NotifyRequest carries data elements from publisher to subscriber.
type NotifyRequest struct {
	SubscriptionID uint64        `cbor:"1,keyasint"`
	Elements       []DataElement `cbor:"2,keyasint"`
	Truncated      bool          `cbor:"3,keyasint,omitempty"`
	More           bool          `cbor:"4,keyasint,omitempty"`
}

// MessageType implements Message.
func (*NotifyRequest) MessageType() MessageType { return MsgNotifyRequest }

// NotifyResponse acknowledges a NotifyRequest.
type NotifyResponse struct {
	SubscriptionID uint64 `cbor:"1,keyasint"`
	Status         Status `cbor:"2,keyasint"`
}

// MessageType implements Message.
func (*NotifyResponse) MessageType() MessageType { return MsgNotifyResponse }

// UpdateRequest writes properties on the publisher.
type UpdateRequest struct {
	UpdateID uint64        `cbor:"1,keyasint"`
	Elements []DataElement `cbor:"2,keyasint"`
}

// MessageType implements Message.
func (*UpdateRequest) MessageType() MessageType { return MsgUpdateRequest }

// UpdateResponse reports one status and resulting version per element.
type UpdateResponse struct {
	UpdateID uint64   `cbor:"1,keyasint"`
	Statuses []Status `cbor:"2,keyasint"`
	Versions []uint64 `cbor:"3,keyasint,omitempty"`
}

// MessageType implements Message.
func (*UpdateResponse) MessageType() MessageType { return MsgUpdateResponse }

// CancelRequest tears down a subscription.
type CancelRequest struct {
	SubscriptionID uint64 `cbor:"1,keyasint"`
}

// MessageType implements Message.
func (*CancelRequest) MessageType() MessageType { return MsgCancelRequest }

// CancelResponse acknowledges a CancelRequest.
type CancelResponse struct {
	SubscriptionID uint64 `cbor:"1,keyasint"`
	Status         Status `cbor:"2,keyasint"`
}

// MessageType implements Message.
func (*CancelResponse) MessageType() MessageType { return MsgCancelResponse }

// Heartbeat proves liveness on an idle subscription.
type Heartbeat struct {
	SubscriptionID uint64 `cbor:"1,keyasint"`
}

// MessageType implements Message.
func (*Heartbeat) MessageType() MessageType { return MsgHeartbeat }

// StatusReport reports an error or abort for a subscription.
type StatusReport struct {
	SubscriptionID uint64 `cbor:"1,keyasint"`
	Status         Status `cbor:"2,keyasint"`
	Message        string `cbor:"3,keyasint,omitempty"`
}

// MessageType implements Message.
func (*StatusReport) MessageType() MessageType { return MsgStatusReport }

// Compression identifies the block codec.
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionLZ4  Compression = 1
	CompressionZstd Compression = 2
)

// String returns the codec name.
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return "unknown"
	}
}

// SendInit opens a block-transfer session.
type SendInit struct {
	SessionID    []byte      `cbor:"1,keyasint"`
	Destination  string      `cbor:"2,keyasint"`
	MaxBlockSize uint32      `cbor:"3,keyasint"`
	Compression  Compression `cbor:"4,keyasint,omitempty"`
	Importance   uint8       `cbor:"5,keyasint,omitempty"`
}

// MessageType implements Message.
func (*SendInit) MessageType() MessageType { return MsgSendInit }

// SendAccept accepts a session and fixes the block size.
type SendAccept struct {
	SessionID    []byte `cbor:"1,keyasint"`
	MaxBlockSize uint32 `cbor:"2,keyasint"`
}

// MessageType implements Message.
func (*SendAccept) MessageType() MessageType { return MsgSendAccept }

// Block carries one block of a transfer.
type Block struct {
	SessionID []byte `cbor:"1,keyasint"`
	Counter   uint32 `cbor:"2,keyasint"`
	Data      []byte `cbor:"3,keyasint"`
	Digest    []byte `cbor:"4,keyasint,omitempty"`
	Last      bool   `cbor:"5,keyasint,omitempty"`
}

// MessageType implements Message.
func (*Block) MessageType() MessageType { return MsgBlock }

// BlockAck acknowledges a block.
type BlockAck struct {
	SessionID []byte `cbor:"1,keyasint"`
	Counter   uint32 `cbor:"2,keyasint"`
}

// MessageType implements Message.
func (*BlockAck) MessageType() MessageType { return MsgBlockAck }

// TransferError aborts a session.
type TransferError struct {
	SessionID []byte `cbor:"1,keyasint"`
	Status    Status `cbor:"2,keyasint"`
	Message   string `cbor:"3,keyasint,omitempty"`
}

// MessageType implements Message.
func (*TransferError) MessageType() MessageType { return MsgTransferError }
