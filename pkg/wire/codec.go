package wire

import (
	"bytes"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// encMode is the CBOR encoder mode for protocol messages.
// Configured for deterministic encoding with integer keys.
var encMode cbor.EncMode

// decMode is the CBOR decoder mode for protocol messages.
var decMode cbor.DecMode

func init() {
	var err error

	// Configure encoder for deterministic output
	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical, // Deterministic key ordering
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeUnix, // Unix timestamps
	}
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR encoder mode: %v", err))
	}

	// Configure decoder to be lenient for forward compatibility
	decOpts := cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyQuiet, // Ignore duplicate keys (last wins)
		IndefLength:       cbor.IndefLengthAllowed,
		ExtraReturnErrors: cbor.ExtraDecErrorNone,
	}
	decMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR decoder mode: %v", err))
	}
}

// Marshal encodes a value to CBOR bytes.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR bytes into a value.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// NewEncoder creates a new CBOR encoder that writes to w.
func NewEncoder(w io.Writer) *cbor.Encoder {
	return encMode.NewEncoder(w)
}

// NewDecoder creates a new CBOR decoder that reads from r.
func NewDecoder(r io.Reader) *cbor.Decoder {
	return decMode.NewDecoder(r)
}

// EncodedSize returns the number of bytes v occupies on the wire.
func EncodedSize(v any) (int, error) {
	data, err := Marshal(v)
	if err != nil {
		return 0, err
	}
	return len(data), nil
}

// Envelope wraps one protocol message.
//
// CBOR encoding:
//
//	{
//	  1: type,  // uint8
//	  2: body   // message-specific map
//	}
type Envelope struct {
	Type MessageType     `cbor:"1,keyasint"`
	Body cbor.RawMessage `cbor:"2,keyasint"`
}

// Message is implemented by every protocol message body.
type Message interface {
	MessageType() MessageType
}

// Encode wraps msg in an envelope and encodes it.
func Encode(msg Message) ([]byte, error) {
	body, err := Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", msg.MessageType(), err)
	}
	return Marshal(&Envelope{Type: msg.MessageType(), Body: body})
}

// DecodeEnvelope decodes the outer envelope. The body is left encoded.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode envelope: %w", err)
	}
	if !env.Type.IsValid() {
		return nil, fmt.Errorf("invalid message type: %d", env.Type)
	}
	return &env, nil
}

// DecodeBody decodes the envelope body into v.
func (e *Envelope) DecodeBody(v Message) error {
	if v.MessageType() != e.Type {
		return fmt.Errorf("body type mismatch: envelope %s, target %s", e.Type, v.MessageType())
	}
	if err := Unmarshal(e.Body, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", e.Type, err)
	}
	return nil
}

// Decode decodes an envelope and its body into the matching message type.
func Decode(data []byte) (Message, error) {
	env, err := DecodeEnvelope(data)
	if err != nil {
		return nil, err
	}
	msg := env.Type.newMessage()
	if msg == nil {
		return nil, fmt.Errorf("unsupported message type: %s", env.Type)
	}
	if err := env.DecodeBody(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// NotifyOverhead returns an upper bound on the encoded size of a
// NotifyRequest for subscription id with no elements. Adding the encoded
// sizes of the elements to this bound gives an upper bound on the size of
// the complete message.
func NotifyOverhead(id uint64) (int, error) {
	// Flags are set so the bound covers both encodings; the array header
	// grows by at most arrayHeaderSlack bytes as elements are added.
	size, err := EnvelopeSize(&NotifyRequest{
		SubscriptionID: id,
		Elements:       []DataElement{},
		Truncated:      true,
		More:           true,
	})
	if err != nil {
		return 0, err
	}
	return size + arrayHeaderSlack, nil
}

// arrayHeaderSlack is the growth of a CBOR array header from zero elements
// to the largest 32-bit count.
const arrayHeaderSlack = 4

// EnvelopeSize returns the encoded size of msg inside its envelope.
func EnvelopeSize(msg Message) (int, error) {
	data, err := Encode(msg)
	if err != nil {
		return 0, err
	}
	return len(data), nil
}

// Clone creates a deep copy of the CBOR data by re-encoding.
// Useful for copying messages without shared references.
func Clone[T any](v T) (T, error) {
	var result T
	data, err := Marshal(v)
	if err != nil {
		return result, err
	}
	err = Unmarshal(data, &result)
	return result, err
}

// Equal compares two values by their CBOR encoding.
func Equal(a, b any) bool {
	dataA, errA := Marshal(a)
	dataB, errB := Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(dataA, dataB)
}
