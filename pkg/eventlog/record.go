package eventlog

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.EncOptions{
		Sort:        cbor.SortCanonical,
		IndefLength: cbor.IndefLengthForbidden,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("eventlog: CBOR encoder mode: %v", err))
	}
	decMode, err = cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyQuiet,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("eventlog: CBOR decoder mode: %v", err))
	}
}

// Record is one stored event.
type Record struct {
	ID                   EventID         `cbor:"1,keyasint"`
	Importance           Importance      `cbor:"2,keyasint"`
	ProfileID            uint32          `cbor:"3,keyasint"`
	StructureType        uint16          `cbor:"4,keyasint"`
	SchemaVersion        uint16          `cbor:"5,keyasint"`
	MinCompatibleVersion uint16          `cbor:"6,keyasint,omitempty"`
	Timestamp            int64           `cbor:"7,keyasint"`
	Payload              cbor.RawMessage `cbor:"8,keyasint,omitempty"`
}

// Time returns the event timestamp.
func (r Record) Time() time.Time {
	return time.UnixMilli(r.Timestamp)
}

// DecodePayload decodes the application payload into v.
func (r Record) DecodePayload(v any) error {
	if len(r.Payload) == 0 {
		return nil
	}
	return decMode.Unmarshal(r.Payload, v)
}

// EncodeRecord encodes r.
func EncodeRecord(r Record) ([]byte, error) {
	return encMode.Marshal(r)
}

// DecodeRecord decodes an encoded record.
func DecodeRecord(b []byte) (Record, error) {
	var r Record
	if err := decMode.Unmarshal(b, &r); err != nil {
		return Record{}, fmt.Errorf("eventlog: decode record: %w", err)
	}
	return r, nil
}

// EncodePayload encodes an application payload.
func EncodePayload(v any) (cbor.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	b, err := encMode.Marshal(v)
	if err != nil {
		return nil, err
	}
	return cbor.RawMessage(b), nil
}
