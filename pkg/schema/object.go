package schema

import "fmt"

// Object is a schema-object instance that can be read by path.
//
// Get returns the value at p: a scalar for leaves, or a map keyed by
// context tag (dictionary key for dictionaries) for interior nodes. The
// present result is false when an optional property is absent.
type Object interface {
	Schema() *Descriptor
	Version() uint64
	Get(p PropertyPathHandle) (value any, present bool, err error)
}

// Updatable is an Object that accepts writes.
type Updatable interface {
	Object
	Set(p PropertyPathHandle, value any) error
	Delete(p PropertyPathHandle) error
}

// Sink receives replicated data on the subscribing side.
type Sink interface {
	Schema() *Descriptor
	Apply(p PropertyPathHandle, version uint64, value any, deleted bool) error
}

// Resolver maps an object handle to its descriptor.
type Resolver interface {
	Descriptor(h ObjectHandle) (*Descriptor, bool)
}

// TagMap converts a decoded interior value to a map keyed by context tag.
// CBOR decoding into an interface produces map[any]any with unsigned
// integer keys; values built in code usually use map[uint64]any.
func TagMap(v any) (map[uint64]any, error) {
	switch m := v.(type) {
	case map[uint64]any:
		return m, nil
	case map[any]any:
		out := make(map[uint64]any, len(m))
		for k, val := range m {
			tag, err := toTag(k)
			if err != nil {
				return nil, err
			}
			out[tag] = val
		}
		return out, nil
	case map[int]any:
		out := make(map[uint64]any, len(m))
		for k, val := range m {
			if k < 0 {
				return nil, fmt.Errorf("negative tag %d", k)
			}
			out[uint64(k)] = val
		}
		return out, nil
	case map[uint16]any:
		out := make(map[uint64]any, len(m))
		for k, val := range m {
			out[uint64(k)] = val
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected tag map, got %T", v)
	}
}

func toTag(k any) (uint64, error) {
	switch t := k.(type) {
	case uint64:
		return t, nil
	case uint32:
		return uint64(t), nil
	case uint16:
		return uint64(t), nil
	case uint8:
		return uint64(t), nil
	case int64:
		if t >= 0 {
			return uint64(t), nil
		}
	case int:
		if t >= 0 {
			return uint64(t), nil
		}
	}
	return 0, fmt.Errorf("invalid tag key %v (%T)", k, k)
}
