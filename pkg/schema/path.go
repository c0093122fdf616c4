// Package schema models schema objects: versioned, path-addressable
// property trees described by externally generated descriptor tables.
//
// # Property Paths
//
// A PropertyPathHandle names one node of an object's property tree. The low
// 16 bits are the schema handle (an index into the descriptor's property
// map); the high 16 bits carry a dictionary key for nodes at or below a
// dictionary element. The root of every tree is RootPath.
//
// # Descriptors
//
// A Descriptor is static, generated data: a property map (parent handle and
// context tag per schema handle) plus bitfields marking optional, nullable,
// dictionary and ephemeral handles. Descriptor methods form the schema
// engine used by the path store and the notification engine: ancestry
// tests, pre-order comparison and tag encoding.
package schema

import "fmt"

// ObjectHandle identifies one schema-object instance within a process.
type ObjectHandle uint16

// SchemaHandle identifies a node type within a descriptor.
type SchemaHandle uint16

// PropertyPathHandle identifies a node of an object's property tree.
type PropertyPathHandle uint32

// Reserved path handles.
const (
	// NullPath is the invalid path.
	NullPath PropertyPathHandle = 0

	// RootPath is the root of every property tree.
	RootPath PropertyPathHandle = 1
)

// Reserved schema handles.
const (
	nullSchema SchemaHandle = 0
	rootSchema SchemaHandle = 1

	// firstPropertySchema is the schema handle described by Properties[0].
	firstPropertySchema SchemaHandle = 2
)

// MakePath builds a property path from a schema handle and dictionary key.
func MakePath(s SchemaHandle, key uint16) PropertyPathHandle {
	return PropertyPathHandle(uint32(key)<<16 | uint32(s))
}

// Schema returns the schema handle part of the path.
func (p PropertyPathHandle) Schema() SchemaHandle {
	return SchemaHandle(p & 0xFFFF)
}

// Key returns the dictionary key part of the path.
func (p PropertyPathHandle) Key() uint16 {
	return uint16(p >> 16)
}

// IsRoot reports whether p is the root path.
func (p PropertyPathHandle) IsRoot() bool {
	return p == RootPath
}

// String returns a compact representation for logs.
func (p PropertyPathHandle) String() string {
	if p.Key() != 0 {
		return fmt.Sprintf("%d[%d]", p.Schema(), p.Key())
	}
	return fmt.Sprintf("%d", p.Schema())
}

// ObjectPath addresses one property of one object instance. It is the unit
// of dirtiness tracking and of wire addressing.
type ObjectPath struct {
	Handle ObjectHandle
	Path   PropertyPathHandle
}

// String returns a compact representation for logs.
func (o ObjectPath) String() string {
	return fmt.Sprintf("%d/%s", o.Handle, o.Path)
}

// VersionRange is an inclusive range of schema versions.
type VersionRange struct {
	Min uint16
	Max uint16
}

// Valid reports whether the range is non-empty.
func (r VersionRange) Valid() bool {
	return r.Min <= r.Max && r.Min > 0
}

// Contains reports whether v lies within the range.
func (r VersionRange) Contains(v uint16) bool {
	return v >= r.Min && v <= r.Max
}

// Intersect returns the overlap of r and other. The second result is false
// if the ranges do not overlap.
func (r VersionRange) Intersect(other VersionRange) (VersionRange, bool) {
	out := VersionRange{Min: max(r.Min, other.Min), Max: min(r.Max, other.Max)}
	if !out.Valid() {
		return VersionRange{}, false
	}
	return out, true
}

// String returns the range as "min-max".
func (r VersionRange) String() string {
	return fmt.Sprintf("%d-%d", r.Min, r.Max)
}
