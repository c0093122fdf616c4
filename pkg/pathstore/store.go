// Package pathstore tracks dirty object paths for one subscription.
//
// A Store is a fixed-capacity table of records. Each in-use record names
// one schema.ObjectPath that changed since it was last notified. The store
// is owned by the protocol thread and is not safe for concurrent use.
//
// AddItemDedup keeps the table minimal: a path already covered by a
// present ancestor is dropped, and present descendants of a new path are
// replaced by it. Siblings are never merged.
package pathstore

import (
	"errors"

	"github.com/mash-protocol/mash-sync/pkg/schema"
)

// ErrStoreFull is returned when no free record is left.
var ErrStoreFull = errors.New("path store full")

// Flags describe the state of a record.
type Flags uint8

const (
	// FlagInUse marks a live record.
	FlagInUse Flags = 1 << iota

	// FlagFailed marks a record whose last notification attempt failed.
	FlagFailed
)

// Record is one slot of the store.
type Record struct {
	Flags Flags
	Path  schema.ObjectPath
}

// InUse reports whether the record is live.
func (r Record) InUse() bool { return r.Flags&FlagInUse != 0 }

// Failed reports whether the record is marked failed.
func (r Record) Failed() bool { return r.Flags&FlagFailed != 0 }

// Store is a bounded set of dirty paths.
type Store struct {
	records  []Record
	capacity int
	used     int
}

// New creates a store with room for capacity records.
func New(capacity int) *Store {
	return &Store{
		records:  make([]Record, 0, capacity),
		capacity: capacity,
	}
}

// Len returns the number of in-use records.
func (s *Store) Len() int { return s.used }

// Cap returns the capacity.
func (s *Store) Cap() int { return s.capacity }

// Full reports whether no record can be added without compaction or removal.
func (s *Store) Full() bool { return s.used >= s.capacity }

// AddItem adds p without dedup. An exact duplicate is a no-op.
func (s *Store) AddItem(p schema.ObjectPath) error {
	if s.IsPresent(p) {
		return nil
	}
	for i := range s.records {
		if !s.records[i].InUse() {
			s.records[i] = Record{Flags: FlagInUse, Path: p}
			s.used++
			return nil
		}
	}
	if len(s.records) >= s.capacity {
		return ErrStoreFull
	}
	s.records = append(s.records, Record{Flags: FlagInUse, Path: p})
	s.used++
	return nil
}

// AddItemDedup adds p unless an ancestor (or p itself) is present, and
// removes every present descendant of p. Paths whose handle r cannot
// resolve are added without dedup.
func (s *Store) AddItemDedup(p schema.ObjectPath, r schema.Resolver) error {
	desc, ok := r.Descriptor(p.Handle)
	if !ok {
		return s.AddItem(p)
	}

	for i := range s.records {
		rec := &s.records[i]
		if !rec.InUse() || rec.Path.Handle != p.Handle {
			continue
		}
		if desc.IsInSubtree(rec.Path.Path, p.Path) {
			return nil
		}
	}
	for i := range s.records {
		rec := &s.records[i]
		if rec.InUse() && rec.Path.Handle == p.Handle && desc.IsAncestor(p.Path, rec.Path.Path) {
			s.free(i)
		}
	}
	return s.AddItem(p)
}

// RemoveItem removes p. It reports whether p was present.
func (s *Store) RemoveItem(p schema.ObjectPath) bool {
	for i := range s.records {
		if s.records[i].InUse() && s.records[i].Path == p {
			s.free(i)
			return true
		}
	}
	return false
}

// RemoveTrait removes every record of object h and returns how many were
// removed.
func (s *Store) RemoveTrait(h schema.ObjectHandle) int {
	n := 0
	for i := range s.records {
		if s.records[i].InUse() && s.records[i].Path.Handle == h {
			s.free(i)
			n++
		}
	}
	return n
}

// Clear removes every record.
func (s *Store) Clear() {
	s.records = s.records[:0]
	s.used = 0
}

func (s *Store) free(i int) {
	s.records[i] = Record{}
	s.used--
}

// Compact drops free slots. Slot order carries no meaning, so this is
// always safe; the relative order of live records is kept.
func (s *Store) Compact() {
	out := s.records[:0]
	for _, rec := range s.records {
		if rec.InUse() {
			out = append(out, rec)
		}
	}
	for i := len(out); i < len(s.records); i++ {
		s.records[i] = Record{}
	}
	s.records = out
}

// IsPresent reports whether exactly p is present.
func (s *Store) IsPresent(p schema.ObjectPath) bool {
	for _, rec := range s.records {
		if rec.InUse() && rec.Path == p {
			return true
		}
	}
	return false
}

// Includes reports whether p or one of its ancestors is present.
func (s *Store) Includes(p schema.ObjectPath, r schema.Resolver) bool {
	desc, ok := r.Descriptor(p.Handle)
	if !ok {
		return s.IsPresent(p)
	}
	for _, rec := range s.records {
		if rec.InUse() && rec.Path.Handle == p.Handle && desc.IsInSubtree(rec.Path.Path, p.Path) {
			return true
		}
	}
	return false
}

// Intersects reports whether any present path is p, an ancestor of p or a
// descendant of p.
func (s *Store) Intersects(p schema.ObjectPath, r schema.Resolver) bool {
	desc, ok := r.Descriptor(p.Handle)
	if !ok {
		return s.IsPresent(p)
	}
	for _, rec := range s.records {
		if !rec.InUse() || rec.Path.Handle != p.Handle {
			continue
		}
		if desc.IsInSubtree(rec.Path.Path, p.Path) || desc.IsInSubtree(p.Path, rec.Path.Path) {
			return true
		}
	}
	return false
}

// MarkFailed flags p as failed. It reports whether p was present.
func (s *Store) MarkFailed(p schema.ObjectPath) bool {
	for i := range s.records {
		if s.records[i].InUse() && s.records[i].Path == p {
			s.records[i].Flags |= FlagFailed
			return true
		}
	}
	return false
}

// Paths returns the in-use paths in slot order.
func (s *Store) Paths() []schema.ObjectPath {
	out := make([]schema.ObjectPath, 0, s.used)
	for _, rec := range s.records {
		if rec.InUse() {
			out = append(out, rec.Path)
		}
	}
	return out
}

// Records returns a copy of the in-use records.
func (s *Store) Records() []Record {
	out := make([]Record, 0, s.used)
	for _, rec := range s.records {
		if rec.InUse() {
			out = append(out, rec)
		}
	}
	return out
}
