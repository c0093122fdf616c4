package catalog

import "fmt"

// NewArray creates a catalog backed by a fixed slot array.
func NewArray(cfg Config) (Catalog, error) {
	if cfg.Capacity <= 0 || cfg.Capacity > maxHandles {
		return nil, fmt.Errorf("catalog: invalid capacity %d", cfg.Capacity)
	}
	return newCatalog(&arrayStorage{slots: make([]*entry, cfg.Capacity)}, cfg.Capacity, cfg), nil
}

// NewMap creates a catalog backed by a map. Capacity zero means the whole
// handle space.
func NewMap(cfg Config) (Catalog, error) {
	capacity := cfg.Capacity
	if capacity == 0 {
		capacity = maxHandles
	}
	if capacity < 0 || capacity > maxHandles {
		return nil, fmt.Errorf("catalog: invalid capacity %d", cfg.Capacity)
	}
	return newCatalog(&mapStorage{entries: make(map[Handle]*entry)}, capacity, cfg), nil
}

type arrayStorage struct {
	slots []*entry
}

func (s *arrayStorage) get(h Handle) *entry {
	if int(h) >= len(s.slots) {
		return nil
	}
	return s.slots[h]
}

func (s *arrayStorage) put(h Handle, e *entry) { s.slots[h] = e }

func (s *arrayStorage) del(h Handle) { s.slots[h] = nil }

func (s *arrayStorage) each(fn func(h Handle, e *entry)) {
	for i, e := range s.slots {
		if e != nil {
			fn(Handle(i), e)
		}
	}
}

type mapStorage struct {
	entries map[Handle]*entry
}

func (s *mapStorage) get(h Handle) *entry { return s.entries[h] }

func (s *mapStorage) put(h Handle, e *entry) { s.entries[h] = e }

func (s *mapStorage) del(h Handle) { delete(s.entries, h) }

func (s *mapStorage) each(fn func(h Handle, e *entry)) {
	for h, e := range s.entries {
		fn(h, e)
	}
}
