package model

import (
	"errors"
	"fmt"
	"sync"

	"github.com/mash-protocol/mash-sync/pkg/schema"
)

// Object errors.
var (
	ErrNotNullable  = errors.New("property is not nullable")
	ErrNotOptional  = errors.New("property is not optional")
	ErrRootDeletion = errors.New("root cannot be deleted")
)

// ChangeSubscriber is notified when a property changes.
type ChangeSubscriber interface {
	// OnPropertyChanged is called after the value at p changed.
	OnPropertyChanged(obj *Object, p schema.PropertyPathHandle)
}

// ChangeFunc adapts a function to ChangeSubscriber.
type ChangeFunc func(obj *Object, p schema.PropertyPathHandle)

// OnPropertyChanged calls f.
func (f ChangeFunc) OnPropertyChanged(obj *Object, p schema.PropertyPathHandle) {
	f(obj, p)
}

// Object is an in-memory schema object. It serves as data source on the
// publishing side and as data sink on the subscribing side.
type Object struct {
	mu sync.RWMutex

	desc *schema.Descriptor

	// version is the data version, bumped on every mutation.
	version uint64

	// leaves holds leaf values by path.
	leaves map[schema.PropertyPathHandle]any

	subscribers []ChangeSubscriber
}

// NewObject creates an empty object of the given schema.
func NewObject(desc *schema.Descriptor) *Object {
	return &Object{
		desc:   desc,
		leaves: make(map[schema.PropertyPathHandle]any),
	}
}

// Schema returns the object's descriptor.
func (o *Object) Schema() *schema.Descriptor {
	return o.desc
}

// Version returns the current data version.
func (o *Object) Version() uint64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.version
}

// Get returns the value at p.
func (o *Object) Get(p schema.PropertyPathHandle) (any, bool, error) {
	if !o.desc.Valid(p) {
		return nil, false, fmt.Errorf("%w: %s", schema.ErrInvalidPath, p)
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	v, ok := o.getLocked(p)
	return v, ok, nil
}

func (o *Object) getLocked(p schema.PropertyPathHandle) (any, bool) {
	s := p.Schema()
	switch {
	case o.desc.IsLeaf(s):
		v, ok := o.leaves[p]
		return v, ok

	case o.desc.IsDictionary(s):
		out := make(map[uint64]any)
		for key := range o.dictionaryKeysLocked(p) {
			elem, err := o.desc.DictionaryElement(p, uint64(key))
			if err != nil {
				continue
			}
			if v, ok := o.getLocked(elem); ok {
				out[uint64(key)] = v
			}
		}
		return out, len(out) > 0 || !o.desc.IsOptional(s)

	default:
		out := make(map[uint64]any)
		for _, c := range o.desc.Children(s) {
			child := schema.MakePath(c, p.Key())
			if v, ok := o.getLocked(child); ok {
				out[uint64(o.desc.Tag(child))] = v
			}
		}
		return out, len(out) > 0 || p.IsRoot()
	}
}

func (o *Object) dictionaryKeysLocked(dict schema.PropertyPathHandle) map[uint16]struct{} {
	keys := make(map[uint16]struct{})
	for leaf := range o.leaves {
		if leaf.Key() != 0 && o.desc.IsAncestor(dict, leaf) {
			keys[leaf.Key()] = struct{}{}
		}
	}
	return keys
}

// Set replaces the value at p. Interior values are maps keyed by context
// tag; children missing from the map are removed.
func (o *Object) Set(p schema.PropertyPathHandle, value any) error {
	if !o.desc.Valid(p) {
		return fmt.Errorf("%w: %s", schema.ErrInvalidPath, p)
	}
	o.mu.Lock()
	err := o.setLocked(p, value)
	if err == nil {
		o.version++
	}
	o.mu.Unlock()

	if err != nil {
		return err
	}
	o.notifyChanged(p)
	return nil
}

func (o *Object) setLocked(p schema.PropertyPathHandle, value any) error {
	staged := make(map[schema.PropertyPathHandle]any)
	if err := o.stage(p, value, staged); err != nil {
		return err
	}
	o.clearBelowLocked(p)
	for leaf, v := range staged {
		o.leaves[leaf] = v
	}
	return nil
}

// stage collects the leaves that replace the subtree at p into out. It
// does not touch the object, so a rejected value leaves it unchanged.
func (o *Object) stage(p schema.PropertyPathHandle, value any, out map[schema.PropertyPathHandle]any) error {
	s := p.Schema()
	if o.desc.IsLeaf(s) {
		if value == nil && !o.desc.IsNullable(s) {
			return fmt.Errorf("%w: %s", ErrNotNullable, p)
		}
		out[p] = value
		return nil
	}

	children, err := schema.TagMap(value)
	if err != nil {
		return fmt.Errorf("set %s: %w", p, err)
	}
	for tag, v := range children {
		child, err := o.desc.ChildByTag(p, tag)
		if err != nil {
			return err
		}
		if err := o.stage(child, v, out); err != nil {
			return err
		}
	}
	return nil
}

// clearBelowLocked removes every leaf strictly below p.
func (o *Object) clearBelowLocked(p schema.PropertyPathHandle) {
	for leaf := range o.leaves {
		if o.desc.IsAncestor(p, leaf) {
			delete(o.leaves, leaf)
		}
	}
}

// Delete removes the value at p and everything below it.
func (o *Object) Delete(p schema.PropertyPathHandle) error {
	if !o.desc.Valid(p) {
		return fmt.Errorf("%w: %s", schema.ErrInvalidPath, p)
	}
	if p.IsRoot() {
		return ErrRootDeletion
	}
	if !o.desc.IsOptional(p.Schema()) && !o.desc.IsDictionaryElement(p) {
		return fmt.Errorf("%w: %s", ErrNotOptional, p)
	}

	o.mu.Lock()
	delete(o.leaves, p)
	o.clearBelowLocked(p)
	o.version++
	o.mu.Unlock()

	o.notifyChanged(p)
	return nil
}

// Apply writes replicated data received from a publisher. Unlike Set and
// Delete it adopts the publisher's data version and skips the optionality
// checks, since the publisher already enforced them.
func (o *Object) Apply(p schema.PropertyPathHandle, version uint64, value any, deleted bool) error {
	if !o.desc.Valid(p) {
		return fmt.Errorf("%w: %s", schema.ErrInvalidPath, p)
	}
	o.mu.Lock()
	var err error
	if deleted {
		delete(o.leaves, p)
		o.clearBelowLocked(p)
	} else {
		err = o.setLocked(p, value)
	}
	if err == nil {
		o.version = version
	}
	o.mu.Unlock()

	if err != nil {
		return err
	}
	o.notifyChanged(p)
	return nil
}

// Snapshot returns a copy of all leaf values.
func (o *Object) Snapshot() map[schema.PropertyPathHandle]any {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make(map[schema.PropertyPathHandle]any, len(o.leaves))
	for k, v := range o.leaves {
		out[k] = v
	}
	return out
}

// Subscribe adds a subscriber for change notifications.
func (o *Object) Subscribe(sub ChangeSubscriber) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.subscribers = append(o.subscribers, sub)
}

// Unsubscribe removes a subscriber.
func (o *Object) Unsubscribe(sub ChangeSubscriber) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for i, s := range o.subscribers {
		if s == sub {
			o.subscribers = append(o.subscribers[:i], o.subscribers[i+1:]...)
			return
		}
	}
}

func (o *Object) notifyChanged(p schema.PropertyPathHandle) {
	o.mu.RLock()
	subs := make([]ChangeSubscriber, len(o.subscribers))
	copy(subs, o.subscribers)
	o.mu.RUnlock()

	for _, sub := range subs {
		sub.OnPropertyChanged(o, p)
	}
}

var (
	_ schema.Updatable = (*Object)(nil)
	_ schema.Sink      = (*Object)(nil)
)
