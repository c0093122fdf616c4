// Package catalog maps schema-object instances to compact handles and
// resolves wire addresses against them.
//
// Two variants share one interface: NewArray backs the catalog with a fixed
// slot array for constrained targets, NewMap with a map bounded only by a
// configured limit. Both allocate handles from a recycle queue that hands
// out the lowest freed handle first.
//
// A handle can be retained by subscriptions that still reference it.
// Removing a retained handle detaches the object at once, but the handle is
// not recycled until the last Release.
package catalog

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/mash-protocol/mash-sync/pkg/schema"
	"github.com/mash-protocol/mash-sync/pkg/wire"
)

// Handle identifies one object instance.
type Handle = schema.ObjectHandle

// Catalog errors.
var (
	ErrCatalogFull     = errors.New("catalog full")
	ErrUnknownResource = errors.New("unknown resource")
	ErrUnknownHandle   = errors.New("unknown handle")
	ErrDuplicateObject = errors.New("object already registered")
	ErrNotRetained     = errors.New("handle not retained")
)

// Catalog is the registry of published or subscribed objects.
type Catalog interface {
	schema.Resolver

	// Add registers obj and returns its handle.
	Add(resource wire.ResourceID, instance uint64, basePath schema.PropertyPathHandle, obj schema.Object) (Handle, error)

	// Remove unregisters h. A retained handle is detached now and recycled
	// on its last Release.
	Remove(h Handle) error

	// Locate returns the object registered under h.
	Locate(h Handle) (schema.Object, error)

	// LocateByID returns the handle registered for the identity triple.
	LocateByID(profile uint32, instance uint64, resource wire.ResourceID) (Handle, error)

	// AddressToHandle resolves the object part of a wire path. The range
	// is the one requested by the path, or the object's own range.
	AddressToHandle(addr wire.Path) (Handle, schema.VersionRange, error)

	// HandleToAddress returns the wire address of the object root.
	HandleToAddress(h Handle) (wire.Path, error)

	// ResolvePath resolves a full wire path, tags included.
	ResolvePath(addr wire.Path) (schema.ObjectPath, schema.VersionRange, error)

	// PathToAddress encodes an object path for the wire.
	PathToAddress(p schema.ObjectPath) (wire.Path, error)

	// BasePath returns the path the object was registered with.
	BasePath(h Handle) (schema.PropertyPathHandle, error)

	// Retain pins h against recycling.
	Retain(h Handle) error

	// Release drops one retain.
	Release(h Handle) error

	// Handles returns the live handles in ascending order.
	Handles() []Handle

	// Len returns the number of live objects.
	Len() int
}

// Config configures a catalog.
type Config struct {
	// Capacity bounds the number of handles. NewArray requires it; for
	// NewMap zero means the whole handle space.
	Capacity int

	// LocalDeviceID is the device id that addresses this device. Paths
	// naming it explicitly resolve like ResourceSelf.
	LocalDeviceID uint64

	// Logger is used for debug output. Nil disables logging.
	Logger *slog.Logger
}

// maxHandles is the size of the handle space.
const maxHandles = 1 << 16

type entry struct {
	object   schema.Object
	resource wire.ResourceID
	instance uint64
	basePath schema.PropertyPathHandle
	refs     int
	removed  bool
}

type identity struct {
	profile  uint32
	instance uint64
	resource wire.ResourceID
}

// storage abstracts the slot container of a variant.
type storage interface {
	get(h Handle) *entry
	put(h Handle, e *entry)
	del(h Handle)
	each(fn func(h Handle, e *entry))
}

type catalog struct {
	slots    storage
	capacity int
	local    uint64
	logger   *slog.Logger

	// next is the lowest never-allocated handle.
	next int

	// recycled holds freed handles in ascending order.
	recycled []Handle

	index map[identity]Handle
	live  int
}

func newCatalog(slots storage, capacity int, cfg Config) *catalog {
	return &catalog{
		slots:    slots,
		capacity: capacity,
		local:    cfg.LocalDeviceID,
		logger:   cfg.Logger,
		index:    make(map[identity]Handle),
	}
}

func (c *catalog) normalize(r wire.ResourceID) wire.ResourceID {
	if r.Kind == wire.ResourceDevice && r.ID == c.local && c.local != 0 {
		return wire.ResourceID{Kind: wire.ResourceSelf}
	}
	return r
}

func (c *catalog) allocate() (Handle, error) {
	if len(c.recycled) > 0 {
		h := c.recycled[0]
		c.recycled = c.recycled[1:]
		return h, nil
	}
	if c.next >= c.capacity {
		return 0, ErrCatalogFull
	}
	h := Handle(c.next)
	c.next++
	return h, nil
}

func (c *catalog) recycle(h Handle) {
	i := sort.Search(len(c.recycled), func(i int) bool { return c.recycled[i] >= h })
	c.recycled = append(c.recycled, 0)
	copy(c.recycled[i+1:], c.recycled[i:])
	c.recycled[i] = h
}

func (c *catalog) Add(resource wire.ResourceID, instance uint64, basePath schema.PropertyPathHandle, obj schema.Object) (Handle, error) {
	resource = c.normalize(resource)
	id := identity{profile: obj.Schema().ProfileID, instance: instance, resource: resource}
	if _, exists := c.index[id]; exists {
		return 0, fmt.Errorf("%w: profile %08x instance %d on %s", ErrDuplicateObject, id.profile, instance, resource)
	}
	if basePath == schema.NullPath {
		basePath = schema.RootPath
	}

	h, err := c.allocate()
	if err != nil {
		return 0, err
	}
	c.slots.put(h, &entry{
		object:   obj,
		resource: resource,
		instance: instance,
		basePath: basePath,
	})
	c.index[id] = h
	c.live++
	c.debugLog("catalog: added object", "handle", h, "profile", obj.Schema().Name, "instance", instance, "resource", resource)
	return h, nil
}

func (c *catalog) lookup(h Handle) (*entry, error) {
	e := c.slots.get(h)
	if e == nil || e.removed {
		return nil, fmt.Errorf("%w: %d", ErrUnknownHandle, h)
	}
	return e, nil
}

func (c *catalog) Remove(h Handle) error {
	e, err := c.lookup(h)
	if err != nil {
		return err
	}
	delete(c.index, identity{profile: e.object.Schema().ProfileID, instance: e.instance, resource: e.resource})
	c.live--

	if e.refs > 0 {
		// Detach now; the handle stays reserved until released.
		e.removed = true
		e.object = nil
		c.debugLog("catalog: removal deferred", "handle", h, "refs", e.refs)
		return nil
	}
	c.slots.del(h)
	c.recycle(h)
	c.debugLog("catalog: removed object", "handle", h)
	return nil
}

func (c *catalog) Locate(h Handle) (schema.Object, error) {
	e, err := c.lookup(h)
	if err != nil {
		return nil, err
	}
	return e.object, nil
}

func (c *catalog) Descriptor(h Handle) (*schema.Descriptor, bool) {
	e, err := c.lookup(h)
	if err != nil {
		return nil, false
	}
	return e.object.Schema(), true
}

func (c *catalog) LocateByID(profile uint32, instance uint64, resource wire.ResourceID) (Handle, error) {
	h, ok := c.index[identity{profile: profile, instance: instance, resource: c.normalize(resource)}]
	if !ok {
		return 0, fmt.Errorf("%w: profile %08x instance %d on %s", ErrUnknownResource, profile, instance, resource)
	}
	return h, nil
}

func (c *catalog) AddressToHandle(addr wire.Path) (Handle, schema.VersionRange, error) {
	h, err := c.LocateByID(addr.Profile, addr.Instance, addr.ResourceOrSelf())
	if err != nil {
		return 0, schema.VersionRange{}, err
	}
	e, err := c.lookup(h)
	if err != nil {
		return 0, schema.VersionRange{}, err
	}
	versions := e.object.Schema().Versions
	if addr.Versions != nil {
		versions = schema.VersionRange{Min: addr.Versions.Min, Max: addr.Versions.Max}
	}
	return h, versions, nil
}

func (c *catalog) HandleToAddress(h Handle) (wire.Path, error) {
	e, err := c.lookup(h)
	if err != nil {
		return wire.Path{}, err
	}
	addr := wire.Path{
		Profile:  e.object.Schema().ProfileID,
		Instance: e.instance,
	}
	if e.resource.Kind != wire.ResourceSelf {
		r := e.resource
		addr.Resource = &r
	}
	return addr, nil
}

func (c *catalog) ResolvePath(addr wire.Path) (schema.ObjectPath, schema.VersionRange, error) {
	h, versions, err := c.AddressToHandle(addr)
	if err != nil {
		return schema.ObjectPath{}, versions, err
	}
	e, err := c.lookup(h)
	if err != nil {
		return schema.ObjectPath{}, versions, err
	}
	p, err := e.object.Schema().TagsToPath(addr.Tags)
	if err != nil {
		return schema.ObjectPath{}, versions, err
	}
	return schema.ObjectPath{Handle: h, Path: p}, versions, nil
}

func (c *catalog) PathToAddress(p schema.ObjectPath) (wire.Path, error) {
	addr, err := c.HandleToAddress(p.Handle)
	if err != nil {
		return addr, err
	}
	desc, _ := c.Descriptor(p.Handle)
	tags, err := desc.PathToTags(p.Path)
	if err != nil {
		return addr, err
	}
	if len(tags) > 0 {
		addr.Tags = tags
	}
	return addr, nil
}

func (c *catalog) BasePath(h Handle) (schema.PropertyPathHandle, error) {
	e, err := c.lookup(h)
	if err != nil {
		return schema.NullPath, err
	}
	return e.basePath, nil
}

func (c *catalog) Retain(h Handle) error {
	e, err := c.lookup(h)
	if err != nil {
		return err
	}
	e.refs++
	return nil
}

func (c *catalog) Release(h Handle) error {
	e := c.slots.get(h)
	if e == nil || e.refs == 0 {
		return fmt.Errorf("%w: %d", ErrNotRetained, h)
	}
	e.refs--
	if e.refs == 0 && e.removed {
		c.slots.del(h)
		c.recycle(h)
		c.debugLog("catalog: deferred removal complete", "handle", h)
	}
	return nil
}

func (c *catalog) Handles() []Handle {
	var out []Handle
	c.slots.each(func(h Handle, e *entry) {
		if !e.removed {
			out = append(out, h)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (c *catalog) Len() int {
	return c.live
}

func (c *catalog) debugLog(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Debug(msg, args...)
	}
}
