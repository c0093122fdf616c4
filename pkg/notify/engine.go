// Package notify serializes dirty paths into size-bounded notifications.
//
// BuildNotify walks one subscription's dirty set in a deterministic order
// (ascending object handle, then property-tree pre-order within an object)
// and packs as many data elements as fit the byte budget into a single
// NotifyRequest. A field either fits whole or stays dirty for the next
// message.
package notify

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/mash-protocol/mash-sync/pkg/catalog"
	"github.com/mash-protocol/mash-sync/pkg/pathstore"
	"github.com/mash-protocol/mash-sync/pkg/schema"
	"github.com/mash-protocol/mash-sync/pkg/wire"
)

// Notification errors.
var (
	// ErrEncodeOverrun reports a field that cannot fit any message of the
	// configured budget.
	ErrEncodeOverrun = errors.New("field exceeds notification budget")

	// ErrSchemaVersionMismatch reports that the negotiated version range no
	// longer overlaps the object's schema.
	ErrSchemaVersionMismatch = errors.New("schema version mismatch")

	// ErrBudgetTooSmall reports a budget that cannot hold an empty message.
	ErrBudgetTooSmall = errors.New("budget smaller than message overhead")
)

// Request describes one notification build.
type Request struct {
	// SubscriptionID is written into the message.
	SubscriptionID uint64

	// Dirty is the subscription's dirty set. Serialized paths are removed.
	Dirty *pathstore.Store

	// Versions holds the negotiated schema version range per handle.
	// Handles without an entry are not checked.
	Versions map[schema.ObjectHandle]schema.VersionRange

	// Budget is the maximum encoded size of the message in bytes.
	Budget int
}

// Result describes the outcome of a build.
type Result struct {
	// Message is the notification to send. It may hold no elements when
	// every remaining path was dropped or skipped.
	Message *wire.NotifyRequest

	// Size is the encoded size of Message.
	Size int

	// Written is the number of paths fully serialized.
	Written int

	// Remaining is the number of paths still dirty.
	Remaining int

	// Done is set when the dirty set is empty.
	Done bool

	// Truncated is set when at least one field was skipped as an overrun.
	Truncated bool

	// Overruns lists the skipped paths.
	Overruns []schema.ObjectPath

	// Dropped counts paths removed because their object is gone.
	Dropped int
}

// Engine builds notifications against a catalog.
type Engine struct {
	catalog catalog.Catalog
	logger  *slog.Logger
}

// New creates an engine. The logger may be nil.
func New(cat catalog.Catalog, logger *slog.Logger) *Engine {
	return &Engine{catalog: cat, logger: logger}
}

// BuildNotify packs dirty paths into one message within req.Budget.
//
// ErrSchemaVersionMismatch is returned together with a partial result; the
// caller must terminate the subscription.
func (e *Engine) BuildNotify(req Request) (Result, error) {
	overhead, err := wire.NotifyOverhead(req.SubscriptionID)
	if err != nil {
		return Result{}, fmt.Errorf("notify: overhead: %w", err)
	}
	if overhead > req.Budget {
		return Result{}, fmt.Errorf("%w: budget %d, overhead %d", ErrBudgetTooSmall, req.Budget, overhead)
	}

	res := Result{Message: &wire.NotifyRequest{
		SubscriptionID: req.SubscriptionID,
		Elements:       []wire.DataElement{},
	}}
	capacity := req.Budget - overhead
	remaining := capacity

	var buildErr error
	for _, p := range e.order(req.Dirty.Paths()) {
		obj, err := e.catalog.Locate(p.Handle)
		if err != nil {
			req.Dirty.RemoveItem(p)
			res.Dropped++
			e.debugLog("notify: dropping path of removed object", "path", p)
			continue
		}
		desc := obj.Schema()
		if negotiated, ok := req.Versions[p.Handle]; ok {
			if _, overlap := negotiated.Intersect(desc.Versions); !overlap {
				buildErr = fmt.Errorf("%w: handle %d negotiated %s, schema %s", ErrSchemaVersionMismatch, p.Handle, negotiated, desc.Versions)
				break
			}
		}

		elem, err := e.element(obj, p)
		if err != nil {
			req.Dirty.RemoveItem(p)
			res.Dropped++
			e.warn("notify: dropping unencodable path", "path", p, "error", err)
			continue
		}
		size, err := wire.EncodedSize(elem)
		if err != nil {
			req.Dirty.RemoveItem(p)
			res.Dropped++
			e.warn("notify: dropping unencodable path", "path", p, "error", err)
			continue
		}

		if size > capacity {
			// Can never fit; skip it rather than block every other field.
			req.Dirty.RemoveItem(p)
			res.Truncated = true
			res.Overruns = append(res.Overruns, p)
			e.warn("notify: field exceeds budget", "path", p, "size", size, "budget", req.Budget,
				"error", ErrEncodeOverrun)
			continue
		}
		if size > remaining {
			break
		}

		res.Message.Elements = append(res.Message.Elements, elem)
		remaining -= size
		req.Dirty.RemoveItem(p)
		res.Written++
	}

	req.Dirty.Compact()
	res.Remaining = req.Dirty.Len()
	res.Done = res.Remaining == 0
	res.Message.Truncated = res.Truncated
	res.Message.More = !res.Done

	size, err := wire.EnvelopeSize(res.Message)
	if err != nil {
		return res, fmt.Errorf("notify: encode: %w", err)
	}
	res.Size = size
	return res, buildErr
}

// element reads the current value of p. Absent properties become deletion
// markers.
func (e *Engine) element(obj schema.Object, p schema.ObjectPath) (wire.DataElement, error) {
	addr, err := e.catalog.PathToAddress(p)
	if err != nil {
		return wire.DataElement{}, err
	}
	value, present, err := obj.Get(p.Path)
	if err != nil {
		return wire.DataElement{}, err
	}
	elem := wire.DataElement{Path: addr, Version: obj.Version()}
	if present {
		elem.Data = value
	} else {
		elem.Deleted = true
	}
	return elem, nil
}

// order sorts paths by handle, then pre-order. Handles the catalog no
// longer knows sort by handle only.
func (e *Engine) order(paths []schema.ObjectPath) []schema.ObjectPath {
	sort.SliceStable(paths, func(i, j int) bool {
		a, b := paths[i], paths[j]
		if a.Handle != b.Handle {
			return a.Handle < b.Handle
		}
		desc, ok := e.catalog.Descriptor(a.Handle)
		if !ok {
			return false
		}
		return desc.Less(a.Path, b.Path)
	})
	return paths
}

// FullObjectPaths returns the base path of every given handle, the dirty
// set of a fresh subscription.
func FullObjectPaths(cat catalog.Catalog, handles []schema.ObjectHandle) []schema.ObjectPath {
	out := make([]schema.ObjectPath, 0, len(handles))
	for _, h := range handles {
		base, err := cat.BasePath(h)
		if err != nil {
			continue
		}
		out = append(out, schema.ObjectPath{Handle: h, Path: base})
	}
	return out
}

func (e *Engine) debugLog(msg string, args ...any) {
	if e.logger != nil {
		e.logger.Debug(msg, args...)
	}
}

func (e *Engine) warn(msg string, args ...any) {
	if e.logger != nil {
		e.logger.Warn(msg, args...)
	}
}
