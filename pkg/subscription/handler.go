package subscription

import (
	"errors"
	"fmt"
	"time"

	"github.com/mash-protocol/mash-sync/pkg/catalog"
	"github.com/mash-protocol/mash-sync/pkg/log"
	"github.com/mash-protocol/mash-sync/pkg/loop"
	"github.com/mash-protocol/mash-sync/pkg/notify"
	"github.com/mash-protocol/mash-sync/pkg/pathstore"
	"github.com/mash-protocol/mash-sync/pkg/schema"
	"github.com/mash-protocol/mash-sync/pkg/wire"
)

// Handler serves one subscription on the publishing side.
//
// It owns the subscription's dirty set and the catalog retains of every
// subscribed object. Termination gives both back but never removes catalog
// objects, which other subscriptions may share.
type Handler struct {
	engine *Engine
	peer   PeerID
	id     uint64
	state  State

	// roots are the subscribed paths, deduplicated.
	roots    []schema.ObjectPath
	versions map[catalog.Handle]schema.VersionRange
	retained map[catalog.Handle]bool

	dirty    *pathstore.Store
	overruns map[schema.ObjectPath]int
	inFlight bool

	liveness  time.Duration
	heartbeat time.Duration

	livenessTimer  *loop.Timer
	heartbeatTimer *loop.Timer
	responseTimer  *loop.Timer
}

func newHandler(e *Engine, peer PeerID, id uint64) *Handler {
	return &Handler{
		engine:         e,
		peer:           peer,
		id:             id,
		versions:       make(map[catalog.Handle]schema.VersionRange),
		retained:       make(map[catalog.Handle]bool),
		dirty:          pathstore.New(e.config.PathStoreCapacity),
		overruns:       make(map[schema.ObjectPath]int),
		livenessTimer:  e.loop.NewTimer(),
		heartbeatTimer: e.loop.NewTimer(),
		responseTimer:  e.loop.NewTimer(),
	}
}

// Peer returns the subscribing peer.
func (h *Handler) Peer() PeerID { return h.peer }

// ID returns the subscription id.
func (h *Handler) ID() uint64 { return h.id }

// State returns the current state.
func (h *Handler) State() State { return h.state }

// Roots returns the subscribed object paths.
func (h *Handler) Roots() []schema.ObjectPath {
	out := make([]schema.ObjectPath, len(h.roots))
	copy(out, h.roots)
	return out
}

// Dirty returns the number of paths waiting to be notified.
func (h *Handler) Dirty() int { return h.dirty.Len() }

// resolve binds the requested paths to catalog objects and negotiates
// schema versions. Paths that do not resolve are skipped.
func (h *Handler) resolve(req *wire.SubscribeRequest) (wire.Status, string) {
	cat := h.engine.catalog
	if len(req.Paths) == 0 {
		return wire.StatusInvalidMessage, "no paths"
	}

	roots := pathstore.New(len(req.Paths))
	for _, addr := range req.Paths {
		p, requested, err := cat.ResolvePath(addr)
		if err != nil {
			h.engine.debugLog("subscription: skipping unresolved path", "id", h.id, "path", addr, "error", err)
			continue
		}
		desc, _ := cat.Descriptor(p.Handle)
		negotiated, ok := requested.Intersect(desc.Versions)
		if prev, seen := h.versions[p.Handle]; ok && seen {
			negotiated, ok = prev.Intersect(negotiated)
		}
		if !ok {
			return wire.StatusSchemaMismatch, fmt.Sprintf("%s: requested %s, have %s", addr, requested, desc.Versions)
		}
		h.versions[p.Handle] = negotiated
		if err := roots.AddItemDedup(p, cat); err != nil {
			return wire.StatusInternalError, err.Error()
		}
	}
	h.roots = roots.Paths()
	if len(h.roots) == 0 {
		return wire.StatusUnknownResource, "no path resolved"
	}
	if len(h.roots) > h.dirty.Cap() {
		return wire.StatusResourceExhausted, "too many paths"
	}

	for hd := range h.versions {
		if err := cat.Retain(hd); err != nil {
			h.releaseAll()
			return wire.StatusInternalError, err.Error()
		}
		h.retained[hd] = true
	}

	h.liveness = h.engine.config.LivenessTimeout
	if req.LivenessTimeout > 0 {
		h.liveness = fromMillis(req.LivenessTimeout)
	}
	h.heartbeat = h.engine.config.heartbeatFor(h.liveness)
	return wire.StatusSuccess, ""
}

// start acknowledges the subscription and primes the subscriber with the
// full contents of every root.
func (h *Handler) start() {
	h.setState(StateEstablished, "subscribe accepted")
	err := h.send(&wire.SubscribeResponse{
		SubscriptionID:  h.id,
		Status:          wire.StatusSuccess,
		LivenessTimeout: toMillis(h.liveness),
	})
	if err != nil {
		h.terminate(wire.StatusInternalError, false, "send failed: "+err.Error())
		return
	}
	h.livenessTimer.Arm(h.liveness, h.onLivenessTimeout)

	for _, r := range h.roots {
		h.addDirty(r)
	}
	h.engine.emit(Event{Kind: EventEstablished, Side: SideHandler, Peer: h.peer, SubscriptionID: h.id})
	h.pump()
}

// markDirty records a change at p. A change above a root dirties the root.
func (h *Handler) markDirty(p schema.ObjectPath) {
	if h.state != StateEstablished {
		return
	}
	desc, ok := h.engine.catalog.Descriptor(p.Handle)
	if !ok {
		return
	}
	for _, r := range h.roots {
		if r.Handle != p.Handle {
			continue
		}
		if desc.IsInSubtree(r.Path, p.Path) {
			h.addDirty(p)
			break
		}
		if desc.IsAncestor(p.Path, r.Path) {
			h.addDirty(r)
		}
	}
	h.pump()
}

// addDirty adds p to the dirty set. When the set is full the object is
// collapsed to its roots; if that still does not fit, every root is marked
// for a full resync.
func (h *Handler) addDirty(p schema.ObjectPath) {
	cat := h.engine.catalog
	err := h.dirty.AddItemDedup(p, cat)
	if err == nil {
		return
	}
	if !errors.Is(err, pathstore.ErrStoreFull) {
		h.engine.warn("subscription: cannot mark path dirty", "id", h.id, "path", p, "error", err)
		return
	}

	h.dirty.RemoveTrait(p.Handle)
	if h.addRoots(func(r schema.ObjectPath) bool { return r.Handle == p.Handle }) == nil {
		h.engine.debugLog("subscription: dirty set full, marked whole object", "id", h.id, "handle", p.Handle)
		return
	}
	h.dirty.Clear()
	if err := h.addRoots(func(schema.ObjectPath) bool { return true }); err != nil {
		h.engine.warn("subscription: full resync does not fit", "id", h.id, "error", err)
		return
	}
	h.engine.debugLog("subscription: dirty set full, full resync", "id", h.id)
}

func (h *Handler) addRoots(match func(schema.ObjectPath) bool) error {
	for _, r := range h.roots {
		if !match(r) {
			continue
		}
		if err := h.dirty.AddItemDedup(r, h.engine.catalog); err != nil {
			return err
		}
	}
	return nil
}

// pump sends the next notification unless one is in flight.
func (h *Handler) pump() {
	if h.state != StateEstablished || h.inFlight || h.dirty.Len() == 0 {
		return
	}
	cfg := h.engine.config

	res, err := h.engine.builder.BuildNotify(notify.Request{
		SubscriptionID: h.id,
		Dirty:          h.dirty,
		Versions:       h.versions,
		Budget:         cfg.MaxNotifySize,
	})
	if errors.Is(err, notify.ErrSchemaVersionMismatch) {
		h.terminate(wire.StatusSchemaMismatch, true, err.Error())
		return
	}
	if err != nil {
		h.terminate(wire.StatusInternalError, true, err.Error())
		return
	}
	for _, p := range res.Overruns {
		h.overruns[p]++
		if h.overruns[p] >= cfg.MaxEncodeOverruns {
			h.terminate(wire.StatusResourceExhausted, true, fmt.Sprintf("%s exceeds notification size %d times", p, h.overruns[p]))
			return
		}
	}
	if len(res.Message.Elements) == 0 && !res.Truncated {
		return
	}

	if err := h.send(res.Message); err != nil {
		h.terminate(wire.StatusInternalError, false, "send failed: "+err.Error())
		return
	}
	h.inFlight = true
	h.responseTimer.Arm(cfg.ResponseTimeout, h.onResponseTimeout)
	h.engine.emit(Event{
		Kind:           EventNotifySent,
		Side:           SideHandler,
		Peer:           h.peer,
		SubscriptionID: h.id,
		Elements:       len(res.Message.Elements),
		Bytes:          res.Size,
	})
}

// send delivers msg and restarts the heartbeat interval.
func (h *Handler) send(msg wire.Message) error {
	if err := h.engine.send(h.peer, msg); err != nil {
		return err
	}
	h.heartbeatTimer.Arm(h.heartbeat, h.onHeartbeatTimer)
	return nil
}

// onInbound restarts the liveness timeout.
func (h *Handler) onInbound() {
	if h.state == StateEstablished {
		h.livenessTimer.Arm(h.liveness, h.onLivenessTimeout)
	}
}

func (h *Handler) onNotifyResponse(resp *wire.NotifyResponse) {
	h.onInbound()
	if !h.inFlight {
		return
	}
	h.responseTimer.Stop()
	h.inFlight = false
	if resp.Status != wire.StatusSuccess {
		h.terminate(resp.Status, false, "notify rejected by subscriber")
		return
	}
	h.pump()
}

func (h *Handler) onStatusReport(r *wire.StatusReport) {
	h.terminate(r.Status, false, "subscriber report: "+r.Message)
}

func (h *Handler) onHeartbeatTimer() {
	if h.state != StateEstablished {
		return
	}
	if h.inFlight {
		h.heartbeatTimer.Arm(h.heartbeat, h.onHeartbeatTimer)
		return
	}
	if err := h.send(&wire.Heartbeat{SubscriptionID: h.id}); err != nil {
		h.terminate(wire.StatusInternalError, false, "send failed: "+err.Error())
	}
}

func (h *Handler) onLivenessTimeout() {
	h.terminate(wire.StatusTimeout, true, "liveness timeout")
}

func (h *Handler) onResponseTimeout() {
	h.terminate(wire.StatusTimeout, true, "notify response timeout")
}

// dropObject forgets a removed catalog object.
func (h *Handler) dropObject(hd catalog.Handle) {
	h.dirty.RemoveTrait(hd)
	if h.retained[hd] {
		_ = h.engine.catalog.Release(hd)
		delete(h.retained, hd)
	}
	delete(h.versions, hd)

	kept := h.roots[:0]
	for _, r := range h.roots {
		if r.Handle != hd {
			kept = append(kept, r)
		}
	}
	h.roots = kept
	if len(h.roots) == 0 {
		h.terminate(wire.StatusUnknownResource, true, "subscribed objects removed")
	}
}

// terminate returns the handler to Idle. It is idempotent.
func (h *Handler) terminate(status wire.Status, report bool, reason string) {
	if h.state == StateIdle {
		return
	}
	h.setState(StateIdle, reason)

	h.livenessTimer.Stop()
	h.heartbeatTimer.Stop()
	h.responseTimer.Stop()
	h.inFlight = false
	h.dirty.Clear()
	h.releaseAll()
	h.engine.removeHandler(h)

	if report {
		err := h.engine.send(h.peer, &wire.StatusReport{SubscriptionID: h.id, Status: status, Message: reason})
		if err != nil {
			h.engine.debugLog("subscription: status report not sent", "id", h.id, "error", err)
		}
	}
	h.engine.emit(Event{Kind: EventTerminated, Side: SideHandler, Peer: h.peer, SubscriptionID: h.id, Reason: status.String()})
}

func (h *Handler) releaseAll() {
	for hd := range h.retained {
		if err := h.engine.catalog.Release(hd); err != nil {
			h.engine.warn("subscription: release failed", "id", h.id, "handle", hd, "error", err)
		}
	}
	h.retained = make(map[catalog.Handle]bool)
}

func (h *Handler) setState(s State, reason string) {
	old := h.state
	h.state = s
	ev := log.StateChange(h.engine.loop.Now(), string(h.peer), log.StateEntitySubscription, old.String(), s.String(), reason)
	ev.SubscriptionID = h.id
	ev.LocalRole = log.RolePublisher
	h.engine.trace.Log(ev)
	h.engine.debugLog("subscription: handler state", "peer", h.peer, "id", h.id, "from", old, "to", s, "reason", reason)
}
