package subscription

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"time"

	"github.com/mash-protocol/mash-sync/pkg/catalog"
	"github.com/mash-protocol/mash-sync/pkg/log"
	"github.com/mash-protocol/mash-sync/pkg/loop"
	"github.com/mash-protocol/mash-sync/pkg/notify"
	"github.com/mash-protocol/mash-sync/pkg/schema"
	"github.com/mash-protocol/mash-sync/pkg/wire"
)

// ErrResponseTimeout is passed to an Update callback when no response
// arrived in time.
var ErrResponseTimeout = errors.New("response timeout")

type key struct {
	peer PeerID
	id   uint64
}

type pendingUpdate struct {
	peer  PeerID
	done  func(*wire.UpdateResponse, error)
	timer *loop.Timer
}

// Engine dispatches subscription messages to handlers and clients.
//
// Every method must run on the protocol thread.
type Engine struct {
	config  Config
	loop    *loop.Loop
	catalog catalog.Catalog
	sender  Sender
	builder *notify.Engine
	logger  *slog.Logger
	trace   log.Logger
	guard   *loop.Guard
	rng     *rand.Rand

	handlers map[key]*Handler
	bound    map[key]*Client
	clients  []*Client

	updates      map[uint64]*pendingUpdate
	nextUpdateID uint64

	onEvent func(Event)
}

// New creates an engine serving objects of cat and sending via sender.
func New(config Config, l *loop.Loop, cat catalog.Catalog, sender Sender) *Engine {
	config = config.withDefaults()
	seed := config.Backoff.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Engine{
		config:   config,
		loop:     l,
		catalog:  cat,
		sender:   sender,
		builder:  notify.New(cat, config.Logger),
		logger:   config.Logger,
		trace:    config.Trace,
		guard:    l.NewGuard("subscription engine"),
		rng:      rand.New(rand.NewSource(seed)),
		handlers: make(map[key]*Handler),
		bound:    make(map[key]*Client),
		updates:  make(map[uint64]*pendingUpdate),
	}
}

// OnEvent sets the callback for observable subscription events.
func (e *Engine) OnEvent(fn func(Event)) {
	e.onEvent = fn
}

// HandleMessage dispatches one inbound message from peer.
// Block-transfer messages are not handled and return ErrUnhandled.
func (e *Engine) HandleMessage(peer PeerID, msg wire.Message) error {
	if msg.MessageType().IsTransfer() {
		return ErrUnhandled
	}
	if !e.guard.Enter() {
		return ErrReentrant
	}
	defer e.guard.Exit()

	e.trace.Log(log.FromMessage(e.loop.Now(), string(peer), log.DirectionIn, msg))

	switch m := msg.(type) {
	case *wire.SubscribeRequest:
		e.onSubscribeRequest(peer, m)

	case *wire.SubscribeResponse:
		if c := e.bound[key{peer, m.SubscriptionID}]; c != nil {
			c.onSubscribeResponse(m)
		} else {
			e.reportUnknown(peer, m.SubscriptionID)
		}

	case *wire.NotifyRequest:
		if c := e.bound[key{peer, m.SubscriptionID}]; c != nil {
			c.onNotify(m)
		} else {
			e.reportUnknown(peer, m.SubscriptionID)
		}

	case *wire.NotifyResponse:
		if h := e.handlers[key{peer, m.SubscriptionID}]; h != nil {
			h.onNotifyResponse(m)
		} else {
			e.reportUnknown(peer, m.SubscriptionID)
		}

	case *wire.CancelRequest:
		h := e.handlers[key{peer, m.SubscriptionID}]
		if h == nil {
			e.reportUnknown(peer, m.SubscriptionID)
			break
		}
		h.terminate(wire.StatusCanceled, false, "canceled by subscriber")
		e.reply(peer, &wire.CancelResponse{SubscriptionID: m.SubscriptionID, Status: wire.StatusSuccess})

	case *wire.CancelResponse:
		if c := e.bound[key{peer, m.SubscriptionID}]; c != nil {
			c.onCancelResponse()
		}

	case *wire.Heartbeat:
		// A heartbeat is sent by handlers and echoed by clients.
		if h := e.handlers[key{peer, m.SubscriptionID}]; h != nil {
			h.onInbound()
		} else if c := e.bound[key{peer, m.SubscriptionID}]; c != nil {
			c.onHeartbeat()
		} else {
			e.reportUnknown(peer, m.SubscriptionID)
		}

	case *wire.StatusReport:
		if c := e.bound[key{peer, m.SubscriptionID}]; c != nil {
			c.onStatusReport(m)
		} else if h := e.handlers[key{peer, m.SubscriptionID}]; h != nil {
			h.onStatusReport(m)
		}

	case *wire.UpdateRequest:
		e.reply(peer, e.HandleUpdate(m))

	case *wire.UpdateResponse:
		e.onUpdateResponse(peer, m)

	default:
		return ErrUnhandled
	}
	return nil
}

func (e *Engine) onSubscribeRequest(peer PeerID, req *wire.SubscribeRequest) {
	k := key{peer, req.SubscriptionID}
	reject := func(status wire.Status, reason string) {
		e.debugLog("subscription: rejecting request", "peer", peer, "id", req.SubscriptionID, "status", status, "reason", reason)
		e.reply(peer, &wire.SubscribeResponse{SubscriptionID: req.SubscriptionID, Status: status})
	}
	if _, dup := e.handlers[k]; dup {
		reject(wire.StatusInvalidMessage, "duplicate subscription id")
		return
	}
	if len(e.handlers) >= e.config.MaxHandlers {
		reject(wire.StatusResourceExhausted, ErrTooManyHandlers.Error())
		return
	}

	h := newHandler(e, peer, req.SubscriptionID)
	if status, reason := h.resolve(req); status != wire.StatusSuccess {
		reject(status, reason)
		return
	}
	e.handlers[k] = h
	h.start()
}

// HandleUpdate applies an UpdateRequest to updatable catalog objects and
// returns one status per element.
func (e *Engine) HandleUpdate(req *wire.UpdateRequest) *wire.UpdateResponse {
	resp := &wire.UpdateResponse{
		UpdateID: req.UpdateID,
		Statuses: make([]wire.Status, len(req.Elements)),
		Versions: make([]uint64, len(req.Elements)),
	}
	for i, elem := range req.Elements {
		resp.Statuses[i], resp.Versions[i] = e.applyUpdate(elem)
	}
	return resp
}

func (e *Engine) applyUpdate(elem wire.DataElement) (wire.Status, uint64) {
	p, _, err := e.catalog.ResolvePath(elem.Path)
	if err != nil {
		return statusFor(err), 0
	}
	obj, err := e.catalog.Locate(p.Handle)
	if err != nil {
		return wire.StatusUnknownResource, 0
	}
	upd, ok := obj.(schema.Updatable)
	if !ok {
		return wire.StatusReadOnly, 0
	}
	if elem.Deleted {
		err = upd.Delete(p.Path)
	} else {
		err = upd.Set(p.Path, elem.Data)
	}
	if err != nil {
		e.debugLog("subscription: update rejected", "path", elem.Path, "error", err)
		return statusFor(err), 0
	}
	return wire.StatusSuccess, upd.Version()
}

// statusFor maps a resolution or write error to a wire status.
func statusFor(err error) wire.Status {
	switch {
	case errors.Is(err, catalog.ErrUnknownResource), errors.Is(err, catalog.ErrUnknownHandle):
		return wire.StatusUnknownResource
	case errors.Is(err, schema.ErrInvalidPath), errors.Is(err, schema.ErrUnknownTag), errors.Is(err, schema.ErrInvalidKey):
		return wire.StatusInvalidPath
	default:
		return wire.StatusConstraintError
	}
}

func (e *Engine) update(peer PeerID, elements []wire.DataElement, done func(*wire.UpdateResponse, error)) (uint64, error) {
	e.nextUpdateID++
	id := e.nextUpdateID
	if err := e.send(peer, &wire.UpdateRequest{UpdateID: id, Elements: elements}); err != nil {
		return 0, err
	}
	pu := &pendingUpdate{peer: peer, done: done, timer: e.loop.NewTimer()}
	e.updates[id] = pu
	pu.timer.Arm(e.config.ResponseTimeout, func() {
		delete(e.updates, id)
		if pu.done != nil {
			pu.done(nil, fmt.Errorf("update %d: %w", id, ErrResponseTimeout))
		}
	})
	return id, nil
}

func (e *Engine) onUpdateResponse(peer PeerID, resp *wire.UpdateResponse) {
	pu, ok := e.updates[resp.UpdateID]
	if !ok || pu.peer != peer {
		return
	}
	pu.timer.Stop()
	delete(e.updates, resp.UpdateID)
	if pu.done != nil {
		pu.done(resp, nil)
	}
}

// MarkDirty records a local change so every handler covering p notifies it.
func (e *Engine) MarkDirty(p schema.ObjectPath) {
	for _, h := range e.sortedHandlers() {
		h.markDirty(p)
	}
}

// RemoveObject removes h from the catalog and from every handler. Handlers
// left without objects terminate.
func (e *Engine) RemoveObject(h catalog.Handle) error {
	if err := e.catalog.Remove(h); err != nil {
		return err
	}
	for _, hd := range e.sortedHandlers() {
		hd.dropObject(h)
	}
	return nil
}

// PeerDisconnected tears down everything bound to peer.
func (e *Engine) PeerDisconnected(peer PeerID) {
	for _, h := range e.sortedHandlers() {
		if h.peer == peer {
			h.terminate(wire.StatusCanceled, false, "peer disconnected")
		}
	}
	for _, c := range e.clients {
		if c.config.Peer == peer {
			c.Abort("peer disconnected")
		}
	}
	for id, pu := range e.updates {
		if pu.peer == peer {
			pu.timer.Stop()
			delete(e.updates, id)
		}
	}
}

// NewClient registers an outbound subscription. Call Subscribe to start it.
func (e *Engine) NewClient(cfg ClientConfig) (*Client, error) {
	if len(cfg.Paths) == 0 {
		return nil, ErrNoPaths
	}
	if len(e.clients) >= e.config.MaxClients {
		return nil, ErrTooManyClients
	}
	c := newClient(e, cfg)
	e.clients = append(e.clients, c)
	return c, nil
}

// RemoveClient aborts c and forgets it.
func (e *Engine) RemoveClient(c *Client) {
	c.Abort("client removed")
	c.resubscribeTimer.Stop()
	for i, other := range e.clients {
		if other == c {
			e.clients = append(e.clients[:i], e.clients[i+1:]...)
			return
		}
	}
}

// Shutdown cancels every handler and client.
func (e *Engine) Shutdown() {
	for _, h := range e.sortedHandlers() {
		h.terminate(wire.StatusCanceled, true, "shutting down")
	}
	for _, c := range e.clients {
		_ = c.Cancel()
		c.resubscribeTimer.Stop()
	}
}

// Handler returns the handler serving (peer, id).
func (e *Engine) Handler(peer PeerID, id uint64) (*Handler, bool) {
	h, ok := e.handlers[key{peer, id}]
	return h, ok
}

// HandlerCount returns the number of established handlers.
func (e *Engine) HandlerCount() int { return len(e.handlers) }

// ClientCount returns the number of registered clients.
func (e *Engine) ClientCount() int { return len(e.clients) }

// Handlers returns the handlers ordered by peer and id.
func (e *Engine) Handlers() []*Handler { return e.sortedHandlers() }

// Clients returns the registered clients in creation order.
func (e *Engine) Clients() []*Client {
	return append([]*Client(nil), e.clients...)
}

// sortedHandlers returns a stable snapshot; handlers may remove themselves
// while it is iterated.
func (e *Engine) sortedHandlers() []*Handler {
	out := make([]*Handler, 0, len(e.handlers))
	for _, h := range e.handlers {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].peer != out[j].peer {
			return out[i].peer < out[j].peer
		}
		return out[i].id < out[j].id
	})
	return out
}

func (e *Engine) removeHandler(h *Handler) {
	k := key{h.peer, h.id}
	if e.handlers[k] == h {
		delete(e.handlers, k)
	}
}

func (e *Engine) bindClient(c *Client) {
	e.bound[key{c.config.Peer, c.id}] = c
}

func (e *Engine) unbindClient(c *Client) {
	k := key{c.config.Peer, c.id}
	if e.bound[k] == c {
		delete(e.bound, k)
	}
}

// newSubscriptionID returns a non-zero id not bound to any client.
func (e *Engine) newSubscriptionID() uint64 {
	for {
		id := e.rng.Uint64()
		if id == 0 {
			continue
		}
		taken := false
		for k := range e.bound {
			if k.id == id {
				taken = true
				break
			}
		}
		if !taken {
			return id
		}
	}
}

func (e *Engine) reportUnknown(peer PeerID, id uint64) {
	e.debugLog("subscription: unknown subscription", "peer", peer, "id", id)
	e.reply(peer, &wire.StatusReport{SubscriptionID: id, Status: wire.StatusUnknownSubscription})
}

// reply sends msg and logs failures.
func (e *Engine) reply(peer PeerID, msg wire.Message) {
	if err := e.send(peer, msg); err != nil {
		e.warn("subscription: reply not sent", "peer", peer, "type", msg.MessageType(), "error", err)
	}
}

func (e *Engine) send(peer PeerID, msg wire.Message) error {
	e.trace.Log(log.FromMessage(e.loop.Now(), string(peer), log.DirectionOut, msg))
	if err := e.sender.Send(peer, msg); err != nil {
		e.trace.Log(log.ErrorEvent(e.loop.Now(), string(peer), log.LayerEngine, "send "+msg.MessageType().String(), err))
		return err
	}
	return nil
}

func (e *Engine) emit(ev Event) {
	if e.onEvent != nil {
		e.onEvent(ev)
	}
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
