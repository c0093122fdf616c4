package subscription

import (
	"fmt"
	"time"

	"github.com/mash-protocol/mash-sync/pkg/log"
	"github.com/mash-protocol/mash-sync/pkg/loop"
	"github.com/mash-protocol/mash-sync/pkg/schema"
	"github.com/mash-protocol/mash-sync/pkg/wire"
)

// ClientConfig describes one outbound subscription.
type ClientConfig struct {
	// Peer is the publisher.
	Peer PeerID

	// Resource is the publisher's identity in the local catalog. Paths the
	// publisher reports as its own resource are rewritten to it.
	Resource wire.ResourceID

	// Paths are the subscribed wire paths.
	Paths []wire.Path

	// LivenessTimeout is proposed to the publisher. Zero uses the engine
	// default.
	LivenessTimeout time.Duration
}

// Client holds one subscription to a remote publisher and applies its
// notifications to the local mirror objects registered in the catalog.
type Client struct {
	engine  *Engine
	config  ClientConfig
	state   State
	id      uint64
	backoff *Backoff

	liveness time.Duration
	applied  uint64
	skipped  uint64

	responseTimer    *loop.Timer
	livenessTimer    *loop.Timer
	resubscribeTimer *loop.Timer
}

func newClient(e *Engine, cfg ClientConfig) *Client {
	if cfg.LivenessTimeout <= 0 {
		cfg.LivenessTimeout = e.config.LivenessTimeout
	}
	cfg.LivenessTimeout = min(cfg.LivenessTimeout, maxWireDuration)
	return &Client{
		engine:           e,
		config:           cfg,
		backoff:          NewBackoffWithConfig(e.config.Backoff),
		liveness:         cfg.LivenessTimeout,
		responseTimer:    e.loop.NewTimer(),
		livenessTimer:    e.loop.NewTimer(),
		resubscribeTimer: e.loop.NewTimer(),
	}
}

// State returns the current state.
func (c *Client) State() State { return c.state }

// SubscriptionID returns the id of the current or last attempt.
func (c *Client) SubscriptionID() uint64 { return c.id }

// Peer returns the publisher.
func (c *Client) Peer() PeerID { return c.config.Peer }

// Backoff returns the resubscribe backoff.
func (c *Client) Backoff() *Backoff { return c.backoff }

// ResubscribePending reports whether a resubscribe timer is armed.
func (c *Client) ResubscribePending() bool { return c.resubscribeTimer.Armed() }

// Applied returns the number of data elements applied and skipped.
func (c *Client) Applied() (applied, skipped uint64) { return c.applied, c.skipped }

// Subscribe starts a subscription attempt. It must be called from Idle.
// A send failure schedules a resubscribe and is returned.
func (c *Client) Subscribe() error {
	if c.state != StateIdle {
		return fmt.Errorf("%w: subscribe in %s", ErrInvalidState, c.state)
	}
	c.resubscribeTimer.Stop()
	c.setState(StateSubscribePending, "subscribe")

	c.id = c.engine.newSubscriptionID()
	c.engine.bindClient(c)
	err := c.engine.send(c.config.Peer, &wire.SubscribeRequest{
		SubscriptionID:  c.id,
		Paths:           c.config.Paths,
		LivenessTimeout: toMillis(c.liveness),
	})
	if err != nil {
		c.fail("send failed: " + err.Error())
		return err
	}
	c.setState(StateSubscribeInProgress, "request sent")
	c.responseTimer.Arm(c.engine.config.ResponseTimeout, func() {
		c.fail("subscribe response timeout")
	})
	return nil
}

// Cancel ends the subscription. It is idempotent and also stops a pending
// resubscribe.
func (c *Client) Cancel() error {
	switch c.state {
	case StateIdle:
		c.resubscribeTimer.Stop()
		return nil
	case StateCanceling, StateAborting:
		return nil
	}
	c.responseTimer.Stop()
	c.livenessTimer.Stop()
	c.setState(StateCanceling, "cancel")

	if err := c.engine.send(c.config.Peer, &wire.CancelRequest{SubscriptionID: c.id}); err != nil {
		c.finishCancel()
		return nil
	}
	c.responseTimer.Arm(c.engine.config.ResponseTimeout, c.finishCancel)
	return nil
}

// Abort drops the subscription after an unrecoverable transport error
// without talking to the peer and without resubscribing.
func (c *Client) Abort(reason string) {
	if c.state == StateIdle {
		c.resubscribeTimer.Stop()
		return
	}
	c.setState(StateAborting, reason)
	c.reset()
	c.setState(StateIdle, reason)
	c.engine.emit(Event{Kind: EventTerminated, Side: SideClient, Peer: c.config.Peer, SubscriptionID: c.id, Reason: reason})
}

// Update writes elements on the publisher. done runs on the protocol thread
// with the response, or with ErrResponseTimeout.
func (c *Client) Update(elements []wire.DataElement, done func(*wire.UpdateResponse, error)) (uint64, error) {
	return c.engine.update(c.config.Peer, elements, done)
}

func (c *Client) onSubscribeResponse(resp *wire.SubscribeResponse) {
	if c.state != StateSubscribeInProgress {
		return
	}
	c.responseTimer.Stop()

	switch resp.Status {
	case wire.StatusSuccess:
		if resp.LivenessTimeout > 0 {
			c.liveness = fromMillis(resp.LivenessTimeout)
		}
		c.backoff.Reset()
		c.setState(StateEstablished, "subscribe accepted")
		c.livenessTimer.Arm(c.liveness, c.onLivenessTimeout)
		c.engine.emit(Event{Kind: EventEstablished, Side: SideClient, Peer: c.config.Peer, SubscriptionID: c.id})
	case wire.StatusBusy, wire.StatusResourceExhausted, wire.StatusTimeout:
		c.fail("subscribe rejected: " + resp.Status.String())
	default:
		c.end("subscribe rejected: " + resp.Status.String())
	}
}

func (c *Client) onNotify(req *wire.NotifyRequest) {
	if c.state != StateEstablished && c.state != StateSubscribeInProgress {
		return
	}
	if c.state == StateEstablished {
		c.livenessTimer.Arm(c.liveness, c.onLivenessTimeout)
	}
	for _, elem := range req.Elements {
		if err := c.apply(elem); err != nil {
			c.skipped++
			c.engine.debugLog("subscription: skipping element", "id", c.id, "path", elem.Path, "error", err)
			continue
		}
		c.applied++
	}
	if req.Truncated {
		c.engine.warn("subscription: publisher skipped oversized fields", "peer", c.config.Peer, "id", c.id)
	}

	err := c.engine.send(c.config.Peer, &wire.NotifyResponse{SubscriptionID: c.id, Status: wire.StatusSuccess})
	if err != nil {
		c.engine.debugLog("subscription: notify response not sent", "id", c.id, "error", err)
	}
}

// apply writes one element to the local mirror. Elements of unknown
// resources fail individually.
func (c *Client) apply(elem wire.DataElement) error {
	addr := elem.Path
	if addr.Resource == nil && c.config.Resource.Kind != wire.ResourceSelf {
		r := c.config.Resource
		addr.Resource = &r
	}
	p, _, err := c.engine.catalog.ResolvePath(addr)
	if err != nil {
		return err
	}
	obj, err := c.engine.catalog.Locate(p.Handle)
	if err != nil {
		return err
	}
	sink, ok := obj.(schema.Sink)
	if !ok {
		return fmt.Errorf("object %d does not accept replicated data", p.Handle)
	}
	return sink.Apply(p.Path, elem.Version, elem.Data, elem.Deleted)
}

func (c *Client) onHeartbeat() {
	if c.state != StateEstablished {
		return
	}
	c.livenessTimer.Arm(c.liveness, c.onLivenessTimeout)
	if err := c.engine.send(c.config.Peer, &wire.Heartbeat{SubscriptionID: c.id}); err != nil {
		c.engine.debugLog("subscription: heartbeat echo not sent", "id", c.id, "error", err)
	}
}

func (c *Client) onStatusReport(r *wire.StatusReport) {
	if c.state == StateCanceling {
		c.finishCancel()
		return
	}
	switch r.Status {
	case wire.StatusUnknownSubscription, wire.StatusTimeout, wire.StatusBusy:
		c.fail("publisher report: " + r.Status.String())
	default:
		c.end("publisher report: " + r.Status.String())
	}
}

func (c *Client) onCancelResponse() {
	if c.state == StateCanceling {
		c.finishCancel()
	}
}

func (c *Client) onLivenessTimeout() {
	if c.state == StateEstablished {
		c.fail("liveness timeout")
	}
}

// fail returns to Idle and schedules a resubscribe after the next backoff
// delay.
func (c *Client) fail(reason string) {
	c.reset()
	c.setState(StateIdle, reason)

	delay := c.backoff.Next()
	c.resubscribeTimer.Arm(delay, func() {
		if c.state == StateIdle {
			_ = c.Subscribe()
		}
	})
	c.engine.emit(Event{
		Kind:           EventResubscribeScheduled,
		Side:           SideClient,
		Peer:           c.config.Peer,
		SubscriptionID: c.id,
		Reason:         reason,
		Delay:          delay,
	})
}

// end returns to Idle for good.
func (c *Client) end(reason string) {
	c.reset()
	c.setState(StateIdle, reason)
	c.engine.emit(Event{Kind: EventTerminated, Side: SideClient, Peer: c.config.Peer, SubscriptionID: c.id, Reason: reason})
}

func (c *Client) finishCancel() {
	if c.state != StateCanceling {
		return
	}
	c.end("canceled")
}

func (c *Client) reset() {
	c.responseTimer.Stop()
	c.livenessTimer.Stop()
	c.engine.unbindClient(c)
}

func (c *Client) setState(s State, reason string) {
	old := c.state
	c.state = s
	ev := log.StateChange(c.engine.loop.Now(), string(c.config.Peer), log.StateEntitySubscription, old.String(), s.String(), reason)
	ev.SubscriptionID = c.id
	ev.LocalRole = log.RoleSubscriber
	c.engine.trace.Log(ev)
	c.engine.debugLog("subscription: client state", "peer", c.config.Peer, "id", c.id, "from", old, "to", s, "reason", reason)
}
