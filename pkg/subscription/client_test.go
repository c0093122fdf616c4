package subscription_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mash-protocol/mash-sync/pkg/catalog"
	"github.com/mash-protocol/mash-sync/pkg/clock"
	"github.com/mash-protocol/mash-sync/pkg/loop"
	"github.com/mash-protocol/mash-sync/pkg/model"
	"github.com/mash-protocol/mash-sync/pkg/schema"
	"github.com/mash-protocol/mash-sync/pkg/subscription"
	"github.com/mash-protocol/mash-sync/pkg/wire"
)

const (
	pubPeer subscription.PeerID = "publisher"
	subPeer subscription.PeerID = "subscriber"
)

var remoteDevice = wire.ResourceID{Kind: wire.ResourceDevice, ID: 42}

// link delivers messages to the other engine through the shared loop.
type link struct {
	loop *loop.Loop
	from subscription.PeerID
	to   *subscription.Engine
	down bool
	sent []wire.Message
}

func (k *link) Send(_ subscription.PeerID, msg wire.Message) error {
	k.sent = append(k.sent, msg)
	if k.down {
		return nil
	}
	return k.loop.Post(func() { _ = k.to.HandleMessage(k.from, msg) })
}

// pair connects a publishing engine and a subscribing engine that share
// one fake clock and one inline loop.
type pair struct {
	clk    *clock.FakeClock
	loop   *loop.Loop
	pub    *subscription.Engine
	sub    *subscription.Engine
	obj    *model.Object
	handle catalog.Handle
	mirror *model.Object
	toPub  *link
	toSub  *link
	events []subscription.Event
}

func newPair(t *testing.T, cfg subscription.Config) *pair {
	t.Helper()
	p := &pair{clk: clock.Fake(t0)}
	p.loop = loop.New(loop.Config{Clock: p.clk, Inline: true})

	pubCat, err := catalog.NewMap(catalog.Config{Capacity: 8})
	require.NoError(t, err)
	p.obj = model.NewObject(model.MeasurementSchema)
	require.NoError(t, p.obj.Set(model.MeasurementPower, int64(1500)))
	require.NoError(t, p.obj.Set(model.MeasurementPhaseVoltage(1), int64(230000)))
	p.handle, err = pubCat.Add(self, 0, schema.RootPath, p.obj)
	require.NoError(t, err)

	subCat, err := catalog.NewMap(catalog.Config{Capacity: 8})
	require.NoError(t, err)
	p.mirror = model.NewObject(model.MeasurementSchema)
	_, err = subCat.Add(remoteDevice, 0, schema.RootPath, p.mirror)
	require.NoError(t, err)

	p.toPub = &link{loop: p.loop, from: subPeer}
	p.toSub = &link{loop: p.loop, from: pubPeer}
	p.pub = subscription.New(cfg, p.loop, pubCat, p.toSub)
	p.sub = subscription.New(cfg, p.loop, subCat, p.toPub)
	p.toPub.to = p.pub
	p.toSub.to = p.sub

	p.sub.OnEvent(func(ev subscription.Event) { p.events = append(p.events, ev) })
	return p
}

// run executes fn as a loop work item so replies queue behind it.
func (p *pair) run(t *testing.T, fn func()) {
	t.Helper()
	require.NoError(t, p.loop.Post(fn))
}

func (p *pair) client(t *testing.T, paths ...wire.Path) *subscription.Client {
	t.Helper()
	c, err := p.sub.NewClient(subscription.ClientConfig{
		Peer:     pubPeer,
		Resource: remoteDevice,
		Paths:    paths,
	})
	require.NoError(t, err)
	return c
}

func (p *pair) establish(t *testing.T, paths ...wire.Path) *subscription.Client {
	t.Helper()
	c := p.client(t, paths...)
	p.run(t, func() { require.NoError(t, c.Subscribe()) })
	require.Equal(t, subscription.StateEstablished, c.State())
	return c
}

func mirrorValue(t *testing.T, obj *model.Object, path schema.PropertyPathHandle) any {
	t.Helper()
	v, ok, err := obj.Get(path)
	require.NoError(t, err)
	require.True(t, ok, "no value at %s", path)
	return v
}

func TestClientReplicatesPublisher(t *testing.T) {
	p := newPair(t, subscription.Config{})
	c := p.establish(t, measurementPath())

	assert.Equal(t, int64(1500), mirrorValue(t, p.mirror, model.MeasurementPower))
	assert.Equal(t, int64(230000), mirrorValue(t, p.mirror, model.MeasurementPhaseVoltage(1)))
	assert.Equal(t, p.obj.Version(), p.mirror.Version())
	assert.Equal(t, 1, p.pub.HandlerCount())

	p.run(t, func() {
		require.NoError(t, p.obj.Set(model.MeasurementPower, int64(1750)))
		p.pub.MarkDirty(schema.ObjectPath{Handle: p.handle, Path: model.MeasurementPower})
	})
	assert.Equal(t, int64(1750), mirrorValue(t, p.mirror, model.MeasurementPower))

	applied, skipped := c.Applied()
	assert.Equal(t, uint64(2), applied)
	assert.Equal(t, uint64(0), skipped)

	require.NotEmpty(t, p.events)
	assert.Equal(t, subscription.EventEstablished, p.events[0].Kind)
	assert.Equal(t, subscription.SideClient, p.events[0].Side)
}

func TestClientSkipsUnknownElements(t *testing.T) {
	p := newPair(t, subscription.Config{})
	c := p.establish(t, measurementPath())

	// A notify for a resource the subscriber never registered.
	other := wire.ResourceID{Kind: wire.ResourceDevice, ID: 7}
	p.run(t, func() {
		require.NoError(t, p.sub.HandleMessage(pubPeer, &wire.NotifyRequest{
			SubscriptionID: c.SubscriptionID(),
			Elements: []wire.DataElement{
				{Path: wire.Path{Profile: model.ProfileMeasurement, Resource: &other, Tags: []uint64{1}}, Version: 9, Data: int64(1)},
				{Path: measurementPath(1), Version: 9, Data: int64(1900)},
			},
		}))
	})

	applied, skipped := c.Applied()
	assert.Equal(t, uint64(2), applied)
	assert.Equal(t, uint64(1), skipped)
	assert.Equal(t, int64(1900), mirrorValue(t, p.mirror, model.MeasurementPower))
}

func TestHeartbeatsKeepSubscriptionAlive(t *testing.T) {
	p := newPair(t, subscription.Config{})
	c := p.establish(t, measurementPath())
	id := c.SubscriptionID()

	p.clk.Advance(5 * time.Minute)

	assert.Equal(t, subscription.StateEstablished, c.State())
	assert.Equal(t, id, c.SubscriptionID())
	h, ok := p.pub.Handler(subPeer, id)
	require.True(t, ok)
	assert.Equal(t, subscription.StateEstablished, h.State())

	heartbeats := 0
	for _, m := range p.toPub.sent {
		if _, ok := m.(*wire.Heartbeat); ok {
			heartbeats++
		}
	}
	assert.Equal(t, 15, heartbeats, "one echo every 20s")
}

func TestResubscribeAfterLivenessLoss(t *testing.T) {
	p := newPair(t, subscription.Config{Backoff: subscription.BackoffConfig{Seed: 3}})
	c := p.establish(t, measurementPath())
	first := c.SubscriptionID()

	p.toPub.down = true
	p.toSub.down = true
	p.clk.Advance(60*time.Second + 500*time.Millisecond)

	assert.Equal(t, subscription.StateIdle, c.State())
	assert.True(t, c.ResubscribePending())
	assert.Equal(t, 0, p.pub.HandlerCount(), "publisher timed out as well")

	last := p.events[len(p.events)-1]
	require.Equal(t, subscription.EventResubscribeScheduled, last.Kind)
	assert.GreaterOrEqual(t, last.Delay, subscription.InitialBackoff)
	assert.LessOrEqual(t, last.Delay, subscription.InitialBackoff+subscription.InitialBackoff/4)

	deadline, ok := p.clk.NextDeadline()
	require.True(t, ok)
	assert.Equal(t, t0.Add(60*time.Second+last.Delay), deadline)

	p.toPub.down = false
	p.toSub.down = false
	p.clk.Advance(time.Second)

	assert.Equal(t, subscription.StateEstablished, c.State())
	assert.NotEqual(t, first, c.SubscriptionID())
	assert.Equal(t, 0, c.Backoff().Attempts())
	assert.Equal(t, 1, p.pub.HandlerCount())
}

func TestSubscribeResponseTimeoutRetries(t *testing.T) {
	p := newPair(t, subscription.Config{ResponseTimeout: 5 * time.Second, Backoff: subscription.BackoffConfig{Jitter: -1}})
	p.toPub.down = true
	c := p.client(t, measurementPath())

	p.run(t, func() { require.NoError(t, c.Subscribe()) })
	assert.Equal(t, subscription.StateSubscribeInProgress, c.State())

	p.clk.Advance(5 * time.Second)
	assert.Equal(t, subscription.StateIdle, c.State())
	assert.Equal(t, 1, c.Backoff().Attempts())

	// Second attempt after exactly one second, then twice as long.
	p.clk.Advance(time.Second)
	assert.Equal(t, subscription.StateSubscribeInProgress, c.State())
	p.clk.Advance(5 * time.Second)
	assert.Equal(t, 2*time.Second, p.events[len(p.events)-1].Delay)
}

func TestRejectedSubscribeDoesNotRetry(t *testing.T) {
	p := newPair(t, subscription.Config{})
	c := p.client(t, wire.Path{Profile: model.ProfileDeviceInfo})

	p.run(t, func() { require.NoError(t, c.Subscribe()) })

	assert.Equal(t, subscription.StateIdle, c.State())
	assert.False(t, c.ResubscribePending())
	last := p.events[len(p.events)-1]
	assert.Equal(t, subscription.EventTerminated, last.Kind)
	assert.Contains(t, last.Reason, wire.StatusUnknownResource.String())
}

func TestClientCancelIsIdempotent(t *testing.T) {
	p := newPair(t, subscription.Config{})
	c := p.establish(t, measurementPath())

	p.run(t, func() { require.NoError(t, c.Cancel()) })
	assert.Equal(t, subscription.StateIdle, c.State())
	assert.Equal(t, 0, p.pub.HandlerCount())

	sent := len(p.toPub.sent)
	p.run(t, func() { require.NoError(t, c.Cancel()) })
	assert.Equal(t, sent, len(p.toPub.sent))
	assert.Equal(t, subscription.StateIdle, c.State())
	assert.False(t, c.ResubscribePending())

	last := p.events[len(p.events)-1]
	assert.Equal(t, subscription.EventTerminated, last.Kind)
	assert.Equal(t, "canceled", last.Reason)
}

func TestCancelWithoutAnswerCompletes(t *testing.T) {
	p := newPair(t, subscription.Config{ResponseTimeout: 3 * time.Second})
	c := p.establish(t, measurementPath())

	p.toPub.down = true
	p.run(t, func() { require.NoError(t, c.Cancel()) })
	assert.Equal(t, subscription.StateCanceling, c.State())

	p.clk.Advance(3 * time.Second)
	assert.Equal(t, subscription.StateIdle, c.State())
}

func TestSubscribeRequiresIdle(t *testing.T) {
	p := newPair(t, subscription.Config{})
	c := p.establish(t, measurementPath())

	p.run(t, func() {
		assert.ErrorIs(t, c.Subscribe(), subscription.ErrInvalidState)
	})
}

func TestClientLimits(t *testing.T) {
	p := newPair(t, subscription.Config{MaxClients: 1})

	_, err := p.sub.NewClient(subscription.ClientConfig{Peer: pubPeer})
	assert.ErrorIs(t, err, subscription.ErrNoPaths)

	c := p.client(t, measurementPath())
	_, err = p.sub.NewClient(subscription.ClientConfig{Peer: pubPeer, Paths: []wire.Path{measurementPath()}})
	assert.ErrorIs(t, err, subscription.ErrTooManyClients)

	p.sub.RemoveClient(c)
	assert.Equal(t, 0, p.sub.ClientCount())
}

func TestPeerDisconnectedAbortsWithoutRetry(t *testing.T) {
	p := newPair(t, subscription.Config{})
	c := p.establish(t, measurementPath())

	p.run(t, func() {
		p.pub.PeerDisconnected(subPeer)
		p.sub.PeerDisconnected(pubPeer)
	})

	assert.Equal(t, 0, p.pub.HandlerCount())
	assert.Equal(t, subscription.StateIdle, c.State())
	assert.False(t, c.ResubscribePending())
	assert.Equal(t, 0, p.clk.Pending())
}

func TestClientUpdate(t *testing.T) {
	p := newPair(t, subscription.Config{})
	c := p.establish(t, measurementPath())

	var got *wire.UpdateResponse
	p.run(t, func() {
		_, err := c.Update([]wire.DataElement{{Path: measurementPath(1), Data: int64(99)}}, func(resp *wire.UpdateResponse, err error) {
			require.NoError(t, err)
			got = resp
		})
		require.NoError(t, err)
	})

	require.NotNil(t, got)
	assert.Equal(t, []wire.Status{wire.StatusSuccess}, got.Statuses)
	assert.Equal(t, int64(99), mirrorValue(t, p.obj, model.MeasurementPower))
}

func TestClientUpdateTimeout(t *testing.T) {
	p := newPair(t, subscription.Config{ResponseTimeout: time.Second})
	c := p.establish(t, measurementPath())
	p.toPub.down = true

	var gotErr error
	p.run(t, func() {
		_, err := c.Update([]wire.DataElement{{Path: measurementPath(1), Data: int64(5)}}, func(_ *wire.UpdateResponse, err error) {
			gotErr = err
		})
		require.NoError(t, err)
	})
	p.clk.Advance(time.Second)
	assert.ErrorIs(t, gotErr, subscription.ErrResponseTimeout)
}
