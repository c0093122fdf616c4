package upload_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mash-protocol/mash-sync/pkg/clock"
	"github.com/mash-protocol/mash-sync/pkg/eventlog"
	"github.com/mash-protocol/mash-sync/pkg/loop"
	"github.com/mash-protocol/mash-sync/pkg/persistence"
	"github.com/mash-protocol/mash-sync/pkg/upload"
	"github.com/mash-protocol/mash-sync/pkg/upload/mocks"
	"github.com/mash-protocol/mash-sync/pkg/wire"
)

var t0 = time.Date(2026, 6, 2, 8, 30, 0, 0, time.UTC)

type reading struct {
	Seq  int    `cbor:"1,keyasint"`
	Note string `cbor:"2,keyasint,omitempty"`
}

type result struct {
	summary upload.Summary
	err     error
}

type harness struct {
	clk     *clock.FakeClock
	loop    *loop.Loop
	events  *eventlog.Log
	up      *upload.Uploader
	inits   []*wire.SendInit
	blocks  []*wire.Block
	aborts  []wire.Status
	results []result
}

func newHarness(t *testing.T, cfg upload.Config, logCfg eventlog.Config) *harness {
	t.Helper()
	h := &harness{clk: clock.Fake(t0)}
	h.loop = loop.New(loop.Config{Clock: h.clk, Inline: true})

	logCfg.Store = persistence.NewMemoryStore()
	logCfg.Clock = h.clk
	events, err := eventlog.New(logCfg)
	require.NoError(t, err)
	h.events = events

	ch := mocks.NewMockChannel(t)
	ch.EXPECT().SendInit(mock.Anything).RunAndReturn(func(init *wire.SendInit) error {
		h.inits = append(h.inits, init)
		return nil
	}).Maybe()
	ch.EXPECT().SendBlock(mock.Anything).RunAndReturn(func(b *wire.Block) error {
		h.blocks = append(h.blocks, b)
		return nil
	}).Maybe()
	ch.EXPECT().Abort(mock.Anything, mock.Anything, mock.Anything).RunAndReturn(func(_ []byte, st wire.Status, _ string) error {
		h.aborts = append(h.aborts, st)
		return nil
	}).Maybe()

	h.up = upload.New(cfg, h.loop, events, ch)
	h.up.OnComplete(func(s upload.Summary, err error) {
		h.results = append(h.results, result{s, err})
	})
	return h
}

func (h *harness) log(t *testing.T, imp eventlog.Importance, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := h.events.LogEvent(eventlog.Schema{ProfileID: 0x0001_0002, StructureType: 1, Importance: imp, SchemaVersion: 1}, reading{Seq: i})
		require.NoError(t, err)
	}
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	require.NoError(t, h.up.StartUpload("collector"))
	h.up.OnAccept(&wire.SendAccept{SessionID: h.session()})
}

func (h *harness) session() []byte {
	return h.inits[len(h.inits)-1].SessionID
}

func (h *harness) last() *wire.Block {
	return h.blocks[len(h.blocks)-1]
}

func (h *harness) ackLast() {
	b := h.last()
	h.up.OnBlockAck(&wire.BlockAck{SessionID: b.SessionID, Counter: b.Counter})
}

func open(t *testing.T, b *wire.Block) upload.Chunk {
	t.Helper()
	c, err := upload.Open(b, 1<<20)
	require.NoError(t, err)
	return c
}

// ids returns the record ids of imp carried by c.
func ids(t *testing.T, c upload.Chunk, imp eventlog.Importance) []eventlog.EventID {
	t.Helper()
	var out []eventlog.EventID
	for _, seg := range c.Segments {
		if seg.Importance != imp {
			continue
		}
		for _, raw := range seg.Records {
			r, err := eventlog.DecodeRecord(raw)
			require.NoError(t, err)
			out = append(out, r.ID)
		}
	}
	return out
}

func TestUploadSendsEverythingCriticalFirst(t *testing.T) {
	h := newHarness(t, upload.DefaultConfig(), eventlog.Config{})
	h.log(t, eventlog.Production, 5)
	h.log(t, eventlog.ProductionCritical, 2)

	require.NoError(t, h.up.StartUpload("collector"))
	require.Len(t, h.inits, 1)
	assert.Equal(t, "collector", h.inits[0].Destination)
	assert.Equal(t, uint32(upload.DefaultMaxBlockSize), h.inits[0].MaxBlockSize)
	assert.Equal(t, wire.CompressionLZ4, h.inits[0].Compression)
	assert.Len(t, h.inits[0].SessionID, 16)
	assert.Equal(t, upload.StateInitiating, h.up.State())
	assert.Empty(t, h.blocks)

	h.up.OnAccept(&wire.SendAccept{SessionID: h.session()})
	assert.Equal(t, upload.StateTransferring, h.up.State())
	require.Len(t, h.blocks, 1)

	blk := h.last()
	assert.True(t, blk.Last)
	c := open(t, blk)
	require.Len(t, c.Segments, 2)
	assert.Equal(t, eventlog.ProductionCritical, c.Segments[0].Importance)
	assert.Equal(t, []eventlog.EventID{1, 2}, ids(t, c, eventlog.ProductionCritical))
	assert.Equal(t, []eventlog.EventID{1, 2, 3, 4, 5}, ids(t, c, eventlog.Production))

	scheduled, transmitted := h.up.Cursor(eventlog.Production)
	assert.Equal(t, eventlog.EventID(5), scheduled)
	assert.Equal(t, eventlog.EventID(0), transmitted)

	h.ackLast()
	assert.Equal(t, upload.StateIdle, h.up.State())
	require.Len(t, h.results, 1)
	require.NoError(t, h.results[0].err)
	assert.Equal(t, uint64(7), h.results[0].summary.Events)
	assert.Equal(t, uint32(1), h.results[0].summary.Blocks)

	_, transmitted = h.up.Cursor(eventlog.Production)
	assert.Equal(t, eventlog.EventID(5), transmitted)

	stats := h.up.Stats()
	assert.Equal(t, uint64(1), stats.Sessions)
	assert.Equal(t, uint64(1), stats.Completed)
}

func TestUploadPacesBlocksAndKeepsOrder(t *testing.T) {
	h := newHarness(t, upload.Config{MaxBlockSize: 128}, eventlog.Config{})
	h.log(t, eventlog.Production, 10)
	h.start(t)
	require.Len(t, h.blocks, 1)
	require.False(t, h.last().Last)

	h.ackLast()
	assert.Len(t, h.blocks, 1, "next block waits for the block interval")
	assert.Equal(t, 100*time.Millisecond, h.up.ThrottleIfNeeded())

	h.clk.Advance(99 * time.Millisecond)
	assert.Len(t, h.blocks, 1)
	h.clk.Advance(time.Millisecond)
	require.Len(t, h.blocks, 2)

	for i := 0; i < 20 && !h.last().Last; i++ {
		h.ackLast()
		h.clk.Advance(100 * time.Millisecond)
	}
	require.True(t, h.last().Last)
	h.ackLast()

	var got []eventlog.EventID
	for i, b := range h.blocks {
		assert.Equal(t, uint32(i), b.Counter)
		got = append(got, ids(t, open(t, b), eventlog.Production)...)
	}
	assert.Equal(t, []eventlog.EventID{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, got)
	require.Len(t, h.results, 1)
	assert.NoError(t, h.results[0].err)
	assert.Equal(t, uint32(len(h.blocks)), h.results[0].summary.Blocks)
}

func TestUploadEmptyLogSendsLastBlock(t *testing.T) {
	h := newHarness(t, upload.Config{}, eventlog.Config{})
	h.start(t)
	require.Len(t, h.blocks, 1)
	assert.True(t, h.last().Last)
	assert.Zero(t, open(t, h.last()).Events())

	h.ackLast()
	require.Len(t, h.results, 1)
	assert.NoError(t, h.results[0].err)
}

func TestUploadAbortKeepsEventsForNextSession(t *testing.T) {
	h := newHarness(t, upload.Config{}, eventlog.Config{})
	h.log(t, eventlog.Info, 3)
	h.start(t)
	require.Len(t, h.blocks, 1)

	h.up.Abort()
	assert.Equal(t, []wire.Status{wire.StatusCanceled}, h.aborts)
	assert.Equal(t, upload.StateIdle, h.up.State())
	require.Len(t, h.results, 1)
	assert.ErrorIs(t, h.results[0].err, upload.ErrAborted)

	scheduled, transmitted := h.up.Cursor(eventlog.Info)
	assert.Equal(t, eventlog.EventID(0), scheduled)
	assert.Equal(t, eventlog.EventID(0), transmitted)

	// A late ack of the aborted session changes nothing.
	h.ackLast()
	_, transmitted = h.up.Cursor(eventlog.Info)
	assert.Equal(t, eventlog.EventID(0), transmitted)

	h.start(t)
	require.Len(t, h.blocks, 2)
	assert.NotEqual(t, h.blocks[0].SessionID, h.blocks[1].SessionID)
	assert.Equal(t, []eventlog.EventID{1, 2, 3}, ids(t, open(t, h.last()), eventlog.Info))
}

func TestUploadResponseTimeout(t *testing.T) {
	h := newHarness(t, upload.Config{ResponseTimeout: 5 * time.Second}, eventlog.Config{})
	require.NoError(t, h.up.StartUpload("collector"))

	h.clk.Advance(5 * time.Second)
	assert.Equal(t, []wire.Status{wire.StatusTimeout}, h.aborts)
	assert.Equal(t, upload.StateIdle, h.up.State())
	require.Len(t, h.results, 1)
	assert.ErrorIs(t, h.results[0].err, upload.ErrTimeout)

	// Unacknowledged blocks time out too.
	h.log(t, eventlog.Production, 1)
	h.start(t)
	require.Len(t, h.blocks, 1)
	h.clk.Advance(5 * time.Second)
	require.Len(t, h.results, 2)
	assert.ErrorIs(t, h.results[1].err, upload.ErrTimeout)
	assert.Equal(t, uint64(2), h.up.Stats().Failed)
}

func TestUploadBusyAndShutdown(t *testing.T) {
	h := newHarness(t, upload.Config{}, eventlog.Config{})
	require.NoError(t, h.up.StartUpload("collector"))
	assert.ErrorIs(t, h.up.StartUpload("collector"), upload.ErrBusy)

	h.up.Shutdown()
	assert.Equal(t, upload.StateShutdown, h.up.State())
	assert.Equal(t, []wire.Status{wire.StatusCanceled}, h.aborts)
	require.Len(t, h.results, 1)
	assert.ErrorIs(t, h.results[0].err, upload.ErrShutdown)

	assert.ErrorIs(t, h.up.StartUpload("collector"), upload.ErrShutdown)
	h.up.Shutdown()
	assert.Len(t, h.results, 1)
}

func TestUploadCollectorError(t *testing.T) {
	h := newHarness(t, upload.Config{}, eventlog.Config{})
	h.log(t, eventlog.Production, 2)
	h.start(t)

	h.up.OnTransferError(&wire.TransferError{SessionID: []byte("someone else's"), Status: wire.StatusBusy})
	assert.Equal(t, upload.StateTransferring, h.up.State())

	h.up.OnTransferError(&wire.TransferError{SessionID: h.session(), Status: wire.StatusResourceExhausted, Message: "disk full"})
	assert.Equal(t, upload.StateIdle, h.up.State())
	require.Len(t, h.results, 1)
	assert.ErrorIs(t, h.results[0].err, upload.ErrRejected)
	assert.Contains(t, h.results[0].err.Error(), "disk full")
	assert.Empty(t, h.aborts)
}

func TestUploadAcceptLowersBlockSize(t *testing.T) {
	h := newHarness(t, upload.Config{Compression: wire.CompressionNone}, eventlog.Config{})
	h.log(t, eventlog.Production, 20)
	require.NoError(t, h.up.StartUpload("collector"))
	h.up.OnAccept(&wire.SendAccept{SessionID: h.session(), MaxBlockSize: 160})

	require.Len(t, h.blocks, 1)
	assert.LessOrEqual(t, len(h.last().Data)-1, 160)
	assert.False(t, h.last().Last)
}

func TestUploadDoneClosesAfterInflightBlock(t *testing.T) {
	h := newHarness(t, upload.Config{MaxBlockSize: 128}, eventlog.Config{})
	h.log(t, eventlog.Production, 10)
	h.start(t)
	first := ids(t, open(t, h.last()), eventlog.Production)
	require.NotEmpty(t, first)

	h.up.Done()
	assert.Len(t, h.blocks, 1, "in-flight block finishes first")

	h.ackLast()
	require.Len(t, h.blocks, 2)
	assert.True(t, h.last().Last)
	assert.Zero(t, open(t, h.last()).Events())

	h.ackLast()
	require.Len(t, h.results, 1)
	assert.NoError(t, h.results[0].err)
	_, transmitted := h.up.Cursor(eventlog.Production)
	assert.Equal(t, first[len(first)-1], transmitted)
	assert.True(t, h.events.Pending(eventlog.Production, transmitted+1))
}

func TestUploadReportsEvictedEvents(t *testing.T) {
	h := newHarness(t, upload.Config{}, eventlog.Config{
		BufferSizes: map[eventlog.Importance]int{eventlog.Info: 200},
	})
	h.log(t, eventlog.Info, 2)
	h.start(t)
	h.ackLast()
	require.Len(t, h.results, 1)

	h.log(t, eventlog.Info, 20)
	first, ok := h.events.FirstID(eventlog.Info)
	require.True(t, ok)
	require.Greater(t, first, eventlog.EventID(3))

	h.start(t)
	c := open(t, h.last())
	require.Len(t, c.Segments, 1)
	seg := c.Segments[0]
	assert.Equal(t, first, seg.First)
	assert.Equal(t, uint32(first-3), seg.Gap)

	h.ackLast()
	require.Len(t, h.results, 2)
	assert.Equal(t, uint64(first-3), h.results[1].summary.Gaps)
}

func TestUploadSkipsEventLargerThanBlock(t *testing.T) {
	h := newHarness(t, upload.Config{MaxBlockSize: 128}, eventlog.Config{})
	_, err := h.events.LogEvent(eventlog.Schema{ProfileID: 1, StructureType: 1, Importance: eventlog.Production, SchemaVersion: 1},
		reading{Seq: 1, Note: strings.Repeat("x", 300)})
	require.NoError(t, err)
	h.log(t, eventlog.Production, 1)

	h.start(t)
	assert.Equal(t, []eventlog.EventID{2}, ids(t, open(t, h.last()), eventlog.Production))
	assert.True(t, h.last().Last)

	h.ackLast()
	require.Len(t, h.results, 1)
	assert.Equal(t, uint64(1), h.results[0].summary.Gaps)
}

func TestUploadSkipsOversizedEventBehindHigherLevels(t *testing.T) {
	h := newHarness(t, upload.Config{MaxBlockSize: 256}, eventlog.Config{})
	h.log(t, eventlog.ProductionCritical, 1)
	_, err := h.events.LogEvent(eventlog.Schema{ProfileID: 1, StructureType: 1, Importance: eventlog.Production, SchemaVersion: 1},
		reading{Seq: 1, Note: strings.Repeat("x", 300)})
	require.NoError(t, err)
	h.log(t, eventlog.Production, 1)

	// The critical segment keeps the block non-empty when production is
	// reached; the oversized record is still skipped in the same block.
	h.start(t)
	require.Len(t, h.blocks, 1)
	c := open(t, h.last())
	assert.Equal(t, []eventlog.EventID{1}, ids(t, c, eventlog.ProductionCritical))
	assert.Equal(t, []eventlog.EventID{2}, ids(t, c, eventlog.Production))
	assert.True(t, h.last().Last)

	h.ackLast()
	require.Len(t, h.results, 1)
	require.NoError(t, h.results[0].err)
	assert.Equal(t, uint64(1), h.results[0].summary.Gaps)
}

func TestUploadResumesAtRetainedEvents(t *testing.T) {
	h := newHarness(t, upload.Config{}, eventlog.Config{
		BufferSizes: map[eventlog.Importance]int{eventlog.Production: 200},
	})
	h.log(t, eventlog.Production, 20)
	first, ok := h.events.FirstID(eventlog.Production)
	require.True(t, ok)

	h.start(t)
	c := open(t, h.last())
	require.Len(t, c.Segments, 1)
	assert.Equal(t, first, c.Segments[0].First)
	assert.Zero(t, c.Segments[0].Gap)
}

func TestBlockHandlerRequiresTransfer(t *testing.T) {
	h := newHarness(t, upload.Config{}, eventlog.Config{})
	_, err := h.up.BlockHandler(upload.BlockQuery{MaxSize: 512})
	assert.ErrorIs(t, err, upload.ErrNotTransferring)

	h.start(t)
	_, err = h.up.BlockHandler(upload.BlockQuery{Counter: 1, MaxSize: 512})
	assert.ErrorIs(t, err, upload.ErrBusy)
}
