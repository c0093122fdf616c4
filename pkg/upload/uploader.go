package upload

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/mash-protocol/mash-sync/pkg/eventlog"
	"github.com/mash-protocol/mash-sync/pkg/log"
	"github.com/mash-protocol/mash-sync/pkg/loop"
	"github.com/mash-protocol/mash-sync/pkg/wire"
)

// Uploader errors.
var (
	ErrBusy            = errors.New("upload already in progress")
	ErrShutdown        = errors.New("uploader shut down")
	ErrAborted         = errors.New("upload aborted")
	ErrTimeout         = errors.New("upload response timeout")
	ErrNotTransferring = errors.New("no block transfer in progress")
	ErrRejected        = errors.New("upload rejected by collector")
)

// Defaults.
const (
	DefaultMaxBlockSize     = 1024
	DefaultMinBlockInterval = 100 * time.Millisecond
	DefaultResponseTimeout  = 30 * time.Second
)

// minBlockSize is the smallest usable block budget.
const minBlockSize = chunkOverhead + segmentOverhead + 16

// Channel is the block-transfer capability the uploader drives.
type Channel interface {
	// SendInit opens a session at the collector.
	SendInit(init *wire.SendInit) error

	// SendBlock sends one block.
	SendBlock(block *wire.Block) error

	// Abort tells the collector the session is over.
	Abort(session []byte, status wire.Status, reason string) error
}

// State is the uploader state.
type State uint8

const (
	StateIdle State = iota
	StateInitiating
	StateTransferring
	StateShutdown
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateInitiating:
		return "INITIATING"
	case StateTransferring:
		return "TRANSFERRING"
	case StateShutdown:
		return "SHUTDOWN"
	default:
		return "UNKNOWN"
	}
}

// Config configures an Uploader.
type Config struct {
	// MaxBlockSize bounds the uncompressed chunk of one block. The
	// collector may lower it.
	MaxBlockSize uint32

	// MinBlockInterval is the least time between two blocks.
	MinBlockInterval time.Duration

	// ResponseTimeout bounds the wait for SendAccept and BlockAck.
	ResponseTimeout time.Duration

	// Compression is the preferred block codec. The zero value sends
	// blocks uncompressed.
	Compression wire.Compression

	// Levels are the uploaded importance levels, most important first.
	// Defaults to all levels.
	Levels []eventlog.Importance

	// Logger is the optional logger for debug output.
	Logger *slog.Logger

	// Trace receives protocol trace events. Nil disables tracing.
	Trace log.Logger
}

// DefaultConfig returns the default uploader configuration.
func DefaultConfig() Config {
	return Config{
		MaxBlockSize:     DefaultMaxBlockSize,
		MinBlockInterval: DefaultMinBlockInterval,
		ResponseTimeout:  DefaultResponseTimeout,
		Compression:      wire.CompressionLZ4,
		Levels:           eventlog.Importances,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxBlockSize == 0 {
		c.MaxBlockSize = d.MaxBlockSize
	}
	if c.MaxBlockSize < minBlockSize {
		c.MaxBlockSize = minBlockSize
	}
	if c.MinBlockInterval < 0 {
		c.MinBlockInterval = 0
	}
	if c.ResponseTimeout <= 0 {
		c.ResponseTimeout = d.ResponseTimeout
	}
	if len(c.Levels) == 0 {
		c.Levels = d.Levels
	}
	c.Trace = log.OrNoop(c.Trace)
	return c
}

// BlockQuery asks for the next block of a session.
type BlockQuery struct {
	Counter uint32
	MaxSize uint32
}

// Summary describes one finished or failed session.
type Summary struct {
	SessionID   uuid.UUID
	Destination string
	Blocks      uint32
	Events      uint64

	// Bytes counts block data on the wire, RawBytes the chunks before
	// compression.
	Bytes    uint64
	RawBytes uint64

	// Gaps counts events evicted before they could be sent.
	Gaps uint64
}

// Stats are cumulative uploader counters.
type Stats struct {
	State     State
	Sessions  uint64
	Completed uint64
	Failed    uint64
	Blocks    uint64
	Events    uint64
	Bytes     uint64
	RawBytes  uint64
	Gaps      uint64
}

// cursor tracks the upload position of one importance level.
type cursor struct {
	scheduled   eventlog.EventID
	transmitted eventlog.EventID
	started     bool
}

// inflight is the sent but unacknowledged block.
type inflight struct {
	counter uint32
	last    bool
	upTo    map[eventlog.Importance]eventlog.EventID
	events  int
	bytes   int
	raw     int
	gaps    uint64
}

// Uploader streams event log contents to a collector.
//
// Every method must run on the protocol thread.
type Uploader struct {
	config  Config
	loop    *loop.Loop
	events  *eventlog.Log
	channel Channel
	logger  *slog.Logger
	trace   log.Logger

	state       State
	session     uuid.UUID
	destination string
	blockSize   uint32
	counter     uint32
	pending     *inflight
	finishing   bool
	cursors     map[eventlog.Importance]*cursor

	lastSend      time.Time
	paceTimer     *loop.Timer
	responseTimer *loop.Timer

	summary    Summary
	stats      Stats
	onComplete func(Summary, error)
}

// New creates an uploader reading from events and sending through ch.
func New(config Config, l *loop.Loop, events *eventlog.Log, ch Channel) *Uploader {
	config = config.withDefaults()
	u := &Uploader{
		config:        config,
		loop:          l,
		events:        events,
		channel:       ch,
		logger:        config.Logger,
		trace:         config.Trace,
		cursors:       make(map[eventlog.Importance]*cursor),
		paceTimer:     l.NewTimer(),
		responseTimer: l.NewTimer(),
	}
	for _, imp := range config.Levels {
		u.cursors[imp] = &cursor{}
	}
	return u
}

// OnComplete sets the callback run when a session ends. err is nil when
// the collector acknowledged every block.
func (u *Uploader) OnComplete(fn func(Summary, error)) {
	u.onComplete = fn
}

// State returns the current state.
func (u *Uploader) State() State { return u.state }

// SessionID returns the id of the current or last session.
func (u *Uploader) SessionID() uuid.UUID { return u.session }

// Stats returns cumulative counters.
func (u *Uploader) Stats() Stats {
	s := u.stats
	s.State = u.state
	return s
}

// Cursor returns the last scheduled and last acknowledged id of imp.
func (u *Uploader) Cursor(imp eventlog.Importance) (scheduled, transmitted eventlog.EventID) {
	c, ok := u.cursors[imp]
	if !ok {
		return 0, 0
	}
	return c.scheduled, c.transmitted
}

// StartUpload opens a session to destination. Events are sent oldest
// first, resuming after the last acknowledged event of each level.
func (u *Uploader) StartUpload(destination string) error {
	switch u.state {
	case StateShutdown:
		return ErrShutdown
	case StateIdle:
	default:
		return fmt.Errorf("%w: session %s", ErrBusy, u.session)
	}

	for _, imp := range u.config.Levels {
		c := u.cursors[imp]
		if !c.started {
			// Start at whatever the log still holds; earlier events were
			// never retained for this uploader.
			if first, ok := u.events.FirstID(imp); ok {
				c.transmitted = first - 1
			} else {
				c.transmitted = u.events.LastID(imp)
			}
			c.started = true
		}
		c.scheduled = c.transmitted
	}

	u.session = uuid.New()
	u.destination = destination
	u.blockSize = u.config.MaxBlockSize
	u.counter = 0
	u.pending = nil
	u.finishing = false
	u.summary = Summary{SessionID: u.session, Destination: destination}
	u.stats.Sessions++
	u.setState(StateInitiating, "start "+destination)

	u.responseTimer.Arm(u.config.ResponseTimeout, u.onResponseTimeout)
	err := u.channel.SendInit(&wire.SendInit{
		SessionID:    u.session[:],
		Destination:  destination,
		MaxBlockSize: u.blockSize,
		Compression:  u.config.Compression,
		Importance:   uint8(u.config.Levels[len(u.config.Levels)-1]),
	})
	if err != nil {
		u.fail(fmt.Errorf("upload: send init: %w", err))
		return err
	}
	return nil
}

// OnAccept starts the block stream once the collector accepted the
// session.
func (u *Uploader) OnAccept(accept *wire.SendAccept) {
	if u.state != StateInitiating || !u.matches(accept.SessionID) {
		u.debugLog("upload: ignoring accept", "state", u.state)
		return
	}
	u.responseTimer.Stop()
	if accept.MaxBlockSize > 0 && accept.MaxBlockSize < u.blockSize {
		u.blockSize = max(accept.MaxBlockSize, minBlockSize)
	}
	u.setState(StateTransferring, "accepted")
	u.schedule()
}

// ThrottleIfNeeded returns how long the next block must wait to keep
// MinBlockInterval between blocks.
func (u *Uploader) ThrottleIfNeeded() time.Duration {
	if u.lastSend.IsZero() {
		return 0
	}
	wait := u.config.MinBlockInterval - u.loop.Now().Sub(u.lastSend)
	if wait < 0 {
		return 0
	}
	return wait
}

func (u *Uploader) schedule() {
	if wait := u.ThrottleIfNeeded(); wait > 0 {
		u.paceTimer.Arm(wait, u.sendNext)
		return
	}
	u.sendNext()
}

func (u *Uploader) sendNext() {
	if u.state != StateTransferring || u.pending != nil {
		return
	}
	blk, err := u.BlockHandler(BlockQuery{Counter: u.counter, MaxSize: u.blockSize})
	if err != nil {
		u.abortSession(wire.StatusInternalError, err)
		return
	}
	u.send(blk)
}

func (u *Uploader) send(blk *wire.Block) {
	u.lastSend = u.loop.Now()
	u.traceBlock(blk)
	u.responseTimer.Arm(u.config.ResponseTimeout, u.onResponseTimeout)
	if err := u.channel.SendBlock(blk); err != nil {
		u.fail(fmt.Errorf("upload: send block %d: %w", blk.Counter, err))
	}
}

// BlockHandler builds the next block. Records are taken oldest first from
// each level in order of importance. The block is marked last when no
// level has anything left.
func (u *Uploader) BlockHandler(q BlockQuery) (*wire.Block, error) {
	if u.state != StateTransferring {
		return nil, ErrNotTransferring
	}
	if u.pending != nil {
		return nil, fmt.Errorf("%w: block %d unacknowledged", ErrBusy, u.pending.counter)
	}

	fl := &inflight{counter: q.Counter, upTo: make(map[eventlog.Importance]eventlog.EventID)}
	var chunk Chunk
	if !u.finishing {
		if err := u.fill(&chunk, fl, int(q.MaxSize)-chunkOverhead); err != nil {
			return nil, err
		}
	}
	// A finishing session closes with an empty last block.
	fl.last = u.finishing || !u.pendingEvents()

	blk, raw, err := Seal(u.session[:], q.Counter, chunk, u.config.Compression)
	if err != nil {
		return nil, err
	}
	blk.Last = fl.last
	fl.bytes = len(blk.Data)
	fl.raw = raw
	u.pending = fl
	return blk, nil
}

// fill adds segments to chunk until its capacity is used up.
func (u *Uploader) fill(chunk *Chunk, fl *inflight, capacity int) error {
	remaining := capacity
	for _, imp := range u.config.Levels {
		c := u.cursors[imp]
		for remaining > segmentOverhead {
			batch, err := u.events.Fetch(imp, c.scheduled+1, remaining-segmentOverhead)
			if errors.Is(err, eventlog.ErrBudgetTooSmall) {
				// A record larger than an empty block can never be sent.
				if u.skipOversized(imp, c, fl, capacity-segmentOverhead) {
					continue
				}
				break
			}
			if err != nil {
				return err
			}
			if len(batch.Records) == 0 {
				break
			}
			seg := Segment{Importance: imp, First: batch.First, Last: batch.Last, Gap: batch.Skipped}
			for _, r := range batch.Records {
				seg.Records = append(seg.Records, cbor.RawMessage(r))
			}
			if batch.Skipped > 0 {
				u.warn("upload: events evicted before upload", "importance", imp, "missing", batch.Skipped, "resume", batch.First)
				fl.gaps += uint64(batch.Skipped)
			}
			chunk.Segments = append(chunk.Segments, seg)
			remaining -= batch.Size + segmentOverhead
			fl.events += len(batch.Records)
			c.scheduled = batch.Last
			fl.upTo[imp] = batch.Last
			break
		}
	}
	return nil
}

// skipOversized moves c past the next record of imp if it is larger than
// limit, the record space of an empty block.
func (u *Uploader) skipOversized(imp eventlog.Importance, c *cursor, fl *inflight, limit int) bool {
	batch, err := u.events.Fetch(imp, c.scheduled+1, math.MaxInt32)
	if err != nil || len(batch.Records) == 0 || len(batch.Records[0]) <= limit {
		return false
	}
	u.warn("upload: skipping event larger than a block", "importance", imp, "id", batch.First, "size", len(batch.Records[0]))
	fl.gaps += uint64(batch.Skipped) + 1
	c.scheduled = batch.First
	fl.upTo[imp] = batch.First
	return true
}

func (u *Uploader) pendingEvents() bool {
	for _, imp := range u.config.Levels {
		if u.events.Pending(imp, u.cursors[imp].scheduled+1) {
			return true
		}
	}
	return false
}

// OnBlockAck commits the acknowledged block and sends the next one.
func (u *Uploader) OnBlockAck(ack *wire.BlockAck) {
	if u.state != StateTransferring || !u.matches(ack.SessionID) {
		return
	}
	fl := u.pending
	if fl == nil || fl.counter != ack.Counter {
		u.debugLog("upload: unexpected block ack", "counter", ack.Counter)
		return
	}
	u.responseTimer.Stop()
	u.pending = nil
	u.counter++

	for imp, id := range fl.upTo {
		u.cursors[imp].transmitted = id
	}
	u.summary.Blocks++
	u.summary.Events += uint64(fl.events)
	u.summary.Bytes += uint64(fl.bytes)
	u.summary.RawBytes += uint64(fl.raw)
	u.summary.Gaps += fl.gaps
	u.stats.Blocks++
	u.stats.Events += uint64(fl.events)
	u.stats.Bytes += uint64(fl.bytes)
	u.stats.RawBytes += uint64(fl.raw)
	u.stats.Gaps += fl.gaps

	if fl.last {
		u.TransferDone()
		return
	}
	if u.finishing {
		u.sendNext()
		return
	}
	u.schedule()
}

// TransferDone ends a session whose last block was acknowledged.
func (u *Uploader) TransferDone() {
	if u.state != StateTransferring {
		return
	}
	u.stopTimers()
	u.stats.Completed++
	u.setState(StateIdle, "done")
	u.debugLog("upload: session complete", "session", u.session, "blocks", u.summary.Blocks, "events", u.summary.Events)
	u.complete(nil)
}

// TransferError ends the session after a failure reported by the collector
// or the transfer layer. Unacknowledged events are sent again next time.
func (u *Uploader) TransferError(err error) {
	if u.state != StateInitiating && u.state != StateTransferring {
		return
	}
	u.fail(err)
}

// OnTransferError handles a TransferError message from the collector.
func (u *Uploader) OnTransferError(msg *wire.TransferError) {
	if !u.matches(msg.SessionID) {
		return
	}
	u.TransferError(fmt.Errorf("%w: %s %s", ErrRejected, msg.Status, msg.Message))
}

// Abort cancels the session. The log keeps every unacknowledged event
// for a later upload.
func (u *Uploader) Abort() {
	if u.state != StateInitiating && u.state != StateTransferring {
		return
	}
	u.abortSession(wire.StatusCanceled, ErrAborted)
}

// Done ends the session gracefully: the block in flight is allowed to
// finish, then an empty last block closes the session.
func (u *Uploader) Done() {
	switch u.state {
	case StateInitiating:
		u.abortSession(wire.StatusCanceled, ErrAborted)
	case StateTransferring:
		u.finishing = true
		if u.pending == nil {
			u.paceTimer.Stop()
			u.sendNext()
		}
	}
}

// Shutdown releases the session unconditionally. The uploader cannot be
// used afterwards.
func (u *Uploader) Shutdown() {
	if u.state == StateShutdown {
		return
	}
	active := u.state == StateInitiating || u.state == StateTransferring
	u.stopTimers()
	u.rewind()
	if active {
		if err := u.channel.Abort(u.session[:], wire.StatusCanceled, "shutting down"); err != nil {
			u.debugLog("upload: abort not sent", "error", err)
		}
		u.stats.Failed++
	}
	u.setState(StateShutdown, "shutdown")
	if active {
		u.complete(ErrShutdown)
	}
}

func (u *Uploader) onResponseTimeout() {
	u.abortSession(wire.StatusTimeout, ErrTimeout)
}

// abortSession tells the collector and fails the session.
func (u *Uploader) abortSession(status wire.Status, err error) {
	if abortErr := u.channel.Abort(u.session[:], status, err.Error()); abortErr != nil {
		u.debugLog("upload: abort not sent", "error", abortErr)
	}
	u.fail(err)
}

func (u *Uploader) fail(err error) {
	u.stopTimers()
	u.rewind()
	u.stats.Failed++
	u.setState(StateIdle, err.Error())
	u.trace.Log(log.ErrorEvent(u.loop.Now(), u.destination, log.LayerEngine, "upload "+u.session.String(), err))
	u.warn("upload: session failed", "session", u.session, "error", err)
	u.complete(err)
}

// rewind forgets everything scheduled but not acknowledged.
func (u *Uploader) rewind() {
	for _, c := range u.cursors {
		c.scheduled = c.transmitted
	}
	u.pending = nil
	u.finishing = false
}

func (u *Uploader) stopTimers() {
	u.paceTimer.Stop()
	u.responseTimer.Stop()
}

func (u *Uploader) complete(err error) {
	if u.onComplete != nil {
		u.onComplete(u.summary, err)
	}
}

func (u *Uploader) matches(session []byte) bool {
	return bytes.Equal(session, u.session[:])
}

func (u *Uploader) setState(s State, reason string) {
	old := u.state
	u.state = s
	u.trace.Log(log.StateChange(u.loop.Now(), u.destination, log.StateEntityUpload, old.String(), s.String(), reason))
	u.debugLog("upload: state", "from", old, "to", s, "reason", reason)
}

func (u *Uploader) traceBlock(blk *wire.Block) {
	ev := log.FromMessage(u.loop.Now(), u.destination, log.DirectionOut, blk)
	u.trace.Log(ev)
}

func (u *Uploader) debugLog(msg string, args ...any) {
	if u.logger != nil {
		u.logger.Debug(msg, args...)
	}
}

func (u *Uploader) warn(msg string, args ...any) {
	if u.logger != nil {
		u.logger.Warn(msg, args...)
	}
}
