package transfer

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mash-protocol/mash-sync/pkg/log"
	"github.com/mash-protocol/mash-sync/pkg/loop"
	"github.com/mash-protocol/mash-sync/pkg/subscription"
	"github.com/mash-protocol/mash-sync/pkg/upload"
	"github.com/mash-protocol/mash-sync/pkg/wire"
)

// Receiver errors.
var (
	ErrNoDirectory = errors.New("archive directory required")
)

// Receiver defaults.
const (
	DefaultReceiverBlockSize   = 4096
	DefaultReceiverIdleTimeout = time.Minute
	DefaultMaxSessions         = 4
)

const (
	archiveExt = ".evlog"
	partialExt = ".partial"
)

// ReceiverConfig configures a Receiver.
type ReceiverConfig struct {
	// Dir receives the archive files. Required.
	Dir string

	// MaxBlockSize caps the block size offered by senders.
	MaxBlockSize uint32

	// IdleTimeout drops a session that sends nothing for this long.
	IdleTimeout time.Duration

	// MaxSessions bounds concurrent sessions over all peers.
	MaxSessions int

	// Logger is the optional logger for debug output.
	Logger *slog.Logger

	// Trace receives protocol trace events.
	Trace log.Logger
}

// Archive describes a completed upload.
type Archive struct {
	Path        string
	Peer        subscription.PeerID
	SessionID   uuid.UUID
	Destination string
	Blocks      int
	Events      int
	Gaps        uint64
}

type session struct {
	id          uuid.UUID
	peer        subscription.PeerID
	destination string
	blockSize   uint32
	next        uint32
	path        string
	writer      *ArchiveWriter
	timer       *loop.Timer
	events      int
	gaps        uint64
}

// Receiver accepts uploads and stores them as archives.
type Receiver struct {
	config   ReceiverConfig
	loop     *loop.Loop
	sender   subscription.Sender
	logger   *slog.Logger
	trace    log.Logger
	sessions map[uuid.UUID]*session

	onArchive func(Archive)
	completed uint64
	failed    uint64
}

// NewReceiver creates a receiver replying through sender.
func NewReceiver(config ReceiverConfig, l *loop.Loop, sender subscription.Sender) (*Receiver, error) {
	if config.Dir == "" {
		return nil, ErrNoDirectory
	}
	if err := os.MkdirAll(config.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("transfer: archive directory: %w", err)
	}
	if config.MaxBlockSize == 0 {
		config.MaxBlockSize = DefaultReceiverBlockSize
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = DefaultReceiverIdleTimeout
	}
	if config.MaxSessions <= 0 {
		config.MaxSessions = DefaultMaxSessions
	}
	return &Receiver{
		config:   config,
		loop:     l,
		sender:   sender,
		logger:   config.Logger,
		trace:    log.OrNoop(config.Trace),
		sessions: make(map[uuid.UUID]*session),
	}, nil
}

// OnArchive sets the callback run for every completed archive.
func (r *Receiver) OnArchive(fn func(Archive)) {
	r.onArchive = fn
}

// Sessions returns the number of open sessions.
func (r *Receiver) Sessions() int { return len(r.sessions) }

// Counts returns the number of completed and failed sessions.
func (r *Receiver) Counts() (completed, failed uint64) { return r.completed, r.failed }

// Owns reports whether session is open at the receiver.
func (r *Receiver) Owns(sessionID []byte) bool {
	id, err := uuid.FromBytes(sessionID)
	if err != nil {
		return false
	}
	_, ok := r.sessions[id]
	return ok
}

// OnSendInit opens a session.
func (r *Receiver) OnSendInit(peer subscription.PeerID, init *wire.SendInit) {
	id, err := uuid.FromBytes(init.SessionID)
	if err != nil {
		r.reject(peer, init.SessionID, wire.StatusInvalidMessage, "malformed session id")
		return
	}
	if _, ok := r.sessions[id]; ok {
		r.reject(peer, init.SessionID, wire.StatusBusy, "session already open")
		return
	}
	if len(r.sessions) >= r.config.MaxSessions {
		r.reject(peer, init.SessionID, wire.StatusResourceExhausted, "too many sessions")
		return
	}
	if init.Compression > wire.CompressionZstd {
		r.reject(peer, init.SessionID, wire.StatusUnsupported, "compression "+init.Compression.String())
		return
	}

	now := r.loop.Now()
	name := fmt.Sprintf("%s-%s-%s", sanitize(init.Destination), now.UTC().Format("20060102T150405"), id.String()[:8])
	s := &session{
		id:          id,
		peer:        peer,
		destination: init.Destination,
		blockSize:   r.config.MaxBlockSize,
		path:        filepath.Join(r.config.Dir, name+archiveExt),
		timer:       r.loop.NewTimer(),
	}
	if init.MaxBlockSize > 0 && init.MaxBlockSize < s.blockSize {
		s.blockSize = init.MaxBlockSize
	}
	s.writer, err = CreateArchive(s.path+partialExt, ArchiveHeader{
		SessionID:   init.SessionID,
		Peer:        string(peer),
		Destination: init.Destination,
		Started:     now.UnixMilli(),
	})
	if err != nil {
		r.warn("transfer: cannot open archive", "path", s.path, "error", err)
		r.reject(peer, init.SessionID, wire.StatusInternalError, "archive unavailable")
		return
	}

	r.sessions[id] = s
	r.arm(s)
	r.debugLog("transfer: session open", "peer", peer, "session", id, "destination", init.Destination, "block_size", s.blockSize)
	r.reply(peer, &wire.SendAccept{SessionID: init.SessionID, MaxBlockSize: s.blockSize})
}

// OnBlock verifies a block and appends it to the session's archive.
func (r *Receiver) OnBlock(peer subscription.PeerID, b *wire.Block) {
	s := r.lookup(peer, b.SessionID)
	if s == nil {
		r.reject(peer, b.SessionID, wire.StatusInvalidMessage, "unknown session")
		return
	}
	if b.Counter+1 == s.next {
		// Retransmission of the last acknowledged block.
		r.reply(peer, &wire.BlockAck{SessionID: b.SessionID, Counter: b.Counter})
		return
	}
	if b.Counter != s.next {
		r.drop(s, wire.StatusInvalidMessage, fmt.Sprintf("block %d out of order, want %d", b.Counter, s.next))
		return
	}

	chunk, err := upload.Open(b, int(s.blockSize))
	if err != nil {
		r.drop(s, wire.StatusInvalidMessage, err.Error())
		return
	}
	err = s.writer.Append(ArchiveBlock{Counter: b.Counter, Received: r.loop.Now().UnixMilli(), Segments: chunk.Segments})
	if err != nil {
		r.drop(s, wire.StatusInternalError, err.Error())
		return
	}
	s.next++
	s.events += chunk.Events()
	for _, seg := range chunk.Segments {
		s.gaps += uint64(seg.Gap)
	}
	r.arm(s)

	r.reply(peer, &wire.BlockAck{SessionID: b.SessionID, Counter: b.Counter})
	if b.Last {
		r.finish(s)
	}
}

// OnTransferError drops the session the sender gave up on.
func (r *Receiver) OnTransferError(peer subscription.PeerID, msg *wire.TransferError) {
	s := r.lookup(peer, msg.SessionID)
	if s == nil {
		return
	}
	r.close(s, "sender: "+msg.Status.String()+" "+msg.Message)
}

// PeerDisconnected drops every session of peer.
func (r *Receiver) PeerDisconnected(peer subscription.PeerID) {
	for _, s := range r.sessions {
		if s.peer == peer {
			r.close(s, "peer disconnected")
		}
	}
}

// Shutdown drops every open session.
func (r *Receiver) Shutdown() {
	for _, s := range r.sessions {
		r.drop(s, wire.StatusCanceled, "shutting down")
	}
}

func (r *Receiver) lookup(peer subscription.PeerID, sessionID []byte) *session {
	id, err := uuid.FromBytes(sessionID)
	if err != nil {
		return nil
	}
	s := r.sessions[id]
	if s == nil || s.peer != peer {
		return nil
	}
	return s
}

func (r *Receiver) arm(s *session) {
	s.timer.Arm(r.config.IdleTimeout, func() {
		r.drop(s, wire.StatusTimeout, "idle timeout")
	})
}

func (r *Receiver) finish(s *session) {
	s.timer.Stop()
	delete(r.sessions, s.id)
	if err := s.writer.Close(); err != nil {
		r.failed++
		r.warn("transfer: archive not written", "path", s.path, "error", err)
		return
	}
	if err := os.Rename(s.path+partialExt, s.path); err != nil {
		r.failed++
		r.warn("transfer: archive not renamed", "path", s.path, "error", err)
		return
	}
	r.completed++
	a := Archive{
		Path:        s.path,
		Peer:        s.peer,
		SessionID:   s.id,
		Destination: s.destination,
		Blocks:      s.writer.Blocks(),
		Events:      s.events,
		Gaps:        s.gaps,
	}
	r.debugLog("transfer: archive complete", "path", a.Path, "blocks", a.Blocks, "events", a.Events, "gaps", a.Gaps)
	if r.onArchive != nil {
		r.onArchive(a)
	}
}

// drop tells the sender and closes the session.
func (r *Receiver) drop(s *session, status wire.Status, reason string) {
	r.reject(s.peer, s.id[:], status, reason)
	r.close(s, reason)
}

// close ends a session without completing it. The partial archive stays
// on disk.
func (r *Receiver) close(s *session, reason string) {
	s.timer.Stop()
	delete(r.sessions, s.id)
	r.failed++
	if err := s.writer.Close(); err != nil {
		r.debugLog("transfer: closing partial archive", "path", s.path, "error", err)
	}
	r.warn("transfer: session dropped", "peer", s.peer, "session", s.id, "reason", reason)
	r.trace.Log(log.ErrorEvent(r.loop.Now(), string(s.peer), log.LayerEngine, "receive "+s.id.String(), errors.New(reason)))
}

func (r *Receiver) reject(peer subscription.PeerID, sessionID []byte, status wire.Status, reason string) {
	r.reply(peer, &wire.TransferError{SessionID: sessionID, Status: status, Message: reason})
}

func (r *Receiver) reply(peer subscription.PeerID, msg wire.Message) {
	r.trace.Log(log.FromMessage(r.loop.Now(), string(peer), log.DirectionOut, msg))
	if err := r.sender.Send(peer, msg); err != nil {
		r.debugLog("transfer: reply not sent", "peer", peer, "type", msg.MessageType(), "error", err)
	}
}

// sanitize makes s usable as a file name component.
func sanitize(s string) string {
	if s == "" {
		return "upload"
	}
	return strings.Map(func(c rune) rune {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_', c == '.':
			return c
		}
		return '_'
	}, s)
}

func (r *Receiver) debugLog(msg string, args ...any) {
	if r.logger != nil {
		r.logger.Debug(msg, args...)
	}
}

func (r *Receiver) warn(msg string, args ...any) {
	if r.logger != nil {
		r.logger.Warn(msg, args...)
	}
}
