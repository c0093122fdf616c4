package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mash-protocol/mash-sync/pkg/log"
	"github.com/mash-protocol/mash-sync/pkg/wire"
)

// DefaultPort is the default sync port.
const DefaultPort = 8765

// DefaultWriteTimeout bounds a single frame write.
const DefaultWriteTimeout = 5 * time.Second

// Server errors.
var (
	ErrServerRunning = errors.New("server already running")
	ErrServerStopped = errors.New("server not running")
	ErrUnknownPeer   = errors.New("unknown peer")
	ErrPeerClosed    = errors.New("peer connection closed")
	ErrWriteTimeout  = errors.New("peer write timed out")
)

// ServerConfig configures a Server.
type ServerConfig struct {
	// Address to listen on (e.g. ":8765" or "127.0.0.1:0"). Empty listens
	// on DefaultPort.
	Address string

	// MaxMessageSize is the maximum frame size (default: 64KB).
	MaxMessageSize uint32

	// DialTimeout bounds outbound connection attempts.
	DialTimeout time.Duration

	// WriteTimeout bounds each frame write (default: 5s). A peer that does
	// not drain its connection within it is closed.
	WriteTimeout time.Duration

	// Trace receives frame and connection trace events (optional).
	Trace log.Logger

	// Logger is the optional logger for debug output.
	Logger *slog.Logger

	// OnConnect is called when a peer connection is established.
	OnConnect func(p *Peer)

	// OnDisconnect is called when a peer connection is closed.
	OnDisconnect func(p *Peer)

	// OnMessage is called from the peer's read goroutine for every decoded
	// message. Implementations hand the message to the protocol thread.
	OnMessage func(p *Peer, msg wire.Message)

	// OnError is called for accept failures and undecodable frames.
	OnError func(p *Peer, err error)
}

// Server accepts peer connections and dials out to other peers. Every
// connection, inbound or outbound, becomes a Peer addressed by its id.
type Server struct {
	config   ServerConfig
	listener net.Listener

	peers   map[string]*Peer
	peersMu sync.RWMutex

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewServer creates a server. Call Start to accept connections; Dial works
// without it.
func NewServer(config ServerConfig) *Server {
	if config.Address == "" {
		config.Address = fmt.Sprintf(":%d", DefaultPort)
	}
	if config.MaxMessageSize == 0 {
		config.MaxMessageSize = DefaultMaxMessageSize
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = 10 * time.Second
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultWriteTimeout
	}
	s := &Server{
		config: config,
		peers:  make(map[string]*Peer),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Start starts listening.
func (s *Server) Start(ctx context.Context) error {
	if s.running.Load() {
		return ErrServerRunning
	}
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = listener
	s.running.Store(true)

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Stop closes the listener and every peer, then waits for the read
// goroutines.
func (s *Server) Stop() error {
	s.running.Store(false)
	s.cancel()
	if s.listener != nil {
		s.listener.Close()
	}

	s.peersMu.RLock()
	peers := make([]*Peer, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	s.peersMu.RUnlock()
	for _, p := range peers {
		p.Close()
	}

	s.wg.Wait()
	return nil
}

// Addr returns the listen address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener != nil {
		return s.listener.Addr()
	}
	return nil
}

// ConnectionCount returns the number of connected peers.
func (s *Server) ConnectionCount() int {
	s.peersMu.RLock()
	defer s.peersMu.RUnlock()
	return len(s.peers)
}

// Peer returns the connected peer with id.
func (s *Server) Peer(id string) (*Peer, bool) {
	s.peersMu.RLock()
	defer s.peersMu.RUnlock()
	p, ok := s.peers[id]
	return p, ok
}

// Send sends msg to the peer with id.
func (s *Server) Send(id string, msg wire.Message) error {
	p, ok := s.Peer(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, id)
	}
	return p.Send(msg)
}

// Dial connects to addr and registers the connection as a peer.
func (s *Server) Dial(ctx context.Context, addr string) (*Peer, error) {
	if s.ctx.Err() != nil {
		return nil, ErrServerStopped
	}
	d := net.Dialer{Timeout: s.config.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return s.Attach(conn), nil
}

// Attach registers an established connection as a peer and starts reading
// from it.
func (s *Server) Attach(conn net.Conn) *Peer {
	p := &Peer{
		id:      uuid.NewString(),
		conn:    conn,
		framer:  NewFramer(conn, s.config.MaxMessageSize),
		server:  s,
		closeCh: make(chan struct{}),
		remote:  conn.RemoteAddr(),
	}
	if s.config.Trace != nil {
		p.framer.SetTrace(s.config.Trace, p.id)
	}

	s.peersMu.Lock()
	s.peers[p.id] = p
	s.peersMu.Unlock()
	s.traceState(p, "", "CONNECTED")
	s.debugLog("transport: peer connected", "peer", p.id, "remote", p.remote)

	if s.config.OnConnect != nil {
		s.config.OnConnect(p)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		p.readLoop()
		s.detach(p)
	}()
	return p
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for s.running.Load() {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.running.Load() && s.config.OnError != nil {
				s.config.OnError(nil, fmt.Errorf("accept error: %w", err))
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}
		s.Attach(conn)
	}
}

func (s *Server) detach(p *Peer) {
	p.Close()
	s.peersMu.Lock()
	delete(s.peers, p.id)
	s.peersMu.Unlock()
	s.traceState(p, "CONNECTED", "DISCONNECTED")
	s.debugLog("transport: peer disconnected", "peer", p.id)

	if s.config.OnDisconnect != nil {
		s.config.OnDisconnect(p)
	}
}

func (s *Server) traceState(p *Peer, from, to string) {
	if s.config.Trace == nil {
		return
	}
	ev := log.StateChange(time.Now(), p.id, log.StateEntityConnection, from, to, "")
	ev.Layer = log.LayerTransport
	ev.RemoteAddr = p.remote.String()
	s.config.Trace.Log(ev)
}

func (s *Server) debugLog(msg string, args ...any) {
	if s.config.Logger != nil {
		s.config.Logger.Debug(msg, args...)
	}
}

// Peer is one framed connection.
type Peer struct {
	id        string
	conn      net.Conn
	framer    *Framer
	server    *Server
	closeCh   chan struct{}
	closeOnce sync.Once
	remote    net.Addr

	// writeMu pairs each write deadline with its frame.
	writeMu sync.Mutex
}

// ID returns the peer id, unique per connection.
func (p *Peer) ID() string { return p.id }

// RemoteAddr returns the remote address.
func (p *Peer) RemoteAddr() net.Addr { return p.remote }

// Send encodes and writes msg. A write that does not complete within the
// server's WriteTimeout closes the peer and returns ErrWriteTimeout.
func (p *Peer) Send(msg wire.Message) error {
	select {
	case <-p.closeCh:
		return ErrPeerClosed
	default:
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if err := p.conn.SetWriteDeadline(time.Now().Add(p.server.config.WriteTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	err := p.framer.WriteMessage(msg)
	if err == nil {
		return nil
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		// Part of the frame may be on the wire; the stream is unusable.
		p.server.debugLog("transport: peer write timed out", "peer", p.id)
		p.Close()
		return fmt.Errorf("%w: %w", ErrWriteTimeout, err)
	}
	return err
}

// Close closes the connection. The server reports the disconnect once the
// read goroutine ends.
func (p *Peer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.closeCh)
		err = p.conn.Close()
	})
	return err
}

func (p *Peer) readLoop() {
	for {
		msg, err := p.framer.ReadMessage()
		if err != nil {
			var de *DecodeError
			if errors.As(err, &de) {
				p.report(err)
				continue
			}
			select {
			case <-p.closeCh:
			default:
				if !errors.Is(err, io.EOF) {
					p.report(err)
				}
			}
			return
		}
		if p.server.config.OnMessage != nil {
			p.server.config.OnMessage(p, msg)
		}
	}
}

func (p *Peer) report(err error) {
	if p.server.config.Trace != nil {
		p.server.config.Trace.Log(log.ErrorEvent(time.Now(), p.id, log.LayerTransport, "read", err))
	}
	if p.server.config.OnError != nil {
		p.server.config.OnError(p, err)
	}
}
