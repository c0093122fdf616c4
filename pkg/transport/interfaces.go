package transport

import (
	"context"
	"net"

	"github.com/mash-protocol/mash-sync/pkg/wire"
)

// PeerServer accepts and dials framed peer connections.
// Implemented by Server.
type PeerServer interface {
	// Start begins accepting connections.
	Start(ctx context.Context) error

	// Stop closes the listener and all peers.
	Stop() error

	// Addr returns the server's listen address.
	Addr() net.Addr

	// ConnectionCount returns the number of connected peers.
	ConnectionCount() int

	// Peer returns a connected peer by id.
	Peer(id string) (*Peer, bool)

	// Dial connects to a remote peer.
	Dial(ctx context.Context, addr string) (*Peer, error)

	// Send sends a message to a connected peer.
	Send(id string, msg wire.Message) error
}

var _ PeerServer = (*Server)(nil)
