package transfer

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/mash-protocol/mash-sync/pkg/subscription"
	"github.com/mash-protocol/mash-sync/pkg/upload"
	"github.com/mash-protocol/mash-sync/pkg/wire"
)

// Dispatcher errors.
var (
	ErrUnrouted = errors.New("no route for message")
	ErrPeerGone = errors.New("peer disconnected")
)

// Dispatcher routes the inbound messages of all peers.
type Dispatcher struct {
	engine    *subscription.Engine
	receiver  *Receiver
	uploaders map[subscription.PeerID]*upload.Uploader
	logger    *slog.Logger
}

// NewDispatcher creates a dispatcher. engine and receiver may be nil when
// the process does not play that role.
func NewDispatcher(engine *subscription.Engine, receiver *Receiver, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		engine:    engine,
		receiver:  receiver,
		uploaders: make(map[subscription.PeerID]*upload.Uploader),
		logger:    logger,
	}
}

// AttachUploader routes the replies of collector peer to u.
func (d *Dispatcher) AttachUploader(peer subscription.PeerID, u *upload.Uploader) {
	d.uploaders[peer] = u
}

// DetachUploader removes the route set by AttachUploader.
func (d *Dispatcher) DetachUploader(peer subscription.PeerID) {
	delete(d.uploaders, peer)
}

// Uploader returns the uploader attached to peer.
func (d *Dispatcher) Uploader(peer subscription.PeerID) (*upload.Uploader, bool) {
	u, ok := d.uploaders[peer]
	return u, ok
}

// HandleMessage routes msg from peer.
func (d *Dispatcher) HandleMessage(peer subscription.PeerID, msg wire.Message) error {
	if !msg.MessageType().IsTransfer() {
		if d.engine == nil {
			return fmt.Errorf("%w: %s from %s", ErrUnrouted, msg.MessageType(), peer)
		}
		return d.engine.HandleMessage(peer, msg)
	}

	switch m := msg.(type) {
	case *wire.SendInit:
		if d.receiver == nil {
			return d.unrouted(peer, msg)
		}
		d.receiver.OnSendInit(peer, m)
	case *wire.Block:
		if d.receiver == nil {
			return d.unrouted(peer, msg)
		}
		d.receiver.OnBlock(peer, m)
	case *wire.SendAccept:
		u := d.uploaders[peer]
		if u == nil {
			return d.unrouted(peer, msg)
		}
		u.OnAccept(m)
	case *wire.BlockAck:
		u := d.uploaders[peer]
		if u == nil {
			return d.unrouted(peer, msg)
		}
		u.OnBlockAck(m)
	case *wire.TransferError:
		// Either side may report an error.
		if d.receiver != nil && d.receiver.Owns(m.SessionID) {
			d.receiver.OnTransferError(peer, m)
		} else if u := d.uploaders[peer]; u != nil {
			u.OnTransferError(m)
		} else {
			return d.unrouted(peer, msg)
		}
	default:
		return d.unrouted(peer, msg)
	}
	return nil
}

// PeerDisconnected tears down everything bound to peer.
func (d *Dispatcher) PeerDisconnected(peer subscription.PeerID) {
	if d.engine != nil {
		d.engine.PeerDisconnected(peer)
	}
	if d.receiver != nil {
		d.receiver.PeerDisconnected(peer)
	}
	if u := d.uploaders[peer]; u != nil {
		u.TransferError(fmt.Errorf("%w: %s", ErrPeerGone, peer))
	}
}

func (d *Dispatcher) unrouted(peer subscription.PeerID, msg wire.Message) error {
	if d.logger != nil {
		d.logger.Debug("transfer: dropping message", "peer", peer, "type", msg.MessageType())
	}
	return fmt.Errorf("%w: %s from %s", ErrUnrouted, msg.MessageType(), peer)
}
