package transfer

import (
	"github.com/mash-protocol/mash-sync/pkg/subscription"
	"github.com/mash-protocol/mash-sync/pkg/upload"
	"github.com/mash-protocol/mash-sync/pkg/wire"
)

// Channel sends the messages of an upload session to one peer.
type Channel struct {
	sender subscription.Sender
	peer   subscription.PeerID
}

var _ upload.Channel = (*Channel)(nil)

// NewChannel returns a channel to peer.
func NewChannel(sender subscription.Sender, peer subscription.PeerID) *Channel {
	return &Channel{sender: sender, peer: peer}
}

// Peer returns the collector peer.
func (c *Channel) Peer() subscription.PeerID { return c.peer }

// SendInit implements upload.Channel.
func (c *Channel) SendInit(init *wire.SendInit) error {
	return c.sender.Send(c.peer, init)
}

// SendBlock implements upload.Channel.
func (c *Channel) SendBlock(block *wire.Block) error {
	return c.sender.Send(c.peer, block)
}

// Abort implements upload.Channel.
func (c *Channel) Abort(session []byte, status wire.Status, reason string) error {
	return c.sender.Send(c.peer, &wire.TransferError{SessionID: session, Status: status, Message: reason})
}
