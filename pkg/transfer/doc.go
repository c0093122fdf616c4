// Package transfer connects log uploads to the wire.
//
// Channel carries an Uploader's SendInit, Block and TransferError messages
// to a peer. Receiver is the collector side: it accepts sessions, verifies
// blocks and appends their chunks to an archive file that cmd/mash-evlog
// can read. Dispatcher routes every inbound message of a peer to the
// subscription engine, the uploader bound to that peer or the receiver.
//
// Like the subscription engine, Receiver and Dispatcher run on the
// protocol thread.
package transfer
