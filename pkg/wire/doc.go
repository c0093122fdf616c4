// Package wire defines the CBOR wire format of the data-sync protocol.
//
// Every message travels inside an Envelope: a message type plus the
// CBOR-encoded body. Envelopes are length-prefixed by the transport.
//
// # Message Types
//
// Subscription traffic:
//   - SubscribeRequest / SubscribeResponse: establish a subscription
//   - NotifyRequest / NotifyResponse: data notifications and their acks
//   - UpdateRequest / UpdateResponse: writes from subscriber to publisher
//   - CancelRequest / CancelResponse: orderly teardown
//   - Heartbeat: liveness when no data flows
//   - StatusReport: abort or error report
//
// Bulk upload (block transfer):
//   - SendInit / SendAccept: negotiate a transfer session
//   - Block / BlockAck: one block of payload and its acknowledgement
//   - TransferError: abort a session
//
// # CBOR Integer Keys
//
// All maps use integer keys for compactness.
//
// # Nullable vs Absent
//
// A DataElement with Deleted set removes the property on the receiver.
// A DataElement whose Data is null sets a nullable property to null.
package wire
