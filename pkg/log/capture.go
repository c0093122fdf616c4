package log

import (
	"errors"
	"time"

	"github.com/mash-protocol/mash-sync/pkg/wire"
)

// FromMessage builds the trace event for a protocol message exchanged with
// peer. Subscription messages produce a MessageEvent, block-transfer
// messages a TransferEvent.
func FromMessage(ts time.Time, peer string, dir Direction, msg wire.Message) Event {
	event := Event{
		Timestamp: ts,
		PeerID:    peer,
		Direction: dir,
		Layer:     LayerWire,
	}

	if msg.MessageType().IsTransfer() {
		event.Category = CategoryTransfer
		event.Transfer = transferEvent(msg)
		return event
	}

	event.Category = CategoryMessage
	me := &MessageEvent{Type: msg.MessageType()}
	if size, err := wire.EnvelopeSize(msg); err == nil {
		me.Size = size
	}

	status := func(s wire.Status) { me.Status = &s }
	switch m := msg.(type) {
	case *wire.SubscribeRequest:
		event.SubscriptionID = m.SubscriptionID
		me.Elements = len(m.Paths)
	case *wire.SubscribeResponse:
		event.SubscriptionID = m.SubscriptionID
		status(m.Status)
	case *wire.NotifyRequest:
		event.SubscriptionID = m.SubscriptionID
		me.Elements = len(m.Elements)
		me.More = m.More
	case *wire.NotifyResponse:
		event.SubscriptionID = m.SubscriptionID
		status(m.Status)
	case *wire.UpdateRequest:
		me.Elements = len(m.Elements)
	case *wire.UpdateResponse:
		me.Elements = len(m.Statuses)
	case *wire.CancelRequest:
		event.SubscriptionID = m.SubscriptionID
	case *wire.CancelResponse:
		event.SubscriptionID = m.SubscriptionID
		status(m.Status)
	case *wire.Heartbeat:
		event.SubscriptionID = m.SubscriptionID
	case *wire.StatusReport:
		event.SubscriptionID = m.SubscriptionID
		status(m.Status)
	}
	event.Message = me
	return event
}

func transferEvent(msg wire.Message) *TransferEvent {
	te := &TransferEvent{Step: msg.MessageType()}
	switch m := msg.(type) {
	case *wire.SendInit:
		te.SessionID = m.SessionID
		te.Destination = m.Destination
	case *wire.SendAccept:
		te.SessionID = m.SessionID
	case *wire.Block:
		te.SessionID = m.SessionID
		te.Counter = m.Counter
		te.Bytes = len(m.Data)
		te.Last = m.Last
	case *wire.BlockAck:
		te.SessionID = m.SessionID
		te.Counter = m.Counter
	case *wire.TransferError:
		te.SessionID = m.SessionID
	}
	return te
}

// StateChange builds the trace event for a state machine transition.
func StateChange(ts time.Time, peer string, entity StateEntity, from, to, reason string) Event {
	return Event{
		Timestamp: ts,
		PeerID:    peer,
		Layer:     LayerEngine,
		Category:  CategoryState,
		StateChange: &StateChangeEvent{
			Entity:   entity,
			OldState: from,
			NewState: to,
			Reason:   reason,
		},
	}
}

// ErrorEvent builds the trace event for err. A *wire.StatusError contributes
// its status.
func ErrorEvent(ts time.Time, peer string, layer Layer, context string, err error) Event {
	data := &ErrorEventData{Layer: layer, Message: err.Error(), Context: context}
	var se *wire.StatusError
	if errors.As(err, &se) {
		s := se.Status
		data.Status = &s
	}
	return Event{
		Timestamp: ts,
		PeerID:    peer,
		Layer:     layer,
		Category:  CategoryError,
		Error:     data,
	}
}
