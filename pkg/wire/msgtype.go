package wire

// MessageType identifies the body carried by an Envelope.
type MessageType uint8

const (
	MsgSubscribeRequest  MessageType = 1
	MsgSubscribeResponse MessageType = 2
	MsgNotifyRequest     MessageType = 3
	MsgNotifyResponse    MessageType = 4
	MsgUpdateRequest     MessageType = 5
	MsgUpdateResponse    MessageType = 6
	MsgCancelRequest     MessageType = 7
	MsgCancelResponse    MessageType = 8
	MsgHeartbeat         MessageType = 9
	MsgStatusReport      MessageType = 10

	MsgSendInit      MessageType = 16
	MsgSendAccept    MessageType = 17
	MsgBlock         MessageType = 18
	MsgBlockAck      MessageType = 19
	MsgTransferError MessageType = 20
)

// String returns the message type name.
func (t MessageType) String() string {
	switch t {
	case MsgSubscribeRequest:
		return "SubscribeRequest"
	case MsgSubscribeResponse:
		return "SubscribeResponse"
	case MsgNotifyRequest:
		return "NotifyRequest"
	case MsgNotifyResponse:
		return "NotifyResponse"
	case MsgUpdateRequest:
		return "UpdateRequest"
	case MsgUpdateResponse:
		return "UpdateResponse"
	case MsgCancelRequest:
		return "CancelRequest"
	case MsgCancelResponse:
		return "CancelResponse"
	case MsgHeartbeat:
		return "Heartbeat"
	case MsgStatusReport:
		return "StatusReport"
	case MsgSendInit:
		return "SendInit"
	case MsgSendAccept:
		return "SendAccept"
	case MsgBlock:
		return "Block"
	case MsgBlockAck:
		return "BlockAck"
	case MsgTransferError:
		return "TransferError"
	default:
		return "Unknown"
	}
}

// IsValid returns true if the type is a known message type.
func (t MessageType) IsValid() bool {
	return t.newMessage() != nil
}

// IsTransfer returns true for block-transfer messages.
func (t MessageType) IsTransfer() bool {
	return t >= MsgSendInit && t <= MsgTransferError
}

func (t MessageType) newMessage() Message {
	switch t {
	case MsgSubscribeRequest:
		return &SubscribeRequest{}
	case MsgSubscribeResponse:
		return &SubscribeResponse{}
	case MsgNotifyRequest:
		return &NotifyRequest{}
	case MsgNotifyResponse:
		return &NotifyResponse{}
	case MsgUpdateRequest:
		return &UpdateRequest{}
	case MsgUpdateResponse:
		return &UpdateResponse{}
	case MsgCancelRequest:
		return &CancelRequest{}
	case MsgCancelResponse:
		return &CancelResponse{}
	case MsgHeartbeat:
		return &Heartbeat{}
	case MsgStatusReport:
		return &StatusReport{}
	case MsgSendInit:
		return &SendInit{}
	case MsgSendAccept:
		return &SendAccept{}
	case MsgBlock:
		return &Block{}
	case MsgBlockAck:
		return &BlockAck{}
	case MsgTransferError:
		return &TransferError{}
	default:
		return nil
	}
}
