package state

import "time"

type MessageStatus uint8

const (
	MessagePending MessageStatus = iota
	MessageSent
	MessageDelivered
	MessageRead
	MessageFailed
)

func (s MessageStatus) String() string {
	switch s {
	case MessagePending:
		return "pending"
	case MessageSent:
		return "sent"
	case MessageDelivered:
		return "delivered"
	case MessageRead:
		return "read"
	case MessageFailed:
		return "failed"
	}
	return "unknown"
}

// CanTransition enforces the delivery state machine. Failed is not terminal:
// a retry moves the message back to Pending.
func (s MessageStatus) CanTransition(next MessageStatus) bool {
	switch s {
	case MessagePending:
		return next == MessageSent || next == MessageFailed
	case MessageSent:
		return next == MessageDelivered || next == MessageFailed
	case MessageDelivered:
		return next == MessageRead
	case MessageFailed:
		return next == MessagePending
	}
	return false
}

type MessageKind uint8

const (
	KindChat MessageKind = iota
	KindReceipt
)

// MessageKey uniquely identifies a message. Inserts with a colliding key are
// rejected, never silently duplicated.
type MessageKey struct {
	Payload   PayloadId
	Sender    NodeId
	Recipient NodeId
}

type Message struct {
	Payload   PayloadId
	Sender    NodeId
	Recipient NodeId
	Content   []byte
	Timestamp time.Time
	Status    MessageStatus
	Kind      MessageKind
	Attempts  int
}

func (m *Message) Key() MessageKey {
	return MessageKey{Payload: m.Payload, Sender: m.Sender, Recipient: m.Recipient}
}
