package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusTransitions(t *testing.T) {
	allowed := []Pair[MessageStatus, MessageStatus]{
		{MessagePending, MessageSent},
		{MessagePending, MessageFailed},
		{MessageSent, MessageDelivered},
		{MessageSent, MessageFailed},
		{MessageDelivered, MessageRead},
		{MessageFailed, MessagePending},
	}
	all := []MessageStatus{MessagePending, MessageSent, MessageDelivered, MessageRead, MessageFailed}

	for _, from := range all {
		for _, to := range all {
			want := false
			for _, p := range allowed {
				if p.V1 == from && p.V2 == to {
					want = true
				}
			}
			assert.Equal(t, want, from.CanTransition(to), "%s -> %s", from, to)
		}
	}
}

func TestReadIsTerminal(t *testing.T) {
	for _, to := range []MessageStatus{MessagePending, MessageSent, MessageDelivered, MessageFailed} {
		assert.False(t, MessageRead.CanTransition(to))
	}
}

func TestMessageKey(t *testing.T) {
	m := Message{Sender: "a", Recipient: "b"}
	k := m.Key()
	assert.Equal(t, NodeId("a"), k.Sender)
	assert.Equal(t, NodeId("b"), k.Recipient)
	assert.Equal(t, m.Payload, k.Payload)
}
