//go:build integration

package integration

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/weftnet/weft/mock"
	"github.com/weftnet/weft/state"
)

func fastTunables() state.Tunables {
	return state.Tunables{
		DiscoveryTimeout: state.Duration(time.Second),
		RetryInterval:    state.Duration(time.Second),
		MaxSendAttempts:  50,
	}
}

func TestStartStop(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := NewMeshHarness(mock.MockEdges())
	h.Start(t)
	time.Sleep(200 * time.Millisecond)
	h.Stop()
}

func TestNeighbourDelivery(t *testing.T) {
	h := NewMeshHarness(mock.MockEdges())
	h.Start(t)
	defer h.Stop()

	payload := h.Send(t, "bob", "jeb", []byte("hi neighbour"))
	key := state.MessageKey{Payload: payload, Sender: "bob", Recipient: "jeb"}
	h.WaitForStatus(t, "bob", key, state.MessageDelivered, 10*time.Second)

	conv := h.Conversation(t, "jeb", "bob", "jeb")
	require.Len(t, conv, 1)
	assert.Equal(t, []byte("hi neighbour"), conv[0].Content)
	assert.Equal(t, state.MessageDelivered, conv[0].Status)
}

func TestMultiHopDeliveryAndReadReceipt(t *testing.T) {
	h := NewMeshHarness(mock.MockEdges())
	h.Start(t)
	defer h.Stop()

	// ada is three hops from bob; the route must be discovered first
	payload := h.Send(t, "bob", "ada", []byte("across the mesh"))
	key := state.MessageKey{Payload: payload, Sender: "bob", Recipient: "ada"}
	h.WaitForStatus(t, "bob", key, state.MessageDelivered, 15*time.Second)

	conv := h.Conversation(t, "ada", "bob", "ada")
	require.Len(t, conv, 1)
	assert.Equal(t, []byte("across the mesh"), conv[0].Content)

	h.MarkRead(t, "ada", key)
	h.WaitForStatus(t, "bob", key, state.MessageRead, 10*time.Second)
	h.WaitForStatus(t, "ada", key, state.MessageRead, time.Second)
}

func TestConcurrentMessagesShareOneDiscovery(t *testing.T) {
	h := NewMeshHarness(mock.MockEdges())
	h.Start(t)
	defer h.Stop()

	p1 := h.Send(t, "bob", "kat", []byte("one"))
	p2 := h.Send(t, "bob", "kat", []byte("two"))
	h.WaitForStatus(t, "bob", state.MessageKey{Payload: p1, Sender: "bob", Recipient: "kat"}, state.MessageDelivered, 15*time.Second)
	h.WaitForStatus(t, "bob", state.MessageKey{Payload: p2, Sender: "bob", Recipient: "kat"}, state.MessageDelivered, 15*time.Second)

	conv := h.Conversation(t, "kat", "bob", "kat")
	assert.Len(t, conv, 2)
}

func TestRepairAfterPartitionHeals(t *testing.T) {
	h := NewMeshHarness(mock.MockEdges())
	h.Tune(fastTunables())
	h.Start(t)
	defer h.Stop()

	// warm path and session
	p1 := h.Send(t, "bob", "ada", []byte("before the break"))
	k1 := state.MessageKey{Payload: p1, Sender: "bob", Recipient: "ada"}
	h.WaitForStatus(t, "bob", k1, state.MessageDelivered, 15*time.Second)

	// ada's only link goes down
	h.Net.Sever("kat", "ada")

	p2 := h.Send(t, "bob", "ada", []byte("during the break"))
	k2 := state.MessageKey{Payload: p2, Sender: "bob", Recipient: "ada"}

	// with no path the message must end up Failed, not lost
	deadline := time.Now().Add(20 * time.Second)
	for time.Now().Before(deadline) {
		if got, found := h.MessageStatus(t, "bob", k2); found && got == state.MessageFailed {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	h.Net.Heal("kat", "ada")

	// the retry loop rediscovers and delivers
	h.WaitForStatus(t, "bob", k2, state.MessageDelivered, 30*time.Second)
	conv := h.Conversation(t, "ada", "bob", "ada")
	assert.Len(t, conv, 2)
}

func TestUnknownRecipientRejected(t *testing.T) {
	h := NewMeshHarness(mock.MockEdges())
	h.Start(t)
	defer h.Stop()

	_, err := h.TrySend(t, "bob", "mallory", []byte("hello?"))
	assert.Error(t, err)
}
