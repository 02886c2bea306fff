package store

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftnet/weft/state"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRouteRoundTrip(t *testing.T) {
	s := openTestStore(t)

	e := state.RouteEntry{
		Dest:     "d",
		NextHop:  "b",
		PrevHop:  "a",
		HopCount: 2,
		Origin:   uuid.New(),
		LastUsed: time.Now(),
	}
	require.NoError(t, s.PutRoute(e))

	routes, err := s.Routes()
	require.NoError(t, err)
	require.Len(t, routes, 1)
	got := routes[0]
	assert.Equal(t, e.Dest, got.Dest)
	assert.Equal(t, e.NextHop, got.NextHop)
	assert.Equal(t, e.PrevHop, got.PrevHop)
	assert.Equal(t, e.HopCount, got.HopCount)
	assert.Equal(t, e.Origin, got.Origin)
	assert.WithinDuration(t, e.LastUsed, got.LastUsed, time.Second)

	require.NoError(t, s.DeleteRoute("d"))
	routes, err = s.Routes()
	require.NoError(t, err)
	assert.Empty(t, routes)
}

func TestRequestRoundTrip(t *testing.T) {
	s := openTestStore(t)

	e := state.RouteRequestEntry{
		Correlation: uuid.New(),
		Origin:      "a",
		Dest:        "d",
		Created:     time.Now(),
		Phase:       state.DiscoveryAwaitingReply,
	}
	require.NoError(t, s.PutRequest(e))

	reqs, err := s.Requests()
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, e.Correlation, reqs[0].Correlation)
	assert.Equal(t, e.Phase, reqs[0].Phase)

	require.NoError(t, s.DeleteRequest(e.Correlation))
	reqs, err = s.Requests()
	require.NoError(t, err)
	assert.Empty(t, reqs)
}

func TestUsageRoundTrip(t *testing.T) {
	s := openTestStore(t)

	u1, u2 := uuid.New(), uuid.New()
	require.NoError(t, s.PutUsage(u1, "d"))
	require.NoError(t, s.PutUsage(u2, "e"))

	usages, err := s.Usages()
	require.NoError(t, err)
	assert.Equal(t, map[state.UsageId]state.NodeId{u1: "d", u2: "e"}, usages)

	require.NoError(t, s.DeleteUsage(u1))
	usages, err = s.Usages()
	require.NoError(t, err)
	assert.Equal(t, map[state.UsageId]state.NodeId{u2: "e"}, usages)
}

func TestInsertMessageRejectsDuplicates(t *testing.T) {
	s := openTestStore(t)

	m := state.Message{
		Payload:   uuid.New(),
		Sender:    "a",
		Recipient: "b",
		Content:   []byte("hi"),
		Timestamp: time.Now(),
		Status:    state.MessagePending,
	}
	require.NoError(t, s.InsertMessage(m))
	assert.ErrorIs(t, s.InsertMessage(m), ErrDuplicateMessage)

	// distinct payload id is a distinct message
	m.Payload = uuid.New()
	assert.NoError(t, s.InsertMessage(m))
}

func TestUpdateMessageAdvancesStatus(t *testing.T) {
	s := openTestStore(t)

	m := state.Message{Payload: uuid.New(), Sender: "a", Recipient: "b", Status: state.MessagePending}
	require.NoError(t, s.InsertMessage(m))

	m.Status = state.MessageSent
	m.Attempts = 1
	require.NoError(t, s.UpdateMessage(m))

	got, found, err := s.GetMessage(m.Key())
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, state.MessageSent, got.Status)
	assert.Equal(t, 1, got.Attempts)
}

func TestGetMessageMiss(t *testing.T) {
	s := openTestStore(t)
	_, found, err := s.GetMessage(state.MessageKey{Payload: uuid.New(), Sender: "a", Recipient: "b"})
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMessagesByStatus(t *testing.T) {
	s := openTestStore(t)

	for _, status := range []state.MessageStatus{state.MessagePending, state.MessageSent, state.MessagePending} {
		m := state.Message{Payload: uuid.New(), Sender: "a", Recipient: "b", Status: status}
		require.NoError(t, s.InsertMessage(m))
	}

	pending, err := s.MessagesByStatus(state.MessagePending)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
	sent, err := s.MessagesByStatus(state.MessageSent)
	require.NoError(t, err)
	assert.Len(t, sent, 1)
}

func TestConversationCoversBothDirections(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.InsertMessage(state.Message{Payload: uuid.New(), Sender: "a", Recipient: "b"}))
	require.NoError(t, s.InsertMessage(state.Message{Payload: uuid.New(), Sender: "b", Recipient: "a"}))
	require.NoError(t, s.InsertMessage(state.Message{Payload: uuid.New(), Sender: "a", Recipient: "c"}))

	conv, err := s.Conversation("a", "b")
	require.NoError(t, err)
	assert.Len(t, conv, 2)
}
