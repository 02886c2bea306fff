package core

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/weftnet/weft/state"
)

const tableTTL = 5 * time.Minute

func TestUpsertKeepsShorterFreshRoute(t *testing.T) {
	h := &RouterHarness{}
	rs := makeState("a", "b", "c")

	assert.True(t, TableUpsert(rs, h, state.RouteEntry{Dest: "d", NextHop: "b", HopCount: 2, LastUsed: t0}, t0, tableTTL))
	// a longer route must not displace a fresh shorter one
	assert.False(t, TableUpsert(rs, h, state.RouteEntry{Dest: "d", NextHop: "c", HopCount: 3, LastUsed: t0}, t0, tableTTL))
	assert.Equal(t, state.NodeId("b"), rs.Routes["d"].NextHop)

	// equal hop count replaces; fresher information wins ties
	assert.True(t, TableUpsert(rs, h, state.RouteEntry{Dest: "d", NextHop: "c", HopCount: 2, LastUsed: t0}, t0, tableTTL))
	assert.Equal(t, state.NodeId("c"), rs.Routes["d"].NextHop)
}

func TestUpsertReplacesStaleRoute(t *testing.T) {
	h := &RouterHarness{}
	rs := makeState("a", "b", "c")
	rs.Routes["d"] = state.RouteEntry{Dest: "d", NextHop: "b", HopCount: 1, LastUsed: t0.Add(-tableTTL - time.Second)}

	// even a longer route replaces one that has gone stale
	assert.True(t, TableUpsert(rs, h, state.RouteEntry{Dest: "d", NextHop: "c", HopCount: 4, LastUsed: t0}, t0, tableTTL))
	assert.Equal(t, state.NodeId("c"), rs.Routes["d"].NextHop)
}

func TestLookupFreshRespectsTTL(t *testing.T) {
	rs := makeState("a")
	rs.Routes["d"] = state.RouteEntry{Dest: "d", NextHop: "b", HopCount: 2, LastUsed: t0}

	_, ok := TableLookupFresh(rs, "d", t0.Add(tableTTL), tableTTL)
	assert.True(t, ok)
	_, ok = TableLookupFresh(rs, "d", t0.Add(tableTTL+time.Second), tableTTL)
	assert.False(t, ok)

	// stale entries remain visible to the plain lookup
	_, ok = TableLookup(rs, "d")
	assert.True(t, ok)
}

func TestTouchRefreshesLastUsed(t *testing.T) {
	h := &RouterHarness{}
	rs := makeState("a")
	rs.Routes["d"] = state.RouteEntry{Dest: "d", NextHop: "b", HopCount: 2, LastUsed: t0}

	later := t0.Add(tableTTL)
	TableTouch(rs, h, "d", later)
	_, ok := TableLookupFresh(rs, "d", later.Add(tableTTL), tableTTL)
	assert.True(t, ok)
	h.GetActions().AssertContains(t, "ROUTE_CHANGED")
}

func TestInvalidateRemovesRoute(t *testing.T) {
	h := &RouterHarness{}
	rs := makeState("a")
	rs.Routes["d"] = state.RouteEntry{Dest: "d", NextHop: "b", HopCount: 2, LastUsed: t0}

	e, ok := TableInvalidate(rs, h, "d")
	assert.True(t, ok)
	assert.Equal(t, state.NodeId("b"), e.NextHop)
	assert.Empty(t, rs.Routes)

	_, ok = TableInvalidate(rs, h, "d")
	assert.False(t, ok)
}

func TestPurgeExpiredRoutes(t *testing.T) {
	h := &RouterHarness{}
	rs := makeState("a")
	rs.Routes["d"] = state.RouteEntry{Dest: "d", NextHop: "b", HopCount: 2, LastUsed: t0}
	rs.Routes["e"] = state.RouteEntry{Dest: "e", NextHop: "b", HopCount: 3, LastUsed: t0.Add(-tableTTL - time.Minute)}

	lost := TablePurgeExpired(rs, h, t0, tableTTL)
	assert.Equal(t, []state.NodeId{"e"}, lost)
	assert.Contains(t, rs.Routes, state.NodeId("d"))
	h.GetActions().AssertContains(t, "ROUTE_DELETED", state.NodeId("e"))
}

func TestTrackResolveIsAtMostOnce(t *testing.T) {
	h := &RouterHarness{}
	rs := makeState("a")
	c := uuid.New()

	assert.True(t, TrackBegin(rs, h, c, "a", "d", t0))
	assert.False(t, TrackBegin(rs, h, c, "a", "d", t0))

	e, ok := TrackResolve(rs, h, c)
	assert.True(t, ok)
	assert.Equal(t, state.DiscoveryResolved, e.Phase)
	assert.Equal(t, state.NodeId("d"), e.Dest)

	_, ok = TrackResolve(rs, h, c)
	assert.False(t, ok)
}

func TestUsageLedger(t *testing.T) {
	h := &RouterHarness{}
	rs := makeState("a")
	u1, u2 := uuid.New(), uuid.New()
	UsageBegin(rs, u1, "d")
	UsageBegin(rs, u2, "d")
	UsageBegin(rs, uuid.New(), "e")

	affected := ReportFailure(rs, h, "d")
	assert.ElementsMatch(t, []state.UsageId{u1, u2}, affected)

	UsageEnd(rs, u1)
	assert.Len(t, UsagesFor(rs, "d"), 1)
}

func TestDedupMarkSeen(t *testing.T) {
	d := NewDedupTable(time.Minute)
	c := uuid.New()
	assert.True(t, d.MarkSeen(c, "b"))
	assert.False(t, d.MarkSeen(c, "b"))
	// a copy arriving over another neighbour is still a duplicate
	assert.False(t, d.MarkSeen(c, "e"))

	d.Clear(c)
	assert.True(t, d.MarkSeen(c, "b"))
}
