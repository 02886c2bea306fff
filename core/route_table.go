package core

import (
	"time"

	"github.com/weftnet/weft/state"
)

// TableLookup returns the route entry for dest, stale or not.
func TableLookup(rs *state.RouterState, dest state.NodeId) (state.RouteEntry, bool) {
	e, ok := rs.Routes[dest]
	return e, ok
}

// TableLookupFresh returns the entry for dest only if it has been used within
// ttl. Stale entries stay in the table until purged so the forwarding policy
// can still consult them.
func TableLookupFresh(rs *state.RouterState, dest state.NodeId, now time.Time, ttl time.Duration) (state.RouteEntry, bool) {
	e, ok := rs.Routes[dest]
	if !ok {
		return state.RouteEntry{}, false
	}
	if now.Sub(e.LastUsed) > ttl {
		return state.RouteEntry{}, false
	}
	return e, true
}

// TableUpsert installs a route. An existing entry for the same destination is
// replaced only when the new entry has a lower or equal hop count, or the
// existing entry has gone stale; otherwise the upsert is ignored.
func TableUpsert(rs *state.RouterState, r Router, e state.RouteEntry, now time.Time, ttl time.Duration) bool {
	old, exists := rs.Routes[e.Dest]
	if exists {
		stale := now.Sub(old.LastUsed) > ttl
		if e.HopCount > old.HopCount && !stale {
			return false
		}
		rs.Routes[e.Dest] = e
		r.RouteChanged(e)
		r.Log(RouteReplaced, "route replaced", "dest", e.Dest, "nh", e.NextHop, "hops", e.HopCount)
		return true
	}
	rs.Routes[e.Dest] = e
	r.RouteChanged(e)
	r.Log(RouteInstalled, "route installed", "dest", e.Dest, "nh", e.NextHop, "hops", e.HopCount)
	return true
}

// TableTouch refreshes the last-used timestamp after a successful forward.
func TableTouch(rs *state.RouterState, r Router, dest state.NodeId, now time.Time) {
	e, ok := rs.Routes[dest]
	if !ok {
		return
	}
	e.LastUsed = now
	rs.Routes[dest] = e
	r.RouteChanged(e)
}

// TableInvalidate removes the entry for dest. Callers treat the destination
// as routeless and re-trigger discovery lazily.
func TableInvalidate(rs *state.RouterState, r Router, dest state.NodeId) (state.RouteEntry, bool) {
	e, ok := rs.Routes[dest]
	if !ok {
		return state.RouteEntry{}, false
	}
	delete(rs.Routes, dest)
	r.RouteDeleted(dest)
	r.Log(RouteInvalidated, "route invalidated", "dest", dest, "nh", e.NextHop)
	return e, true
}

// TablePurgeExpired removes entries unused for longer than ttl and returns
// the destinations that lost their route.
func TablePurgeExpired(rs *state.RouterState, r Router, now time.Time, ttl time.Duration) []state.NodeId {
	var lost []state.NodeId
	for dest, e := range rs.Routes {
		if now.Sub(e.LastUsed) > ttl {
			delete(rs.Routes, dest)
			r.RouteDeleted(dest)
			r.Log(StaleRouteDropped, "stale route dropped", "dest", dest, "nh", e.NextHop)
			lost = append(lost, dest)
		}
	}
	return lost
}
