package core

import (
	"time"

	"github.com/weftnet/weft/state"
)

// TrackBegin records an in-flight discovery request. It returns false when an
// entry with the same correlation id already exists, guarding idempotent
// re-origination.
func TrackBegin(rs *state.RouterState, r Router, c state.Correlation, origin, dest state.NodeId, now time.Time) bool {
	if _, exists := rs.Pending[c]; exists {
		return false
	}
	e := &state.RouteRequestEntry{
		Correlation: c,
		Origin:      origin,
		Dest:        dest,
		Created:     now,
		Phase:       state.DiscoveryAwaitingReply,
	}
	rs.Pending[c] = e
	r.RequestChanged(*e)
	return true
}

// TrackResolve removes the entry for c and returns the original request for
// reply routing. Resolution happens at most once: the second caller observes
// "already resolved" via ok == false.
func TrackResolve(rs *state.RouterState, r Router, c state.Correlation) (state.RouteRequestEntry, bool) {
	e, ok := rs.Pending[c]
	if !ok {
		return state.RouteRequestEntry{}, false
	}
	delete(rs.Pending, c)
	r.RequestDeleted(c)
	resolved := *e
	resolved.Phase = state.DiscoveryResolved
	return resolved, true
}

// TrackSweepExpired removes and returns requests older than timeout so the
// caller can report discovery failure to waiting senders.
func TrackSweepExpired(rs *state.RouterState, r Router, now time.Time, timeout time.Duration) []state.RouteRequestEntry {
	var expired []state.RouteRequestEntry
	for c, e := range rs.Pending {
		if now.Sub(e.Created) > timeout {
			delete(rs.Pending, c)
			r.RequestDeleted(c)
			failed := *e
			failed.Phase = state.DiscoveryFailed
			expired = append(expired, failed)
		}
	}
	return expired
}
