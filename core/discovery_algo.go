package core

// Reactive route discovery over an ad-hoc mesh: requests flood outward from
// the originator, replies walk the reverse chain back, and failures backtrack
// one hop upstream toward affected senders. The functions here are pure over
// RouterState; all side effects go through the Router interface so they can
// be exercised against a harness.

import (
	"time"

	"github.com/google/uuid"

	"github.com/weftnet/weft/protocol"
	"github.com/weftnet/weft/state"
)

// Router is the side-effect boundary of the discovery state machine.
type Router interface {
	// FloodRequest broadcasts a request to every neighbour except the one it
	// was received from; except is empty on origination.
	FloodRequest(except state.NodeId, req protocol.RouteRequest)
	SendReply(neigh state.NodeId, rep protocol.RouteReply)
	SendFailure(neigh state.NodeId, fail protocol.RouteFailure)
	// persistence write-through
	RouteChanged(e state.RouteEntry)
	RouteDeleted(dest state.NodeId)
	RequestChanged(e state.RouteRequestEntry)
	RequestDeleted(c state.Correlation)
	Log(event RouterEvent, desc string, args ...any)
}

// Tuning carries the effective protocol knobs into the pure handlers.
type Tuning struct {
	RouteTTL         time.Duration
	DiscoveryTimeout time.Duration
	MaxRequestHops   uint8
}

// OriginateDiscovery starts a discovery for dest, or coalesces onto an
// already in-flight one. It returns the governing correlation id and whether
// a fresh flood was started.
func OriginateDiscovery(rs *state.RouterState, r Router, dedup *DedupTable, dest state.NodeId, now time.Time) (state.Correlation, bool) {
	for c, e := range rs.Pending {
		if e.Origin == rs.Id && e.Dest == dest {
			r.Log(RequestCoalesced, "coalescing onto pending discovery", "dest", dest, "id", short(c))
			return c, false
		}
	}

	c := uuid.New()
	TrackBegin(rs, r, c, rs.Id, dest, now)
	// the originator counts as having seen its own request
	dedup.MarkSeen(c, rs.Id)
	req := protocol.RouteRequest{
		Correlation: c,
		Origin:      rs.Id,
		Dest:        dest,
		HopCount:    1,
	}
	r.Log(RequestOriginated, "originating discovery", "dest", dest, "id", short(c))
	r.FloodRequest("", req)
	return c, true
}

// HandleRouteRequest processes a request received from neighbour `from`.
func HandleRouteRequest(rs *state.RouterState, r Router, dedup *DedupTable, from state.NodeId, req protocol.RouteRequest, now time.Time, tun Tuning) {
	if !dedup.MarkSeen(req.Correlation, from) {
		// duplicate or loop; dropped, not an error
		r.Log(DuplicateDropped, "duplicate request dropped", "id", short(req.Correlation), "from", from)
		return
	}

	if req.Origin != rs.Id {
		// record the reverse path toward the originator; the prev hop is
		// unknown until a reply flows back through us
		TableUpsert(rs, r, state.RouteEntry{
			Dest:     req.Origin,
			NextHop:  from,
			HopCount: req.HopCount,
			Origin:   req.Correlation,
			LastUsed: now,
		}, now, tun.RouteTTL)
	}

	if rs.Id == req.Dest {
		r.Log(ReplySent, "answering discovery as destination", "id", short(req.Correlation), "to", from)
		r.SendReply(from, protocol.RouteReply{
			Correlation: req.Correlation,
			Origin:      req.Origin,
			Dest:        req.Dest,
			HopCount:    1,
		})
		return
	}

	// A fresh route lets us answer on the destination's behalf. A stale but
	// unexpired route does not: we re-flood instead, since a silently degraded
	// link behind the stale entry would poison the originator's path.
	if e, ok := TableLookupFresh(rs, req.Dest, now, tun.RouteTTL); ok {
		r.Log(ReplySent, "answering discovery from fresh route", "id", short(req.Correlation), "dest", req.Dest, "to", from)
		r.SendReply(from, protocol.RouteReply{
			Correlation: req.Correlation,
			Origin:      req.Origin,
			Dest:        req.Dest,
			HopCount:    e.HopCount + 1,
		})
		return
	}

	if req.HopCount >= tun.MaxRequestHops {
		r.Log(HopLimitDropped, "request exceeded hop limit", "id", short(req.Correlation), "hops", req.HopCount)
		return
	}

	// first sight of this request on this node: track it for reply routing
	TrackBegin(rs, r, req.Correlation, req.Origin, req.Dest, now)

	fwd := req
	fwd.HopCount++
	r.Log(RequestForwarded, "re-flooding request", "id", short(req.Correlation), "dest", req.Dest, "hops", fwd.HopCount)
	r.FloodRequest(from, fwd)
}

// HandleRouteReply processes a reply received from neighbour `from`. It
// returns true when this node is the originator and the discovery resolved
// now (first reply wins; waiting senders may be released exactly once).
func HandleRouteReply(rs *state.RouterState, r Router, dedup *DedupTable, from state.NodeId, rep protocol.RouteReply, now time.Time, tun Tuning) bool {
	// First-arriving reply installs the route. A strictly shorter path
	// arriving later replaces it; equal or longer later arrivals are ignored.
	improved := true
	if old, ok := TableLookupFresh(rs, rep.Dest, now, tun.RouteTTL); ok && rep.HopCount >= old.HopCount {
		improved = false
	}

	rev, hasRev := TableLookup(rs, rep.Origin)

	if improved {
		e := state.RouteEntry{
			Dest:     rep.Dest,
			NextHop:  from,
			HopCount: rep.HopCount,
			Origin:   rep.Correlation,
			LastUsed: now,
		}
		if rs.Id != rep.Origin && hasRev {
			// both directions are known at an intermediate hop
			e.PrevHop = rev.NextHop
		}
		TableUpsert(rs, r, e, now, tun.RouteTTL)
	}

	_, resolved := TrackResolve(rs, r, rep.Correlation)
	if resolved {
		dedup.Clear(rep.Correlation)
	}

	if rs.Id == rep.Origin {
		if !resolved {
			r.Log(DuplicateDropped, "reply for already-resolved discovery", "id", short(rep.Correlation))
			return false
		}
		return true
	}

	// intermediate hop: relay toward the originator along the reverse chain
	if !hasRev {
		r.Log(InconsistentState, "reply without reverse route", "id", short(rep.Correlation), "origin", rep.Origin)
		return false
	}
	if !resolved && !improved {
		// duplicate reply that did not improve anything; suppress
		r.Log(DuplicateDropped, "redundant reply dropped", "id", short(rep.Correlation))
		return false
	}

	// the reply sender is the downstream side of the reverse path
	rev.PrevHop = from
	rev.LastUsed = now
	rs.Routes[rep.Origin] = rev
	r.RouteChanged(rev)

	out := rep
	out.HopCount++
	r.Log(ReplyForwarded, "relaying reply", "id", short(rep.Correlation), "to", rev.NextHop, "hops", out.HopCount)
	r.SendReply(rev.NextHop, out)
	return false
}

// HandleRouteFailure processes a failure notification received from the
// neighbour that detected (or relayed) a break downstream. The route is
// invalidated and the failure relayed one hop further upstream, bounding
// wasted retransmission to a single hop beyond the break.
func HandleRouteFailure(rs *state.RouterState, r Router, from state.NodeId, fail protocol.RouteFailure) []state.UsageId {
	e, ok := TableLookup(rs, fail.Dest)
	if !ok {
		return nil
	}
	if e.NextHop != from {
		// not on our forwarding path; a competing stale notification
		r.Log(InconsistentState, "failure from off-path neighbour", "dest", fail.Dest, "from", from)
		return nil
	}
	affected := ReportFailure(rs, r, fail.Dest)
	relayFailureUpstream(rs, r, e, fail.Dest)
	return affected
}

// ReportLocalFailure handles a break detected by this node itself: the link
// send toward the next hop failed beyond retry. Identical repair semantics,
// minus the off-path check.
func ReportLocalFailure(rs *state.RouterState, r Router, dest state.NodeId) []state.UsageId {
	e, ok := TableLookup(rs, dest)
	if !ok {
		return UsagesFor(rs, dest)
	}
	affected := ReportFailure(rs, r, dest)
	relayFailureUpstream(rs, r, e, dest)
	return affected
}

func relayFailureUpstream(rs *state.RouterState, r Router, e state.RouteEntry, dest state.NodeId) {
	if e.PrevHop == "" || e.PrevHop == rs.Id {
		return
	}
	r.Log(FailureRelayed, "relaying route failure upstream", "dest", dest, "to", e.PrevHop)
	r.SendFailure(e.PrevHop, protocol.RouteFailure{Dest: dest})
}

// SweepDiscoveries drives requests that received no reply within the timeout
// to Failed and returns them so the caller can notify waiting senders.
func SweepDiscoveries(rs *state.RouterState, r Router, dedup *DedupTable, now time.Time, tun Tuning) []state.RouteRequestEntry {
	expired := TrackSweepExpired(rs, r, now, tun.DiscoveryTimeout)
	for _, e := range expired {
		dedup.Clear(e.Correlation)
		r.Log(DiscoveryExpired, "discovery timed out", "id", short(e.Correlation), "dest", e.Dest, "origin", e.Origin)
	}
	return expired
}

// ConfirmDirectLink installs the hop-count-1 entry for a directly adjacent
// node; next hop and prev hop both collapse onto the destination.
func ConfirmDirectLink(rs *state.RouterState, r Router, neigh state.NodeId, now time.Time, tun Tuning) {
	TableUpsert(rs, r, state.RouteEntry{
		Dest:     neigh,
		NextHop:  neigh,
		PrevHop:  neigh,
		HopCount: 1,
		LastUsed: now,
	}, now, tun.RouteTTL)
}
