package core

import (
	"github.com/weftnet/weft/state"
)

// UsageBegin binds a logical send-session to a destination. A usage id maps
// to exactly one destination at a time.
func UsageBegin(rs *state.RouterState, id state.UsageId, dest state.NodeId) {
	rs.Usages[id] = dest
}

func UsageEnd(rs *state.RouterState, id state.UsageId) {
	delete(rs.Usages, id)
}

// UsagesFor lists every active usage bound to dest. The repair path uses this
// to find the senders affected by a route break.
func UsagesFor(rs *state.RouterState, dest state.NodeId) []state.UsageId {
	var out []state.UsageId
	for id, d := range rs.Usages {
		if d == dest {
			out = append(out, id)
		}
	}
	return out
}

// ReportFailure invalidates the route to dest and returns the usages whose
// senders must abandon it and re-discover.
func ReportFailure(rs *state.RouterState, r Router, dest state.NodeId) []state.UsageId {
	TableInvalidate(rs, r, dest)
	return UsagesFor(rs, dest)
}
