package core

import (
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/weftnet/weft/state"
)

// DedupTable is the sole flood-storm and loop prevention mechanism: a request
// is processed at most once per correlation id on each node, no matter how
// many neighbours deliver a copy. The neighbour that delivered the first copy
// is recorded. Entries are TTL-bounded so memory stays bounded even when
// requests are never resolved.
type DedupTable struct {
	seen *ttlcache.Cache[state.Correlation, state.NodeId]
}

func NewDedupTable(ttl time.Duration) *DedupTable {
	return &DedupTable{
		seen: ttlcache.New[state.Correlation, state.NodeId](
			ttlcache.WithTTL[state.Correlation, state.NodeId](ttl),
			ttlcache.WithDisableTouchOnHit[state.Correlation, state.NodeId](),
		),
	}
}

// MarkSeen atomically records first sight of c, delivered by neigh, and
// reports whether this was the first time. Later copies from any neighbour
// are rejected. It MUST be consulted before any forward action.
func (d *DedupTable) MarkSeen(c state.Correlation, neigh state.NodeId) bool {
	_, existed := d.seen.GetOrSet(c, neigh)
	return !existed
}

// Clear forgets a correlation id once the owning request resolves or expires.
func (d *DedupTable) Clear(c state.Correlation) {
	d.seen.Delete(c)
}

// DeleteExpired is driven by the periodic GC task.
func (d *DedupTable) DeleteExpired() {
	d.seen.DeleteExpired()
}
