package state

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

type NodeId string

// Correlation ties a route request to its eventual reply across all hops.
type Correlation = uuid.UUID

// UsageId identifies a logical sending session bound to one destination.
type UsageId = uuid.UUID

// PayloadId is unique per sender and identifies a message end to end.
type PayloadId = uuid.UUID

// RouteEntry is the forwarding table entry for a single destination.
// NextHop and PrevHop are direct neighbours; for a directly adjacent
// destination all three coincide and HopCount is 1.
type RouteEntry struct {
	Dest     NodeId
	NextHop  NodeId
	PrevHop  NodeId
	HopCount uint8
	Origin   Correlation // discovery that produced this entry
	LastUsed time.Time
}

// Adjacent reports whether the entry describes a directly reachable destination.
func (r RouteEntry) Adjacent() bool {
	return r.HopCount == 1
}

type DiscoveryPhase uint8

const (
	DiscoveryIdle DiscoveryPhase = iota
	DiscoveryRequestSent
	DiscoveryAwaitingReply
	DiscoveryResolved
	DiscoveryFailed
)

func (p DiscoveryPhase) String() string {
	switch p {
	case DiscoveryIdle:
		return "idle"
	case DiscoveryRequestSent:
		return "request-sent"
	case DiscoveryAwaitingReply:
		return "awaiting-reply"
	case DiscoveryResolved:
		return "resolved"
	case DiscoveryFailed:
		return "failed"
	}
	return "unknown"
}

// RouteRequestEntry tracks one in-flight discovery, either originated here or
// forwarded on behalf of another node.
type RouteRequestEntry struct {
	Correlation Correlation
	Origin      NodeId
	Dest        NodeId
	Created     time.Time
	Phase       DiscoveryPhase
}

// RouterState holds every table owned by the discovery engine. It must only be
// touched on the dispatch Goroutine.
type RouterState struct {
	Id         NodeId
	Routes     map[NodeId]RouteEntry
	Pending    map[Correlation]*RouteRequestEntry
	Usages     map[UsageId]NodeId
	Neighbours []NodeId
}

func NewRouterState(id NodeId) *RouterState {
	return &RouterState{
		Id:      id,
		Routes:  make(map[NodeId]RouteEntry),
		Pending: make(map[Correlation]*RouteRequestEntry),
		Usages:  make(map[UsageId]NodeId),
	}
}

func (r *RouterState) IsNeighbour(node NodeId) bool {
	return slices.Contains(r.Neighbours, node)
}

func (r *RouterState) AddNeighbour(node NodeId) {
	if !r.IsNeighbour(node) {
		r.Neighbours = append(r.Neighbours, node)
	}
}

func (r *RouterState) RemoveNeighbour(node NodeId) {
	r.Neighbours = slices.DeleteFunc(r.Neighbours, func(n NodeId) bool {
		return n == node
	})
}
