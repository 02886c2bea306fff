package core

type RouterEvent int

// trace events

const (
	RequestOriginated RouterEvent = iota
	RequestCoalesced
	RequestForwarded
	ReplySent
	ReplyForwarded
	RouteInstalled
	RouteReplaced
	RouteTouched
	RouteInvalidated
	StaleRouteDropped
	DuplicateDropped
	HopLimitDropped
	DiscoveryExpired
	FailureRelayed
)

// warn events

const (
	InconsistentState RouterEvent = iota + 1000
	UnknownNeighbour
)

func (e RouterEvent) String() string {
	switch e {
	case RequestOriginated:
		return "REQUEST_ORIGINATED"
	case RequestCoalesced:
		return "REQUEST_COALESCED"
	case RequestForwarded:
		return "REQUEST_FORWARDED"
	case ReplySent:
		return "REPLY_SENT"
	case ReplyForwarded:
		return "REPLY_FORWARDED"
	case RouteInstalled:
		return "ROUTE_INSTALLED"
	case RouteReplaced:
		return "ROUTE_REPLACED"
	case RouteTouched:
		return "ROUTE_TOUCHED"
	case RouteInvalidated:
		return "ROUTE_INVALIDATED"
	case StaleRouteDropped:
		return "STALE_ROUTE_DROPPED"
	case DuplicateDropped:
		return "DUPLICATE_DROPPED"
	case HopLimitDropped:
		return "HOP_LIMIT_DROPPED"
	case DiscoveryExpired:
		return "DISCOVERY_EXPIRED"
	case FailureRelayed:
		return "FAILURE_RELAYED"
	case InconsistentState:
		return "INCONSISTENT_STATE"
	case UnknownNeighbour:
		return "UNKNOWN_NEIGHBOUR"
	}
	return "UNKNOWN_EVENT"
}
