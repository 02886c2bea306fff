package state

import "time"

var (
	// MaxRequestHops bounds the flood radius of a route request.
	MaxRequestHops = (uint8)(16)

	RouteExpiryTime    = time.Minute * 5
	DiscoveryTimeout   = time.Second * 10
	DedupTTL           = time.Second * 30
	DiscoverySweepTick = time.Second * 1
	RoutePurgeTick     = time.Second * 30

	RetrySweepTick  = time.Second * 15
	MaxSendAttempts = 5

	// LinkSendRetries bounds single-hop retransmission before a send escalates
	// to a route failure.
	LinkSendRetries   = 3
	LinkRedialDelay   = time.Second * 5
	SessionTimeout    = time.Second * 15
	DispatchQueueSize = 128

	DefaultPort = 48712
)
