// Package link is the neighbour transport boundary. The core never talks to
// the network directly; it sends frames to directly adjacent nodes through a
// Transport and receives inbound frames via the Handler callback.
package link

import (
	"errors"

	"github.com/weftnet/weft/protocol"
	"github.com/weftnet/weft/state"
)

var (
	// ErrNoLink is returned when no live link to the neighbour exists.
	ErrNoLink = errors.New("no link to neighbour")
	// ErrSendFailed is returned after bounded single-hop retransmission gave up.
	ErrSendFailed = errors.New("link send failed")
)

// Handler receives every inbound frame together with the neighbour it came
// from. It must not block; implementations dispatch onto the main thread.
type Handler func(from state.NodeId, f *protocol.Frame)

// Events observe neighbour links coming and going.
type Events struct {
	Up   func(neigh state.NodeId)
	Down func(neigh state.NodeId)
}

type Transport interface {
	// Start begins accepting and dialing links. Inbound frames flow to onFrame.
	Start(e *state.Env, onFrame Handler, events Events) error
	// Send delivers one frame to a directly adjacent node.
	Send(neigh state.NodeId, f *protocol.Frame) error
	// Neighbours lists nodes with a live link right now.
	Neighbours() []state.NodeId
	Close() error
}
