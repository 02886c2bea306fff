package core

import (
	"fmt"

	"github.com/weftnet/weft/link"
	"github.com/weftnet/weft/protocol"
	"github.com/weftnet/weft/state"
)

// Mesh owns the neighbour transport and fans inbound frames out to the
// discovery and delivery state machines on the dispatch thread. Two
// neighbours may deliver frames concurrently; serialization happens here, at
// the dispatch boundary, never inside the tables.
type Mesh struct {
	s         *state.State
	Transport link.Transport
}

func (m *Mesh) Init(s *state.State) error {
	m.s = s
	return m.Transport.Start(s.Env, m.onFrame, link.Events{
		Up: func(neigh state.NodeId) {
			s.Env.Dispatch(func(s *state.State) error {
				if err := Get[*Discovery](s).LinkUp(s, neigh); err != nil {
					return err
				}
				return Get[*Delivery](s).Pump(s, neigh)
			})
		},
		Down: func(neigh state.NodeId) {
			s.Env.Dispatch(func(s *state.State) error {
				return Get[*Discovery](s).LinkDown(s, neigh)
			})
		},
	})
}

func (m *Mesh) Cleanup(s *state.State) error {
	return m.Transport.Close()
}

func (m *Mesh) onFrame(from state.NodeId, f *protocol.Frame) {
	m.s.Env.Dispatch(func(s *state.State) error {
		return m.handleFrame(s, from, f)
	})
}

func (m *Mesh) handleFrame(s *state.State, from state.NodeId, f *protocol.Frame) error {
	switch f.Kind {
	case protocol.KindHello:
		return nil // consumed by the link layer
	case protocol.KindRouteRequest, protocol.KindRouteReply, protocol.KindRouteFailure:
		return Get[*Discovery](s).HandleFrame(s, from, f)
	case protocol.KindData, protocol.KindAck, protocol.KindRead, protocol.KindHandshake:
		return Get[*Delivery](s).HandleFrame(s, from, f)
	}
	return fmt.Errorf("unhandled frame kind %s", f.Kind)
}

// SendRouted forwards a frame one hop along the route to dest. A missing or
// stale route yields ErrNoRoute; a link failure triggers repair before the
// error is surfaced.
func (m *Mesh) SendRouted(s *state.State, dest state.NodeId, f *protocol.Frame) error {
	d := Get[*Discovery](s)
	e, ok := TableLookupFresh(s.RouterState, dest, s.Now(), d.tuning(s).RouteTTL)
	if !ok {
		return ErrNoRoute
	}
	if err := m.Transport.Send(e.NextHop, f); err != nil {
		if ferr := d.LinkFailed(s, dest); ferr != nil {
			return ferr
		}
		return fmt.Errorf("forward to %s via %s: %w", dest, e.NextHop, err)
	}
	TableTouch(s.RouterState, d, dest, s.Now())
	return nil
}

// Forward relays a transit frame toward its target. When this hop has no
// usable route the upstream neighbour is told to back off the path.
func (m *Mesh) Forward(s *state.State, from state.NodeId, target state.NodeId, f *protocol.Frame) error {
	err := m.SendRouted(s, target, f)
	if err == nil {
		return nil
	}
	d := Get[*Discovery](s)
	d.Log(FailureRelayed, "cannot forward transit frame", "target", target, "from", from, "err", err)
	d.SendFailure(from, protocol.RouteFailure{Dest: target})
	return nil
}
