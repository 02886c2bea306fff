package core

import (
	"errors"
	"fmt"

	"github.com/weftnet/weft/link"
	"github.com/weftnet/weft/protocol"
	"github.com/weftnet/weft/state"
	"github.com/weftnet/weft/store"
)

// Discovery owns the route table, the request tracker, the dedup table, and
// the usage ledger, and runs the discovery protocol over them. All entry
// points run on the dispatch thread.
type Discovery struct {
	s     *state.State
	env   *state.Env
	dedup *DedupTable

	// senders blocked on a route, keyed by destination; released exactly once
	// per waiter on resolve or failure
	waiters map[state.NodeId][]chan error

	// deferred persistence failure; checked after every handler so a storage
	// divergence is fatal rather than silently ignored
	storeErr error
}

func (d *Discovery) Init(s *state.State) error {
	d.s = s
	d.env = s.Env
	d.dedup = NewDedupTable(state.DedupTTL)
	d.waiters = make(map[state.NodeId][]chan error)
	s.RouterState = state.NewRouterState(s.LocalCfg.Id)

	if err := d.recover(s); err != nil {
		return err
	}

	s.Env.RepeatTask(func(s *state.State) error {
		return d.sweep(s)
	}, state.DiscoverySweepTick)
	s.Env.RepeatTask(func(s *state.State) error {
		return d.purge(s)
	}, state.RoutePurgeTick)
	return nil
}

// recover reloads durable routing state. Requests that were in flight when
// the process died are driven to Failed rather than resurrected: their
// floods are gone from the network.
func (d *Discovery) recover(s *state.State) error {
	st := Get[*Storage](s).Store
	routes, err := st.Routes()
	if err != nil {
		return fmt.Errorf("recover routes: %w", err)
	}
	for _, e := range routes {
		s.RouterState.Routes[e.Dest] = e
	}
	reqs, err := st.Requests()
	if err != nil {
		return fmt.Errorf("recover requests: %w", err)
	}
	for _, e := range reqs {
		if err := st.DeleteRequest(e.Correlation); err != nil {
			return err
		}
		s.Log.Debug("dropping stale in-flight discovery from previous run", "id", short(e.Correlation), "dest", e.Dest)
	}
	usages, err := st.Usages()
	if err != nil {
		return fmt.Errorf("recover usages: %w", err)
	}
	for id, dest := range usages {
		s.RouterState.Usages[id] = dest
	}
	if len(routes) > 0 || len(usages) > 0 {
		s.Log.Info("recovered routing state", "routes", len(routes), "usages", len(usages))
	}
	return nil
}

func (d *Discovery) Cleanup(s *state.State) error {
	// resolve every in-flight discovery as failed; nothing may dangle
	for c, e := range s.RouterState.Pending {
		e.Phase = state.DiscoveryFailed
		delete(s.RouterState.Pending, c)
	}
	for dest, ws := range d.waiters {
		for _, w := range ws {
			w <- ErrShuttingDown
		}
		delete(d.waiters, dest)
	}
	return nil
}

func (d *Discovery) tuning(s *state.State) Tuning {
	t := s.MeshCfg.Tunables
	return Tuning{
		RouteTTL:         t.EffRouteTTL(),
		DiscoveryTimeout: t.EffDiscoveryTimeout(),
		MaxRequestHops:   t.EffMaxRequestHops(),
	}
}

// ResolveRoute yields nil once a fresh route to dest exists, or the failure
// cause. Concurrent resolutions for the same destination coalesce onto one
// in-flight discovery.
func (d *Discovery) ResolveRoute(s *state.State, dest state.NodeId) <-chan error {
	ch := make(chan error, 1)
	tun := d.tuning(s)
	if _, ok := TableLookupFresh(s.RouterState, dest, s.Now(), tun.RouteTTL); ok {
		ch <- nil
		return ch
	}
	d.waiters[dest] = append(d.waiters[dest], ch)
	OriginateDiscovery(s.RouterState, d, d.dedup, dest, s.Now())
	return ch
}

// HandleFrame processes the routing control frames.
func (d *Discovery) HandleFrame(s *state.State, from state.NodeId, f *protocol.Frame) error {
	if !s.RouterState.IsNeighbour(from) {
		d.Log(UnknownNeighbour, "control frame from unknown neighbour", "from", from, "kind", f.Kind)
		return nil
	}
	tun := d.tuning(s)
	switch f.Kind {
	case protocol.KindRouteRequest:
		HandleRouteRequest(s.RouterState, d, d.dedup, from, *f.RouteRequest, s.Now(), tun)
	case protocol.KindRouteReply:
		if HandleRouteReply(s.RouterState, d, d.dedup, from, *f.RouteReply, s.Now(), tun) {
			d.releaseWaiters(f.RouteReply.Dest, nil)
		}
	case protocol.KindRouteFailure:
		affected := HandleRouteFailure(s.RouterState, d, from, *f.RouteFailure)
		d.repair(s, f.RouteFailure.Dest, affected)
	default:
		return fmt.Errorf("discovery cannot handle frame kind %s", f.Kind)
	}
	return d.takeStoreErr()
}

// LinkFailed is invoked when forwarding over an established route breaks at
// this hop: invalidate, backtrack upstream, and re-discover for every
// affected local usage.
func (d *Discovery) LinkFailed(s *state.State, dest state.NodeId) error {
	affected := ReportLocalFailure(s.RouterState, d, dest)
	d.repair(s, dest, affected)
	return d.takeStoreErr()
}

// repair re-originates discovery on behalf of the local usages hit by a
// break. Remote usages hear about it via the relayed failure frame.
func (d *Discovery) repair(s *state.State, dest state.NodeId, affected []state.UsageId) {
	if len(affected) == 0 && len(d.waiters[dest]) == 0 {
		return
	}
	OriginateDiscovery(s.RouterState, d, d.dedup, dest, s.Now())
	Get[*Delivery](s).RouteBroken(s, dest)
}

// LinkUp confirms a direct link; the neighbour becomes routable at hop 1.
func (d *Discovery) LinkUp(s *state.State, neigh state.NodeId) error {
	s.RouterState.AddNeighbour(neigh)
	ConfirmDirectLink(s.RouterState, d, neigh, s.Now(), d.tuning(s))
	d.releaseWaiters(neigh, nil)
	return d.takeStoreErr()
}

// LinkDown is a confirmed link break: every route through the neighbour is
// torn down with full repair semantics.
func (d *Discovery) LinkDown(s *state.State, neigh state.NodeId) error {
	s.RouterState.RemoveNeighbour(neigh)
	var broken []state.NodeId
	for dest, e := range s.RouterState.Routes {
		if e.NextHop == neigh {
			broken = append(broken, dest)
		}
	}
	for _, dest := range broken {
		affected := ReportLocalFailure(s.RouterState, d, dest)
		d.repair(s, dest, affected)
	}
	return d.takeStoreErr()
}

func (d *Discovery) sweep(s *state.State) error {
	expired := SweepDiscoveries(s.RouterState, d, d.dedup, s.Now(), d.tuning(s))
	for _, e := range expired {
		if e.Origin == s.RouterState.Id {
			d.releaseWaiters(e.Dest, ErrNoRoute)
		}
	}
	d.dedup.DeleteExpired()
	return d.takeStoreErr()
}

func (d *Discovery) purge(s *state.State) error {
	// discovery for lost destinations is re-triggered lazily by the next send
	TablePurgeExpired(s.RouterState, d, s.Now(), d.tuning(s).RouteTTL)
	return d.takeStoreErr()
}

func (d *Discovery) releaseWaiters(dest state.NodeId, err error) {
	for _, w := range d.waiters[dest] {
		w <- err
	}
	delete(d.waiters, dest)
}

// Router side effects

func (d *Discovery) FloodRequest(except state.NodeId, req protocol.RouteRequest) {
	t := d.transport()
	for _, neigh := range t.Neighbours() {
		if neigh == except {
			continue
		}
		if err := t.Send(neigh, protocol.RequestFrame(req)); err != nil {
			d.env.Log.Debug("flood send failed", "neigh", neigh, "err", err)
		}
	}
}

func (d *Discovery) SendReply(neigh state.NodeId, rep protocol.RouteReply) {
	if err := d.transport().Send(neigh, protocol.ReplyFrame(rep)); err != nil {
		d.env.Log.Debug("reply send failed", "neigh", neigh, "err", err)
	}
}

func (d *Discovery) SendFailure(neigh state.NodeId, fail protocol.RouteFailure) {
	if err := d.transport().Send(neigh, protocol.FailureFrame(fail)); err != nil {
		d.env.Log.Debug("failure send failed", "neigh", neigh, "err", err)
	}
}

func (d *Discovery) RouteChanged(e state.RouteEntry) {
	d.keepStoreErr(d.store().PutRoute(e))
}

func (d *Discovery) RouteDeleted(dest state.NodeId) {
	d.keepStoreErr(d.store().DeleteRoute(dest))
}

func (d *Discovery) RequestChanged(e state.RouteRequestEntry) {
	d.keepStoreErr(d.store().PutRequest(e))
}

func (d *Discovery) RequestDeleted(c state.Correlation) {
	d.keepStoreErr(d.store().DeleteRequest(c))
}

func (d *Discovery) Log(event RouterEvent, desc string, args ...any) {
	if event >= InconsistentState {
		d.env.Log.Warn(fmt.Sprintf("%s %s", event.String(), desc), args...)
		return
	}
	d.env.Log.Debug(fmt.Sprintf("%s %s", event.String(), desc), args...)
}

func (d *Discovery) transport() link.Transport {
	return Get[*Mesh](d.s).Transport
}

func (d *Discovery) store() *store.Store {
	return Get[*Storage](d.s).Store
}

func (d *Discovery) keepStoreErr(err error) {
	if err != nil {
		d.storeErr = errors.Join(d.storeErr, err)
	}
}

func (d *Discovery) takeStoreErr() error {
	err := d.storeErr
	d.storeErr = nil
	return err
}
