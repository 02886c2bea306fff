package mock

import (
	"sync"

	"github.com/weftnet/weft/link"
	"github.com/weftnet/weft/protocol"
	"github.com/weftnet/weft/state"
)

// Network joins in-memory transports by severable edges. Frames cross an
// edge through an encode/decode round trip, so the wire codec is exercised
// exactly as on a real link.
type Network struct {
	mu      sync.Mutex
	nodes   map[state.NodeId]*Transport
	severed map[state.Pair[state.NodeId, state.NodeId]]bool
	edges   []state.Pair[state.NodeId, state.NodeId]
}

func NewNetwork(edges []state.Pair[state.NodeId, state.NodeId]) *Network {
	return &Network{
		nodes:   make(map[state.NodeId]*Transport),
		severed: make(map[state.Pair[state.NodeId, state.NodeId]]bool),
		edges:   edges,
	}
}

// Transport gives the node its endpoint in the network. Call before the node
// starts.
func (n *Network) Transport(id state.NodeId) *Transport {
	n.mu.Lock()
	defer n.mu.Unlock()
	t := &Transport{net: n, id: id}
	n.nodes[id] = t
	return t
}

func (n *Network) key(a, b state.NodeId) state.Pair[state.NodeId, state.NodeId] {
	if b < a {
		a, b = b, a
	}
	return state.Pair[state.NodeId, state.NodeId]{V1: a, V2: b}
}

func (n *Network) adjacent(a, b state.NodeId) bool {
	k := n.key(a, b)
	if n.severed[k] {
		return false
	}
	for _, e := range n.edges {
		if n.key(e.V1, e.V2) == k {
			return true
		}
	}
	return false
}

// Sever cuts the edge between a and b and notifies both ends, as a transport
// would after its link probes fail.
func (n *Network) Sever(a, b state.NodeId) {
	n.mu.Lock()
	n.severed[n.key(a, b)] = true
	ta, tb := n.nodes[a], n.nodes[b]
	n.mu.Unlock()
	ta.linkDown(b)
	tb.linkDown(a)
}

// Heal restores a severed edge and notifies both ends.
func (n *Network) Heal(a, b state.NodeId) {
	n.mu.Lock()
	delete(n.severed, n.key(a, b))
	ta, tb := n.nodes[a], n.nodes[b]
	n.mu.Unlock()
	ta.linkUp(b)
	tb.linkUp(a)
}

// Transport is one node's view of the mock network.
type Transport struct {
	net *Network
	id  state.NodeId

	mu      sync.Mutex
	started bool
	onFrame link.Handler
	events  link.Events
}

var _ link.Transport = (*Transport)(nil)

func (t *Transport) Start(e *state.Env, onFrame link.Handler, events link.Events) error {
	t.mu.Lock()
	t.onFrame = onFrame
	t.events = events
	t.started = true
	t.mu.Unlock()

	// links to already-started adjacent nodes come up immediately
	t.net.mu.Lock()
	var peers []*Transport
	for id, peer := range t.net.nodes {
		if id != t.id && t.net.adjacent(t.id, id) && peer.isStarted() {
			peers = append(peers, peer)
		}
	}
	t.net.mu.Unlock()
	for _, peer := range peers {
		t.linkUp(peer.id)
		peer.linkUp(t.id)
	}
	return nil
}

func (t *Transport) Send(neigh state.NodeId, f *protocol.Frame) error {
	t.net.mu.Lock()
	peer, ok := t.net.nodes[neigh]
	alive := ok && t.net.adjacent(t.id, neigh)
	t.net.mu.Unlock()
	if !alive || !peer.isStarted() {
		return link.ErrNoLink
	}

	// round trip through the codec; the receiver gets its own copy
	raw, err := protocol.Encode(f)
	if err != nil {
		return err
	}
	decoded, err := protocol.Decode(raw)
	if err != nil {
		return err
	}
	peer.deliver(t.id, decoded)
	return nil
}

func (t *Transport) Neighbours() []state.NodeId {
	t.net.mu.Lock()
	defer t.net.mu.Unlock()
	var out []state.NodeId
	for id, peer := range t.net.nodes {
		if id != t.id && t.net.adjacent(t.id, id) && peer.isStarted() {
			out = append(out, id)
		}
	}
	return out
}

func (t *Transport) Close() error {
	t.mu.Lock()
	t.started = false
	t.mu.Unlock()

	t.net.mu.Lock()
	var peers []*Transport
	for id, peer := range t.net.nodes {
		if id != t.id && t.net.adjacent(t.id, id) && peer.isStarted() {
			peers = append(peers, peer)
		}
	}
	t.net.mu.Unlock()
	for _, peer := range peers {
		peer.linkDown(t.id)
	}
	return nil
}

func (t *Transport) isStarted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.started
}

func (t *Transport) deliver(from state.NodeId, f *protocol.Frame) {
	t.mu.Lock()
	h := t.onFrame
	started := t.started
	t.mu.Unlock()
	if started && h != nil {
		h(from, f)
	}
}

func (t *Transport) linkUp(peer state.NodeId) {
	t.mu.Lock()
	up := t.events.Up
	started := t.started
	t.mu.Unlock()
	if started && up != nil {
		up(peer)
	}
}

func (t *Transport) linkDown(peer state.NodeId) {
	t.mu.Lock()
	down := t.events.Down
	started := t.started
	t.mu.Unlock()
	if started && down != nil {
		down(peer)
	}
}
