package link

import (
	"fmt"
	"net"
	"sync"

	"github.com/weftnet/weft/protocol"
	"github.com/weftnet/weft/state"
)

// TCPTransport maintains one TCP connection per configured neighbour. Either
// side may dial; the first frame on every connection is a Hello identifying
// the remote node.
type TCPTransport struct {
	env      *state.Env
	onFrame  Handler
	events   Events
	listener net.Listener

	mu    sync.Mutex
	conns map[state.NodeId]*tcpLink
}

type tcpLink struct {
	peer state.NodeId
	conn net.Conn
	wmu  sync.Mutex
}

func NewTCP() *TCPTransport {
	return &TCPTransport{conns: make(map[state.NodeId]*tcpLink)}
}

func (t *TCPTransport) Start(e *state.Env, onFrame Handler, events Events) error {
	t.env = e
	t.onFrame = onFrame
	t.events = events

	if e.LocalCfg.Listen != "" {
		cfg := net.ListenConfig{}
		l, err := cfg.Listen(e.Context, "tcp", e.LocalCfg.Listen)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", e.LocalCfg.Listen, err)
		}
		t.listener = l
		e.Log.Info("listening on", "addr", e.LocalCfg.Listen)
		go t.acceptLoop()
	}
	go t.redialLoop()
	return nil
}

func (t *TCPTransport) acceptLoop() {
	for t.env.Context.Err() == nil {
		conn, err := t.listener.Accept()
		if err != nil {
			if t.env.Context.Err() != nil {
				return
			}
			t.env.Log.Warn("failed to accept connection", "err", err)
			continue
		}
		go t.handleInbound(conn)
	}
}

func (t *TCPTransport) handleInbound(conn net.Conn) {
	f, err := protocol.ReadFrame(conn)
	if err != nil || f.Kind != protocol.KindHello {
		conn.Close()
		return
	}
	peer := f.Hello.From
	if t.env.MeshCfg.TryGetNode(peer) == nil {
		t.env.Log.Warn("rejecting link from unknown node", "from", peer)
		conn.Close()
		return
	}
	t.register(peer, conn)
}

func (t *TCPTransport) redialLoop() {
	tick := t.env.Clock.Ticker(state.LinkRedialDelay)
	defer tick.Stop()
	for {
		t.dialMissing()
		select {
		case <-t.env.Context.Done():
			return
		case <-tick.C:
		}
	}
}

func (t *TCPTransport) dialMissing() {
	for peer, addr := range t.env.LocalCfg.Peers {
		t.mu.Lock()
		_, up := t.conns[peer]
		t.mu.Unlock()
		if up {
			continue
		}
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			t.env.Log.Debug("dial failed", "peer", peer, "addr", addr, "err", err)
			continue
		}
		if err := protocol.WriteFrame(conn, protocol.HelloFrame(t.env.LocalCfg.Id)); err != nil {
			conn.Close()
			continue
		}
		t.register(peer, conn)
	}
}

func (t *TCPTransport) register(peer state.NodeId, conn net.Conn) {
	l := &tcpLink{peer: peer, conn: conn}
	t.mu.Lock()
	if old, ok := t.conns[peer]; ok {
		old.conn.Close()
	}
	t.conns[peer] = l
	t.mu.Unlock()
	t.env.Log.Debug("link up", "peer", peer)
	if t.events.Up != nil {
		t.events.Up(peer)
	}
	go t.readLoop(l)
}

func (t *TCPTransport) readLoop(l *tcpLink) {
	for t.env.Context.Err() == nil {
		f, err := protocol.ReadFrame(l.conn)
		if err != nil {
			break
		}
		t.onFrame(l.peer, f)
	}
	l.conn.Close()
	t.mu.Lock()
	if cur, ok := t.conns[l.peer]; ok && cur == l {
		delete(t.conns, l.peer)
	}
	t.mu.Unlock()
	t.env.Log.Debug("link down", "peer", l.peer)
	if t.events.Down != nil {
		t.events.Down(l.peer)
	}
}

func (t *TCPTransport) Send(neigh state.NodeId, f *protocol.Frame) error {
	t.mu.Lock()
	l, ok := t.conns[neigh]
	t.mu.Unlock()
	if !ok {
		return ErrNoLink
	}
	var err error
	for attempt := 0; attempt < state.LinkSendRetries; attempt++ {
		l.wmu.Lock()
		err = protocol.WriteFrame(l.conn, f)
		l.wmu.Unlock()
		if err == nil {
			return nil
		}
	}
	return fmt.Errorf("%w to %s: %v", ErrSendFailed, neigh, err)
}

func (t *TCPTransport) Neighbours() []state.NodeId {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]state.NodeId, 0, len(t.conns))
	for id := range t.conns {
		out = append(out, id)
	}
	return out
}

func (t *TCPTransport) Close() error {
	if t.listener != nil {
		t.listener.Close()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, l := range t.conns {
		l.conn.Close()
	}
	t.conns = make(map[state.NodeId]*tcpLink)
	return nil
}
