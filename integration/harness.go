//go:build integration

package integration

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/encodeous/tint"
	"github.com/stretchr/testify/require"

	"github.com/weftnet/weft/core"
	"github.com/weftnet/weft/mock"
	"github.com/weftnet/weft/state"
)

// MeshHarness runs several full nodes over the in-memory mock network, each
// with its own dispatch loop and an ephemeral store.
type MeshHarness struct {
	Mesh   state.MeshCfg
	Locals []state.LocalCfg
	Net    *mock.Network
	States map[state.NodeId]*state.State

	wg sync.WaitGroup
}

func NewMeshHarness(edges []state.Pair[state.NodeId, state.NodeId]) *MeshHarness {
	mesh, locals := mock.MockCfg()
	return &MeshHarness{
		Mesh:   mesh,
		Locals: locals,
		Net:    mock.NewNetwork(edges),
		States: make(map[state.NodeId]*state.State),
	}
}

// Tune overrides the mesh-wide protocol knobs, typically to shrink timeouts.
func (h *MeshHarness) Tune(tun state.Tunables) {
	h.Mesh.Tunables = tun
}

func (h *MeshHarness) Start(t *testing.T) {
	t.Helper()
	for _, lcfg := range h.Locals {
		ctx, cancel := context.WithCancelCause(context.Background())
		dispatch := make(chan func(s *state.State) error, state.DispatchQueueSize)

		logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
			Level:        slog.LevelWarn,
			CustomPrefix: string(lcfg.Id),
		}))

		s := &state.State{
			Modules: make(map[string]state.Module),
			Env: &state.Env{
				Context:         ctx,
				Cancel:          cancel,
				DispatchChannel: dispatch,
				MeshCfg:         h.Mesh,
				LocalCfg:        lcfg,
				Log:             logger,
				Clock:           clock.New(),
			},
		}
		h.States[lcfg.Id] = s

		require.NoError(t, core.InitModules(s, h.Net.Transport(lcfg.Id)))
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			_ = core.MainLoop(s, dispatch)
		}()
	}
}

func (h *MeshHarness) Stop() {
	for _, s := range h.States {
		s.Cancel(context.Canceled)
	}
	h.wg.Wait()
}

// Send enqueues a message on the given node and returns its payload id. The
// send error travels back as a value so a rejected send does not take the
// node's dispatch loop down with it.
func (h *MeshHarness) Send(t *testing.T, from, to state.NodeId, content []byte) state.PayloadId {
	t.Helper()
	p, err := h.TrySend(t, from, to, content)
	require.NoError(t, err)
	return p
}

func (h *MeshHarness) TrySend(t *testing.T, from, to state.NodeId, content []byte) (state.PayloadId, error) {
	t.Helper()
	res, err := h.States[from].DispatchWait(func(s *state.State) (any, error) {
		p, sendErr := core.Get[*core.Delivery](s).Send(s, to, content)
		return state.Pair[state.PayloadId, error]{V1: p, V2: sendErr}, nil
	})
	require.NoError(t, err)
	pair := res.(state.Pair[state.PayloadId, error])
	return pair.V1, pair.V2
}

// MessageStatus reads the persisted status of a message on one node.
func (h *MeshHarness) MessageStatus(t *testing.T, node state.NodeId, key state.MessageKey) (state.MessageStatus, bool) {
	t.Helper()
	res, err := h.States[node].DispatchWait(func(s *state.State) (any, error) {
		m, found, err := core.Get[*core.Storage](s).Store.GetMessage(key)
		if !found {
			return state.Pair[state.MessageStatus, bool]{}, err
		}
		return state.Pair[state.MessageStatus, bool]{V1: m.Status, V2: true}, err
	})
	require.NoError(t, err)
	p := res.(state.Pair[state.MessageStatus, bool])
	return p.V1, p.V2
}

// WaitForStatus polls until the message reaches the wanted status on node.
func (h *MeshHarness) WaitForStatus(t *testing.T, node state.NodeId, key state.MessageKey, want state.MessageStatus, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		got, found := h.MessageStatus(t, node, key)
		if found && got == want {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	got, found := h.MessageStatus(t, node, key)
	t.Fatalf("message on %s never reached %s (found=%v, status=%s)", node, want, found, got)
}

// Conversation reads the stored conversation between two nodes, as seen by node.
func (h *MeshHarness) Conversation(t *testing.T, node, a, b state.NodeId) []state.Message {
	t.Helper()
	res, err := h.States[node].DispatchWait(func(s *state.State) (any, error) {
		return core.Get[*core.Storage](s).Store.Conversation(a, b)
	})
	require.NoError(t, err)
	return res.([]state.Message)
}

// MarkRead marks a received message read on the recipient node.
func (h *MeshHarness) MarkRead(t *testing.T, node state.NodeId, key state.MessageKey) {
	t.Helper()
	res, err := h.States[node].DispatchWait(func(s *state.State) (any, error) {
		return core.Get[*core.Delivery](s).MarkRead(s, key), nil
	})
	require.NoError(t, err)
	if res != nil {
		require.NoError(t, res.(error))
	}
}
