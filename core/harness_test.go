package core

import (
	"fmt"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/weftnet/weft/protocol"
	"github.com/weftnet/weft/state"
)

type HarnessEvent struct {
	Message string
	Args    []any
}

func MakeEvent(msg string, args ...any) HarnessEvent {
	return HarnessEvent{
		Message: msg,
		Args:    args,
	}
}

// RouterHarness records every side effect the discovery state machine asks
// for, so scenario tests can assert on the outbound behaviour of one node.
type RouterHarness struct {
	actions []HarnessEvent
}

func (h *RouterHarness) FloodRequest(except state.NodeId, req protocol.RouteRequest) {
	h.actions = append(h.actions, MakeEvent("FLOOD_REQUEST", except, req))
}

func (h *RouterHarness) SendReply(neigh state.NodeId, rep protocol.RouteReply) {
	h.actions = append(h.actions, MakeEvent("SEND_REPLY", neigh, rep))
}

func (h *RouterHarness) SendFailure(neigh state.NodeId, fail protocol.RouteFailure) {
	h.actions = append(h.actions, MakeEvent("SEND_FAILURE", neigh, fail))
}

func (h *RouterHarness) RouteChanged(e state.RouteEntry) {
	h.actions = append(h.actions, MakeEvent("ROUTE_CHANGED", e))
}

func (h *RouterHarness) RouteDeleted(dest state.NodeId) {
	h.actions = append(h.actions, MakeEvent("ROUTE_DELETED", dest))
}

func (h *RouterHarness) RequestChanged(e state.RouteRequestEntry) {
	h.actions = append(h.actions, MakeEvent("REQUEST_CHANGED", e))
}

func (h *RouterHarness) RequestDeleted(c state.Correlation) {
	h.actions = append(h.actions, MakeEvent("REQUEST_DELETED", c))
}

func (h *RouterHarness) Log(event RouterEvent, desc string, args ...any) {
	x := make([]any, 0)
	x = append(x, event)
	x = append(x, desc)
	x = append(x, args...)
	h.actions = append(h.actions, MakeEvent("LOG", x...))
}

type HarnessEvents []HarnessEvent

func (h HarnessEvents) String() string {
	out := make([]string, 0)
	for _, action := range h {
		cur := action.Message
		for _, arg := range action.Args {
			cur += " " + fmt.Sprint(arg)
		}
		out = append(out, cur)
	}
	slices.Sort(out)
	return strings.Join(out, "\n")
}

// GetActions drains the recorded events, dropping logs.
func (h *RouterHarness) GetActions() HarnessEvents {
	x := make([]HarnessEvent, 0)
	for _, action := range h.actions {
		if action.Message != "LOG" {
			x = append(x, action)
		}
	}

	h.actions = make([]HarnessEvent, 0)
	return x
}

func (e HarnessEvents) contains(msg string, args ...any) bool {
	for _, event := range e {
		if event.Message == msg {
			if len(event.Args) >= len(args) {
				match := true
				for i, arg := range args {
					if !cmp.Equal(event.Args[i], arg, cmpopts.EquateComparable(time.Time{})) {
						match = false
						break
					}
				}
				if match {
					return true
				}
			}
		}
	}
	return false
}

func (e HarnessEvents) Count(msg string) int {
	n := 0
	for _, event := range e {
		if event.Message == msg {
			n++
		}
	}
	return n
}

func (e HarnessEvents) AssertContains(t *testing.T, msg string, args ...any) {
	t.Helper()
	if e.contains(msg, args...) {
		return
	}
	t.Fatal("Expected event not found: ", msg, " with args: ", args, " in ", e)
}

func (e HarnessEvents) AssertNotContains(t *testing.T, msg string, args ...any) {
	t.Helper()
	if e.contains(msg, args...) {
		t.Fatal("Unexpected event found: ", msg, " with args: ", args, " in ", e)
	}
}

func testTuning() Tuning {
	return Tuning{
		RouteTTL:         5 * time.Minute,
		DiscoveryTimeout: 10 * time.Second,
		MaxRequestHops:   8,
	}
}

func makeState(id state.NodeId, neighbours ...state.NodeId) *state.RouterState {
	rs := state.NewRouterState(id)
	rs.Neighbours = neighbours
	return rs
}

var t0 = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
