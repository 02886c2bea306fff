package state

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
)

type Module interface {
	Init(s *State) error
	Cleanup(s *State) error
}

// State access must be done only on the dispatch Goroutine
type State struct {
	*Env
	Modules     map[string]Module
	RouterState *RouterState
	Started     atomic.Bool
	Stopping    atomic.Bool
}

// Env can be read from any Goroutine
type Env struct {
	DispatchChannel chan<- func(s *State) error
	MeshCfg
	LocalCfg
	Context context.Context
	Cancel  context.CancelCauseFunc
	Log     *slog.Logger
	Clock   clock.Clock
}

// Now returns the injected clock's current time. All staleness and retry
// decisions go through this so tests can drive time with a mock clock.
func (e *Env) Now() time.Time {
	return e.Clock.Now()
}
