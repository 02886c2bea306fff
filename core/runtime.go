package core

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"path"
	"reflect"
	"runtime"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/encodeous/tint"
	slogmulti "github.com/samber/slog-multi"

	"github.com/weftnet/weft/link"
	"github.com/weftnet/weft/state"
)

// Start brings up a weft node and blocks until it stops. initState, when
// non-nil, receives the state before the main loop runs; tests use it to
// reach into a live node.
func Start(mcfg state.MeshCfg, lcfg state.LocalCfg, logLevel slog.Level, initState **state.State) error {
	ctx, cancel := context.WithCancelCause(context.Background())

	dispatch := make(chan func(s *state.State) error, state.DispatchQueueSize)

	handlers := make([]slog.Handler, 0)
	handlers = append(handlers,
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:        logLevel,
			AddSource:    false,
			CustomPrefix: string(lcfg.Id),
			ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
				if attr.Key == "time" {
					return slog.Attr{}
				}
				return attr
			},
		}))

	if lcfg.LogPath != "" {
		err := os.MkdirAll(path.Dir(lcfg.LogPath), 0700)
		if err != nil {
			return err
		}
		f, err := os.OpenFile(lcfg.LogPath, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0700)
		if err != nil {
			return err
		}
		handlers = append(handlers, slog.NewTextHandler(f, &slog.HandlerOptions{Level: logLevel}))
	}

	logger := slog.New(slogmulti.Fanout(handlers...))

	s := &state.State{
		Modules: make(map[string]state.Module),
		Env: &state.Env{
			Context:         ctx,
			Cancel:          cancel,
			DispatchChannel: dispatch,
			MeshCfg:         mcfg,
			LocalCfg:        lcfg,
			Log:             logger,
			Clock:           clock.New(),
		},
	}
	if initState != nil {
		*initState = s
	}

	s.Log.Info("init modules")
	if err := InitModules(s, link.NewTCP()); err != nil {
		return err
	}
	s.Log.Info("weft is up. To gracefully exit, send SIGINT or Ctrl+C.")

	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-c:
			s.Cancel(errors.New("received shutdown signal"))
		case <-ctx.Done():
		}
	}()

	return MainLoop(s, dispatch)
}

// InitModules registers and initializes the module set in dependency order:
// storage first so everything can recover through it, transport last so no
// frame arrives before the state machines exist.
func InitModules(s *state.State, transport link.Transport) error {
	modules := []state.Module{
		&Storage{},
		&Discovery{},
		&Delivery{},
		&Mesh{Transport: transport},
	}

	// register everything up front; Init bodies cross-reference modules
	for _, module := range modules {
		s.Modules[reflect.TypeOf(module).String()] = module
	}
	for _, module := range modules {
		if err := module.Init(s); err != nil {
			return err
		}
	}
	return nil
}

func MainLoop(s *state.State, dispatch <-chan func(*state.State) error) error {
	s.Log.Debug("started main loop")
	s.Started.Store(true)
	for {
		select {
		case fun := <-dispatch:
			if fun == nil {
				goto endLoop
			}
			start := time.Now()
			err := fun(s)
			if err != nil {
				s.Log.Error("error occurred during dispatch: ", "error", err)
				s.Cancel(err)
			}
			elapsed := time.Since(start)
			if elapsed > time.Millisecond*4 {
				s.Log.Warn("dispatch took a long time!", "fun", runtime.FuncForPC(reflect.ValueOf(fun).Pointer()).Name(), "elapsed", elapsed, "len", len(dispatch))
			}
		case <-s.Context.Done():
			goto endLoop
		}
	}
endLoop:
	s.Log.Info("stopped main loop", "reason", context.Cause(s.Context).Error())
	Stop(s)
	return nil
}

// Stop tears the node down, cleaning modules up in reverse init order.
func Stop(s *state.State) {
	if s.Stopping.Swap(true) {
		return // don't stop twice
	}
	s.Cancel(context.Canceled)
	if s.DispatchChannel != nil {
		close(s.DispatchChannel)
		s.DispatchChannel = nil
	}
	s.Log.Info("cleaning up modules")
	order := []string{
		reflect.TypeFor[*Mesh]().String(),
		reflect.TypeFor[*Delivery]().String(),
		reflect.TypeFor[*Discovery]().String(),
		reflect.TypeFor[*Storage]().String(),
	}
	for _, name := range order {
		module, ok := s.Modules[name]
		if !ok {
			continue
		}
		if err := module.Cleanup(s); err != nil {
			s.Log.Error("error occurred during Stop: ", "module", name, "error", err)
		}
	}
	s.Log.Info("stopped")
}
