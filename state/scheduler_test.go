package state

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
)

func testEnv() (*Env, chan func(*State) error, *clock.Mock, context.CancelCauseFunc) {
	ctx, cancel := context.WithCancelCause(context.Background())
	dispatch := make(chan func(s *State) error, DispatchQueueSize)
	mock := clock.NewMock()
	env := &Env{
		DispatchChannel: dispatch,
		Context:         ctx,
		Cancel:          cancel,
		Log:             slog.Default(),
		Clock:           mock,
	}
	return env, dispatch, mock, cancel
}

func recvTask(t *testing.T, dispatch chan func(s *State) error) func(s *State) error {
	t.Helper()
	select {
	case fun := <-dispatch:
		return fun
	case <-time.After(2 * time.Second):
		t.Fatal("no task dispatched")
		return nil
	}
}

func TestScheduleTaskFiresAfterDelay(t *testing.T) {
	env, dispatch, mock, cancel := testEnv()
	defer cancel(nil)

	ran := false
	env.ScheduleTask(func(s *State) error {
		ran = true
		return nil
	}, 5*time.Second)

	select {
	case <-dispatch:
		t.Fatal("task ran before its delay elapsed")
	default:
	}

	mock.Add(5 * time.Second)
	fun := recvTask(t, dispatch)
	assert.NoError(t, fun(nil))
	assert.True(t, ran)
}

func TestRepeatTaskTicksUntilCancelled(t *testing.T) {
	env, dispatch, mock, cancel := testEnv()

	env.RepeatTask(func(s *State) error { return nil }, time.Second)
	// let the ticker goroutine register with the mock clock
	time.Sleep(10 * time.Millisecond)

	mock.Add(time.Second)
	recvTask(t, dispatch)
	mock.Add(time.Second)
	recvTask(t, dispatch)

	cancel(nil)
	time.Sleep(10 * time.Millisecond)
	mock.Add(time.Second)
	select {
	case <-dispatch:
		t.Fatal("task dispatched after cancellation")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDispatchWaitReturnsResult(t *testing.T) {
	env, dispatch, _, cancel := testEnv()
	defer cancel(nil)

	s := &State{Env: env}
	go func() {
		for fun := range dispatch {
			_ = fun(s)
		}
	}()

	res, err := env.DispatchWait(func(s *State) (any, error) {
		return 42, nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 42, res)
}
