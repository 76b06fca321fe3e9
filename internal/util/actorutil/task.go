package actorutil

import (
	"errors"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/primetalk/goio/io"
)

var ErrNilResult = errors.New("background task returned no result")

// Task runs blocking work off the actor's goroutine and delivers the outcome
// as a message. Failures and timeouts are turned into a message by the
// fallback so the receiving actor always gets an answer.
type Task[T any] struct {
	ctx      actor.Context
	fn       func() (*T, error)
	timeout  time.Duration
	fallback func(error) T
}

func NewTask[T any](ctx actor.Context, fn func() (*T, error)) *Task[T] {
	return &Task[T]{ctx: ctx, fn: fn}
}

// MapTask transforms the successful result of t.
func MapTask[T, R any](t *Task[T], mapFn func(*T) *R) *Task[R] {
	return &Task[R]{
		ctx: t.ctx,
		fn: func() (*R, error) {
			v, err := t.fn()
			if err != nil {
				return nil, err
			}
			return mapFn(v), nil
		},
		timeout: t.timeout,
	}
}

func (t *Task[T]) WithTimeout(timeout time.Duration) *Task[T] {
	t.timeout = timeout
	return t
}

func (t *Task[T]) Recover(fallback func(error) T) *Task[T] {
	t.fallback = fallback
	return t
}

// PipeTo runs the task in the background and sends its result to pid.
// Without a fallback a failed task sends nothing.
func (t *Task[T]) PipeTo(pid *actor.PID) {
	go func() {
		if v, ok := t.Run(); ok {
			t.ctx.Send(pid, v)
		}
	}()
}

// Run blocks until the task completes or times out.
func (t *Task[T]) Run() (T, bool) {
	program := io.Map(io.Eval(t.fn), func(v *T) T {
		if v == nil {
			panic(ErrNilResult)
		}
		return *v
	})
	if t.timeout > 0 {
		program = io.WithTimeout[T](t.timeout)(program)
	}
	result := io.RunSync(program)
	if result.Error == nil {
		return result.Value, true
	}
	if t.fallback != nil {
		return t.fallback(result.Error), true
	}
	var zero T
	return zero, false
}
