package hostloop

import (
	"context"
	"sync"

	"github.com/tphakala/webaudio-go/internal/errors"
	"github.com/tphakala/webaudio-go/internal/logger"
)

// Future is the result of an asynchronous operation that settles exactly once
// on the host loop. Callbacks attached with Then always run on the loop.
type Future[T any] struct {
	loop *Loop
	done chan struct{}

	mu        sync.Mutex
	settled   bool
	value     T
	err       error
	callbacks []func(T, error)
}

// NewFuture returns an unsettled future bound to loop
func NewFuture[T any](loop *Loop) *Future[T] {
	return &Future[T]{
		loop: loop,
		done: make(chan struct{}),
	}
}

// Resolved returns a future that is already settled with (value, err)
func Resolved[T any](loop *Loop, value T, err error) *Future[T] {
	f := NewFuture[T](loop)
	f.Settle(value, err)
	return f
}

// Settle records the outcome and runs pending callbacks on the calling
// goroutine. Only the first call has any effect; it reports whether it won.
// Callers settle from the loop goroutine; SettleOnLoop does the hop for them.
func (f *Future[T]) Settle(value T, err error) bool {
	f.mu.Lock()
	if f.settled {
		f.mu.Unlock()
		return false
	}
	f.settled = true
	f.value = value
	f.err = err
	callbacks := f.callbacks
	f.callbacks = nil
	f.mu.Unlock()

	close(f.done)

	for _, cb := range callbacks {
		cb(value, err)
	}
	return true
}

// SettleOnLoop schedules settlement on the loop. If the loop is already
// terminated the future settles immediately with ErrLoopTerminated so that
// waiters are never stranded.
func (f *Future[T]) SettleOnLoop(value T, err error) {
	if submitErr := f.loop.SubmitInternal(func() { f.Settle(value, err) }); submitErr != nil {
		var zero T
		f.Settle(zero, submitErr)
	}
}

// Then registers fn to run on the loop once the future settles. Callbacks
// registered after settlement are queued to the loop rather than run inline.
func (f *Future[T]) Then(fn func(T, error)) {
	f.mu.Lock()
	if !f.settled {
		f.callbacks = append(f.callbacks, fn)
		f.mu.Unlock()
		return
	}
	value, err := f.value, f.err
	f.mu.Unlock()

	// Terminated loop: the callback is dropped, Await still observes the result
	_ = f.loop.SubmitInternal(func() { fn(value, err) })
}

// Await blocks until the future settles or ctx is done.
// It must not be called from the loop goroutine.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Done is closed when the future settles
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Settled reports whether the future has settled
func (f *Future[T]) Settled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settled
}

// Map derives a future whose value is fn applied to f's value on the loop.
// Errors from f pass through without calling fn.
func Map[T, U any](f *Future[T], fn func(T) (U, error)) *Future[U] {
	out := NewFuture[U](f.loop)
	f.Then(func(value T, err error) {
		if err != nil {
			var zero U
			out.Settle(zero, err)
			return
		}
		out.Settle(fn(value))
	})
	return out
}

// Spawner runs work off the loop. scheduler.Scheduler satisfies it.
type Spawner interface {
	Go(fn func(ctx context.Context)) error
}

// Promisify runs work on a worker from sp and settles the returned future on
// the loop with its result. A panic in work rejects the future with an
// engine error.
func Promisify[T any](loop *Loop, sp Spawner, work func(ctx context.Context) (T, error)) *Future[T] {
	f := NewFuture[T](loop)
	err := sp.Go(func(ctx context.Context) {
		defer func() {
			if r := recover(); r != nil {
				loop.log.Error("async work panicked", logger.Any("panic", r))
				var zero T
				f.SettleOnLoop(zero, errors.Newf("async work panicked: %v", r).
					Component(componentHostLoop).
					Category(errors.CategoryEngine).
					Build())
			}
		}()

		value, err := work(ctx)
		f.SettleOnLoop(value, err)
	})
	if err != nil {
		var zero T
		f.SettleOnLoop(zero, err)
	}
	return f
}
