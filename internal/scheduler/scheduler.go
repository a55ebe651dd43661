// Package scheduler runs render-control work on worker goroutines so that the
// host loop never blocks on the engine.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/tphakala/webaudio-go/internal/errors"
	"github.com/tphakala/webaudio-go/internal/logger"
)

// ErrSchedulerClosed is returned by Go after Close
var ErrSchedulerClosed = errors.New(errors.NewStd("scheduler closed")).
	Component("scheduler").
	Category(errors.CategoryState).
	Build()

// Scheduler starts one goroutine per task and tracks them until Close.
//
// Tasks are not bounded by a worker count: a resume request must be able to
// run while a render task is parked at a suspend point.
type Scheduler struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup

	active   atomic.Int64
	started  atomic.Uint64
	panicked atomic.Uint64

	log logger.Logger
}

// New creates a scheduler. The context passed to tasks is cancelled by Close.
func New() *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		ctx:    ctx,
		cancel: cancel,
		log:    logger.Global().Module("scheduler"),
	}
}

// Go runs fn on a new goroutine
func (s *Scheduler) Go(fn func(ctx context.Context)) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSchedulerClosed
	}
	s.wg.Add(1)
	s.mu.Unlock()

	s.started.Add(1)
	s.active.Add(1)

	go func() {
		defer s.wg.Done()
		defer s.active.Add(-1)
		defer func() {
			if r := recover(); r != nil {
				s.panicked.Add(1)
				s.log.Error("scheduled task panicked", logger.Any("panic", r))
			}
		}()

		fn(s.ctx)
	}()

	return nil
}

// Active returns the number of running tasks
func (s *Scheduler) Active() int {
	return int(s.active.Load())
}

// Started returns the total number of tasks started
func (s *Scheduler) Started() uint64 {
	return s.started.Load()
}

// Close rejects new tasks, cancels the task context and waits for running
// tasks to return or for ctx to expire.
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
