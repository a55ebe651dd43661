// Package hostloop implements the host control thread: a single goroutine that
// executes submitted tasks one at a time in FIFO order.
//
// All host-visible callbacks and all future settlements run on this goroutine,
// so code running inside a task never races with other tasks.
package hostloop

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/tphakala/webaudio-go/internal/logger"
)

// LoopState represents the lifecycle of a Loop.
//
//	StateAwake → StateRunning        [Run]
//	StateAwake → StateTerminated     [Shutdown before Run]
//	StateRunning → StateTerminating  [Shutdown or ctx cancellation]
//	StateTerminating → StateTerminated
type LoopState int32

const (
	StateAwake LoopState = iota
	StateRunning
	StateTerminating
	StateTerminated
)

// String returns the state name
func (s LoopState) String() string {
	switch s {
	case StateAwake:
		return "awake"
	case StateRunning:
		return "running"
	case StateTerminating:
		return "terminating"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("LoopState(%d)", int32(s))
	}
}

// Stats is a snapshot of loop counters
type Stats struct {
	Submitted uint64
	Executed  uint64
	Rejected  uint64
	Panics    uint64
	Pending   int
}

// Option configures a Loop
type Option func(*Loop)

// WithQueueLimit bounds the number of external tasks waiting to run.
// Zero means unbounded.
func WithQueueLimit(limit int) Option {
	return func(l *Loop) {
		if limit > 0 {
			l.queueLimit = limit
		}
	}
}

// WithLogger overrides the loop logger
func WithLogger(log logger.Logger) Option {
	return func(l *Loop) {
		if log != nil {
			l.log = log
		}
	}
}

// Loop is a single-goroutine FIFO task executor
type Loop struct {
	state atomic.Int32

	mu         sync.Mutex
	queue      []func()
	queueLimit int

	wake     chan struct{}
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	loopGoroutineID atomic.Uint64

	submitted atomic.Uint64
	executed  atomic.Uint64
	rejected  atomic.Uint64
	panics    atomic.Uint64

	log logger.Logger
}

// New creates a loop in StateAwake. Call Run to start executing tasks.
func New(opts ...Option) *Loop {
	l := &Loop{
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
		done: make(chan struct{}),
		log:  GetLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// State returns the current loop state
func (l *Loop) State() LoopState {
	return LoopState(l.state.Load())
}

// Done is closed once the loop reached StateTerminated
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Run executes tasks on the calling goroutine until Shutdown is called or ctx
// is cancelled. Queued tasks are drained before Run returns.
func (l *Loop) Run(ctx context.Context) error {
	if l.IsLoopThread() {
		return ErrReentrantRun
	}

	if !l.state.CompareAndSwap(int32(StateAwake), int32(StateRunning)) {
		if l.State() == StateTerminated {
			return ErrLoopTerminated
		}
		return ErrLoopAlreadyRunning
	}

	l.loopGoroutineID.Store(getGoroutineID())
	defer l.loopGoroutineID.Store(0)
	defer close(l.done)

	l.log.Debug("host loop started")

	for {
		for l.runBatch() {
		}

		select {
		case <-l.wake:
		case <-l.stop:
			l.shutdown()
			return nil
		case <-ctx.Done():
			l.state.CompareAndSwap(int32(StateRunning), int32(StateTerminating))
			l.shutdown()
			return ctx.Err()
		}
	}
}

// runBatch executes every task queued at the time of the call and reports
// whether anything ran.
func (l *Loop) runBatch() bool {
	l.mu.Lock()
	batch := l.queue
	l.queue = nil
	l.mu.Unlock()

	for _, task := range batch {
		l.safeExecute(task)
	}
	return len(batch) > 0
}

// shutdown drains the queue, including tasks enqueued by drained tasks through
// SubmitInternal, then marks the loop terminated.
func (l *Loop) shutdown() {
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.state.Store(int32(StateTerminated))
			l.mu.Unlock()
			break
		}
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()

		for _, task := range batch {
			l.safeExecute(task)
		}
	}

	l.log.Debug("host loop terminated",
		logger.Uint64("executed", l.executed.Load()),
		logger.Uint64("rejected", l.rejected.Load()))
}

// Shutdown stops accepting external tasks, drains the queue and waits for the
// loop to terminate. It is safe to call from multiple goroutines; calling it
// from a task on the loop starts termination without waiting.
func (l *Loop) Shutdown(ctx context.Context) error {
	l.stopOnce.Do(func() {
		l.mu.Lock()
		defer l.mu.Unlock()

		for {
			current := LoopState(l.state.Load())
			if current == StateTerminating || current == StateTerminated {
				return
			}
			if l.state.CompareAndSwap(int32(current), int32(StateTerminating)) {
				if current == StateAwake {
					// Run was never called, nothing to drain
					l.state.Store(int32(StateTerminated))
					close(l.done)
				}
				close(l.stop)
				return
			}
		}
	})

	if l.IsLoopThread() {
		return nil
	}

	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit enqueues fn for execution on the loop. It never blocks.
// Tasks run in submission order.
func (l *Loop) Submit(fn func()) error {
	return l.submit(fn, false)
}

// SubmitInternal enqueues fn like Submit but ignores the queue limit and is
// still accepted while the loop is draining. It is used to settle futures
// whose work was already in flight when shutdown began.
func (l *Loop) SubmitInternal(fn func()) error {
	return l.submit(fn, true)
}

func (l *Loop) submit(fn func(), internal bool) error {
	if fn == nil {
		return nil
	}

	l.mu.Lock()
	switch LoopState(l.state.Load()) {
	case StateTerminated:
		l.mu.Unlock()
		l.rejected.Add(1)
		return ErrLoopTerminated
	case StateTerminating:
		if !internal {
			l.mu.Unlock()
			l.rejected.Add(1)
			return ErrLoopTerminated
		}
	}
	if !internal && l.queueLimit > 0 && len(l.queue) >= l.queueLimit {
		l.mu.Unlock()
		l.rejected.Add(1)
		return ErrLoopOverloaded
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	l.submitted.Add(1)

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return nil
}

// IsLoopThread reports whether the caller is running on the loop goroutine
func (l *Loop) IsLoopThread() bool {
	loopID := l.loopGoroutineID.Load()
	if loopID == 0 {
		return false
	}
	return getGoroutineID() == loopID
}

// Stats returns a snapshot of the loop counters
func (l *Loop) Stats() Stats {
	l.mu.Lock()
	pending := len(l.queue)
	l.mu.Unlock()

	return Stats{
		Submitted: l.submitted.Load(),
		Executed:  l.executed.Load(),
		Rejected:  l.rejected.Load(),
		Panics:    l.panics.Load(),
		Pending:   pending,
	}
}

// safeExecute runs a task, keeping the loop alive if it panics
func (l *Loop) safeExecute(task func()) {
	defer func() {
		l.executed.Add(1)
		if r := recover(); r != nil {
			l.panics.Add(1)
			l.log.Error("host task panicked", logger.Any("panic", r))
		}
	}()

	task()
}

// WaitIdle blocks until every task submitted before the call has run.
// It must not be called from the loop goroutine.
func (l *Loop) WaitIdle(ctx context.Context) error {
	idle := make(chan struct{})
	if err := l.SubmitInternal(func() { close(idle) }); err != nil {
		return err
	}

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// getGoroutineID parses the current goroutine ID from the stack header.
// It is only used for re-entrancy detection.
func getGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] < '0' || buf[i] > '9' {
			break
		}
		id = id*10 + uint64(buf[i]-'0')
	}
	return id
}
