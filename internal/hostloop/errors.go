package hostloop

import "github.com/tphakala/webaudio-go/internal/errors"

const componentHostLoop = "hostloop"

// Sentinel errors returned by the loop. Compare with errors.Is.
var (
	// ErrLoopTerminated is returned when work is submitted to a loop that is shutting down or stopped.
	ErrLoopTerminated = errors.New(errors.NewStd("host loop terminated")).
				Component(componentHostLoop).
				Category(errors.CategoryDelivery).
				Build()

	// ErrLoopOverloaded is returned when the pending task queue reached its limit.
	ErrLoopOverloaded = errors.New(errors.NewStd("host loop queue full")).
				Component(componentHostLoop).
				Category(errors.CategoryLimit).
				Context("resource", "task_queue").
				Build()

	// ErrLoopAlreadyRunning is returned by Run when another goroutine already runs the loop.
	ErrLoopAlreadyRunning = errors.New(errors.NewStd("host loop already running")).
				Component(componentHostLoop).
				Category(errors.CategoryState).
				Build()

	// ErrReentrantRun is returned by Run when called from a task on the loop itself.
	ErrReentrantRun = errors.New(errors.NewStd("host loop Run called from the loop goroutine")).
			Component(componentHostLoop).
			Category(errors.CategoryState).
			Build()
)
