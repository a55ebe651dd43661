// Package offline implements the offline rendering context controller.
//
// A Controller owns one rendering engine and one listener registry. Engine
// notifications are delivered to host callbacks on the host loop through
// revocable callback handles. The registry is drained when rendering
// completes, when Close is called, or when the controller is garbage
// collected; afterwards no event reaches the host.
package offline

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/tphakala/webaudio-go/internal/callback"
	"github.com/tphakala/webaudio-go/internal/engine"
	"github.com/tphakala/webaudio-go/internal/errors"
	"github.com/tphakala/webaudio-go/internal/events"
	"github.com/tphakala/webaudio-go/internal/hostloop"
	"github.com/tphakala/webaudio-go/internal/logger"
	"github.com/tphakala/webaudio-go/internal/observability/metrics"
	"github.com/tphakala/webaudio-go/internal/registry"
	"github.com/tphakala/webaudio-go/internal/scheduler"
)

// State is the controller lifecycle state
type State int32

const (
	StateConstructed State = iota
	StateActive
	StateRendering
	StateClosed
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateConstructed:
		return "constructed"
	case StateActive:
		return "active"
	case StateRendering:
		return "rendering"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Drain reasons
const (
	reasonClose    = "close"
	reasonComplete = "complete"
	reasonCollect  = "collected"
)

// Control operation names used in metrics and logs
const (
	opStartRendering = "start_rendering"
	opSuspend        = "suspend"
	opResume         = "resume"
)

// Controller is an offline rendering context
type Controller struct {
	core        *core
	destination Destination
}

// core holds everything the garbage collection cleanup needs. It must never
// reference the Controller.
type core struct {
	loop       *hostloop.Loop
	spawner    hostloop.Spawner
	engine     engine.Engine
	registry   *registry.Registry
	marshaller Marshaller
	metrics    *metrics.BridgeMetrics
	handleOpts []callback.Option

	// lifetime is cancelled by Close and collection. Control waits that
	// depend on a render that may never start are bound to it.
	lifetime context.Context
	cancel   context.CancelFunc

	mu          sync.Mutex
	state       State
	targetBound bool

	log logger.Logger
}

// New creates a controller for a context of numberOfChannels channels, length
// frames and sampleRate Hz. Engine construction errors are returned unchanged.
func New(loop *hostloop.Loop, numberOfChannels, length int, sampleRate float32, opts ...Option) (*Controller, error) {
	o := options{log: GetLogger(), dropLogRate: 1, dropLogBurst: 5}
	for _, opt := range opts {
		opt(&o)
	}
	if o.engineFactory == nil {
		engineOpts := o.engineOptions
		o.engineFactory = func(n, l int, sr float32) (engine.Engine, error) {
			return engine.NewOfflineEngine(n, l, sr, engineOpts...)
		}
	}
	if o.destinationFactory == nil {
		o.destinationFactory = defaultDestination
	}
	if o.spawner == nil {
		o.spawner = scheduler.New()
	}

	eng, err := o.engineFactory(numberOfChannels, length, sampleRate)
	if err != nil {
		return nil, err
	}

	lifetime, cancel := context.WithCancel(context.Background())
	c := &core{
		lifetime:   lifetime,
		cancel:     cancel,
		loop:       loop,
		spawner:    o.spawner,
		engine:     eng,
		marshaller: Marshaller{MaxBytes: o.maxBufferBytes},
		metrics:    o.metrics,
		state:      StateConstructed,
		log:        o.log,
	}

	var regOpts []registry.Option
	c.handleOpts = []callback.Option{callback.WithDropLogRate(o.dropLogRate, o.dropLogBurst)}
	if o.metrics != nil {
		regOpts = append(regOpts, registry.WithObserver(o.metrics))
		c.handleOpts = append(c.handleOpts, callback.WithObserver(o.metrics))
	}
	c.registry = registry.New(regOpts...)

	ctrl := &Controller{core: c}

	dest, err := o.destinationFactory(ctrl)
	if err != nil {
		cancel()
		return nil, errors.New(err).
			Component(componentOffline).
			Category(errors.CategoryConstruction).
			Context("operation", "create_destination").
			Build()
	}
	ctrl.destination = dest

	c.bindCompletion()

	c.mu.Lock()
	c.state = StateActive
	c.mu.Unlock()

	runtime.AddCleanup(ctrl, func(c *core) { c.drain(reasonCollect) }, c)

	c.log.Debug("offline context created",
		logger.Int("channels", numberOfChannels),
		logger.Int("length", length),
		logger.Float32("sample_rate", sampleRate))

	return ctrl, nil
}

// bindCompletion registers the completion listener. It is an ordinary registry
// entry, so draining also cancels the engine subscription.
func (c *core) bindCompletion() {
	h := callback.New(c.loop, func(events.Event) { c.onRenderComplete() }, c.handleOpts...)
	c.registry.Register(h)
	cancel := c.engine.OnComplete(func(e events.Event) {
		if err := h.Invoke(e); err != nil && !errors.Is(err, callback.ErrRevoked) {
			// The host loop is gone, tear down from the engine side
			c.onRenderComplete()
		}
	})
	h.OnRelease(cancel)
}

// onRenderComplete drains the registry after the engine finished rendering
func (c *core) onRenderComplete() {
	c.drain(reasonComplete)
}

// drain revokes every listener and moves the controller to StateClosed.
// Only the first call has any effect.
func (c *core) drain(reason string) {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = StateClosed
	c.mu.Unlock()

	if reason != reasonComplete {
		c.cancel()
	}

	n := c.registry.DrainAll()
	c.log.Debug("offline context closed",
		logger.String("reason", reason),
		logger.Int("revoked", n))
}

// Length returns the context length in sample frames
func (ctrl *Controller) Length() int {
	return ctrl.core.engine.Length()
}

// SampleRate returns the sample rate in Hz
func (ctrl *Controller) SampleRate() float32 {
	return ctrl.core.engine.SampleRate()
}

// NumberOfChannels returns the output channel count
func (ctrl *Controller) NumberOfChannels() int {
	return ctrl.core.engine.NumberOfChannels()
}

// CurrentTime returns the render position in seconds
func (ctrl *Controller) CurrentTime() float64 {
	e := ctrl.core.engine
	return float64(e.CurrentFrame()) / float64(e.SampleRate())
}

// State returns the lifecycle state
func (ctrl *Controller) State() State {
	ctrl.core.mu.Lock()
	defer ctrl.core.mu.Unlock()
	return ctrl.core.state
}

// RenderState returns the engine rendering state
func (ctrl *Controller) RenderState() events.RenderState {
	return ctrl.core.engine.State()
}

// ListenerCount returns the number of registered handles, including the
// internal completion listener
func (ctrl *Controller) ListenerCount() int {
	return ctrl.core.registry.Len()
}

// Destination returns the destination object
func (ctrl *Controller) Destination() Destination {
	return ctrl.destination
}

// StartRendering renders the context on a worker. The future settles on the
// host loop with the marshalled result, after the registry has been drained.
func (ctrl *Controller) StartRendering() *hostloop.Future[*HostBuffer] {
	c := ctrl.core

	c.mu.Lock()
	prev := c.state
	if c.state == StateActive {
		c.state = StateRendering
	}
	c.mu.Unlock()

	started := time.Now()
	out := hostloop.NewFuture[*HostBuffer](c.loop)

	rendered := hostloop.Promisify(c.loop, c.spawner, func(ctx context.Context) (*engine.AudioBuffer, error) {
		return c.engine.StartRendering(ctx)
	})
	rendered.Then(func(buf *engine.AudioBuffer, err error) {
		elapsed := time.Since(started)
		if err != nil {
			c.renderFailed(prev)
			c.recordRender(metrics.StatusError, elapsed, 0)
			c.log.Warn("rendering failed", logger.Error(err), logger.Duration("elapsed", elapsed))
			out.Settle(nil, err)
			return
		}

		hb, err := c.marshaller.Marshal(buf)
		if err != nil {
			c.recordRender(metrics.StatusError, elapsed, 0)
			c.log.Warn("render result could not be marshalled", logger.Error(err))
			out.Settle(nil, err)
			return
		}

		c.recordRender(metrics.StatusSuccess, elapsed, hb.Length())
		c.log.Info("rendering finished",
			logger.Int("frames", hb.Length()),
			logger.Int("channels", hb.NumberOfChannels()),
			logger.Duration("elapsed", elapsed))
		out.Settle(hb, nil)
	})

	return out
}

// renderFailed restores the state held before a failed StartRendering
func (c *core) renderFailed(prev State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateRendering {
		c.state = prev
	}
}

func (c *core) recordRender(status string, elapsed time.Duration, frames int) {
	if c.metrics != nil {
		c.metrics.RecordRender(status, elapsed.Seconds(), frames)
	}
}

// Suspend schedules a suspend point at atTime seconds. The future settles once
// the engine scheduled it, or once rendering finished when atTime is at or
// beyond the context duration. A wait for completion is cancelled by Close.
func (ctrl *Controller) Suspend(atTime float64) *hostloop.Future[struct{}] {
	c := ctrl.core
	return c.control(opSuspend, func(ctx context.Context) error {
		return c.engine.Suspend(ctx, atTime)
	})
}

// Resume continues rendering after a suspend point. It settles once the engine
// resumed; it is a no-op when rendering is not suspended.
func (ctrl *Controller) Resume() *hostloop.Future[struct{}] {
	c := ctrl.core
	return c.control(opResume, c.engine.Resume)
}

func (c *core) control(op string, fn func(ctx context.Context) error) *hostloop.Future[struct{}] {
	return hostloop.Promisify(c.loop, c.spawner, func(ctx context.Context) (struct{}, error) {
		ctx, stop := context.WithCancel(ctx)
		defer stop()
		unbind := context.AfterFunc(c.lifetime, stop)
		defer unbind()

		err := fn(ctx)
		status := metrics.StatusSuccess
		if err != nil {
			status = metrics.StatusError
			c.log.Debug("render control failed", logger.String("operation", op), logger.Error(err))
		}
		if c.metrics != nil {
			c.metrics.RecordControl(op, status)
		}
		return struct{}{}, err
	})
}

// SubscribeStateChange delivers engine state changes to fn on the host loop
// until the returned id is unregistered or the controller is closed.
func (ctrl *Controller) SubscribeStateChange(fn callback.Func) (registry.ID, error) {
	c := ctrl.core
	if fn == nil {
		return registry.ID{}, errors.ValidationError("state change callback must not be nil")
	}

	h := callback.New(c.loop, fn, c.handleOpts...)

	// Registration happens under c.mu so a concurrent drain either sees the
	// entry or the subscription is rejected.
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return registry.ID{}, ErrClosed
	}
	id := c.registry.Register(h)
	c.mu.Unlock()

	cancel := c.engine.OnStateChange(func(e events.Event) {
		_ = h.Invoke(e)
	})
	h.OnRelease(cancel)

	return id, nil
}

// BindEventTarget subscribes the host dispatch function to state changes.
// It may be called once per controller.
func (ctrl *Controller) BindEventTarget(dispatch callback.Func) error {
	c := ctrl.core

	c.mu.Lock()
	if c.targetBound {
		c.mu.Unlock()
		return ErrEventTargetBound
	}
	c.targetBound = true
	c.mu.Unlock()

	if _, err := ctrl.SubscribeStateChange(dispatch); err != nil {
		c.mu.Lock()
		c.targetBound = false
		c.mu.Unlock()
		return err
	}
	return nil
}

// Unregister revokes the listener registered under id. An unknown id is a no-op.
func (ctrl *Controller) Unregister(id registry.ID) bool {
	return ctrl.core.registry.Unregister(id)
}

// Close revokes every listener and cancels pending suspend and resume waits.
// Render control keeps delegating to the engine. Close is idempotent.
func (ctrl *Controller) Close() error {
	ctrl.core.drain(reasonClose)
	return nil
}
