// Package callback implements cross-thread callback handles: invocation targets
// that can be called from any goroutine and deliver on the host loop.
//
// A handle is Active until revoked. Revocation stops new invocations at once;
// the handle is released when the last invocation accepted before revocation
// has finished running on the host loop. After release nothing is delivered.
package callback

import (
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"github.com/tphakala/webaudio-go/internal/errors"
	"github.com/tphakala/webaudio-go/internal/events"
	"github.com/tphakala/webaudio-go/internal/hostloop"
	"github.com/tphakala/webaudio-go/internal/logger"
)

// State is the lifecycle state of a handle
type State int32

const (
	StateActive State = iota
	StateRevoked
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateRevoked:
		return "revoked"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Drop reasons reported to observers
const (
	DropRevoked  = "revoked"
	DropRejected = "rejected"
)

// Observer receives delivery outcomes, typically for metrics
type Observer interface {
	CallbackDelivered()
	CallbackDropped(reason string)
}

// Func is the host-side callback
type Func func(events.Event)

// Option configures a handle
type Option func(*core)

// WithObserver reports delivery outcomes to o
func WithObserver(o Observer) Option {
	return func(c *core) {
		c.observer = o
	}
}

// WithLogger overrides the handle logger
func WithLogger(log logger.Logger) Option {
	return func(c *core) {
		if log != nil {
			c.log = log
		}
	}
}

// WithDropLogRate limits how often dropped deliveries are logged.
// A non-positive rate disables drop logging.
func WithDropLogRate(perSecond float64, burst int) Option {
	return func(c *core) {
		if perSecond <= 0 {
			c.dropLog = nil
			return
		}
		c.dropLog = rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
	}
}

// WithOnRelease registers fn to run once the handle is released
func WithOnRelease(fn func()) Option {
	return func(c *core) {
		if fn != nil {
			c.onRelease = append(c.onRelease, fn)
		}
	}
}

// core is the state shared by a handle and all of its clones
type core struct {
	loop *hostloop.Loop
	fn   Func

	mu        sync.Mutex
	revoked   bool
	pending   int
	released  bool
	onRelease []func()

	releasedCh chan struct{}

	observer Observer
	dropLog  *rate.Limiter
	log      logger.Logger
}

// Handle is a cloneable invocation target for a host callback
type Handle struct {
	c *core
}

// New wraps fn in an Active handle delivering on loop
func New(loop *hostloop.Loop, fn Func, opts ...Option) *Handle {
	c := &core{
		loop:       loop,
		fn:         fn,
		releasedCh: make(chan struct{}),
		dropLog:    rate.NewLimiter(rate.Limit(1), 5),
		log:        GetLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return &Handle{c: c}
}

// Clone returns a handle sharing this handle's lifecycle
func (h *Handle) Clone() *Handle {
	return &Handle{c: h.c}
}

// Invoke queues delivery of e on the host loop and returns without waiting.
// Deliveries from one handle run in invocation order.
func (h *Handle) Invoke(e events.Event) error {
	c := h.c

	c.mu.Lock()
	if c.revoked {
		c.mu.Unlock()
		c.dropped(DropRevoked, e, nil)
		return ErrRevoked
	}
	c.pending++
	c.mu.Unlock()

	err := c.loop.Submit(func() {
		defer c.finish()
		c.fn(e)
		if c.observer != nil {
			c.observer.CallbackDelivered()
		}
	})
	if err != nil {
		c.finish()
		c.dropped(DropRejected, e, err)
		return errors.New(err).
			Component(componentCallback).
			Category(errors.CategoryDelivery).
			Context("event", string(e.Type)).
			Build()
	}
	return nil
}

// Revoke disables further invocations. It never blocks; the release happens
// once in-flight deliveries finished. A second call returns ErrAlreadyRevoked.
func (h *Handle) Revoke() error {
	c := h.c

	c.mu.Lock()
	if c.revoked {
		c.mu.Unlock()
		return ErrAlreadyRevoked
	}
	c.revoked = true
	release := c.pending == 0
	c.mu.Unlock()

	if release {
		c.release()
	}
	return nil
}

// State returns the handle state
func (h *Handle) State() State {
	if h.IsRevoked() {
		return StateRevoked
	}
	return StateActive
}

// IsRevoked reports whether Revoke was called on this handle or a clone
func (h *Handle) IsRevoked() bool {
	h.c.mu.Lock()
	defer h.c.mu.Unlock()
	return h.c.revoked
}

// Pending returns the number of accepted deliveries that have not run yet
func (h *Handle) Pending() int {
	h.c.mu.Lock()
	defer h.c.mu.Unlock()
	return h.c.pending
}

// Released is closed when the handle is revoked and has no deliveries in flight
func (h *Handle) Released() <-chan struct{} {
	return h.c.releasedCh
}

// OnRelease registers fn to run on release. If the handle is already
// released fn runs immediately on the calling goroutine.
func (h *Handle) OnRelease(fn func()) {
	if fn == nil {
		return
	}
	c := h.c

	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		fn()
		return
	}
	c.onRelease = append(c.onRelease, fn)
	c.mu.Unlock()
}

// finish acknowledges one delivery
func (c *core) finish() {
	c.mu.Lock()
	c.pending--
	release := c.revoked && c.pending == 0
	c.mu.Unlock()

	if release {
		c.release()
	}
}

func (c *core) release() {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return
	}
	c.released = true
	hooks := c.onRelease
	c.onRelease = nil
	c.mu.Unlock()

	close(c.releasedCh)
	for _, fn := range hooks {
		fn()
	}
}

func (c *core) dropped(reason string, e events.Event, err error) {
	if c.observer != nil {
		c.observer.CallbackDropped(reason)
	}
	if c.dropLog == nil || !c.dropLog.Allow() {
		return
	}
	fields := []logger.Field{
		logger.String("reason", reason),
		logger.String("event", e.String()),
	}
	if err != nil {
		fields = append(fields, logger.Error(err))
	}
	c.log.Debug("callback delivery dropped", fields...)
}
