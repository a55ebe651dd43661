package events

import (
	"sync"
	"sync/atomic"

	"github.com/tphakala/webaudio-go/internal/logger"
)

// Handler receives events. Handlers run on the emitting goroutine.
type Handler func(Event)

// DispatcherStats is a snapshot of dispatcher counters
type DispatcherStats struct {
	Emitted     uint64
	Delivered   uint64
	Panics      uint64
	Subscribers int
}

// Dispatcher is a subscriber list for one kind of engine notification.
// Subscribe and cancel may be called from any goroutine, including from a handler.
type Dispatcher struct {
	name string

	mu       sync.RWMutex
	handlers map[uint64]Handler
	order    []uint64
	nextID   uint64
	closed   bool

	emitted   atomic.Uint64
	delivered atomic.Uint64
	panics    atomic.Uint64
}

// NewDispatcher creates a dispatcher; name appears in logs
func NewDispatcher(name string) *Dispatcher {
	return &Dispatcher{
		name:     name,
		handlers: make(map[uint64]Handler),
	}
}

// Subscribe adds h and returns a function that removes it. The cancel function
// is idempotent. Subscribing to a closed dispatcher returns a no-op cancel.
func (d *Dispatcher) Subscribe(h Handler) (cancel func()) {
	if h == nil {
		return func() {}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return func() {}
	}

	d.nextID++
	id := d.nextID
	d.handlers[id] = h
	d.order = append(d.order, id)

	var once sync.Once
	return func() {
		once.Do(func() { d.remove(id) })
	}
}

func (d *Dispatcher) remove(id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.handlers[id]; !ok {
		return
	}
	delete(d.handlers, id)
	for i, v := range d.order {
		if v == id {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
}

// Emit delivers e to every current subscriber in subscription order.
// The subscriber list is copied under the lock and handlers run outside it.
func (d *Dispatcher) Emit(e Event) {
	d.emitted.Add(1)

	d.mu.RLock()
	if d.closed || len(d.order) == 0 {
		d.mu.RUnlock()
		return
	}
	handlers := make([]Handler, 0, len(d.order))
	for _, id := range d.order {
		handlers = append(handlers, d.handlers[id])
	}
	d.mu.RUnlock()

	for _, h := range handlers {
		d.deliver(h, e)
	}
}

func (d *Dispatcher) deliver(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			d.panics.Add(1)
			logger.Global().Module("events").Error("event handler panicked",
				logger.String("dispatcher", d.name),
				logger.String("event", e.String()),
				logger.Any("panic", r))
		}
	}()

	h(e)
	d.delivered.Add(1)
}

// Len returns the number of subscribers
func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.order)
}

// Close drops every subscriber. Later Emit and Subscribe calls are no-ops.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.closed = true
	d.handlers = make(map[uint64]Handler)
	d.order = nil
}

// Stats returns a snapshot of the dispatcher counters
func (d *Dispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		Emitted:     d.emitted.Load(),
		Delivered:   d.delivered.Load(),
		Panics:      d.panics.Load(),
		Subscribers: d.Len(),
	}
}
