// Package registry owns the mapping from registration id to callback handle
// for one rendering context.
package registry

import (
	"sync"

	"github.com/google/uuid"

	"github.com/tphakala/webaudio-go/internal/callback"
	"github.com/tphakala/webaudio-go/internal/logger"
)

// ID identifies a registration
type ID = uuid.UUID

// Revocation reasons reported to observers
const (
	ReasonUnregister = "unregister"
	ReasonDrain      = "drain"
)

// Observer receives registry changes, typically for metrics
type Observer interface {
	ListenerRegistered(active int)
	ListenerRevoked(reason string, active int)
}

// Option configures a Registry
type Option func(*Registry)

// WithObserver reports registry changes to o
func WithObserver(o Observer) Option {
	return func(r *Registry) {
		r.observer = o
	}
}

// WithIDGenerator replaces the uuid v4 generator
func WithIDGenerator(gen func() ID) Option {
	return func(r *Registry) {
		if gen != nil {
			r.newID = gen
		}
	}
}

// Registry maps ids to Active handles. Every handle removed from the map is
// revoked exactly once, under the same lock as the removal.
type Registry struct {
	mu       sync.Mutex
	handlers map[ID]*callback.Handle

	newID    func() ID
	observer Observer
	log      logger.Logger
}

// New creates an empty registry
func New(opts ...Option) *Registry {
	r := &Registry{
		handlers: make(map[ID]*callback.Handle),
		newID:    uuid.New,
		log:      logger.Global().Module("registry"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register stores h under a fresh id
func (r *Registry) Register(h *callback.Handle) ID {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.newID()
	for {
		if _, taken := r.handlers[id]; !taken {
			break
		}
		id = r.newID()
	}
	r.handlers[id] = h
	active := len(r.handlers)

	if r.observer != nil {
		r.observer.ListenerRegistered(active)
	}
	r.log.Trace("listener registered",
		logger.String("id", id.String()),
		logger.Int("active", active))

	return id
}

// Unregister removes and revokes the handle for id. It reports whether an
// entry was present; an unknown id is a no-op.
func (r *Registry) Unregister(id ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.handlers[id]
	if !ok {
		return false
	}
	delete(r.handlers, id)
	r.revokeLocked(id, h, ReasonUnregister)
	return true
}

// DrainAll removes and revokes every handle and returns how many were revoked.
// Draining an empty registry is a no-op.
func (r *Registry) DrainAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.handlers)
	for id, h := range r.handlers {
		delete(r.handlers, id)
		r.revokeLocked(id, h, ReasonDrain)
	}

	if n > 0 {
		r.log.Debug("registry drained", logger.Int("revoked", n))
	}
	return n
}

// revokeLocked must be called with r.mu held after the entry was removed
func (r *Registry) revokeLocked(id ID, h *callback.Handle, reason string) {
	if err := h.Revoke(); err != nil {
		// The handle was revoked outside the registry
		r.log.Warn("registered handle was already revoked",
			logger.String("id", id.String()),
			logger.String("reason", reason),
			logger.Error(err))
	}
	if r.observer != nil {
		r.observer.ListenerRevoked(reason, len(r.handlers))
	}
}

// Len returns the number of registered handles
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handlers)
}

// Contains reports whether id is registered
func (r *Registry) Contains(id ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.handlers[id]
	return ok
}
