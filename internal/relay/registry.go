package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Handle is the writable end of a live peer connection. Send must not block
// past ctx; a dead or saturated connection returns an error instead.
type Handle interface {
	Send(ctx context.Context, data []byte) error
	Close() error
}

type connection struct {
	handle   Handle
	name     string
	failures int
}

// Registry maps connection ids to their live handles.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*connection
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*connection)}
}

// Register inserts a live connection. An id that is already present is
// rejected with ErrDuplicateConnection and the existing handle kept.
func (r *Registry) Register(id string, handle Handle) error {
	if id == "" {
		return errors.New("register: empty connection id")
	}
	if handle == nil {
		return fmt.Errorf("register %q: nil handle", id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[id]; exists {
		return fmt.Errorf("register %q: %w", id, ErrDuplicateConnection)
	}
	r.conns[id] = &connection{handle: handle}
	return nil
}

// Unregister removes the connection and returns its handle, or nil if the id
// was not present.
func (r *Registry) Unregister(id string) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[id]
	if !ok {
		return nil
	}
	delete(r.conns, id)
	return c.handle
}

// Contains reports whether id is registered.
func (r *Registry) Contains(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[id]
	return ok
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// SetName records the display name announced by the connection.
func (r *Registry) SetName(id, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.conns[id]; ok && name != "" {
		c.name = name
	}
}

// Name returns the display name last recorded for id.
func (r *Registry) Name(id string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.conns[id]; ok {
		return c.name
	}
	return ""
}

// Send pushes data to the connection. Failures come back as *DeliveryError
// and never panic; the caller decides whether to continue.
func (r *Registry) Send(ctx context.Context, id string, data []byte) error {
	r.mu.RLock()
	c, ok := r.conns[id]
	r.mu.RUnlock()

	if !ok {
		return &DeliveryError{ConnectionID: id, Err: ErrUnknownConnection}
	}
	if err := c.handle.Send(ctx, data); err != nil {
		return &DeliveryError{ConnectionID: id, Err: err}
	}
	return nil
}

// recordDelivery updates the consecutive failure counter for id and returns
// the new value.
func (r *Registry) recordDelivery(id string, ok bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, exists := r.conns[id]
	if !exists {
		return 0
	}
	if ok {
		c.failures = 0
	} else {
		c.failures++
	}
	return c.failures
}

// drain removes and returns every handle.
func (r *Registry) drain() map[string]Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	handles := make(map[string]Handle, len(r.conns))
	for id, c := range r.conns {
		handles[id] = c.handle
	}
	r.conns = make(map[string]*connection)
	return handles
}
