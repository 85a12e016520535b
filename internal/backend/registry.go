package backend

import (
	"fmt"
	"sync"
)

// Registry holds handles for one backend kind, keyed by integration id.
// The native and plugin registries are both instances of this type;
// MCP handles are produced by the connection manager adapter instead.
type Registry struct {
	mu      sync.RWMutex
	kind    Kind
	handles map[string]Handle
}

// NewRegistry creates an empty handle registry for the given kind.
func NewRegistry(kind Kind) *Registry {
	return &Registry{
		kind:    kind,
		handles: make(map[string]Handle),
	}
}

// Register adds a handle for an integration.
// Registering a second handle for the same integration is an error:
// same-kind candidates are only meaningful for MCP servers, which are
// managed by the connection manager, not this registry.
func (r *Registry) Register(h Handle) error {
	if h == nil {
		return fmt.Errorf("handle is required")
	}
	if h.Kind() != r.kind {
		return fmt.Errorf("handle kind %s does not match registry kind %s", h.Kind(), r.kind)
	}
	if h.Integration() == "" {
		return fmt.Errorf("handle integration is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handles[h.Integration()]; exists {
		return fmt.Errorf("%s handle already registered for integration %q", r.kind, h.Integration())
	}

	r.handles[h.Integration()] = h
	return nil
}

// Unregister removes the handle for an integration, if present.
func (r *Registry) Unregister(integrationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handles, integrationID)
}

// Get returns the handle for an integration, or nil if none is registered.
func (r *Registry) Get(integrationID string) Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handles[integrationID]
}

// Integrations returns the integration ids with registered handles.
func (r *Registry) Integrations() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.handles))
	for id := range r.handles {
		ids = append(ids, id)
	}
	return ids
}
