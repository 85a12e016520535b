package capability

import (
	"fmt"
	"sort"

	"github.com/GeoRetina/arion/pkg/errors"
)

// registryKey identifies one (integration, capability) pair.
type registryKey struct {
	integration string
	capability  string
}

// Registry is the immutable capability lookup table.
// Lookup is O(1); construction validates manifests and rejects
// duplicates and malformed entries.
type Registry struct {
	entries map[registryKey]Registration
	ordered []Registration
}

// NewRegistry builds a registry from connector manifests.
func NewRegistry(registrations []Registration) (*Registry, error) {
	r := &Registry{
		entries: make(map[registryKey]Registration, len(registrations)),
	}

	for _, reg := range registrations {
		if reg.IntegrationID == "" {
			return nil, &errors.ValidationError{
				Field:   "integration_id",
				Message: "integration id is required",
			}
		}
		if reg.Capability == "" {
			return nil, &errors.ValidationError{
				Field:   "capability",
				Message: fmt.Sprintf("capability name is required for integration %q", reg.IntegrationID),
			}
		}
		if len(reg.Backends) == 0 {
			return nil, &errors.ValidationError{
				Field:   "backends",
				Message: fmt.Sprintf("%s declares no backends", reg.Name()),
			}
		}
		for _, kind := range reg.Backends {
			if !kind.Valid() {
				return nil, &errors.ValidationError{
					Field:   "backends",
					Message: fmt.Sprintf("%s declares unknown backend kind %q", reg.Name(), kind),
				}
			}
		}
		if reg.Sensitivity == "" {
			reg.Sensitivity = SensitivityNormal
		}
		if reg.Sensitivity != SensitivityNormal && reg.Sensitivity != SensitivitySensitive {
			return nil, &errors.ValidationError{
				Field:   "sensitivity",
				Message: fmt.Sprintf("%s declares unknown sensitivity %q", reg.Name(), reg.Sensitivity),
			}
		}

		key := registryKey{reg.IntegrationID, reg.Capability}
		if _, exists := r.entries[key]; exists {
			return nil, &errors.ValidationError{
				Field:   "capability",
				Message: fmt.Sprintf("duplicate registration for %s", reg.Name()),
			}
		}

		r.entries[key] = reg
		r.ordered = append(r.ordered, reg)
	}

	sort.Slice(r.ordered, func(i, j int) bool {
		if r.ordered[i].IntegrationID != r.ordered[j].IntegrationID {
			return r.ordered[i].IntegrationID < r.ordered[j].IntegrationID
		}
		return r.ordered[i].Capability < r.ordered[j].Capability
	})

	return r, nil
}

// Resolve looks up the registration for an (integration, capability) pair.
// A miss is a hard error: it means the caller asked for a capability no
// connector manifest declares.
func (r *Registry) Resolve(integrationID, capability string) (*Registration, error) {
	reg, exists := r.entries[registryKey{integrationID, capability}]
	if !exists {
		return nil, &errors.NotFoundError{
			Resource: "capability",
			ID:       integrationID + "/" + capability,
		}
	}
	return &reg, nil
}

// Has reports whether the pair is registered.
func (r *Registry) Has(integrationID, capability string) bool {
	_, exists := r.entries[registryKey{integrationID, capability}]
	return exists
}

// HasIntegration reports whether any capability is registered for the
// integration.
func (r *Registry) HasIntegration(integrationID string) bool {
	for key := range r.entries {
		if key.integration == integrationID {
			return true
		}
	}
	return false
}

// List returns all registrations sorted by integration then capability.
func (r *Registry) List() []Registration {
	out := make([]Registration, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// ForIntegration returns the registrations for one integration, sorted by
// capability name.
func (r *Registry) ForIntegration(integrationID string) []Registration {
	var out []Registration
	for _, reg := range r.ordered {
		if reg.IntegrationID == integrationID {
			out = append(out, reg)
		}
	}
	return out
}

// Len returns the number of registered capabilities.
func (r *Registry) Len() int {
	return len(r.entries)
}
