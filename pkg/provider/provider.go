// Package provider defines the effector interface the apply executor
// drives and a registry mapping resource kinds to implementations.
package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Request carries everything a provider needs to act on one resource
// instance.
type Request struct {
	// ID is the instance identity, module/template[index].
	ID string

	// Kind is the resource kind being acted on.
	Kind string

	// Attributes are the fully evaluated desired attributes.
	Attributes map[string]interface{}

	// PriorOutputs are the outputs recorded from the previous apply,
	// nil on first create.
	PriorOutputs map[string]interface{}
}

// Provider performs the real side effects for one or more resource
// kinds. Implementations must be safe to call sequentially; the
// executor never calls them concurrently.
type Provider interface {
	// Apply creates or updates the resource and returns its outputs.
	Apply(ctx context.Context, req Request) (map[string]interface{}, error)

	// Destroy removes the resource.
	Destroy(ctx context.Context, req Request) error
}

// KindSpec describes planner-relevant metadata for a resource kind.
type KindSpec struct {
	// ImmutableAttributes lists attributes that cannot change in place.
	// A diff on any of them turns an update into a replace.
	ImmutableAttributes []string
}

// Immutable reports whether the named attribute forces replacement.
func (s KindSpec) Immutable(attr string) bool {
	for _, a := range s.ImmutableAttributes {
		if a == attr {
			return true
		}
	}
	return false
}

// Registry maps resource kinds to providers and their kind metadata.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	specs     map[string]KindSpec
	fallback  Provider
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		specs:     make(map[string]KindSpec),
	}
}

// Register binds a kind to a provider and its metadata. Registering the
// same kind twice replaces the previous binding.
func (r *Registry) Register(kind string, p Provider, spec KindSpec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[kind] = p
	r.specs[kind] = spec
}

// RegisterFallback binds a provider to every kind without an explicit
// binding.
func (r *Registry) RegisterFallback(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = p
}

// Provider returns the provider for a kind.
func (r *Registry) Provider(kind string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[kind]
	if !ok {
		if r.fallback != nil {
			return r.fallback, nil
		}
		return nil, fmt.Errorf("no provider registered for kind %q", kind)
	}
	return p, nil
}

// Spec returns the kind metadata. Unregistered kinds get a zero spec,
// so planning over them still works; apply will fail instead.
func (r *Registry) Spec(kind string) KindSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.specs[kind]
}

// Kinds returns all registered kinds in sorted order.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.providers))
	for kind := range r.providers {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}
