// Package null implements a provider with no real side effects. It
// echoes attributes back as outputs and assigns a stable synthetic id,
// which makes it useful for trying out declarations and for plumbing
// tests end to end.
package null

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/groundwork-io/groundctl/pkg/provider"
)

// Provider is the null effector.
type Provider struct{}

// New creates a null provider.
func New() *Provider {
	return &Provider{}
}

// RegisterKinds binds the null provider to the given kinds.
func RegisterKinds(registry *provider.Registry, kinds ...string) {
	p := New()
	for _, kind := range kinds {
		registry.Register(kind, p, provider.KindSpec{})
	}
}

func (p *Provider) Apply(ctx context.Context, req provider.Request) (map[string]interface{}, error) {
	outputs := make(map[string]interface{}, len(req.Attributes)+1)
	for k, v := range req.Attributes {
		outputs[k] = v
	}
	outputs["id"] = syntheticID(req.ID)
	return outputs, nil
}

func (p *Provider) Destroy(ctx context.Context, req provider.Request) error {
	return nil
}

// syntheticID derives a stable fake identifier from the instance
// identity, so repeated applies yield the same id and plan out as Noop.
func syntheticID(instanceID string) string {
	h := fnv.New64a()
	h.Write([]byte(instanceID))
	return fmt.Sprintf("null-%x", h.Sum64())
}

var _ provider.Provider = (*Provider)(nil)
