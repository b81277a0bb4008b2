// Package providers contains the per-target credential provider adapters and
// the registry the slip ledger resolves them from. Each provider implements
// one acquisition method for one target: device-code OAuth for GitHub, PKCE
// OAuth for Google, bring-your-own-credential validation for OpenAI, and
// self-issued JWTs for the service itself.
package providers

import (
	"sort"
	"sync"

	"github.com/turtacn/obo/internal/domain/service"
	"github.com/turtacn/obo/pkg/errors"
)

// Registry maps target names to their providers. Registration happens once
// during startup; lookups are concurrent.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]service.Provider
}

// NewRegistry returns an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]service.Provider)}
}

// Register adds a provider under its own name, replacing any previous entry.
func (r *Registry) Register(p service.Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get resolves the provider for a target.
func (r *Registry) Get(target string) (service.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[target]
	if !ok {
		return nil, errors.ErrProviderNotConfigured(target, "no provider registered for target")
	}
	return p, nil
}

// Names returns the registered target names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.providers))
	for name := range r.providers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
