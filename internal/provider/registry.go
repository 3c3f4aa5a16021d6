// Package provider implements the Provider Registry of spec.md §4.2: a
// process-wide, name-keyed factory for LLM providers with dynamic
// registration and default-config merging.
package provider

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"dario.cat/mergo"

	"github.com/reviewforge/engine/internal/apperr"
)

// Provider is the capability-probed handle the Manager invokes.
type Provider interface {
	Name() string
	IsAvailable() bool
}

// Factory constructs a Provider from a merged configuration map.
type Factory func(config map[string]any) (Provider, error)

type entry struct {
	factory       Factory
	defaultConfig map[string]any
}

// Registry is safe for concurrent use. Registration keys are
// case-normalized to lowercase; lookups are case-insensitive (spec §4.2
// invariant).
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

func normalize(name string) string { return strings.ToLower(strings.TrimSpace(name)) }

// Register adds or replaces the factory for name. Idempotent: the last
// registration for a given name wins.
func (r *Registry) Register(name string, factory Factory, defaultConfig map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[normalize(name)] = entry{factory: factory, defaultConfig: defaultConfig}
}

// Unregister removes name's registration, reporting whether it existed.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := normalize(name)
	if _, ok := r.entries[key]; !ok {
		return false
	}
	delete(r.entries, key)
	return true
}

// Create produces a configured Provider instance, merging
// defaultConfig ⊕ config with config's keys winning on conflict. A failed
// factory call yields no instance; the registry does not keep a partial
// entry (spec §4.2 invariant).
func (r *Registry) Create(name string, config map[string]any) (Provider, error) {
	r.mu.RLock()
	e, ok := r.entries[normalize(name)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: provider %q is not registered", apperr.ErrNotFound, name)
	}
	merged := map[string]any{}
	for k, v := range e.defaultConfig {
		merged[k] = v
	}
	if err := mergo.Merge(&merged, config, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("merge provider config: %w", err)
	}
	p, err := e.factory(merged)
	if err != nil {
		return nil, fmt.Errorf("create provider %q: %w", name, err)
	}
	return p, nil
}

// List returns registered provider names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for k := range r.entries {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// GetDefaultConfig returns a copy of name's registered default config.
func (r *Registry) GetDefaultConfig(name string) (map[string]any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[normalize(name)]
	if !ok {
		return nil, false
	}
	out := make(map[string]any, len(e.defaultConfig))
	for k, v := range e.defaultConfig {
		out[k] = v
	}
	return out, true
}

// IsRegistered reports whether name has a registration.
func (r *Registry) IsRegistered(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[normalize(name)]
	return ok
}
