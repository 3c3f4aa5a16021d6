package llmmanager

import (
	"context"
	"fmt"

	"github.com/reviewforge/engine/internal/apperr"
)

// Lookup resolves a registered Client by name. Implemented by the
// provider.Registry's Create, adapted to this package's narrower Client
// interface by the process wiring in cmd/.
type Lookup func(name string) (Client, error)

// Manager implements spec §4.3: pick a provider, fall back through a
// configured order on unavailability, validate the request, fill a
// default model, and normalize the response.
type Manager struct {
	lookup         Lookup
	defaultProvider string
	fallbackOrder  []string
}

// NewManager constructs a Manager. fallbackOrder is tried, in order,
// skipping any provider already attempted, whenever the selected provider
// is unregistered or reports IsAvailable() == false.
func NewManager(lookup Lookup, defaultProvider string, fallbackOrder []string) *Manager {
	return &Manager{lookup: lookup, defaultProvider: defaultProvider, fallbackOrder: fallbackOrder}
}

// Complete runs the provider-selection and fallback algorithm of spec
// §4.3 and returns a single normalized response or a typed error. It never
// attempts the same provider name twice (spec §8.9 fallback completeness).
func (m *Manager) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	candidate := req.Provider
	if candidate == "" {
		candidate = m.defaultProvider
	}
	order := append([]string{candidate}, m.fallbackOrder...)
	tried := make(map[string]bool, len(order))
	var lastErr error
	for _, name := range order {
		if name == "" || tried[name] {
			continue
		}
		tried[name] = true
		client, err := m.lookup(name)
		if err != nil || client == nil || !client.IsAvailable() {
			lastErr = fmt.Errorf("%w: provider %q unavailable", apperr.ErrProviderUnavailable, name)
			continue
		}
		effective := *req
		effective.Provider = name
		if effective.Model == "" && client.DefaultModel() != "" {
			effective.Model = client.DefaultModel()
		}
		resp, err := client.Complete(ctx, &effective)
		if err != nil {
			lastErr = err
			continue
		}
		resp.Provider = name
		return resp, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("%w: no provider configured", apperr.ErrProviderUnavailable)
	}
	return nil, fmt.Errorf("%w: all providers exhausted: %w", apperr.ErrProviderUnavailable, lastErr)
}

func validate(req *CompletionRequest) error {
	if req == nil {
		return fmt.Errorf("%w: nil request", apperr.ErrInvalidRequest)
	}
	if len(nonEmptyMessages(req.Messages)) == 0 {
		return fmt.Errorf("%w: messages must be non-empty", apperr.ErrInvalidRequest)
	}
	return nil
}
