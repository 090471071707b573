// Package registry provides the provider registry used for candidate
// generation and provider fallback order.
package registry

import (
	"strings"
	"sync"

	"stream-resolver-go/pkg/interfaces"
	"stream-resolver-go/pkg/types"
)

// ProviderRegistry manages embed providers.
type ProviderRegistry struct {
	mu        sync.RWMutex
	providers []interfaces.Provider
	byName    map[string]interfaces.Provider
	order     []string
}

// NewProviderRegistry creates a new provider registry. order is the
// preference order used for "auto" requests and cross-provider fallback;
// registration order is used when it is empty.
func NewProviderRegistry(order []string) *ProviderRegistry {
	return &ProviderRegistry{
		providers: make([]interfaces.Provider, 0),
		byName:    make(map[string]interfaces.Provider),
		order:     order,
	}
}

// Register adds a provider to the registry.
func (r *ProviderRegistry) Register(provider interfaces.Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers = append(r.providers, provider)
	r.byName[strings.ToLower(provider.Name())] = provider
}

// Get returns the provider whose domains host the given URL, or nil.
func (r *ProviderRegistry) Get(url string) interfaces.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.providers {
		if p.CanHandle(url) {
			return p
		}
	}
	return nil
}

// GetByName returns a provider by its name, or nil when unknown.
func (r *ProviderRegistry) GetByName(name string) interfaces.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byName[strings.ToLower(name)]
}

// All returns all registered providers.
func (r *ProviderRegistry) All() []interfaces.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]interfaces.Provider, len(r.providers))
	copy(result, r.providers)
	return result
}

// Order returns provider names to try for a preference: the preferred
// provider first, then the remaining known providers in configured order.
// "auto" (or empty) yields the configured order. Unknown names are kept at
// the head so the caller records them as producing no candidates.
func (r *ProviderRegistry) Order(preference string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	base := make([]string, 0, len(r.providers))
	seen := make(map[string]bool)
	add := func(name string) {
		name = strings.ToLower(name)
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		base = append(base, name)
	}

	pref := strings.ToLower(strings.TrimSpace(preference))
	if pref != "" && pref != types.ProviderAuto {
		add(pref)
	}
	for _, name := range r.order {
		if _, ok := r.byName[strings.ToLower(name)]; ok {
			add(name)
		}
	}
	for _, p := range r.providers {
		add(p.Name())
	}
	return base
}

// GenerateCandidates returns the candidates for a named provider. Unknown
// providers yield an empty list.
func (r *ProviderRegistry) GenerateCandidates(provider string, req types.PlaybackRequest) []types.Candidate {
	p := r.GetByName(provider)
	if p == nil {
		return nil
	}
	return p.Candidates(req)
}

var _ interfaces.Registry[interfaces.Provider] = (*ProviderRegistry)(nil)
