package routing

import (
	"context"
	"errors"
	"math/rand/v2"

	"github.com/davidbz/kiln/internal/domain"
)

// RandomAlias is the provider key that resolves to a random available provider.
const RandomAlias = "random"

// ErrNoCandidates is returned when "random" is requested but no unused provider is available.
var ErrNoCandidates = errors.New("no provider available for random selection")

// SimpleRouter resolves provider aliases against the catalog and registry.
type SimpleRouter struct {
	registry domain.ProviderRegistry
	catalog  domain.ModelCatalog
	intN     func(n int) int
}

// NewRouter creates a new router.
func NewRouter(registry domain.ProviderRegistry, catalog domain.ModelCatalog) *SimpleRouter {
	return &SimpleRouter{
		registry: registry,
		catalog:  catalog,
		intN:     rand.IntN,
	}
}

// WithRandom replaces the random source. Used by tests.
func (r *SimpleRouter) WithRandom(intN func(n int) int) *SimpleRouter {
	r.intN = intN
	return r
}

// Resolve replaces every "random" entry with an available provider key that is not
// already in the list. Other keys pass through in order.
func (r *SimpleRouter) Resolve(ctx context.Context, providers []string) ([]string, error) {
	if len(providers) == 0 {
		return nil, domain.ErrNoProviders
	}

	used := make(map[string]struct{}, len(providers))
	randoms := 0
	for _, key := range providers {
		if key == RandomAlias {
			randoms++
			continue
		}
		used[key] = struct{}{}
	}
	if randoms == 0 {
		return providers, nil
	}

	candidates := r.candidates(ctx, used)

	resolved := make([]string, 0, len(providers))
	for _, key := range providers {
		if key != RandomAlias {
			resolved = append(resolved, key)
			continue
		}
		if len(candidates) == 0 {
			return nil, ErrNoCandidates
		}
		i := r.intN(len(candidates))
		resolved = append(resolved, candidates[i])
		candidates = append(candidates[:i], candidates[i+1:]...)
	}

	return resolved, nil
}

// candidates lists active catalog keys with a registered adapter, excluding used keys.
func (r *SimpleRouter) candidates(ctx context.Context, used map[string]struct{}) []string {
	keys := r.catalog.ActiveKeys(ctx)
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		if _, taken := used[key]; taken || key == RandomAlias {
			continue
		}
		cfg, err := r.catalog.GetGeneratorConfig(ctx, key)
		if err != nil {
			continue
		}
		if _, err := r.registry.Get(ctx, cfg.Type); err != nil {
			continue
		}
		out = append(out, key)
	}
	return out
}

// Available lists every provider key that can serve a request right now.
func (r *SimpleRouter) Available(ctx context.Context) []string {
	return r.candidates(ctx, nil)
}
