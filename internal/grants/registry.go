package grants

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/david/grantmatch/internal/models"
)

const DefaultProviderTimeout = 15 * time.Second

// Registry holds the set of providers and fans searches out across them.
type Registry struct {
	mu        sync.RWMutex
	providers map[models.Source]Provider
	order     []models.Source
	timeout   time.Duration
}

type RegistryOption func(*Registry)

// WithProviderTimeout bounds each provider call in SearchAll. Zero disables the bound.
func WithProviderTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) { r.timeout = d }
}

func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		providers: make(map[models.Source]Provider),
		timeout:   DefaultProviderTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds or replaces the provider for its source. Replacement keeps the
// original registration position.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	src := p.Source()
	if _, exists := r.providers[src]; !exists {
		r.order = append(r.order, src)
	}
	r.providers[src] = p
}

func (r *Registry) Unregister(source models.Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[source]; !exists {
		return
	}
	delete(r.providers, source)
	for i, s := range r.order {
		if s == source {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
}

func (r *Registry) Provider(source models.Source) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[source]
	return p, ok
}

// Providers returns every registered provider in registration order.
func (r *Registry) Providers() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Provider, 0, len(r.order))
	for _, s := range r.order {
		out = append(out, r.providers[s])
	}
	return out
}

// EnabledProviders returns the enabled providers in registration order.
func (r *Registry) EnabledProviders() []Provider {
	var out []Provider
	for _, p := range r.Providers() {
		if p.Enabled() {
			out = append(out, p)
		}
	}
	return out
}

func (r *Registry) Info() []ProviderInfo {
	out := []ProviderInfo{}
	for _, p := range r.Providers() {
		out = append(out, ProviderInfo{Source: p.Source(), DisplayName: p.DisplayName(), Enabled: p.Enabled()})
	}
	return out
}

type providerOutcome struct {
	result *models.SearchResult
	err    error
}

// SearchAll queries every enabled provider concurrently and merges the results.
// Provider failures are logged and reported in FailedSources; they never fail the call.
func (r *Registry) SearchAll(ctx context.Context, params models.GrantSearchParams) *models.AggregatedResult {
	params = params.WithDefaults()
	providers := r.EnabledProviders()
	outcomes := make([]providerOutcome, len(providers))

	// Every goroutine returns nil so one failure never cancels its siblings.
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range providers {
		g.Go(func() error {
			outcomes[i] = r.searchOne(gctx, p, params)
			return nil
		})
	}
	_ = g.Wait()

	agg := &models.AggregatedResult{
		Page:            params.Page,
		PageSize:        params.PageSize,
		SourceBreakdown: make(map[models.Source]int),
		FailedSources:   []models.Source{},
	}

	var pool []models.NormalizedGrant
	for i, p := range providers {
		out := outcomes[i]
		if out.err != nil {
			log.Printf("[Registry] %s search failed: %v", p.Source(), out.err)
			agg.FailedSources = append(agg.FailedSources, p.Source())
			continue
		}
		agg.SourceBreakdown[p.Source()] = out.result.TotalResults
		pool = append(pool, out.result.Grants...)
	}

	pool = filterGrants(pool, params)
	sortGrants(pool)

	agg.TotalResults = len(pool)
	agg.TotalPages = models.TotalPages(len(pool), params.PageSize)
	agg.Grants = paginate(pool, params.Page, params.PageSize)
	return agg
}

func (r *Registry) searchOne(ctx context.Context, p Provider, params models.GrantSearchParams) (out providerOutcome) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	defer func() {
		if rec := recover(); rec != nil {
			out = providerOutcome{err: fmt.Errorf("provider panic: %v", rec)}
		}
	}()

	res, err := p.Search(ctx, params)
	if err != nil {
		return providerOutcome{err: err}
	}
	if res == nil {
		return providerOutcome{err: fmt.Errorf("provider returned no result")}
	}
	return providerOutcome{result: res}
}

// GetByID routes a composite "source:externalId" to its provider. Unknown
// sources, malformed ids and upstream misses all yield (nil, nil).
func (r *Registry) GetByID(ctx context.Context, compositeID string) (*models.GrantDetail, error) {
	source, externalID, ok := SplitCompositeID(compositeID)
	if !ok {
		return nil, nil
	}
	p, ok := r.Provider(source)
	if !ok {
		return nil, nil
	}
	detail, err := p.GetByID(ctx, externalID)
	if err != nil {
		return nil, fmt.Errorf("%s lookup %q: %w", source, externalID, err)
	}
	return detail, nil
}
