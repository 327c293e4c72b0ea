// Package registry maintains the provider/model catalog: a read-mostly
// snapshot merging a live upstream fetch with a frozen, embedded
// fallback, swapped atomically under a lock so readers always observe
// a consistent view.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gowebpki/jcs"
	"golang.org/x/time/rate"
)

var ErrUnknownProvider = errors.New("registry: unknown provider")

// Model is a single catalog entry for (providerID, modelID).
type Model struct {
	ProviderID      string   `json:"providerId"`
	ModelID         string   `json:"modelId"`
	ContextWindow   int      `json:"contextWindow"`
	InputPricePerM  float64  `json:"inputPricePerMillionTokens"`
	OutputPricePerM float64  `json:"outputPricePerMillionTokens"`
	Capabilities    []string `json:"capabilities,omitempty"` // tool-use, web-search, vision
}

// Provider is the catalog's per-provider metadata.
type Provider struct {
	ProviderID   string   `json:"providerId"`
	DisplayName  string   `json:"displayName"`
	HasServerKey bool      `json:"hasServerKey"`
	BYOKEligible bool      `json:"byokEligible"`
	Type         string   `json:"type"` // adapter kind: anthropic|openai|google|openrouter|huggingface
	BaseURL      string   `json:"baseUrl,omitempty"`
	DefaultModel string   `json:"defaultModel,omitempty"`
	Available    bool     `json:"available"`
	Models       []Model  `json:"models"`
}

// Health describes the registry's current readiness.
type Health struct {
	Ready         bool      `json:"ready"`
	Source        string    `json:"source"` // "live" | "fallback"
	LastRefreshAt time.Time `json:"lastRefreshAt"`
	ModelCount    int       `json:"modelCount"`
}

// PricingOverride is applied strictly above live/fallback catalog data.
type PricingOverride struct {
	ScopeHash       string  `json:"scopeHash"`
	ProviderID      string  `json:"providerId"`
	ModelID         string  `json:"modelId"`
	InputPricePerM  float64 `json:"inputPricePerMillionTokens"`
	OutputPricePerM float64 `json:"outputPricePerMillionTokens"`
}

// snapshot is the immutable value swapped under the registry's lock —
// the copy-on-write unit described in spec.md §5.
type snapshot struct {
	providers map[string]*Provider
	source    string
	fetchedAt time.Time
}

// Fetcher retrieves the live catalog from an external service.
type Fetcher interface {
	Fetch(ctx context.Context) (map[string]*Provider, error)
}

// Registry is the C1 component's public surface (spec.md §4.1).
type Registry struct {
	mu        sync.RWMutex
	current   *snapshot
	fallback  map[string]*Provider
	overrides map[string]PricingOverride // keyed by ProviderID + "/" + ModelID
	fetcher   Fetcher
	log       *slog.Logger

	refreshInterval time.Duration
	backoffCeiling  time.Duration
	limiter         *rate.Limiter
}

// New constructs a Registry seeded with the frozen fallback data and
// begins life serving it until the first live refresh succeeds.
func New(fallback map[string]*Provider, fetcher Fetcher, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	fb := cloneProviders(fallback)
	return &Registry{
		current:         &snapshot{providers: fb, source: "fallback", fetchedAt: time.Now()},
		fallback:        fb,
		overrides:       make(map[string]PricingOverride),
		fetcher:         fetcher,
		log:             log,
		refreshInterval: 5 * time.Minute,
		backoffCeiling:  10 * time.Minute,
		limiter:         rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

// Refresh attempts one live fetch; on failure the registry continues
// serving its previous snapshot (fallback or stale live) and returns
// the error for the caller (typically the background refresher) to log.
func (r *Registry) Refresh(ctx context.Context) error {
	if r.fetcher == nil {
		return nil
	}
	fetched, err := r.fetcher.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("registry refresh: %w", err)
	}
	snap := &snapshot{providers: cloneProviders(fetched), source: "live", fetchedAt: time.Now()}
	r.mu.Lock()
	r.current = snap
	r.mu.Unlock()
	return nil
}

// Run attempts an immediate live refresh — so a gateway with a reachable
// catalog never serves stale fallback data just because it restarted —
// then starts the background refresher; it retries failures with
// exponential backoff capped at backoffCeiling, and exits when ctx is
// cancelled.
func (r *Registry) Run(ctx context.Context) {
	delay := r.refreshInterval
	if err := r.Refresh(ctx); err != nil {
		r.log.Warn("registry refresh failed, retaining prior snapshot", "error", err)
		delay = time.Second
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		if err := r.limiter.Wait(ctx); err != nil {
			return
		}
		if err := r.Refresh(ctx); err != nil {
			r.log.Warn("registry refresh failed, retaining prior snapshot", "error", err)
			delay *= 2
			if delay > r.backoffCeiling {
				delay = r.backoffCeiling
			}
			continue
		}
		delay = r.refreshInterval
	}
}

func (r *Registry) snap() *snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// ListProviders returns every catalog provider, overrides applied.
func (r *Registry) ListProviders() []*Provider {
	snap := r.snap()
	out := make([]*Provider, 0, len(snap.providers))
	for _, p := range snap.providers {
		out = append(out, r.applyOverrides(p))
	}
	return out
}

// ListBYOKProviders returns only providers eligible for BYOK.
func (r *Registry) ListBYOKProviders() []*Provider {
	var out []*Provider
	for _, p := range r.ListProviders() {
		if p.BYOKEligible {
			out = append(out, p)
		}
	}
	return out
}

// ResolveModel looks up a model under a provider, overrides applied.
// Unknown provider returns ErrUnknownProvider, matching spec.md §4.1's
// "unknown provider yields available=false" edge case for the provider
// itself, but a strict error for a direct model lookup.
func (r *Registry) ResolveModel(providerID, modelID string) (*Model, error) {
	snap := r.snap()
	p, ok := snap.providers[providerID]
	if !ok {
		return nil, ErrUnknownProvider
	}
	for _, m := range p.Models {
		if m.ModelID == modelID {
			mm := r.applyModelOverride(providerID, m)
			return &mm, nil
		}
	}
	return nil, fmt.Errorf("registry: unknown model %s/%s", providerID, modelID)
}

// GetProvider looks up one provider's metadata, overrides applied; used
// by the request pipeline to select an adapter by the provider's type
// alias rather than its providerId (spec.md §4.6).
func (r *Registry) GetProvider(providerID string) (*Provider, error) {
	snap := r.snap()
	p, ok := snap.providers[providerID]
	if !ok {
		return nil, ErrUnknownProvider
	}
	return r.applyOverrides(p), nil
}

// ListAllowedModels lists a provider's models (policy filtering is the
// caller's job — C2 — per spec.md §4.1/§4.2 separation of concerns).
func (r *Registry) ListAllowedModels(providerID string) ([]Model, error) {
	snap := r.snap()
	p, ok := snap.providers[providerID]
	if !ok {
		return nil, ErrUnknownProvider
	}
	out := make([]Model, len(p.Models))
	for i, m := range p.Models {
		out[i] = r.applyModelOverride(providerID, m)
	}
	return out, nil
}

// UnknownProvider builds the §4.1 edge-case entry for a provider named
// in config but absent from any catalog source.
func UnknownProvider(providerID string) *Provider {
	return &Provider{ProviderID: providerID, Available: false, Models: nil}
}

// Health reports registry readiness for ai.getRegistryHealth.
func (r *Registry) Health() Health {
	snap := r.snap()
	count := 0
	for _, p := range snap.providers {
		count += len(p.Models)
	}
	return Health{Ready: true, Source: snap.source, LastRefreshAt: snap.fetchedAt, ModelCount: count}
}

// AddPricingOverride canonicalizes the override's scope via JSON
// Canonicalization Scheme and records the hex encoding of the canonical
// JSON (not a digest) as ScopeHash, so equivalent scopes (key order,
// whitespace) get the same ScopeHash. It then stores the override under
// its provider/model pair, replacing any earlier override for that pair,
// to be applied strictly above live data on every subsequent read.
func (r *Registry) AddPricingOverride(scope map[string]any, override PricingOverride) error {
	raw, err := json.Marshal(scope)
	if err != nil {
		return fmt.Errorf("marshal override scope: %w", err)
	}
	canon, err := jcs.Transform(raw)
	if err != nil {
		return fmt.Errorf("canonicalize override scope: %w", err)
	}
	override.ScopeHash = fmt.Sprintf("%x", canon)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.overrides[override.ProviderID+"/"+override.ModelID] = override
	return nil
}

func (r *Registry) applyOverrides(p *Provider) *Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.overrides) == 0 {
		return p
	}
	cp := *p
	cp.Models = make([]Model, len(p.Models))
	for i, m := range p.Models {
		cp.Models[i] = r.applyModelOverrideLocked(p.ProviderID, m)
	}
	return &cp
}

func (r *Registry) applyModelOverride(providerID string, m Model) Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.applyModelOverrideLocked(providerID, m)
}

func (r *Registry) applyModelOverrideLocked(providerID string, m Model) Model {
	if ov, ok := r.overrides[providerID+"/"+m.ModelID]; ok {
		m.InputPricePerM = ov.InputPricePerM
		m.OutputPricePerM = ov.OutputPricePerM
	}
	return m
}

func cloneProviders(in map[string]*Provider) map[string]*Provider {
	out := make(map[string]*Provider, len(in))
	for k, v := range in {
		cp := *v
		cp.Models = append([]Model(nil), v.Models...)
		out[k] = &cp
	}
	return out
}

// HTTPFetcher fetches the live catalog over HTTP from a configured
// catalog service URL. It applies no rate limit itself; Registry.Run
// waits on the registry's limiter before each refresh.
type HTTPFetcher struct {
	URL    string
	Client *http.Client
}

func (f *HTTPFetcher) Fetch(ctx context.Context) (map[string]*Provider, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return nil, err
	}
	client := f.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog fetch: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var providers map[string]*Provider
	if err := json.Unmarshal(body, &providers); err != nil {
		return nil, fmt.Errorf("catalog fetch: decode: %w", err)
	}
	return providers, nil
}
