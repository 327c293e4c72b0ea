// Package pipeline implements the C7 text-generation state machine:
// Received → Validated → Admitted → Resolved → Reserved → Executing →
// Settling → Done, with Rejected/Failed terminal states (spec.md §4.7).
// It is the only component that wires the registry, policy, credential
// resolver, token ledger and provider adapters together into one
// generateText call.
package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/vectorgate/gateway/pkg/config"
	"github.com/vectorgate/gateway/pkg/gwerr"
	"github.com/vectorgate/gateway/pkg/ledger"
	"github.com/vectorgate/gateway/pkg/policy"
	"github.com/vectorgate/gateway/pkg/providers"
	"github.com/vectorgate/gateway/pkg/registry"
	"github.com/vectorgate/gateway/pkg/resolver"
)

// WebSearchPreference enumerates spec.md §4.7's metadata.webSearchPreference values.
type WebSearchPreference string

const (
	WebSearchDuckDuckGo   WebSearchPreference = "duckduckgo"
	WebSearchMCP          WebSearchPreference = "mcp"
	WebSearchAIProvider   WebSearchPreference = "ai-web-search"
	WebSearchNever        WebSearchPreference = "never"
)

// Options bounds the generation shape (spec.md §4.7's options.maxTokens ceiling).
type Options struct {
	MaxTokens   int
	Temperature float64
	TopP        float64
}

// Metadata carries the non-core-critical search/domain hints the
// pipeline passes opaquely to the adapter (spec.md §4.7).
type Metadata struct {
	UseWebSearch        bool
	WebSearchPreference WebSearchPreference
	AllowedDomains      []string
	BlockedDomains      []string
}

// Request is generateText's input (spec.md §4.7's Received state).
type Request struct {
	UserID        string
	Authenticated bool
	CallerKind    policy.CallerKind

	// ProviderID is the explicit caller choice, if any.
	ProviderID string
	// PreferredProviderID is the caller's standing preference, used
	// when ProviderID is empty (spec.md §4.7's "explicit > user
	// preference > single configured > reject" ordering).
	PreferredProviderID string
	ModelID              string

	Content      string
	SystemPrompt string

	InlineAPIKey string
	UnlockSecret string

	Options  Options
	Metadata Metadata
}

// TokenUsage reports the actual token counts billed (spec.md §4.7's Done state).
type TokenUsage struct {
	InputTokens     int64
	OutputTokens    int64
	CountsEstimated bool
}

// UsageInfo reports the billing side effects of one generateText call.
type UsageInfo struct {
	ProviderID       string
	ModelID          string
	CostUSD          float64
	Charged          bool
	ReservationID    string
	BalanceRemaining *float64
}

// Response is generateText's success shape.
type Response struct {
	Success    bool
	Data       string
	TokenUsage TokenUsage
	UsageInfo  UsageInfo
}

// adapterDispatcher is the narrow seam the pipeline needs from
// providers.Dispatcher, named so tests can substitute a fake adapter
// without making network calls.
type adapterDispatcher interface {
	GenerateText(ctx context.Context, typeAlias string, credential providers.Credential, model string, messages []providers.Message, params providers.Params) (*providers.Result, error)
}

// Pipeline is the C7 component.
type Pipeline struct {
	cfg        *config.Config
	registry   *registry.Registry
	policy     *policy.Policy
	resolver   *resolver.Resolver
	ledger     *ledger.TokenLedger
	dispatcher adapterDispatcher
	schema     *jsonschema.Schema
	log        *slog.Logger
}

// New wires the six upstream components into one pipeline.
func New(cfg *config.Config, reg *registry.Registry, pol *policy.Policy, res *resolver.Resolver, led *ledger.TokenLedger, disp adapterDispatcher, log *slog.Logger) (*Pipeline, error) {
	if log == nil {
		log = slog.Default()
	}
	schema, err := compileInputSchema()
	if err != nil {
		return nil, err
	}
	return &Pipeline{cfg: cfg, registry: reg, policy: pol, resolver: res, ledger: led, dispatcher: disp, schema: schema, log: log}, nil
}

// GenerateText runs the full state machine for one request.
func (p *Pipeline) GenerateText(ctx context.Context, req Request) (*Response, error) {
	log := p.log.With("userId", req.UserID)

	// Received: schema-validate the wire-level shape.
	if err := p.validateReceived(req); err != nil {
		log.Warn("generateText rejected at validation", "error", err)
		return nil, err
	}

	// Validated: resolve providerId (explicit > user preference > single configured > reject).
	providerID, err := p.resolveProviderID(req)
	if err != nil {
		log.Warn("generateText rejected: no resolvable provider", "error", err)
		return nil, err
	}

	hasBYOK := false
	if req.Authenticated {
		hasBYOK, err = p.resolver.HasBYOK(ctx, req.UserID, providerID)
		if err != nil {
			return nil, gwerr.Wrap(err, "pipeline: byok status check")
		}
	}

	// Admitted: Policy.check.
	decision, err := p.policy.Check(policy.Request{
		ProviderID:     providerID,
		ModelID:        req.ModelID,
		CallerKind:     req.CallerKind,
		HasBYOKForThis: hasBYOK,
	})
	if err != nil {
		log.Warn("generateText rejected at admission", "error", err)
		return nil, err
	}

	provider, err := p.registry.GetProvider(decision.ProviderID)
	if err != nil {
		return nil, gwerr.New(gwerr.InvalidArgument, "unknown provider %s", decision.ProviderID)
	}
	effectiveModel := decision.EffectiveModel
	if effectiveModel == "" {
		effectiveModel = provider.DefaultModel
	}
	model, err := p.registry.ResolveModel(decision.ProviderID, effectiveModel)
	if err != nil {
		return nil, gwerr.New(gwerr.InvalidArgument, "unknown model %s/%s", decision.ProviderID, effectiveModel)
	}

	// Resolved: Credential Resolver chooses source.
	cred, err := p.resolver.Resolve(ctx, resolver.Request{
		UserID:        req.UserID,
		ProviderID:    decision.ProviderID,
		Authenticated: req.Authenticated,
		InlineAPIKey:  req.InlineAPIKey,
		UnlockSecret:  req.UnlockSecret,
	})
	if err != nil {
		log.Warn("generateText rejected at resolution", "error", err)
		return nil, err
	}
	hasOwnKey := cred.Source == resolver.SourceBYOK || cred.Source == resolver.SourceInline

	// Reserved: Ledger.reserve(user, estTokens, price, hasOwnKey).
	maxTokens := req.Options.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.cfg.DefaultMaxTokens
	}
	if maxTokens > p.cfg.MaxMaxTokens {
		maxTokens = p.cfg.MaxMaxTokens
	}
	estTokens := estimateTokens(req.SystemPrompt+req.Content) + int64(maxTokens)
	pricePerToken := blendedPricePerToken(model)

	reservation, remaining, err := p.ledger.Reserve(ctx, req.UserID, estTokens, pricePerToken, hasOwnKey)
	if err != nil {
		log.Warn("generateText rejected at reservation", "error", err, "estTokens", estTokens)
		return nil, err
	}

	// Executing: Adapter.generateText(...) — fail → Failed (refund reservation).
	messages := []providers.Message{{Role: "user", Content: req.Content}}
	params := providers.Params{
		MaxTokens:    maxTokens,
		Temperature:  req.Options.Temperature,
		TopP:         req.Options.TopP,
		SystemPrompt: req.SystemPrompt,
		Metadata:     metadataToParams(req.Metadata),
	}

	result, err := p.dispatcher.GenerateText(ctx, provider.Type, cred.Secret, effectiveModel, messages, params)
	if err != nil {
		if refundErr := p.refund(ctx, reservation.ReservationID, log); refundErr != nil {
			log.Error("generateText: refund failed after execution failure", "error", refundErr, "reservationId", reservation.ReservationID)
		}
		return nil, err
	}

	// Settling: Ledger.settle(reservationId, actual…).
	cost := actualCost(model, result)
	usage := ledger.UsageEvent{
		EventID:         uuid.NewString(),
		UserID:          req.UserID,
		ProviderID:      decision.ProviderID,
		ModelID:         effectiveModel,
		InputTokens:     result.InputTokens,
		OutputTokens:    result.OutputTokens,
		CostUSD:         cost,
		OccurredAt:      time.Now().UTC(),
		CountsEstimated: result.CountsEstimated,
	}
	balance, event, err := p.ledger.Settle(ctx, reservation.ReservationID, reservation.ReservationID, usage)
	if err != nil {
		log.Error("generateText: settlement failed", "error", err, "reservationId", reservation.ReservationID)
		return nil, err
	}

	// Done.
	var balRemaining *float64
	if balance != nil {
		balRemaining = &balance.Available
	} else {
		balRemaining = remaining
	}
	return &Response{
		Success: true,
		Data:    result.Text,
		TokenUsage: TokenUsage{
			InputTokens:     result.InputTokens,
			OutputTokens:    result.OutputTokens,
			CountsEstimated: result.CountsEstimated,
		},
		UsageInfo: UsageInfo{
			ProviderID:       decision.ProviderID,
			ModelID:          effectiveModel,
			CostUSD:          event.CostUSD,
			Charged:          event.Charged,
			ReservationID:    reservation.ReservationID,
			BalanceRemaining: balRemaining,
		},
	}, nil
}

func (p *Pipeline) refund(ctx context.Context, reservationID string, log *slog.Logger) error {
	_, err := p.ledger.Refund(ctx, reservationID)
	return err
}

// resolveProviderID implements spec.md §4.7's "explicit > user
// preference > single configured > reject" ordering.
func (p *Pipeline) resolveProviderID(req Request) (string, error) {
	if req.ProviderID != "" {
		return req.ProviderID, nil
	}
	if req.PreferredProviderID != "" {
		return req.PreferredProviderID, nil
	}
	if len(p.cfg.Providers.Explicit) == 1 {
		return p.cfg.Providers.Explicit[0].Name, nil
	}
	return "", gwerr.New(gwerr.InvalidArgument, "no provider specified and none can be inferred")
}

func (p *Pipeline) validateReceived(req Request) error {
	doc := map[string]any{
		"content":      req.Content,
		"systemPrompt": req.SystemPrompt,
	}
	if err := p.schema.Validate(doc); err != nil {
		return gwerr.New(gwerr.InvalidArgument, "invalid request: %s", err.Error())
	}
	if len(req.SystemPrompt) > p.cfg.SystemPromptMaxLength {
		return gwerr.New(gwerr.InvalidArgument, "systemPrompt exceeds max length %d", p.cfg.SystemPromptMaxLength)
	}
	if req.Options.MaxTokens > p.cfg.MaxMaxTokens {
		return gwerr.New(gwerr.InvalidArgument, "options.maxTokens exceeds max %d", p.cfg.MaxMaxTokens)
	}
	if strings.TrimSpace(req.Content) == "" {
		return gwerr.New(gwerr.InvalidArgument, "content is required")
	}
	return nil
}

// blendedPricePerToken computes a conservative single per-token price
// for the reservation phase (spec.md §4.5 reserve), using whichever of
// input/output pricing is higher so the estimate never under-reserves.
func blendedPricePerToken(model *registry.Model) float64 {
	p := model.InputPricePerM
	if model.OutputPricePerM > p {
		p = model.OutputPricePerM
	}
	return p / 1_000_000
}

// actualCost computes the settlement-time cost from the model's
// separate input/output pricing and the provider's reported usage.
func actualCost(model *registry.Model, result *providers.Result) float64 {
	return float64(result.InputTokens)/1_000_000*model.InputPricePerM +
		float64(result.OutputTokens)/1_000_000*model.OutputPricePerM
}

func metadataToParams(m Metadata) map[string]any {
	if !m.UseWebSearch && m.WebSearchPreference == "" && len(m.AllowedDomains) == 0 && len(m.BlockedDomains) == 0 {
		return nil
	}
	return map[string]any{
		"useWebSearch":        m.UseWebSearch,
		"webSearchPreference": string(m.WebSearchPreference),
		"allowedDomains":      m.AllowedDomains,
		"blockedDomains":      m.BlockedDomains,
	}
}

const inputSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "content": {"type": "string", "maxLength": 200000},
    "systemPrompt": {"type": "string", "maxLength": 25000}
  },
  "required": ["content"]
}`

func compileInputSchema() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	const url = "https://gateway.local/schemas/generate-text.schema.json"
	if err := c.AddResource(url, strings.NewReader(inputSchemaJSON)); err != nil {
		return nil, gwerr.Wrap(err, "pipeline: load input schema")
	}
	return c.Compile(url)
}
