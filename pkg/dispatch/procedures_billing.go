package dispatch

import (
	"context"
	"encoding/json"

	"github.com/vectorgate/gateway/pkg/auth"
	"github.com/vectorgate/gateway/pkg/gwerr"
	"github.com/vectorgate/gateway/pkg/ledger"
)

// registerBillingProcedures wires spec.md §6's billing.* namespace to
// the C5 token ledger. Every procedure here requires authentication —
// balances, history and analytics are always scoped to the caller's
// own userID.
func registerBillingProcedures(reg *Registry, led *ledger.TokenLedger) error {
	if err := reg.Register(Procedure{
		Name:         "billing.getTokenBalance",
		AuthRequired: true,
		RateClass:    RateClassRead,
		Handler: func(ctx context.Context, principal auth.Principal, raw json.RawMessage) (any, error) {
			return led.Balance(ctx, principal.GetID())
		},
	}); err != nil {
		return err
	}

	if err := reg.Register(Procedure{
		Name:         "billing.getUsageHistory",
		AuthRequired: true,
		RateClass:    RateClassRead,
		InputSchema:  `{"type":"object","properties":{"limit":{"type":"integer","minimum":1,"maximum":500},"cursor":{"type":"string"}}}`,
		Handler: func(ctx context.Context, principal auth.Principal, raw json.RawMessage) (any, error) {
			var in struct {
				Limit  int    `json:"limit"`
				Cursor string `json:"cursor"`
			}
			_ = json.Unmarshal(raw, &in)
			if in.Limit <= 0 {
				in.Limit = 50
			}
			events, next, err := led.History(ctx, principal.GetID(), in.Limit, in.Cursor)
			if err != nil {
				return nil, err
			}
			return map[string]any{"events": events, "nextCursor": next}, nil
		},
	}); err != nil {
		return err
	}

	if err := reg.Register(Procedure{
		Name:         "billing.getUsageAnalytics",
		AuthRequired: true,
		RateClass:    RateClassRead,
		InputSchema:  `{"type":"object","properties":{"days":{"type":"integer","minimum":1,"maximum":365}}}`,
		Handler: func(ctx context.Context, principal auth.Principal, raw json.RawMessage) (any, error) {
			var in struct {
				Days int `json:"days"`
			}
			_ = json.Unmarshal(raw, &in)
			if in.Days <= 0 {
				in.Days = 30
			}
			return led.Analytics(ctx, principal.GetID(), in.Days)
		},
	}); err != nil {
		return err
	}

	return reg.Register(Procedure{
		Name:         "billing.planConsumption",
		AuthRequired: true,
		RateClass:    RateClassRead,
		InputSchema:  `{"type":"object","properties":{"estimatedTokens":{"type":"integer","minimum":1},"pricePerToken":{"type":"number","minimum":0},"hasApiKey":{"type":"boolean"}},"required":["estimatedTokens","pricePerToken"]}`,
		Handler: func(ctx context.Context, principal auth.Principal, raw json.RawMessage) (any, error) {
			var in struct {
				EstimatedTokens int64   `json:"estimatedTokens"`
				PricePerToken   float64 `json:"pricePerToken"`
				HasAPIKey       bool    `json:"hasApiKey"`
			}
			if err := json.Unmarshal(raw, &in); err != nil {
				return nil, gwerr.New(gwerr.InvalidArgument, "invalid planConsumption input: %v", err)
			}
			return led.PlanConsumption(ctx, principal.GetID(), in.EstimatedTokens, in.PricePerToken, in.HasAPIKey)
		},
	})
}
