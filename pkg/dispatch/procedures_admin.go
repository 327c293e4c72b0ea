package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/vectorgate/gateway/pkg/auth"
	"github.com/vectorgate/gateway/pkg/config"
	"github.com/vectorgate/gateway/pkg/gwerr"
	"github.com/vectorgate/gateway/pkg/ledger"
	"github.com/vectorgate/gateway/pkg/registry"
)

// registerAdminProcedures wires spec.md §6's admin.* operator-tooling
// namespace. Every procedure here requires the "admin" role, checked
// on top of AuthRequired since these expose cross-user aggregate state
// a regular authenticated caller must not reach.
func registerAdminProcedures(reg *Registry, rgy *registry.Registry, led *ledger.TokenLedger, cfg *config.Config, startedAt time.Time) error {
	requireAdmin := func(principal auth.Principal) error {
		if principal == nil || !principal.HasRole("admin") {
			return gwerr.New(gwerr.Forbidden, "admin role required")
		}
		return nil
	}

	if err := reg.Register(Procedure{
		Name:         "admin.status",
		AuthRequired: true,
		RateClass:    RateClassAdmin,
		Handler: func(ctx context.Context, principal auth.Principal, raw json.RawMessage) (any, error) {
			if err := requireAdmin(principal); err != nil {
				return nil, err
			}
			return map[string]any{
				"uptime":   time.Since(startedAt).String(),
				"registry": rgy.Health(),
			}, nil
		},
	}); err != nil {
		return err
	}

	if err := reg.Register(Procedure{
		Name:         "admin.statistics",
		AuthRequired: true,
		RateClass:    RateClassAdmin,
		Handler: func(ctx context.Context, principal auth.Principal, raw json.RawMessage) (any, error) {
			if err := requireAdmin(principal); err != nil {
				return nil, err
			}
			providers := rgy.ListProviders()
			modelCount := 0
			for _, p := range providers {
				modelCount += len(p.Models)
			}
			return map[string]any{"providerCount": len(providers), "modelCount": modelCount}, nil
		},
	}); err != nil {
		return err
	}

	if err := reg.Register(Procedure{
		Name:         "admin.healthCheck",
		AuthRequired: true,
		RateClass:    RateClassAdmin,
		Handler: func(ctx context.Context, principal auth.Principal, raw json.RawMessage) (any, error) {
			if err := requireAdmin(principal); err != nil {
				return nil, err
			}
			return map[string]any{"ok": true, "registry": rgy.Health()}, nil
		},
	}); err != nil {
		return err
	}

	if err := reg.Register(Procedure{
		Name:         "admin.getConfig",
		AuthRequired: true,
		RateClass:    RateClassAdmin,
		Handler: func(ctx context.Context, principal auth.Principal, raw json.RawMessage) (any, error) {
			if err := requireAdmin(principal); err != nil {
				return nil, err
			}
			// API keys and the JWT secret never leave the process — the
			// config snapshot an operator can read is shape-only.
			return map[string]any{
				"port":           cfg.Port,
				"logLevel":       cfg.LogLevel,
				"catalogUrl":     cfg.CatalogURL,
				"byokProviders":  cfg.BYOKProviders,
				"workspaceCount": len(cfg.Workspaces),
				"defaultMaxTokens": cfg.DefaultMaxTokens,
				"maxMaxTokens":     cfg.MaxMaxTokens,
			}, nil
		},
	}); err != nil {
		return err
	}

	if err := reg.Register(Procedure{
		Name:         "admin.clearCache",
		AuthRequired: true,
		RateClass:    RateClassAdmin,
		Handler: func(ctx context.Context, principal auth.Principal, raw json.RawMessage) (any, error) {
			if err := requireAdmin(principal); err != nil {
				return nil, err
			}
			if err := rgy.Refresh(ctx); err != nil {
				return nil, gwerr.Wrap(err, "admin: refresh registry catalog")
			}
			return map[string]any{"refreshed": true}, nil
		},
	}); err != nil {
		return err
	}

	if err := reg.Register(Procedure{
		Name:         "admin.getUserInfo",
		AuthRequired: true,
		RateClass:    RateClassAdmin,
		InputSchema:  `{"type":"object","properties":{"userId":{"type":"string"}},"required":["userId"]}`,
		Handler: func(ctx context.Context, principal auth.Principal, raw json.RawMessage) (any, error) {
			if err := requireAdmin(principal); err != nil {
				return nil, err
			}
			var in struct {
				UserID string `json:"userId"`
			}
			if err := json.Unmarshal(raw, &in); err != nil {
				return nil, gwerr.New(gwerr.InvalidArgument, "invalid getUserInfo input: %v", err)
			}
			balance, err := led.Balance(ctx, in.UserID)
			if err != nil {
				return nil, err
			}
			return map[string]any{"userId": in.UserID, "balance": balance}, nil
		},
	}); err != nil {
		return err
	}

	return reg.Register(Procedure{
		Name:         "admin.getServiceLevel",
		AuthRequired: true,
		RateClass:    RateClassAdmin,
		InputSchema:  `{"type":"object","properties":{"operation":{"type":"string"}},"required":["operation"]}`,
		Handler: func(ctx context.Context, principal auth.Principal, raw json.RawMessage) (any, error) {
			if err := requireAdmin(principal); err != nil {
				return nil, err
			}
			var in struct {
				Operation string `json:"operation"`
			}
			if err := json.Unmarshal(raw, &in); err != nil {
				return nil, gwerr.New(gwerr.InvalidArgument, "invalid getServiceLevel input: %v", err)
			}
			status, err := reg.ServiceLevel(in.Operation)
			if err != nil {
				return nil, gwerr.New(gwerr.InvalidArgument, "%v", err)
			}
			return status, nil
		},
	})
}
