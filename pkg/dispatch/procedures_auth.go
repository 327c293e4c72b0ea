package dispatch

import (
	"context"
	"encoding/json"

	"github.com/vectorgate/gateway/pkg/auth"
	"github.com/vectorgate/gateway/pkg/gwerr"
	"github.com/vectorgate/gateway/pkg/registry"
	"github.com/vectorgate/gateway/pkg/secretstore"
)

const storeKeyInputSchema = `{
  "type": "object",
  "properties": {
    "provider": {"type": "string", "enum": ["anthropic", "openai", "google"]},
    "apiKey": {"type": "string", "minLength": 1},
    "unlockSecret": {"type": "string", "minLength": 1}
  },
  "required": ["provider", "apiKey", "unlockSecret"]
}`

const providerOnlyInputSchema = `{
  "type": "object",
  "properties": {"provider": {"type": "string", "enum": ["anthropic", "openai", "google"]}},
  "required": ["provider"]
}`

const unlockInputSchema = `{
  "type": "object",
  "properties": {
    "provider": {"type": "string", "enum": ["anthropic", "openai", "google"]},
    "unlockSecret": {"type": "string", "minLength": 1}
  },
  "required": ["provider", "unlockSecret"]
}`

type providerKeyInput struct {
	Provider     string `json:"provider"`
	APIKey       string `json:"apiKey"`
	UnlockSecret string `json:"unlockSecret"`
}

// registerAuthProcedures wires spec.md §6's auth.* BYOK namespace to
// the C3 secret store. Every procedure here requires authentication —
// BYOK material is always scoped to a caller's own userID, never
// addressable on another user's behalf.
func registerAuthProcedures(reg *Registry, store *secretstore.Store, rgy *registry.Registry) error {
	if err := reg.Register(Procedure{
		Name:         "auth.storeUserKey",
		AuthRequired: true,
		InputSchema:  storeKeyInputSchema,
		Handler: func(ctx context.Context, principal auth.Principal, raw json.RawMessage) (any, error) {
			var in providerKeyInput
			if err := json.Unmarshal(raw, &in); err != nil {
				return nil, gwerr.New(gwerr.InvalidArgument, "invalid storeUserKey input: %v", err)
			}
			if err := store.Store(ctx, principal.GetID(), in.Provider, in.APIKey, in.UnlockSecret); err != nil {
				return nil, err
			}
			return map[string]any{"stored": true}, nil
		},
	}); err != nil {
		return err
	}

	if err := reg.Register(Procedure{
		Name:         "auth.getUserKey",
		AuthRequired: true,
		InputSchema:  providerOnlyInputSchema,
		Handler: func(ctx context.Context, principal auth.Principal, raw json.RawMessage) (any, error) {
			var in struct {
				Provider string `json:"provider"`
			}
			if err := json.Unmarshal(raw, &in); err != nil {
				return nil, gwerr.New(gwerr.InvalidArgument, "invalid getUserKey input: %v", err)
			}
			status, err := store.Status(ctx, principal.GetID(), in.Provider)
			if err != nil {
				return nil, err
			}
			// Never return the key itself — only presence and rotation metadata.
			return map[string]any{"present": status.Present, "createdAt": status.CreatedAt, "rotatedAt": status.RotatedAt}, nil
		},
	}); err != nil {
		return err
	}

	if err := reg.Register(Procedure{
		Name:         "auth.rotateUserKey",
		AuthRequired: true,
		InputSchema:  storeKeyInputSchema,
		Handler: func(ctx context.Context, principal auth.Principal, raw json.RawMessage) (any, error) {
			var in providerKeyInput
			if err := json.Unmarshal(raw, &in); err != nil {
				return nil, gwerr.New(gwerr.InvalidArgument, "invalid rotateUserKey input: %v", err)
			}
			if err := store.Rotate(ctx, principal.GetID(), in.Provider, in.APIKey, in.UnlockSecret); err != nil {
				return nil, err
			}
			return map[string]any{"rotated": true}, nil
		},
	}); err != nil {
		return err
	}

	if err := reg.Register(Procedure{
		Name:         "auth.deleteUserKey",
		AuthRequired: true,
		InputSchema:  providerOnlyInputSchema,
		Handler: func(ctx context.Context, principal auth.Principal, raw json.RawMessage) (any, error) {
			var in struct {
				Provider string `json:"provider"`
			}
			if err := json.Unmarshal(raw, &in); err != nil {
				return nil, gwerr.New(gwerr.InvalidArgument, "invalid deleteUserKey input: %v", err)
			}
			if err := store.Delete(ctx, principal.GetID(), in.Provider); err != nil {
				return nil, err
			}
			return map[string]any{"deleted": true}, nil
		},
	}); err != nil {
		return err
	}

	if err := reg.Register(Procedure{
		Name:         "auth.validateUserKey",
		AuthRequired: true,
		InputSchema:  unlockInputSchema,
		Handler: func(ctx context.Context, principal auth.Principal, raw json.RawMessage) (any, error) {
			var in struct {
				Provider     string `json:"provider"`
				UnlockSecret string `json:"unlockSecret"`
			}
			if err := json.Unmarshal(raw, &in); err != nil {
				return nil, gwerr.New(gwerr.InvalidArgument, "invalid validateUserKey input: %v", err)
			}
			if _, err := store.Unlock(ctx, principal.GetID(), in.Provider, in.UnlockSecret); err != nil {
				return map[string]any{"valid": false}, nil
			}
			return map[string]any{"valid": true}, nil
		},
	}); err != nil {
		return err
	}

	return reg.Register(Procedure{
		Name:         "auth.getUserProviders",
		AuthRequired: true,
		RateClass:    RateClassRead,
		Handler: func(ctx context.Context, principal auth.Principal, raw json.RawMessage) (any, error) {
			type providerStatus struct {
				Provider string                `json:"provider"`
				Status   *secretstore.Status `json:"status"`
			}
			var out []providerStatus
			for _, p := range rgy.ListBYOKProviders() {
				status, err := store.Status(ctx, principal.GetID(), p.ProviderID)
				if err != nil {
					return nil, err
				}
				out = append(out, providerStatus{Provider: p.ProviderID, Status: status})
			}
			return map[string]any{"providers": out}, nil
		},
	})
}
