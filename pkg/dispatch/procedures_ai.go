package dispatch

import (
	"context"
	"encoding/json"

	"github.com/vectorgate/gateway/pkg/auth"
	"github.com/vectorgate/gateway/pkg/gwerr"
	"github.com/vectorgate/gateway/pkg/pipeline"
	"github.com/vectorgate/gateway/pkg/policy"
	"github.com/vectorgate/gateway/pkg/providers"
	"github.com/vectorgate/gateway/pkg/registry"
)

const generateTextInputSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "content": {"type": "string", "maxLength": 200000},
    "systemPrompt": {"type": "string", "maxLength": 25000},
    "provider": {"type": "string"},
    "apiKey": {"type": "string"},
    "metadata": {"type": "object"},
    "options": {
      "type": "object",
      "properties": {
        "maxTokens": {"type": "integer", "minimum": 1},
        "temperature": {"type": "number"},
        "topP": {"type": "number"}
      }
    }
  },
  "required": ["content"]
}`

type generateTextInput struct {
	Content      string `json:"content"`
	SystemPrompt string `json:"systemPrompt"`
	Provider     string `json:"provider"`
	APIKey       string `json:"apiKey"`
	UnlockSecret string `json:"unlockSecret"`
	Metadata     struct {
		UseWebSearch        bool     `json:"useWebSearch"`
		WebSearchPreference string   `json:"webSearchPreference"`
		AllowedDomains      []string `json:"allowedDomains"`
		BlockedDomains      []string `json:"blockedDomains"`
	} `json:"metadata"`
	Options struct {
		MaxTokens   int     `json:"maxTokens"`
		Temperature float64 `json:"temperature"`
		TopP        float64 `json:"topP"`
	} `json:"options"`
}

type generateTextOutput struct {
	Success    bool              `json:"success"`
	Data       string            `json:"data"`
	TokenUsage pipeline.TokenUsage `json:"tokenUsage"`
	UsageInfo  pipeline.UsageInfo  `json:"usageInfo"`
}

// registerAIProcedures wires spec.md §6's ai.* namespace to the C7
// request pipeline and the C1 registry; generateText is the gateway's
// one state-machine-backed mutation, the rest are read-only registry
// views.
func registerAIProcedures(reg *Registry, p *pipeline.Pipeline, rgy *registry.Registry, dispatcher *providers.Dispatcher) error {
	if err := reg.Register(Procedure{
		Name:         "ai.generateText",
		AuthRequired: false,
		RateClass:    RateClassExpensive,
		InputSchema:  generateTextInputSchema,
		Handler: func(ctx context.Context, principal auth.Principal, raw json.RawMessage) (any, error) {
			var in generateTextInput
			if err := json.Unmarshal(raw, &in); err != nil {
				return nil, gwerr.New(gwerr.InvalidArgument, "invalid generateText input: %v", err)
			}

			req := pipeline.Request{
				ProviderID:   in.Provider,
				Content:      in.Content,
				SystemPrompt: in.SystemPrompt,
				InlineAPIKey: in.APIKey,
				UnlockSecret: in.UnlockSecret,
				CallerKind:   policy.Anonymous,
				Options: pipeline.Options{
					MaxTokens:   in.Options.MaxTokens,
					Temperature: in.Options.Temperature,
					TopP:        in.Options.TopP,
				},
				Metadata: pipeline.Metadata{
					UseWebSearch:        in.Metadata.UseWebSearch,
					WebSearchPreference: pipeline.WebSearchPreference(in.Metadata.WebSearchPreference),
					AllowedDomains:      in.Metadata.AllowedDomains,
					BlockedDomains:      in.Metadata.BlockedDomains,
				},
			}
			if principal != nil {
				req.UserID = principal.GetID()
				req.Authenticated = true
				req.CallerKind = policy.Authenticated
			}

			resp, err := p.GenerateText(ctx, req)
			if err != nil {
				return nil, err
			}
			return generateTextOutput{Success: resp.Success, Data: resp.Data, TokenUsage: resp.TokenUsage, UsageInfo: resp.UsageInfo}, nil
		},
	}); err != nil {
		return err
	}

	if err := reg.Register(Procedure{
		Name:      "ai.listProviders",
		RateClass: RateClassRead,
		Handler: func(ctx context.Context, principal auth.Principal, raw json.RawMessage) (any, error) {
			return map[string]any{"providers": rgy.ListProviders()}, nil
		},
	}); err != nil {
		return err
	}

	if err := reg.Register(Procedure{
		Name:      "ai.listProvidersBYOK",
		RateClass: RateClassRead,
		Handler: func(ctx context.Context, principal auth.Principal, raw json.RawMessage) (any, error) {
			return map[string]any{"providers": rgy.ListBYOKProviders()}, nil
		},
	}); err != nil {
		return err
	}

	if err := reg.Register(Procedure{
		Name:        "ai.listAllowedModels",
		RateClass:   RateClassRead,
		InputSchema: `{"type":"object","properties":{"provider":{"type":"string"}}}`,
		Handler: func(ctx context.Context, principal auth.Principal, raw json.RawMessage) (any, error) {
			var in struct {
				Provider string `json:"provider"`
			}
			_ = json.Unmarshal(raw, &in)
			if in.Provider == "" {
				var all []registry.Model
				for _, prov := range rgy.ListProviders() {
					models, err := rgy.ListAllowedModels(prov.ProviderID)
					if err == nil {
						all = append(all, models...)
					}
				}
				return map[string]any{"models": all}, nil
			}
			models, err := rgy.ListAllowedModels(in.Provider)
			if err != nil {
				return nil, gwerr.New(gwerr.InvalidArgument, "unknown provider %q", in.Provider)
			}
			return map[string]any{"models": models}, nil
		},
	}); err != nil {
		return err
	}

	if err := reg.Register(Procedure{
		Name:      "ai.getRegistryHealth",
		RateClass: RateClassRead,
		Handler: func(ctx context.Context, principal auth.Principal, raw json.RawMessage) (any, error) {
			return rgy.Health(), nil
		},
	}); err != nil {
		return err
	}

	return reg.Register(Procedure{
		Name:        "ai.validateProvider",
		RateClass:   RateClassRead,
		InputSchema: `{"type":"object","properties":{"provider":{"type":"string"},"apiKey":{"type":"string"}},"required":["provider","apiKey"]}`,
		Handler: func(ctx context.Context, principal auth.Principal, raw json.RawMessage) (any, error) {
			var in struct {
				Provider string `json:"provider"`
				APIKey   string `json:"apiKey"`
			}
			if err := json.Unmarshal(raw, &in); err != nil {
				return nil, gwerr.New(gwerr.InvalidArgument, "invalid validateProvider input: %v", err)
			}
			prov, err := rgy.GetProvider(in.Provider)
			if err != nil {
				return map[string]any{"valid": false, "error": "unknown provider"}, nil
			}
			if len(prov.Models) == 0 {
				return map[string]any{"valid": false, "error": "provider has no catalog models to probe"}, nil
			}
			cred := providers.Credential(secretCredential(in.APIKey))
			_, genErr := dispatcher.GenerateText(ctx, prov.Type, cred, prov.Models[0].ModelID,
				[]providers.Message{{Role: "user", Content: "ping"}}, providers.Params{MaxTokens: 1})
			if genErr != nil {
				ge := classify(genErr)
				return map[string]any{"valid": false, "error": ge.Message}, nil
			}
			return map[string]any{"valid": true}, nil
		},
	})
}

// secretCredential adapts a bare string to providers.Credential for the
// one-shot validation probe, where the key never needs redaction
// treatment beyond this single call's lifetime.
type secretCredential string

func (s secretCredential) Reveal() string { return string(s) }
