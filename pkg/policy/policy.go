// Package policy is a pure decision function gating (provider, model,
// caller) admission, separate from whether a credential is available
// (that's pkg/resolver). Glob matching is grounded on the deny-before-
// allow host matching boundary enforcers use for network egress.
package policy

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/vectorgate/gateway/pkg/config"
	"github.com/vectorgate/gateway/pkg/gwerr"
)

// CallerKind distinguishes anonymous from authenticated callers for the
// BYOK-only provider carve-out in rule 1.
type CallerKind string

const (
	Anonymous     CallerKind = "anonymous"
	Authenticated CallerKind = "authenticated"
)

// Request is the input to a policy decision.
type Request struct {
	ProviderID       string
	ModelID          string // optional
	CallerKind       CallerKind
	HasBYOKForThis   bool // caller is authenticated and holds BYOK material for ProviderID
}

// Decision is the outcome of a successful check: the effective model
// (explicit request model, or the provider's configured default).
type Decision struct {
	ProviderID     string
	EffectiveModel string
}

// allowance is the tri-state normalization of spec.md §4.2's three
// provider-allow-list cases, decided once at construction.
type allowance int

const (
	allowanceAutoBYOK allowance = iota // providers undefined: auto-detect, BYOK-any
	allowanceBlockAll
	allowanceExplicit
)

// Policy evaluates admission against a registry snapshot's configured
// providers; it holds no registry reference itself — model existence is
// the registry's concern, model *eligibility* is this package's.
type Policy struct {
	mu            sync.RWMutex
	allowance     allowance
	allowedSet    map[string]bool
	byokSet       map[string]bool
	providerCfg   map[string]config.ProviderConfig
	celPrograms   map[string]cel.Program // providerID -> compiled modelRestrictions.CELExpr
	celEnv        *cel.Env
}

// New builds a Policy from the loaded configuration (spec.md §6's
// configuration-options table).
func New(cfg *config.Config) (*Policy, error) {
	env, err := cel.NewEnv(cel.Variable("model", cel.StringType))
	if err != nil {
		return nil, fmt.Errorf("policy: cel env: %w", err)
	}
	p := &Policy{
		allowedSet:  make(map[string]bool),
		byokSet:     make(map[string]bool),
		providerCfg: make(map[string]config.ProviderConfig),
		celPrograms: make(map[string]cel.Program),
		celEnv:      env,
	}
	for _, name := range cfg.BYOKProviders {
		p.byokSet[name] = true
	}

	switch {
	case cfg.Providers.Undefined:
		p.allowance = allowanceAutoBYOK
	case len(cfg.Providers.Explicit) == 0:
		p.allowance = allowanceBlockAll
	default:
		p.allowance = allowanceExplicit
	}

	for _, pc := range cfg.Providers.Explicit {
		p.providerCfg[pc.Name] = pc
		p.allowedSet[pc.Name] = true
		if pc.ModelRestrictions.CELExpr != "" {
			prg, err := p.compileCEL(pc.ModelRestrictions.CELExpr)
			if err != nil {
				return nil, fmt.Errorf("policy: provider %s modelRestrictions.celExpr: %w", pc.Name, err)
			}
			p.celPrograms[pc.Name] = prg
		}
	}
	return p, nil
}

func (p *Policy) compileCEL(expr string) (cel.Program, error) {
	ast, issues := p.celEnv.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	return p.celEnv.Program(ast)
}

// Check runs the four ordered decision rules from spec.md §4.2.
func (p *Policy) Check(req Request) (*Decision, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	// Rule 1: provider admission.
	switch p.allowance {
	case allowanceBlockAll:
		if !(req.CallerKind == Authenticated && req.HasBYOKForThis && p.byokSet[req.ProviderID]) {
			return nil, gwerr.New(gwerr.Forbidden, "provider %s not allowed", req.ProviderID).
				WithFields(map[string]any{"reason": "ProviderNotAllowed"})
		}
	case allowanceExplicit:
		allowedViaServer := p.allowedSet[req.ProviderID]
		allowedViaBYOK := req.CallerKind == Authenticated && req.HasBYOKForThis && p.byokSet[req.ProviderID]
		if !allowedViaServer && !allowedViaBYOK {
			return nil, gwerr.New(gwerr.Forbidden, "provider %s not allowed", req.ProviderID).
				WithFields(map[string]any{"reason": "ProviderNotAllowed"})
		}
	case allowanceAutoBYOK:
		// undefined providers: anything goes as long as BYOK material
		// exists for authenticated callers, or the caller relies on a
		// server-detected key (resolver's concern, not checked here).
	}

	pc, hasCfg := p.providerCfg[req.ProviderID]

	if req.ModelID != "" {
		if hasCfg {
			if matchesAny(pc.ModelRestrictions.BlockedModels, req.ModelID) {
				return nil, modelNotAllowed(req.ModelID)
			}
			if len(pc.ModelRestrictions.AllowedModels) > 0 && !matchesAny(pc.ModelRestrictions.AllowedModels, req.ModelID) {
				return nil, modelNotAllowed(req.ModelID)
			}
			if prg, ok := p.celPrograms[req.ProviderID]; ok {
				out, _, err := prg.Eval(map[string]any{"model": req.ModelID})
				if err != nil {
					return nil, gwerr.Wrap(err, "policy: cel eval")
				}
				if allowed, ok := out.Value().(bool); !ok || !allowed {
					return nil, modelNotAllowed(req.ModelID)
				}
			}
		}
		return &Decision{ProviderID: req.ProviderID, EffectiveModel: req.ModelID}, nil
	}

	// No explicit model: fall back to provider default.
	return &Decision{ProviderID: req.ProviderID, EffectiveModel: pc.DefaultModel}, nil
}

func modelNotAllowed(modelID string) error {
	return gwerr.New(gwerr.Forbidden, "model %s not allowed", modelID).
		WithFields(map[string]any{"reason": "ModelNotAllowed"})
}

// matchesAny reports whether modelID matches any of the given glob
// patterns ('*' wildcard), deny-checked before allow exactly as the
// boundary package's host matching does.
func matchesAny(patterns []string, modelID string) bool {
	for _, pat := range patterns {
		if globMatch(pat, modelID) {
			return true
		}
	}
	return false
}

func globMatch(pattern, s string) bool {
	re := "^" + strings.ReplaceAll(regexp.QuoteMeta(pattern), "\\*", ".*") + "$"
	matched, err := regexp.MatchString(re, s)
	return err == nil && matched
}
