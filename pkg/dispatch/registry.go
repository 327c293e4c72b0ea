// Package dispatch holds the single procedure registry that all three
// wire protocols (JSON-RPC, tRPC, MCP) generate their handlers from
// (spec.md §4.9): one name, one input/output schema pair, one
// authentication flag, one rate class, one Go handler, regardless of
// which transport a caller used to reach it.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/vectorgate/gateway/pkg/auth"
	"github.com/vectorgate/gateway/pkg/gwerr"
	"github.com/vectorgate/gateway/pkg/kernel"
	"github.com/vectorgate/gateway/pkg/observability"
)

// RateClass names a kernel.BackpressurePolicy bucket a procedure draws
// from; the concrete policy per class is supplied at server
// construction time (spec.md §6's per-tier rate limits).
type RateClass string

const (
	RateClassDefault RateClass = "default"
	RateClassExpensive RateClass = "expensive" // ai.generateText and friends
	RateClassRead      RateClass = "read"      // list/status/history reads
	RateClassAdmin     RateClass = "admin"
)

// Handler runs a dispatched procedure. principal is nil for anonymous
// callers; the registry itself enforces AuthRequired before a Handler
// ever sees a nil principal on a gated procedure.
type Handler func(ctx context.Context, principal auth.Principal, rawInput json.RawMessage) (any, error)

// Procedure is one entry in the registry: a name, its schemas, and the
// policy the three wire shells all apply identically.
type Procedure struct {
	Name         string // dotted namespace, e.g. "ai.generateText"
	AuthRequired bool
	RateClass    RateClass
	InputSchema  string // raw JSON Schema text, compiled at Register time; "" skips validation
	Handler      Handler

	compiledInput *jsonschema.Schema
}

// Registry is the procedure catalog every wire shell dispatches
// through. Safe for concurrent registration and lookup.
type Registry struct {
	mu         sync.RWMutex
	procedures map[string]*Procedure
	compiler   *jsonschema.Compiler

	limiter  kernel.LimiterStore
	policies map[RateClass]kernel.BackpressurePolicy

	obs *observability.Provider
	slo *observability.SLOTracker
}

// NewRegistry builds an empty procedure registry.
func NewRegistry() *Registry {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	return &Registry{
		procedures: make(map[string]*Procedure),
		compiler:   c,
		slo:        observability.NewSLOTracker(),
	}
}

// SetRateLimiting binds a limiter store and per-class policies so
// Invoke enforces rate limits by the target procedure's RateClass
// rather than one flat policy for every wire shell. Calling this is
// optional; a registry with no limiter configured skips the check.
func (r *Registry) SetRateLimiting(store kernel.LimiterStore, policies map[RateClass]kernel.BackpressurePolicy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limiter = store
	r.policies = policies
}

// SetSLOTarget registers a latency/success-rate objective for a
// procedure name; ServiceLevel reports compliance against it once
// enough Invoke observations have accumulated.
func (r *Registry) SetSLOTarget(target *observability.SLOTarget) {
	r.slo.SetTarget(target)
}

// ServiceLevel reports the current SLO status for a procedure name, or
// an error if no target was registered for it via SetSLOTarget.
func (r *Registry) ServiceLevel(name string) (*observability.SLOStatus, error) {
	return r.slo.Status(name)
}

// SetObservability binds an OpenTelemetry provider so every Invoke call
// is wrapped in a span and contributes to the request-rate/error/
// duration metrics, regardless of which wire shell it arrived through.
// Calling this is optional; a nil provider (the zero value of this
// field) makes Invoke skip instrumentation entirely.
func (r *Registry) SetObservability(obs *observability.Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.obs = obs
}

// Register adds a procedure, compiling its input schema (if any) once
// up front so dispatch-time validation never pays a compile cost.
func (r *Registry) Register(p Procedure) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p.Name == "" {
		return fmt.Errorf("dispatch: procedure name is required")
	}
	if _, exists := r.procedures[p.Name]; exists {
		return fmt.Errorf("dispatch: procedure %q already registered", p.Name)
	}
	if p.Handler == nil {
		return fmt.Errorf("dispatch: procedure %q has no handler", p.Name)
	}
	if p.RateClass == "" {
		p.RateClass = RateClassDefault
	}

	if p.InputSchema != "" {
		url := "https://gateway.local/schemas/" + strings.ReplaceAll(p.Name, ".", "-") + ".json"
		if err := r.compiler.AddResource(url, strings.NewReader(p.InputSchema)); err != nil {
			return fmt.Errorf("dispatch: load schema for %q: %w", p.Name, err)
		}
		schema, err := r.compiler.Compile(url)
		if err != nil {
			return fmt.Errorf("dispatch: compile schema for %q: %w", p.Name, err)
		}
		p.compiledInput = schema
	}

	cp := p
	r.procedures[p.Name] = &cp
	return nil
}

// Lookup returns the named procedure, or ok=false.
func (r *Registry) Lookup(name string) (*Procedure, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.procedures[name]
	return p, ok
}

// Names returns every registered procedure name, sorted, for
// admin/capability listings.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.procedures))
	for n := range r.procedures {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Invoke validates input against the procedure's schema, enforces its
// authentication requirement, and runs its handler. Every wire shell
// (JSON-RPC, tRPC, MCP) calls this so error classification and
// auth/schema enforcement happen exactly once.
func (r *Registry) Invoke(ctx context.Context, name string, principal auth.Principal, rawInput json.RawMessage) (result any, err error) {
	r.mu.RLock()
	obs := r.obs
	r.mu.RUnlock()
	p, ok := r.Lookup(name)
	if !ok {
		if obs != nil {
			_, end := obs.TrackOperation(ctx, "dispatch.invoke/"+name, observability.ProcedureCall(name, "", "")...)
			defer func() { end(err) }()
		}
		return nil, gwerr.New(gwerr.InvalidArgument, "unknown procedure %q", name)
	}

	if obs != nil {
		actorID := "anonymous"
		if principal != nil && principal.GetID() != "" {
			actorID = principal.GetID()
		}
		var end func(error)
		ctx, end = obs.TrackOperation(ctx, "dispatch.invoke/"+name, observability.ProcedureCall(name, string(p.RateClass), actorID)...)
		defer func() { end(err) }()
	}

	start := time.Now()
	defer func() {
		r.slo.Record(observability.SLOObservation{
			Operation: name,
			Latency:   time.Since(start),
			Success:   err == nil,
		})
	}()

	if p.AuthRequired && (principal == nil || principal.GetID() == "") {
		return nil, gwerr.New(gwerr.Unauthenticated, "procedure %q requires authentication", name)
	}

	if err := r.checkRateLimit(ctx, p, principal); err != nil {
		return nil, err
	}

	if p.compiledInput != nil {
		if len(rawInput) == 0 {
			rawInput = []byte("{}")
		}
		var v any
		if err := json.Unmarshal(rawInput, &v); err != nil {
			return nil, gwerr.New(gwerr.InvalidArgument, "invalid JSON input: %v", err)
		}
		if err := p.compiledInput.Validate(v); err != nil {
			return nil, gwerr.New(gwerr.InvalidArgument, "input failed validation: %v", err)
		}
	}

	result, err = p.Handler(ctx, principal, rawInput)
	return result, err
}

// PolicyFor returns the kernel.BackpressurePolicy bound to a
// procedure's rate class, or the default if the class isn't configured.
func PolicyFor(policies map[RateClass]kernel.BackpressurePolicy, class RateClass) kernel.BackpressurePolicy {
	if p, ok := policies[class]; ok {
		return p
	}
	return policies[RateClassDefault]
}

// checkRateLimit applies the registry's configured limiter (if any) to
// the procedure's rate class, bucketed per actor per class so an
// expensive-class burst can't starve reads from the same caller.
func (r *Registry) checkRateLimit(ctx context.Context, p *Procedure, principal auth.Principal) error {
	r.mu.RLock()
	store := r.limiter
	policies := r.policies
	r.mu.RUnlock()

	if store == nil {
		return nil
	}

	actorID := "anonymous"
	if principal != nil && principal.GetID() != "" {
		actorID = principal.GetID()
	}
	bucketKey := actorID + ":" + string(p.RateClass)

	policy := PolicyFor(policies, p.RateClass)
	allowed, err := store.Allow(ctx, bucketKey, policy, 1)
	if err != nil {
		return nil
	}
	if !allowed {
		return gwerr.New(gwerr.RateLimited, "rate limit exceeded for %q", p.Name)
	}
	return nil
}
