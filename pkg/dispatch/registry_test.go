package dispatch

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/vectorgate/gateway/pkg/auth"
	"github.com/vectorgate/gateway/pkg/gwerr"
	"github.com/vectorgate/gateway/pkg/kernel"
	"github.com/vectorgate/gateway/pkg/observability"
)

func echoHandler(ctx context.Context, principal auth.Principal, raw json.RawMessage) (any, error) {
	var v map[string]any
	_ = json.Unmarshal(raw, &v)
	return v, nil
}

func TestRegisterAndInvoke(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(Procedure{
		Name:        "test.echo",
		InputSchema: `{"type":"object","properties":{"msg":{"type":"string"}},"required":["msg"]}`,
		Handler:     echoHandler,
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	result, err := reg.Invoke(context.Background(), "test.echo", nil, json.RawMessage(`{"msg":"hi"}`))
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	m, ok := result.(map[string]any)
	if !ok || m["msg"] != "hi" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestInvokeUnknownProcedure(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Invoke(context.Background(), "test.missing", nil, nil)
	ge, ok := gwerr.As(err)
	if !ok || ge.Kind != gwerr.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
}

func TestInvokeRejectsInvalidSchema(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(Procedure{
		Name:        "test.echo",
		InputSchema: `{"type":"object","properties":{"msg":{"type":"string"}},"required":["msg"]}`,
		Handler:     echoHandler,
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	_, err := reg.Invoke(context.Background(), "test.echo", nil, json.RawMessage(`{}`))
	ge, ok := gwerr.As(err)
	if !ok || ge.Kind != gwerr.InvalidArgument {
		t.Fatalf("expected InvalidArgument for missing required field, got %v", err)
	}
}

type testPrincipal struct{ id string }

func (p testPrincipal) GetID() string        { return p.id }
func (p testPrincipal) GetTier() string      { return "free" }
func (p testPrincipal) GetRoles() []string   { return nil }
func (p testPrincipal) HasRole(r string) bool { return false }

func TestInvokeRejectsAnonymousWhenAuthRequired(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(Procedure{
		Name:         "test.secure",
		AuthRequired: true,
		Handler:      echoHandler,
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	_, err := reg.Invoke(context.Background(), "test.secure", nil, nil)
	ge, ok := gwerr.As(err)
	if !ok || ge.Kind != gwerr.Unauthenticated {
		t.Fatalf("expected Unauthenticated, got %v", err)
	}

	if _, err := reg.Invoke(context.Background(), "test.secure", testPrincipal{id: "user-1"}, nil); err != nil {
		t.Fatalf("expected authenticated call to succeed, got %v", err)
	}
}

func TestRegisterRejectsDuplicateName(t *testing.T) {
	reg := NewRegistry()
	p := Procedure{Name: "test.dup", Handler: echoHandler}
	if err := reg.Register(p); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := reg.Register(p); err == nil {
		t.Fatal("expected error registering duplicate procedure name")
	}
}

type stubLimiter struct {
	allow bool
}

func (s *stubLimiter) Allow(ctx context.Context, actorID string, policy kernel.BackpressurePolicy, cost int) (bool, error) {
	return s.allow, nil
}

func TestInvokeEnforcesRateLimit(t *testing.T) {
	reg := NewRegistry()
	_ = reg.Register(Procedure{Name: "test.echo", RateClass: RateClassExpensive, Handler: echoHandler})
	reg.SetRateLimiting(&stubLimiter{allow: false}, map[RateClass]kernel.BackpressurePolicy{
		RateClassExpensive: {RPM: 1, Burst: 1},
	})

	_, err := reg.Invoke(context.Background(), "test.echo", nil, json.RawMessage(`{}`))
	ge, ok := gwerr.As(err)
	if !ok || ge.Kind != gwerr.RateLimited {
		t.Fatalf("expected RateLimited, got %v", err)
	}
}

func TestInvokeAllowsUnderLimit(t *testing.T) {
	reg := NewRegistry()
	_ = reg.Register(Procedure{Name: "test.echo", Handler: echoHandler})
	reg.SetRateLimiting(&stubLimiter{allow: true}, nil)

	if _, err := reg.Invoke(context.Background(), "test.echo", nil, json.RawMessage(`{}`)); err != nil {
		t.Fatalf("expected success under limit, got %v", err)
	}
}

func TestNamesSorted(t *testing.T) {
	reg := NewRegistry()
	_ = reg.Register(Procedure{Name: "b.two", Handler: echoHandler})
	_ = reg.Register(Procedure{Name: "a.one", Handler: echoHandler})
	names := reg.Names()
	if len(names) != 2 || names[0] != "a.one" || names[1] != "b.two" {
		t.Fatalf("expected sorted names, got %v", names)
	}
}

func TestInvokeWithObservabilityDisabledStillSucceeds(t *testing.T) {
	obs, err := observability.New(context.Background(), &observability.Config{Enabled: false})
	if err != nil {
		t.Fatalf("new observability provider: %v", err)
	}

	reg := NewRegistry()
	_ = reg.Register(Procedure{Name: "test.echo", Handler: echoHandler})
	reg.SetObservability(obs)

	result, err := reg.Invoke(context.Background(), "test.echo", nil, json.RawMessage(`{"msg":"hi"}`))
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	m, ok := result.(map[string]any)
	if !ok || m["msg"] != "hi" {
		t.Fatalf("unexpected result: %+v", result)
	}
}
