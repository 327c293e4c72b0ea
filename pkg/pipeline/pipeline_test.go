package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/vectorgate/gateway/pkg/config"
	"github.com/vectorgate/gateway/pkg/gwerr"
	"github.com/vectorgate/gateway/pkg/ledger"
	"github.com/vectorgate/gateway/pkg/policy"
	"github.com/vectorgate/gateway/pkg/providers"
	"github.com/vectorgate/gateway/pkg/registry"
	"github.com/vectorgate/gateway/pkg/resolver"
	"github.com/vectorgate/gateway/pkg/secretstore"
)

type fakeDispatcher struct {
	result *providers.Result
	err    error
	calls  int
}

func (f *fakeDispatcher) GenerateText(ctx context.Context, typeAlias string, credential providers.Credential, model string, messages []providers.Message, params providers.Params) (*providers.Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeBYOKChecker struct {
	present bool
	key     string
}

func (f *fakeBYOKChecker) Status(ctx context.Context, userID, providerID string) (*secretstore.Status, error) {
	return &secretstore.Status{Present: f.present}, nil
}

func (f *fakeBYOKChecker) Unlock(ctx context.Context, userID, providerID, unlockSecret string) (string, error) {
	return f.key, nil
}

func testFallback() map[string]*registry.Provider {
	return map[string]*registry.Provider{
		"openai": {
			ProviderID:   "openai",
			DisplayName:  "OpenAI",
			Type:         "openai",
			DefaultModel: "gpt-4o-mini",
			BYOKEligible: true,
			Available:    true,
			Models: []registry.Model{
				{ProviderID: "openai", ModelID: "gpt-4o-mini", ContextWindow: 128000, InputPricePerM: 0.15, OutputPricePerM: 0.60},
			},
		},
	}
}

func testConfig() *config.Config {
	return &config.Config{
		Providers: config.Providers{Explicit: []config.ProviderConfig{
			{Name: "openai", Type: "openai", DefaultModel: "gpt-4o-mini"},
		}},
		ReservationTTL:          5 * time.Minute,
		ReservationSafetyMargin: 30 * time.Second,
		DefaultRequestDeadline:  3 * time.Minute,
		DefaultMaxTokens:        256,
		MaxMaxTokens:            65536,
		SystemPromptMaxLength:   25000,
	}
}

func newTestPipeline(t *testing.T, disp adapterDispatcher, secrets resolver.BYOKStatusChecker, server resolver.ServerKeys, led *ledger.TokenLedger) *Pipeline {
	t.Helper()
	cfg := testConfig()
	reg := registry.New(testFallback(), nil, nil)
	pol, err := policy.New(cfg)
	if err != nil {
		t.Fatalf("policy.New: %v", err)
	}
	res := resolver.New(secrets, server)
	if led == nil {
		led = ledger.New(ledger.NewMemoryAccounts())
	}
	p, err := New(cfg, reg, pol, res, led, disp, nil)
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}
	return p
}

// scenario: server-held key, balance gate passes, request succeeds and
// the balance is debited by the actual (not estimated) cost.
func TestGenerateTextServerKeyDebitsActualCost(t *testing.T) {
	ctx := context.Background()
	accounts := ledger.NewMemoryAccounts()
	led := ledger.New(accounts)
	if err := accounts.Grant(ctx, "user-1", 0, 1_000_000, time.Now().Add(30*24*time.Hour)); err != nil {
		t.Fatalf("grant: %v", err)
	}

	disp := &fakeDispatcher{result: &providers.Result{Text: "hi there", InputTokens: 100, OutputTokens: 50}}
	p := newTestPipeline(t, disp, nil, resolver.ServerKeys{"openai": "sk-server"}, led)

	resp, err := p.GenerateText(ctx, Request{
		UserID:     "user-1",
		ProviderID: "openai",
		Content:    "hello",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.Success || resp.Data != "hi there" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if !resp.UsageInfo.Charged {
		t.Fatal("expected server-key usage to be charged")
	}
	wantCost := 100.0/1_000_000*0.15 + 50.0/1_000_000*0.60
	if resp.UsageInfo.CostUSD != wantCost {
		t.Fatalf("expected cost %v, got %v", wantCost, resp.UsageInfo.CostUSD)
	}
	if disp.calls != 1 {
		t.Fatalf("expected exactly one adapter call, got %d", disp.calls)
	}
}

// scenario: BYOK credential short-circuits metering — no UsageEvent
// charged, and the reservation never touches the balance.
func TestGenerateTextBYOKIsNotCharged(t *testing.T) {
	ctx := context.Background()
	disp := &fakeDispatcher{result: &providers.Result{Text: "ok", InputTokens: 10, OutputTokens: 5}}
	secrets := &fakeBYOKChecker{present: true, key: "sk-byok"}
	p := newTestPipeline(t, disp, secrets, nil, nil)

	resp, err := p.GenerateText(ctx, Request{
		UserID:        "user-2",
		Authenticated: true,
		CallerKind:    policy.Authenticated,
		ProviderID:    "openai",
		Content:       "hello",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.UsageInfo.Charged {
		t.Fatal("expected BYOK usage to be uncharged")
	}
	if resp.UsageInfo.CostUSD != 0 {
		t.Fatalf("expected zero cost for BYOK, got %v", resp.UsageInfo.CostUSD)
	}
}

// scenario: balance gate rejects a request whose estimated cost
// exceeds the caller's available balance, before any adapter call.
func TestGenerateTextInsufficientBalanceRejectsBeforeExecution(t *testing.T) {
	ctx := context.Background()
	accounts := ledger.NewMemoryAccounts()
	led := ledger.New(accounts)
	// user-3 is never granted a balance: it starts at zero, which can't
	// cover any non-zero estimated cost.

	disp := &fakeDispatcher{result: &providers.Result{Text: "unreachable"}}
	p := newTestPipeline(t, disp, nil, resolver.ServerKeys{"openai": "sk-server"}, led)

	_, err := p.GenerateText(ctx, Request{
		UserID:     "user-3",
		ProviderID: "openai",
		Content:    "hello",
	})
	ge, ok := gwerr.As(err)
	if !ok || ge.Kind != gwerr.InsufficientBalance {
		t.Fatalf("expected InsufficientBalance, got %v", err)
	}
	if disp.calls != 0 {
		t.Fatal("adapter must not be called when reservation is rejected")
	}
}

// scenario: execution failure refunds the reservation in full.
func TestGenerateTextExecutionFailureRefundsReservation(t *testing.T) {
	ctx := context.Background()
	accounts := ledger.NewMemoryAccounts()
	led := ledger.New(accounts)
	if err := accounts.Grant(ctx, "user-4", 0, 1_000_000, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("grant: %v", err)
	}
	before, err := led.Balance(ctx, "user-4")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}

	disp := &fakeDispatcher{err: providers.NewProviderError(gwerr.UpstreamServerError, "boom")}
	p := newTestPipeline(t, disp, nil, resolver.ServerKeys{"openai": "sk-server"}, led)

	_, err = p.GenerateText(ctx, Request{
		UserID:     "user-4",
		ProviderID: "openai",
		Content:    "hello",
	})
	ge, ok := gwerr.As(err)
	if !ok || ge.Kind != gwerr.Upstream {
		t.Fatalf("expected Upstream failure, got %v", err)
	}

	after, err := led.Balance(ctx, "user-4")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if after.Available != before.Available {
		t.Fatalf("expected balance restored after refund: before=%v after=%v", before.Available, after.Available)
	}
}

// scenario: no provider specified and more than one is configured → reject.
func TestGenerateTextRejectsAmbiguousProvider(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.Providers.Explicit = append(cfg.Providers.Explicit, config.ProviderConfig{Name: "anthropic", Type: "anthropic"})
	reg := registry.New(testFallback(), nil, nil)
	pol, err := policy.New(cfg)
	if err != nil {
		t.Fatalf("policy.New: %v", err)
	}
	res := resolver.New(nil, resolver.ServerKeys{"openai": "sk"})
	led := ledger.New(ledger.NewMemoryAccounts())
	disp := &fakeDispatcher{}
	p, err := New(cfg, reg, pol, res, led, disp, nil)
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}

	_, err = p.GenerateText(ctx, Request{UserID: "user-5", Content: "hello"})
	ge, ok := gwerr.As(err)
	if !ok || ge.Kind != gwerr.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
	if disp.calls != 0 {
		t.Fatal("adapter must not be called for a rejected request")
	}
}

// scenario: empty content is rejected at validation, before any
// downstream component is touched.
func TestGenerateTextRejectsEmptyContent(t *testing.T) {
	ctx := context.Background()
	disp := &fakeDispatcher{}
	p := newTestPipeline(t, disp, nil, resolver.ServerKeys{"openai": "sk-server"}, nil)

	_, err := p.GenerateText(ctx, Request{UserID: "user-6", ProviderID: "openai", Content: "   "})
	ge, ok := gwerr.As(err)
	if !ok || ge.Kind != gwerr.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
	if disp.calls != 0 {
		t.Fatal("adapter must not be called for invalid input")
	}
}
