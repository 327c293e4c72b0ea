package dispatch

import (
	"net/http"
	"time"

	"github.com/vectorgate/gateway/pkg/config"
	"github.com/vectorgate/gateway/pkg/kernel"
	"github.com/vectorgate/gateway/pkg/ledger"
	"github.com/vectorgate/gateway/pkg/observability"
	"github.com/vectorgate/gateway/pkg/pipeline"
	"github.com/vectorgate/gateway/pkg/providers"
	"github.com/vectorgate/gateway/pkg/registry"
	"github.com/vectorgate/gateway/pkg/secretstore"
	"github.com/vectorgate/gateway/pkg/workspace"
)

// Dependencies bundles the already-constructed C1-C8 components the
// dispatch registry's procedures need. All fields are required except
// Providers, which is only consulted by ai.validateProvider, and
// RateLimiter/RatePolicies/Observability, which are optional (a nil
// value skips the corresponding cross-cutting concern entirely).
type Dependencies struct {
	Pipeline   *pipeline.Pipeline
	Registry   *registry.Registry
	Secrets    *secretstore.Store
	Ledger     *ledger.TokenLedger
	Workspaces *workspace.Manager
	Providers  *providers.Dispatcher
	Config     *config.Config
	StartedAt  time.Time

	RateLimiter  kernel.LimiterStore
	RatePolicies map[RateClass]kernel.BackpressurePolicy

	Observability *observability.Provider
}

// NewServer builds the procedure registry from deps and registers
// every spec.md §6 namespace against it.
func NewServer(deps Dependencies) (*Registry, error) {
	reg := NewRegistry()

	if err := registerAIProcedures(reg, deps.Pipeline, deps.Registry, deps.Providers); err != nil {
		return nil, err
	}
	if err := registerAuthProcedures(reg, deps.Secrets, deps.Registry); err != nil {
		return nil, err
	}
	if err := registerBillingProcedures(reg, deps.Ledger); err != nil {
		return nil, err
	}
	if err := registerSystemProcedures(reg, deps.Workspaces); err != nil {
		return nil, err
	}
	if err := registerAdminProcedures(reg, deps.Registry, deps.Ledger, deps.Config, deps.StartedAt); err != nil {
		return nil, err
	}

	if deps.RateLimiter != nil {
		reg.SetRateLimiting(deps.RateLimiter, deps.RatePolicies)
	}
	if deps.Observability != nil {
		reg.SetObservability(deps.Observability)
	}

	for _, target := range defaultSLOTargets {
		reg.SetSLOTarget(target)
	}

	return reg, nil
}

// defaultSLOTargets are the objectives admin.getServiceLevel reports
// against; the window is short enough that a single gatewayd process's
// in-memory observations are a meaningful sample.
var defaultSLOTargets = []*observability.SLOTarget{
	{SLOID: "ai-generate-text", Name: "Text generation", Operation: "ai.generateText", LatencyP99: 20 * time.Second, SuccessRate: 0.98, WindowHours: 1},
	{SLOID: "billing-plan-consumption", Name: "Consumption planning", Operation: "billing.planConsumption", LatencyP99: 200 * time.Millisecond, SuccessRate: 0.999, WindowHours: 1},
	{SLOID: "system-read-file", Name: "Workspace file read", Operation: "system.readFile", LatencyP99: 500 * time.Millisecond, SuccessRate: 0.995, WindowHours: 1},
}

// toolDescriptors gives MCP's tools/list a human-facing description
// per procedure — kept separate from Registry.Procedure since the
// other two wire shells have no use for prose descriptions.
var toolDescriptors = []ToolDescriptor{
	{Name: "ai.generateText", Description: "Generate text from a configured or caller-supplied AI provider"},
	{Name: "ai.listProviders", Description: "List every catalog provider"},
	{Name: "ai.listProvidersBYOK", Description: "List providers eligible for bring-your-own-key credentials"},
	{Name: "ai.listAllowedModels", Description: "List a provider's allowed models"},
	{Name: "ai.getRegistryHealth", Description: "Report the provider catalog's readiness and source"},
	{Name: "ai.validateProvider", Description: "Probe whether a supplied API key is accepted by a provider"},
	{Name: "auth.storeUserKey", Description: "Store an encrypted BYOK API key"},
	{Name: "auth.getUserKey", Description: "Report BYOK key presence without revealing it"},
	{Name: "auth.rotateUserKey", Description: "Replace a stored BYOK API key"},
	{Name: "auth.deleteUserKey", Description: "Delete a stored BYOK API key"},
	{Name: "auth.validateUserKey", Description: "Verify an unlock secret against a stored BYOK key"},
	{Name: "auth.getUserProviders", Description: "List BYOK status across every eligible provider"},
	{Name: "billing.getTokenBalance", Description: "Report prepaid and subscription token balance"},
	{Name: "billing.getUsageHistory", Description: "Page through settled usage events"},
	{Name: "billing.getUsageAnalytics", Description: "Summarize usage and cost over a trailing window"},
	{Name: "billing.planConsumption", Description: "Check whether a planned request would fit the caller's balance"},
	{Name: "system.listFiles", Description: "List files under a registered workspace"},
	{Name: "system.readFile", Description: "Read a file from a registered workspace"},
	{Name: "system.writeFile", Description: "Write a file into a registered workspace"},
	{Name: "system.pathExists", Description: "Check whether a path exists in a registered workspace"},
	{Name: "system.registerWorkspace", Description: "Register a new workspace root"},
}

// RegisterRoutes mounts the three wire shells onto mux, mirroring the
// teacher's MCP gateway's RegisterRoutes(mux) composition idiom so all
// of /rpc, /trpc/, and /mcp share one *http.ServeMux and, transitively,
// whatever middleware the caller wraps it in.
func RegisterRoutes(mux *http.ServeMux, reg *Registry) {
	mux.HandleFunc("/rpc", JSONRPCHandler(reg))
	mux.HandleFunc("/trpc/", TRPCHandler(reg))
	mux.HandleFunc("/mcp", MCPHandler(reg, toolDescriptors))
}
