package providers

import (
	"context"
	"sync"

	"github.com/vectorgate/gateway/pkg/gwerr"
)

// Dispatcher selects an Adapter by a provider's type alias rather than
// its providerId (spec.md §4.6), so a user-declared OpenAI-compatible
// provider (e.g. "deepseek") reuses the openai adapter with its own
// baseUrl.
type Dispatcher struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

func NewDispatcher() *Dispatcher {
	d := &Dispatcher{adapters: make(map[string]Adapter)}
	d.adapters["anthropic"] = NewAnthropicAdapter()
	d.adapters["openai"] = NewOpenAIAdapter("")
	d.adapters["google"] = NewGoogleAdapter()
	d.adapters["openrouter"] = NewOpenRouterAdapter()
	d.adapters["huggingface"] = NewHuggingFaceAdapter("")
	return d
}

// RegisterCompatible wires an `openai-compatible` provider declaration
// (spec.md §4.6) as a dedicated OpenAI adapter instance bound to its
// own baseUrl, keyed by the provider's type alias.
func (d *Dispatcher) RegisterCompatible(typeAlias, baseURL string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.adapters[typeAlias] = NewOpenAIAdapter(baseURL)
}

func (d *Dispatcher) GenerateText(ctx context.Context, typeAlias string, credential Credential, model string, messages []Message, params Params) (*Result, error) {
	d.mu.RLock()
	adapter, ok := d.adapters[typeAlias]
	d.mu.RUnlock()
	if !ok {
		return nil, gwerr.New(gwerr.Internal, "no adapter registered for type %q", typeAlias)
	}
	return adapter.GenerateText(ctx, credential, model, messages, params)
}
