// Package providers implements the C6 capability interface: one
// generateText operation per provider family, wrapping each vendor's Go
// SDK behind a single signature so the request pipeline never branches
// on provider identity. Grounded on the teacher's pkg/llm.Client
// interface (`Chat(ctx, messages, tools, options)`), generalized to
// surface token usage and classify failures into ProviderError.Kind.
package providers

import (
	"context"
	"time"

	"github.com/vectorgate/gateway/pkg/gwerr"
)

// Message is a single turn in the conversation sent to the provider.
type Message struct {
	Role    string // "user" | "assistant" | "system"
	Content string
}

// Params carries the sampling/shape options the pipeline has already
// validated and capped (spec.md §4.7's maxTokens ceiling).
type Params struct {
	MaxTokens    int
	Temperature  float64
	TopP         float64
	SystemPrompt string
	// Metadata carries web-search and domain-filter hints (spec.md
	// §4.7's metadata.useWebSearch/webSearchPreference/allowedDomains/
	// blockedDomains) opaquely through to the adapter; none of the
	// current adapters act on it.
	Metadata map[string]any
}

// Result is generateText's success shape (spec.md §4.6).
type Result struct {
	Text              string
	InputTokens       int64
	OutputTokens      int64
	FinishReason      string
	ProviderRequestID string
	// CountsEstimated is true when the provider did not report token
	// counts; it is surfaced to settlement. No estimate replaces the
	// missing counts: InputTokens and OutputTokens keep whatever the
	// adapter set (zero when nothing was reported), and the pipeline
	// settles on them as they are.
	CountsEstimated bool
}

// Credential is the minimal shape adapters need from a resolved
// credential; it never logs the key.
type Credential interface {
	Reveal() string
}

// Adapter is the uniform generateText surface every provider family
// implements.
type Adapter interface {
	GenerateText(ctx context.Context, credential Credential, model string, messages []Message, params Params) (*Result, error)
}

// NewProviderError builds a gwerr.Upstream error tagged with the
// provider-side failure kind (spec.md §4.6's ProviderError.kind enum).
func NewProviderError(kind gwerr.UpstreamKind, format string, args ...any) *gwerr.Error {
	return gwerr.New(gwerr.Upstream, format, args...).WithUpstream(kind)
}

// classifyContextErr maps ctx cancellation/deadline into the upstream
// kinds the adapter contract requires (spec.md §4.6: "cancellation
// propagates and does not commit the reservation").
func classifyContextErr(ctx context.Context) (*gwerr.Error, bool) {
	switch ctx.Err() {
	case context.Canceled:
		return NewProviderError(gwerr.UpstreamCancelled, "request cancelled"), true
	case context.DeadlineExceeded:
		return NewProviderError(gwerr.UpstreamTimeout, "request deadline exceeded"), true
	default:
		return nil, false
	}
}

// httpTimeout is the default adapter-level deadline for providers
// reached over plain net/http (huggingface): 60s, set as an
// http.Client Timeout in the style of the teacher's llm.OpenAIClient.
const httpTimeout = 60 * time.Second
