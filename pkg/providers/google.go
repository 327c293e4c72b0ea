package providers

import (
	"context"

	"google.golang.org/genai"

	"github.com/vectorgate/gateway/pkg/gwerr"
)

// GoogleAdapter wraps google.golang.org/genai, grounded on the teacher
// pack's gemini_sdk.go handler generalized from streaming to a single
// non-streaming GenerateContent call.
type GoogleAdapter struct{}

func NewGoogleAdapter() *GoogleAdapter { return &GoogleAdapter{} }

func (a *GoogleAdapter) GenerateText(ctx context.Context, credential Credential, model string, messages []Message, params Params) (*Result, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  credential.Reveal(),
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, gwerr.Wrap(err, "google: new client")
	}

	var contents []*genai.Content
	for _, m := range messages {
		role := "user"
		if m.Role == "assistant" {
			role = "model"
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: m.Content}},
		})
	}

	maxTokens := int32(params.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	genConfig := &genai.GenerateContentConfig{MaxOutputTokens: maxTokens}
	if params.Temperature != 0 {
		t := float32(params.Temperature)
		genConfig.Temperature = &t
	}
	if params.SystemPrompt != "" {
		genConfig.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: params.SystemPrompt}}}
	}

	resp, err := client.Models.GenerateContent(ctx, model, contents, genConfig)
	if err != nil {
		if ge, ok := classifyContextErr(ctx); ok {
			return nil, ge
		}
		return nil, NewProviderError(gwerr.UpstreamServerError, "google: %s", err.Error())
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, NewProviderError(gwerr.UpstreamServerError, "google: empty candidates")
	}

	var text string
	for _, part := range resp.Candidates[0].Content.Parts {
		text += part.Text
	}

	result := &Result{Text: text, FinishReason: string(resp.Candidates[0].FinishReason)}
	if resp.UsageMetadata != nil {
		result.InputTokens = int64(resp.UsageMetadata.PromptTokenCount)
		result.OutputTokens = int64(resp.UsageMetadata.CandidatesTokenCount)
	} else {
		result.CountsEstimated = true
	}
	return result, nil
}
