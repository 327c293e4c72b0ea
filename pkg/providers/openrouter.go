package providers

import (
	"context"

	openrouter "github.com/revrost/go-openrouter"

	"github.com/vectorgate/gateway/pkg/gwerr"
)

// OpenRouterAdapter wraps github.com/revrost/go-openrouter, grounded
// on the teacher pack's openrouter_sdk.go handler generalized from
// streaming to a single non-streaming completion.
type OpenRouterAdapter struct{}

func NewOpenRouterAdapter() *OpenRouterAdapter { return &OpenRouterAdapter{} }

func (a *OpenRouterAdapter) GenerateText(ctx context.Context, credential Credential, model string, messages []Message, params Params) (*Result, error) {
	client := openrouter.NewClient(credential.Reveal())

	var msgs []openrouter.ChatCompletionMessage
	if params.SystemPrompt != "" {
		msgs = append(msgs, openrouter.ChatCompletionMessage{
			Role:    openrouter.ChatMessageRoleSystem,
			Content: openrouter.Content{Text: params.SystemPrompt},
		})
	}
	for _, m := range messages {
		role := openrouter.ChatMessageRoleUser
		if m.Role == "assistant" {
			role = openrouter.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openrouter.ChatCompletionMessage{Role: role, Content: openrouter.Content{Text: m.Content}})
	}

	req := openrouter.ChatCompletionRequest{
		Model:    model,
		Messages: msgs,
	}
	if params.MaxTokens > 0 {
		req.MaxTokens = params.MaxTokens
	}
	if params.Temperature != 0 {
		req.Temperature = float32(params.Temperature)
	}

	resp, err := client.CreateChatCompletion(ctx, req)
	if err != nil {
		if ge, ok := classifyContextErr(ctx); ok {
			return nil, ge
		}
		return nil, NewProviderError(gwerr.UpstreamServerError, "openrouter: %s", err.Error())
	}
	if len(resp.Choices) == 0 {
		return nil, NewProviderError(gwerr.UpstreamServerError, "openrouter: empty choices")
	}

	choice := resp.Choices[0]
	return &Result{
		Text:              choice.Message.Content.Text,
		InputTokens:       int64(resp.Usage.PromptTokens),
		OutputTokens:      int64(resp.Usage.CompletionTokens),
		FinishReason:      string(choice.FinishReason),
		ProviderRequestID: resp.ID,
	}, nil
}
