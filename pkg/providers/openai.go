package providers

import (
	"context"
	"errors"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/vectorgate/gateway/pkg/gwerr"
)

// OpenAIAdapter wraps github.com/openai/openai-go and, via baseURL,
// also serves any `openai-compatible` declared provider (spec.md §4.6:
// "the pipeline selects an adapter by the provider's type alias, not by
// providerId, so user-declared providers can reuse the OpenAI
// adapter"). Grounded on the teacher pack's openai_sdk.go handler,
// generalized to a single non-streaming call.
type OpenAIAdapter struct {
	// BaseURL overrides the default OpenAI endpoint for
	// openai-compatible providers (e.g. a self-hosted deepseek gateway).
	BaseURL string
}

func NewOpenAIAdapter(baseURL string) *OpenAIAdapter { return &OpenAIAdapter{BaseURL: baseURL} }

func (a *OpenAIAdapter) GenerateText(ctx context.Context, credential Credential, model string, messages []Message, params Params) (*Result, error) {
	opts := []option.RequestOption{option.WithAPIKey(credential.Reveal())}
	if a.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(a.BaseURL))
	}
	client := openai.NewClient(opts...)

	var msgs []openai.ChatCompletionMessageParamUnion
	if params.SystemPrompt != "" {
		msgs = append(msgs, openai.SystemMessage(params.SystemPrompt))
	}
	for _, m := range messages {
		switch m.Role {
		case "assistant":
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		case "system":
			msgs = append(msgs, openai.SystemMessage(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}

	reqParams := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: msgs,
	}
	if params.MaxTokens > 0 {
		reqParams.MaxTokens = openai.Int(int64(params.MaxTokens))
	}
	if params.Temperature != 0 {
		reqParams.Temperature = openai.Float(params.Temperature)
	}

	resp, err := client.Chat.Completions.New(ctx, reqParams)
	if err != nil {
		if ge, ok := classifyContextErr(ctx); ok {
			return nil, ge
		}
		return nil, classifyOpenAIErr(err)
	}
	if len(resp.Choices) == 0 {
		return nil, NewProviderError(gwerr.UpstreamServerError, "openai: empty choices")
	}

	choice := resp.Choices[0]
	return &Result{
		Text:              choice.Message.Content,
		InputTokens:       resp.Usage.PromptTokens,
		OutputTokens:      resp.Usage.CompletionTokens,
		FinishReason:      string(choice.FinishReason),
		ProviderRequestID: resp.ID,
	}, nil
}

func classifyOpenAIErr(err error) *gwerr.Error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return NewProviderError(gwerr.UpstreamAuth, "openai: %s", apiErr.Error())
		case http.StatusTooManyRequests:
			return NewProviderError(gwerr.UpstreamRateLimited, "openai: %s", apiErr.Error())
		case http.StatusBadRequest, http.StatusUnprocessableEntity:
			return NewProviderError(gwerr.UpstreamBadRequest, "openai: %s", apiErr.Error())
		case http.StatusRequestTimeout, http.StatusGatewayTimeout:
			return NewProviderError(gwerr.UpstreamTimeout, "openai: %s", apiErr.Error())
		default:
			return NewProviderError(gwerr.UpstreamServerError, "openai: %s", apiErr.Error())
		}
	}
	return NewProviderError(gwerr.UpstreamServerError, "openai: %s", err.Error())
}
