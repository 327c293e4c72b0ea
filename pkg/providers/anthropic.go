package providers

import (
	"context"
	"errors"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/vectorgate/gateway/pkg/gwerr"
)

// AnthropicAdapter wraps github.com/anthropics/anthropic-sdk-go,
// grounded on the teacher pack's anthropic_sdk.go handler generalized
// from a streaming handler to a single non-streaming generateText call.
type AnthropicAdapter struct{}

func NewAnthropicAdapter() *AnthropicAdapter { return &AnthropicAdapter{} }

func (a *AnthropicAdapter) GenerateText(ctx context.Context, credential Credential, model string, messages []Message, params Params) (*Result, error) {
	client := anthropic.NewClient(option.WithAPIKey(credential.Reveal()))

	var msgs []anthropic.MessageParam
	for _, m := range messages {
		block := anthropic.NewTextBlock(m.Content)
		switch m.Role {
		case "assistant":
			msgs = append(msgs, anthropic.NewAssistantMessage(block))
		default:
			msgs = append(msgs, anthropic.NewUserMessage(block))
		}
	}

	maxTokens := int64(params.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	reqParams := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages:  msgs,
	}
	if params.SystemPrompt != "" {
		reqParams.System = []anthropic.TextBlockParam{{Text: params.SystemPrompt}}
	}

	msg, err := client.Messages.New(ctx, reqParams)
	if err != nil {
		if ge, ok := classifyContextErr(ctx); ok {
			return nil, ge
		}
		return nil, classifyAnthropicErr(err)
	}

	var text string
	for _, block := range msg.Content {
		text += block.Text
	}

	return &Result{
		Text:              text,
		InputTokens:       msg.Usage.InputTokens,
		OutputTokens:      msg.Usage.OutputTokens,
		FinishReason:      string(msg.StopReason),
		ProviderRequestID: msg.ID,
	}, nil
}

func classifyAnthropicErr(err error) *gwerr.Error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return NewProviderError(gwerr.UpstreamAuth, "anthropic: %s", apiErr.Error())
		case http.StatusTooManyRequests:
			return NewProviderError(gwerr.UpstreamRateLimited, "anthropic: %s", apiErr.Error())
		case http.StatusBadRequest, http.StatusUnprocessableEntity:
			return NewProviderError(gwerr.UpstreamBadRequest, "anthropic: %s", apiErr.Error())
		case http.StatusRequestTimeout, http.StatusGatewayTimeout:
			return NewProviderError(gwerr.UpstreamTimeout, "anthropic: %s", apiErr.Error())
		default:
			return NewProviderError(gwerr.UpstreamServerError, "anthropic: %s", apiErr.Error())
		}
	}
	return NewProviderError(gwerr.UpstreamServerError, "anthropic: %s", err.Error())
}
