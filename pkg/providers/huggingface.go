package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/vectorgate/gateway/pkg/gwerr"
)

// HuggingFaceAdapter has no Go SDK in the retrieved pack (DESIGN.md),
// so it is implemented directly on net/http against the OpenAI-
// compatible chat-completions route Hugging Face's Inference Providers
// expose, in the teacher's pkg/llm.OpenAIClient style: manual
// request/response structs, http.NewRequestWithContext,
// http.Client{Timeout: ...}.
type HuggingFaceAdapter struct {
	BaseURL string
	httpc   *http.Client
}

func NewHuggingFaceAdapter(baseURL string) *HuggingFaceAdapter {
	if baseURL == "" {
		baseURL = "https://router.huggingface.co/v1"
	}
	return &HuggingFaceAdapter{BaseURL: baseURL, httpc: &http.Client{Timeout: httpTimeout}}
}

type hfMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type hfRequest struct {
	Model       string      `json:"model"`
	Messages    []hfMessage `json:"messages"`
	MaxTokens   int         `json:"max_tokens,omitempty"`
	Temperature float64     `json:"temperature,omitempty"`
}

type hfResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
}

type hfErrorBody struct {
	Error string `json:"error"`
}

func (a *HuggingFaceAdapter) GenerateText(ctx context.Context, credential Credential, model string, messages []Message, params Params) (*Result, error) {
	reqBody := hfRequest{Model: model, MaxTokens: params.MaxTokens, Temperature: params.Temperature}
	if params.SystemPrompt != "" {
		reqBody.Messages = append(reqBody.Messages, hfMessage{Role: "system", Content: params.SystemPrompt})
	}
	for _, m := range messages {
		reqBody.Messages = append(reqBody.Messages, hfMessage{Role: m.Role, Content: m.Content})
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, gwerr.Wrap(err, "huggingface: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, gwerr.Wrap(err, "huggingface: build request")
	}
	req.Header.Set("Authorization", "Bearer "+credential.Reveal())
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpc.Do(req)
	if err != nil {
		if ge, ok := classifyContextErr(ctx); ok {
			return nil, ge
		}
		return nil, NewProviderError(gwerr.UpstreamTimeout, "huggingface: %s", err.Error())
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		var eb hfErrorBody
		_ = json.NewDecoder(resp.Body).Decode(&eb)
		return nil, classifyHuggingFaceStatus(resp.StatusCode, eb.Error)
	}

	var hr hfResponse
	if err := json.NewDecoder(resp.Body).Decode(&hr); err != nil {
		return nil, gwerr.Wrap(err, "huggingface: decode response")
	}
	if len(hr.Choices) == 0 {
		return nil, NewProviderError(gwerr.UpstreamServerError, "huggingface: empty choices")
	}

	return &Result{
		Text:              hr.Choices[0].Message.Content,
		InputTokens:       hr.Usage.PromptTokens,
		OutputTokens:      hr.Usage.CompletionTokens,
		FinishReason:      hr.Choices[0].FinishReason,
		ProviderRequestID: hr.ID,
		CountsEstimated:   hr.Usage.PromptTokens == 0 && hr.Usage.CompletionTokens == 0,
	}, nil
}

func classifyHuggingFaceStatus(status int, msg string) *gwerr.Error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return NewProviderError(gwerr.UpstreamAuth, "huggingface: %s", msg)
	case http.StatusTooManyRequests:
		return NewProviderError(gwerr.UpstreamRateLimited, "huggingface: %s", msg)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return NewProviderError(gwerr.UpstreamBadRequest, "huggingface: %s", msg)
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return NewProviderError(gwerr.UpstreamTimeout, "huggingface: %s", msg)
	default:
		return NewProviderError(gwerr.UpstreamServerError, "huggingface: status %d: %s", status, msg)
	}
}
