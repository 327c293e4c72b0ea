package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vectorgate/gateway/pkg/gwerr"
)

type staticCredential string

func (c staticCredential) Reveal() string { return string(c) }

func TestHuggingFaceGenerateTextSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Fatalf("expected bearer auth header, got %q", got)
		}
		resp := hfResponse{ID: "req-1"}
		resp.Choices = []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		}{{FinishReason: "stop"}}
		resp.Choices[0].Message.Content = "hello there"
		resp.Usage.PromptTokens = 10
		resp.Usage.CompletionTokens = 4
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	adapter := NewHuggingFaceAdapter(srv.URL)
	result, err := adapter.GenerateText(context.Background(), staticCredential("test-key"), "llama-3", []Message{{Role: "user", Content: "hi"}}, Params{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Text != "hello there" {
		t.Fatalf("unexpected text: %q", result.Text)
	}
	if result.InputTokens != 10 || result.OutputTokens != 4 {
		t.Fatalf("unexpected usage: %+v", result)
	}
	if result.CountsEstimated {
		t.Fatal("expected CountsEstimated=false when usage is reported")
	}
}

func TestHuggingFaceGenerateTextZeroUsageIsEstimated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := hfResponse{ID: "req-2"}
		resp.Choices = []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		}{{FinishReason: "stop"}}
		resp.Choices[0].Message.Content = "ok"
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	adapter := NewHuggingFaceAdapter(srv.URL)
	result, err := adapter.GenerateText(context.Background(), staticCredential("k"), "m", nil, Params{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.CountsEstimated {
		t.Fatal("expected CountsEstimated=true when usage fields are zero")
	}
}

func TestHuggingFaceGenerateTextClassifiesUpstreamAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(hfErrorBody{Error: "invalid token"})
	}))
	defer srv.Close()

	adapter := NewHuggingFaceAdapter(srv.URL)
	_, err := adapter.GenerateText(context.Background(), staticCredential("bad"), "m", nil, Params{})
	ge, ok := gwerr.As(err)
	if !ok {
		t.Fatalf("expected a *gwerr.Error, got %v", err)
	}
	if ge.Kind != gwerr.Upstream || ge.Upstream != gwerr.UpstreamAuth {
		t.Fatalf("expected Upstream/UpstreamAuth, got %+v", ge)
	}
}

func TestHuggingFaceGenerateTextClassifiesRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(hfErrorBody{Error: "slow down"})
	}))
	defer srv.Close()

	adapter := NewHuggingFaceAdapter(srv.URL)
	_, err := adapter.GenerateText(context.Background(), staticCredential("k"), "m", nil, Params{})
	ge, ok := gwerr.As(err)
	if !ok || ge.Upstream != gwerr.UpstreamRateLimited {
		t.Fatalf("expected UpstreamRateLimited, got %v", err)
	}
}

func TestHuggingFaceGenerateTextPropagatesCancellation(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
		close(block)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	adapter := NewHuggingFaceAdapter(srv.URL)
	_, err := adapter.GenerateText(ctx, staticCredential("k"), "m", nil, Params{})
	ge, ok := gwerr.As(err)
	if !ok || ge.Upstream != gwerr.UpstreamCancelled {
		t.Fatalf("expected UpstreamCancelled, got %v", err)
	}
}

func TestHuggingFaceGenerateTextPropagatesDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	adapter := NewHuggingFaceAdapter(srv.URL)
	_, err := adapter.GenerateText(ctx, staticCredential("k"), "m", nil, Params{})
	ge, ok := gwerr.As(err)
	if !ok || ge.Upstream != gwerr.UpstreamTimeout {
		t.Fatalf("expected UpstreamTimeout, got %v", err)
	}
}
