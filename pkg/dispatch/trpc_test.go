package dispatch

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func TestTRPCHandlerPostMutation(t *testing.T) {
	reg := NewRegistry()
	_ = reg.Register(Procedure{Name: "test.echo", Handler: echoHandler})
	handler := TRPCHandler(reg)

	body := `{"json":{"msg":"hi"}}`
	req := httptest.NewRequest(http.MethodPost, "/trpc/test.echo", strings.NewReader(body))
	w := httptest.NewRecorder()
	handler(w, req)

	var resp trpcSuccess
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	var data map[string]any
	if err := json.Unmarshal(resp.Result.Data.JSON, &data); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if data["msg"] != "hi" {
		t.Fatalf("unexpected data: %+v", data)
	}
}

func TestTRPCHandlerGetQuery(t *testing.T) {
	reg := NewRegistry()
	_ = reg.Register(Procedure{Name: "test.echo", Handler: echoHandler})
	handler := TRPCHandler(reg)

	input := url.QueryEscape(`{"json":{"msg":"from-query"}}`)
	req := httptest.NewRequest(http.MethodGet, "/trpc/test.echo?input="+input, nil)
	w := httptest.NewRecorder()
	handler(w, req)

	var resp trpcSuccess
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	var data map[string]any
	if err := json.Unmarshal(resp.Result.Data.JSON, &data); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if data["msg"] != "from-query" {
		t.Fatalf("unexpected data: %+v", data)
	}
}

func TestTRPCHandlerErrorEnvelope(t *testing.T) {
	reg := NewRegistry()
	handler := TRPCHandler(reg)

	req := httptest.NewRequest(http.MethodPost, "/trpc/test.missing", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	handler(w, req)

	var resp trpcFailure
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error.JSON.Message == "" {
		t.Fatal("expected an error message for an unknown procedure")
	}
}
