package dispatch

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestJSONRPCHandlerSuccess(t *testing.T) {
	reg := NewRegistry()
	_ = reg.Register(Procedure{Name: "test.echo", Handler: echoHandler})
	handler := JSONRPCHandler(reg)

	body := `{"jsonrpc":"2.0","method":"test.echo","params":{"msg":"hi"},"id":"1"}`
	req := httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader(body))
	w := httptest.NewRecorder()
	handler(w, req)

	var resp jsonRPCResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	m, ok := resp.Result.(map[string]any)
	if !ok || m["msg"] != "hi" {
		t.Fatalf("unexpected result: %+v", resp.Result)
	}
}

func TestJSONRPCHandlerUnknownMethod(t *testing.T) {
	reg := NewRegistry()
	handler := JSONRPCHandler(reg)

	body := `{"jsonrpc":"2.0","method":"test.missing","id":"1"}`
	req := httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader(body))
	w := httptest.NewRecorder()
	handler(w, req)

	var resp jsonRPCResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error == nil {
		t.Fatal("expected a JSON-RPC error for an unknown method")
	}
}

func TestJSONRPCHandlerRejectsGet(t *testing.T) {
	reg := NewRegistry()
	handler := JSONRPCHandler(reg)

	req := httptest.NewRequest(http.MethodGet, "/rpc", nil)
	w := httptest.NewRecorder()
	handler(w, req)

	var resp jsonRPCResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error == nil {
		t.Fatal("expected an error for a GET request")
	}
}
