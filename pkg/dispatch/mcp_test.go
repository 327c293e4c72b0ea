package dispatch

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMCPHandlerToolsList(t *testing.T) {
	reg := NewRegistry()
	_ = reg.Register(Procedure{Name: "test.echo", Handler: echoHandler})
	handler := MCPHandler(reg, []ToolDescriptor{{Name: "test.echo", Description: "echoes input"}})

	body := `{"jsonrpc":"2.0","method":"tools/list","id":"1"}`
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
	w := httptest.NewRecorder()
	handler(w, req)

	var resp mcpResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
}

func TestMCPHandlerToolsCall(t *testing.T) {
	reg := NewRegistry()
	_ = reg.Register(Procedure{Name: "test.echo", Handler: echoHandler})
	handler := MCPHandler(reg, nil)

	body := `{"jsonrpc":"2.0","method":"tools/call","params":{"name":"test.echo","arguments":{"msg":"hi"}},"id":"1"}`
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
	w := httptest.NewRecorder()
	handler(w, req)

	var resp mcpResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}

	resultBytes, err := json.Marshal(resp.Result)
	if err != nil {
		t.Fatalf("marshal result: %v", err)
	}
	var callResult mcpToolCallResult
	if err := json.Unmarshal(resultBytes, &callResult); err != nil {
		t.Fatalf("decode tool call result: %v", err)
	}
	if callResult.IsError {
		t.Fatalf("unexpected tool error: %+v", callResult)
	}
	if len(callResult.Content) == 0 || !strings.Contains(callResult.Content[0].Text, "hi") {
		t.Fatalf("unexpected content: %+v", callResult.Content)
	}
}

func TestMCPHandlerUnknownToolCall(t *testing.T) {
	reg := NewRegistry()
	handler := MCPHandler(reg, nil)

	body := `{"jsonrpc":"2.0","method":"tools/call","params":{"name":"test.missing","arguments":{}},"id":"1"}`
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
	w := httptest.NewRecorder()
	handler(w, req)

	var resp mcpResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	resultBytes, _ := json.Marshal(resp.Result)
	var callResult mcpToolCallResult
	_ = json.Unmarshal(resultBytes, &callResult)
	if !callResult.IsError {
		t.Fatal("expected isError=true for an unknown tool")
	}
}
