package dispatch

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/vectorgate/gateway/pkg/auth"
)

// mcpTool describes one registry procedure the way MCP's tools/list
// response does, grounded on the capability manifest shape of the
// teacher's MCP gateway (name/description/inputSchema triples) with
// the governance/proof-graph fields that manifest carried dropped —
// this gateway has no compliance ledger for tool calls to attach to.
type mcpTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// mcpRequest is the MCP-over-HTTP envelope: JSON-RPC 2.0 framing
// carrying one of "tools/list" or "tools/call".
type mcpRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      json.RawMessage `json:"id"`
}

type mcpToolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type mcpContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type mcpToolCallResult struct {
	Content []mcpContent `json:"content"`
	IsError bool         `json:"isError,omitempty"`
}

type mcpResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  any             `json:"result,omitempty"`
	Error   *jsonRPCError   `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

// ToolDescriptor lets a procedure carry human-facing metadata for MCP's
// tools/list beyond what the dispatch Registry itself needs — supplied
// separately since plain Procedure registration has no "description"
// concept the other two wire shells would ever render.
type ToolDescriptor struct {
	Name        string
	Description string
}

// MCPHandler serves POST /mcp, implementing the "tools/list" and
// "tools/call" methods of MCP's JSON-RPC-over-HTTP framing against the
// shared Registry. descriptors supplies the human-facing metadata
// tools/list exposes; procedures without a descriptor fall back to
// their bare registry name.
func MCPHandler(reg *Registry, descriptors []ToolDescriptor) http.HandlerFunc {
	descByName := make(map[string]ToolDescriptor, len(descriptors))
	for _, d := range descriptors {
		descByName[d.Name] = d
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeMCPError(w, nil, -32601, "method not allowed: use POST")
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, 10<<20))
		if err != nil {
			writeMCPError(w, nil, -32700, "unable to read request body")
			return
		}

		var req mcpRequest
		if err := json.Unmarshal(body, &req); err != nil {
			writeMCPError(w, nil, -32700, "invalid JSON")
			return
		}

		switch req.Method {
		case "tools/list":
			tools := make([]mcpTool, 0, len(reg.Names()))
			for _, name := range reg.Names() {
				p, ok := reg.Lookup(name)
				if !ok {
					continue
				}
				desc := descByName[name].Description
				var schema json.RawMessage
				if p.InputSchema != "" {
					schema = json.RawMessage(p.InputSchema)
				}
				tools = append(tools, mcpTool{Name: name, Description: desc, InputSchema: schema})
			}
			writeMCPResult(w, req.ID, map[string]any{"tools": tools})

		case "tools/call":
			var params mcpToolCallParams
			if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
				writeMCPError(w, req.ID, -32602, "invalid tool call params")
				return
			}

			var principal auth.Principal
			if p, perr := auth.GetPrincipal(r.Context()); perr == nil {
				principal = p
			}

			result, err := reg.Invoke(r.Context(), params.Name, principal, params.Arguments)
			if err != nil {
				ge := classify(err)
				writeMCPResult(w, req.ID, mcpToolCallResult{
					Content: []mcpContent{{Type: "text", Text: ge.Message}},
					IsError: true,
				})
				return
			}

			data, merr := json.Marshal(result)
			if merr != nil {
				writeMCPError(w, req.ID, -32603, "unable to encode tool result")
				return
			}
			writeMCPResult(w, req.ID, mcpToolCallResult{Content: []mcpContent{{Type: "text", Text: string(data)}}})

		default:
			writeMCPError(w, req.ID, -32601, "unknown method "+req.Method)
		}
	}
}

func writeMCPResult(w http.ResponseWriter, id json.RawMessage, result any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(mcpResponse{JSONRPC: "2.0", Result: result, ID: id})
}

func writeMCPError(w http.ResponseWriter, id json.RawMessage, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(mcpResponse{JSONRPC: "2.0", Error: &jsonRPCError{Code: code, Message: message}, ID: id})
}
