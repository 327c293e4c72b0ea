package dispatch

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/vectorgate/gateway/pkg/auth"
)

// jsonRPCRequest is a JSON-RPC 2.0 request object (single call; batches
// aren't accepted — every procedure here is a single logical op).
type jsonRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      json.RawMessage `json:"id"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type jsonRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  any             `json:"result,omitempty"`
	Error   *jsonRPCError   `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

// JSONRPCHandler serves POST /rpc, dispatching method through the
// shared Registry.
func JSONRPCHandler(reg *Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeJSONRPCTransportError(w, http.StatusMethodNotAllowed, nil)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, 10<<20))
		if err != nil {
			writeJSONRPCTransportError(w, http.StatusBadRequest, nil)
			return
		}

		var req jsonRPCRequest
		if err := json.Unmarshal(body, &req); err != nil || req.Method == "" {
			writeJSONRPCTransportError(w, http.StatusBadRequest, req.ID)
			return
		}

		var principal auth.Principal
		if p, perr := auth.GetPrincipal(r.Context()); perr == nil {
			principal = p
		}

		result, err := reg.Invoke(r.Context(), req.Method, principal, req.Params)
		if err != nil {
			ge := classify(err)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK) // JSON-RPC errors ride a 200 envelope
			_ = json.NewEncoder(w).Encode(jsonRPCResponse{
				JSONRPC: "2.0",
				Error:   &jsonRPCError{Code: jsonRPCErrorCode(ge.Kind), Message: ge.Message},
				ID:      req.ID,
			})
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(jsonRPCResponse{JSONRPC: "2.0", Result: result, ID: req.ID})
	}
}

func writeJSONRPCTransportError(w http.ResponseWriter, status int, id json.RawMessage) {
	code := -32600
	msg := "invalid request"
	if status == http.StatusMethodNotAllowed {
		code, msg = -32601, "method not allowed: use POST"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(jsonRPCResponse{
		JSONRPC: "2.0",
		Error:   &jsonRPCError{Code: code, Message: msg},
		ID:      id,
	})
}
