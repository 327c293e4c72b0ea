package dispatch

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/vectorgate/gateway/pkg/auth"
)

// trpcEnvelope is tRPC's wire shape: input/output are wrapped one level
// under "json" so a future superjson-style transform has a slot to
// carry non-JSON-native types (Date, Map, ...) without changing the
// outer shape.
type trpcEnvelope struct {
	JSON json.RawMessage `json:"json"`
}

type trpcSuccess struct {
	Result struct {
		Data trpcEnvelope `json:"data"`
	} `json:"result"`
}

type trpcErrorBody struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

type trpcFailure struct {
	Error struct {
		JSON trpcErrorBody `json:"json"`
	} `json:"error"`
}

// TRPCHandler serves both GET and POST /trpc/<name>, matching the
// convention that queries ride a GET with an ?input= query parameter
// and mutations ride a POST body — the registry doesn't distinguish
// query/mutation procedures, so both verbs are accepted on every
// route and the caller picks whichever fits their cache semantics.
func TRPCHandler(reg *Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/trpc/")
		if name == "" || name == r.URL.Path {
			writeTRPCError(w, http.StatusNotFound, "procedure name is required")
			return
		}

		var rawInput json.RawMessage
		switch r.Method {
		case http.MethodGet:
			if q := r.URL.Query().Get("input"); q != "" {
				var env trpcEnvelope
				if err := json.Unmarshal([]byte(q), &env); err == nil && len(env.JSON) > 0 {
					rawInput = env.JSON
				} else {
					rawInput = json.RawMessage(q)
				}
			}
		case http.MethodPost:
			body, err := io.ReadAll(io.LimitReader(r.Body, 10<<20))
			if err != nil {
				writeTRPCError(w, http.StatusBadRequest, "unable to read request body")
				return
			}
			if len(body) > 0 {
				var env trpcEnvelope
				if err := json.Unmarshal(body, &env); err == nil && len(env.JSON) > 0 {
					rawInput = env.JSON
				} else {
					rawInput = body
				}
			}
		default:
			writeTRPCError(w, http.StatusMethodNotAllowed, "use GET for queries or POST for mutations")
			return
		}

		var principal auth.Principal
		if p, perr := auth.GetPrincipal(r.Context()); perr == nil {
			principal = p
		}

		result, err := reg.Invoke(r.Context(), name, principal, rawInput)
		if err != nil {
			ge := classify(err)
			writeTRPCError(w, ge.HTTPStatus(), ge.Message)
			return
		}

		data, err := json.Marshal(result)
		if err != nil {
			writeTRPCError(w, http.StatusInternalServerError, "unable to encode response")
			return
		}

		var resp trpcSuccess
		resp.Result.Data = trpcEnvelope{JSON: data}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func writeTRPCError(w http.ResponseWriter, status int, message string) {
	var resp trpcFailure
	resp.Error.JSON = trpcErrorBody{Message: message, Code: status}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
