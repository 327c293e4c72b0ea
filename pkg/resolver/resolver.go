// Package resolver chooses the effective provider credential for a
// request: inline > BYOK > server > none (spec.md §4.4). It never logs
// or returns the credential directly — callers receive it wrapped in a
// Secret whose slog.LogValuer always renders "[redacted]", generalizing
// the teacher's struct-tag (`json:"-"`) redaction to a type-level
// guarantee since the credential here crosses into provider adapters.
package resolver

import (
	"context"
	"log/slog"
	"os"

	"github.com/vectorgate/gateway/pkg/gwerr"
	"github.com/vectorgate/gateway/pkg/secretstore"
)

// Source tags where a resolved credential came from.
type Source string

const (
	SourceInline Source = "inline"
	SourceBYOK   Source = "byok"
	SourceServer Source = "server"
	SourceNone   Source = "none"
)

// Secret wraps a resolved API key so it cannot be accidentally logged
// or serialized. It is not comparable to a bare string on purpose.
type Secret struct {
	value string
}

func (s Secret) String() string       { return "[redacted]" }
func (s Secret) LogValue() slog.Value { return slog.StringValue("[redacted]") }
func (s Secret) Reveal() string       { return s.value }
func NewSecret(v string) Secret       { return Secret{value: v} }

// Credential is the resolver's output.
type Credential struct {
	Secret Secret
	Source Source
}

// BYOKStatusChecker is the subset of secretstore.Store the resolver
// needs, named so tests can stub it without a database.
type BYOKStatusChecker interface {
	Status(ctx context.Context, userID, providerID string) (*secretstore.Status, error)
	Unlock(ctx context.Context, userID, providerID, unlockSecret string) (string, error)
}

// ServerKeys supplies server-held keys, typically populated from
// config.ProviderConfig.APIKey or an env var fallback.
type ServerKeys map[string]string

// ServerKeysFromEnv auto-detects server keys the way spec.md §6's
// `providers=undefined` case requires, one conventional env var per
// well-known provider.
func ServerKeysFromEnv() ServerKeys {
	keys := ServerKeys{}
	for provider, env := range map[string]string{
		"anthropic":   "ANTHROPIC_API_KEY",
		"openai":      "OPENAI_API_KEY",
		"google":      "GEMINI_API_KEY",
		"openrouter":  "OPENROUTER_API_KEY",
		"huggingface": "HUGGINGFACE_API_KEY",
	} {
		if v := os.Getenv(env); v != "" {
			keys[provider] = v
		}
	}
	return keys
}

// Resolver is the C4 component.
type Resolver struct {
	secrets BYOKStatusChecker
	server  ServerKeys
}

func New(secrets BYOKStatusChecker, server ServerKeys) *Resolver {
	return &Resolver{secrets: secrets, server: server}
}

// Request is the resolver's input; it carries the request-scoped
// unlock secret and/or inline key, never cached beyond this call.
type Request struct {
	UserID          string
	ProviderID      string
	Authenticated   bool
	InlineAPIKey    string
	UnlockSecret    string
}

// Resolve implements spec.md §4.4's ordered resolution. Policy (C2)
// runs before this is ever called; a rejected request is never unlocked.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*Credential, error) {
	if req.InlineAPIKey != "" {
		return &Credential{Secret: NewSecret(req.InlineAPIKey), Source: SourceInline}, nil
	}

	if req.Authenticated && r.secrets != nil {
		status, err := r.secrets.Status(ctx, req.UserID, req.ProviderID)
		if err != nil {
			return nil, gwerr.Wrap(err, "resolver: byok status")
		}
		if status.Present {
			key, err := r.secrets.Unlock(ctx, req.UserID, req.ProviderID, req.UnlockSecret)
			if err != nil {
				return nil, err // already a *gwerr.Error (DecryptAuthFailed)
			}
			return &Credential{Secret: NewSecret(key), Source: SourceBYOK}, nil
		}
	}

	if key, ok := r.server[req.ProviderID]; ok && key != "" {
		return &Credential{Secret: NewSecret(key), Source: SourceServer}, nil
	}

	return nil, gwerr.New(gwerr.NoCredential, "no usable credential for provider %s", req.ProviderID)
}

// HasBYOK reports whether the user has stored material for a provider,
// used by Policy (C2) to evaluate the BYOK-only carve-out before
// resolution ever runs.
func (r *Resolver) HasBYOK(ctx context.Context, userID, providerID string) (bool, error) {
	if r.secrets == nil {
		return false, nil
	}
	status, err := r.secrets.Status(ctx, userID, providerID)
	if err != nil {
		return false, err
	}
	return status.Present, nil
}
