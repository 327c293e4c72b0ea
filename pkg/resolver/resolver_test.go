package resolver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vectorgate/gateway/pkg/gwerr"
	"github.com/vectorgate/gateway/pkg/secretstore"
)

type stubSecrets struct {
	present bool
	key     string
	unlockErr error
}

func (s *stubSecrets) Status(ctx context.Context, userID, providerID string) (*secretstore.Status, error) {
	return &secretstore.Status{Present: s.present}, nil
}

func (s *stubSecrets) Unlock(ctx context.Context, userID, providerID, unlockSecret string) (string, error) {
	if s.unlockErr != nil {
		return "", s.unlockErr
	}
	return s.key, nil
}

func TestResolveInlineWins(t *testing.T) {
	r := New(&stubSecrets{present: true, key: "byok-key"}, ServerKeys{"anthropic": "server-key"})
	cred, err := r.Resolve(context.Background(), Request{ProviderID: "anthropic", InlineAPIKey: "inline-key", Authenticated: true})
	require.NoError(t, err)
	require.Equal(t, SourceInline, cred.Source)
	require.Equal(t, "inline-key", cred.Secret.Reveal())
}

func TestResolveBYOKOverServer(t *testing.T) {
	r := New(&stubSecrets{present: true, key: "byok-key"}, ServerKeys{"anthropic": "server-key"})
	cred, err := r.Resolve(context.Background(), Request{ProviderID: "anthropic", Authenticated: true})
	require.NoError(t, err)
	require.Equal(t, SourceBYOK, cred.Source)
	require.Equal(t, "byok-key", cred.Secret.Reveal())
}

func TestResolveServerFallback(t *testing.T) {
	r := New(&stubSecrets{present: false}, ServerKeys{"anthropic": "server-key"})
	cred, err := r.Resolve(context.Background(), Request{ProviderID: "anthropic", Authenticated: true})
	require.NoError(t, err)
	require.Equal(t, SourceServer, cred.Source)
}

func TestResolveNoCredential(t *testing.T) {
	r := New(&stubSecrets{present: false}, ServerKeys{})
	_, err := r.Resolve(context.Background(), Request{ProviderID: "anthropic", Authenticated: true})
	ge, ok := gwerr.As(err)
	require.True(t, ok)
	require.Equal(t, gwerr.NoCredential, ge.Kind)
}

func TestSecretNeverPrintsPlaintext(t *testing.T) {
	s := NewSecret("sk-super-secret")
	require.Equal(t, "[redacted]", s.String())
	require.NotContains(t, s.LogValue().String(), "sk-super-secret")
}
