package policy

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vectorgate/gateway/pkg/config"
	"github.com/vectorgate/gateway/pkg/gwerr"
)

func TestAdmissionRejectScenario(t *testing.T) {
	// spec.md §8 scenario 1: providers=['anthropic'], request openai -> Forbidden.
	cfg := &config.Config{Providers: config.Providers{Explicit: []config.ProviderConfig{{Name: "anthropic"}}}}
	p, err := New(cfg)
	require.NoError(t, err)

	_, err = p.Check(Request{ProviderID: "openai", CallerKind: Anonymous})
	ge, ok := gwerr.As(err)
	require.True(t, ok)
	require.Equal(t, gwerr.Forbidden, ge.Kind)
}

func TestBYOKBlockAllScenario(t *testing.T) {
	// spec.md §8 scenario 2: providers=[], byokProviders=['anthropic'].
	cfg := &config.Config{
		Providers:     config.Providers{Explicit: []config.ProviderConfig{}},
		BYOKProviders: []string{"anthropic"},
	}
	p, err := New(cfg)
	require.NoError(t, err)

	_, err = p.Check(Request{ProviderID: "anthropic", CallerKind: Authenticated, HasBYOKForThis: true})
	require.NoError(t, err)

	_, err = p.Check(Request{ProviderID: "anthropic", CallerKind: Anonymous})
	require.Error(t, err)
}

func TestModelDenyList(t *testing.T) {
	cfg := &config.Config{Providers: config.Providers{Explicit: []config.ProviderConfig{
		{Name: "openai", ModelRestrictions: config.ModelRestrictions{BlockedModels: []string{"gpt-3*"}}},
	}}}
	p, err := New(cfg)
	require.NoError(t, err)

	_, err = p.Check(Request{ProviderID: "openai", ModelID: "gpt-3.5-turbo", CallerKind: Anonymous})
	require.Error(t, err)

	d, err := p.Check(Request{ProviderID: "openai", ModelID: "gpt-4o", CallerKind: Anonymous})
	require.NoError(t, err)
	require.Equal(t, "gpt-4o", d.EffectiveModel)
}

func TestMonotonicity(t *testing.T) {
	wide := &config.Config{Providers: config.Providers{Explicit: []config.ProviderConfig{{Name: "anthropic"}, {Name: "openai"}}}}
	narrow := &config.Config{Providers: config.Providers{Explicit: []config.ProviderConfig{{Name: "anthropic"}}}}

	pw, err := New(wide)
	require.NoError(t, err)
	pn, err := New(narrow)
	require.NoError(t, err)

	_, errWide := pw.Check(Request{ProviderID: "openai", CallerKind: Anonymous})
	_, errNarrow := pn.Check(Request{ProviderID: "openai", CallerKind: Anonymous})
	require.NoError(t, errWide)
	require.Error(t, errNarrow)
}
