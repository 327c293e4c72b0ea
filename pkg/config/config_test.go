package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	os.Clearenv()
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "8080", cfg.Port)
	require.True(t, cfg.Providers.Undefined)
	require.Equal(t, 4096, cfg.DefaultMaxTokens)
}

func TestLoadFileOverridesProviders(t *testing.T) {
	os.Clearenv()
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
providers:
  - name: anthropic
    defaultModel: claude-3-5-sonnet
byokProviders: [anthropic]
reservationTTLSeconds: 600
`), 0o600))
	os.Setenv("GATEWAY_CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	require.False(t, cfg.Providers.Undefined)
	require.Len(t, cfg.Providers.Explicit, 1)
	require.Equal(t, "anthropic", cfg.Providers.Explicit[0].Name)
	require.Equal(t, "env", cfg.Providers.Explicit[0].Source)
	require.Contains(t, cfg.BYOKProviders, "anthropic")
}

func TestValidateRejectsShortTTL(t *testing.T) {
	cfg := &Config{
		ReservationTTL:          time.Second,
		DefaultRequestDeadline:  time.Minute,
		ReservationSafetyMargin: time.Second,
		DefaultMaxTokens:        1,
		MaxMaxTokens:            2,
	}
	require.Error(t, cfg.Validate())
}
