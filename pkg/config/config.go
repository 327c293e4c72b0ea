// Package config loads gateway configuration from environment variables
// (server settings) layered with an optional YAML file (providers,
// workspaces, ledger policy), environment taking precedence.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ModelRestrictions bounds which models a provider may serve.
type ModelRestrictions struct {
	AllowedModels []string `yaml:"allowedModels,omitempty"`
	BlockedModels []string `yaml:"blockedModels,omitempty"`
	// CELExpr, if set, is evaluated against {model: string} and must
	// return true for the model to be admitted, on top of the glob
	// lists above.
	CELExpr string `yaml:"celExpr,omitempty"`
}

// ProviderConfig is the normalized, tagged record spec.md §9 calls for
// in place of the source surface's string-or-object union.
type ProviderConfig struct {
	Name              string            `yaml:"name"`
	Source            string            `yaml:"-"` // "env" | "inline", set by normalization
	Type              string            `yaml:"type,omitempty"`
	APIKey            string            `yaml:"apiKey,omitempty"`
	DefaultModel      string            `yaml:"defaultModel,omitempty"`
	BaseURL           string            `yaml:"baseUrl,omitempty"`
	SystemPrompts     map[string]string `yaml:"systemPrompts,omitempty"`
	ModelRestrictions ModelRestrictions `yaml:"modelRestrictions,omitempty"`
}

// WorkspaceConfig is a server-registered filesystem root (spec.md §3 Workspace).
type WorkspaceConfig struct {
	ID              string   `yaml:"id"`
	Root            string   `yaml:"root"`
	DisplayName     string   `yaml:"displayName,omitempty"`
	ReadOnly        bool     `yaml:"readOnly,omitempty"`
	AllowGlobs      []string `yaml:"allowGlobs,omitempty"`
	BlockGlobs      []string `yaml:"blockGlobs,omitempty"`
	AllowExtensions []string `yaml:"allowExtensions,omitempty"`
	BlockExtensions []string `yaml:"blockExtensions,omitempty"`
	MaxFileSizeMB   int      `yaml:"maxFileSizeMB,omitempty"`
	FollowSymlinks  bool     `yaml:"followSymlinks,omitempty"`
}

// Providers is the tri-state allow-list described in spec.md §4.2:
// Undefined = auto-detect from environment (BYOK-any); Explicit = the
// listed set (possibly empty, which blocks everything).
type Providers struct {
	Undefined bool
	Explicit  []ProviderConfig
}

// Config holds the fully-loaded, validated gateway configuration.
type Config struct {
	Port        string
	LogLevel    string
	DatabaseURL string
	JWTSecret   string
	CORSOrigins []string
	RedisAddr   string

	OTLPEndpoint      string
	OTLPInsecure      bool
	TraceSampleRate   float64
	ObservabilityName string

	Providers       Providers
	BYOKProviders   []string
	Workspaces      []WorkspaceConfig
	CatalogURL      string

	ReservationTTL          time.Duration
	ReservationSafetyMargin time.Duration
	DefaultRequestDeadline  time.Duration
	DefaultMaxTokens        int
	MaxMaxTokens            int
	SystemPromptMaxLength   int
}

type fileConfig struct {
	Providers               []ProviderConfig  `yaml:"providers"`
	ServerProviders          []ProviderConfig  `yaml:"serverProviders"`
	BYOKProviders            []string          `yaml:"byokProviders"`
	Workspaces               []WorkspaceConfig `yaml:"workspaces"`
	CatalogURL               string            `yaml:"catalogUrl"`
	ReservationTTLSeconds    int               `yaml:"reservationTTLSeconds"`
	DefaultMaxTokens         int               `yaml:"defaultMaxTokens"`
	MaxMaxTokens             int               `yaml:"maxMaxTokens"`
	SystemPromptMaxLength    int               `yaml:"systemPromptMaxLength"`
}

// Load reads environment variables for server-level settings and, if
// GATEWAY_CONFIG_FILE is set, layers in a YAML file for
// providers/workspaces/ledger policy. Env always wins when both set a
// value (precedence matches the teacher's config.Load/profile split).
func Load() (*Config, error) {
	cfg := &Config{
		Port:                    envOr("PORT", "8080"),
		LogLevel:                envOr("LOG_LEVEL", "INFO"),
		DatabaseURL:             envOr("DATABASE_URL", "postgres://gateway@localhost:5432/gateway?sslmode=disable"),
		JWTSecret:               os.Getenv("JWT_SECRET"),
		RedisAddr:               os.Getenv("REDIS_ADDR"),
		ReservationTTL:          5 * time.Minute,
		ReservationSafetyMargin: 30 * time.Second,
		DefaultRequestDeadline:  3 * time.Minute,
		DefaultMaxTokens:        4096,
		MaxMaxTokens:            65536,
		SystemPromptMaxLength:   25000,
		Providers:               Providers{Undefined: true},
		OTLPEndpoint:            os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTLPInsecure:            os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") == "true",
		TraceSampleRate:         1.0,
		ObservabilityName:       envOr("OTEL_SERVICE_NAME", "vectorgate-gateway"),
	}
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.CORSOrigins = append(cfg.CORSOrigins, o)
			}
		}
	}

	if path := os.Getenv("GATEWAY_CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	return cfg, cfg.Validate()
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse: %w", err)
	}

	providers := fc.Providers
	if len(providers) == 0 && len(fc.ServerProviders) > 0 {
		providers = fc.ServerProviders
	}
	if providers != nil {
		for i := range providers {
			providers[i].Source = "inline"
			if providers[i].APIKey == "" {
				providers[i].Source = "env"
			}
			if providers[i].Type == "" {
				providers[i].Type = providers[i].Name
			}
		}
		c.Providers = Providers{Explicit: providers}
	}

	if len(fc.BYOKProviders) > 0 {
		c.BYOKProviders = fc.BYOKProviders
	}
	if len(fc.Workspaces) > 0 {
		c.Workspaces = fc.Workspaces
	}
	if fc.CatalogURL != "" {
		c.CatalogURL = fc.CatalogURL
	}
	if fc.ReservationTTLSeconds > 0 {
		c.ReservationTTL = time.Duration(fc.ReservationTTLSeconds) * time.Second
	}
	if fc.DefaultMaxTokens > 0 {
		c.DefaultMaxTokens = fc.DefaultMaxTokens
	}
	if fc.MaxMaxTokens > 0 {
		c.MaxMaxTokens = fc.MaxMaxTokens
	}
	if fc.SystemPromptMaxLength > 0 {
		c.SystemPromptMaxLength = fc.SystemPromptMaxLength
	}
	return nil
}

// Validate enforces the reservation-TTL-vs-deadline relationship
// decided in DESIGN.md's Open Question #3.
func (c *Config) Validate() error {
	if c.ReservationTTL <= c.DefaultRequestDeadline+c.ReservationSafetyMargin {
		return fmt.Errorf("reservationTTL (%s) must exceed defaultRequestDeadline+safetyMargin (%s)",
			c.ReservationTTL, c.DefaultRequestDeadline+c.ReservationSafetyMargin)
	}
	if c.DefaultMaxTokens > c.MaxMaxTokens {
		return fmt.Errorf("defaultMaxTokens (%d) exceeds maxMaxTokens (%d)", c.DefaultMaxTokens, c.MaxMaxTokens)
	}
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

