package registry

import (
	"embed"
	"encoding/json"
	"fmt"
)

//go:embed fallback/*.json
var fallbackFS embed.FS

// LoadEmbeddedFallback parses the frozen in-repo catalog, one JSON file
// per provider, served when the live fetch has never succeeded or is
// currently failing.
func LoadEmbeddedFallback() (map[string]*Provider, error) {
	entries, err := fallbackFS.ReadDir("fallback")
	if err != nil {
		return nil, fmt.Errorf("read embedded fallback: %w", err)
	}
	out := make(map[string]*Provider, len(entries))
	for _, e := range entries {
		data, err := fallbackFS.ReadFile("fallback/" + e.Name())
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", e.Name(), err)
		}
		var p Provider
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("parse %s: %w", e.Name(), err)
		}
		out[p.ProviderID] = &p
	}
	return out, nil
}
