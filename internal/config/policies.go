package config

import (
	"fmt"
	"os"

	"github.com/jassus213/go-lockout/ratelimiter"
	"gopkg.in/yaml.v3"
)

// policyFile is the YAML layout of LOCKOUT_POLICIES_FILE:
//
//	policies:
//	  - name: review
//	    max_attempts: 3
//	    window: 24h
//	    block_duration: 12h
type policyFile struct {
	Policies []ratelimiter.Policy `yaml:"policies"`
}

// LoadPolicies applies the policies in path on top of base. Entries replace the base policy
// with the same name; unknown names are added. An empty path returns base unchanged.
func LoadPolicies(path string, base map[string]ratelimiter.Policy) (map[string]ratelimiter.Policy, error) {
	if path == "" {
		return base, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policies file: %w", err)
	}
	return ParsePolicies(data, base)
}

// ParsePolicies is LoadPolicies on an in-memory document.
func ParsePolicies(data []byte, base map[string]ratelimiter.Policy) (map[string]ratelimiter.Policy, error) {
	var file policyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse policies: %w", err)
	}

	out := make(map[string]ratelimiter.Policy, len(base)+len(file.Policies))
	for name, p := range base {
		out[name] = p
	}
	for _, p := range file.Policies {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		out[p.Name] = p
	}
	return out, nil
}
