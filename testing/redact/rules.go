package redact

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

// ruleFile is the YAML layout of a rule file:
//
//	rules:
//	  - name: mongo-password
//	    pattern: 'password=(\S+)'
type ruleFile struct {
	Rules []struct {
		Name    string `yaml:"name"`
		Pattern string `yaml:"pattern"`
	} `yaml:"rules"`
}

// ParseRules decodes a YAML rule document. Rules keep
// their document order.
func ParseRules(data []byte) ([]Rule, error) {
	const errCtx = "parsing redaction rules"

	var rf ruleFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	rules := make([]Rule, 0, len(rf.Rules))

	for i, r := range rf.Rules {
		if r.Pattern == "" {
			return nil, fmt.Errorf(
				"%s: rule %d has no pattern", errCtx, i,
			)
		}

		name := r.Name
		if name == "" {
			name = fmt.Sprintf("rule-%d", i)
		}

		rule, err := NewRule(name, r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", errCtx, err)
		}

		rules = append(rules, rule)
	}

	return rules, nil
}

// LoadRules reads and parses the rule file at path.
func LoadRules(path string) ([]Rule, error) {
	const errCtx = "loading redaction rules"

	data, err := os.ReadFile(path) //nolint:gosec // path from CLI flag
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	rules, err := ParseRules(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	return rules, nil
}
