package policy

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// RuleFile is the on-disk layout of additional rules.
type RuleFile struct {
	Rules []RuleDefinition `yaml:"rules"`
}

// RuleDefinition is one rule as written in a rule file. Omitting enabled
// registers the rule enabled.
type RuleDefinition struct {
	Name       string     `yaml:"name"`
	Type       RuleType   `yaml:"type"`
	Conditions Conditions `yaml:"conditions"`
	Actions    []string   `yaml:"actions"`
	Priority   int        `yaml:"priority"`
	Enabled    *bool      `yaml:"enabled,omitempty"`
}

// ParseRules decodes a YAML rule file. Unknown fields are rejected.
func ParseRules(data []byte) ([]RuleDefinition, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var f RuleFile
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("policy: parse rules: %w", err)
	}
	for i, r := range f.Rules {
		if r.Name == "" {
			return nil, fmt.Errorf("%w: rule %d has no name", ErrInvalidRule, i)
		}
		if len(r.Actions) == 0 {
			return nil, fmt.Errorf("%w: rule %q has no actions", ErrInvalidRule, r.Name)
		}
	}
	return f.Rules, nil
}

// LoadRules registers every rule in the YAML file at path, after the rules
// already present. Nothing is registered if any rule is invalid.
func (e *Engine) LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("policy: read rules: %w", err)
	}
	defs, err := ParseRules(data)
	if err != nil {
		return nil, err
	}
	for _, d := range defs {
		if d.Conditions.Expression == "" {
			continue
		}
		if _, err := e.exprs.compile(d.Conditions.Expression); err != nil {
			return nil, fmt.Errorf("%w %q: %v", ErrInvalidRule, d.Name, err)
		}
	}

	added := make([]Rule, 0, len(defs))
	for _, d := range defs {
		r, err := e.AddRule(d.Name, d.Type, d.Conditions, d.Actions, d.Priority)
		if err != nil {
			return added, err
		}
		if d.Enabled != nil && !*d.Enabled {
			if err := e.DisableRule(r.RuleID); err != nil {
				return added, err
			}
			r.IsEnabled = false
		}
		added = append(added, r)
	}
	e.logger.Info("rules loaded", "path", path, "count", len(added))
	return added, nil
}
