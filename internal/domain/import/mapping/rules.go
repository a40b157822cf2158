// Package mapping proposes which of a household's subcategories a bank
// category pair belongs to.
package mapping

import (
	_ "embed"
	"errors"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed keyword_rules.yaml
var defaultRulesYAML []byte

// KeywordRule assigns a target category (and optionally a subcategory) to any
// bank category text containing one of its keywords.
type KeywordRule struct {
	Keywords    []string `yaml:"keywords" json:"keywords"`
	Category    string   `yaml:"category" json:"category"`
	Subcategory string   `yaml:"subcategory,omitempty" json:"subcategory,omitempty"`
}

// RuleSet is the ordered, versioned rule table shared with the web client.
type RuleSet struct {
	Version int           `yaml:"version" json:"version"`
	Rules   []KeywordRule `yaml:"rules" json:"rules"`
}

var (
	ErrNoRules      = errors.New("rule set has no rules")
	errRuleKeywords = errors.New("rule has no keywords")
	errRuleCategory = errors.New("rule has no category")
)

// LoadRules parses and validates a YAML rule table.
func LoadRules(data []byte) (*RuleSet, error) {
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("failed to parse keyword rules: %w", err)
	}
	if len(rs.Rules) == 0 {
		return nil, ErrNoRules
	}
	for i, r := range rs.Rules {
		if r.Category == "" {
			return nil, fmt.Errorf("rule %d: %w", i+1, errRuleCategory)
		}
		if len(r.Keywords) == 0 {
			return nil, fmt.Errorf("rule %d: %w", i+1, errRuleKeywords)
		}
	}
	return &rs, nil
}

var (
	defaultOnce  sync.Once
	defaultRules *RuleSet
)

// DefaultRules returns the embedded rule table.
func DefaultRules() *RuleSet {
	defaultOnce.Do(func() {
		rs, err := LoadRules(defaultRulesYAML)
		if err != nil {
			panic(fmt.Sprintf("embedded keyword rules are invalid: %v", err))
		}
		defaultRules = rs
	})
	return defaultRules
}
