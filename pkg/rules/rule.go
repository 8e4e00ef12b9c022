// Package rules is a small declarative rule engine. A rule set is an ordered
// list of guarded rules; the highest-salience rule whose guard holds fires and
// its consequence is returned to the caller.
package rules

import (
	"errors"
	"fmt"
	"sort"

	"github.com/dshills/promoflow/pkg/transform"
)

// ErrNoRuleMatched is returned by Fire when no rule's guard holds.
var ErrNoRuleMatched = errors.New("no rule matched")

// Rule is a single guarded consequence.
type Rule struct {
	Name     string                 `json:"name" yaml:"name"`
	When     string                 `json:"when" yaml:"when"`
	Salience int                    `json:"salience,omitempty" yaml:"salience,omitempty"`
	Then     map[string]interface{} `json:"then,omitempty" yaml:"then,omitempty"`
}

// RuleSet is an ordered collection of rules. Rules with equal salience keep
// their declaration order.
type RuleSet struct {
	rules []Rule
}

// NewRuleSet validates the rules and returns them sorted by salience.
func NewRuleSet(rules []Rule) (*RuleSet, error) {
	if len(rules) == 0 {
		return nil, errors.New("rule set must contain at least one rule")
	}

	seen := make(map[string]bool, len(rules))
	for i, r := range rules {
		if r.Name == "" {
			return nil, fmt.Errorf("rule %d: name is required", i)
		}
		if seen[r.Name] {
			return nil, fmt.Errorf("duplicate rule name %q", r.Name)
		}
		seen[r.Name] = true
		if r.When == "" {
			return nil, fmt.Errorf("rule %q: when is required", r.Name)
		}
	}

	sorted := make([]Rule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Salience > sorted[j].Salience
	})

	return &RuleSet{rules: sorted}, nil
}

// Rules returns the rules in firing order.
func (rs *RuleSet) Rules() []Rule {
	out := make([]Rule, len(rs.rules))
	copy(out, rs.rules)
	return out
}

// Len returns the number of rules.
func (rs *RuleSet) Len() int {
	return len(rs.rules)
}

// ParseRules decodes rules from the loosely typed form found in node
// parameters (a list of maps).
func ParseRules(raw interface{}) ([]Rule, error) {
	items, ok := raw.([]interface{})
	if !ok {
		if typed, ok := raw.([]Rule); ok {
			return typed, nil
		}
		return nil, fmt.Errorf("rules must be a list, got %T", raw)
	}

	out := make([]Rule, 0, len(items))
	for i, item := range items {
		m, err := transform.ToMap(item)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}

		var r Rule
		r.Name, _ = m["name"].(string)
		r.When, _ = m["when"].(string)
		if s, ok := m["salience"]; ok {
			r.Salience, err = transform.ToInt(s)
			if err != nil {
				return nil, fmt.Errorf("rule %d: salience: %w", i, err)
			}
		}
		if then, ok := m["then"]; ok && then != nil {
			r.Then, err = transform.ToMap(then)
			if err != nil {
				return nil, fmt.Errorf("rule %d: then: %w", i, err)
			}
		}
		out = append(out, r)
	}
	return out, nil
}
