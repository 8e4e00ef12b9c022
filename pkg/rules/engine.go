package rules

import (
	"context"
	"fmt"

	"github.com/dshills/promoflow/pkg/transform"
)

// Match is the rule that fired.
type Match struct {
	Rule Rule
}

// Then returns the fired rule's consequence, never nil.
func (m *Match) Then() map[string]interface{} {
	if m.Rule.Then == nil {
		return map[string]interface{}{}
	}
	return m.Rule.Then
}

// Engine fires rule sets against a fact map.
type Engine struct {
	evaluator transform.ExpressionEvaluator
}

// NewEngine creates an engine backed by the given expression evaluator.
func NewEngine(evaluator transform.ExpressionEvaluator) *Engine {
	if evaluator == nil {
		evaluator = transform.NewExpressionEvaluator()
	}
	return &Engine{evaluator: evaluator}
}

// Compile checks every guard in the rule set.
func (e *Engine) Compile(rs *RuleSet) error {
	for _, r := range rs.rules {
		if err := e.evaluator.Compile(r.When); err != nil {
			return fmt.Errorf("rule %q: %w", r.Name, err)
		}
	}
	return nil
}

// Fire evaluates guards in salience order and returns the first rule whose
// guard is true. A guard that fails to evaluate aborts the run.
func (e *Engine) Fire(ctx context.Context, rs *RuleSet, facts map[string]interface{}) (*Match, error) {
	for _, r := range rs.rules {
		ok, err := e.evaluator.EvaluateBool(ctx, r.When, facts)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", r.Name, err)
		}
		if ok {
			return &Match{Rule: r}, nil
		}
	}
	return nil, ErrNoRuleMatched
}
