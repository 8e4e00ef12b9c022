package command

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dshills/promoflow/pkg/domain/evaluation"
	"github.com/dshills/promoflow/pkg/domain/types"
	"github.com/dshills/promoflow/pkg/rules"
	"github.com/dshills/promoflow/pkg/transform"
)

// RuleEngineCommand fires a declarative rule set. The fired rule's name is
// stored in the context under "<nodeId>.rule".
//
// Condition nodes read then.result (default true) or then.nextNodeId from the
// fired rule, falling back to defaultResult when nothing fires. Calculation
// nodes read promotion fields from then, falling back to defaultPromotion.
type RuleEngineCommand struct {
	nodeID           string
	nodeType         evaluation.NodeType
	engine           *rules.Engine
	ruleSet          *rules.RuleSet
	defaultResult    *bool
	defaultPromotion map[string]interface{}
	defaults         promotionDefaults
}

func newRuleEngineCommand(cfg evaluation.NodeConfig, deps Dependencies) (NodeCommand, error) {
	raw, ok := cfg.Param("rules")
	if !ok {
		return nil, configError(cfg, "rules parameter is required", nil)
	}
	parsed, err := rules.ParseRules(raw)
	if err != nil {
		return nil, configError(cfg, "invalid rules", err)
	}
	rs, err := rules.NewRuleSet(parsed)
	if err != nil {
		return nil, configError(cfg, "invalid rules", err)
	}
	if err := deps.Rules.Compile(rs); err != nil {
		return nil, configError(cfg, "invalid rule condition", err)
	}

	cmd := &RuleEngineCommand{
		nodeID:   cfg.NodeID,
		nodeType: cfg.NodeType,
		engine:   deps.Rules,
		ruleSet:  rs,
	}

	if cfg.NodeType == evaluation.NodeTypeCondition {
		for _, r := range rs.Rules() {
			if v, ok := r.Then["result"]; ok {
				if _, err := transform.ToBool(v); err != nil {
					return nil, configError(cfg, fmt.Sprintf("rule %q: then.result", r.Name), err)
				}
			}
		}
		if _, ok := cfg.Param("defaultResult"); ok {
			b, err := cfg.BoolParam("defaultResult", false)
			if err != nil {
				return nil, configError(cfg, "invalid defaultResult", err)
			}
			cmd.defaultResult = &b
		}
	}

	if v, ok := cfg.Param("defaultPromotion"); ok && v != nil {
		m, err := transform.ToMap(v)
		if err != nil {
			return nil, configError(cfg, "invalid defaultPromotion", err)
		}
		cmd.defaultPromotion = m
	}

	days, err := cfg.IntParam("validityDays", DefaultValidityDays)
	if err != nil {
		return nil, configError(cfg, "invalid validityDays", err)
	}
	cmd.defaults = promotionDefaults{
		Name:         cfg.StringParam("promotionName", "Rule Promotion"),
		Type:         cfg.StringParam("promotionType", "RULE_BASED"),
		Description:  cfg.Description,
		ValidityDays: days,
	}
	return cmd, nil
}

// CommandType implements NodeCommand.
func (c *RuleEngineCommand) CommandType() evaluation.CommandType {
	return evaluation.CommandTypeRuleEngine
}

// Execute implements NodeCommand.
func (c *RuleEngineCommand) Execute(ctx context.Context, ec *evaluation.ExecutionContext) *evaluation.NodeResult {
	match, err := c.engine.Fire(ctx, c.ruleSet, ec.Variables())
	if errors.Is(err, rules.ErrNoRuleMatched) {
		return c.noMatch(ec)
	}
	if err != nil {
		return evaluation.FailureResult(fmt.Sprintf("rule evaluation failed: %v", err))
	}

	ec.SetFromNode(c.nodeID+".rule", match.Rule.Name, types.NodeID(c.nodeID))
	then := match.Then()

	if c.nodeType == evaluation.NodeTypeCondition {
		if next, ok := then["nextNodeId"].(string); ok && strings.TrimSpace(next) != "" {
			return evaluation.RouteResult(next)
		}
		v, ok := then["result"]
		if !ok {
			return evaluation.ConditionResult(true)
		}
		b, err := transform.ToBool(v)
		if err != nil {
			return evaluation.FailureResult(fmt.Sprintf("rule %q: then.result: %v", match.Rule.Name, err))
		}
		return evaluation.ConditionResult(b)
	}

	promotion, err := buildPromotion(then, ec, c.defaults)
	if err != nil {
		return evaluation.FailureResult(fmt.Sprintf("rule %q: invalid promotion: %v", match.Rule.Name, err))
	}
	return evaluation.CalculationResult(promotion)
}

func (c *RuleEngineCommand) noMatch(ec *evaluation.ExecutionContext) *evaluation.NodeResult {
	if c.nodeType == evaluation.NodeTypeCondition {
		if c.defaultResult != nil {
			return evaluation.ConditionResult(*c.defaultResult)
		}
		return evaluation.FailureResult(rules.ErrNoRuleMatched.Error())
	}

	if c.defaultPromotion == nil {
		return evaluation.FailureResult(rules.ErrNoRuleMatched.Error())
	}
	promotion, err := buildPromotion(c.defaultPromotion, ec, c.defaults)
	if err != nil {
		return evaluation.FailureResult(fmt.Sprintf("invalid defaultPromotion: %v", err))
	}
	return evaluation.CalculationResult(promotion)
}
