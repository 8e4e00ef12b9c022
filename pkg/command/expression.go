package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/dshills/promoflow/pkg/domain/evaluation"
	"github.com/dshills/promoflow/pkg/transform"
)

// ExpressionCommand evaluates an in-process expression against the customer
// fields and accumulated context values.
//
// Condition nodes expect a boolean, or a string naming the next node.
// Calculation nodes expect a number (the discount amount) or a map of
// promotion fields.
type ExpressionCommand struct {
	nodeID     string
	nodeType   evaluation.NodeType
	expression string
	evaluator  transform.ExpressionEvaluator
	defaults   promotionDefaults
}

func newExpressionCommand(cfg evaluation.NodeConfig, deps Dependencies) (NodeCommand, error) {
	expression := strings.TrimSpace(cfg.Expression)
	if expression == "" {
		expression = strings.TrimSpace(cfg.StringParam("expression", ""))
	}
	if expression == "" {
		return nil, configError(cfg, "expression is required", nil)
	}
	if err := deps.Evaluator.Compile(expression); err != nil {
		return nil, configError(cfg, "invalid expression", err)
	}

	days, err := cfg.IntParam("validityDays", DefaultValidityDays)
	if err != nil {
		return nil, configError(cfg, "invalid validityDays", err)
	}

	return &ExpressionCommand{
		nodeID:     cfg.NodeID,
		nodeType:   cfg.NodeType,
		expression: expression,
		evaluator:  deps.Evaluator,
		defaults: promotionDefaults{
			Name:         cfg.StringParam("promotionName", "Calculated Promotion"),
			Type:         cfg.StringParam("promotionType", "CALCULATED"),
			Description:  cfg.Description,
			ValidityDays: days,
		},
	}, nil
}

// CommandType implements NodeCommand.
func (c *ExpressionCommand) CommandType() evaluation.CommandType {
	return evaluation.CommandTypeExpression
}

// Execute implements NodeCommand.
func (c *ExpressionCommand) Execute(ctx context.Context, ec *evaluation.ExecutionContext) *evaluation.NodeResult {
	value, err := c.evaluator.Evaluate(ctx, c.expression, ec.Variables())
	if err != nil {
		return evaluation.FailureResult(fmt.Sprintf("expression evaluation failed: %v", err))
	}

	if c.nodeType == evaluation.NodeTypeCondition {
		switch v := value.(type) {
		case bool:
			return evaluation.ConditionResult(v)
		case string:
			if strings.TrimSpace(v) == "" {
				return evaluation.FailureResult("expression produced an empty next node id")
			}
			return evaluation.RouteResult(v)
		default:
			return evaluation.FailureResult(fmt.Sprintf("condition expression must evaluate to a boolean, got %T", value))
		}
	}

	var fields map[string]interface{}
	switch v := value.(type) {
	case map[string]interface{}:
		fields = v
	case nil, bool, string:
		return evaluation.FailureResult(fmt.Sprintf("calculation expression must evaluate to a number or a map, got %T", value))
	default:
		amount, err := transform.ToFloat(v)
		if err != nil {
			return evaluation.FailureResult(fmt.Sprintf("calculation expression must evaluate to a number or a map, got %T", value))
		}
		fields = map[string]interface{}{"discountAmount": amount}
	}

	promotion, err := buildPromotion(fields, ec, c.defaults)
	if err != nil {
		return evaluation.FailureResult(fmt.Sprintf("invalid calculation result: %v", err))
	}
	return evaluation.CalculationResult(promotion)
}
