// Package evaluation defines the value objects threaded through a single
// decision tree evaluation: the customer payload, the execution context,
// node configuration, node results and the terminal promotion result.
package evaluation

import (
	"fmt"
	"strings"
)

// NodeType tags a node as routing (Condition) or terminal (Calculation).
type NodeType string

const (
	// NodeTypeCondition routes traversal to a successor node.
	NodeTypeCondition NodeType = "Condition"
	// NodeTypeCalculation terminates traversal with a PromotionResult.
	NodeTypeCalculation NodeType = "Calculation"
)

// ParseNodeType parses a node type tag, case-insensitively.
func ParseNodeType(s string) (NodeType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "condition":
		return NodeTypeCondition, nil
	case "calculation":
		return NodeTypeCalculation, nil
	default:
		return "", fmt.Errorf("unknown node type: %q", s)
	}
}

// CommandType selects the backend that evaluates a node.
type CommandType string

const (
	// CommandTypeExpression evaluates an in-process expression.
	CommandTypeExpression CommandType = "Expression"
	// CommandTypeRuleEngine fires a declarative rule set.
	CommandTypeRuleEngine CommandType = "RuleEngine"
	// CommandTypeExternalSystem calls a remote HTTP, SOAP or database system.
	CommandTypeExternalSystem CommandType = "ExternalSystem"
	// CommandTypeDatabaseQuery looks up a row in a configured database.
	CommandTypeDatabaseQuery CommandType = "DatabaseQuery"
)

// ParseCommandType parses a command type, case-insensitively.
// Unknown values are returned as-is so the command factory can reject them
// with a configuration error naming the node.
func ParseCommandType(s string) CommandType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "expression":
		return CommandTypeExpression
	case "ruleengine", "rule_engine", "rule-engine":
		return CommandTypeRuleEngine
	case "externalsystem", "external_system", "external-system":
		return CommandTypeExternalSystem
	case "databasequery", "database_query", "database-query":
		return CommandTypeDatabaseQuery
	default:
		return CommandType(s)
	}
}

// ResultKind identifies which payload a NodeResult carries.
type ResultKind string

const (
	// ResultKindNone is carried by failed results.
	ResultKindNone ResultKind = "none"
	// ResultKindBool is a condition outcome.
	ResultKindBool ResultKind = "bool"
	// ResultKindPromotion is a calculation outcome.
	ResultKindPromotion ResultKind = "promotion"
	// ResultKindNextNode is a command-produced route.
	ResultKindNextNode ResultKind = "next_node"
)

// TraceEntry records one visited node of an evaluation.
type TraceEntry struct {
	NodeID     string
	NodeType   NodeType
	ResultKind ResultKind
	NextNodeID string
	Fallback   bool
	DurationMs int64
}
