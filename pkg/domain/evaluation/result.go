package evaluation

import "strings"

// NodeResult is the outcome of executing one node's command. It is either a
// success carrying exactly one payload (a condition boolean, a promotion, or
// a next node id) or a failure carrying an error message.
// NodeResults are never mutated after creation.
type NodeResult struct {
	success        bool
	kind           ResultKind
	boolValue      bool
	promotion      *PromotionResult
	nextNodeID     string
	errorMessage   string
	fallbackReason string
}

// ConditionResult creates a successful boolean outcome.
func ConditionResult(value bool) *NodeResult {
	return &NodeResult{success: true, kind: ResultKindBool, boolValue: value}
}

// CalculationResult creates a successful promotion outcome.
func CalculationResult(promotion *PromotionResult) *NodeResult {
	return &NodeResult{success: true, kind: ResultKindPromotion, promotion: promotion}
}

// RouteResult creates a successful outcome naming the next node to visit.
func RouteResult(nextNodeID string) *NodeResult {
	return &NodeResult{success: true, kind: ResultKindNextNode, nextNodeID: strings.TrimSpace(nextNodeID)}
}

// FailureResult creates a failed outcome.
func FailureResult(message string) *NodeResult {
	return &NodeResult{success: false, kind: ResultKindNone, errorMessage: message}
}

// WithFallback returns a copy of a successful result marked as a fallback
// substitution, keeping the reason for audit.
func (r *NodeResult) WithFallback(reason string) *NodeResult {
	out := *r
	out.fallbackReason = reason
	return &out
}

// Success reports whether the node executed successfully.
func (r *NodeResult) Success() bool {
	return r.success
}

// Kind returns which payload the result carries.
func (r *NodeResult) Kind() ResultKind {
	return r.kind
}

// Bool returns the condition outcome.
func (r *NodeResult) Bool() (bool, bool) {
	return r.boolValue, r.kind == ResultKindBool
}

// Promotion returns the calculation outcome.
func (r *NodeResult) Promotion() (*PromotionResult, bool) {
	if r.kind != ResultKindPromotion || r.promotion == nil {
		return nil, false
	}
	return r.promotion, true
}

// NextNodeID returns the routed node id.
func (r *NodeResult) NextNodeID() (string, bool) {
	return r.nextNodeID, r.kind == ResultKindNextNode
}

// Error returns the failure message.
func (r *NodeResult) Error() string {
	return r.errorMessage
}

// IsFallback reports whether the result was substituted after a failure.
func (r *NodeResult) IsFallback() bool {
	return r.fallbackReason != ""
}

// FallbackReason returns the failure the fallback replaced.
func (r *NodeResult) FallbackReason() string {
	return r.fallbackReason
}

// Summary renders the result as a map for audit records and logs.
func (r *NodeResult) Summary() map[string]interface{} {
	out := map[string]interface{}{
		"success": r.success,
		"kind":    string(r.kind),
	}
	switch r.kind {
	case ResultKindBool:
		out["value"] = r.boolValue
	case ResultKindPromotion:
		out["promotion"] = r.promotion.Map()
	case ResultKindNextNode:
		out["nextNodeId"] = r.nextNodeID
	}
	if r.errorMessage != "" {
		out["error"] = r.errorMessage
	}
	if r.fallbackReason != "" {
		out["fallbackReason"] = r.fallbackReason
	}
	return out
}
