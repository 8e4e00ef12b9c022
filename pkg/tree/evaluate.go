package tree

import (
	"context"
	"fmt"
	"time"

	"github.com/dshills/promoflow/pkg/audit"
	"github.com/dshills/promoflow/pkg/domain/evaluation"
	"github.com/dshills/promoflow/pkg/domain/types"
	perrors "github.com/dshills/promoflow/pkg/errors"
)

// EvaluateOption configures a single evaluation.
type EvaluateOption func(*evaluateOptions)

type evaluateOptions struct {
	requestID types.RequestID
	trace     *[]evaluation.TraceEntry
}

// WithRequestID sets the correlation id used for audit records and external
// calls. A random id is generated otherwise.
func WithRequestID(id string) EvaluateOption {
	return func(o *evaluateOptions) { o.requestID = types.RequestID(id) }
}

// WithTrace appends one entry per visited node to trace.
func WithTrace(trace *[]evaluation.TraceEntry) EvaluateOption {
	return func(o *evaluateOptions) { o.trace = trace }
}

// Evaluate walks the tree from its root for payload and returns the promotion
// produced by the Calculation node it reaches.
//
// Every failure is an *errors.OperationalError wrapping one of the package
// sentinels (ErrTreeNotActive, ErrNodeNotFound, ErrCircularReference, ...).
func (t *DecisionTree) Evaluate(ctx context.Context, payload evaluation.CustomerPayload, opts ...EvaluateOption) (*evaluation.PromotionResult, error) {
	o := evaluateOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.requestID == "" {
		o.requestID = types.NewRequestID()
	}

	start := time.Now()
	promotion, err := t.evaluate(ctx, t.current.Load(), payload, &o)
	elapsed := time.Since(start)

	if err != nil {
		t.metrics.ObserveEvaluation(string(t.id), "error", elapsed)
		t.logger.Error().
			Err(err).
			Str("tree_id", string(t.id)).
			Str("request_id", string(o.requestID)).
			Dur("duration", elapsed).
			Msg("evaluation aborted")
		return nil, err
	}

	t.metrics.ObserveEvaluation(string(t.id), "promotion", elapsed)
	t.logger.Debug().
		Str("tree_id", string(t.id)).
		Str("request_id", string(o.requestID)).
		Str("promotion", promotion.PromotionName).
		Bool("eligible", promotion.Eligible).
		Dur("duration", elapsed).
		Msg("evaluation completed")
	return promotion, nil
}

func (t *DecisionTree) evaluate(ctx context.Context, s *snapshot, payload evaluation.CustomerPayload, o *evaluateOptions) (*evaluation.PromotionResult, error) {
	visited := make(map[types.NodeID]bool)
	fail := func(nodeID types.NodeID, err error) error {
		return perrors.NewOperationalError("evaluating tree", string(t.id), string(nodeID), err).
			WithRequestID(string(o.requestID)).
			WithAttribute("nodes_visited", len(visited))
	}

	if s.status != StatusActive {
		return nil, fail("", fmt.Errorf("%w: status is %s", ErrTreeNotActive, s.status))
	}
	if s.rootNodeID.IsZero() {
		return nil, fail("", ErrRootNotSet)
	}
	if s.nodes[s.rootNodeID] == nil {
		return nil, fail(s.rootNodeID, ErrNodeNotFound)
	}
	if err := payload.Validate(); err != nil {
		return nil, fail("", fmt.Errorf("%w: %v", ErrInvalidPayload, err))
	}

	ec := evaluation.NewExecutionContext(o.requestID, t.id, payload)
	current := s.rootNodeID

	for {
		if err := ctx.Err(); err != nil {
			return nil, fail(current, err)
		}
		if visited[current] {
			return nil, fail(current, ErrCircularReference)
		}
		visited[current] = true

		node := s.nodes[current]
		if node == nil {
			return nil, fail(current, ErrNodeNotFound)
		}

		result := t.execute(ctx, node, ec, o)
		if !result.Success() {
			return nil, fail(current, fmt.Errorf("%w: %s", ErrNodeExecutionFailed, result.Error()))
		}

		switch node.nodeType {
		case evaluation.NodeTypeCalculation:
			promotion, ok := result.Promotion()
			if !ok {
				return nil, fail(current, fmt.Errorf("%w: got %s", ErrInvalidCalculationResult, result.Kind()))
			}
			return promotion, nil
		case evaluation.NodeTypeCondition:
			next, err := nextNode(node, result)
			if err != nil {
				return nil, fail(current, err)
			}
			current = next
		default:
			return nil, fail(current, fmt.Errorf("%w: node type %s", ErrUnexpectedResult, node.nodeType))
		}
	}
}

// nextNode picks the successor of a Condition node from its result.
func nextNode(n *Node, result *evaluation.NodeResult) (types.NodeID, error) {
	if id, ok := result.NextNodeID(); ok {
		if id == "" {
			return "", fmt.Errorf("%w: command routed to an empty node id", ErrInvalidNextNode)
		}
		return types.NodeID(id), nil
	}

	value, ok := result.Bool()
	if !ok {
		return "", fmt.Errorf("%w: condition produced %s", ErrUnexpectedResult, result.Kind())
	}
	next, branch := n.falseNodeID, "false"
	if value {
		next, branch = n.trueNodeID, "true"
	}
	if next.IsZero() {
		return "", fmt.Errorf("%w: no %s successor", ErrInvalidNextNode, branch)
	}
	return next, nil
}

// execute runs one node's command and reports the visit to the auditor,
// metrics, trace and log.
func (t *DecisionTree) execute(ctx context.Context, n *Node, ec *evaluation.ExecutionContext, o *evaluateOptions) *evaluation.NodeResult {
	input := ec.Snapshot()
	start := time.Now()
	result := runCommand(ctx, n, ec)
	elapsed := time.Since(start)

	status := audit.StatusSuccess
	switch {
	case !result.Success():
		status = audit.StatusFailure
	case result.IsFallback():
		status = audit.StatusFallback
	}

	errMsg := result.Error()
	if status == audit.StatusFallback {
		errMsg = result.FallbackReason()
	}
	t.auditor.Record(ctx, audit.Record{
		RequestID:   string(ec.RequestID()),
		TreeID:      string(t.id),
		NodeID:      string(n.id),
		NodeType:    string(n.nodeType),
		CommandType: string(n.CommandType()),
		Input:       input,
		Output:      result.Summary(),
		Duration:    elapsed,
		Status:      status,
		Error:       errMsg,
		Timestamp:   start,
	})
	t.metrics.IncrementNodeExecution(string(n.CommandType()), string(status))

	if o.trace != nil {
		next, _ := result.NextNodeID()
		*o.trace = append(*o.trace, evaluation.TraceEntry{
			NodeID:     string(n.id),
			NodeType:   n.nodeType,
			ResultKind: result.Kind(),
			NextNodeID: next,
			Fallback:   result.IsFallback(),
			DurationMs: elapsed.Milliseconds(),
		})
	}

	t.logger.Debug().
		Str("tree_id", string(t.id)).
		Str("request_id", string(ec.RequestID())).
		Str("node_id", string(n.id)).
		Str("command_type", string(n.CommandType())).
		Str("status", string(status)).
		Dur("duration", elapsed).
		Msg("node executed")
	return result
}

// runCommand executes the node's command, turning a missing command or a
// panic into a failed result.
func runCommand(ctx context.Context, n *Node, ec *evaluation.ExecutionContext) (result *evaluation.NodeResult) {
	if n.command == nil {
		reason := "node has no command"
		if n.configErr != nil {
			reason = n.configErr.Error()
		}
		return evaluation.FailureResult(reason)
	}

	defer func() {
		if r := recover(); r != nil {
			result = evaluation.FailureResult(fmt.Sprintf("command panicked: %v", r))
		}
	}()

	result = n.command.Execute(ctx, ec)
	if result == nil {
		return evaluation.FailureResult("command returned no result")
	}
	return result
}
