package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dshills/promoflow/pkg/domain/evaluation"
	"github.com/dshills/promoflow/pkg/domain/types"
	"github.com/dshills/promoflow/pkg/tree"
)

// maxPayloadSize limits customer input read from files or stdin.
const maxPayloadSize = 10 << 20

// evaluationOutput is the JSON document printed for one evaluation.
type evaluationOutput struct {
	RequestID string                      `json:"requestId"`
	TreeID    string                      `json:"treeId"`
	Promotion *evaluation.PromotionResult `json:"promotion,omitempty"`
	Trace     []traceStep                 `json:"trace,omitempty"`
	Error     string                      `json:"error,omitempty"`
}

type traceStep struct {
	NodeID     string `json:"nodeId"`
	NodeType   string `json:"nodeType"`
	Result     string `json:"result"`
	NextNodeID string `json:"nextNodeId,omitempty"`
	Fallback   bool   `json:"fallback,omitempty"`
	DurationMs int64  `json:"durationMs"`
}

func newTraceSteps(entries []evaluation.TraceEntry) []traceStep {
	steps := make([]traceStep, 0, len(entries))
	for _, e := range entries {
		steps = append(steps, traceStep{
			NodeID:     e.NodeID,
			NodeType:   string(e.NodeType),
			Result:     string(e.ResultKind),
			NextNodeID: e.NextNodeID,
			Fallback:   e.Fallback,
			DurationMs: e.DurationMs,
		})
	}
	return steps
}

func newEvaluateCommand(a *app) *cobra.Command {
	var (
		customer    string
		requestID   string
		showTrace   bool
		noAudit     bool
		showMetrics bool
	)

	cmd := &cobra.Command{
		Use:   "evaluate <tree-file|tree-id>",
		Short: "Evaluate a customer against a decision tree",
		Long: `Evaluate one customer payload against a decision tree and print the promotion.

The payload is JSON with customerId, accountType, annualIncome, creditScore, region,
transactionCount and the optional accountBalance and transactionHistory. Pass it
inline, as @path to read a file, or as - to read stdin.

Draft trees are validated and activated before evaluation. Every node visit is
recorded in the audit store under the request id printed with the result.

Examples:
  promoflow evaluate trees/vip.yaml --customer @customer.json
  promoflow evaluate vip-promotion --customer '{"customerId":"C1", ...}' --trace
  cat customer.json | promoflow evaluate vip-promotion --customer -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if customer == "" {
				return fmt.Errorf("customer payload is required (use --customer)")
			}
			data, err := readPayloadArg(customer, cmd.InOrStdin())
			if err != nil {
				return err
			}
			payload, err := decodeCustomer(data)
			if err != nil {
				return err
			}

			e, err := a.openEngine(!noAudit)
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()

			dt, err := a.loadActiveTree(args[0], e)
			if err != nil {
				return err
			}

			if requestID == "" {
				requestID = string(types.NewRequestID())
			}
			var trace []evaluation.TraceEntry
			promotion, evalErr := dt.Evaluate(cmd.Context(), payload, tree.WithRequestID(requestID), tree.WithTrace(&trace))

			out := evaluationOutput{
				RequestID: requestID,
				TreeID:    string(dt.ID()),
				Promotion: promotion,
			}
			if showTrace {
				out.Trace = newTraceSteps(trace)
			}
			if evalErr != nil {
				out.Error = evalErr.Error()
			}

			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			if err := encoder.Encode(out); err != nil {
				return fmt.Errorf("failed to write result: %w", err)
			}
			if showMetrics {
				if err := printMetrics(cmd.ErrOrStderr(), a.registry); err != nil {
					return err
				}
			}
			return evalErr
		},
	}

	cmd.Flags().StringVarP(&customer, "customer", "c", "", "Customer payload: inline JSON, @file, or - for stdin (required)")
	cmd.Flags().StringVar(&requestID, "request-id", "", "Correlation id for audit records (default: generated)")
	cmd.Flags().BoolVar(&showTrace, "trace", false, "Include the visited node path in the output")
	cmd.Flags().BoolVar(&noAudit, "no-audit", false, "Do not write audit records to the audit store")
	cmd.Flags().BoolVar(&showMetrics, "metrics", false, "Print evaluation metrics to stderr")

	return cmd
}

// readPayloadArg resolves an argument that is inline data, @path, or - for
// stdin.
func readPayloadArg(arg string, stdin io.Reader) ([]byte, error) {
	switch {
	case arg == "-":
		data, err := io.ReadAll(io.LimitReader(stdin, maxPayloadSize+1))
		if err != nil {
			return nil, fmt.Errorf("failed to read from stdin: %w", err)
		}
		if len(data) > maxPayloadSize {
			return nil, fmt.Errorf("payload exceeds maximum size of %d bytes", maxPayloadSize)
		}
		return data, nil
	case strings.HasPrefix(arg, "@"):
		path := strings.TrimPrefix(arg, "@")
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("payload file not found: %s", path)
		}
		if info.Size() > maxPayloadSize {
			return nil, fmt.Errorf("payload file exceeds maximum size of %d bytes", maxPayloadSize)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read payload file: %w", err)
		}
		return data, nil
	default:
		return []byte(arg), nil
	}
}

// decodeCustomer parses a single JSON customer payload, rejecting unknown
// fields.
func decodeCustomer(data []byte) (evaluation.CustomerPayload, error) {
	var payload evaluation.CustomerPayload
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&payload); err != nil {
		return payload, fmt.Errorf("failed to parse customer JSON: %w", err)
	}
	return payload, nil
}
