package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/promoflow/pkg/domain/evaluation"
	"github.com/dshills/promoflow/pkg/domain/types"
	"github.com/dshills/promoflow/pkg/tree"
)

// batchLine is one customer read from the input.
type batchLine struct {
	number  int
	payload evaluation.CustomerPayload
	err     error
}

// batchResult is the JSON line printed per customer.
type batchResult struct {
	Line       int                         `json:"line"`
	CustomerID string                      `json:"customerId,omitempty"`
	RequestID  string                      `json:"requestId,omitempty"`
	Promotion  *evaluation.PromotionResult `json:"promotion,omitempty"`
	Error      string                      `json:"error,omitempty"`
}

func newBatchCommand(a *app) *cobra.Command {
	var (
		customers   string
		concurrency int
		noAudit     bool
		showMetrics bool
	)

	cmd := &cobra.Command{
		Use:   "batch <tree-file|tree-id>",
		Short: "Evaluate many customers against a decision tree",
		Long: `Evaluate a file of customer payloads, one JSON object per line, against a
decision tree. Customers are evaluated concurrently; results are printed as JSON
lines in input order. A customer that fails to parse or evaluate gets an error
line and does not stop the batch.

Concurrency defaults to PROMOFLOW_CONCURRENCY.

Examples:
  promoflow batch trees/vip.yaml --customers customers.jsonl
  promoflow batch vip-promotion --customers - --concurrency 16 < customers.jsonl`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if customers == "" {
				return fmt.Errorf("customers file is required (use --customers)")
			}
			if cmd.Flags().Changed("concurrency") && concurrency < 1 {
				return fmt.Errorf("concurrency must be at least 1, got %d", concurrency)
			}
			if !cmd.Flags().Changed("concurrency") {
				concurrency = a.cfg.Concurrency
			}

			var in io.Reader = cmd.InOrStdin()
			if customers != "-" {
				f, err := os.Open(customers)
				if err != nil {
					return fmt.Errorf("failed to open customers file: %w", err)
				}
				defer func() { _ = f.Close() }()
				in = f
			}
			lines, err := readBatch(in)
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

			results := make([]batchResult, len(lines))
			g, ctx := errgroup.WithContext(cmd.Context())
			g.SetLimit(concurrency)
			for i, line := range lines {
				g.Go(func() error {
					if err := ctx.Err(); err != nil {
						return err
					}
					results[i] = evaluateLine(ctx, dt, line)
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}

			failed := 0
			encoder := json.NewEncoder(cmd.OutOrStdout())
			for _, r := range results {
				if r.Error != "" {
					failed++
				}
				if err := encoder.Encode(r); err != nil {
					return fmt.Errorf("failed to write result: %w", err)
				}
			}
			a.logger.Info().
				Str("tree_id", string(dt.ID())).
				Int("customers", len(results)).
				Int("failed", failed).
				Int("concurrency", concurrency).
				Msg("batch evaluation finished")

			if showMetrics {
				if err := printMetrics(cmd.ErrOrStderr(), a.registry); err != nil {
					return err
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d customers failed", failed, len(results))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&customers, "customers", "", "JSON lines file of customer payloads, or - for stdin (required)")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "Maximum concurrent evaluations (default: PROMOFLOW_CONCURRENCY)")
	cmd.Flags().BoolVar(&noAudit, "no-audit", false, "Do not write audit records to the audit store")
	cmd.Flags().BoolVar(&showMetrics, "metrics", false, "Print evaluation metrics to stderr")

	return cmd
}

// readBatch reads non-blank JSON lines. Lines that do not decode are kept
// with their error so they are reported in order.
func readBatch(r io.Reader) ([]batchLine, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxPayloadSize)

	var lines []batchLine
	number := 0
	for scanner.Scan() {
		number++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		payload, err := decodeCustomer(raw)
		lines = append(lines, batchLine{number: number, payload: payload, err: err})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read customers: %w", err)
	}
	return lines, nil
}

func evaluateLine(ctx context.Context, dt *tree.DecisionTree, line batchLine) batchResult {
	result := batchResult{Line: line.number, CustomerID: line.payload.CustomerID}
	if line.err != nil {
		result.Error = line.err.Error()
		return result
	}

	result.RequestID = string(types.NewRequestID())
	promotion, err := dt.Evaluate(ctx, line.payload, tree.WithRequestID(result.RequestID))
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.Promotion = promotion
	return result
}
