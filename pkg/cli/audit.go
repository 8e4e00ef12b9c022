package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/promoflow/pkg/audit"
	"github.com/dshills/promoflow/pkg/storage"
)

func newAuditCommand(a *app) *cobra.Command {
	var (
		treeID     string
		limit      int
		outputJSON bool
	)

	cmd := &cobra.Command{
		Use:   "audit [request-id]",
		Short: "Show the audit trail of evaluations",
		Long: `Show the node visits recorded for an evaluation, in visit order.

With --tree instead of a request id, the most recent records of that tree are
listed, newest first.

Examples:
  promoflow audit 9b2f3c1e-...
  promoflow audit 9b2f3c1e-... --json
  promoflow audit --tree vip-promotion --limit 50`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && treeID == "" {
				return fmt.Errorf("a request id or --tree is required")
			}
			if len(args) == 1 && treeID != "" {
				return fmt.Errorf("give either a request id or --tree, not both")
			}

			store, err := storage.NewSQLiteAuditStore(a.cfg.AuditDB)
			if err != nil {
				return fmt.Errorf("failed to open audit store: %w", err)
			}
			defer func() { _ = store.Close() }()

			var records []audit.Record
			if treeID != "" {
				records, err = store.ListByTree(cmd.Context(), treeID, limit)
			} else {
				records, err = store.ListByRequest(cmd.Context(), args[0])
			}
			if err != nil {
				return err
			}

			if outputJSON {
				encoder := json.NewEncoder(cmd.OutOrStdout())
				encoder.SetIndent("", "  ")
				if records == nil {
					records = []audit.Record{}
				}
				return encoder.Encode(records)
			}

			if len(records) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No audit records found.")
				return nil
			}
			return printAuditTable(cmd.OutOrStdout(), records)
		},
	}

	cmd.Flags().StringVar(&treeID, "tree", "", "List recent records of a tree instead of one request")
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum records to list with --tree")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "Output records as JSON")

	return cmd
}

func printAuditTable(w io.Writer, records []audit.Record) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "TIME\tREQUEST\tTREE\tNODE\tTYPE\tCOMMAND\tSTATUS\tDURATION\tDETAIL")
	for _, r := range records {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Timestamp.Format("2006-01-02 15:04:05"),
			truncateString(r.RequestID, 12),
			r.TreeID,
			r.NodeID,
			r.NodeType,
			r.CommandType,
			statusSymbol(r.Status)+" "+string(r.Status),
			r.Duration.Round(time.Microsecond),
			truncateString(r.Error, 60),
		)
	}
	return tw.Flush()
}

func statusSymbol(s audit.Status) string {
	switch s {
	case audit.StatusSuccess:
		return "✓"
	case audit.StatusFallback:
		return "⚠"
	default:
		return "✗"
	}
}

// truncateString shortens s to n runes, marking the cut with "...".
func truncateString(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	if n <= 3 {
		return string(runes[:n])
	}
	return string(runes[:n-3]) + "..."
}
