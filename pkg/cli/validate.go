package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/promoflow/pkg/tree"
)

func newValidateCommand(a *app) *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "validate <tree-file|tree-id>",
		Short: "Validate a decision tree",
		Long: `Validate a decision tree definition for correctness.

This checks:
- YAML syntax and the definition schema
- Node configurations (commands, expressions, rules, external systems)
- Successors (condition nodes need both, calculation nodes none)
- References to missing nodes
- Cycles
- Reachability of every node from the root
- Literal credentials that should be keyring references

Examples:
  promoflow validate trees/vip.yaml
  promoflow validate vip-promotion --verbose`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			def, err := a.loadDefinition(args[0])
			if err != nil {
				_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "✗ Failed to parse tree definition")
				return err
			}
			_, _ = fmt.Fprintln(out, "✓ Tree definition parsed successfully")

			e, err := a.openEngine(false)
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()

			// Build as a draft so validation reports every problem instead of
			// stopping at activation.
			draft := *def
			draft.Status = ""
			dt, err := tree.Build(&draft, a.treeOptions(e)...)
			if err != nil {
				_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "✗ Tree could not be built")
				return err
			}

			if verbose {
				_, _ = fmt.Fprintf(out, "  Tree: %s (%s)\n", dt.ID(), dt.Name())
				_, _ = fmt.Fprintf(out, "  Root: %s\n", dt.RootNodeID())
				_, _ = fmt.Fprintf(out, "  Nodes: %d\n", dt.Len())
			}

			problems := dt.ValidateTreeStructure()
			if len(problems) > 0 {
				_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "✗ Tree validation failed")
				for _, p := range problems {
					_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "  - %s\n", p)
				}
				return &tree.ValidationError{TreeID: string(dt.ID()), Problems: problems}
			}
			_, _ = fmt.Fprintln(out, "✓ Tree structure valid")

			warnings := tree.ScanForCredentials(def)
			if len(warnings) > 0 {
				_, _ = fmt.Fprintf(out, "⚠ %d potential literal credential(s) found\n", len(warnings))
				if verbose {
					for _, w := range warnings {
						_, _ = fmt.Fprintf(out, "  [%s] %s: %s\n", w.Severity, w.Location, w.Message)
					}
				} else {
					_, _ = fmt.Fprintln(out, "  Use --verbose to see details")
				}
			}

			_, _ = fmt.Fprintf(out, "\n✓ Tree '%s' is valid and ready to evaluate\n", dt.ID())
			return nil
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show detailed validation information")

	return cmd
}
