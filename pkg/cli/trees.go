package cli

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dshills/promoflow/pkg/domain/types"
	"github.com/dshills/promoflow/pkg/storage"
	"github.com/dshills/promoflow/pkg/tree"
)

func newImportCommand(a *app) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "import <tree-file>",
		Short: "Import a decision tree into the tree directory",
		Long: `Import a decision tree from a YAML file.

The definition is parsed and built; trees with status Active are validated.
It is then saved as <trees-dir>/<tree-id>.yaml so that other commands can refer
to it by id.

Examples:
  promoflow import ./vip.yaml
  promoflow import ./vip.yaml --force`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := tree.ParseFile(args[0])
			if err != nil {
				return err
			}

			e, err := a.openEngine(false)
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()

			dt, err := tree.Build(def, a.treeOptions(e)...)
			if err != nil {
				return err
			}

			repo, err := a.repository()
			if err != nil {
				return err
			}
			if _, err := repo.Load(dt.ID()); err == nil && !force {
				return fmt.Errorf("tree '%s' already exists (use --force to replace it)", dt.ID())
			} else if err != nil && !errors.Is(err, storage.ErrTreeNotFound) && !force {
				return err
			}

			if err := repo.Save(def); err != nil {
				return err
			}

			for _, w := range tree.ScanForCredentials(def) {
				_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "⚠ [%s] %s: %s\n", w.Severity, w.Location, w.Message)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "✓ Tree '%s' imported (%d nodes, status %s)\n", dt.ID(), dt.Len(), dt.Status())
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Replace an existing tree with the same id")

	return cmd
}

func newExportCommand(a *app) *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "export <tree-id>",
		Short: "Export a tree with credentials stripped for sharing",
		Long: `Export a stored tree to YAML with literal credentials removed.

This command:
- Replaces literal secrets in sensitive headers with a placeholder
- Masks passwords embedded in database endpoints
- Keeps keyring:<name> references
- Outputs to stdout or a file

Examples:
  promoflow export vip-promotion
  promoflow export vip-promotion --output shared-vip.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := a.repository()
			if err != nil {
				return err
			}
			def, err := repo.Load(types.TreeID(args[0]))
			if err != nil {
				return err
			}

			for _, w := range tree.ScanForCredentials(def) {
				_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "⚠ [%s] %s: %s\n", w.Severity, w.Location, w.Message)
			}

			exported, err := tree.ExportDefinition(def)
			if err != nil {
				return fmt.Errorf("failed to export tree: %w", err)
			}

			if outputPath == "" {
				_, _ = cmd.OutOrStdout().Write(exported)
				return nil
			}
			if err := os.WriteFile(outputPath, exported, 0600); err != nil {
				return fmt.Errorf("failed to write output file: %w", err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "✓ Tree exported successfully to: %s\n", outputPath)
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "  Credentials have been stripped for safe sharing")
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file path (default: stdout)")

	return cmd
}

func newListCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored decision trees",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := a.repository()
			if err != nil {
				return err
			}
			defs, err := repo.List()
			if err != nil {
				return err
			}
			if len(defs) == 0 {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "No trees found in %s\n", repo.Dir())
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tROOT\tNODES")
			for _, def := range defs {
				status := def.Status
				if status == "" {
					status = string(tree.StatusDraft)
				}
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n", def.ID, truncateString(def.Name, 40), status, def.Root, len(def.Nodes))
			}
			return tw.Flush()
		},
	}
}
