// Package cli implements the promoflow command line.
package cli

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dshills/promoflow/pkg/config"
	"github.com/dshills/promoflow/pkg/logging"
	"github.com/dshills/promoflow/pkg/metrics"
	"github.com/dshills/promoflow/pkg/storage"
)

const (
	// Version is the current version of promoflow
	Version = "1.0.0"
)

// app holds what the subcommands share. It is filled in by the root
// command's PersistentPreRunE.
type app struct {
	debug bool

	cfg         *config.Config
	logger      zerolog.Logger
	registry    *prometheus.Registry
	metrics     *metrics.Metrics
	credentials *storage.KeyringCredentialStore
}

// NewRootCommand creates the root cobra command for promoflow
func NewRootCommand() *cobra.Command {
	a := &app{logger: zerolog.Nop()}

	cmd := &cobra.Command{
		Use:   "promoflow",
		Short: "promoflow - decision tree promotion engine",
		Long: `promoflow evaluates customer payloads against promotion decision trees.

Trees are YAML files of condition and calculation nodes. Condition nodes route on
expressions, rule sets or external systems; calculation nodes produce the promotion.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := a.init(cmd); err != nil {
				return fmt.Errorf("failed to initialize: %w", err)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVar(&a.debug, "debug", false, "Enable debug logging")

	cmd.AddCommand(newValidateCommand(a))
	cmd.AddCommand(newEvaluateCommand(a))
	cmd.AddCommand(newBatchCommand(a))
	cmd.AddCommand(newAuditCommand(a))
	cmd.AddCommand(newCredentialCommand(a))
	cmd.AddCommand(newImportCommand(a))
	cmd.AddCommand(newExportCommand(a))
	cmd.AddCommand(newListCommand(a))

	return cmd
}

func (a *app) init(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	level := cfg.LogLevel
	if a.debug {
		level = "debug"
	}
	logger, err := logging.New(logging.Config{
		Level:  level,
		Format: cfg.LogFormat,
		Writer: cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = logger
	a.registry = prometheus.NewRegistry()
	a.metrics = metrics.New(a.registry)
	a.credentials = storage.NewKeyringCredentialStore()
	return nil
}

func (a *app) repository() (*storage.FileTreeRepository, error) {
	return storage.NewFileTreeRepository(a.cfg.TreesDir, a.logger)
}

// Execute runs the root command
func Execute() error {
	return NewRootCommand().Execute()
}
