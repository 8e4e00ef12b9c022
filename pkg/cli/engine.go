package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dshills/promoflow/pkg/adapter"
	"github.com/dshills/promoflow/pkg/audit"
	"github.com/dshills/promoflow/pkg/command"
	"github.com/dshills/promoflow/pkg/domain/types"
	"github.com/dshills/promoflow/pkg/storage"
	"github.com/dshills/promoflow/pkg/tree"
)

// closeTimeout bounds the audit flush when a command finishes.
const closeTimeout = 10 * time.Second

// engine is the set of collaborators a loaded tree runs with.
type engine struct {
	commands *command.Factory
	store    *storage.SQLiteAuditStore
	emitter  *audit.Emitter
}

// openEngine builds the command factory (adapters resolve keyring header
// references) and, when withAudit is set, the SQLite audit trail behind an
// asynchronous emitter.
func (a *app) openEngine(withAudit bool) (*engine, error) {
	adapters := adapter.NewFactory(
		adapter.WithSecretResolver(a.credentials),
		adapter.WithLogger(a.logger),
	)
	e := &engine{
		commands: command.NewFactory(
			command.WithAdapterFactory(adapters),
			command.WithMetrics(a.metrics),
			command.WithLogger(a.logger),
			command.WithDefaultTimeout(a.cfg.DefaultTimeout),
		),
	}
	if !withAudit {
		return e, nil
	}

	store, err := storage.NewSQLiteAuditStore(a.cfg.AuditDB)
	if err != nil {
		_ = e.commands.Close()
		return nil, fmt.Errorf("failed to open audit store: %w", err)
	}
	e.store = store
	e.emitter = audit.NewEmitter(
		audit.NewMultiSink(store, audit.NewLogSink(a.logger)),
		audit.WithBufferSize(a.cfg.AuditBuffer),
		audit.WithLogger(a.logger),
	)
	return e, nil
}

// treeOptions wires the engine into a tree built from a definition.
func (a *app) treeOptions(e *engine) []tree.Option {
	opts := []tree.Option{
		tree.WithCommandFactory(e.commands),
		tree.WithMetrics(a.metrics),
		tree.WithLogger(a.logger),
	}
	if e.emitter != nil {
		opts = append(opts, tree.WithAuditor(e.emitter))
	}
	return opts
}

// Close flushes pending audit records before releasing the store and the
// adapters.
func (e *engine) Close() error {
	var errs []error
	if e.emitter != nil {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := e.emitter.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush audit records: %w", err))
		}
	}
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := e.commands.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// loadDefinition reads ref as a YAML file when one exists at that path, and
// otherwise looks it up as a tree id in the repository.
func (a *app) loadDefinition(ref string) (*tree.Definition, error) {
	if _, err := os.Stat(ref); err == nil {
		return tree.ParseFile(ref)
	}

	repo, err := a.repository()
	if err != nil {
		return nil, err
	}
	def, err := repo.Load(types.TreeID(ref))
	if errors.Is(err, storage.ErrTreeNotFound) {
		return nil, fmt.Errorf("tree not found: %s\n\nLooked for a file and in: %s", ref, repo.Dir())
	}
	return def, err
}

// loadActiveTree builds the tree for evaluation. Draft trees are activated,
// which validates them; inactive trees stay inactive and refuse to evaluate.
func (a *app) loadActiveTree(ref string, e *engine) (*tree.DecisionTree, error) {
	def, err := a.loadDefinition(ref)
	if err != nil {
		return nil, err
	}
	dt, err := tree.Build(def, a.treeOptions(e)...)
	if err != nil {
		return nil, err
	}
	if dt.Status() == tree.StatusDraft {
		if err := dt.Activate(); err != nil {
			return nil, err
		}
	}
	return dt, nil
}
