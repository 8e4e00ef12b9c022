package command

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dshills/promoflow/pkg/adapter"
	"github.com/dshills/promoflow/pkg/domain/evaluation"
	"github.com/dshills/promoflow/pkg/metrics"
	"github.com/dshills/promoflow/pkg/rules"
	"github.com/dshills/promoflow/pkg/transform"
)

// Dependencies are the shared collaborators handed to every backend
// constructor.
type Dependencies struct {
	Evaluator transform.ExpressionEvaluator
	Rules     *rules.Engine
	Adapters  *adapter.Factory
	Metrics   *metrics.Metrics
	Logger    zerolog.Logger

	// DefaultTimeout applies to external calls whose node sets no
	// timeoutSeconds.
	DefaultTimeout time.Duration
}

// Constructor builds a command from a node configuration.
type Constructor func(cfg evaluation.NodeConfig, deps Dependencies) (NodeCommand, error)

// Backend describes a command type: how to construct it and which node types
// it can serve.
type Backend struct {
	New       Constructor
	NodeTypes []evaluation.NodeType
}

func (b Backend) supports(nt evaluation.NodeType) bool {
	for _, t := range b.NodeTypes {
		if t == nt {
			return true
		}
	}
	return false
}

// Factory selects the backend for a node configuration.
type Factory struct {
	mu       sync.RWMutex
	backends map[evaluation.CommandType]Backend
	deps     Dependencies
}

// Option configures a Factory.
type Option func(*Factory)

// WithEvaluator sets the expression evaluator shared by the Expression and
// RuleEngine backends.
func WithEvaluator(e transform.ExpressionEvaluator) Option {
	return func(f *Factory) { f.deps.Evaluator = e }
}

// WithAdapterFactory sets the adapter factory used by external backends.
func WithAdapterFactory(a *adapter.Factory) Option {
	return func(f *Factory) { f.deps.Adapters = a }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Metrics) Option {
	return func(f *Factory) { f.deps.Metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(f *Factory) { f.deps.Logger = l }
}

// WithDefaultTimeout sets the external call timeout used when a node does not
// configure timeoutSeconds. Non-positive values are ignored.
func WithDefaultTimeout(d time.Duration) Option {
	return func(f *Factory) {
		if d > 0 {
			f.deps.DefaultTimeout = d
		}
	}
}

// NewFactory creates a factory with the built-in backends registered.
func NewFactory(opts ...Option) *Factory {
	f := &Factory{
		backends: make(map[evaluation.CommandType]Backend),
		deps: Dependencies{
			Logger:         zerolog.Nop(),
			DefaultTimeout: DefaultTimeoutSeconds * time.Second,
		},
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.deps.Evaluator == nil {
		f.deps.Evaluator = transform.NewExpressionEvaluator()
	}
	if f.deps.Rules == nil {
		f.deps.Rules = rules.NewEngine(f.deps.Evaluator)
	}
	if f.deps.Adapters == nil {
		f.deps.Adapters = adapter.NewFactory(adapter.WithLogger(f.deps.Logger))
	}

	both := []evaluation.NodeType{evaluation.NodeTypeCondition, evaluation.NodeTypeCalculation}
	f.backends[evaluation.CommandTypeExpression] = Backend{New: newExpressionCommand, NodeTypes: both}
	f.backends[evaluation.CommandTypeRuleEngine] = Backend{New: newRuleEngineCommand, NodeTypes: both}
	f.backends[evaluation.CommandTypeExternalSystem] = Backend{New: newExternalSystemCommand, NodeTypes: both}
	f.backends[evaluation.CommandTypeDatabaseQuery] = Backend{New: newDatabaseQueryCommand, NodeTypes: both}
	return f
}

// Register adds a backend for a new command type.
func (f *Factory) Register(ct evaluation.CommandType, b Backend) error {
	if ct == "" {
		return fmt.Errorf("command type cannot be empty")
	}
	if b.New == nil {
		return fmt.Errorf("backend for %s has no constructor", ct)
	}
	if len(b.NodeTypes) == 0 {
		return fmt.Errorf("backend for %s supports no node types", ct)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.backends[ct]; exists {
		return fmt.Errorf("command type %s already registered", ct)
	}
	f.backends[ct] = b
	return nil
}

// Supports reports whether the command type can serve the node type.
func (f *Factory) Supports(ct evaluation.CommandType, nt evaluation.NodeType) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	b, ok := f.backends[ct]
	return ok && b.supports(nt)
}

// CommandTypes lists the registered command types in sorted order.
func (f *Factory) CommandTypes() []evaluation.CommandType {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]evaluation.CommandType, 0, len(f.backends))
	for ct := range f.backends {
		out = append(out, ct)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Create builds the command for cfg. Unknown command types and unsupported
// node/command combinations are ConfigurationErrors.
func (f *Factory) Create(cfg evaluation.NodeConfig) (NodeCommand, error) {
	if strings.TrimSpace(cfg.NodeID) == "" {
		return nil, configError(cfg, "node id is required", nil)
	}
	if _, err := evaluation.ParseNodeType(string(cfg.NodeType)); err != nil {
		return nil, configError(cfg, "invalid node type", err)
	}

	f.mu.RLock()
	b, ok := f.backends[cfg.CommandType]
	f.mu.RUnlock()
	if !ok {
		return nil, configError(cfg, fmt.Sprintf("unknown command type %q", cfg.CommandType), nil)
	}
	if !b.supports(cfg.NodeType) {
		return nil, configError(cfg, fmt.Sprintf("command type %s does not support %s nodes", cfg.CommandType, cfg.NodeType), nil)
	}

	cmd, err := b.New(cfg.Clone(), f.deps)
	if err != nil {
		var ce *ConfigurationError
		if errors.As(err, &ce) {
			return nil, err
		}
		return nil, configError(cfg, "construction failed", err)
	}
	return cmd, nil
}

// Close releases adapters held by external commands.
func (f *Factory) Close() error {
	return f.deps.Adapters.Close()
}
