// Package tree implements the decision tree aggregate: a set of Condition and
// Calculation nodes rooted at one node, activated only when structurally
// valid, and evaluated against a customer payload to produce a promotion.
//
// A tree publishes an immutable snapshot of its state. Writers serialize on a
// mutex, mutate a copy and swap it in; evaluations read one snapshot from
// start to finish and never block writers.
package tree

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/dshills/promoflow/pkg/audit"
	"github.com/dshills/promoflow/pkg/command"
	"github.com/dshills/promoflow/pkg/domain/types"
	"github.com/dshills/promoflow/pkg/metrics"
)

// Status is the lifecycle state of a tree.
type Status string

const (
	StatusDraft    Status = "Draft"
	StatusActive   Status = "Active"
	StatusInactive Status = "Inactive"
)

// ParseStatus parses a status, case-insensitively. Empty means Draft.
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "draft":
		return StatusDraft, nil
	case "active":
		return StatusActive, nil
	case "inactive":
		return StatusInactive, nil
	default:
		return "", fmt.Errorf("unknown tree status: %q", s)
	}
}

type snapshot struct {
	status     Status
	rootNodeID types.NodeID
	nodes      map[types.NodeID]*Node
	updatedAt  time.Time
}

func (s *snapshot) clone() *snapshot {
	out := *s
	out.nodes = make(map[types.NodeID]*Node, len(s.nodes))
	for id, n := range s.nodes {
		out.nodes[id] = n
	}
	return &out
}

// DecisionTree is safe for concurrent use.
type DecisionTree struct {
	id          types.TreeID
	name        string
	description string
	createdAt   time.Time

	mu      sync.Mutex
	current atomic.Pointer[snapshot]

	commands     *command.Factory
	ownsCommands bool
	auditor      audit.Auditor
	metrics      *metrics.Metrics
	logger       zerolog.Logger
}

// Option configures a DecisionTree.
type Option func(*DecisionTree)

// WithID sets the tree id. A random id is generated otherwise.
func WithID(id types.TreeID) Option {
	return func(t *DecisionTree) { t.id = id }
}

// WithDescription sets the tree description.
func WithDescription(d string) Option {
	return func(t *DecisionTree) { t.description = d }
}

// WithCommandFactory sets the factory that builds node commands. Trees that
// share a factory share its adapters.
func WithCommandFactory(f *command.Factory) Option {
	return func(t *DecisionTree) { t.commands = f }
}

// WithAuditor sets where per-node audit records go.
func WithAuditor(a audit.Auditor) Option {
	return func(t *DecisionTree) { t.auditor = a }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Metrics) Option {
	return func(t *DecisionTree) { t.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(t *DecisionTree) { t.logger = l }
}

// New creates an empty Draft tree.
func New(name string, opts ...Option) (*DecisionTree, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("tree name cannot be empty")
	}

	now := time.Now()
	t := &DecisionTree{
		name:      name,
		createdAt: now,
		auditor:   audit.Nop{},
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.id == "" {
		t.id = types.NewTreeID()
	}
	if !types.IsValidIdentifier(string(t.id)) {
		return nil, fmt.Errorf("invalid tree id %q: only letters, digits, '-' and '_' are allowed", t.id)
	}
	if t.commands == nil {
		t.commands = command.NewFactory(command.WithMetrics(t.metrics), command.WithLogger(t.logger))
		t.ownsCommands = true
	}
	if t.auditor == nil {
		t.auditor = audit.Nop{}
	}

	t.current.Store(&snapshot{
		status:    StatusDraft,
		nodes:     make(map[types.NodeID]*Node),
		updatedAt: now,
	})
	return t, nil
}

func (t *DecisionTree) ID() types.TreeID {
	return t.id
}

func (t *DecisionTree) Name() string {
	return t.name
}

func (t *DecisionTree) Description() string {
	return t.description
}

func (t *DecisionTree) CreatedAt() time.Time {
	return t.createdAt
}

// Status returns the current lifecycle state.
func (t *DecisionTree) Status() Status {
	return t.current.Load().status
}

// RootNodeID returns the root node id, empty when unset.
func (t *DecisionTree) RootNodeID() types.NodeID {
	return t.current.Load().rootNodeID
}

// UpdatedAt returns when the tree was last mutated.
func (t *DecisionTree) UpdatedAt() time.Time {
	return t.current.Load().updatedAt
}

// Node returns a node by id.
func (t *DecisionTree) Node(id types.NodeID) (*Node, bool) {
	n, ok := t.current.Load().nodes[id]
	return n, ok
}

// Nodes returns all nodes sorted by id.
func (t *DecisionTree) Nodes() []*Node {
	return sortedNodes(t.current.Load())
}

// Len returns the number of nodes.
func (t *DecisionTree) Len() int {
	return len(t.current.Load().nodes)
}

func sortedNodes(s *snapshot) []*Node {
	out := make([]*Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// mutate applies fn to a copy of the current snapshot and publishes it. An
// active tree only accepts changes that keep it valid.
func (t *DecisionTree) mutate(fn func(s *snapshot) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	next := t.current.Load().clone()
	if err := fn(next); err != nil {
		return err
	}
	if next.status == StatusActive {
		if problems := validateSnapshot(next); len(problems) > 0 {
			return &ValidationError{TreeID: string(t.id), Problems: problems}
		}
	}
	next.updatedAt = time.Now()
	t.current.Store(next)
	return nil
}

// AddNode adds a node and builds its command. Configuration errors do not
// block adding to an inactive tree; they are reported by validation.
//
// A node that was just added is not referenced by any other node yet, so
// AddNode on an Active tree always fails the reachability check. To extend
// an active tree, Deactivate it, add and wire the nodes, then Activate.
func (t *DecisionTree) AddNode(n *Node) error {
	if n == nil {
		return ErrNilNode
	}
	bound := n.bind(t.id, t.commands)
	return t.mutate(func(s *snapshot) error {
		if _, exists := s.nodes[n.id]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateNode, n.id)
		}
		s.nodes[n.id] = bound
		return nil
	})
}

// RemoveNode removes a node. The root cannot be removed.
func (t *DecisionTree) RemoveNode(id types.NodeID) error {
	return t.mutate(func(s *snapshot) error {
		if _, exists := s.nodes[id]; !exists {
			return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
		}
		if s.rootNodeID == id {
			return fmt.Errorf("%w: %s", ErrRemoveRoot, id)
		}
		delete(s.nodes, id)
		return nil
	})
}

// SetRootNode sets the traversal entry point, which must be a member node.
func (t *DecisionTree) SetRootNode(id types.NodeID) error {
	return t.mutate(func(s *snapshot) error {
		if _, exists := s.nodes[id]; !exists {
			return fmt.Errorf("%w: %s", ErrRootNotMember, id)
		}
		s.rootNodeID = id
		return nil
	})
}

// Activate validates the tree and makes it evaluable. On failure the status
// is unchanged and a *ValidationError lists the problems.
func (t *DecisionTree) Activate() error {
	err := t.mutate(func(s *snapshot) error {
		s.status = StatusActive
		return nil
	})
	if err != nil {
		return err
	}
	t.logger.Info().Str("tree_id", string(t.id)).Int("nodes", t.Len()).Msg("tree activated")
	return nil
}

// Deactivate moves an active tree to Inactive.
func (t *DecisionTree) Deactivate() error {
	return t.mutate(func(s *snapshot) error {
		if s.status != StatusActive {
			return fmt.Errorf("%w: status is %s", ErrNotActive, s.status)
		}
		s.status = StatusInactive
		return nil
	})
}

// ValidateTreeStructure returns every structural problem of the current
// state. An empty result means the tree can be activated.
func (t *DecisionTree) ValidateTreeStructure() []string {
	return validateSnapshot(t.current.Load())
}

// Close releases the adapters of a command factory the tree created itself.
// A factory passed with WithCommandFactory is left to its owner.
func (t *DecisionTree) Close() error {
	if !t.ownsCommands {
		return nil
	}
	return t.commands.Close()
}
