package tree

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dshills/promoflow/pkg/command"
	"github.com/dshills/promoflow/pkg/domain/evaluation"
	"github.com/dshills/promoflow/pkg/domain/types"
)

// Node is one vertex of a decision tree. Condition nodes route to TrueNodeID
// or FalseNodeID; Calculation nodes are terminal. Nodes are immutable once
// created.
type Node struct {
	id          types.NodeID
	treeID      types.TreeID
	nodeType    evaluation.NodeType
	config      evaluation.NodeConfig
	trueNodeID  types.NodeID
	falseNodeID types.NodeID
	// routes are node ids a command may name as the next node
	routes []types.NodeID

	// set when the node is bound to a tree
	command   command.NodeCommand
	configErr error
}

// NewNode creates a node. The configuration's NodeID and NodeType are filled
// from id and nodeType when empty and must match them otherwise.
func NewNode(id string, nodeType evaluation.NodeType, cfg evaluation.NodeConfig, trueNodeID, falseNodeID string) (*Node, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.New("node id cannot be empty")
	}
	if !types.IsValidIdentifier(id) {
		return nil, fmt.Errorf("invalid node id %q: only letters, digits, '-' and '_' are allowed", id)
	}
	nt, err := evaluation.ParseNodeType(string(nodeType))
	if err != nil {
		return nil, err
	}

	cfg = cfg.Clone()
	if cfg.NodeID == "" {
		cfg.NodeID = id
	} else if cfg.NodeID != id {
		return nil, fmt.Errorf("node %s: configuration belongs to node %s", id, cfg.NodeID)
	}
	if cfg.NodeType == "" {
		cfg.NodeType = nt
	} else if cfg.NodeType != nt {
		return nil, fmt.Errorf("node %s: configuration node type %s does not match %s", id, cfg.NodeType, nt)
	}

	routes, err := routeParam(cfg)
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", id, err)
	}

	return &Node{
		id:          types.NodeID(id),
		nodeType:    nt,
		config:      cfg,
		trueNodeID:  types.NodeID(strings.TrimSpace(trueNodeID)),
		falseNodeID: types.NodeID(strings.TrimSpace(falseNodeID)),
		routes:      routes,
	}, nil
}

// routeParam reads the optional "routes" parameter listing the node ids a
// command may route to by name.
func routeParam(cfg evaluation.NodeConfig) ([]types.NodeID, error) {
	raw, ok := cfg.Param("routes")
	if !ok || raw == nil {
		return nil, nil
	}
	var ids []string
	switch v := raw.(type) {
	case []string:
		ids = v
	case []interface{}:
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("routes must be a list of node ids, got %T element", item)
			}
			ids = append(ids, s)
		}
	default:
		return nil, fmt.Errorf("routes must be a list of node ids, got %T", raw)
	}

	out := make([]types.NodeID, 0, len(ids))
	for _, s := range ids {
		if strings.TrimSpace(s) == "" {
			return nil, errors.New("routes cannot contain an empty node id")
		}
		out = append(out, types.NodeID(strings.TrimSpace(s)))
	}
	return out, nil
}

// NewConditionNode creates a Condition node routing to the given successors.
func NewConditionNode(id string, cfg evaluation.NodeConfig, trueNodeID, falseNodeID string) (*Node, error) {
	return NewNode(id, evaluation.NodeTypeCondition, cfg, trueNodeID, falseNodeID)
}

// NewCalculationNode creates a terminal Calculation node.
func NewCalculationNode(id string, cfg evaluation.NodeConfig) (*Node, error) {
	return NewNode(id, evaluation.NodeTypeCalculation, cfg, "", "")
}

// ID returns the node id.
func (n *Node) ID() types.NodeID {
	return n.id
}

// TreeID returns the owning tree id, empty until the node is added to a tree.
func (n *Node) TreeID() types.TreeID {
	return n.treeID
}

// Type returns the node type tag.
func (n *Node) Type() evaluation.NodeType {
	return n.nodeType
}

func (n *Node) TrueNodeID() types.NodeID {
	return n.trueNodeID
}

func (n *Node) FalseNodeID() types.NodeID {
	return n.falseNodeID
}

// CommandType returns the backend selected by the configuration.
func (n *Node) CommandType() evaluation.CommandType {
	return n.config.CommandType
}

// Config returns a copy of the node configuration.
func (n *Node) Config() evaluation.NodeConfig {
	return n.config.Clone()
}

// ConfigError returns the error raised when the node's command could not be
// built, or nil.
func (n *Node) ConfigError() error {
	return n.configErr
}

// Routes returns the declared dynamic route targets.
func (n *Node) Routes() []types.NodeID {
	out := make([]types.NodeID, len(n.routes))
	copy(out, n.routes)
	return out
}

// successors returns the statically referenced child ids: the true and false
// branches followed by declared routes.
func (n *Node) successors() []types.NodeID {
	seen := make(map[types.NodeID]bool)
	var out []types.NodeID
	for _, id := range append([]types.NodeID{n.trueNodeID, n.falseNodeID}, n.routes...) {
		if id.IsZero() || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// bind returns a copy of the node owned by treeID with its command built.
// A construction failure is kept on the node and reported by validation.
func (n *Node) bind(treeID types.TreeID, factory *command.Factory) *Node {
	out := *n
	out.treeID = treeID
	out.command, out.configErr = factory.Create(n.config)
	return &out
}
