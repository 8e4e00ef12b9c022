package tree

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/dshills/promoflow/pkg/domain/evaluation"
	"github.com/dshills/promoflow/pkg/domain/types"
)

//go:embed schema.json
var schemaJSON []byte

var definitionSchema = gojsonschema.NewBytesLoader(schemaJSON)

// Definition is the serialized form of a tree.
type Definition struct {
	ID          string           `yaml:"id" json:"id"`
	Name        string           `yaml:"name" json:"name"`
	Description string           `yaml:"description,omitempty" json:"description,omitempty"`
	Status      string           `yaml:"status,omitempty" json:"status,omitempty"`
	Root        string           `yaml:"root" json:"root"`
	Nodes       []NodeDefinition `yaml:"nodes" json:"nodes"`
}

// NodeDefinition is the serialized form of a node.
type NodeDefinition struct {
	ID          string                 `yaml:"id" json:"id"`
	Type        string                 `yaml:"type" json:"type"`
	Command     string                 `yaml:"command" json:"command"`
	Expression  string                 `yaml:"expression,omitempty" json:"expression,omitempty"`
	Description string                 `yaml:"description,omitempty" json:"description,omitempty"`
	OnTrue      string                 `yaml:"onTrue,omitempty" json:"onTrue,omitempty"`
	OnFalse     string                 `yaml:"onFalse,omitempty" json:"onFalse,omitempty"`
	Parameters  map[string]interface{} `yaml:"parameters,omitempty" json:"parameters,omitempty"`
}

// Parse decodes and schema-checks a YAML tree definition.
func Parse(yamlBytes []byte) (*Definition, error) {
	if len(yamlBytes) == 0 {
		return nil, errors.New("empty YAML input")
	}

	var raw interface{}
	if err := yaml.Unmarshal(yamlBytes, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := ValidateSchema(raw); err != nil {
		return nil, err
	}

	var def Definition
	if err := yaml.Unmarshal(yamlBytes, &def); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &def, nil
}

// ParseFile reads and parses a YAML tree definition file.
func ParseFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tree file: %w", err)
	}
	return Parse(data)
}

// ValidateSchema checks a decoded document against the tree schema.
func ValidateSchema(document interface{}) error {
	result, err := gojsonschema.Validate(definitionSchema, gojsonschema.NewGoLoader(document))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if result.Valid() {
		return nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		problems = append(problems, fmt.Sprintf("%s: %s", desc.Field(), desc.Description()))
	}
	return fmt.Errorf("schema validation failed: %s", strings.Join(problems, "; "))
}

// Build creates a tree from a definition, adding every node, setting the
// root and activating it when the definition's status is Active.
func Build(def *Definition, opts ...Option) (*DecisionTree, error) {
	if def == nil {
		return nil, errors.New("definition cannot be nil")
	}
	status, err := ParseStatus(def.Status)
	if err != nil {
		return nil, err
	}

	opts = append([]Option{WithID(types.TreeID(def.ID)), WithDescription(def.Description)}, opts...)
	t, err := New(def.Name, opts...)
	if err != nil {
		return nil, err
	}

	for _, nd := range def.Nodes {
		node, err := nd.node()
		if err != nil {
			return nil, err
		}
		if err := t.AddNode(node); err != nil {
			return nil, err
		}
	}

	if def.Root != "" {
		if err := t.SetRootNode(types.NodeID(def.Root)); err != nil {
			return nil, err
		}
	}

	switch status {
	case StatusActive:
		if err := t.Activate(); err != nil {
			return nil, err
		}
	case StatusInactive:
		if err := t.Activate(); err != nil {
			return nil, err
		}
		if err := t.Deactivate(); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Load parses a YAML definition and builds the tree.
func Load(yamlBytes []byte, opts ...Option) (*DecisionTree, error) {
	def, err := Parse(yamlBytes)
	if err != nil {
		return nil, err
	}
	return Build(def, opts...)
}

// LoadFile parses a YAML definition file and builds the tree.
func LoadFile(path string, opts ...Option) (*DecisionTree, error) {
	def, err := ParseFile(path)
	if err != nil {
		return nil, err
	}
	return Build(def, opts...)
}

func (nd NodeDefinition) node() (*Node, error) {
	nt, err := evaluation.ParseNodeType(nd.Type)
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", nd.ID, err)
	}
	cfg := evaluation.NodeConfig{
		NodeID:      nd.ID,
		NodeType:    nt,
		CommandType: evaluation.ParseCommandType(nd.Command),
		Expression:  nd.Expression,
		Parameters:  nd.Parameters,
		Description: nd.Description,
	}
	return NewNode(nd.ID, nt, cfg, nd.OnTrue, nd.OnFalse)
}

// Definition returns the serializable form of the tree's current state.
func (t *DecisionTree) Definition() *Definition {
	s := t.current.Load()
	def := &Definition{
		ID:          string(t.id),
		Name:        t.name,
		Description: t.description,
		Status:      string(s.status),
		Root:        string(s.rootNodeID),
	}
	for _, n := range sortedNodes(s) {
		cfg := n.Config()
		def.Nodes = append(def.Nodes, NodeDefinition{
			ID:          string(n.id),
			Type:        string(n.nodeType),
			Command:     string(cfg.CommandType),
			Expression:  cfg.Expression,
			Description: cfg.Description,
			OnTrue:      string(n.trueNodeID),
			OnFalse:     string(n.falseNodeID),
			Parameters:  cfg.Parameters,
		})
	}
	return def
}
