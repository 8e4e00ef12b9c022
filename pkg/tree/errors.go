package tree

import (
	"errors"
	"fmt"
	"strings"
)

// Terminal evaluation failures. Evaluate wraps them in an
// *errors.OperationalError naming the tree and node.
var (
	ErrTreeNotActive            = errors.New("tree is not active")
	ErrRootNotSet               = errors.New("root node is not set")
	ErrInvalidPayload           = errors.New("invalid customer payload")
	ErrNodeNotFound             = errors.New("node not found")
	ErrCircularReference        = errors.New("circular reference detected")
	ErrInvalidNextNode          = errors.New("next node cannot be determined")
	ErrInvalidCalculationResult = errors.New("calculation node did not produce a promotion")
	ErrUnexpectedResult         = errors.New("node result does not match node type")
	ErrNodeExecutionFailed      = errors.New("node execution failed")
)

// Mutation errors.
var (
	ErrDuplicateNode = errors.New("duplicate node id")
	ErrRemoveRoot    = errors.New("cannot remove the root node")
	ErrRootNotMember = errors.New("root node is not part of the tree")
	ErrNilNode       = errors.New("node cannot be nil")
	ErrNotActive     = errors.New("only active trees can be deactivated")
)

// ValidationError lists the structural problems that block activation or a
// mutation of an active tree.
type ValidationError struct {
	TreeID   string
	Problems []string
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 1 {
		return fmt.Sprintf("tree %s is invalid: %s", e.TreeID, e.Problems[0])
	}
	return fmt.Sprintf("tree %s is invalid (%d problems): %s", e.TreeID, len(e.Problems), strings.Join(e.Problems, "; "))
}
