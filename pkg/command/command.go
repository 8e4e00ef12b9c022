// Package command binds a node's configuration to the backend that evaluates
// it. Every backend implements NodeCommand and reports failures as failed
// NodeResults rather than errors or panics.
package command

import (
	"context"
	"fmt"

	"github.com/dshills/promoflow/pkg/domain/evaluation"
)

// NodeCommand evaluates one node against an execution context.
type NodeCommand interface {
	// Execute runs the node. It never returns nil.
	Execute(ctx context.Context, ec *evaluation.ExecutionContext) *evaluation.NodeResult
	CommandType() evaluation.CommandType
}

// ConfigurationError reports a node configuration that cannot be turned into
// a command. It blocks tree activation.
type ConfigurationError struct {
	NodeID      string
	CommandType evaluation.CommandType
	Reason      string
	Err         error
}

func (e *ConfigurationError) Error() string {
	msg := fmt.Sprintf("node %s (%s): %s", e.NodeID, e.CommandType, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

func configError(cfg evaluation.NodeConfig, reason string, err error) *ConfigurationError {
	return &ConfigurationError{
		NodeID:      cfg.NodeID,
		CommandType: cfg.CommandType,
		Reason:      reason,
		Err:         err,
	}
}
