// Package errors provides the error type surfaced to evaluation callers.
package errors

import (
	"fmt"
	"time"
)

// OperationalError wraps a terminal evaluation failure with the tree and node
// it happened on. Callers unwrap it with errors.Is / errors.As to reach the
// underlying sentinel.
type OperationalError struct {
	Operation  string                 // What operation was being performed
	TreeID     string                 // Which tree
	NodeID     string                 // Which node (if applicable)
	RequestID  string                 // Evaluation correlation id (if applicable)
	Timestamp  time.Time              // When error occurred
	Attributes map[string]interface{} // Additional context (optional)
	Cause      error                  // Underlying error
}

// NewOperationalError creates an OperationalError wrapping an error.
//
// Returns nil if cause is nil (no error to wrap).
//
// Example:
//
//	if err != nil {
//	    return NewOperationalError("evaluating node", treeID, nodeID, err)
//	}
func NewOperationalError(operation, treeID, nodeID string, cause error) *OperationalError {
	if cause == nil {
		return nil
	}

	return &OperationalError{
		Operation: operation,
		TreeID:    treeID,
		NodeID:    nodeID,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

// WithRequestID sets the evaluation correlation id.
func (e *OperationalError) WithRequestID(requestID string) *OperationalError {
	if e == nil {
		return nil
	}
	e.RequestID = requestID
	return e
}

// WithAttribute adds a context attribute.
func (e *OperationalError) WithAttribute(key string, value interface{}) *OperationalError {
	if e == nil {
		return nil
	}
	if e.Attributes == nil {
		e.Attributes = make(map[string]interface{})
	}
	e.Attributes[key] = value
	return e
}

// Error implements the error interface.
//
// Format: "operation: tree={id} node={id}: {cause}"
// If node ID is empty, it's omitted from the message.
func (e *OperationalError) Error() string {
	if e == nil {
		return "<nil OperationalError>"
	}

	if e.NodeID != "" {
		return fmt.Sprintf("%s: tree=%s node=%s: %v", e.Operation, e.TreeID, e.NodeID, e.Cause)
	}
	return fmt.Sprintf("%s: tree=%s: %v", e.Operation, e.TreeID, e.Cause)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *OperationalError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}
