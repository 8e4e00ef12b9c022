package evaluation

import (
	"time"

	"github.com/dshills/promoflow/pkg/domain/types"
)

// ExecutionContext holds the state of one evaluation: the immutable customer
// payload and the values accumulated as nodes execute.
// A context belongs to exactly one evaluation and is not safe for concurrent use.
type ExecutionContext struct {
	requestID types.RequestID
	treeID    types.TreeID
	startedAt time.Time
	payload   CustomerPayload
	values    map[string]interface{}
	// history is an append-only log of value changes.
	history []ValueChange
}

// NewExecutionContext creates a context for a single evaluation.
func NewExecutionContext(requestID types.RequestID, treeID types.TreeID, payload CustomerPayload) *ExecutionContext {
	if requestID == "" {
		requestID = types.NewRequestID()
	}
	return &ExecutionContext{
		requestID: requestID,
		treeID:    treeID,
		startedAt: time.Now(),
		payload:   payload.clone(),
		values:    make(map[string]interface{}),
		history:   []ValueChange{},
	}
}

// RequestID returns the correlation id of the evaluation.
func (c *ExecutionContext) RequestID() types.RequestID {
	return c.requestID
}

// TreeID returns the id of the tree being evaluated.
func (c *ExecutionContext) TreeID() types.TreeID {
	return c.treeID
}

// StartedAt returns when the evaluation started.
func (c *ExecutionContext) StartedAt() time.Time {
	return c.startedAt
}

// Customer returns a copy of the customer payload.
func (c *ExecutionContext) Customer() CustomerPayload {
	return c.payload.clone()
}

// AccountBalance returns the customer's balance, if provided.
func (c *ExecutionContext) AccountBalance() (float64, bool) {
	if c.payload.AccountBalance == nil {
		return 0, false
	}
	return *c.payload.AccountBalance, true
}

// Get returns an accumulated value.
func (c *ExecutionContext) Get(key string) (interface{}, bool) {
	v, ok := c.values[key]
	return v, ok
}

// Set stores an accumulated value and records the change.
func (c *ExecutionContext) Set(key string, value interface{}) {
	c.SetFromNode(key, value, "")
}

// SetFromNode stores an accumulated value and records which node produced it.
func (c *ExecutionContext) SetFromNode(key string, value interface{}, nodeID types.NodeID) {
	old := c.values[key]
	c.values[key] = value
	c.history = append(c.history, NewValueChange(key, old, value, nodeID))
}

// Values returns a copy of the accumulated values.
func (c *ExecutionContext) Values() map[string]interface{} {
	out := make(map[string]interface{}, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// Variables returns the environment expressions are evaluated against:
// the customer fields overlaid with the accumulated values.
func (c *ExecutionContext) Variables() map[string]interface{} {
	vars := c.payload.Fields()
	for k, v := range c.values {
		vars[k] = v
	}
	vars["context"] = c.Values()
	return vars
}

// History returns the value change log.
func (c *ExecutionContext) History() []ValueChange {
	out := make([]ValueChange, len(c.history))
	copy(out, c.history)
	return out
}

// Snapshot returns a point-in-time view of the customer fields and
// accumulated values, for audit records.
func (c *ExecutionContext) Snapshot() map[string]interface{} {
	return map[string]interface{}{
		"customer": c.payload.Fields(),
		"context":  c.Values(),
	}
}
