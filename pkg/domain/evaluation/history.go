package evaluation

import (
	"time"

	"github.com/dshills/promoflow/pkg/domain/types"
)

// ValueChange is a point-in-time capture of a context value change.
// Once created, changes are immutable.
type ValueChange struct {
	Timestamp time.Time
	// NodeID identifies the node that made the change (empty if not from a node).
	NodeID   types.NodeID
	Key      string
	OldValue interface{}
	NewValue interface{}
}

// NewValueChange creates a new value change record.
func NewValueChange(key string, oldValue, newValue interface{}, nodeID types.NodeID) ValueChange {
	return ValueChange{
		Timestamp: time.Now(),
		NodeID:    nodeID,
		Key:       key,
		OldValue:  oldValue,
		NewValue:  newValue,
	}
}
