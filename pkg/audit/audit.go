// Package audit carries per-node evaluation records out of the engine. The
// engine hands records to an Auditor and never waits on, or fails because of,
// the storage behind it.
package audit

import (
	"context"
	"time"
)

// Status is the outcome of one node visit.
type Status string

const (
	StatusSuccess  Status = "success"
	StatusFallback Status = "fallback"
	StatusFailure  Status = "failure"
)

// Record describes one node visit.
type Record struct {
	RequestID   string                 `json:"requestId"`
	TreeID      string                 `json:"treeId"`
	NodeID      string                 `json:"nodeId"`
	NodeType    string                 `json:"nodeType"`
	CommandType string                 `json:"commandType"`
	Input       map[string]interface{} `json:"input,omitempty"`
	Output      map[string]interface{} `json:"output,omitempty"`
	Duration    time.Duration          `json:"duration"`
	Status      Status                 `json:"status"`
	Error       string                 `json:"error,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
}

// Auditor accepts records from the engine. Implementations must not block
// for long and never report failures to the caller.
type Auditor interface {
	Record(ctx context.Context, r Record)
}

// Sink persists records.
type Sink interface {
	Append(ctx context.Context, r Record) error
}

// Nop discards every record.
type Nop struct{}

// Record implements Auditor.
func (Nop) Record(context.Context, Record) {}
