// Package types defines core domain identifiers for promoflow.
package types

import (
	"strings"

	"github.com/google/uuid"
)

// TreeID is a unique identifier for a decision tree.
type TreeID string

// NodeID is a unique identifier for a node within a decision tree.
type NodeID string

// RequestID correlates one evaluation with its audit records and external calls.
type RequestID string

// NewTreeID generates a new unique tree ID.
func NewTreeID() TreeID {
	return TreeID(uuid.NewString())
}

// String returns the string representation of a TreeID.
func (id TreeID) String() string {
	return string(id)
}

// String returns the string representation of a NodeID.
func (id NodeID) String() string {
	return string(id)
}

// IsZero returns true if the NodeID is empty or only whitespace.
func (id NodeID) IsZero() bool {
	return strings.TrimSpace(string(id)) == ""
}

// NewRequestID generates a new unique request ID.
func NewRequestID() RequestID {
	return RequestID(uuid.NewString())
}

// String returns the string representation of a RequestID.
func (id RequestID) String() string {
	return string(id)
}

// IsValidIdentifier reports whether s is non-empty and consists only of
// letters, digits, hyphens and underscores.
func IsValidIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for _, ch := range s {
		if !isIdentifierChar(ch) {
			return false
		}
	}
	return true
}

func isIdentifierChar(ch rune) bool {
	return (ch >= 'a' && ch <= 'z') ||
		(ch >= 'A' && ch <= 'Z') ||
		(ch >= '0' && ch <= '9') ||
		ch == '-' || ch == '_'
}
