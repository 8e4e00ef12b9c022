package errors

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errSentinel = stderrors.New("node not found")

func TestNewOperationalError(t *testing.T) {
	assert.Nil(t, NewOperationalError("evaluating tree", "t1", "n1", nil))

	err := NewOperationalError("evaluating tree", "t1", "n1", errSentinel).
		WithRequestID("req-1").
		WithAttribute("nodes_visited", 3)

	assert.Equal(t, "evaluating tree: tree=t1 node=n1: node not found", err.Error())
	assert.Equal(t, "req-1", err.RequestID)
	assert.Equal(t, 3, err.Attributes["nodes_visited"])
	assert.False(t, err.Timestamp.IsZero())
	assert.ErrorIs(t, err, errSentinel)
}

func TestOperationalError_WithoutNode(t *testing.T) {
	var err error = NewOperationalError("evaluating tree", "t1", "", errSentinel)
	assert.Equal(t, "evaluating tree: tree=t1: node not found", err.Error())

	var opErr *OperationalError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "t1", opErr.TreeID)
}

func TestOperationalError_NilReceiver(t *testing.T) {
	var err *OperationalError
	assert.Equal(t, "<nil OperationalError>", err.Error())
	assert.Nil(t, err.Unwrap())
	assert.Nil(t, err.WithRequestID("x"))
	assert.Nil(t, err.WithAttribute("k", "v"))
}
