package transform

import "errors"

// Sentinel errors shared across all transform operations
var (
	ErrTypeMismatch = errors.New("type mismatch")

	// Expression errors
	ErrUnsafeOperation   = errors.New("unsafe operation attempted")
	ErrEvaluationTimeout = errors.New("expression evaluation timed out")
	ErrInvalidExpression = errors.New("invalid expression syntax")
	ErrEvaluationFailed  = errors.New("expression evaluation failed")
)
