// Package transform evaluates sandboxed expressions against an evaluation's
// variables and converts loosely typed values coming back from expressions and
// external systems.
package transform

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
	"github.com/expr-lang/expr/vm"
)

// DefaultEvaluationTimeout bounds a single expression run when the caller's
// context carries no deadline.
const DefaultEvaluationTimeout = 5 * time.Second

// ExpressionEvaluator defines the interface for evaluating expressions.
// Supports:
//   - Comparison operators: >, <, >=, <=, ==, !=
//   - Logical operators: && (AND), || (OR), ! (NOT)
//   - Arithmetic operators: +, -, *, /, %
//   - String operators: contains, startsWith, endsWith, matches
//   - Map literals for structured results: {"discountAmount": annualIncome * 0.02}
//   - Variable references from the variables map
//
// Sandboxed for security - no arbitrary code execution.
type ExpressionEvaluator interface {
	// Compile checks the expression syntax without running it.
	Compile(expression string) error
	Evaluate(ctx context.Context, expression string, variables map[string]interface{}) (interface{}, error)
	// EvaluateBool evaluates an expression and returns its boolean result.
	// Returns error if expression doesn't evaluate to a boolean type.
	EvaluateBool(ctx context.Context, expression string, variables map[string]interface{}) (bool, error)
}

// exprEvaluator implements ExpressionEvaluator using github.com/expr-lang/expr.
// Programs are compiled without a typed environment so one compiled program
// serves every evaluation; variables are resolved at run time.
type exprEvaluator struct {
	mu           sync.RWMutex
	programCache map[string]*vm.Program
}

// NewExpressionEvaluator creates a new expression evaluator with sandboxing.
// The evaluator is safe for concurrent use.
func NewExpressionEvaluator() ExpressionEvaluator {
	return &exprEvaluator{
		programCache: make(map[string]*vm.Program),
	}
}

// Compile validates and caches the expression.
func (e *exprEvaluator) Compile(expression string) error {
	if strings.TrimSpace(expression) == "" {
		return fmt.Errorf("%w: empty expression", ErrInvalidExpression)
	}
	_, err := e.getOrCompileProgram(expression)
	return err
}

// Evaluate executes an expression with the given variables.
func (e *exprEvaluator) Evaluate(ctx context.Context, expression string, variables map[string]interface{}) (interface{}, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	program, err := e.getOrCompileProgram(expression)
	if err != nil {
		return nil, err
	}

	// Execute with timeout protection
	resultChan := make(chan interface{}, 1)
	errChan := make(chan error, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				errChan <- fmt.Errorf("%w: %v", ErrEvaluationFailed, r)
			}
		}()
		result, err := expr.Run(program, variables)
		if err != nil {
			errChan <- fmt.Errorf("%w: %v", ErrEvaluationFailed, err)
			return
		}
		resultChan <- result
	}()

	timeout := DefaultEvaluationTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case result := <-resultChan:
		return result, nil
	case err := <-errChan:
		return nil, err
	case <-timer.C:
		return nil, ErrEvaluationTimeout
	}
}

// EvaluateBool evaluates a boolean expression and returns its boolean result.
// This is a convenience method for condition nodes that require boolean results.
func (e *exprEvaluator) EvaluateBool(ctx context.Context, expression string, variables map[string]interface{}) (bool, error) {
	result, err := e.Evaluate(ctx, expression, variables)
	if err != nil {
		return false, err
	}

	return extractBoolResult(result, "expression")
}

// unsafeNames are identifiers and member names that reach host facilities in
// Go-flavoured expressions. Only names are checked, never string literals.
var unsafeNames = map[string]bool{
	"os":        true,
	"exec":      true,
	"http":      true,
	"net":       true,
	"syscall":   true,
	"unsafe":    true,
	"__proto__": true,
	"ReadFile":  true,
	"WriteFile": true,
}

// unsafeVisitor records the first banned name found in an expression tree.
type unsafeVisitor struct {
	found string
}

func (v *unsafeVisitor) Visit(node *ast.Node) {
	if v.found != "" {
		return
	}
	switch n := (*node).(type) {
	case *ast.IdentifierNode:
		if unsafeNames[n.Value] {
			v.found = n.Value
		}
	case *ast.MemberNode:
		if prop, ok := n.Property.(*ast.StringNode); ok && unsafeNames[prop.Value] {
			v.found = prop.Value
		}
	}
}

// validateExpression parses the expression and rejects banned identifiers
// and member names.
func (e *exprEvaluator) validateExpression(expression string) error {
	tree, err := parser.Parse(expression)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidExpression, err)
	}
	v := &unsafeVisitor{}
	ast.Walk(&tree.Node, v)
	if v.found != "" {
		return fmt.Errorf("%w: %s", ErrUnsafeOperation, v.found)
	}
	return nil
}

// getOrCompileProgram retrieves cached program or compiles new one
func (e *exprEvaluator) getOrCompileProgram(expression string) (*vm.Program, error) {
	e.mu.RLock()
	program, ok := e.programCache[expression]
	e.mu.RUnlock()
	if ok {
		return program, nil
	}

	if err := e.validateExpression(expression); err != nil {
		return nil, err
	}

	options := []expr.Option{
		expr.Function("truthy", func(params ...interface{}) (interface{}, error) {
			if len(params) != 1 {
				return nil, fmt.Errorf("truthy() requires 1 argument")
			}
			return IsTruthy(params[0]), nil
		}),
	}

	program, err := expr.Compile(expression, options...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidExpression, err)
	}

	e.mu.Lock()
	e.programCache[expression] = program
	e.mu.Unlock()

	return program, nil
}

func extractBoolResult(result interface{}, source string) (bool, error) {
	b, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("%w: %s returned %T, expected bool", ErrTypeMismatch, source, result)
	}
	return b, nil
}
