// Package adapter talks to the external systems a decision node can consult:
// HTTP/JSON services, SOAP services and SQL databases. Every call is bounded by
// a hard deadline that cancels the in-flight request.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SystemType identifies an external system protocol.
type SystemType string

const (
	SystemTypeHTTP     SystemType = "HTTP"
	SystemTypeSOAP     SystemType = "SOAP"
	SystemTypeDatabase SystemType = "DATABASE"
)

// ParseSystemType parses a system type name, case-insensitively.
func ParseSystemType(s string) (SystemType, error) {
	switch SystemType(strings.ToUpper(strings.TrimSpace(s))) {
	case SystemTypeHTTP:
		return SystemTypeHTTP, nil
	case SystemTypeSOAP:
		return SystemTypeSOAP, nil
	case SystemTypeDatabase:
		return SystemTypeDatabase, nil
	default:
		return "", fmt.Errorf("unsupported system type: %q", s)
	}
}

var (
	// ErrTimeout marks a call that exceeded its deadline.
	ErrTimeout = errors.New("external call timed out")
	// ErrClosed is returned by calls on a closed adapter.
	ErrClosed = errors.New("adapter is closed")
)

// Adapter is a connection to one external system endpoint.
type Adapter interface {
	SystemType() SystemType
	// Call sends the request and waits at most timeout for the answer.
	Call(ctx context.Context, req *Request, timeout time.Duration) (*Response, error)
	// IsAvailable probes the endpoint.
	IsAvailable(ctx context.Context) bool
	Close() error
}

// TransportError is a call that did not produce a usable response.
type TransportError struct {
	SystemType SystemType
	Endpoint   string
	StatusCode int    // 0 when no response was received
	Body       string // response body, truncated
	Timeout    bool
	Temporary  bool // connection-level failure worth retrying
	Err        error
}

func (e *TransportError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s call to %s failed", e.SystemType, e.Endpoint)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " with status %d", e.StatusCode)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if e.Body != "" {
		fmt.Fprintf(&b, " (body: %s)", e.Body)
	}
	return b.String()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Retryable reports whether repeating the call could succeed.
func (e *TransportError) Retryable() bool {
	return e.Timeout || e.Temporary || e.StatusCode >= 500
}

// IsRetryable reports whether err is a retryable transport failure.
func IsRetryable(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Retryable()
	}
	return false
}

const maxErrorBody = 512

func truncateBody(body []byte) string {
	if len(body) > maxErrorBody {
		return string(body[:maxErrorBody]) + "..."
	}
	return string(body)
}

// callContext derives the hard deadline for one call. A non-positive timeout
// leaves the parent deadline in charge.
func callContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// timeoutError converts a deadline expiry into a TransportError. It returns
// nil when the call context did not expire.
func timeoutError(callCtx context.Context, system SystemType, endpoint string, timeout time.Duration) *TransportError {
	if !errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return nil
	}
	return &TransportError{
		SystemType: system,
		Endpoint:   endpoint,
		Timeout:    true,
		Err:        fmt.Errorf("%w after %s", ErrTimeout, timeout),
	}
}
