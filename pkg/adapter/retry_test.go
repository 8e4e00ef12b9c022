package adapter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyAdapter struct {
	failures int
	err      error
	calls    int
}

func (f *flakyAdapter) SystemType() SystemType               { return SystemTypeHTTP }
func (f *flakyAdapter) IsAvailable(ctx context.Context) bool { return true }
func (f *flakyAdapter) Close() error                         { return nil }

func (f *flakyAdapter) Call(ctx context.Context, req *Request, timeout time.Duration) (*Response, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}
	return NewResponse().Field("ok", true).Build(), nil
}

func TestWithRetry_RetriesTransientFailures(t *testing.T) {
	inner := &flakyAdapter{failures: 2, err: &TransportError{SystemType: SystemTypeHTTP, Temporary: true}}
	a := WithRetry(inner, 2, time.Millisecond, zerolog.Nop())

	resp, err := a.Call(context.Background(), NewRequest("r").Build(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, true, resp.Data()["ok"])
	assert.Equal(t, 3, inner.calls)
}

func TestWithRetry_GivesUpAfterAttempts(t *testing.T) {
	inner := &flakyAdapter{failures: 5, err: &TransportError{SystemType: SystemTypeHTTP, StatusCode: 502}}
	a := WithRetry(inner, 1, time.Millisecond, zerolog.Nop())

	_, err := a.Call(context.Background(), NewRequest("r").Build(), time.Second)
	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 502, te.StatusCode)
	assert.Equal(t, 2, inner.calls)
}

func TestWithRetry_DoesNotRetryPermanentErrors(t *testing.T) {
	inner := &flakyAdapter{failures: 5, err: &TransportError{SystemType: SystemTypeHTTP, StatusCode: 404}}
	a := WithRetry(inner, 3, time.Millisecond, zerolog.Nop())

	_, err := a.Call(context.Background(), NewRequest("r").Build(), time.Second)
	require.Error(t, err)
	assert.Equal(t, 1, inner.calls)
}

func TestWithRetry_ZeroAttemptsIsIdentity(t *testing.T) {
	inner := &flakyAdapter{}
	assert.Same(t, Adapter(inner), WithRetry(inner, 0, time.Second, zerolog.Nop()))
}
