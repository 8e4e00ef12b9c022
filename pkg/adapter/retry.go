package adapter

import (
	"context"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog"
)

// retryingAdapter repeats calls that fail with a retryable TransportError.
// Business failures reported in a Response are never retried.
type retryingAdapter struct {
	Adapter
	attempts uint
	delay    time.Duration
	logger   zerolog.Logger
}

// WithRetry wraps a with up to extraAttempts additional attempts. It returns a
// unchanged when extraAttempts is not positive.
func WithRetry(a Adapter, extraAttempts int, delay time.Duration, logger zerolog.Logger) Adapter {
	if extraAttempts <= 0 {
		return a
	}
	return &retryingAdapter{
		Adapter:  a,
		attempts: uint(extraAttempts) + 1,
		delay:    delay,
		logger:   logger,
	}
}

// Call implements Adapter. Each attempt gets the full timeout.
func (r *retryingAdapter) Call(ctx context.Context, req *Request, timeout time.Duration) (*Response, error) {
	var resp *Response
	err := retry.Do(
		func() error {
			out, err := r.Adapter.Call(ctx, req, timeout)
			if err != nil {
				return err
			}
			resp = out
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(r.attempts),
		retry.Delay(r.delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(IsRetryable),
		retry.OnRetry(func(n uint, err error) {
			r.logger.Warn().
				Err(err).
				Str("system", string(r.SystemType())).
				Str("request_id", req.RequestID()).
				Uint("attempt", n+1).
				Msg("retrying external call")
		}),
	)
	if err != nil {
		return nil, err
	}
	return resp, nil
}
