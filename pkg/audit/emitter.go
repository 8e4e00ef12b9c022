package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// DefaultBufferSize is the emitter's queue capacity when none is configured.
const DefaultBufferSize = 256

// Emitter is an asynchronous Auditor. Records are queued on a bounded channel
// and a single worker appends them to the sink in arrival order. When the
// queue is full the record is dropped and logged.
type Emitter struct {
	sink    Sink
	inbox   chan Record
	logger  zerolog.Logger
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	done   chan struct{}

	dropped atomic.Uint64
	failed  atomic.Uint64
}

// EmitterOption configures an Emitter.
type EmitterOption func(*Emitter)

// WithBufferSize sets the queue capacity.
func WithBufferSize(n int) EmitterOption {
	return func(e *Emitter) {
		if n > 0 {
			e.inbox = make(chan Record, n)
		}
	}
}

// WithLogger sets the logger for dropped and failed records.
func WithLogger(l zerolog.Logger) EmitterOption {
	return func(e *Emitter) { e.logger = l }
}

// WithAppendTimeout bounds each sink append.
func WithAppendTimeout(d time.Duration) EmitterOption {
	return func(e *Emitter) { e.timeout = d }
}

// NewEmitter starts the worker. Call Close to flush and stop it.
func NewEmitter(sink Sink, opts ...EmitterOption) *Emitter {
	e := &Emitter{
		sink:    sink,
		inbox:   make(chan Record, DefaultBufferSize),
		logger:  zerolog.Nop(),
		timeout: 5 * time.Second,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	go e.run()
	return e
}

// Record implements Auditor.
func (e *Emitter) Record(_ context.Context, r Record) {
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		e.drop(r, "emitter closed")
		return
	}

	select {
	case e.inbox <- r:
	default:
		e.drop(r, "audit buffer full")
	}
}

func (e *Emitter) drop(r Record, reason string) {
	e.dropped.Add(1)
	e.logger.Warn().
		Str("request_id", r.RequestID).
		Str("tree_id", r.TreeID).
		Str("node_id", r.NodeID).
		Msgf("audit record dropped: %s", reason)
}

func (e *Emitter) run() {
	defer close(e.done)
	for r := range e.inbox {
		ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
		err := e.sink.Append(ctx, r)
		cancel()
		if err != nil {
			e.failed.Add(1)
			e.logger.Error().
				Err(err).
				Str("request_id", r.RequestID).
				Str("node_id", r.NodeID).
				Msg("failed to persist audit record")
		}
	}
}

// Close stops accepting records and waits until queued records are written
// or ctx ends.
func (e *Emitter) Close(ctx context.Context) error {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.inbox)
	}
	e.mu.Unlock()

	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dropped returns how many records were discarded without reaching the sink.
func (e *Emitter) Dropped() uint64 {
	return e.dropped.Load()
}

// Failed returns how many sink appends returned an error.
func (e *Emitter) Failed() uint64 {
	return e.failed.Load()
}
