package audit

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// MemorySink keeps records in memory. Useful for tests and one-shot CLI runs.
type MemorySink struct {
	mu      sync.Mutex
	records []Record
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Append implements Sink.
func (s *MemorySink) Append(_ context.Context, r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, r)
	return nil
}

// Record implements Auditor synchronously.
func (s *MemorySink) Record(ctx context.Context, r Record) {
	_ = s.Append(ctx, r)
}

// Records returns a copy of all records in append order.
func (s *MemorySink) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

// ListByRequest returns the records of one evaluation in append order.
func (s *MemorySink) ListByRequest(_ context.Context, requestID string) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Record
	for _, r := range s.records {
		if r.RequestID == requestID {
			out = append(out, r)
		}
	}
	return out, nil
}

// LogSink writes each record as a structured log line.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink creates a sink that logs at info level.
func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Append implements Sink.
func (s *LogSink) Append(_ context.Context, r Record) error {
	ev := s.logger.Info()
	if r.Status == StatusFailure {
		ev = s.logger.Error()
	}
	ev.Str("request_id", r.RequestID).
		Str("tree_id", r.TreeID).
		Str("node_id", r.NodeID).
		Str("node_type", r.NodeType).
		Str("command_type", r.CommandType).
		Str("status", string(r.Status)).
		Dur("duration", r.Duration).
		Str("error", r.Error).
		Msg("node evaluated")
	return nil
}

// MultiSink appends to every sink, continuing past failures.
type MultiSink struct {
	Sinks []Sink
}

// NewMultiSink combines sinks.
func NewMultiSink(sinks ...Sink) MultiSink {
	return MultiSink{Sinks: sinks}
}

// Append implements Sink.
func (m MultiSink) Append(ctx context.Context, r Record) error {
	var errs []error
	for _, s := range m.Sinks {
		if err := s.Append(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
