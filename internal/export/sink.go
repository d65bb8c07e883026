package export

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/poulsbopete/mc-mcp/internal/traces"
)

// Sink receives completed telemetry. Implementations may block; callers go
// through the Emitter's bounded queue so the scoring path never waits on a
// slow collector.
type Sink interface {
	EmitTrace(ctx context.Context, tr *traces.Trace) error
	EmitMetrics(ctx context.Context, records []MetricRecord) error
}

// EmissionError wraps a sink failure. Always recovered locally: counted and
// logged, never propagated to the fraud-check caller.
type EmissionError struct {
	Op  string
	Err error
}

func (e *EmissionError) Error() string {
	return fmt.Sprintf("telemetry emission failed (%s): %v", e.Op, e.Err)
}

func (e *EmissionError) Unwrap() error { return e.Err }

// LogSink serializes records as structured JSON log lines. The default sink
// when no collector endpoint is configured.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink that writes wire records to the logger.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) EmitTrace(ctx context.Context, tr *traces.Trace) error {
	rec := TraceToRecord(tr)
	payload, err := json.Marshal(rec)
	if err != nil {
		return &EmissionError{Op: "marshal trace", Err: err}
	}
	s.logger.Info("trace emitted",
		"trace_id", rec.TraceID,
		"spans", len(rec.Spans),
		"record", string(payload),
	)
	return nil
}

func (s *LogSink) EmitMetrics(ctx context.Context, records []MetricRecord) error {
	payload, err := json.Marshal(records)
	if err != nil {
		return &EmissionError{Op: "marshal metrics", Err: err}
	}
	s.logger.Info("metric snapshot emitted", "samples", len(records), "record", string(payload))
	return nil
}
