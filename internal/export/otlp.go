package export

import (
	"context"
	"crypto/rand"
	"log/slog"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/poulsbopete/mc-mcp/internal/traces"
)

const tracerName = "github.com/poulsbopete/mc-mcp"

// OTLPSink forwards sealed traces to an OTLP gRPC collector. Spans are
// replayed through the OpenTelemetry SDK with their original timestamps and
// identifiers, so the collector sees exactly the IDs the engine assigned.
type OTLPSink struct {
	tp     *sdktrace.TracerProvider
	tracer trace.Tracer
	logger *slog.Logger
}

// NewOTLPSink connects to the collector at endpoint (host:port, insecure).
func NewOTLPSink(ctx context.Context, endpoint, serviceName, serviceVersion string, logger *slog.Logger) (*OTLPSink, error) {
	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, &EmissionError{Op: "create otlp exporter", Err: err}
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		return nil, &EmissionError{Op: "build resource", Err: err}
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithIDGenerator(replayIDGenerator{}),
	)

	logger.Info("otlp trace export enabled", "endpoint", endpoint)
	return &OTLPSink{
		tp:     tp,
		tracer: tp.Tracer(tracerName),
		logger: logger,
	}, nil
}

// Shutdown flushes pending batches and releases the exporter.
func (s *OTLPSink) Shutdown(ctx context.Context) error {
	return s.tp.Shutdown(ctx)
}

// EmitTrace replays the trace span by span. Spans arrive in start order, so
// every parent is replayed before its children.
func (s *OTLPSink) EmitTrace(ctx context.Context, tr *traces.Trace) error {
	ctxBySpan := make(map[string]context.Context, len(tr.Spans))

	for _, sp := range tr.Spans {
		parentCtx := ctx
		if sp.ParentID != "" {
			if pctx, ok := ctxBySpan[sp.ParentID]; ok {
				parentCtx = pctx
			} else if remote, ok := remoteParentContext(ctx, tr.TraceID, sp.ParentID); ok {
				// Root parented under the caller's span from an inbound
				// trace context.
				parentCtx = remote
			}
		}

		startCtx := withReplayIDs(parentCtx, tr.TraceID, sp.ID)
		spanCtx, otelSpan := s.tracer.Start(startCtx, sp.Name,
			trace.WithTimestamp(sp.Start),
			trace.WithAttributes(sp.Attrs...),
		)
		if sp.Status == traces.StatusError {
			otelSpan.SetStatus(codes.Error, sp.StatusMessage)
		} else {
			otelSpan.SetStatus(codes.Ok, "")
		}
		otelSpan.End(trace.WithTimestamp(sp.End))
		ctxBySpan[sp.ID] = spanCtx
	}
	return nil
}

// EmitMetrics logs the snapshot: metric export rides the Prometheus scrape
// endpoint, the OTLP channel carries traces only.
func (s *OTLPSink) EmitMetrics(ctx context.Context, records []MetricRecord) error {
	s.logger.Debug("metric snapshot", "samples", len(records))
	return nil
}

// --- replay ID plumbing ---
//
// The SDK normally allocates random IDs on Start. The replay generator reads
// the IDs the engine already assigned out of the context instead, falling
// back to random for anything started outside a replay.

type replayIDKey struct{}

type replayIDs struct {
	traceID trace.TraceID
	spanID  trace.SpanID
}

func withReplayIDs(ctx context.Context, traceHex, spanHex string) context.Context {
	tid, err := trace.TraceIDFromHex(traceHex)
	if err != nil {
		return ctx
	}
	sid, err := trace.SpanIDFromHex(spanHex)
	if err != nil {
		return ctx
	}
	return context.WithValue(ctx, replayIDKey{}, replayIDs{traceID: tid, spanID: sid})
}

func remoteParentContext(ctx context.Context, traceHex, spanHex string) (context.Context, bool) {
	tid, err := trace.TraceIDFromHex(traceHex)
	if err != nil {
		return ctx, false
	}
	sid, err := trace.SpanIDFromHex(spanHex)
	if err != nil {
		return ctx, false
	}
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    tid,
		SpanID:     sid,
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	})
	return trace.ContextWithRemoteSpanContext(ctx, sc), true
}

type replayIDGenerator struct{}

func (replayIDGenerator) NewIDs(ctx context.Context) (trace.TraceID, trace.SpanID) {
	if ids, ok := ctx.Value(replayIDKey{}).(replayIDs); ok {
		return ids.traceID, ids.spanID
	}
	return randomTraceID(), randomSpanID()
}

func (replayIDGenerator) NewSpanID(ctx context.Context, traceID trace.TraceID) trace.SpanID {
	if ids, ok := ctx.Value(replayIDKey{}).(replayIDs); ok {
		return ids.spanID
	}
	return randomSpanID()
}

func randomTraceID() trace.TraceID {
	var tid trace.TraceID
	_, _ = rand.Read(tid[:])
	return tid
}

func randomSpanID() trace.SpanID {
	var sid trace.SpanID
	for !sid.IsValid() {
		_, _ = rand.Read(sid[:])
	}
	return sid
}
