package export

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/poulsbopete/mc-mcp/internal/retry"
	"github.com/poulsbopete/mc-mcp/internal/traces"
)

var (
	tracesEmittedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "mastercard",
		Subsystem: "export",
		Name:      "traces_emitted_total",
		Help:      "Total traces successfully handed to the collector sink.",
	})

	tracesDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "mastercard",
		Subsystem: "export",
		Name:      "traces_dropped_total",
		Help:      "Total traces dropped from the bounded emission queue.",
	})

	traceEmitErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "mastercard",
		Subsystem: "export",
		Name:      "trace_emit_errors_total",
		Help:      "Total trace emissions that failed after local retries.",
	})

	metricEmitErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "mastercard",
		Subsystem: "export",
		Name:      "metric_emit_errors_total",
		Help:      "Total metric snapshot emissions that failed.",
	})
)

func init() {
	prometheus.MustRegister(tracesEmittedTotal, tracesDroppedTotal, traceEmitErrors, metricEmitErrors)
}

// SnapshotFunc produces the current metric aggregates for periodic emission.
type SnapshotFunc func() []MetricRecord

// Emitter sits between the span builders and the sink: a bounded queue with
// drop-oldest overflow so a slow or unavailable collector can never stall
// the scoring path. Drops are counted and observable.
type Emitter struct {
	sink          Sink
	logger        *slog.Logger
	queue         chan *traces.Trace
	snapshot      SnapshotFunc
	interval      time.Duration
	traceBreaker  *sinkBreaker
	metricBreaker *sinkBreaker
	dropped       atomic.Uint64
	done          chan struct{}
}

// EmitterOption configures an Emitter.
type EmitterOption func(*Emitter)

// WithSnapshot enables periodic metric snapshot emission.
func WithSnapshot(fn SnapshotFunc, interval time.Duration) EmitterOption {
	return func(e *Emitter) {
		e.snapshot = fn
		e.interval = interval
	}
}

// NewEmitter creates an emitter with the given queue capacity.
func NewEmitter(sink Sink, queueSize int, logger *slog.Logger, opts ...EmitterOption) *Emitter {
	if queueSize <= 0 {
		queueSize = 1
	}
	e := &Emitter{
		sink:          sink,
		logger:        logger,
		queue:         make(chan *traces.Trace, queueSize),
		traceBreaker:  newSinkBreaker("traces", 5, 10*time.Second),
		metricBreaker: newSinkBreaker("metrics", 5, 10*time.Second),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Enqueue hands a sealed trace to the emission worker. Never blocks: when
// the queue is full the oldest queued trace is dropped and counted.
func (e *Emitter) Enqueue(tr *traces.Trace) {
	for {
		select {
		case e.queue <- tr:
			return
		default:
		}
		select {
		case old := <-e.queue:
			e.dropped.Add(1)
			tracesDroppedTotal.Inc()
			e.logger.Warn("emission queue full, dropped oldest trace", "trace_id", old.TraceID)
		default:
			// A concurrent enqueue or the worker freed a slot; retry.
		}
	}
}

// Dropped returns the number of traces dropped on queue overflow.
func (e *Emitter) Dropped() uint64 {
	return e.dropped.Load()
}

// QueueDepth returns the number of traces waiting for emission.
func (e *Emitter) QueueDepth() int {
	return len(e.queue)
}

// Run drains the queue until ctx is cancelled, then flushes whatever is
// still buffered. Call in a goroutine.
func (e *Emitter) Run(ctx context.Context) {
	defer close(e.done)

	var tick <-chan time.Time
	if e.snapshot != nil && e.interval > 0 {
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			e.flush()
			return
		case tr := <-e.queue:
			e.emitTrace(ctx, tr)
		case <-tick:
			e.emitSnapshot(ctx)
		}
	}
}

// Done is closed once Run has flushed and returned.
func (e *Emitter) Done() <-chan struct{} { return e.done }

func (e *Emitter) flush() {
	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case tr := <-e.queue:
			e.emitTrace(flushCtx, tr)
		default:
			if e.snapshot != nil {
				e.emitSnapshot(flushCtx)
			}
			return
		}
	}
}

func (e *Emitter) emitTrace(ctx context.Context, tr *traces.Trace) {
	// A persistently failing sink trips the breaker; while it is open traces
	// are shed immediately instead of burning retries on every one.
	if !e.traceBreaker.allow() {
		traceEmitErrors.Inc()
		e.logger.Warn("sink circuit open, shedding trace", "trace_id", tr.TraceID)
		return
	}

	err := retry.Do(ctx, 3, 50*time.Millisecond, func() error {
		return e.sink.EmitTrace(ctx, tr)
	})
	if err != nil {
		e.traceBreaker.failure()
		traceEmitErrors.Inc()
		e.logger.Warn("trace emission failed, dropping", "trace_id", tr.TraceID, "error", err)
		return
	}
	e.traceBreaker.success()
	tracesEmittedTotal.Inc()
}

func (e *Emitter) emitSnapshot(ctx context.Context) {
	records := e.snapshot()
	if len(records) == 0 {
		return
	}
	if !e.metricBreaker.allow() {
		metricEmitErrors.Inc()
		return
	}
	if err := e.sink.EmitMetrics(ctx, records); err != nil {
		e.metricBreaker.failure()
		metricEmitErrors.Inc()
		e.logger.Warn("metric snapshot emission failed", "error", err)
		return
	}
	e.metricBreaker.success()
}
