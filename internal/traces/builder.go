package traces

import (
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/poulsbopete/mc-mcp/internal/idgen"
)

// EmitFunc receives a sealed trace when its root span ends. Implementations
// must not block: the hand-off sits on the request path.
type EmitFunc func(*Trace)

// Builder constructs the span hierarchy for one request. A Builder is local
// to its request; the only cross-goroutine access it supports is Abort
// (driven by request cancellation), which is why it carries a mutex.
type Builder struct {
	mu sync.Mutex

	traceID      string
	remoteTrace  string
	remoteParent string

	spans   []*Span // start order
	root    *Span
	emit    EmitFunc
	clock   func() time.Time
	sealed  bool
	aborted bool
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithEmit sets the sink hand-off invoked exactly once when the root ends.
func WithEmit(fn EmitFunc) BuilderOption {
	return func(b *Builder) { b.emit = fn }
}

// WithRemoteParent adopts an inbound trace context: the caller's trace ID is
// reused and the root span is parented under the caller's span.
func WithRemoteParent(traceID, spanID string) BuilderOption {
	return func(b *Builder) {
		b.remoteTrace = traceID
		b.remoteParent = spanID
	}
}

// WithClock overrides the time source (tests).
func WithClock(clock func() time.Time) BuilderOption {
	return func(b *Builder) { b.clock = clock }
}

// NewBuilder creates a span builder for a single request.
func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{clock: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// TraceID returns the builder's trace ID, or "" before the first span.
func (b *Builder) TraceID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.traceID
}

// Begin opens a span. A nil parent opens the root span; every other span
// must name an open parent from the same builder. The first Begin allocates
// the trace ID (or adopts the remote one); all later spans reuse it.
func (b *Builder) Begin(name string, parent *Span) (*Span, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sealed || b.aborted {
		return nil, &SpanLifecycleError{Op: "Begin", Span: name, Reason: "trace already closed"}
	}

	if parent == nil {
		if b.root != nil {
			return nil, &SpanLifecycleError{Op: "Begin", Span: name, Reason: "root span already exists"}
		}
		if b.remoteTrace != "" {
			b.traceID = b.remoteTrace
		} else {
			b.traceID = idgen.TraceID()
		}
	} else {
		if b.root == nil {
			return nil, &SpanLifecycleError{Op: "Begin", Span: name, Reason: "no root span open"}
		}
		if parent.TraceID != b.traceID {
			return nil, &SpanLifecycleError{Op: "Begin", Span: name, Reason: "parent belongs to a different trace"}
		}
		if parent.ended {
			return nil, &SpanLifecycleError{Op: "Begin", Span: name, Reason: "parent already ended"}
		}
	}

	span := &Span{
		ID:      idgen.SpanID(),
		TraceID: b.traceID,
		Name:    name,
		Start:   b.clock(),
		Status:  StatusOK,
	}
	if parent != nil {
		span.ParentID = parent.ID
		parent.openChildren++
	} else {
		span.ParentID = b.remoteParent
		b.root = span
	}

	b.spans = append(b.spans, span)
	return span, nil
}

// End closes a span, attaching any final attributes and the status. Ending a
// span with open children, an already-ended span, or a foreign span is a
// lifecycle violation. Ending the root seals the trace and hands it to the
// emit hook exactly once.
func (b *Builder) End(span *Span, status SpanStatus, message string, attrs ...attribute.KeyValue) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if span == nil {
		return &SpanLifecycleError{Op: "End", Span: "", Reason: "nil span"}
	}
	if b.aborted {
		return &SpanLifecycleError{Op: "End", Span: span.Name, Reason: "trace aborted"}
	}
	if span.TraceID != b.traceID {
		return &SpanLifecycleError{Op: "End", Span: span.Name, Reason: "span belongs to a different trace"}
	}
	if span.ended {
		return &SpanLifecycleError{Op: "End", Span: span.Name, Reason: "span already ended"}
	}
	if span.openChildren > 0 {
		return &SpanLifecycleError{Op: "End", Span: span.Name, Reason: "span has open children"}
	}

	span.Attrs = append(span.Attrs, attrs...)
	span.Status = status
	span.StatusMessage = message
	span.End = b.clock()
	span.ended = true

	if span.ParentID != "" && span != b.root {
		if parent := b.findLocked(span.ParentID); parent != nil {
			parent.openChildren--
		}
	}

	if span == b.root {
		b.sealed = true
		if b.emit != nil {
			b.emit(&Trace{TraceID: b.traceID, Spans: b.spans})
		}
	}
	return nil
}

// Abort force-closes every open span, leaf-first, with StatusError and the
// given reason, then discards the trace. Nothing reaches the sink: an
// aborted request never emits a half-open span. Safe to call from the
// request's cancellation path; a no-op once the trace is sealed or already
// aborted.
func (b *Builder) Abort(reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sealed || b.aborted {
		return
	}
	b.aborted = true

	now := b.clock()
	for i := len(b.spans) - 1; i >= 0; i-- {
		span := b.spans[i]
		if span.ended {
			continue
		}
		span.Status = StatusError
		span.StatusMessage = reason
		span.End = now
		span.ended = true
		span.openChildren = 0
	}
}

// Aborted reports whether the trace was discarded.
func (b *Builder) Aborted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.aborted
}

// Sealed reports whether the root span has ended and the trace was emitted.
func (b *Builder) Sealed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sealed
}

func (b *Builder) findLocked(spanID string) *Span {
	for _, s := range b.spans {
		if s.ID == spanID {
			return s
		}
	}
	return nil
}
