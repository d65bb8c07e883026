package export

import (
	"testing"
	"time"

	"github.com/poulsbopete/mc-mcp/internal/traces"
)

func TestTraceToRecordWireShape(t *testing.T) {
	var sealed *traces.Trace
	now := time.UnixMilli(1700000000000)
	clock := func() time.Time {
		now = now.Add(25 * time.Millisecond)
		return now
	}
	b := traces.NewBuilder(
		traces.WithEmit(func(tr *traces.Trace) { sealed = tr }),
		traces.WithClock(clock),
	)

	root, err := b.Begin(traces.SpanHTTPRequest, nil)
	if err != nil {
		t.Fatalf("begin root: %v", err)
	}
	child, err := b.Begin(traces.SpanFraudCheck, root)
	if err != nil {
		t.Fatalf("begin child: %v", err)
	}
	if err := b.End(child, traces.StatusOK, "",
		traces.RiskScore(42.5),
		traces.FraudStatus("approved"),
	); err != nil {
		t.Fatalf("end child: %v", err)
	}
	if err := b.End(root, traces.StatusOK, "", traces.HTTPStatusCode(200)); err != nil {
		t.Fatalf("end root: %v", err)
	}

	rec := TraceToRecord(sealed)
	if rec.TraceID != sealed.TraceID {
		t.Fatalf("trace_id = %s, want %s", rec.TraceID, sealed.TraceID)
	}
	if len(rec.Spans) != 2 {
		t.Fatalf("span count = %d, want 2", len(rec.Spans))
	}

	rootRec, childRec := rec.Spans[0], rec.Spans[1]
	if rootRec.ParentSpanID != "" {
		t.Fatalf("root parent_span_id = %q, want empty", rootRec.ParentSpanID)
	}
	if childRec.ParentSpanID != rootRec.SpanID {
		t.Fatalf("child parent_span_id = %s, want %s", childRec.ParentSpanID, rootRec.SpanID)
	}
	if childRec.StartTime <= rootRec.StartTime {
		t.Fatal("child must start after its parent")
	}
	if childRec.EndTime < childRec.StartTime {
		t.Fatal("span end precedes start")
	}
	if childRec.Status != "ok" {
		t.Fatalf("status = %q, want ok", childRec.Status)
	}
	if got := childRec.Attributes[traces.KeyRiskScore]; got != 42.5 {
		t.Fatalf("risk score attribute = %v, want 42.5", got)
	}
	if got := childRec.Attributes[traces.KeyFraudStatus]; got != "approved" {
		t.Fatalf("fraud status attribute = %v, want approved", got)
	}
}
