// Package export adapts completed traces and metric snapshots to the
// external collector boundary. Transport, batching, and retry beyond a
// bounded local attempt belong to the collector side; failure here is never
// fatal to the fraud-check path.
package export

import (
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/poulsbopete/mc-mcp/internal/traces"
)

// SpanRecord is the wire shape of one span. Timestamps are epoch millis.
type SpanRecord struct {
	SpanID       string         `json:"span_id"`
	ParentSpanID string         `json:"parent_span_id,omitempty"`
	Name         string         `json:"name"`
	StartTime    int64          `json:"start_time"`
	EndTime      int64          `json:"end_time"`
	Attributes   map[string]any `json:"attributes,omitempty"`
	Status       string         `json:"status"`
}

// TraceRecord is the wire shape of one sealed trace.
type TraceRecord struct {
	TraceID string       `json:"trace_id"`
	Spans   []SpanRecord `json:"spans"`
}

// MetricRecord is the wire shape of one aggregated metric sample.
type MetricRecord struct {
	Name      string            `json:"name"`
	Value     float64           `json:"value"`
	Tags      map[string]string `json:"tags,omitempty"`
	Timestamp int64             `json:"timestamp"`
}

// TraceToRecord converts a sealed trace to its wire shape.
func TraceToRecord(tr *traces.Trace) TraceRecord {
	rec := TraceRecord{
		TraceID: tr.TraceID,
		Spans:   make([]SpanRecord, 0, len(tr.Spans)),
	}
	for _, s := range tr.Spans {
		rec.Spans = append(rec.Spans, SpanRecord{
			SpanID:       s.ID,
			ParentSpanID: s.ParentID,
			Name:         s.Name,
			StartTime:    epochMillis(s.Start),
			EndTime:      epochMillis(s.End),
			Attributes:   attrsToMap(s.Attrs),
			Status:       string(s.Status),
		})
	}
	return rec
}

func attrsToMap(attrs []attribute.KeyValue) map[string]any {
	if len(attrs) == 0 {
		return nil
	}
	m := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		m[string(kv.Key)] = kv.Value.AsInterface()
	}
	return m
}

func epochMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
