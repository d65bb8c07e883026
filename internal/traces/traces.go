// Package traces implements the span model for the fraud-check call chain.
//
// The engine owns span identity and lifecycle itself: trace IDs are 32 hex
// chars, span IDs 16 hex chars, parent/child nesting is structured (a span
// cannot end before its children), and a sealed trace is handed to the
// emission sink exactly once. Trace context is propagated explicitly: the
// per-request Builder is passed down the call chain, never stored in a
// global, so concurrent requests cannot cross-talk.
package traces

import (
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// SpanStatus marks a completed span as clean or failed.
type SpanStatus string

const (
	StatusOK    SpanStatus = "ok"
	StatusError SpanStatus = "error"
)

// ReasonAborted is the status message applied to spans force-closed when the
// owning request is cancelled mid-flight.
const ReasonAborted = "aborted"

// Span names created for every fraud-check request, in order. Each is a
// child of the previous.
const (
	SpanHTTPRequest        = "http.request"
	SpanFraudCheck         = "fraud.check"
	SpanMastercardCall     = "mastercard.client.call"
	SpanResponseGeneration = "response.generation"
)

// Span is a timed unit of work within one trace. Owned exclusively by the
// Builder that created it until the trace is sealed.
type Span struct {
	ID            string
	ParentID      string // empty for the root span
	TraceID       string
	Name          string
	Start         time.Time
	End           time.Time // zero while the span is open
	Attrs         []attribute.KeyValue
	Status        SpanStatus
	StatusMessage string

	openChildren int
	ended        bool
}

// Ended reports whether the span has been closed.
func (s *Span) Ended() bool { return s.ended }

// Trace is the sealed, immutable set of spans sharing one trace ID, in span
// start order. The root span is always first.
type Trace struct {
	TraceID string
	Spans   []*Span
}

// Root returns the trace's root span.
func (t *Trace) Root() *Span {
	if len(t.Spans) == 0 {
		return nil
	}
	return t.Spans[0]
}

// SpanLifecycleError signals a structured-nesting violation. These are
// programming defects: they fail loudly in tests and are logged and dropped
// in production, never silently swallowed.
type SpanLifecycleError struct {
	Op     string
	Span   string
	Reason string
}

func (e *SpanLifecycleError) Error() string {
	return fmt.Sprintf("span lifecycle violation in %s(%s): %s", e.Op, e.Span, e.Reason)
}

// Stable attribute keys consumed by the downstream observability tooling.
const (
	KeyTransactionID       = "transaction.id"
	KeyTransactionAmount   = "transaction.amount"
	KeyTransactionCurrency = "transaction.currency"
	KeyRiskScore           = "fraud.risk_score"
	KeyFraudStatus         = "fraud.status"
	KeyMerchantID          = "merchant.id"
	KeyHTTPMethod          = "http.method"
	KeyHTTPStatusCode      = "http.status_code"
	KeyAPIName             = "api.name"
	KeyAPIOperation        = "api.operation"
	KeyUserID              = "user.id"
	KeyAccountID           = "account.id"
)

// Typed attribute helpers for consistent span decoration.

func TransactionID(id string) attribute.KeyValue {
	return attribute.String(KeyTransactionID, id)
}

func TransactionAmount(amount float64) attribute.KeyValue {
	return attribute.Float64(KeyTransactionAmount, amount)
}

func TransactionCurrency(code string) attribute.KeyValue {
	return attribute.String(KeyTransactionCurrency, code)
}

func RiskScore(score float64) attribute.KeyValue {
	return attribute.Float64(KeyRiskScore, score)
}

func FraudStatus(status string) attribute.KeyValue {
	return attribute.String(KeyFraudStatus, status)
}

func MerchantID(id string) attribute.KeyValue {
	return attribute.String(KeyMerchantID, id)
}

func HTTPMethod(method string) attribute.KeyValue {
	return attribute.String(KeyHTTPMethod, method)
}

func HTTPStatusCode(code int) attribute.KeyValue {
	return attribute.Int(KeyHTTPStatusCode, code)
}

func APIName(name string) attribute.KeyValue {
	return attribute.String(KeyAPIName, name)
}

func APIOperation(op string) attribute.KeyValue {
	return attribute.String(KeyAPIOperation, op)
}

func UserID(id string) attribute.KeyValue {
	return attribute.String(KeyUserID, id)
}

func AccountID(id string) attribute.KeyValue {
	return attribute.String(KeyAccountID, id)
}
