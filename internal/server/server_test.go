package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poulsbopete/mc-mcp/internal/config"
	"github.com/poulsbopete/mc-mcp/internal/export"
	"github.com/poulsbopete/mc-mcp/internal/traces"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// captureSink records everything emitted through it.
type captureSink struct {
	mu      sync.Mutex
	traces  []*traces.Trace
	metrics [][]export.MetricRecord
}

func (c *captureSink) EmitTrace(_ context.Context, tr *traces.Trace) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.traces = append(c.traces, tr)
	return nil
}

func (c *captureSink) EmitMetrics(_ context.Context, recs []export.MetricRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics = append(c.metrics, recs)
	return nil
}

func (c *captureSink) traceCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.traces)
}

func testConfig() *config.Config {
	return &config.Config{
		Port:           "0",
		Env:            "test",
		LogLevel:       "error",
		ServiceName:    "mc-mcp",
		ServiceVersion: "1.0.0",
		RiskThreshold:  70,
		BandBoundaries: []float64{50, 1000},
		RiskFactorWeights: map[string]float64{
			"merchant_category": 10,
			"velocity":          8,
			"location":          6,
		},
		RandomSeed:      42,
		EmitQueueSize:   64,
		MetricsInterval: time.Minute,
		MockMode:        true,
	}
}

func newTestServer(t *testing.T) (*Server, *captureSink) {
	t.Helper()
	sink := &captureSink{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	srv, err := New(testConfig(), WithLogger(logger), WithSink(sink))
	require.NoError(t, err)
	return srv, sink
}

func doRequest(srv *Server, method, path string, body []byte) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	return w
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestRootEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doRequest(srv, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeJSON(t, w)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "mc-mcp", body["service"])

	otelInfo, ok := body["opentelemetry"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "enabled", otelInfo["traces"])
}

func TestCheckFraud_HappyPath(t *testing.T) {
	srv, _ := newTestServer(t)

	payload := []byte(`{"transaction_id":"txn_001","amount":42.50,"merchant_id":"mch_100"}`)
	w := doRequest(srv, http.MethodPost, "/api/fraud/check", payload)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	assert.Len(t, w.Header().Get("X-Trace-ID"), 32)

	body := decodeJSON(t, w)
	assert.Equal(t, "txn_001", body["transaction_id"])
	assert.Equal(t, "mch_100", body["merchant_id"])

	score, ok := body["risk_score"].(float64)
	require.True(t, ok)
	assert.GreaterOrEqual(t, score, 0.0)
	assert.LessOrEqual(t, score, 100.0)
	assert.Contains(t, []interface{}{"approved", "flagged"}, body["status"])

	// The sealed trace is queued for export.
	assert.Greater(t, srv.emitter.QueueDepth(), 0)
}

func TestCheckFraud_DefaultsCurrency(t *testing.T) {
	srv, _ := newTestServer(t)

	payload := []byte(`{"transaction_id":"txn_002","amount":10}`)
	w := doRequest(srv, http.MethodPost, "/api/fraud/check", payload)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestCheckFraud_ValidationFailure(t *testing.T) {
	srv, _ := newTestServer(t)

	tests := []struct {
		name    string
		payload string
	}{
		{"missing transaction id", `{"amount":10}`},
		{"negative amount", `{"transaction_id":"txn_003","amount":-5}`},
		{"bad currency", `{"transaction_id":"txn_004","amount":10,"currency":"dollars"}`},
		{"bad merchant id", `{"transaction_id":"txn_005","amount":10,"merchant_id":"m!!"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(srv, http.MethodPost, "/api/fraud/check", []byte(tt.payload))
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestCheckFraud_MalformedBody(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doRequest(srv, http.MethodPost, "/api/fraud/check", []byte(`{not json`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCheckFraud_AdoptsTraceparent(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/fraud/check",
		bytes.NewReader([]byte(`{"transaction_id":"txn_006","amount":10}`)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("traceparent", "00-0123456789abcdef0123456789abcdef-00f067aa0ba902b7-01")

	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "0123456789abcdef0123456789abcdef", w.Header().Get("X-Trace-ID"))
}

func TestListAssessments(t *testing.T) {
	srv, _ := newTestServer(t)

	payload := []byte(`{"transaction_id":"txn_007","amount":25,"merchant_id":"mch_200"}`)
	w := doRequest(srv, http.MethodPost, "/api/fraud/check", payload)
	require.Equal(t, http.StatusOK, w.Code)

	// Recording happens asynchronously.
	var body map[string]interface{}
	require.Eventually(t, func() bool {
		w = doRequest(srv, http.MethodGet, "/api/fraud/assessments?merchant_id=mch_200", nil)
		if w.Code != http.StatusOK {
			return false
		}
		body = decodeJSON(t, w)
		return body["count"] == float64(1)
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, "mch_200", body["merchant_id"])
}

func TestListAssessments_RequiresMerchantID(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doRequest(srv, http.MethodGet, "/api/fraud/assessments", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetAccounts(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doRequest(srv, http.MethodGet, "/api/banking/accounts?user_id=user_42", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decodeJSON(t, w)
	assert.Equal(t, "user_42", body["user_id"])

	accounts, ok := body["accounts"].([]interface{})
	require.True(t, ok)
	require.Len(t, accounts, 2)

	first := accounts[0].(map[string]interface{})
	assert.Equal(t, "checking", first["account_type"])
	assert.Equal(t, "active", first["status"])
}

func TestGetAccounts_RequiresUserID(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doRequest(srv, http.MethodGet, "/api/banking/accounts", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLocateMerchants(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doRequest(srv, http.MethodGet, "/api/merchant/locate?query=coffee&radius=10", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decodeJSON(t, w)
	assert.Equal(t, "coffee", body["query"])
	assert.Equal(t, float64(10), body["radius_miles"])

	merchants, ok := body["merchants"].([]interface{})
	require.True(t, ok)
	assert.GreaterOrEqual(t, len(merchants), 5)
	assert.LessOrEqual(t, len(merchants), 15)

	for _, m := range merchants {
		merchant := m.(map[string]interface{})
		assert.LessOrEqual(t, merchant["distance"].(float64), 10.0)
		assert.Equal(t, true, merchant["accepts_mastercard"])
	}
}

func TestLocateMerchants_RequiresQuery(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doRequest(srv, http.MethodGet, "/api/merchant/locate", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTransactionHistory(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doRequest(srv, http.MethodGet, "/api/transactions/history?account_id=acc_9001&days=14", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decodeJSON(t, w)
	assert.Equal(t, "acc_9001", body["account_id"])
	assert.Equal(t, float64(14), body["period_days"])

	txns, ok := body["transactions"].([]interface{})
	require.True(t, ok)
	assert.GreaterOrEqual(t, len(txns), 10)
	assert.LessOrEqual(t, len(txns), 50)
}

func TestTransactionHistory_ClampsDays(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doRequest(srv, http.MethodGet, "/api/transactions/history?account_id=acc_9002&days=9999", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeJSON(t, w)
	assert.Equal(t, float64(365), body["period_days"])
}

func TestGenerateTraffic(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doRequest(srv, http.MethodGet, "/api/demo/generate-traffic?requests=3", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decodeJSON(t, w)
	assert.Equal(t, float64(3), body["generated"])

	operations, ok := body["operations"].([]interface{})
	require.True(t, ok)
	require.Len(t, operations, 3)

	for i, op := range operations {
		entry := op.(map[string]interface{})
		assert.Equal(t, float64(i+1), entry["index"])
		assert.Equal(t, "success", entry["status"])
		assert.Contains(t, []interface{}{"accounts", "merchants", "fraud", "transactions"}, entry["operation"])
	}
}

func TestGenerateTraffic_ClampsRequestCount(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doRequest(srv, http.MethodGet, "/api/demo/generate-traffic?requests=500", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeJSON(t, w)
	assert.Equal(t, float64(100), body["generated"])
}

func TestStatsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doRequest(srv, http.MethodGet, "/api/demo/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeJSON(t, w)
	assert.Contains(t, body, "realtime")
	assert.Contains(t, body, "emitter")
	assert.Contains(t, body, "engine")
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doRequest(srv, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeJSON(t, w)
	assert.Equal(t, "healthy", body["status"])

	checks, ok := body["checks"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "healthy", checks["emitter"])
}

func TestLivenessAndReadiness(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doRequest(srv, http.MethodGet, "/health/live", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// Ready flips only once Run has started serving.
	w = doRequest(srv, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	srv.ready.Store(true)
	w = doRequest(srv, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMetricsEndpointExposed(t *testing.T) {
	srv, _ := newTestServer(t)

	payload := []byte(`{"transaction_id":"txn_metrics","amount":15}`)
	w := doRequest(srv, http.MethodPost, "/api/fraud/check", payload)
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(srv, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "mastercard_fraud_checks_total")
}

func TestEmitterDrainsQueuedTraces(t *testing.T) {
	srv, sink := newTestServer(t)

	payload := []byte(`{"transaction_id":"txn_drain","amount":30}`)
	w := doRequest(srv, http.MethodPost, "/api/fraud/check", payload)
	require.Equal(t, http.StatusOK, w.Code)
	require.Greater(t, srv.emitter.QueueDepth(), 0)

	ctx, cancel := context.WithCancel(context.Background())
	go srv.emitter.Run(ctx)

	require.Eventually(t, func() bool {
		return sink.traceCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
	cancel()

	sink.mu.Lock()
	tr := sink.traces[0]
	sink.mu.Unlock()
	require.Len(t, tr.Spans, 4)
	assert.Equal(t, traces.SpanHTTPRequest, tr.Spans[0].Name)
}
