package server

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"

	"github.com/poulsbopete/mc-mcp/internal/fraud"
	"github.com/poulsbopete/mc-mcp/internal/logging"
	"github.com/poulsbopete/mc-mcp/internal/metrics"
	"github.com/poulsbopete/mc-mcp/internal/realtime"
	"github.com/poulsbopete/mc-mcp/internal/traces"
	"github.com/poulsbopete/mc-mcp/internal/validation"
)

// rootHandler reports service identity and telemetry wiring.
func (s *Server) rootHandler(c *gin.Context) {
	endpoint := s.cfg.OTLPEndpoint
	if endpoint == "" {
		endpoint = "log"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"service":   s.cfg.ServiceName,
		"version":   s.cfg.ServiceVersion,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"opentelemetry": gin.H{
			"traces":   "enabled",
			"metrics":  "enabled",
			"endpoint": endpoint,
		},
	})
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, statuses := s.checks.CheckAll(ctx)

	checks := make(map[string]string, len(statuses))
	for _, st := range statuses {
		if st.Healthy {
			checks[st.Name] = "healthy"
		} else {
			checks[st.Name] = "unhealthy"
		}
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, gin.H{
		"status":    status,
		"version":   s.cfg.ServiceVersion,
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// -----------------------------------------------------------------------------
// Fraud check
// -----------------------------------------------------------------------------

type fraudCheckRequest struct {
	TransactionID string  `json:"transaction_id"`
	Amount        float64 `json:"amount"`
	MerchantID    string  `json:"merchant_id"`
	Currency      string  `json:"currency"`
}

// checkFraudHandler handles POST /api/fraud/check
func (s *Server) checkFraudHandler(c *gin.Context) {
	var req fraudCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	if req.Currency == "" {
		req.Currency = "USD"
	}

	if verrs := validation.Validate(
		validation.Required("transaction_id", req.TransactionID),
		validation.ValidTransactionID("transaction_id", req.TransactionID),
		validation.ValidMerchantID("merchant_id", req.MerchantID),
		validation.ValidCurrency("currency", req.Currency),
		validation.PositiveAmount("amount", req.Amount),
	); len(verrs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"details": verrs,
		})
		return
	}

	b, root := s.startTrace(c)
	ctx := c.Request.Context()

	tx := fraud.Transaction{
		TransactionID: req.TransactionID,
		Amount:        req.Amount,
		MerchantID:    req.MerchantID,
		Currency:      req.Currency,
		Timestamp:     time.Now().UTC(),
	}

	assessment, err := s.client.CheckFraud(ctx, b, root, tx)
	if err != nil {
		if ctx.Err() != nil {
			b.Abort(traces.ReasonAborted)
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		var invalid *fraud.InvalidInputError
		if errors.As(err, &invalid) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_transaction",
				"message": invalid.Error(),
			})
			s.finishTrace(c, b, root)
			return
		}
		logging.L(ctx).Error("fraud check failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "check_failed",
			"message": "Fraud check failed",
		})
		s.finishTrace(c, b, root)
		return
	}

	if assessment.Status == fraud.StatusFlagged {
		logging.L(ctx).Warn("suspicious transaction detected",
			"transaction_id", assessment.TransactionID,
			"risk_score", assessment.RiskScore,
		)
	}

	s.hub.BroadcastAssessment(assessment)
	s.agg.Count(metrics.Sample{Name: "fraud_checks_by_currency_total", Tags: map[string]string{"currency": req.Currency}})

	c.JSON(http.StatusOK, assessment)
	s.finishTrace(c, b, root)
}

// listAssessmentsHandler handles GET /api/fraud/assessments
func (s *Server) listAssessmentsHandler(c *gin.Context) {
	merchantID := c.Query("merchant_id")
	if merchantID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "missing_merchant_id",
			"message": "Provide merchant_id",
		})
		return
	}
	limit := intQuery(c, "limit", 50, 1, 500)

	assessments, err := s.store.ListByMerchant(c.Request.Context(), merchantID, limit)
	if err != nil {
		logging.L(c.Request.Context()).Error("failed to list assessments", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list assessments",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"merchant_id": merchantID,
		"assessments": assessments,
		"count":       len(assessments),
	})
}

// -----------------------------------------------------------------------------
// Mastercard API passthroughs
// -----------------------------------------------------------------------------

// getAccountsHandler handles GET /api/banking/accounts
func (s *Server) getAccountsHandler(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "missing_user_id",
			"message": "Provide user_id",
		})
		return
	}

	b, root := s.startTrace(c)
	resp, err := s.client.GetBankingAccounts(c.Request.Context(), b, root, userID)
	if err != nil {
		s.upstreamError(c, b, root, "failed to fetch accounts", err)
		return
	}

	c.JSON(http.StatusOK, resp)
	s.finishTrace(c, b, root)
}

// locateMerchantsHandler handles GET /api/merchant/locate
func (s *Server) locateMerchantsHandler(c *gin.Context) {
	query := c.Query("query")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "missing_query",
			"message": "Provide query (e.g. 'coffee', 'restaurant')",
		})
		return
	}
	lat := floatQuery(c, "latitude", 37.7749)
	lon := floatQuery(c, "longitude", -122.4194)
	radius := intQuery(c, "radius", 5, 1, 50)

	b, root := s.startTrace(c)
	resp, err := s.client.LocateMerchants(c.Request.Context(), b, root, query, lat, lon, radius)
	if err != nil {
		s.upstreamError(c, b, root, "failed to locate merchants", err)
		return
	}

	c.JSON(http.StatusOK, resp)
	s.finishTrace(c, b, root)
}

// transactionHistoryHandler handles GET /api/transactions/history
func (s *Server) transactionHistoryHandler(c *gin.Context) {
	accountID := c.Query("account_id")
	if accountID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "missing_account_id",
			"message": "Provide account_id",
		})
		return
	}
	days := intQuery(c, "days", 30, 1, 365)

	b, root := s.startTrace(c)
	resp, err := s.client.GetTransactionHistory(c.Request.Context(), b, root, accountID, days)
	if err != nil {
		s.upstreamError(c, b, root, "failed to fetch history", err)
		return
	}

	c.JSON(http.StatusOK, resp)
	s.finishTrace(c, b, root)
}

// upstreamError closes out a failed client call: aborted traces for vanished
// clients, error responses otherwise.
func (s *Server) upstreamError(c *gin.Context, b *traces.Builder, root *traces.Span, message string, err error) {
	ctx := c.Request.Context()
	if ctx.Err() != nil {
		b.Abort(traces.ReasonAborted)
		c.AbortWithStatus(http.StatusServiceUnavailable)
		return
	}
	logging.L(ctx).Error(message, "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   "internal_error",
		"message": message,
	})
	s.finishTrace(c, b, root)
}

// -----------------------------------------------------------------------------
// Demo helpers
// -----------------------------------------------------------------------------

var trafficQueries = []string{"coffee", "restaurant", "gas", "grocery", "pharmacy"}

type trafficOperation struct {
	Index     int    `json:"index"`
	Operation string `json:"operation"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

// generateTrafficHandler handles GET /api/demo/generate-traffic. All
// generated operations nest under one trace so dashboards show the burst as
// a single tree.
func (s *Server) generateTrafficHandler(c *gin.Context) {
	count := intQuery(c, "requests", 10, 1, 100)

	b, root := s.startTrace(c)
	ctx := c.Request.Context()

	operations := make([]trafficOperation, 0, count)
	for i := 0; i < count; i++ {
		op := trafficOperation{Index: i + 1, Status: "success"}

		var err error
		switch rand.Intn(4) {
		case 0:
			op.Operation = "accounts"
			_, err = s.client.GetBankingAccounts(ctx, b, root, "user_"+strconv.Itoa(rand.Intn(100)+1))
		case 1:
			op.Operation = "merchants"
			_, err = s.client.LocateMerchants(ctx, b, root, trafficQueries[rand.Intn(len(trafficQueries))], 37.7749, -122.4194, 5)
		case 2:
			op.Operation = "fraud"
			tx := fraud.Transaction{
				TransactionID: "txn_" + strconv.Itoa(rand.Intn(9000)+1000),
				Amount:        float64(rand.Intn(499000)+1000) / 100,
				MerchantID:    "mch_" + strconv.Itoa(rand.Intn(90000)+10000),
				Currency:      "USD",
				Timestamp:     time.Now().UTC(),
			}
			var assessment *fraud.RiskAssessment
			assessment, err = s.client.CheckFraud(ctx, b, root, tx)
			if err == nil {
				s.hub.BroadcastAssessment(assessment)
			}
		default:
			op.Operation = "transactions"
			_, err = s.client.GetTransactionHistory(ctx, b, root, "acc_"+strconv.Itoa(rand.Intn(9000)+1000), rand.Intn(84)+7)
		}

		if err != nil {
			if ctx.Err() != nil {
				b.Abort(traces.ReasonAborted)
				c.AbortWithStatus(http.StatusServiceUnavailable)
				return
			}
			op.Status = "error"
			op.Error = err.Error()
		}
		operations = append(operations, op)
	}

	s.agg.Count(metrics.Sample{Name: "traffic_bursts_total"})
	s.hub.Broadcast(&realtime.Event{
		Type:      realtime.EventTrafficBurst,
		Timestamp: time.Now(),
		Data:      gin.H{"generated": count},
	})

	c.JSON(http.StatusOK, gin.H{
		"generated":  count,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
		"operations": operations,
	})
	if root != nil {
		_ = b.End(root, traces.StatusOK, "",
			traces.HTTPMethod(c.Request.Method),
			traces.HTTPStatusCode(c.Writer.Status()),
			attribute.Int("demo.request_count", count),
		)
	}
}

// statsHandler handles GET /api/demo/stats
func (s *Server) statsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"realtime": s.hub.Stats(),
		"emitter": gin.H{
			"queueDepth":    s.emitter.QueueDepth(),
			"droppedTraces": s.emitter.Dropped(),
		},
		"engine": gin.H{
			"riskThreshold": s.engine.Threshold(),
		},
	})
}

// -----------------------------------------------------------------------------
// Query helpers
// -----------------------------------------------------------------------------

func intQuery(c *gin.Context, name string, def, min, max int) int {
	v, err := strconv.Atoi(c.Query(name))
	if err != nil {
		return def
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func floatQuery(c *gin.Context, name string, def float64) float64 {
	v, err := strconv.ParseFloat(c.Query(name), 64)
	if err != nil {
		return def
	}
	return v
}

