// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"regexp"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/poulsbopete/mc-mcp/internal/config"
	"github.com/poulsbopete/mc-mcp/internal/export"
	"github.com/poulsbopete/mc-mcp/internal/fraud"
	"github.com/poulsbopete/mc-mcp/internal/health"
	"github.com/poulsbopete/mc-mcp/internal/logging"
	"github.com/poulsbopete/mc-mcp/internal/mastercard"
	"github.com/poulsbopete/mc-mcp/internal/metrics"
	"github.com/poulsbopete/mc-mcp/internal/ratelimit"
	"github.com/poulsbopete/mc-mcp/internal/realtime"
	"github.com/poulsbopete/mc-mcp/internal/security"
	"github.com/poulsbopete/mc-mcp/internal/traces"
	"github.com/poulsbopete/mc-mcp/internal/validation"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	engine       *fraud.Engine
	store        fraud.Store
	client       *mastercard.Client
	agg          *metrics.Aggregator
	sink         export.Sink
	emitter      *export.Emitter
	hub          *realtime.Hub
	limiter      *ratelimit.Limiter
	checks       *health.Registry
	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithSink sets a custom telemetry sink (for testing)
func WithSink(sink export.Sink) Option {
	return func(s *Server) {
		s.sink = sink
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}

	// Apply options first (may set sink/logger)
	for _, opt := range opts {
		opt(s)
	}

	// Context for initialization
	ctx := context.Background()

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		// Test connection
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		store := fraud.NewPostgresStore(db)
		if err := store.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate assessment store", "error", err)
		}
		s.store = store
		s.logger.Info("using PostgreSQL assessment storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		s.store = fraud.NewMemoryStore()
		s.logger.Info("using in-memory assessment storage (data will not persist)")
	}

	// Risk engine with configured scoring parameters
	s.engine = fraud.NewEngine(s.store).
		WithThreshold(cfg.RiskThreshold).
		WithBandBoundaries(cfg.BandBoundaries).
		WithFactorWeights(cfg.RiskFactorWeights)

	// Metric aggregation
	s.agg = metrics.NewAggregator()

	// Mastercard client (mock responses; real API integration is not wired)
	if !cfg.MockMode {
		s.logger.Warn("real Mastercard API not configured, serving mock responses")
	}
	s.client = mastercard.NewClient(s.engine, cfg.RandomSeed,
		mastercard.WithMetrics(s.agg),
		mastercard.WithLogger(s.logger),
	)

	// Telemetry sink: OTLP collector when configured, structured logs otherwise
	if s.sink == nil {
		if cfg.OTLPEndpoint != "" {
			sink, err := export.NewOTLPSink(ctx, cfg.OTLPEndpoint, cfg.ServiceName, cfg.ServiceVersion, s.logger)
			if err != nil {
				return nil, fmt.Errorf("failed to create OTLP sink: %w", err)
			}
			s.sink = sink
			s.logger.Info("OTLP export enabled", "endpoint", cfg.OTLPEndpoint)
		} else {
			s.sink = export.NewLogSink(s.logger)
			s.logger.Info("no OTLP endpoint configured, traces go to the log")
		}
	}

	s.emitter = export.NewEmitter(s.sink, cfg.EmitQueueSize, s.logger,
		export.WithSnapshot(s.agg.Snapshot, cfg.MetricsInterval),
	)

	// Create realtime hub for WebSocket streaming
	s.hub = realtime.NewHub(s.logger)
	s.logger.Info("realtime streaming enabled")

	// Per-IP rate limiting on the API surface. Generous limits, this is a
	// demo service that gets hammered by load generators.
	s.limiter = ratelimit.New(ratelimit.Config{
		RequestsPerMinute: 600,
		BurstSize:         100,
		CleanupInterval:   time.Minute,
	})

	// Health checkers
	s.checks = health.NewRegistry()
	if s.db != nil {
		s.checks.Register("database", health.DBChecker("database", s.db))
	}
	s.checks.Register("emitter", health.QueueChecker("emitter", s.emitter.QueueDepth, cfg.EmitQueueSize))

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers and CORS
	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		ctx := logging.WithLogger(c.Request.Context(), s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/", s.rootHandler)
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler(s.agg))

	// WebSocket for real-time fraud activity
	s.router.GET("/ws", func(c *gin.Context) {
		s.hub.HandleWebSocket(c.Writer, c.Request)
	})

	api := s.router.Group("/api")
	api.Use(s.limiter.Middleware())
	{
		api.POST("/fraud/check", s.checkFraudHandler)
		api.GET("/fraud/assessments", s.listAssessmentsHandler)
		api.GET("/banking/accounts", s.getAccountsHandler)
		api.GET("/merchant/locate", s.locateMerchantsHandler)
		api.GET("/transactions/history", s.transactionHistoryHandler)
		api.GET("/demo/generate-traffic", s.generateTrafficHandler)
		api.GET("/demo/stats", s.statsHandler)
	}
}

// -----------------------------------------------------------------------------
// Request tracing
// -----------------------------------------------------------------------------

var traceparentRe = regexp.MustCompile(`^[0-9a-f]{2}-([0-9a-f]{32})-([0-9a-f]{16})-[0-9a-f]{2}$`)

// parseTraceparent extracts the trace and parent span ids from a W3C
// traceparent header.
func parseTraceparent(header string) (traceID, spanID string, ok bool) {
	m := traceparentRe.FindStringSubmatch(header)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// startTrace opens the root span for one API request. The trace id is
// exposed on the response and threaded into the request logger. When the
// caller supplied a traceparent header, the new trace continues it.
func (s *Server) startTrace(c *gin.Context) (*traces.Builder, *traces.Span) {
	opts := []traces.BuilderOption{traces.WithEmit(s.emitter.Enqueue)}
	if tid, sid, ok := parseTraceparent(c.GetHeader("traceparent")); ok {
		opts = append(opts, traces.WithRemoteParent(tid, sid))
	}
	b := traces.NewBuilder(opts...)

	root, err := b.Begin(traces.SpanHTTPRequest, nil)
	if err != nil {
		// Cannot happen on a fresh builder; fall back to an untraced request.
		s.logger.Error("failed to open root span", "error", err)
		return b, nil
	}

	ctx := logging.WithTraceID(c.Request.Context(), b.TraceID())
	ctx = logging.WithLogger(ctx, s.logger)
	c.Request = c.Request.WithContext(ctx)
	c.Header("X-Trace-ID", b.TraceID())
	return b, root
}

// finishTrace ends the root span with the response status, sealing and
// emitting the trace. If the client went away mid-request the whole trace is
// aborted and discarded instead.
func (s *Server) finishTrace(c *gin.Context, b *traces.Builder, root *traces.Span) {
	if root == nil {
		return
	}
	if c.Request.Context().Err() != nil {
		b.Abort(traces.ReasonAborted)
		return
	}

	status := c.Writer.Status()
	spanStatus := traces.StatusOK
	message := ""
	if status >= 500 {
		spanStatus = traces.StatusError
		message = http.StatusText(status)
	}
	if err := b.End(root, spanStatus, message,
		traces.HTTPMethod(c.Request.Method),
		traces.HTTPStatusCode(status),
	); err != nil {
		logging.L(c.Request.Context()).Warn("failed to seal trace", "error", err)
	}
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"service", s.cfg.ServiceName,
			"mock_mode", s.cfg.MockMode,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start emission worker
	go s.emitter.Run(runCtx)

	// Start realtime hub
	go s.hub.Run(runCtx)

	// Start DB stats collector
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for all background goroutines (hub, emitter)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	// Wait for the emitter to flush buffered traces
	if s.emitter != nil {
		select {
		case <-s.emitter.Done():
			s.logger.Info("emission queue flushed")
		case <-ctx.Done():
			s.logger.Warn("gave up waiting for emission queue flush")
		}
	}

	// Stop the rate limiter cleanup goroutine
	if s.limiter != nil {
		s.limiter.Stop()
	}

	// Shut down the OTLP pipeline if one is active
	if otlp, ok := s.sink.(*export.OTLPSink); ok {
		if err := otlp.Shutdown(ctx); err != nil {
			s.logger.Error("OTLP shutdown error", "error", err)
		}
	}

	// Close database connection pool
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}
