package mastercard

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"go.opentelemetry.io/otel/attribute"

	"github.com/poulsbopete/mc-mcp/internal/fraud"
	"github.com/poulsbopete/mc-mcp/internal/metrics"
	"github.com/poulsbopete/mc-mcp/internal/traces"
)

var historyCategories = []string{"grocery", "restaurant", "gas", "shopping", "entertainment", "utilities"}

// Client simulates the Mastercard developer APIs. All randomness flows from
// one seed, so two clients built with the same seed produce identical
// responses for identical call sequences. Safe for concurrent use.
type Client struct {
	engine *fraud.Engine
	agg    *metrics.Aggregator
	logger *slog.Logger

	mu    sync.Mutex
	faker *gofakeit.Faker
	rng   *rand.Rand

	minLatency time.Duration
	maxLatency time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithLatency overrides the simulated per-call latency range. Zero for both
// disables the artificial delay.
func WithLatency(min, max time.Duration) Option {
	return func(c *Client) {
		c.minLatency = min
		c.maxLatency = max
	}
}

// WithMetrics records per-call samples into the aggregator.
func WithMetrics(agg *metrics.Aggregator) Option {
	return func(c *Client) { c.agg = agg }
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a mock client. A zero seed derives one from the clock.
func NewClient(engine *fraud.Engine, seed int64, opts ...Option) *Client {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	c := &Client{
		engine:     engine,
		logger:     slog.Default(),
		faker:      gofakeit.New(seed),
		rng:        rand.New(rand.NewSource(seed)),
		minLatency: 10 * time.Millisecond,
		maxLatency: 50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CheckFraud scores a transaction through Decision Intelligence. It opens a
// fraud.check span under parent, with the simulated upstream call and the
// response assembly as children, and stamps the assessment onto the span
// attributes.
func (c *Client) CheckFraud(ctx context.Context, b *traces.Builder, parent *traces.Span, tx fraud.Transaction) (*fraud.RiskAssessment, error) {
	check, err := b.Begin(traces.SpanFraudCheck, parent)
	if err != nil {
		return nil, err
	}
	start := time.Now()

	call, err := b.Begin(traces.SpanMastercardCall, check)
	if err != nil {
		return nil, err
	}
	if err := c.simulateLatency(ctx); err != nil {
		_ = b.End(call, traces.StatusError, err.Error())
		_ = b.End(check, traces.StatusError, err.Error())
		return nil, err
	}

	c.mu.Lock()
	assessment, aerr := c.engine.Assess(tx, c.rng)
	c.mu.Unlock()
	if aerr != nil {
		_ = b.End(call, traces.StatusError, aerr.Error(),
			traces.APIName(APIDecisionIntelligence),
			traces.APIOperation("check_transaction"),
		)
		_ = b.End(check, traces.StatusError, aerr.Error(), traces.TransactionID(tx.TransactionID))
		return nil, aerr
	}
	if err := b.End(call, traces.StatusOK, "",
		traces.APIName(APIDecisionIntelligence),
		traces.APIOperation("check_transaction"),
	); err != nil {
		return nil, err
	}

	resp, err := b.Begin(traces.SpanResponseGeneration, check)
	if err != nil {
		return nil, err
	}
	if err := b.End(resp, traces.StatusOK, ""); err != nil {
		return nil, err
	}

	if err := b.End(check, traces.StatusOK, "",
		traces.TransactionID(assessment.TransactionID),
		traces.TransactionAmount(assessment.Amount),
		traces.RiskScore(assessment.RiskScore),
		traces.FraudStatus(string(assessment.Status)),
		traces.MerchantID(assessment.MerchantID),
	); err != nil {
		return nil, err
	}

	elapsed := time.Since(start)
	if c.agg != nil {
		c.agg.RecordCheck(string(assessment.Status), assessment.RiskScore, elapsed)
		c.agg.RecordAPICall(APIDecisionIntelligence, "check_transaction", elapsed)
	}
	c.logger.Info("fraud check complete",
		"transaction_id", assessment.TransactionID,
		"status", assessment.Status,
		"risk_score", assessment.RiskScore,
	)
	return assessment, nil
}

// GetBankingAccounts retrieves a user's accounts from Open Banking.
func (c *Client) GetBankingAccounts(ctx context.Context, b *traces.Builder, parent *traces.Span, userID string) (*AccountsResponse, error) {
	span, err := b.Begin(SpanGetAccounts, parent)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	if err := c.simulateLatency(ctx); err != nil {
		_ = b.End(span, traces.StatusError, err.Error())
		return nil, err
	}

	c.mu.Lock()
	accounts := []Account{
		{
			AccountID:   fmt.Sprintf("acc_%d", c.faker.Number(1000, 9999)),
			AccountType: "checking",
			Balance:     round2(c.faker.Float64Range(1000, 50000)),
			Currency:    "USD",
			Status:      "active",
		},
		{
			AccountID:   fmt.Sprintf("acc_%d", c.faker.Number(1000, 9999)),
			AccountType: "savings",
			Balance:     round2(c.faker.Float64Range(5000, 100000)),
			Currency:    "USD",
			Status:      "active",
		},
	}
	c.mu.Unlock()

	if err := b.End(span, traces.StatusOK, "",
		traces.UserID(userID),
		traces.APIName(APIOpenBanking),
		traces.APIOperation("get_accounts"),
		attribute.Int("account.count", len(accounts)),
	); err != nil {
		return nil, err
	}
	c.recordCall(APIOpenBanking, "get_accounts", time.Since(start))

	return &AccountsResponse{
		UserID:    userID,
		Accounts:  accounts,
		Timestamp: time.Now().UTC(),
	}, nil
}

// LocateMerchants searches for merchants around a coordinate.
func (c *Client) LocateMerchants(ctx context.Context, b *traces.Builder, parent *traces.Span, query string, lat, lon float64, radiusMiles int) (*MerchantSearchResponse, error) {
	span, err := b.Begin(SpanLocateMerchants, parent)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	if err := c.simulateLatency(ctx); err != nil {
		_ = b.End(span, traces.StatusError, err.Error())
		return nil, err
	}

	c.mu.Lock()
	n := c.faker.Number(5, 15)
	merchants := make([]Merchant, 0, n)
	for i := 0; i < n; i++ {
		merchants = append(merchants, Merchant{
			MerchantID:        fmt.Sprintf("mch_%d", c.faker.Number(10000, 99999)),
			Name:              fmt.Sprintf("%s %s %d", c.faker.Company(), titleWord(query), i+1),
			Category:          query,
			Address:           fmt.Sprintf("%d %s, %s, %s", c.faker.Number(100, 9999), c.faker.Street(), c.faker.City(), c.faker.StateAbr()),
			DistanceMiles:     round2(c.faker.Float64Range(0.1, float64(radiusMiles))),
			Rating:            math.Round(c.faker.Float64Range(3.5, 5.0)*10) / 10,
			AcceptsMastercard: true,
		})
	}
	c.mu.Unlock()

	if err := b.End(span, traces.StatusOK, "",
		traces.APIName(APIMerchantLocator),
		traces.APIOperation("locate"),
		attribute.String("merchant.query", query),
		attribute.Float64("location.latitude", lat),
		attribute.Float64("location.longitude", lon),
		attribute.Int("search.radius", radiusMiles),
		attribute.Int("merchant.count", len(merchants)),
	); err != nil {
		return nil, err
	}
	c.recordCall(APIMerchantLocator, "locate", time.Since(start))

	return &MerchantSearchResponse{
		Query:       query,
		Latitude:    lat,
		Longitude:   lon,
		RadiusMiles: radiusMiles,
		Merchants:   merchants,
		Timestamp:   time.Now().UTC(),
	}, nil
}

// GetTransactionHistory returns recent transactions for an account, newest
// first.
func (c *Client) GetTransactionHistory(ctx context.Context, b *traces.Builder, parent *traces.Span, accountID string, days int) (*HistoryResponse, error) {
	if days <= 0 {
		days = 30
	}
	span, err := b.Begin(SpanTransactionHistory, parent)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	if err := c.simulateLatency(ctx); err != nil {
		_ = b.End(span, traces.StatusError, err.Error())
		return nil, err
	}

	now := time.Now().UTC()
	c.mu.Lock()
	n := c.faker.Number(10, 50)
	entries := make([]HistoryEntry, 0, n)
	total := 0.0
	for i := 0; i < n; i++ {
		amount := round2(c.faker.Float64Range(5, 500))
		total += amount
		entries = append(entries, HistoryEntry{
			TransactionID: fmt.Sprintf("txn_%d", c.faker.Number(100000, 999999)),
			Date:          now.AddDate(0, 0, -c.faker.Number(0, days)),
			Merchant:      c.faker.Company(),
			Category:      c.faker.RandomString(historyCategories),
			Amount:        amount,
			Currency:      "USD",
			Status:        "completed",
		})
	}
	c.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].Date.After(entries[j].Date) })

	if err := b.End(span, traces.StatusOK, "",
		traces.AccountID(accountID),
		traces.APIName(APITransactions),
		traces.APIOperation("history"),
		attribute.Int("history.days", days),
		attribute.Int("transaction.count", len(entries)),
	); err != nil {
		return nil, err
	}
	c.recordCall(APITransactions, "history", time.Since(start))

	return &HistoryResponse{
		AccountID:    accountID,
		PeriodDays:   days,
		Transactions: entries,
		TotalSpent:   round2(total),
		Timestamp:    now,
	}, nil
}

func (c *Client) recordCall(api, operation string, dur time.Duration) {
	if c.agg != nil {
		c.agg.RecordAPICall(api, operation, dur)
	}
}

func (c *Client) simulateLatency(ctx context.Context) error {
	if c.maxLatency <= 0 {
		return ctx.Err()
	}
	c.mu.Lock()
	d := c.minLatency + time.Duration(c.rng.Int63n(int64(c.maxLatency-c.minLatency)+1))
	c.mu.Unlock()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func titleWord(s string) string {
	if s == "" {
		return s
	}
	if s[0] >= 'a' && s[0] <= 'z' {
		return string(s[0]-('a'-'A')) + s[1:]
	}
	return s
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
