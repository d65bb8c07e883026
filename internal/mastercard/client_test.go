package mastercard

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/poulsbopete/mc-mcp/internal/fraud"
	"github.com/poulsbopete/mc-mcp/internal/traces"
)

func testClient(seed int64) *Client {
	return NewClient(fraud.NewEngine(nil), seed, WithLatency(0, 0))
}

func rootedBuilder(t *testing.T) (*traces.Builder, *traces.Span, *[]*traces.Trace) {
	t.Helper()
	var emitted []*traces.Trace
	b := traces.NewBuilder(traces.WithEmit(func(tr *traces.Trace) { emitted = append(emitted, tr) }))
	root, err := b.Begin(traces.SpanHTTPRequest, nil)
	if err != nil {
		t.Fatalf("begin root: %v", err)
	}
	return b, root, &emitted
}

func TestCheckFraudSpanChain(t *testing.T) {
	c := testClient(7)
	b, root, emitted := rootedBuilder(t)

	tx := fraud.Transaction{
		TransactionID: "txn_100",
		Amount:        125.50,
		MerchantID:    "mch_42",
		Currency:      "USD",
	}
	assessment, err := c.CheckFraud(context.Background(), b, root, tx)
	if err != nil {
		t.Fatalf("CheckFraud: %v", err)
	}
	if err := b.End(root, traces.StatusOK, ""); err != nil {
		t.Fatalf("end root: %v", err)
	}
	if len(*emitted) != 1 {
		t.Fatalf("emitted %d traces, want 1", len(*emitted))
	}

	tr := (*emitted)[0]
	wantNames := []string{
		traces.SpanHTTPRequest,
		traces.SpanFraudCheck,
		traces.SpanMastercardCall,
		traces.SpanResponseGeneration,
	}
	if len(tr.Spans) != len(wantNames) {
		t.Fatalf("span count = %d, want %d", len(tr.Spans), len(wantNames))
	}
	for i, want := range wantNames {
		if tr.Spans[i].Name != want {
			t.Errorf("span[%d] = %s, want %s", i, tr.Spans[i].Name, want)
		}
		if i > 0 && tr.Spans[i].Status != traces.StatusOK {
			t.Errorf("span %s status = %s, want ok", tr.Spans[i].Name, tr.Spans[i].Status)
		}
	}

	// fraud.check and mastercard.client.call are siblings' parent/child:
	// check under root, call and response under check.
	check := tr.Spans[1]
	if check.ParentID != tr.Spans[0].ID {
		t.Error("fraud.check must be a child of http.request")
	}
	if tr.Spans[2].ParentID != check.ID || tr.Spans[3].ParentID != check.ID {
		t.Error("upstream call and response generation must be children of fraud.check")
	}

	attrs := map[string]any{}
	for _, kv := range check.Attrs {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	if attrs[traces.KeyRiskScore] != assessment.RiskScore {
		t.Errorf("risk score attr = %v, want %v", attrs[traces.KeyRiskScore], assessment.RiskScore)
	}
	if attrs[traces.KeyFraudStatus] != string(assessment.Status) {
		t.Errorf("fraud status attr = %v, want %v", attrs[traces.KeyFraudStatus], assessment.Status)
	}
	if attrs[traces.KeyTransactionAmount] != tx.Amount {
		t.Errorf("amount attr = %v, want %v", attrs[traces.KeyTransactionAmount], tx.Amount)
	}
	if attrs[traces.KeyMerchantID] != tx.MerchantID {
		t.Errorf("merchant attr = %v, want %v", attrs[traces.KeyMerchantID], tx.MerchantID)
	}
}

func TestCheckFraudInvalidTransactionClosesSpans(t *testing.T) {
	c := testClient(7)
	b, root, _ := rootedBuilder(t)

	_, err := c.CheckFraud(context.Background(), b, root, fraud.Transaction{TransactionID: "txn_1", Amount: -5})
	var invalid *fraud.InvalidInputError
	if !errors.As(err, &invalid) {
		t.Fatalf("want InvalidInputError, got %v", err)
	}

	// The failure closed its own spans, so the root can still end cleanly.
	if err := b.End(root, traces.StatusError, err.Error()); err != nil {
		t.Fatalf("end root after failed check: %v", err)
	}
}

func TestCheckFraudHonorsCancellation(t *testing.T) {
	c := NewClient(fraud.NewEngine(nil), 7, WithLatency(50*time.Millisecond, 50*time.Millisecond))
	b, root, _ := rootedBuilder(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.CheckFraud(ctx, b, root, fraud.Transaction{TransactionID: "txn_1", Amount: 10, MerchantID: "mch_1"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
	if err := b.End(root, traces.StatusError, "cancelled"); err != nil {
		t.Fatalf("end root after cancelled check: %v", err)
	}
}

func TestAccountsDeterministicPerSeed(t *testing.T) {
	run := func() *AccountsResponse {
		c := testClient(99)
		b, root, _ := rootedBuilder(t)
		resp, err := c.GetBankingAccounts(context.Background(), b, root, "user_1")
		if err != nil {
			t.Fatalf("GetBankingAccounts: %v", err)
		}
		return resp
	}

	first, second := run(), run()
	if len(first.Accounts) != 2 || len(second.Accounts) != 2 {
		t.Fatalf("want 2 accounts each, got %d and %d", len(first.Accounts), len(second.Accounts))
	}
	for i := range first.Accounts {
		if first.Accounts[i].AccountID != second.Accounts[i].AccountID ||
			first.Accounts[i].Balance != second.Accounts[i].Balance {
			t.Fatalf("same seed produced different accounts: %+v vs %+v", first.Accounts[i], second.Accounts[i])
		}
	}
	if first.Accounts[0].AccountType != "checking" || first.Accounts[1].AccountType != "savings" {
		t.Fatalf("unexpected account types: %+v", first.Accounts)
	}
}

func TestLocateMerchantsWithinRadius(t *testing.T) {
	c := testClient(3)
	b, root, _ := rootedBuilder(t)

	resp, err := c.LocateMerchants(context.Background(), b, root, "coffee", 37.7749, -122.4194, 5)
	if err != nil {
		t.Fatalf("LocateMerchants: %v", err)
	}
	if len(resp.Merchants) < 5 || len(resp.Merchants) > 15 {
		t.Fatalf("merchant count = %d, want 5..15", len(resp.Merchants))
	}
	for _, m := range resp.Merchants {
		if m.DistanceMiles < 0.1 || m.DistanceMiles > 5 {
			t.Errorf("merchant %s distance %v outside radius", m.MerchantID, m.DistanceMiles)
		}
		if m.Category != "coffee" {
			t.Errorf("merchant %s category = %s, want coffee", m.MerchantID, m.Category)
		}
		if !m.AcceptsMastercard {
			t.Errorf("merchant %s should accept mastercard", m.MerchantID)
		}
	}
}

func TestTransactionHistorySortedNewestFirst(t *testing.T) {
	c := testClient(11)
	b, root, _ := rootedBuilder(t)

	resp, err := c.GetTransactionHistory(context.Background(), b, root, "acc_1234", 30)
	if err != nil {
		t.Fatalf("GetTransactionHistory: %v", err)
	}
	if len(resp.Transactions) < 10 || len(resp.Transactions) > 50 {
		t.Fatalf("history length = %d, want 10..50", len(resp.Transactions))
	}

	total := 0.0
	for i, e := range resp.Transactions {
		total += e.Amount
		if i > 0 && e.Date.After(resp.Transactions[i-1].Date) {
			t.Fatal("history not sorted newest first")
		}
	}
	if diff := resp.TotalSpent - round2(total); diff > 0.01 || diff < -0.01 {
		t.Fatalf("total_spent = %v, sum of entries = %v", resp.TotalSpent, round2(total))
	}
}
