// Package mastercard simulates the upstream Mastercard developer APIs used
// by the demo: Decision Intelligence fraud checks, Open Banking accounts,
// merchant location, and transaction history. Responses are generated
// locally; a real client would live behind the same interface.
package mastercard

import "time"

// Span names for the simulated upstream calls, one per API.
const (
	SpanGetAccounts        = "mastercard.open_banking.get_accounts"
	SpanLocateMerchants    = "mastercard.merchant.locate"
	SpanTransactionHistory = "mastercard.transactions.history"
)

// API names recorded on spans and metrics.
const (
	APIDecisionIntelligence = "decision_intelligence"
	APIOpenBanking          = "open_banking"
	APIMerchantLocator      = "merchant_locator"
	APITransactions         = "transactions"
)

// Account is one banking account returned by the Open Banking API.
type Account struct {
	AccountID   string  `json:"account_id"`
	AccountType string  `json:"account_type"`
	Balance     float64 `json:"balance"`
	Currency    string  `json:"currency"`
	Status      string  `json:"status"`
}

// AccountsResponse is the Open Banking get-accounts payload.
type AccountsResponse struct {
	UserID    string    `json:"user_id"`
	Accounts  []Account `json:"accounts"`
	Timestamp time.Time `json:"timestamp"`
}

// Merchant is one merchant locator search hit.
type Merchant struct {
	MerchantID        string  `json:"merchant_id"`
	Name              string  `json:"name"`
	Category          string  `json:"category"`
	Address           string  `json:"address"`
	DistanceMiles     float64 `json:"distance"`
	Rating            float64 `json:"rating"`
	AcceptsMastercard bool    `json:"accepts_mastercard"`
}

// MerchantSearchResponse is the merchant locator payload.
type MerchantSearchResponse struct {
	Query       string     `json:"query"`
	Latitude    float64    `json:"latitude"`
	Longitude   float64    `json:"longitude"`
	RadiusMiles int        `json:"radius_miles"`
	Merchants   []Merchant `json:"merchants"`
	Timestamp   time.Time  `json:"timestamp"`
}

// HistoryEntry is one past transaction in an account's history.
type HistoryEntry struct {
	TransactionID string    `json:"transaction_id"`
	Date          time.Time `json:"date"`
	Merchant      string    `json:"merchant"`
	Category      string    `json:"category"`
	Amount        float64   `json:"amount"`
	Currency      string    `json:"currency"`
	Status        string    `json:"status"`
}

// HistoryResponse is the transaction history payload.
type HistoryResponse struct {
	AccountID    string         `json:"account_id"`
	PeriodDays   int            `json:"period_days"`
	Transactions []HistoryEntry `json:"transactions"`
	TotalSpent   float64        `json:"total_spent"`
	Timestamp    time.Time      `json:"timestamp"`
}
