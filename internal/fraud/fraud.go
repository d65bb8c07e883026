// Package fraud implements transaction risk scoring for the demo fraud-check
// path.
//
// Every fraud check maps a transaction onto a 0-100 risk score: a monotonic
// base score derived from the amount band, plus bounded additive perturbation
// from configured risk factors. Scores above the threshold flag the
// transaction. Scoring is deterministic for a given input and random seed so
// demo scenarios are reproducible.
package fraud

import (
	"context"
	"fmt"
	"time"
)

// Status is the classification assigned to a scored transaction.
type Status string

const (
	StatusApproved Status = "approved"
	StatusFlagged  Status = "flagged"
)

// Default scoring parameters.
const (
	DefaultThreshold = 70.0
)

// Transaction is the immutable input to a fraud check.
type Transaction struct {
	TransactionID string    `json:"transaction_id"`
	Amount        float64   `json:"amount"`
	MerchantID    string    `json:"merchant_id,omitempty"`
	Currency      string    `json:"currency"`
	Timestamp     time.Time `json:"timestamp"`
}

// RiskFactor is one named additive contribution to the final score.
type RiskFactor struct {
	Name         string  `json:"name"`
	Contribution float64 `json:"contribution"`
}

// RiskAssessment is the result of evaluating a single transaction.
// Never mutated after creation. EvaluatedAt records when the evaluation
// happened; every other field is reproducible from the transaction and
// the scoring seed.
type RiskAssessment struct {
	ID             string       `json:"id"`
	TransactionID  string       `json:"transaction_id"`
	MerchantID     string       `json:"merchant_id,omitempty"`
	Amount         float64      `json:"amount"`
	RiskScore      float64      `json:"risk_score"`
	Status         Status       `json:"status"`
	RiskFactors    []RiskFactor `json:"risk_factors"`
	Recommendation string       `json:"recommendation"`
	EvaluatedAt    time.Time    `json:"evaluated_at"`
}

// InvalidInputError rejects bad transaction data before any span is opened.
type InvalidInputError struct {
	Field  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid transaction input: %s %s", e.Field, e.Reason)
}

// Store persists risk assessments for audit trail.
type Store interface {
	Record(ctx context.Context, assessment *RiskAssessment) error
	ListByMerchant(ctx context.Context, merchantID string, limit int) ([]*RiskAssessment, error)
}
