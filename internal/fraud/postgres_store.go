package fraud

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// PostgresStore persists risk assessments in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed assessment store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the fraud_assessments table if it doesn't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS fraud_assessments (
			id              VARCHAR(36) PRIMARY KEY,
			transaction_id  VARCHAR(64) NOT NULL,
			merchant_id     VARCHAR(64),
			amount          NUMERIC(14,2) NOT NULL CHECK (amount > 0),
			risk_score      NUMERIC(5,2) NOT NULL CHECK (risk_score >= 0 AND risk_score <= 100),
			status          VARCHAR(10) NOT NULL CHECK (status IN ('approved', 'flagged')),
			risk_factors    JSONB NOT NULL DEFAULT '[]',
			recommendation  VARCHAR(10) NOT NULL,
			evaluated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_fraud_assessments_merchant
			ON fraud_assessments (merchant_id, evaluated_at DESC);

		CREATE INDEX IF NOT EXISTS idx_fraud_assessments_flagged
			ON fraud_assessments (evaluated_at DESC) WHERE status = 'flagged';
	`)
	return err
}

func (s *PostgresStore) Record(ctx context.Context, assessment *RiskAssessment) error {
	factorsJSON, err := json.Marshal(assessment.RiskFactors)
	if err != nil {
		return fmt.Errorf("failed to marshal risk factors: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO fraud_assessments
			(id, transaction_id, merchant_id, amount, risk_score, status, risk_factors, recommendation, evaluated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		assessment.ID,
		assessment.TransactionID,
		assessment.MerchantID,
		assessment.Amount,
		assessment.RiskScore,
		string(assessment.Status),
		factorsJSON,
		assessment.Recommendation,
		assessment.EvaluatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record assessment: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByMerchant(ctx context.Context, merchantID string, limit int) ([]*RiskAssessment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, transaction_id, merchant_id, amount, risk_score, status, risk_factors, recommendation, evaluated_at
		FROM fraud_assessments
		WHERE merchant_id = $1
		ORDER BY evaluated_at DESC
		LIMIT $2
	`, merchantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list assessments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*RiskAssessment
	for rows.Next() {
		var a RiskAssessment
		var factorsJSON []byte
		var evaluatedAt time.Time

		if err := rows.Scan(&a.ID, &a.TransactionID, &a.MerchantID, &a.Amount,
			&a.RiskScore, &a.Status, &factorsJSON, &a.Recommendation, &evaluatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan assessment: %w", err)
		}
		a.EvaluatedAt = evaluatedAt
		if err := json.Unmarshal(factorsJSON, &a.RiskFactors); err != nil {
			return nil, fmt.Errorf("failed to decode risk factors: %w", err)
		}
		result = append(result, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list assessments: %w", err)
	}
	return result, nil
}
