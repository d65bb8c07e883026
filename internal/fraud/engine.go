package fraud

import (
	"context"
	"encoding/hex"
	"math"
	"math/rand"
	"sort"
	"time"
)

// Base score range covered by the amount bands. Amounts past the last
// boundary climb from bandCeil toward bandCeil+tailRange on a log10 scale.
const (
	bandFloor = 10.0
	bandCeil  = 60.0
	tailRange = 15.0
)

// Engine scores transactions against configured bands and factor weights.
// Assess is pure: identical inputs plus an identically-seeded rng always
// produce the same assessment.
type Engine struct {
	threshold   float64
	boundaries  []float64 // ascending amount cutoffs
	weights     map[string]float64
	factorNames []string // sorted, so perturbation draws are ordered
	store       Store
}

// NewEngine creates a risk scoring engine backed by the given audit store.
func NewEngine(store Store) *Engine {
	e := &Engine{
		threshold: DefaultThreshold,
		store:     store,
	}
	e.setBoundaries([]float64{50, 1000})
	e.setWeights(map[string]float64{
		"merchant_category": 10,
		"velocity":          8,
		"location":          6,
	})
	return e
}

// WithThreshold overrides the flag threshold.
func (e *Engine) WithThreshold(t float64) *Engine {
	e.threshold = t
	return e
}

// WithBandBoundaries overrides the amount cutoffs between risk bands.
// Boundaries must be ascending.
func (e *Engine) WithBandBoundaries(bounds []float64) *Engine {
	e.setBoundaries(bounds)
	return e
}

// WithFactorWeights overrides the risk factor weight map.
func (e *Engine) WithFactorWeights(weights map[string]float64) *Engine {
	e.setWeights(weights)
	return e
}

// Threshold returns the configured flag threshold.
func (e *Engine) Threshold() float64 { return e.threshold }

func (e *Engine) setBoundaries(bounds []float64) {
	e.boundaries = append([]float64(nil), bounds...)
}

func (e *Engine) setWeights(weights map[string]float64) {
	e.weights = make(map[string]float64, len(weights))
	names := make([]string, 0, len(weights))
	for name, w := range weights {
		e.weights[name] = w
		names = append(names, name)
	}
	sort.Strings(names)
	e.factorNames = names
}

// Assess evaluates a transaction and returns a risk assessment.
// rng supplies the factor perturbation; pass a seeded source for
// reproducible results, or nil for a wall-clock seed.
func (e *Engine) Assess(tx Transaction, rng *rand.Rand) (*RiskAssessment, error) {
	if tx.TransactionID == "" {
		return nil, &InvalidInputError{Field: "transaction_id", Reason: "must not be empty"}
	}
	if tx.Amount <= 0 {
		return nil, &InvalidInputError{Field: "amount", Reason: "must be positive"}
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	score := e.baseScore(tx.Amount)

	// One draw per factor, in sorted name order, so the same seed always
	// yields the same contributions.
	factors := make([]RiskFactor, 0, len(e.factorNames))
	for _, name := range e.factorNames {
		contribution := round2(e.weights[name] * rng.Float64())
		factors = append(factors, RiskFactor{Name: name, Contribution: contribution})
		score += contribution
	}

	score = round2(clamp(score, 0, 100))

	// The ID comes from the same rng, drawn after the factor contributions,
	// so a seeded run reproduces the whole assessment, not just the score.
	var idBytes [12]byte
	_, _ = rng.Read(idBytes[:])
	id := "risk_" + hex.EncodeToString(idBytes[:])

	status := StatusApproved
	recommendation := "approve"
	if score > e.threshold {
		status = StatusFlagged
		recommendation = "review"
	}

	assessment := &RiskAssessment{
		ID:             id,
		TransactionID:  tx.TransactionID,
		MerchantID:     tx.MerchantID,
		Amount:         tx.Amount,
		RiskScore:      score,
		Status:         status,
		RiskFactors:    factors,
		Recommendation: recommendation,
		EvaluatedAt:    time.Now().UTC(),
	}

	// Persist asynchronously (best-effort audit trail)
	if e.store != nil {
		go func() {
			_ = e.store.Record(context.Background(), assessment)
		}()
	}

	return assessment, nil
}

// baseScore maps amount onto [bandFloor, bandCeil+tailRange] monotonically.
// Within each finite band the score ramps linearly between the band's floor
// and the next band's floor; past the last boundary it climbs on a log10
// scale toward the maximum.
func (e *Engine) baseScore(amount float64) float64 {
	n := len(e.boundaries)
	if n == 0 {
		return bandFloor
	}

	step := (bandCeil - bandFloor) / float64(n)

	lo := 0.0
	for i, hi := range e.boundaries {
		if amount < hi {
			floor := bandFloor + step*float64(i)
			return floor + (amount-lo)/(hi-lo)*step
		}
		lo = hi
	}

	// Past the last boundary: bandCeil plus a capped log tail.
	tail := tailRange * math.Log10(amount/e.boundaries[n-1])
	if tail > tailRange {
		tail = tailRange
	}
	return bandCeil + tail
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
