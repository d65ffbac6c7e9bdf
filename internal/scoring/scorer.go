// Package scoring maps ensemble confidence and selected raw features to a
// bounded 0-100 risk score.
package scoring

import (
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
)

// Category band lower bounds.
const (
	CriticalThreshold = 90.0
	HighThreshold     = 70.0
	MediumThreshold   = 40.0
)

// Term is one additive bonus. It contributes nothing when its features are absent.
type Term struct {
	Name  string
	Value func(row map[string]float64) float64
}

// Contribution shows how much a term added to a score.
type Contribution struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// Result is a scored record with its breakdown.
type Result struct {
	Score         float64             `json:"score"`
	Base          float64             `json:"base"`
	Category      domain.RiskCategory `json:"category"`
	Contributions []Contribution      `json:"contributions,omitempty"`
}

// Scorer computes risk scores. It holds no per-record state.
type Scorer struct {
	// Points awarded for full ensemble confidence
	BaseWeight float64

	Terms []Term
}

// NewScorer creates a scorer with the standard bonus terms.
func NewScorer() *Scorer {
	return &Scorer{
		BaseWeight: 50,
		Terms:      DefaultTerms(),
	}
}

// DefaultTerms are the velocity, amount, login, travel and new-entity bonuses.
func DefaultTerms() []Term {
	return []Term{
		{Name: "velocity", Value: func(r map[string]float64) float64 {
			return math.Min(r[features.TxnCount5Min]*2, 10)
		}},
		{Name: "amount_deviation", Value: func(r map[string]float64) float64 {
			return math.Min(math.Abs(r[features.AmountDeviation])*2, 10)
		}},
		{Name: "failed_logins", Value: func(r map[string]float64) float64 {
			return math.Min(r[features.FailedLoginAttempts]*3, 10)
		}},
		{Name: "impossible_travel", Value: func(r map[string]float64) float64 {
			if r[features.ImpossibleTravel] > 0 {
				return 10
			}
			return 0
		}},
		{Name: "new_entity", Value: func(r map[string]float64) float64 {
			v := 3*r[features.NewPayee] + 3*r[features.NewCountryForUser] + 4*r[features.DeviceChange]
			return math.Min(v, 10)
		}},
	}
}

// Score returns the clipped risk score.
func (s *Scorer) Score(confidence float64, row map[string]float64) float64 {
	return s.Evaluate(confidence, row).Score
}

// Evaluate scores one record and reports every non-zero contribution.
// Missing features read as zero, so absent groups add nothing.
func (s *Scorer) Evaluate(confidence float64, row map[string]float64) Result {
	res := Result{Base: confidence * s.BaseWeight}
	total := res.Base
	for _, t := range s.Terms {
		v := t.Value(row)
		if v == 0 || math.IsNaN(v) {
			continue
		}
		total += v
		res.Contributions = append(res.Contributions, Contribution{Name: t.Name, Value: v})
	}
	res.Score = Clip(total)
	res.Category = Category(res.Score)
	return res
}

// Clip bounds a score to [0,100].
func Clip(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(100, v))
}

// Category maps a score to its band.
func Category(score float64) domain.RiskCategory {
	switch {
	case score >= CriticalThreshold:
		return domain.RiskCritical
	case score >= HighThreshold:
		return domain.RiskHigh
	case score >= MediumThreshold:
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}
