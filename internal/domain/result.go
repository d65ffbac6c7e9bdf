package domain

import (
	"time"
)

// RiskCategory is the band a risk score falls into.
type RiskCategory string

const (
	RiskLow      RiskCategory = "Low"
	RiskMedium   RiskCategory = "Medium"
	RiskHigh     RiskCategory = "High"
	RiskCritical RiskCategory = "Critical"
)

// NormalExplanation is the explanation given to every non-anomalous record.
const NormalExplanation = "Normal transaction"

// Votes holds the binary output of each ensemble member.
type Votes struct {
	Forest     bool `json:"forest"`
	Density    bool `json:"density"`
	Covariance bool `json:"covariance"`
}

// ScoredRecord carries a transaction together with everything derived for it.
type ScoredRecord struct {
	Transaction *Transaction       `json:"-"`
	Features    map[string]float64 `json:"-"`

	TransactionID string    `json:"transaction_id"`
	UserID        string    `json:"user_id"`
	Timestamp     time.Time `json:"timestamp"`
	Amount        float64   `json:"amount"`

	IsAnomaly    bool         `json:"is_anomaly"`
	Confidence   float64      `json:"confidence"`
	Votes        Votes        `json:"votes"`
	RiskScore    float64      `json:"risk_score"`
	RiskCategory RiskCategory `json:"risk_category"`
	Explanation  string       `json:"explanation"`
}

// RiskDistribution counts records per risk category.
type RiskDistribution struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
}

// Add counts one record of the given category.
func (d *RiskDistribution) Add(c RiskCategory) {
	switch c {
	case RiskCritical:
		d.Critical++
	case RiskHigh:
		d.High++
	case RiskMedium:
		d.Medium++
	default:
		d.Low++
	}
}

// FeatureScore pairs a feature with its importance.
type FeatureScore struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// Report is the aggregate summary of a detection run.
type Report struct {
	RunID               string           `json:"run_id,omitempty"`
	TotalTransactions   int              `json:"total_transactions"`
	FlaggedTransactions int              `json:"flagged_transactions"`
	FlaggedPercentage   float64          `json:"flagged_percentage"`
	AverageRiskScore    float64          `json:"average_risk_score"`
	RiskDistribution    RiskDistribution `json:"risk_distribution"`
	TopRiskFactors      []string         `json:"top_risk_factors"`
	FeatureImportance   []FeatureScore   `json:"feature_importance,omitempty"`
	DroppedRecords      int              `json:"dropped_records"`
	FeatureCount        int              `json:"feature_count"`
	Timestamp           time.Time        `json:"timestamp"`
	Charts              *Charts          `json:"charts,omitempty"`
}

// Charts is the data a rendering layer needs to draw the run overview.
type Charts struct {
	RiskHistogram    []HistogramBin `json:"risk_histogram"`
	Hourly           []HourlyCount  `json:"hourly"`
	Categories       map[string]int `json:"categories"`
	TopFeatures      []FeatureScore `json:"top_features"`
	AnomalyBreakdown map[string]int `json:"anomaly_breakdown"`
}

// HistogramBin is one bucket of the risk score histogram.
type HistogramBin struct {
	Lower   float64 `json:"lower"`
	Upper   float64 `json:"upper"`
	Normal  int     `json:"normal"`
	Anomaly int     `json:"anomaly"`
}

// HourlyCount holds per-hour totals.
type HourlyCount struct {
	Hour    int `json:"hour"`
	All     int `json:"all"`
	Anomaly int `json:"anomaly"`
}
