package detector

import (
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const histogramBins = 10

// NewReport aggregates scored records. Importance is expected in ranked order.
func NewReport(records []*domain.ScoredRecord, importance []domain.FeatureScore, dropped, featureCount, topN int) *domain.Report {
	r := &domain.Report{
		TotalTransactions: len(records),
		DroppedRecords:    dropped,
		FeatureCount:      featureCount,
		Timestamp:         time.Now().UTC(),
	}

	var riskSum float64
	for _, rec := range records {
		if rec.IsAnomaly {
			r.FlaggedTransactions++
		}
		riskSum += rec.RiskScore
		r.RiskDistribution.Add(rec.RiskCategory)
	}
	if len(records) > 0 {
		r.FlaggedPercentage = float64(r.FlaggedTransactions) / float64(len(records)) * 100
		r.AverageRiskScore = riskSum / float64(len(records))
	}

	top := importance[:min(topN, len(importance))]
	r.FeatureImportance = append([]domain.FeatureScore(nil), top...)
	r.TopRiskFactors = make([]string, len(top))
	for i, f := range top {
		r.TopRiskFactors[i] = f.Name
	}

	r.Charts = NewCharts(records, r.FeatureImportance)
	return r
}

// NewCharts derives the data behind the run overview charts.
func NewCharts(records []*domain.ScoredRecord, top []domain.FeatureScore) *domain.Charts {
	c := &domain.Charts{
		RiskHistogram: make([]domain.HistogramBin, histogramBins),
		Hourly:        make([]domain.HourlyCount, 24),
		Categories: map[string]int{
			string(domain.RiskCritical): 0,
			string(domain.RiskHigh):     0,
			string(domain.RiskMedium):   0,
			string(domain.RiskLow):      0,
		},
		TopFeatures:      top,
		AnomalyBreakdown: map[string]int{"anomaly": 0, "normal": 0},
	}

	width := 100.0 / histogramBins
	for i := range c.RiskHistogram {
		c.RiskHistogram[i].Lower = float64(i) * width
		c.RiskHistogram[i].Upper = float64(i+1) * width
	}
	for h := range c.Hourly {
		c.Hourly[h].Hour = h
	}

	for _, rec := range records {
		bin := min(int(rec.RiskScore/width), histogramBins-1)
		bin = max(bin, 0)
		hour := rec.Timestamp.Hour()
		c.Hourly[hour].All++
		c.Categories[string(rec.RiskCategory)]++

		if rec.IsAnomaly {
			c.RiskHistogram[bin].Anomaly++
			c.Hourly[hour].Anomaly++
			c.AnomalyBreakdown["anomaly"]++
		} else {
			c.RiskHistogram[bin].Normal++
			c.AnomalyBreakdown["normal"]++
		}
	}
	return c
}

// HighRisk returns the records at or above the threshold, in input order.
func HighRisk(records []*domain.ScoredRecord, threshold float64) []*domain.ScoredRecord {
	var out []*domain.ScoredRecord
	for _, rec := range records {
		if rec.RiskScore >= threshold {
			out = append(out, rec)
		}
	}
	return out
}
