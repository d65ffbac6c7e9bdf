package ensemble

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/opensource-finance/kestrel/internal/stats"
)

// Scaler centers and scales each column independently.
type Scaler struct {
	Center []float64
	Scale  []float64
}

// FitRobust centers on the median and scales by the interquartile range.
func FitRobust(x [][]float64) *Scaler {
	p := width(x)
	s := &Scaler{Center: make([]float64, p), Scale: make([]float64, p)}
	for j := 0; j < p; j++ {
		col := stats.Sorted(column(x, j))
		s.Center[j] = stats.Percentile(col, 50)
		s.Scale[j] = nonZero(stats.Percentile(col, 75) - stats.Percentile(col, 25))
	}
	return s
}

// FitStandard centers on the mean and scales by the population standard deviation.
func FitStandard(x [][]float64) *Scaler {
	p := width(x)
	s := &Scaler{Center: make([]float64, p), Scale: make([]float64, p)}
	for j := 0; j < p; j++ {
		mean, variance := stat.PopMeanVariance(column(x, j), nil)
		s.Center[j] = mean
		s.Scale[j] = nonZero(math.Sqrt(variance))
	}
	return s
}

// Transform returns a scaled copy of x.
func (s *Scaler) Transform(x [][]float64) [][]float64 {
	out := make([][]float64, len(x))
	for i, row := range x {
		r := make([]float64, len(row))
		for j, v := range row {
			r[j] = (v - s.Center[j]) / s.Scale[j]
		}
		out[i] = r
	}
	return out
}

func nonZero(v float64) float64 {
	if v == 0 || !stats.Finite(v) {
		return 1
	}
	return v
}

func width(x [][]float64) int {
	if len(x) == 0 {
		return 0
	}
	return len(x[0])
}

func column(x [][]float64, j int) []float64 {
	out := make([]float64, len(x))
	for i, row := range x {
		out[i] = row[j]
	}
	return out
}
