// Package velocity provides trailing-window transaction velocity.
package velocity

import (
	"time"
)

// FirstGap is the gap assigned to a user's first transaction, in seconds.
const FirstGap = 86400.0

// Window is a named trailing time window.
type Window struct {
	Name string
	Span time.Duration
}

// Windows are the velocity windows every batch is measured over.
var Windows = []Window{
	{Name: "1min", Span: time.Minute},
	{Name: "5min", Span: 5 * time.Minute},
	{Name: "15min", Span: 15 * time.Minute},
	{Name: "1h", Span: time.Hour},
	{Name: "6h", Span: 6 * time.Hour},
	{Name: "24h", Span: 24 * time.Hour},
}

// Stats holds, per event, the count and amount total of the events inside its window.
type Stats struct {
	Counts []float64
	Sums   []float64
}

// Trailing computes window stats over (t-span, t] for each event of one entity.
// The event itself is always included. times must be ascending.
func Trailing(times []time.Time, amounts []float64, span time.Duration) Stats {
	n := len(times)
	st := Stats{
		Counts: make([]float64, n),
		Sums:   make([]float64, n),
	}

	lo := 0
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += amounts[i]
		cutoff := times[i].Add(-span)
		for lo < i && !times[lo].After(cutoff) {
			sum -= amounts[lo]
			lo++
		}
		st.Counts[i] = float64(i - lo + 1)
		st.Sums[i] = sum
	}
	return st
}

// Gaps returns the seconds elapsed since the previous event, FirstGap for the first.
func Gaps(times []time.Time) []float64 {
	out := make([]float64, len(times))
	for i := range times {
		if i == 0 {
			out[i] = FirstGap
			continue
		}
		out[i] = times[i].Sub(times[i-1]).Seconds()
	}
	return out
}
