package features

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/opensource-finance/kestrel/internal/stats"
)

const eps = 1e-6

func amountFeatures(f *frame) {
	amt := f.amounts
	f.m.Set("amount", append([]float64(nil), amt...))
	f.m.Set(LogAmount, mapColumn(amt, math.Log1p))
	f.m.Set("sqrt_amount", mapColumn(amt, math.Sqrt))
	f.m.Set("amount_squared", mapColumn(amt, func(x float64) float64 { return x * x }))

	vsMedian := f.column()
	vsMax := f.column()
	for _, u := range f.users {
		vals := amt[u.start:u.end]
		med := stats.Median(vals)
		sd := stats.SampleStd(vals)
		mx := floats.Max(vals)
		for i := u.start; i < u.end; i++ {
			vsMedian[i] = (amt[i] - med) / (sd + eps)
			vsMax[i] = amt[i] / (mx + eps)
		}
	}
	f.m.Set("amount_vs_user_median", vsMedian)
	f.m.Set("amount_vs_user_max", vsMax)

	mean := stat.Mean(amt, nil)
	sd := stats.SampleStd(amt)
	f.m.Set("amount_zscore", mapColumn(amt, func(x float64) float64 { return (x - mean) / (sd + eps) }))
	f.m.Set("amount_percentile", stats.PctRank(amt))
}

func behaviorFeatures(f *frame) {
	amt := f.amounts
	count := f.column()
	for _, u := range f.users {
		for i := u.start; i < u.end; i++ {
			count[i] = float64(i - u.start + 1)
		}
	}
	f.m.Set("user_txn_count", count)
	f.m.Set(FirstTransaction, mapColumn(count, func(c float64) float64 { return flag(c == 1) }))

	avg := f.broadcast(func(u span) float64 { return stat.Mean(amt[u.start:u.end], nil) })
	sd := f.broadcast(func(u span) float64 {
		s := stats.SampleStd(amt[u.start:u.end])
		if math.IsNaN(s) {
			return 0
		}
		return s
	})
	f.m.Set("user_avg_amount", avg)
	f.m.Set("user_std_amount", sd)
	f.m.Set("user_max_amount", f.broadcast(func(u span) float64 { return floats.Max(amt[u.start:u.end]) }))
	f.m.Set("user_min_amount", f.broadcast(func(u span) float64 { return floats.Min(amt[u.start:u.end]) }))

	dev := f.column()
	for i := range dev {
		dev[i] = (amt[i] - avg[i]) / (sd[i] + eps)
	}
	f.m.Set(AmountDeviation, dev)
}

// rollingFeatures summarises each user's last ten transactions, current included.
func rollingFeatures(f *frame) {
	const window = 10
	amt := f.amounts
	mean := f.column()
	std := f.column()
	for _, u := range f.users {
		for i := u.start; i < u.end; i++ {
			lo := i - window + 1
			if lo < u.start {
				lo = u.start
			}
			vals := amt[lo : i+1]
			mean[i] = stat.Mean(vals, nil)
			if s := stats.SampleStd(vals); !math.IsNaN(s) {
				std[i] = s
			}
		}
	}
	f.m.Set("rolling_mean_10", mean)
	f.m.Set("rolling_std_10", std)
}
