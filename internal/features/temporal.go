package features

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/opensource-finance/kestrel/internal/velocity"
)

func temporalFeatures(f *frame) {
	hour := f.column()
	dow := f.column()
	dom := f.column()
	month := f.column()
	for i, t := range f.times {
		hour[i] = float64(t.Hour())
		dow[i] = float64((int(t.Weekday()) + 6) % 7) // Monday = 0
		dom[i] = float64(t.Day())
		month[i] = float64(t.Month())
	}

	f.m.Set(Hour, hour)
	f.m.Set("day_of_week", dow)
	f.m.Set("day_of_month", dom)
	f.m.Set("month", month)
	f.m.Set("is_weekend", mapColumn(dow, func(d float64) float64 { return flag(d >= 5) }))
	f.m.Set(IsNight, mapColumn(hour, func(h float64) float64 { return flag(h >= 23 || h <= 5) }))
	f.m.Set("is_business_hours", mapColumn(hour, func(h float64) float64 { return flag(h >= 9 && h <= 17) }))

	f.m.Set("hour_sin", mapColumn(hour, func(h float64) float64 { return math.Sin(2 * math.Pi * h / 24) }))
	f.m.Set("hour_cos", mapColumn(hour, func(h float64) float64 { return math.Cos(2 * math.Pi * h / 24) }))
	f.m.Set("day_sin", mapColumn(dow, func(d float64) float64 { return math.Sin(2 * math.Pi * d / 7) }))
	f.m.Set("day_cos", mapColumn(dow, func(d float64) float64 { return math.Cos(2 * math.Pi * d / 7) }))
}

func velocityFeatures(f *frame) {
	for _, w := range velocity.Windows {
		counts := f.column()
		sums := f.column()
		for _, u := range f.users {
			st := velocity.Trailing(f.times[u.start:u.end], f.amounts[u.start:u.end], w.Span)
			copy(counts[u.start:u.end], st.Counts)
			copy(sums[u.start:u.end], st.Sums)
		}
		f.m.Set("txn_count_"+w.Name, counts)
		f.m.Set("amount_sum_"+w.Name, sums)
	}

	gaps := append([]float64(nil), f.gaps...)
	f.m.Set("seconds_since_last_txn", gaps)
	f.m.Set("log_time_since_last", mapColumn(gaps, math.Log1p))

	avg := f.broadcast(func(u span) float64 { return stat.Mean(gaps[u.start:u.end], nil) })
	f.m.Set("avg_txn_interval", avg)

	dev := f.column()
	for i := range dev {
		dev[i] = (gaps[i] - avg[i]) / (avg[i] + eps)
	}
	f.m.Set("time_deviation_from_pattern", dev)
}
