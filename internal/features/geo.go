package features

import (
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/stats"
)

const (
	earthRadiusKm = 6371.0

	// Faster than a commercial flight.
	impossibleSpeedKmh = 900.0
)

// Haversine returns the great-circle distance in kilometres.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	a := math.Pow(math.Sin(dLat/2), 2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Pow(math.Sin(dLon/2), 2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(a))
}

func geoFeatures(f *frame) {
	dist := f.column()
	speed := f.column()
	for _, u := range f.users {
		for i := u.start + 1; i < u.end; i++ {
			cur, prev := f.recs[i], f.recs[i-1]
			if !hasPoint(cur) || !hasPoint(prev) {
				continue
			}
			dist[i] = Haversine(*prev.Latitude, *prev.Longitude, *cur.Latitude, *cur.Longitude)
		}
	}
	for i := range dist {
		speed[i] = dist[i] / (f.gaps[i]/3600 + eps)
	}

	f.m.Set(GeoDistanceKm, dist)
	f.m.Set("implied_speed_kmh", speed)
	f.m.Set(ImpossibleTravel, mapColumn(speed, func(s float64) float64 { return flag(s > impossibleSpeedKmh) }))

	latStd := f.broadcast(func(u span) float64 { return f.spread(u, func(t *domain.Transaction) *float64 { return t.Latitude }) })
	lonStd := f.broadcast(func(u span) float64 { return f.spread(u, func(t *domain.Transaction) *float64 { return t.Longitude }) })
	f.m.Set("lat_std", latStd)
	f.m.Set("lon_std", lonStd)

	entropy := f.column()
	for i := range entropy {
		entropy[i] = math.Hypot(latStd[i], lonStd[i])
	}
	f.m.Set("geo_entropy", entropy)
}

func hasPoint(t *domain.Transaction) bool {
	return t.Latitude != nil && t.Longitude != nil
}

// spread is the sample std of a user's present coordinate values, 0 if undefined.
func (f *frame) spread(u span, get func(*domain.Transaction) *float64) float64 {
	var vals []float64
	for i := u.start; i < u.end; i++ {
		if v := get(f.recs[i]); v != nil {
			vals = append(vals, *v)
		}
	}
	s := stats.SampleStd(vals)
	if math.IsNaN(s) {
		return 0
	}
	return s
}
