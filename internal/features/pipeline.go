package features

import (
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/stats"
	"github.com/opensource-finance/kestrel/internal/velocity"
)

// Feature names read by the scorer and the explanation rules.
const (
	LogAmount             = "log_amount"
	TxnCount5Min          = "txn_count_5min"
	AmountDeviation       = "amount_deviation_from_user"
	FailedLoginAttempts   = "failed_login_attempts"
	HighFailedLogins      = "high_failed_logins"
	ImpossibleTravel      = "is_impossible_travel"
	GeoDistanceKm         = "geo_distance_km"
	NewPayee              = "is_new_payee"
	NewCountryForUser     = "is_new_country_for_user"
	DeviceChange          = "device_change"
	NewIPForUser          = "is_new_ip_for_user"
	NewMerchantForUser    = "is_new_merchant_for_user"
	CardNotPresent        = "card_not_present"
	IsNight               = "is_night"
	DeviceShared          = "is_device_shared"
	FirstTransaction      = "is_first_transaction"
	Hour                  = "hour"
	MerchantCategoryCodes = "merchant_category_encoded"
)

// group is one feature family, produced only when its inputs are present.
type group struct {
	name    string
	enabled func(domain.Schema) bool
	build   func(*frame)
}

var groups = []group{
	{"amount", always, amountFeatures},
	{"temporal", always, temporalFeatures},
	{"velocity", always, velocityFeatures},
	{"behavior", always, behaviorFeatures},
	{"merchant_category", has(domain.FieldMerchantCategory), merchantCategoryFeatures},
	{"merchant_id", has(domain.FieldMerchantID), merchantIDFeatures},
	{"country", has(domain.FieldCountry), countryFeatures},
	{"location_region", has(domain.FieldLocationRegion), regionFeatures},
	{"geo", domain.Schema.HasGeo, geoFeatures},
	{"device", has(domain.FieldDeviceID), deviceFeatures},
	{"browser", has(domain.FieldBrowserFingerprint), browserFeatures},
	{"ip", has(domain.FieldIPAddress), ipFeatures},
	{"security", always, securityFeatures},
	{"channel", has(domain.FieldChannel), channelFeatures},
	{"card", always, cardFeatures},
	{"currency", has(domain.FieldCurrency), currencyFeatures},
	{"network", has(domain.FieldDeviceID), networkFeatures},
	{"rolling", always, rollingFeatures},
}

func always(domain.Schema) bool { return true }

func has(f domain.Field) func(domain.Schema) bool {
	return func(s domain.Schema) bool { return s.Has(f) }
}

// EnabledGroups lists the feature groups a schema turns on.
func EnabledGroups(s domain.Schema) []string {
	var out []string
	for _, g := range groups {
		if g.enabled(s) {
			out = append(out, g.name)
		}
	}
	return out
}

// span is the contiguous run of one user's records in a sorted batch.
type span struct {
	start, end int
}

// frame holds the shared per-batch inputs every group reads from.
type frame struct {
	recs    []*domain.Transaction
	schema  domain.Schema
	users   []span
	times   []time.Time
	amounts []float64
	gaps    []float64
	m       *Matrix
}

func newFrame(b *Batch) *frame {
	n := len(b.Records)
	f := &frame{
		recs:    b.Records,
		schema:  b.Schema,
		times:   make([]time.Time, n),
		amounts: make([]float64, n),
		gaps:    make([]float64, n),
		m:       NewMatrix(n),
	}
	for i, r := range b.Records {
		f.times[i] = r.Timestamp
		f.amounts[i] = r.Amount
	}

	start := 0
	for i := 1; i <= n; i++ {
		if i == n || b.Records[i].UserID != b.Records[start].UserID {
			f.users = append(f.users, span{start, i})
			start = i
		}
	}

	for _, u := range f.users {
		copy(f.gaps[u.start:u.end], velocity.Gaps(f.times[u.start:u.end]))
	}
	return f
}

// Build derives the feature matrix for a batch. Rows follow the batch order.
func Build(b *Batch) *Matrix {
	f := newFrame(b)
	for _, g := range groups {
		if g.enabled(b.Schema) {
			g.build(f)
		}
	}
	f.m.sanitize()

	slog.Debug("features built",
		"records", f.m.Rows(),
		"features", len(f.m.Names()),
		"users", len(f.users),
	)
	return f.m
}

// sanitize replaces every NaN and infinity with zero.
func (m *Matrix) sanitize() {
	for _, name := range m.names {
		col := m.cols[name]
		for i, v := range col {
			if !stats.Finite(v) {
				col[i] = 0
			}
		}
	}
}

func (f *frame) column() []float64 {
	return make([]float64, len(f.recs))
}

// broadcast fills each user's span with one per-user value.
func (f *frame) broadcast(fn func(s span) float64) []float64 {
	out := f.column()
	for _, u := range f.users {
		v := fn(u)
		for i := u.start; i < u.end; i++ {
			out[i] = v
		}
	}
	return out
}

func flag(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func mapColumn(col []float64, fn func(float64) float64) []float64 {
	out := make([]float64, len(col))
	for i, v := range col {
		out[i] = fn(v)
	}
	return out
}
