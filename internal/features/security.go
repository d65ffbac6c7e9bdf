package features

import (
	"github.com/opensource-finance/kestrel/internal/domain"
)

// numeric reads an optional numeric field, treating missing as zero.
func (f *frame) numeric(get func(*domain.Transaction) *float64) []float64 {
	out := f.column()
	for i, r := range f.recs {
		if v := get(r); v != nil {
			out[i] = *v
		}
	}
	return out
}

// securityFeatures are always produced; absent columns read as zero.
func securityFeatures(f *frame) {
	failed := f.numeric(func(t *domain.Transaction) *float64 { return t.FailedLoginAttempts })
	f.m.Set(FailedLoginAttempts, failed)
	f.m.Set("has_failed_logins", mapColumn(failed, func(x float64) float64 { return flag(x > 0) }))
	f.m.Set(HighFailedLogins, mapColumn(failed, func(x float64) float64 { return flag(x >= 3) }))

	nonZero := func(x float64) float64 { return flag(x != 0) }
	f.m.Set("profile_updated", mapColumn(f.numeric(func(t *domain.Transaction) *float64 { return t.ProfileUpdated }), nonZero))
	f.m.Set(NewPayee, mapColumn(f.numeric(func(t *domain.Transaction) *float64 { return t.IsNewPayee }), nonZero))
}

func cardFeatures(f *frame) {
	out := f.column()
	for i, r := range f.recs {
		out[i] = flag(r.IsCardPresent != nil && *r.IsCardPresent == 0)
	}
	f.m.Set(CardNotPresent, out)
}
