package features

import (
	"sort"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// A missing categorical cell has no frequency, code -1 and never counts
// as a first occurrence.

func (f *frame) categorical(get func(*domain.Transaction) string) []string {
	out := make([]string, len(f.recs))
	for i, r := range f.recs {
		out[i] = get(r)
	}
	return out
}

func valueCounts(vals []string) map[string]int {
	counts := make(map[string]int)
	for _, v := range vals {
		if v != "" {
			counts[v]++
		}
	}
	return counts
}

func frequency(vals []string, counts map[string]int) []float64 {
	out := make([]float64, len(vals))
	for i, v := range vals {
		if v != "" {
			out[i] = float64(counts[v])
		}
	}
	return out
}

// rarity flags present values seen fewer than limit times in the batch.
func rarity(vals []string, counts map[string]int, limit int) []float64 {
	out := make([]float64, len(vals))
	for i, v := range vals {
		out[i] = flag(v != "" && counts[v] < limit)
	}
	return out
}

// categoryCodes maps each value to its index among the sorted distinct values.
func categoryCodes(vals []string) []float64 {
	counts := valueCounts(vals)
	levels := make([]string, 0, len(counts))
	for v := range counts {
		levels = append(levels, v)
	}
	sort.Strings(levels)
	code := make(map[string]float64, len(levels))
	for i, v := range levels {
		code[v] = float64(i)
	}

	out := make([]float64, len(vals))
	for i, v := range vals {
		if v == "" {
			out[i] = -1
			continue
		}
		out[i] = code[v]
	}
	return out
}

// occurrence numbers each (user, value) pair from 1 in time order.
func (f *frame) occurrence(vals []string) []float64 {
	out := f.column()
	for _, u := range f.users {
		seen := make(map[string]int)
		for i := u.start; i < u.end; i++ {
			if vals[i] == "" {
				continue
			}
			seen[vals[i]]++
			out[i] = float64(seen[vals[i]])
		}
	}
	return out
}

func firstSeen(occ []float64) []float64 {
	return mapColumn(occ, func(c float64) float64 { return flag(c == 1) })
}

// distinctPerUser counts the distinct present values each user has.
func (f *frame) distinctPerUser(vals []string) []float64 {
	return f.broadcast(func(u span) float64 {
		return float64(len(valueCounts(vals[u.start:u.end])))
	})
}

// usersPerValue counts the distinct users behind each present value.
func (f *frame) usersPerValue(vals []string) []float64 {
	users := make(map[string]map[string]struct{})
	for i, v := range vals {
		if v == "" {
			continue
		}
		if users[v] == nil {
			users[v] = make(map[string]struct{})
		}
		users[v][f.recs[i].UserID] = struct{}{}
	}
	out := f.column()
	for i, v := range vals {
		if v != "" {
			out[i] = float64(len(users[v]))
		}
	}
	return out
}

func merchantCategoryFeatures(f *frame) {
	vals := f.categorical(func(t *domain.Transaction) string { return t.MerchantCategory })
	freq := frequency(vals, valueCounts(vals))
	n := float64(len(vals))
	f.m.Set("merchant_category_freq", freq)
	f.m.Set("merchant_category_freq_normalized", mapColumn(freq, func(x float64) float64 { return x / n }))

	occ := f.occurrence(vals)
	f.m.Set("user_category_count", occ)
	f.m.Set("is_new_category_for_user", firstSeen(occ))
	f.m.Set(MerchantCategoryCodes, categoryCodes(vals))
}

func merchantIDFeatures(f *frame) {
	vals := f.categorical(func(t *domain.Transaction) string { return t.MerchantID })
	counts := valueCounts(vals)
	f.m.Set("merchant_id_freq", frequency(vals, counts))
	f.m.Set("is_rare_merchant", rarity(vals, counts, 10))

	occ := f.occurrence(vals)
	f.m.Set("user_merchant_count", occ)
	f.m.Set(NewMerchantForUser, firstSeen(occ))
}

func countryFeatures(f *frame) {
	vals := f.categorical(func(t *domain.Transaction) string { return t.Country })
	counts := valueCounts(vals)
	f.m.Set("country_freq", frequency(vals, counts))
	f.m.Set("is_rare_country", rarity(vals, counts, 50))
	f.m.Set("country_encoded", categoryCodes(vals))

	occ := f.occurrence(vals)
	f.m.Set("user_country_count", occ)
	f.m.Set(NewCountryForUser, firstSeen(occ))
}

func regionFeatures(f *frame) {
	vals := f.categorical(func(t *domain.Transaction) string { return t.LocationRegion })
	f.m.Set("location_region_encoded", categoryCodes(vals))
}

func deviceFeatures(f *frame) {
	vals := f.categorical(func(t *domain.Transaction) string { return t.DeviceID })
	counts := valueCounts(vals)
	f.m.Set("device_freq", frequency(vals, counts))
	f.m.Set("is_rare_device", rarity(vals, counts, 5))
	f.m.Set(DeviceChange, firstSeen(f.occurrence(vals)))

	perUser := f.distinctPerUser(vals)
	f.m.Set("user_device_count", perUser)
	f.m.Set("is_multi_device_user", mapColumn(perUser, func(c float64) float64 { return flag(c > 3) }))
}

func browserFeatures(f *frame) {
	vals := f.categorical(func(t *domain.Transaction) string { return t.BrowserFingerprint })
	f.m.Set("browser_change", firstSeen(f.occurrence(vals)))
}

func ipFeatures(f *frame) {
	vals := f.categorical(func(t *domain.Transaction) string { return t.IPAddress })
	entropy := f.column()
	for i, v := range vals {
		chars := make(map[rune]struct{})
		for _, c := range v {
			chars[c] = struct{}{}
		}
		entropy[i] = float64(len(chars))
	}
	f.m.Set("ip_entropy", entropy)

	counts := valueCounts(vals)
	f.m.Set("ip_freq", frequency(vals, counts))
	f.m.Set("is_rare_ip", rarity(vals, counts, 5))
	f.m.Set("user_ip_count", f.distinctPerUser(vals))
	f.m.Set(NewIPForUser, firstSeen(f.occurrence(vals)))

	users := f.usersPerValue(vals)
	f.m.Set("users_per_ip", users)
	f.m.Set("is_shared_ip", mapColumn(users, func(c float64) float64 { return flag(c > 5) }))
}

func channelFeatures(f *frame) {
	vals := f.categorical(func(t *domain.Transaction) string { return t.Channel })
	f.m.Set("channel_encoded", categoryCodes(vals))
	f.m.Set("channel_freq", frequency(vals, valueCounts(vals)))
}

func currencyFeatures(f *frame) {
	vals := f.categorical(func(t *domain.Transaction) string { return t.Currency })
	f.m.Set("currency_encoded", categoryCodes(vals))
	if !f.schema.Has(domain.FieldCountry) {
		return
	}
	foreign := f.column()
	for i, r := range f.recs {
		foreign[i] = flag(r.Currency != "" && r.Country != "" && r.Currency != r.Country)
	}
	f.m.Set("is_foreign_currency", foreign)
}

func networkFeatures(f *frame) {
	devices := f.categorical(func(t *domain.Transaction) string { return t.DeviceID })
	size := f.usersPerValue(devices)
	f.m.Set("device_user_network_size", size)
	f.m.Set(DeviceShared, mapColumn(size, func(c float64) float64 { return flag(c > 3) }))

	if !f.schema.Has(domain.FieldIPAddress) {
		return
	}
	pairs := make([]string, len(f.recs))
	for i, r := range f.recs {
		if r.IPAddress != "" && r.DeviceID != "" {
			pairs[i] = r.IPAddress + "_" + r.DeviceID
		}
	}
	f.m.Set("ip_device_pair_freq", frequency(pairs, valueCounts(pairs)))
}
