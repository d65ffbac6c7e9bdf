// Package synth generates deterministic transaction tables for benchmarks
// and tests.
package synth

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Columns is the header of generated tables.
var Columns = []string{
	"transaction_id", "user_id", "timestamp", "amount",
	"merchant_category", "merchant_id", "country", "latitude", "longitude",
	"device_id", "ip_address", "failed_login_attempts", "is_new_payee",
	"transaction_channel", "is_card_present", "currency",
}

// Options control the generated population.
type Options struct {
	Users   int
	PerUser int
	Seed    uint64
	Start   time.Time

	// Geo drops latitude and longitude when false.
	Geo bool
}

// DefaultOptions returns a small population with coordinates.
func DefaultOptions() Options {
	return Options{
		Users:   50,
		PerUser: 20,
		Seed:    42,
		Start:   time.Date(2025, 3, 3, 8, 0, 0, 0, time.UTC),
		Geo:     true,
	}
}

type home struct {
	country  string
	currency string
	lat, lon float64
}

var homes = []home{
	{"US", "USD", 40.71, -74.00},
	{"GB", "GBP", 51.50, -0.12},
	{"DE", "EUR", 52.52, 13.40},
	{"FR", "EUR", 48.85, 2.35},
}

var categories = []string{"grocery", "fuel", "restaurant", "retail", "travel", "utilities"}

// Txn is one generated row before it is laid out as strings.
type Txn struct {
	ID          string
	UserID      string
	Time        time.Time
	Amount      float64
	Category    string
	MerchantID  string
	Country     string
	Currency    string
	Lat, Lon    float64
	DeviceID    string
	IP          string
	FailedLogin int
	NewPayee    bool
	Channel     string
	CardPresent bool
}

// Generate builds a table of ordinary spending. Each user keeps one home
// country, device and IP, and spends a few hours apart.
func Generate(opts Options) *domain.Table {
	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))
	var txns []Txn
	for u := 0; u < opts.Users; u++ {
		h := homes[u%len(homes)]
		user := fmt.Sprintf("user-%04d", u)
		base := 20 + rng.Float64()*80
		t := opts.Start.Add(time.Duration(rng.IntN(3600)) * time.Second)
		for k := 0; k < opts.PerUser; k++ {
			t = t.Add(time.Duration(2+rng.IntN(10)) * time.Hour)
			txns = append(txns, Txn{
				ID:          fmt.Sprintf("%s-%03d", user, k),
				UserID:      user,
				Time:        t,
				Amount:      math.Round(base*(0.6+rng.Float64()*0.8)*100) / 100,
				Category:    categories[rng.IntN(len(categories))],
				MerchantID:  fmt.Sprintf("m-%03d", rng.IntN(40)),
				Country:     h.country,
				Currency:    h.currency,
				Lat:         h.lat + rng.NormFloat64()*0.05,
				Lon:         h.lon + rng.NormFloat64()*0.05,
				DeviceID:    fmt.Sprintf("dev-%04d", u),
				IP:          fmt.Sprintf("10.%d.%d.%d", u/250, u%250, 1+rng.IntN(2)),
				Channel:     "pos",
				CardPresent: true,
			})
		}
	}
	return Table(txns, opts.Geo)
}

// Table lays transactions out as a table with the standard header.
func Table(txns []Txn, geo bool) *domain.Table {
	cols := Columns
	if !geo {
		cols = nil
		for _, c := range Columns {
			if c != "latitude" && c != "longitude" {
				cols = append(cols, c)
			}
		}
	}
	t := &domain.Table{Columns: append([]string(nil), cols...)}
	for _, x := range txns {
		row := []string{
			x.ID, x.UserID, x.Time.Format(time.RFC3339), strconv.FormatFloat(x.Amount, 'f', 2, 64),
			x.Category, x.MerchantID, x.Country,
		}
		if geo {
			row = append(row, strconv.FormatFloat(x.Lat, 'f', 5, 64), strconv.FormatFloat(x.Lon, 'f', 5, 64))
		}
		row = append(row,
			x.DeviceID, x.IP, strconv.Itoa(x.FailedLogin), boolString(x.NewPayee),
			x.Channel, boolString(x.CardPresent), x.Currency,
		)
		t.Rows = append(t.Rows, row)
	}
	return t
}

// Append adds rows built from txns to an existing table with the same layout.
func Append(t *domain.Table, txns []Txn) {
	geo := false
	for _, c := range t.Columns {
		if c == "latitude" {
			geo = true
		}
	}
	t.Rows = append(t.Rows, Table(txns, geo).Rows...)
}

func boolString(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// Takeover returns an account-takeover burst for a fresh user: n-1 small
// purchases at home followed, seconds later, by one large purchase abroad
// from a new device and IP after several failed logins.
func Takeover(user string, at time.Time, n int) []Txn {
	h := homes[0]
	var out []Txn
	for k := 0; k < n-1; k++ {
		out = append(out, Txn{
			ID:          fmt.Sprintf("%s-%03d", user, k),
			UserID:      user,
			Time:        at.Add(time.Duration(k*25) * time.Second),
			Amount:      50,
			Category:    "retail",
			MerchantID:  "m-001",
			Country:     h.country,
			Currency:    h.currency,
			Lat:         h.lat,
			Lon:         h.lon,
			DeviceID:    user + "-phone",
			IP:          "10.200.0.1",
			Channel:     "pos",
			CardPresent: true,
		})
	}
	out = append(out, Txn{
		ID:          user + "-takeover",
		UserID:      user,
		Time:        at.Add(time.Duration((n-1)*25) * time.Second),
		Amount:      5000,
		Category:    "travel",
		MerchantID:  "m-999",
		Country:     "RU",
		Currency:    "RUB",
		Lat:         55.75,
		Lon:         37.62,
		DeviceID:    user + "-unknown",
		IP:          "185.220.101.7",
		FailedLogin: 4,
		NewPayee:    true,
		Channel:     "online",
	})
	return out
}
