package explain

import (
	"fmt"
	"math"

	"github.com/opensource-finance/kestrel/internal/features"
)

func flagSet(name string) string {
	return fmt.Sprintf("%q in f && f[%q] == 1.0", name, name)
}

func static(phrase string) func(map[string]float64) string {
	return func(map[string]float64) string { return phrase }
}

// DefaultReasons returns the built-in reasons in priority order.
func DefaultReasons() []Reason {
	return []Reason{
		{
			ID:         "impossible_travel",
			Expression: flagSet(features.ImpossibleTravel),
			Render:     static("Impossible travel detected"),
		},
		{
			ID:         "failed_logins",
			Expression: flagSet(features.HighFailedLogins),
			Render:     static("Multiple failed login attempts"),
		},
		{
			ID:         "high_amount",
			Expression: fmt.Sprintf("%q in f && f[%q] > log_amount_p99", features.LogAmount, features.LogAmount),
			Render:     static("Unusually high amount (top 1%)"),
		},
		{
			ID: "amount_deviation",
			Expression: fmt.Sprintf("%q in f && (f[%q] > 3.0 || f[%q] < -3.0)",
				features.AmountDeviation, features.AmountDeviation, features.AmountDeviation),
			Render: func(row map[string]float64) string {
				return fmt.Sprintf("Amount %.1fσ from user pattern", math.Abs(row[features.AmountDeviation]))
			},
		},
		{
			ID:         "rapid_transactions",
			Expression: fmt.Sprintf("%q in f && f[%q] > 3.0", features.TxnCount5Min, features.TxnCount5Min),
			Render: func(row map[string]float64) string {
				return fmt.Sprintf("Rapid transactions (%d in 5min)", int(row[features.TxnCount5Min]))
			},
		},
		{
			ID:         "new_country",
			Expression: flagSet(features.NewCountryForUser),
			Render:     static("First transaction in this country"),
		},
		{
			ID:         "location_jump",
			Expression: fmt.Sprintf("%q in f && f[%q] > 500.0", features.GeoDistanceKm, features.GeoDistanceKm),
			Render: func(row map[string]float64) string {
				return fmt.Sprintf("Large location change (%.0fkm)", row[features.GeoDistanceKm])
			},
		},
		{
			ID:         "new_device",
			Expression: flagSet(features.DeviceChange),
			Render:     static("New device detected"),
		},
		{
			ID:         "new_ip",
			Expression: flagSet(features.NewIPForUser),
			Render:     static("New IP address"),
		},
		{
			ID:         "new_payee",
			Expression: flagSet(features.NewPayee),
			Render:     static("New payee"),
		},
		{
			ID:         "new_merchant",
			Expression: flagSet(features.NewMerchantForUser),
			Render:     static("First transaction with merchant"),
		},
		{
			ID:         "card_not_present",
			Expression: flagSet(features.CardNotPresent),
			Render:     static("Card-not-present transaction"),
		},
		{
			ID:         "night",
			Expression: flagSet(features.IsNight),
			Render:     static("Transaction during unusual hours"),
		},
		{
			ID:         "shared_device",
			Expression: flagSet(features.DeviceShared),
			Render:     static("Device shared across multiple users"),
		},
		{
			ID:         "first_transaction",
			Expression: flagSet(features.FirstTransaction),
			Render:     static("First transaction ever"),
		},
	}
}
