package features

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func table(header string, rows ...string) *domain.Table {
	t := &domain.Table{Columns: strings.Split(header, ",")}
	for _, r := range rows {
		t.Rows = append(t.Rows, strings.Split(r, ","))
	}
	return t
}

func mustBuild(t *testing.T, tbl *domain.Table) (*Batch, *Matrix) {
	t.Helper()
	b, err := Preprocess(tbl)
	if err != nil {
		t.Fatalf("preprocess failed: %v", err)
	}
	return b, Build(b)
}

// rowOf returns the matrix row of the record with the given id.
func rowOf(t *testing.T, b *Batch, id string) int {
	t.Helper()
	for i, r := range b.Records {
		if r.ID == id {
			return i
		}
	}
	t.Fatalf("record %s not found", id)
	return -1
}

func TestPreprocess(t *testing.T) {
	t.Run("MissingRequiredColumn", func(t *testing.T) {
		_, err := Preprocess(table("user_id,amount", "u1,10"))
		if !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("expected ErrValidation, got %v", err)
		}
		if !strings.Contains(err.Error(), "timestamp") {
			t.Errorf("expected error to name the column, got %v", err)
		}
	})

	t.Run("AliasesAccepted", func(t *testing.T) {
		b, err := Preprocess(table("User_ID,transaction_amount,transaction_time,card_present",
			"u1,10,2024-01-01 10:00:00,1"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !b.Schema.Has(domain.FieldIsCardPresent) {
			t.Error("expected card_present alias to be recognised")
		}
		if b.Records[0].Amount != 10 {
			t.Errorf("expected amount 10, got %v", b.Records[0].Amount)
		}
	})

	t.Run("DropsBadRows", func(t *testing.T) {
		b, err := Preprocess(table("user_id,amount,timestamp",
			"u1,10,2024-01-01 10:00:00",
			"u1,abc,2024-01-01 11:00:00",
			"u1,10,not-a-date",
			",10,2024-01-01 11:00:00",
			"u1,-5,2024-01-01 11:00:00",
			"u2,20,2024-01-01T12:00:00Z",
		))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if b.Dropped != 4 {
			t.Errorf("expected 4 dropped, got %d", b.Dropped)
		}
		if b.Len() != 2 {
			t.Errorf("expected 2 records, got %d", b.Len())
		}
	})

	t.Run("NoValidRecords", func(t *testing.T) {
		_, err := Preprocess(table("user_id,amount,timestamp", "u1,x,y"))
		if !errors.Is(err, domain.ErrNoValidRecords) {
			t.Errorf("expected ErrNoValidRecords, got %v", err)
		}
		_, err = Preprocess(table("user_id,amount,timestamp"))
		if !errors.Is(err, domain.ErrNoValidRecords) {
			t.Errorf("expected ErrNoValidRecords for empty input, got %v", err)
		}
	})

	t.Run("CanonicalOrder", func(t *testing.T) {
		b, err := Preprocess(table("transaction_id,user_id,amount,timestamp",
			"t3,u2,1,2024-01-01 09:00:00",
			"t2,u1,1,2024-01-02 09:00:00",
			"t1,u1,1,2024-01-01 09:00:00",
		))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := []string{"t1", "t2", "t3"}
		for i, id := range want {
			if b.Records[i].ID != id {
				t.Errorf("position %d: expected %s, got %s", i, id, b.Records[i].ID)
			}
		}
	})

	t.Run("UnixTimestamps", func(t *testing.T) {
		b, err := Preprocess(table("user_id,amount,timestamp", "u1,1,1704103200"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if b.Records[0].Timestamp.Hour() != 10 {
			t.Errorf("expected hour 10, got %d", b.Records[0].Timestamp.Hour())
		}
	})
}

func TestBuild(t *testing.T) {
	t.Run("NoNaNOrInf", func(t *testing.T) {
		_, m := mustBuild(t, table("user_id,amount,timestamp,country,device_id,latitude,longitude",
			"u1,0,2024-01-01 10:00:00,US,d1,40.7,-74.0",
			"u1,0,2024-01-01 10:00:00,,d1,,",
			"u2,100,2024-01-01 10:00:00,FR,,48.8,2.3",
		))
		for _, name := range m.Names() {
			for i, v := range m.Column(name) {
				if math.IsNaN(v) || math.IsInf(v, 0) {
					t.Errorf("feature %s row %d is %v", name, i, v)
				}
			}
		}
	})

	t.Run("NoGeoWithoutCoordinates", func(t *testing.T) {
		_, m := mustBuild(t, table("user_id,amount,timestamp,country",
			"u1,10,2024-01-01 10:00:00,US",
			"u1,20,2024-01-01 11:00:00,US",
		))
		for _, name := range []string{GeoDistanceKm, "implied_speed_kmh", ImpossibleTravel, "lat_std", "lon_std", "geo_entropy"} {
			if m.Has(name) {
				t.Errorf("expected %s to be absent", name)
			}
		}
		if !m.Has("country_freq") {
			t.Error("expected country features")
		}
	})

	t.Run("ImpossibleTravel", func(t *testing.T) {
		b, m := mustBuild(t, table("transaction_id,user_id,amount,timestamp,latitude,longitude",
			"a,u1,10,2024-01-01 10:00:00,40.7128,-74.0060",
			"b,u1,10,2024-01-01 10:30:00,51.5074,-0.1278",
		))
		i := rowOf(t, b, "b")
		dist, _ := m.Value(GeoDistanceKm, i)
		if dist < 5500 || dist > 5600 {
			t.Errorf("expected ~5570km, got %v", dist)
		}
		if v, _ := m.Value(ImpossibleTravel, i); v != 1 {
			t.Errorf("expected impossible travel, got %v", v)
		}
		if v, _ := m.Value(GeoDistanceKm, rowOf(t, b, "a")); v != 0 {
			t.Errorf("expected 0 distance for first record, got %v", v)
		}
	})

	t.Run("VelocityAndBehavior", func(t *testing.T) {
		b, m := mustBuild(t, table("transaction_id,user_id,amount,timestamp",
			"a,u1,10,2024-01-01 10:00:00",
			"b,u1,20,2024-01-01 10:01:00",
			"c,u1,30,2024-01-01 10:02:00",
			"d,u2,40,2024-01-01 10:02:00",
		))
		c := rowOf(t, b, "c")
		if v, _ := m.Value(TxnCount5Min, c); v != 3 {
			t.Errorf("expected 3 in 5min, got %v", v)
		}
		if v, _ := m.Value("amount_sum_5min", c); v != 60 {
			t.Errorf("expected sum 60, got %v", v)
		}
		if v, _ := m.Value("txn_count_1min", c); v != 1 {
			t.Errorf("expected 1 in 1min, got %v", v)
		}
		if v, _ := m.Value("seconds_since_last_txn", rowOf(t, b, "a")); v != 86400 {
			t.Errorf("expected first gap 86400, got %v", v)
		}
		if v, _ := m.Value("user_txn_count", c); v != 3 {
			t.Errorf("expected running count 3, got %v", v)
		}
		if v, _ := m.Value(FirstTransaction, rowOf(t, b, "d")); v != 1 {
			t.Errorf("expected first transaction flag, got %v", v)
		}
		if v, _ := m.Value(AmountDeviation, rowOf(t, b, "d")); v != 0 {
			t.Errorf("expected 0 deviation for singleton user, got %v", v)
		}
	})

	t.Run("CategoricalFirstSeen", func(t *testing.T) {
		b, m := mustBuild(t, table("transaction_id,user_id,amount,timestamp,country,device_id",
			"a,u1,10,2024-01-01 10:00:00,US,d1",
			"b,u1,10,2024-01-01 11:00:00,US,d1",
			"c,u1,10,2024-01-01 12:00:00,NG,d2",
			"d,u1,10,2024-01-01 13:00:00,,d2",
		))
		want := map[string][2]float64{
			"a": {1, 1},
			"b": {0, 0},
			"c": {1, 1},
			"d": {0, 0},
		}
		for id, w := range want {
			i := rowOf(t, b, id)
			if v, _ := m.Value(NewCountryForUser, i); v != w[0] {
				t.Errorf("%s: expected new country %v, got %v", id, w[0], v)
			}
			if v, _ := m.Value(DeviceChange, i); v != w[1] {
				t.Errorf("%s: expected device change %v, got %v", id, w[1], v)
			}
		}
		if v, _ := m.Value("country_encoded", rowOf(t, b, "d")); v != -1 {
			t.Errorf("expected code -1 for missing country, got %v", v)
		}
		if v, _ := m.Value("country_encoded", rowOf(t, b, "c")); v != 0 {
			t.Errorf("expected NG to sort first, got %v", v)
		}
	})

	t.Run("DefaultsWithoutOptionalColumns", func(t *testing.T) {
		_, m := mustBuild(t, table("user_id,amount,timestamp", "u1,10,2024-01-01 03:00:00"))
		for _, name := range []string{FailedLoginAttempts, HighFailedLogins, NewPayee, CardNotPresent} {
			if !m.Has(name) {
				t.Errorf("expected %s to always be produced", name)
			}
		}
		if v, _ := m.Value(IsNight, 0); v != 1 {
			t.Errorf("expected night flag at 03:00, got %v", v)
		}
		if m.Has(DeviceChange) || m.Has(NewCountryForUser) {
			t.Error("expected no device or country features")
		}
	})
}

func TestEnabledGroups(t *testing.T) {
	got := EnabledGroups(domain.NewSchema(domain.FieldLatitude))
	for _, g := range got {
		if g == "geo" {
			t.Error("expected geo to need both coordinates")
		}
	}
	got = EnabledGroups(domain.NewSchema(domain.FieldLatitude, domain.FieldLongitude))
	found := false
	for _, g := range got {
		if g == "geo" {
			found = true
		}
	}
	if !found {
		t.Error("expected geo group with both coordinates")
	}
}

func TestHaversine(t *testing.T) {
	d := Haversine(0, 0, 0, 1)
	if math.Abs(d-111.19) > 0.1 {
		t.Errorf("expected ~111.19km per degree at the equator, got %v", d)
	}
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-4
}

func expectValue(t *testing.T, m *Matrix, b *Batch, name, id string, want float64) {
	t.Helper()
	got, ok := m.Value(name, rowOf(t, b, id))
	if !ok {
		t.Fatalf("feature %s missing", name)
	}
	if !approx(got, want) {
		t.Errorf("%s[%s]: expected %v, got %v", name, id, want, got)
	}
}

func TestFeatureGroups(t *testing.T) {
	t.Run("AmountAndRolling", func(t *testing.T) {
		b, m := mustBuild(t, table("transaction_id,user_id,amount,timestamp",
			"a,u1,10,2024-01-01 10:00:00",
			"b,u1,20,2024-01-01 10:10:00",
			"c,u1,30,2024-01-01 10:30:00",
			"d,u2,20,2024-01-01 10:00:00",
		))

		// Ranks over 10, 20, 20, 30 are 1, 2.5, 2.5, 4.
		for id, want := range map[string]float64{"a": 0.25, "b": 0.625, "c": 1, "d": 0.625} {
			expectValue(t, m, b, "amount_percentile", id, want)
		}

		// u1 has median 20 and sample std 10; u2 has no spread.
		expectValue(t, m, b, "amount_vs_user_median", "a", -1)
		expectValue(t, m, b, "amount_vs_user_median", "c", 1)
		expectValue(t, m, b, "amount_vs_user_median", "d", 0)

		expectValue(t, m, b, "rolling_mean_10", "a", 10)
		expectValue(t, m, b, "rolling_std_10", "a", 0)
		expectValue(t, m, b, "rolling_mean_10", "b", 15)
		expectValue(t, m, b, "rolling_std_10", "b", math.Sqrt(50))
		expectValue(t, m, b, "rolling_mean_10", "c", 20)
		expectValue(t, m, b, "rolling_std_10", "c", 10)
	})

	t.Run("RollingWindowOfTen", func(t *testing.T) {
		rows := make([]string, 0, 12)
		for i := 1; i <= 12; i++ {
			rows = append(rows, fmt.Sprintf("t%02d,u1,%d,2024-01-01 %02d:00:00", i, i, i))
		}
		b, m := mustBuild(t, table("transaction_id,user_id,amount,timestamp", rows...))
		// Amounts 3..12
		expectValue(t, m, b, "rolling_mean_10", "t12", 7.5)
	})

	t.Run("TimeDeviation", func(t *testing.T) {
		b, m := mustBuild(t, table("transaction_id,user_id,amount,timestamp",
			"a,u1,10,2024-01-01 10:00:00",
			"b,u1,20,2024-01-01 10:10:00",
			"c,u1,30,2024-01-01 10:30:00",
			"d,u2,20,2024-01-01 10:00:00",
		))
		// u1 gaps are 86400, 600 and 1200 seconds; their mean is 29400.
		expectValue(t, m, b, "avg_txn_interval", "b", 29400)
		expectValue(t, m, b, "time_deviation_from_pattern", "b", (600.0-29400)/29400)
		expectValue(t, m, b, "time_deviation_from_pattern", "d", 0)
	})

	t.Run("IPDeviceNetwork", func(t *testing.T) {
		header := "transaction_id,user_id,amount,timestamp,ip_address,device_id,browser_fingerprint,country,currency,merchant_category"
		b, m := mustBuild(t, table(header,
			"a,u1,10,2024-01-01 10:00:00,10.0.0.1,d1,b1,US,US,grocery",
			"b,u1,10,2024-01-01 11:00:00,10.0.0.1,d2,b1,US,EU,travel",
			"c,u1,10,2024-01-01 12:00:00,192.168.1.1,d3,b2,US,,grocery",
			"e,u1,10,2024-01-01 13:00:00,10.0.0.1,d4,b2,FR,US,grocery",
			"f,u2,10,2024-01-01 10:00:00,10.0.0.1,d1,b3,US,US,",
			"g,u3,10,2024-01-01 10:00:00,10.0.0.1,d1,b3,US,US,",
			"h,u4,10,2024-01-01 10:00:00,10.0.0.1,d1,b3,US,US,",
			"i,u5,10,2024-01-01 10:00:00,10.0.0.1,d5,b3,US,US,",
			"j,u6,10,2024-01-01 10:00:00,10.0.0.1,d6,b3,US,US,",
		))

		// Six users behind 10.0.0.1.
		expectValue(t, m, b, "users_per_ip", "a", 6)
		expectValue(t, m, b, "is_shared_ip", "a", 1)
		expectValue(t, m, b, "users_per_ip", "c", 1)
		expectValue(t, m, b, "is_shared_ip", "c", 0)

		expectValue(t, m, b, "user_ip_count", "a", 2)
		expectValue(t, m, b, "user_ip_count", "f", 1)
		for id, want := range map[string]float64{"a": 1, "b": 0, "c": 1, "e": 0} {
			expectValue(t, m, b, NewIPForUser, id, want)
		}

		// Distinct characters in the address.
		expectValue(t, m, b, "ip_entropy", "a", 3)
		expectValue(t, m, b, "ip_entropy", "c", 6)

		// d1 is used by u1 to u4.
		expectValue(t, m, b, "device_user_network_size", "a", 4)
		expectValue(t, m, b, DeviceShared, "a", 1)
		expectValue(t, m, b, "device_user_network_size", "b", 1)
		expectValue(t, m, b, DeviceShared, "b", 0)
		expectValue(t, m, b, "ip_device_pair_freq", "a", 4)
		expectValue(t, m, b, "ip_device_pair_freq", "b", 1)

		expectValue(t, m, b, "user_device_count", "a", 4)
		expectValue(t, m, b, "is_multi_device_user", "a", 1)
		expectValue(t, m, b, "is_multi_device_user", "f", 0)

		for id, want := range map[string]float64{"a": 1, "b": 0, "c": 1, "e": 0} {
			expectValue(t, m, b, "browser_change", id, want)
		}

		// Foreign only when both are present and differ.
		for id, want := range map[string]float64{"a": 0, "b": 1, "c": 0, "e": 1} {
			expectValue(t, m, b, "is_foreign_currency", id, want)
		}

		for id, want := range map[string]float64{"a": 0, "b": 1, "f": -1} {
			expectValue(t, m, b, MerchantCategoryCodes, id, want)
		}
	})

	t.Run("RareCountry", func(t *testing.T) {
		rows := make([]string, 0, 51)
		start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		for i := 0; i < 50; i++ {
			ts := start.Add(time.Duration(i) * time.Minute).Format("2006-01-02 15:04:05")
			rows = append(rows, fmt.Sprintf("us%02d,u1,10,%s,US", i, ts))
		}
		rows = append(rows, "fr,u2,10,2024-01-01 10:00:00,FR")
		b, m := mustBuild(t, table("transaction_id,user_id,amount,timestamp,country", rows...))

		expectValue(t, m, b, "is_rare_country", "us00", 0)
		expectValue(t, m, b, "country_freq", "us00", 50)
		expectValue(t, m, b, "is_rare_country", "fr", 1)
	})

	t.Run("SecurityFlagsAreBinary", func(t *testing.T) {
		b, m := mustBuild(t, table("transaction_id,user_id,amount,timestamp,profile_updated,is_new_payee",
			"a,u1,10,2024-01-01 10:00:00,2,2",
			"b,u1,10,2024-01-01 11:00:00,0,0",
			"c,u1,10,2024-01-01 12:00:00,,true",
		))
		for id, want := range map[string]float64{"a": 1, "b": 0, "c": 0} {
			expectValue(t, m, b, "profile_updated", id, want)
		}
		for id, want := range map[string]float64{"a": 1, "b": 0, "c": 1} {
			expectValue(t, m, b, NewPayee, id, want)
		}
	})
}
