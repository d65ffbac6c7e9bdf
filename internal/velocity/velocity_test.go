package velocity

import (
	"math"
	"testing"
	"time"
)

func TestTrailing(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	times := []time.Time{
		base,
		base.Add(30 * time.Second),
		base.Add(60 * time.Second),
		base.Add(90 * time.Second),
		base.Add(10 * time.Minute),
	}
	amounts := []float64{10, 20, 30, 40, 50}

	t.Run("OneMinuteWindow", func(t *testing.T) {
		st := Trailing(times, amounts, time.Minute)

		// The event exactly one window back falls outside (t-w, t].
		wantCounts := []float64{1, 2, 2, 2, 1}
		wantSums := []float64{10, 30, 50, 70, 50}
		for i := range times {
			if st.Counts[i] != wantCounts[i] {
				t.Errorf("event %d: expected count %v, got %v", i, wantCounts[i], st.Counts[i])
			}
			if st.Sums[i] != wantSums[i] {
				t.Errorf("event %d: expected sum %v, got %v", i, wantSums[i], st.Sums[i])
			}
		}
	})

	t.Run("WideWindowIncludesAll", func(t *testing.T) {
		st := Trailing(times, amounts, 24*time.Hour)
		for i := range times {
			if st.Counts[i] != float64(i+1) {
				t.Errorf("event %d: expected count %d, got %v", i, i+1, st.Counts[i])
			}
		}
		if st.Sums[4] != 150 {
			t.Errorf("expected running sum 150, got %v", st.Sums[4])
		}
	})

	t.Run("SameTimestamp", func(t *testing.T) {
		same := []time.Time{base, base, base}
		st := Trailing(same, []float64{1, 1, 1}, time.Minute)
		if st.Counts[2] != 3 {
			t.Errorf("expected count 3, got %v", st.Counts[2])
		}
	})

	t.Run("Empty", func(t *testing.T) {
		st := Trailing(nil, nil, time.Minute)
		if len(st.Counts) != 0 || len(st.Sums) != 0 {
			t.Error("expected empty stats")
		}
	})
}

func TestGaps(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	gaps := Gaps([]time.Time{base, base.Add(90 * time.Second), base.Add(time.Hour)})

	if gaps[0] != FirstGap {
		t.Errorf("expected first gap %v, got %v", FirstGap, gaps[0])
	}
	if gaps[1] != 90 {
		t.Errorf("expected 90, got %v", gaps[1])
	}
	if math.Abs(gaps[2]-3510) > 1e-9 {
		t.Errorf("expected 3510, got %v", gaps[2])
	}
}

func TestWindows(t *testing.T) {
	names := map[string]bool{}
	for _, w := range Windows {
		names[w.Name] = true
	}
	for _, want := range []string{"1min", "5min", "15min", "1h", "6h", "24h"} {
		if !names[want] {
			t.Errorf("missing window %s", want)
		}
	}
}
