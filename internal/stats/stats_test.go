package stats

import (
	"math"
	"testing"
)

func TestPercentile(t *testing.T) {
	data := []float64{1, 2, 3, 4, 5}

	tests := []struct {
		p    float64
		want float64
	}{
		{0, 1},
		{25, 2},
		{50, 3},
		{90, 4.6},
		{100, 5},
	}
	for _, tt := range tests {
		got := Percentile(data, tt.p)
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("percentile %v: expected %v, got %v", tt.p, tt.want, got)
		}
	}

	if !math.IsNaN(Percentile(nil, 50)) {
		t.Error("expected NaN for empty input")
	}
	if Percentile([]float64{7}, 99) != 7 {
		t.Error("expected single value for one-element input")
	}
}

func TestMedian(t *testing.T) {
	if got := Median([]float64{4, 1, 3, 2}); got != 2.5 {
		t.Errorf("expected 2.5, got %v", got)
	}
}

func TestSampleStd(t *testing.T) {
	if !math.IsNaN(SampleStd([]float64{3})) {
		t.Error("expected NaN for one value")
	}
	got := SampleStd([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	want := math.Sqrt(32.0 / 7.0)
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestPctRank(t *testing.T) {
	got := PctRank([]float64{10, 30, 20, 20})
	want := []float64{0.25, 1.0, 0.625, 0.625}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-9 {
			t.Errorf("index %d: expected %v, got %v", i, want[i], got[i])
		}
	}
}

func TestFinite(t *testing.T) {
	if Finite(math.NaN()) || Finite(math.Inf(1)) || Finite(math.Inf(-1)) {
		t.Error("expected non-finite values to be rejected")
	}
	if !Finite(0) {
		t.Error("expected zero to be finite")
	}
}
