package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func scored(id string, risk float64, anomaly bool) *domain.ScoredRecord {
	return &domain.ScoredRecord{
		Transaction:   &domain.Transaction{ID: id, Raw: []string{id, "u1", "12.50"}},
		TransactionID: id,
		RiskScore:     risk,
		RiskCategory:  domain.RiskLow,
		IsAnomaly:     anomaly,
		Explanation:   domain.NormalExplanation,
	}
}

var columns = []string{"transaction_id", "user_id", "amount"}

func TestWriteResults(t *testing.T) {
	var buf bytes.Buffer
	rec := scored("t1", 82.5, true)
	rec.Explanation = "[RISK: 82/100] New device detected | New IP address"
	if err := WriteResults(&buf, columns, []*domain.ScoredRecord{rec}); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("read back failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if len(rows[0]) != len(columns)+len(ResultColumns) || rows[0][3] != "is_anomaly" {
		t.Errorf("unexpected header %v", rows[0])
	}
	want := []string{"t1", "u1", "12.50", "true", "82.5", "Low", rec.Explanation, "0.825"}
	for i := range want {
		if rows[1][i] != want[i] {
			t.Errorf("cell %d: expected %q, got %q", i, want[i], rows[1][i])
		}
	}
}

func TestSortByRisk(t *testing.T) {
	in := []*domain.ScoredRecord{scored("a", 10, false), scored("b", 90, true), scored("c", 10, false), scored("d", 50, false)}
	got := SortByRisk(in)
	ids := make([]string, len(got))
	for i, r := range got {
		ids[i] = r.TransactionID
	}
	if strings.Join(ids, ",") != "b,d,a,c" {
		t.Errorf("expected b,d,a,c, got %v", ids)
	}
	if in[0].TransactionID != "a" {
		t.Error("expected input slice untouched")
	}
}

func TestFiles(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "results.csv")
	report := &domain.Report{TotalTransactions: 3, FlaggedTransactions: 1}

	t.Run("WithHighRisk", func(t *testing.T) {
		records := []*domain.ScoredRecord{scored("a", 10, false), scored("b", 75, true), scored("c", 70, true)}
		paths, err := Files(out, columns, records, report, 70)
		if err != nil {
			t.Fatalf("export failed: %v", err)
		}
		if paths.Report != filepath.Join(dir, "results_report.json") {
			t.Errorf("unexpected report path %s", paths.Report)
		}

		data, err := os.ReadFile(paths.Report)
		if err != nil {
			t.Fatalf("failed to read report: %v", err)
		}
		var got domain.Report
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("invalid report json: %v", err)
		}
		if got.TotalTransactions != 3 {
			t.Errorf("expected 3 transactions, got %d", got.TotalTransactions)
		}

		f, err := os.Open(paths.HighRisk)
		if err != nil {
			t.Fatalf("expected high-risk file: %v", err)
		}
		defer f.Close()
		rows, err := csv.NewReader(f).ReadAll()
		if err != nil {
			t.Fatalf("read failed: %v", err)
		}
		if len(rows) != 3 || rows[1][0] != "b" || rows[2][0] != "c" {
			t.Errorf("expected b then c, got %v", rows)
		}
	})

	t.Run("NoHighRisk", func(t *testing.T) {
		low := filepath.Join(dir, "low.csv")
		paths, err := Files(low, columns, []*domain.ScoredRecord{scored("a", 10, false)}, report, 70)
		if err != nil {
			t.Fatalf("export failed: %v", err)
		}
		if paths.HighRisk != "" {
			t.Errorf("expected no high-risk path, got %s", paths.HighRisk)
		}
		if _, err := os.Stat(filepath.Join(dir, "low_HIGH_RISK.csv")); !os.IsNotExist(err) {
			t.Errorf("expected no high-risk file, got %v", err)
		}
	})
}

func TestWriteSummary(t *testing.T) {
	var buf bytes.Buffer
	r := &domain.Report{
		TotalTransactions: 10,
		TopRiskFactors:    []string{"a", "b", "c"},
	}
	WriteSummary(&buf, r, 2)
	out := buf.String()
	if !strings.Contains(out, "Top 2 Risk Factors") || !strings.Contains(out, "2. b") || strings.Contains(out, "3. c") {
		t.Errorf("unexpected summary:\n%s", out)
	}
}
