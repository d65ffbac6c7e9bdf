// Package export writes detection results to disk: the scored table, the
// JSON report and a high-risk extract.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ResultColumns are appended to the original header.
var ResultColumns = []string{"is_anomaly", "risk_score", "risk_category", "explanation", "model_confidence"}

// Paths lists the files an export produced. HighRisk is empty when no record
// reached the threshold.
type Paths struct {
	Results  string `json:"results"`
	Report   string `json:"report"`
	HighRisk string `json:"highRisk,omitempty"`
}

// PathsFor derives the companion file names from the results path.
func PathsFor(output string) Paths {
	base := strings.TrimSuffix(output, ".csv")
	return Paths{
		Results:  output,
		Report:   base + "_report.json",
		HighRisk: base + "_HIGH_RISK.csv",
	}
}

// SortByRisk returns the records ordered by descending risk. Ties keep input order.
func SortByRisk(records []*domain.ScoredRecord) []*domain.ScoredRecord {
	out := append([]*domain.ScoredRecord(nil), records...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].RiskScore > out[j].RiskScore })
	return out
}

// WriteResults writes each record's original cells followed by its results.
// Records are written in the order given.
func WriteResults(w io.Writer, columns []string, records []*domain.ScoredRecord) error {
	cw := csv.NewWriter(w)
	header := append(append([]string(nil), columns...), ResultColumns...)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for _, rec := range records {
		row := make([]string, len(columns), len(header))
		if rec.Transaction != nil {
			copy(row, rec.Transaction.Raw)
		}
		row = append(row,
			strconv.FormatBool(rec.IsAnomaly),
			strconv.FormatFloat(rec.RiskScore, 'f', -1, 64),
			string(rec.RiskCategory),
			rec.Explanation,
			strconv.FormatFloat(rec.RiskScore/100, 'f', -1, 64),
		)
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write record %s: %w", rec.TransactionID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteReport writes the report as indented JSON.
func WriteReport(w io.Writer, report *domain.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

// Files writes the results CSV sorted by risk, the report and, when any
// record reaches threshold, the high-risk CSV.
func Files(output string, columns []string, records []*domain.ScoredRecord, report *domain.Report, threshold float64) (Paths, error) {
	paths := PathsFor(output)
	sorted := SortByRisk(records)

	if err := writeFile(paths.Results, func(w io.Writer) error {
		return WriteResults(w, columns, sorted)
	}); err != nil {
		return Paths{}, err
	}
	slog.Info("results exported", "path", paths.Results, "records", len(sorted))

	if err := writeFile(paths.Report, func(w io.Writer) error {
		return WriteReport(w, report)
	}); err != nil {
		return Paths{}, err
	}

	var high []*domain.ScoredRecord
	for _, rec := range sorted {
		if rec.RiskScore >= threshold {
			high = append(high, rec)
		}
	}
	if len(high) == 0 {
		paths.HighRisk = ""
		return paths, nil
	}
	if err := writeFile(paths.HighRisk, func(w io.Writer) error {
		return WriteResults(w, columns, high)
	}); err != nil {
		return Paths{}, err
	}
	slog.Info("high-risk records exported", "path", paths.HighRisk, "records", len(high))
	return paths, nil
}

func writeFile(path string, fn func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := fn(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}
