// Benchmark tool for timing Kestrel on labelled synthetic batches.
//
// Usage:
//
//	go run ./cmd/benchmark -users 500 -victims 10
//	go run ./cmd/benchmark -url http://localhost:8080
//
// This tool:
//  1. Generates ordinary spending plus account-takeover bursts
//  2. Scores the batch in-process, or through POST /predict when -url is set
//  3. Compares each takeover label with the record's anomaly flag
//  4. Reports precision, recall, F1-score and pipeline timings
package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/detector"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/synth"
)

// Metrics tracks benchmark results
type Metrics struct {
	TruePositives  int // Takeover flagged
	FalsePositives int // Ordinary record flagged
	TrueNegatives  int // Ordinary record passed
	FalseNegatives int // Takeover missed

	HighRisk   int
	TotalFraud int
	Runs       int

	Durations []time.Duration
}

func main() {
	users := flag.Int("users", 200, "Ordinary users to generate")
	perUser := flag.Int("per-user", 20, "Transactions per ordinary user")
	victims := flag.Int("victims", 5, "Account-takeover victims to inject")
	seed := flag.Uint64("seed", 42, "Generator seed")
	geo := flag.Bool("geo", true, "Include latitude and longitude")
	runs := flag.Int("runs", 3, "Repetitions to time")
	trees := flag.Int("trees", 300, "Isolation forest size (in-process only)")
	baseURL := flag.String("url", "", "Kestrel base URL; empty scores in-process")
	tenantID := flag.String("tenant", "benchmark-test", "Tenant ID for requests")
	flag.Parse()

	opts := synth.Options{
		Users:   *users,
		PerUser: *perUser,
		Seed:    *seed,
		Start:   time.Date(2025, 3, 3, 8, 0, 0, 0, time.UTC),
		Geo:     *geo,
	}
	table := synth.Generate(opts)
	for v := 0; v < *victims; v++ {
		at := opts.Start.Add(time.Duration(48+v*7) * time.Hour)
		synth.Append(table, synth.Takeover(fmt.Sprintf("victim-%03d", v), at, 10))
	}

	fmt.Println("=== KESTREL BENCHMARK - synthetic account takeover ===")
	fmt.Printf("\nRows:        %d\n", len(table.Rows))
	fmt.Printf("Victims:     %d\n", *victims)
	fmt.Printf("Geo:         %v\n", *geo)
	fmt.Printf("Runs:        %d\n", *runs)
	if *baseURL != "" {
		fmt.Printf("Kestrel URL: %s\n", *baseURL)
	}
	fmt.Println()

	score := localScorer(*trees, *seed)
	if *baseURL != "" {
		if err := checkHealth(*baseURL); err != nil {
			fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
			fmt.Println("\nMake sure Kestrel is running:")
			fmt.Println("  go run ./cmd/kestrel serve")
			os.Exit(1)
		}
		score = remoteScorer(*baseURL, *tenantID)
	}

	m := &Metrics{}
	for r := 0; r < *runs; r++ {
		start := time.Now()
		records, err := score(table)
		if err != nil {
			fmt.Printf("ERROR: run %d failed: %v\n", r+1, err)
			os.Exit(1)
		}
		m.Durations = append(m.Durations, time.Since(start))
		m.Runs++
		if r == 0 {
			m.tally(records)
		}
		fmt.Printf("run %d: %v\n", r+1, m.Durations[r].Round(time.Millisecond))
	}

	printResults(m, len(table.Rows))
}

type scoreFunc func(*domain.Table) ([]*domain.ScoredRecord, error)

func localScorer(trees int, seed uint64) scoreFunc {
	cfg := domain.DefaultDetectorConfig()
	cfg.Trees = trees
	cfg.Seed = int64(seed)
	det, err := detector.New(cfg)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
	return func(t *domain.Table) ([]*domain.ScoredRecord, error) {
		res, err := det.Run(context.Background(), t)
		if err != nil {
			return nil, err
		}
		return res.Records, nil
	}
}

func remoteScorer(baseURL, tenantID string) scoreFunc {
	client := &http.Client{Timeout: 5 * time.Minute}
	return func(t *domain.Table) ([]*domain.ScoredRecord, error) {
		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		part, err := mw.CreateFormFile("file", "benchmark.csv")
		if err != nil {
			return nil, err
		}
		cw := csv.NewWriter(part)
		cw.Write(t.Columns)
		cw.WriteAll(t.Rows)
		if err := cw.Error(); err != nil {
			return nil, err
		}
		mw.Close()

		req, err := http.NewRequest(http.MethodPost, baseURL+"/predict?include=records", &body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", mw.FormDataContentType())
		req.Header.Set("X-Tenant-ID", tenantID)

		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("status %d", resp.StatusCode)
		}

		var out struct {
			Records []*domain.ScoredRecord `json:"records"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, err
		}
		return out.Records, nil
	}
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func (m *Metrics) tally(records []*domain.ScoredRecord) {
	threshold := domain.DefaultDetectorConfig().HighRiskThreshold
	for _, rec := range records {
		actual := strings.HasSuffix(rec.TransactionID, "-takeover")
		predicted := rec.IsAnomaly
		if actual {
			m.TotalFraud++
		}
		if rec.RiskScore >= threshold {
			m.HighRisk++
		}

		switch {
		case predicted && actual:
			m.TruePositives++
		case predicted && !actual:
			m.FalsePositives++
		case !predicted && !actual:
			m.TrueNegatives++
		default:
			m.FalseNegatives++
		}
	}
}

func printResults(m *Metrics, rows int) {
	fmt.Println("\n=== BENCHMARK RESULTS ===")

	fmt.Println("\nCONFUSION MATRIX")
	fmt.Println("                     Predicted")
	fmt.Println("                 anomaly     normal")
	fmt.Printf("   takeover  %10d %10d   (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Printf("   ordinary  %10d %10d   (FP, TN)\n", m.FalsePositives, m.TrueNegatives)

	precision := 0.0
	if m.TruePositives+m.FalsePositives > 0 {
		precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	}
	recall := 0.0
	if m.TruePositives+m.FalseNegatives > 0 {
		recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	}
	f1 := 0.0
	if precision+recall > 0 {
		f1 = 2 * (precision * recall) / (precision + recall)
	}

	fmt.Println("\nDETECTION METRICS")
	fmt.Printf("   Precision:  %.4f\n", precision)
	fmt.Printf("   Recall:     %.4f\n", recall)
	fmt.Printf("   F1-Score:   %.4f\n", f1)
	fmt.Printf("   High risk:  %d records\n", m.HighRisk)

	fmt.Println("\nPERFORMANCE")
	var total time.Duration
	for _, d := range m.Durations {
		total += d
	}
	if m.Runs > 0 {
		avg := total / time.Duration(m.Runs)
		fmt.Printf("   Avg run:     %v\n", avg.Round(time.Millisecond))
		fmt.Printf("   Throughput:  %.0f records/sec\n", float64(rows)/avg.Seconds())
	}
	fmt.Println()
}
