//go:build integration

// Package integration runs end-to-end scenarios against a live Kestrel server.
//
// The pipeline under test:
//
//	CSV upload -> features -> ensemble vote -> risk score -> explanation
//
// Start a server with `kestrel serve`, then run:
//
//	go test -tags=integration -v ./tests/integration/...
//
// KESTREL_TEST_URL overrides the default http://localhost:8080.
package integration

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/synth"
)

// TestConfig holds test environment configuration
type TestConfig struct {
	BaseURL  string
	TenantID string
}

func getTestConfig() TestConfig {
	baseURL := os.Getenv("KESTREL_TEST_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return TestConfig{
		BaseURL:  baseURL,
		TenantID: "test-tenant",
	}
}

// PredictResponse is what POST /predict returns
type PredictResponse struct {
	RunID   string                 `json:"run_id"`
	Status  string                 `json:"status"`
	Summary *domain.Report         `json:"summary"`
	Records []*domain.ScoredRecord `json:"records"`
}

// ============================================================================
// Test Helper Functions
// ============================================================================

func upload(t *testing.T, config TestConfig, query string, tbl *domain.Table) (int, []byte) {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "integration.csv")
	if err != nil {
		t.Fatalf("Failed to create form file: %v", err)
	}
	cw := csv.NewWriter(part)
	cw.Write(tbl.Columns)
	cw.WriteAll(tbl.Rows)
	mw.Close()

	req, err := http.NewRequest(http.MethodPost, config.BaseURL+"/predict"+query, &body)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-Tenant-ID", config.TenantID)

	return do(t, req)
}

func fetch(t *testing.T, config TestConfig, path string) (int, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, config.BaseURL+path, nil)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	req.Header.Set("X-Tenant-ID", config.TenantID)
	return do(t, req)
}

func do(t *testing.T, req *http.Request) (int, []byte) {
	t.Helper()
	client := &http.Client{Timeout: 2 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}
	return resp.StatusCode, respBody
}

func takeoverBatch() *domain.Table {
	opts := synth.DefaultOptions()
	tbl := synth.Generate(opts)
	synth.Append(tbl, synth.Takeover("victim", opts.Start.Add(72*time.Hour), 10))
	return tbl
}

// ============================================================================
// SCENARIO 1: Account takeover inside ordinary spending
// ============================================================================

func TestTakeover_Flagged(t *testing.T) {
	/*
	   SCENARIO: 50 users with steady home-country spending, plus one user who
	   makes nine $50 purchases 25 seconds apart and then a $5000 purchase in
	   Russia from a new device after four failed logins.

	   EXPECTED BEHAVIOR:
	   - the $5000 record is an anomaly with risk >= 70
	   - its explanation names impossible travel and the new country
	*/
	config := getTestConfig()
	tbl := takeoverBatch()

	status, body := upload(t, config, "?include=records", tbl)
	if status != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", status, string(body))
	}

	var result PredictResponse
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if result.Summary.TotalTransactions != len(tbl.Rows) {
		t.Errorf("Expected %d transactions, got %d", len(tbl.Rows), result.Summary.TotalTransactions)
	}

	var victim *domain.ScoredRecord
	for _, rec := range result.Records {
		if rec.TransactionID == "victim-takeover" {
			victim = rec
		}
	}
	if victim == nil {
		t.Fatal("takeover record missing from response")
	}
	if !victim.IsAnomaly || victim.RiskScore < 70 {
		t.Errorf("Expected anomaly with risk >= 70, got %v %.1f", victim.IsAnomaly, victim.RiskScore)
	}
	for _, phrase := range []string{"Impossible travel detected", "First transaction in this country"} {
		if !strings.Contains(victim.Explanation, phrase) {
			t.Errorf("Expected %q in explanation %q", phrase, victim.Explanation)
		}
	}

	status, body = fetch(t, config, "/runs/"+result.RunID+"/records?min_risk=70")
	if status != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", status, string(body))
	}
	if !strings.Contains(string(body), "victim-takeover") {
		t.Error("Expected takeover among high-risk records")
	}
}

// ============================================================================
// SCENARIO 2: Asynchronous upload
// ============================================================================

func TestAsyncUpload_Completes(t *testing.T) {
	config := getTestConfig()

	status, body := upload(t, config, "?async=true", takeoverBatch())
	if status != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d: %s", status, string(body))
	}
	var result PredictResponse
	json.Unmarshal(body, &result)

	deadline := time.Now().Add(time.Minute)
	for time.Now().Before(deadline) {
		_, body := fetch(t, config, "/runs/"+result.RunID)
		var run domain.Run
		json.Unmarshal(body, &run)
		if run.Status == domain.RunCompleted {
			return
		}
		if run.Status == domain.RunFailed {
			t.Fatalf("Run failed: %s", run.Error)
		}
		time.Sleep(200 * time.Millisecond)
	}
	t.Fatal("Timed out waiting for async run")
}

// ============================================================================
// SCENARIO 3: Unusable input
// ============================================================================

func TestMissingColumn_Error(t *testing.T) {
	config := getTestConfig()
	tbl := &domain.Table{Columns: []string{"user_id", "amount"}, Rows: [][]string{{"u1", "10"}}}

	status, body := upload(t, config, "", tbl)
	if status != http.StatusUnprocessableEntity {
		t.Errorf("Expected status 422, got %d: %s", status, string(body))
	}
}

func TestMissingTenantHeader_Error(t *testing.T) {
	config := getTestConfig()
	req, _ := http.NewRequest(http.MethodGet, config.BaseURL+"/runs", nil)

	status, _ := do(t, req)
	if status != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", status)
	}
}
