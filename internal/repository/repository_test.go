package repository

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestSQLiteRepository(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "kestrel-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	defer os.Remove(tmpPath)

	repo, err := New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: tmpPath})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()
	tenantID := "tenant-001"
	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SaveAndGetRun", func(t *testing.T) {
		run := &domain.Run{
			ID:        "run-001",
			Source:    "upload.csv",
			Status:    domain.RunPending,
			CreatedAt: created,
		}
		if err := repo.SaveRun(ctx, tenantID, run); err != nil {
			t.Fatalf("SaveRun failed: %v", err)
		}

		got, err := repo.GetRun(ctx, tenantID, run.ID)
		if err != nil {
			t.Fatalf("GetRun failed: %v", err)
		}
		if got.Status != domain.RunPending || got.Report != nil || got.CompletedAt != nil {
			t.Errorf("unexpected pending run %+v", got)
		}
		if got.TenantID != tenantID {
			t.Errorf("expected TenantID %s, got %s", tenantID, got.TenantID)
		}
	})

	t.Run("CompleteRun", func(t *testing.T) {
		done := created.Add(time.Minute)
		run := &domain.Run{
			ID:          "run-001",
			Source:      "upload.csv",
			Status:      domain.RunCompleted,
			CreatedAt:   created,
			CompletedAt: &done,
			Report: &domain.Report{
				TotalTransactions:   10,
				FlaggedTransactions: 2,
				TopRiskFactors:      []string{"amount", "log_amount"},
			},
		}
		if err := repo.SaveRun(ctx, tenantID, run); err != nil {
			t.Fatalf("SaveRun failed: %v", err)
		}

		got, err := repo.GetRun(ctx, tenantID, run.ID)
		if err != nil {
			t.Fatalf("GetRun failed: %v", err)
		}
		if got.Status != domain.RunCompleted {
			t.Errorf("expected completed, got %s", got.Status)
		}
		if got.Report == nil || got.Report.FlaggedTransactions != 2 || len(got.Report.TopRiskFactors) != 2 {
			t.Errorf("unexpected report %+v", got.Report)
		}
		if got.CompletedAt == nil || !got.CompletedAt.Equal(done) {
			t.Errorf("expected completion at %v, got %v", done, got.CompletedAt)
		}
	})

	t.Run("ListRuns", func(t *testing.T) {
		later := &domain.Run{ID: "run-002", Source: "b.csv", Status: domain.RunFailed, Error: "boom", CreatedAt: created.Add(time.Hour)}
		if err := repo.SaveRun(ctx, tenantID, later); err != nil {
			t.Fatalf("SaveRun failed: %v", err)
		}
		runs, err := repo.ListRuns(ctx, tenantID, 10)
		if err != nil {
			t.Fatalf("ListRuns failed: %v", err)
		}
		if len(runs) != 2 || runs[0].ID != "run-002" || runs[0].Error != "boom" {
			t.Errorf("expected newest run first, got %+v", runs)
		}
	})

	t.Run("SaveAndListRecords", func(t *testing.T) {
		at := time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)
		records := []*domain.ScoredRecord{
			{TransactionID: "t1", UserID: "u1", Timestamp: at, Amount: 12, RiskScore: 15, RiskCategory: domain.RiskLow, Explanation: domain.NormalExplanation},
			{TransactionID: "t2", UserID: "u1", Timestamp: at, Amount: 5000, IsAnomaly: true, Confidence: 0.7,
				Votes: domain.Votes{Forest: true, Covariance: true}, RiskScore: 88, RiskCategory: domain.RiskHigh, Explanation: "[RISK: 88/100] New device detected"},
			{TransactionID: "t2", UserID: "u2", Timestamp: at, Amount: 40, RiskScore: 45, RiskCategory: domain.RiskMedium, Explanation: domain.NormalExplanation},
		}
		if err := repo.SaveRecords(ctx, tenantID, "run-001", records); err != nil {
			t.Fatalf("SaveRecords failed: %v", err)
		}

		all, err := repo.ListRecords(ctx, tenantID, "run-001", 0)
		if err != nil {
			t.Fatalf("ListRecords failed: %v", err)
		}
		if len(all) != 3 {
			t.Fatalf("expected 3 records, got %d", len(all))
		}
		if all[0].RiskScore != 88 || !all[0].IsAnomaly || !all[0].Votes.Forest || all[0].Votes.Density {
			t.Errorf("unexpected top record %+v", all[0])
		}
		if !all[0].Timestamp.Equal(at) {
			t.Errorf("expected timestamp %v, got %v", at, all[0].Timestamp)
		}

		high, err := repo.ListRecords(ctx, tenantID, "run-001", 70)
		if err != nil {
			t.Fatalf("ListRecords failed: %v", err)
		}
		if len(high) != 1 || high[0].TransactionID != "t2" {
			t.Errorf("expected only t2, got %+v", high)
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		if _, err := repo.GetRun(ctx, "tenant-002", "run-001"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		recs, err := repo.ListRecords(ctx, "tenant-002", "run-001", 0)
		if err != nil {
			t.Fatalf("ListRecords failed: %v", err)
		}
		if len(recs) != 0 {
			t.Errorf("expected no records for other tenant, got %d", len(recs))
		}
	})

	t.Run("EmptyTenantID", func(t *testing.T) {
		if err := repo.SaveRun(ctx, "", &domain.Run{ID: "x"}); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
		if _, err := repo.GetRun(ctx, "", "x"); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
		if err := repo.SaveRecords(ctx, "", "run", nil); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}

func TestUnsupportedDriver(t *testing.T) {
	if _, err := New(domain.RepositoryConfig{Driver: "mysql"}); err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestRebind(t *testing.T) {
	pg := &SQLRepository{driver: "postgres"}
	if got := pg.rebind("a = ? AND b = ? OR c = ?"); got != "a = $1 AND b = $2 OR c = $3" {
		t.Errorf("unexpected rebind %q", got)
	}
	lite := &SQLRepository{driver: "sqlite"}
	if got := lite.rebind("a = ?"); got != "a = ?" {
		t.Errorf("expected sqlite query unchanged, got %q", got)
	}
}

func TestPostgresDSN(t *testing.T) {
	dsn := postgresDSN(domain.RepositoryConfig{PostgresUser: "kestrel", PostgresPassword: "p@ss word"})
	for _, want := range []string{"postgres://kestrel:", "@localhost:5432/kestrel", "sslmode=disable"} {
		if !strings.Contains(dsn, want) {
			t.Errorf("expected %q in %q", want, dsn)
		}
	}
	if strings.Contains(dsn, "p@ss word") {
		t.Errorf("expected password to be escaped, got %q", dsn)
	}
}
