// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveRun inserts a run or updates its status, report and completion time.
func (r *SQLRepository) SaveRun(ctx context.Context, tenantID string, run *domain.Run) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if run == nil || run.ID == "" {
		return fmt.Errorf("%w: run id is required", ErrInvalidInput)
	}

	var report sql.NullString
	if run.Report != nil {
		data, err := json.Marshal(run.Report)
		if err != nil {
			return fmt.Errorf("failed to encode report: %w", err)
		}
		report = sql.NullString{String: string(data), Valid: true}
	}

	var completed sql.NullTime
	if run.CompletedAt != nil {
		completed = sql.NullTime{Time: *run.CompletedAt, Valid: true}
	}

	query := `
		INSERT INTO runs (id, tenant_id, source, status, report, error, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			report = excluded.report,
			error = excluded.error,
			completed_at = excluded.completed_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		run.ID, tenantID, run.Source, run.Status,
		report, run.Error, run.CreatedAt, completed,
	)
	return err
}

// GetRun retrieves a run by ID with tenant isolation.
func (r *SQLRepository) GetRun(ctx context.Context, tenantID string, runID string) (*domain.Run, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, source, status, report, error, created_at, completed_at
		FROM runs
		WHERE tenant_id = ? AND id = ?
	`

	run, err := scanRun(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return run, err
}

// ListRuns returns the tenant's most recent runs first.
func (r *SQLRepository) ListRuns(ctx context.Context, tenantID string, limit int) ([]*domain.Run, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, tenant_id, source, status, report, error, created_at, completed_at
		FROM runs
		WHERE tenant_id = ?
		ORDER BY created_at DESC, id
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*domain.Run, error) {
	var run domain.Run
	var report, runErr sql.NullString
	var completed sql.NullTime

	if err := s.Scan(
		&run.ID, &run.TenantID, &run.Source, &run.Status,
		&report, &runErr, &run.CreatedAt, &completed,
	); err != nil {
		return nil, err
	}

	run.Error = runErr.String
	if completed.Valid {
		t := completed.Time
		run.CompletedAt = &t
	}
	if report.Valid && report.String != "" {
		run.Report = &domain.Report{}
		if err := json.Unmarshal([]byte(report.String), run.Report); err != nil {
			return nil, fmt.Errorf("failed to decode report for run %s: %w", run.ID, err)
		}
	}
	return &run, nil
}

// SaveRecords stores every scored record of a run in one transaction.
func (r *SQLRepository) SaveRecords(ctx context.Context, tenantID string, runID string, records []*domain.ScoredRecord) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if runID == "" {
		return fmt.Errorf("%w: runID is required", ErrInvalidInput)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO scored_records (
			tenant_id, run_id, position, transaction_id, user_id, timestamp, amount,
			is_anomaly, confidence, vote_forest, vote_density, vote_covariance,
			risk_score, risk_category, explanation
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	stmt, err := tx.PrepareContext(ctx, r.rebind(query))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, rec := range records {
		if _, err := stmt.ExecContext(ctx,
			tenantID, runID, i, rec.TransactionID, rec.UserID, rec.Timestamp, rec.Amount,
			boolInt(rec.IsAnomaly), rec.Confidence,
			boolInt(rec.Votes.Forest), boolInt(rec.Votes.Density), boolInt(rec.Votes.Covariance),
			rec.RiskScore, string(rec.RiskCategory), rec.Explanation,
		); err != nil {
			return fmt.Errorf("failed to save record %s: %w", rec.TransactionID, err)
		}
	}
	return tx.Commit()
}

// ListRecords returns a run's records with risk at or above minRisk,
// highest risk first.
func (r *SQLRepository) ListRecords(ctx context.Context, tenantID string, runID string, minRisk float64) ([]*domain.ScoredRecord, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT transaction_id, user_id, timestamp, amount,
			   is_anomaly, confidence, vote_forest, vote_density, vote_covariance,
			   risk_score, risk_category, explanation
		FROM scored_records
		WHERE tenant_id = ? AND run_id = ? AND risk_score >= ?
		ORDER BY risk_score DESC, position
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, runID, minRisk)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*domain.ScoredRecord
	for rows.Next() {
		var rec domain.ScoredRecord
		var anomaly, forest, density, covariance int
		var category string
		if err := rows.Scan(
			&rec.TransactionID, &rec.UserID, &rec.Timestamp, &rec.Amount,
			&anomaly, &rec.Confidence, &forest, &density, &covariance,
			&rec.RiskScore, &category, &rec.Explanation,
		); err != nil {
			return nil, err
		}
		rec.IsAnomaly = anomaly == 1
		rec.Votes = domain.Votes{Forest: forest == 1, Density: density == 1, Covariance: covariance == 1}
		rec.RiskCategory = domain.RiskCategory(category)
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = strconv.AppendInt(result, int64(n), 10)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
