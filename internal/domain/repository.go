// Package domain holds the types shared by every Kestrel layer: the input
// schema, scored output, runs and the storage, cache and bus interfaces.
package domain

import (
	"context"
	"time"
)

// Repository persists runs and their scored records. Reads never cross tenants.
type Repository interface {
	// SaveRun inserts the run or updates its status, report and error.
	SaveRun(ctx context.Context, tenantID string, run *Run) error
	GetRun(ctx context.Context, tenantID, runID string) (*Run, error)
	// ListRuns returns the newest runs first.
	ListRuns(ctx context.Context, tenantID string, limit int) ([]*Run, error)

	// SaveRecords writes a run's records in one transaction.
	SaveRecords(ctx context.Context, tenantID, runID string, records []*ScoredRecord) error
	// ListRecords returns records with RiskScore >= minRisk, highest first.
	ListRecords(ctx context.Context, tenantID, runID string, minRisk float64) ([]*ScoredRecord, error)

	Ping(ctx context.Context) error
	Close() error
}

// RepositoryConfig selects the database.
type RepositoryConfig struct {
	Driver string // "sqlite" or "postgres"

	SQLitePath string

	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string // defaults to "disable"

	// Zero values keep the driver's defaults.
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
