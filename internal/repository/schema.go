package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaRuns = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    source TEXT NOT NULL,
    status TEXT NOT NULL,
    report TEXT,
    error TEXT,
    created_at TIMESTAMP NOT NULL,
    completed_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_runs_tenant ON runs(tenant_id);
CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(tenant_id, created_at);
`

// schemaScoredRecords holds one row per scored transaction. position is the
// record's index within its run, so duplicate transaction ids are kept.
const schemaScoredRecords = `
CREATE TABLE IF NOT EXISTS scored_records (
    tenant_id TEXT NOT NULL,
    run_id TEXT NOT NULL,
    position INTEGER NOT NULL,
    transaction_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    amount REAL NOT NULL,
    is_anomaly INTEGER NOT NULL,
    confidence REAL NOT NULL,
    vote_forest INTEGER NOT NULL,
    vote_density INTEGER NOT NULL,
    vote_covariance INTEGER NOT NULL,
    risk_score REAL NOT NULL,
    risk_category TEXT NOT NULL,
    explanation TEXT NOT NULL,
    PRIMARY KEY (tenant_id, run_id, position)
);

CREATE INDEX IF NOT EXISTS idx_scored_records_risk ON scored_records(tenant_id, run_id, risk_score);
CREATE INDEX IF NOT EXISTS idx_scored_records_tx ON scored_records(tenant_id, transaction_id);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaRuns,
		schemaScoredRecords,
	}
}
