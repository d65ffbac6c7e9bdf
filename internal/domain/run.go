package domain

import "time"

// Run status values.
const (
	RunPending   = "pending"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// Run is a persisted detection run over one uploaded batch.
type Run struct {
	ID          string     `json:"id"`
	TenantID    string     `json:"tenantId"`
	Source      string     `json:"source"`
	Status      string     `json:"status"`
	Report      *Report    `json:"report,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// BatchSubmission is the bus payload for an asynchronously processed upload.
type BatchSubmission struct {
	RunID    string `json:"runId"`
	TenantID string `json:"tenantId"`
	Source   string `json:"source"`
	Table    *Table `json:"table"`
}

// Alert is published for every record at or above the high-risk threshold.
type Alert struct {
	RunID         string       `json:"runId"`
	TransactionID string       `json:"transactionId"`
	UserID        string       `json:"userId"`
	RiskScore     float64      `json:"riskScore"`
	RiskCategory  RiskCategory `json:"riskCategory"`
	Explanation   string       `json:"explanation"`
}
