package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/detector"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
)

// ErrNoBus is returned by Submit when no event bus is configured.
var ErrNoBus = errors.New("event bus is not configured")

// DefaultReportTTL is how long completed reports stay cached.
const DefaultReportTTL = 30 * time.Minute

// Processor runs a batch through the detector and records the outcome.
// Repository, cache and bus are optional.
type Processor struct {
	detector *detector.Detector
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus

	ReportTTL time.Duration
}

// NewProcessor creates a processor.
func NewProcessor(det *detector.Detector, repo domain.Repository, cache domain.Cache, eventBus domain.EventBus) *Processor {
	return &Processor{
		detector:  det,
		repo:      repo,
		cache:     cache,
		bus:       eventBus,
		ReportTTL: DefaultReportTTL,
	}
}

// NewRun creates a pending run for an upload.
func NewRun(source string) *domain.Run {
	return &domain.Run{
		ID:        uuid.New().String(),
		Source:    source,
		Status:    domain.RunPending,
		CreatedAt: time.Now().UTC(),
	}
}

// Submit stores a pending run and hands the batch to the worker via the bus.
func (p *Processor) Submit(ctx context.Context, tenantID, source string, table *domain.Table) (*domain.Run, error) {
	if p.bus == nil {
		return nil, ErrNoBus
	}

	run := NewRun(source)
	run.TenantID = tenantID
	if p.repo != nil {
		if err := p.repo.SaveRun(ctx, tenantID, run); err != nil {
			return nil, fmt.Errorf("failed to save run: %w", err)
		}
	}

	sub := domain.BatchSubmission{RunID: run.ID, TenantID: tenantID, Source: source, Table: table}
	if err := bus.PublishJSON(ctx, p.bus, tenantID, domain.TopicBatchSubmitted, sub); err != nil {
		return nil, fmt.Errorf("failed to submit batch: %w", err)
	}

	slog.Info("batch submitted",
		"run_id", run.ID,
		"tenant_id", tenantID,
		"rows", len(table.Rows),
	)
	return run, nil
}

// Process detects anomalies in the table and completes the run. A detection
// or persistence failure marks the run failed; detection errors are returned
// unchanged so callers can classify them.
func (p *Processor) Process(ctx context.Context, tenantID string, run *domain.Run, table *domain.Table) (*detector.Result, error) {
	run.TenantID = tenantID

	res, err := p.detector.Run(ctx, table)
	if err != nil {
		p.fail(ctx, tenantID, run, err)
		return nil, err
	}

	now := time.Now().UTC()
	res.Report.RunID = run.ID
	run.Status = domain.RunCompleted
	run.Report = res.Report
	run.CompletedAt = &now

	if p.repo != nil {
		if err := p.repo.SaveRecords(ctx, tenantID, run.ID, res.Records); err != nil {
			err = fmt.Errorf("failed to save records: %w", err)
			p.fail(ctx, tenantID, run, err)
			return nil, err
		}
		if err := p.repo.SaveRun(ctx, tenantID, run); err != nil {
			err = fmt.Errorf("failed to save run: %w", err)
			p.fail(ctx, tenantID, run, err)
			return nil, err
		}
	}

	if p.cache != nil {
		if err := p.cache.SetReport(ctx, tenantID, run.ID, res.Report, p.ReportTTL); err != nil {
			slog.Warn("failed to cache report", "run_id", run.ID, "error", err)
		}
	}

	metrics.RunsTotal.WithLabelValues(domain.RunCompleted).Inc()
	p.publish(ctx, tenantID, run, res.Records)
	return res, nil
}

func (p *Processor) fail(ctx context.Context, tenantID string, run *domain.Run, cause error) {
	now := time.Now().UTC()
	run.Status = domain.RunFailed
	run.Report = nil
	run.Error = cause.Error()
	run.CompletedAt = &now
	metrics.RunsTotal.WithLabelValues(domain.RunFailed).Inc()

	slog.Warn("detection run failed",
		"run_id", run.ID,
		"tenant_id", tenantID,
		"error", cause,
	)

	if p.repo != nil {
		if err := p.repo.SaveRun(ctx, tenantID, run); err != nil {
			slog.Error("failed to save failed run", "run_id", run.ID, "error", err)
		}
	}
	if p.bus != nil {
		if err := bus.PublishJSON(ctx, p.bus, tenantID, domain.TopicRunCompleted, run); err != nil {
			slog.Error("failed to publish run status", "run_id", run.ID, "error", err)
		}
	}
}

// publish announces the completed run and raises one alert per high-risk record.
func (p *Processor) publish(ctx context.Context, tenantID string, run *domain.Run, records []*domain.ScoredRecord) {
	if p.bus == nil {
		return
	}

	if err := bus.PublishJSON(ctx, p.bus, tenantID, domain.TopicRunCompleted, run); err != nil {
		slog.Error("failed to publish run completion", "run_id", run.ID, "error", err)
	}

	threshold := p.detector.Config().HighRiskThreshold
	if threshold <= 0 {
		threshold = domain.DefaultDetectorConfig().HighRiskThreshold
	}
	for _, rec := range detector.HighRisk(records, threshold) {
		alert := domain.Alert{
			RunID:         run.ID,
			TransactionID: rec.TransactionID,
			UserID:        rec.UserID,
			RiskScore:     rec.RiskScore,
			RiskCategory:  rec.RiskCategory,
			Explanation:   rec.Explanation,
		}
		if err := bus.PublishJSON(ctx, p.bus, tenantID, domain.TopicAlert, alert); err != nil {
			slog.Error("failed to publish alert",
				"run_id", run.ID,
				"transaction_id", rec.TransactionID,
				"error", err,
			)
			continue
		}
		metrics.AlertsPublished.Inc()
	}
}
