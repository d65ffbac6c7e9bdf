// Package detector runs the whole detection pipeline over one batch: feature
// engineering, ensemble training and scoring, risk scoring and explanations.
//
// The ensemble is fitted on the batch it scores. Its density vote is only
// meaningful relative to that batch and is treated as advisory.
package detector

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/ensemble"
	"github.com/opensource-finance/kestrel/internal/explain"
	"github.com/opensource-finance/kestrel/internal/features"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

var tracer = otel.Tracer("kestrel-detector")

// Detector is stateless between runs and safe for concurrent use.
type Detector struct {
	cfg       domain.DetectorConfig
	scorer    *scoring.Scorer
	explainer *explain.Generator
}

// Result is everything one run produced.
type Result struct {
	Batch   *features.Batch
	Matrix  *features.Matrix
	Bundle  *ensemble.Bundle
	Records []*domain.ScoredRecord
	Report  *domain.Report
}

// New creates a detector with the standard scorer and reasons.
func New(cfg domain.DetectorConfig) (*Detector, error) {
	gen, err := explain.NewGenerator()
	if err != nil {
		return nil, fmt.Errorf("failed to create explanation generator: %w", err)
	}
	if cfg.TopFactors <= 0 {
		cfg.TopFactors = domain.DefaultDetectorConfig().TopFactors
	}
	return &Detector{
		cfg:       cfg,
		scorer:    scoring.NewScorer(),
		explainer: gen,
	}, nil
}

// Config returns the detector settings.
func (d *Detector) Config() domain.DetectorConfig { return d.cfg }

// Explainer exposes the generator so callers can append reasons.
func (d *Detector) Explainer() *explain.Generator { return d.explainer }

// Run preprocesses the table, fits the ensemble on it and scores every record.
func (d *Detector) Run(ctx context.Context, table *domain.Table) (*Result, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "detector.Run")
	defer span.End()

	res, err := d.run(ctx, table)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	metrics.RunDuration.Observe(time.Since(start).Seconds())
	span.SetAttributes(
		attribute.Int("records", len(res.Records)),
		attribute.Int("flagged", res.Report.FlaggedTransactions),
	)
	slog.Info("detection complete",
		"records", res.Report.TotalTransactions,
		"flagged", res.Report.FlaggedTransactions,
		"dropped", res.Report.DroppedRecords,
		"features", res.Report.FeatureCount,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

func (d *Detector) run(ctx context.Context, table *domain.Table) (*Result, error) {
	batch, m, err := d.Prepare(ctx, table)
	if err != nil {
		return nil, err
	}

	bundle, err := d.Train(ctx, m)
	if err != nil {
		return nil, err
	}

	records, err := d.Score(ctx, bundle, batch, m)
	if err != nil {
		return nil, err
	}

	report := NewReport(records, bundle.Importance(), batch.Dropped, len(m.Names()), d.cfg.TopFactors)
	return &Result{
		Batch:   batch,
		Matrix:  m,
		Bundle:  bundle,
		Records: records,
		Report:  report,
	}, nil
}

// Prepare cleans the table and builds its feature matrix.
func (d *Detector) Prepare(ctx context.Context, table *domain.Table) (*features.Batch, *features.Matrix, error) {
	_, span := tracer.Start(ctx, "detector.Prepare")
	defer span.End()

	start := time.Now()
	batch, err := features.Preprocess(table)
	if err != nil {
		span.RecordError(err)
		return nil, nil, err
	}
	metrics.RecordsDropped.Add(float64(batch.Dropped))
	metrics.ObserveStage("preprocess", start)

	start = time.Now()
	m := features.Build(batch)
	metrics.ObserveStage("features", start)

	span.SetAttributes(
		attribute.Int("records", batch.Len()),
		attribute.Int("dropped", batch.Dropped),
		attribute.Int("features", len(m.Names())),
		attribute.StringSlice("groups", features.EnabledGroups(batch.Schema)),
	)
	slog.Debug("batch prepared",
		"records", batch.Len(),
		"dropped", batch.Dropped,
		"features", len(m.Names()),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return batch, m, nil
}

// Train fits a fresh ensemble on m.
func (d *Detector) Train(ctx context.Context, m *features.Matrix) (*ensemble.Bundle, error) {
	ctx, span := tracer.Start(ctx, "detector.Train", trace.WithAttributes(
		attribute.Int("rows", m.Rows()),
		attribute.Int("trees", d.cfg.Trees),
	))
	defer span.End()

	start := time.Now()
	bundle := ensemble.NewBundle(d.cfg)
	if err := bundle.Fit(ctx, m); err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.StringSlice("features", bundle.Features()))
	metrics.ObserveStage("train", start)
	return bundle, nil
}

// Score votes, scores and explains every record of the batch. m must be the
// batch's matrix, row-aligned with batch.Records.
func (d *Detector) Score(ctx context.Context, bundle *ensemble.Bundle, batch *features.Batch, m *features.Matrix) ([]*domain.ScoredRecord, error) {
	ctx, span := tracer.Start(ctx, "detector.Score")
	defer span.End()

	if batch.Len() != m.Rows() {
		return nil, fmt.Errorf("%w: batch has %d records, matrix has %d rows", domain.ErrValidation, batch.Len(), m.Rows())
	}

	start := time.Now()
	votes, err := bundle.Score(ctx, m)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	metrics.ObserveStage("score", start)

	start = time.Now()
	bc := explain.NewContext(m)
	out := make([]*domain.ScoredRecord, len(votes))
	for i, v := range votes {
		txn := batch.Records[i]
		row := m.Row(i)
		risk := d.scorer.Evaluate(v.Confidence, row)

		out[i] = &domain.ScoredRecord{
			Transaction:   txn,
			Features:      row,
			TransactionID: txn.ID,
			UserID:        txn.UserID,
			Timestamp:     txn.Timestamp,
			Amount:        txn.Amount,
			IsAnomaly:     v.Anomaly,
			Confidence:    v.Confidence,
			Votes:         v.Votes,
			RiskScore:     risk.Score,
			RiskCategory:  risk.Category,
			Explanation:   d.explainer.Explain(v.Anomaly, risk.Score, row, bc),
		}

		metrics.RecordsScored.Inc()
		if v.Anomaly {
			metrics.RecordsFlagged.WithLabelValues(string(risk.Category)).Inc()
		}
	}
	metrics.ObserveStage("explain", start)
	return out, nil
}
