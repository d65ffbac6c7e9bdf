// Package worker completes asynchronously submitted detection runs.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Worker consumes batch submissions from the EventBus.
type Worker struct {
	bus       domain.EventBus
	repo      domain.Repository
	processor *Processor

	mu            sync.Mutex
	subscriptions map[string]domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs are subscribed at start. More can be added with Watch.
	TenantIDs []string
}

// NewWorker creates a new async worker.
func NewWorker(eventBus domain.EventBus, repo domain.Repository, processor *Processor) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:           eventBus,
		repo:          repo,
		processor:     processor,
		subscriptions: make(map[string]domain.Subscription),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Start subscribes to the configured tenants.
func (w *Worker) Start(cfg Config) error {
	for _, tenantID := range cfg.TenantIDs {
		if err := w.Watch(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
	)
	return nil
}

// Watch subscribes to a tenant's submissions. Repeated calls are no-ops.
func (w *Worker) Watch(tenantID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.subscriptions[tenantID]; ok {
		return nil
	}

	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicBatchSubmitted, func(ctx context.Context, msg *domain.Message) error {
		return w.handleSubmission(ctx, tenantID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions[tenantID] = sub

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicBatchSubmitted,
	)
	return nil
}

func (w *Worker) handleSubmission(ctx context.Context, tenantID string, msg *domain.Message) error {
	start := time.Now()

	sub, err := bus.Decode[domain.BatchSubmission](msg)
	if err != nil {
		slog.Error("failed to parse batch submission",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}
	if sub.TenantID != "" {
		tenantID = sub.TenantID
	}
	if sub.Table == nil {
		sub.Table = &domain.Table{}
	}

	run := w.loadRun(ctx, tenantID, sub)
	slog.Debug("processing batch",
		"run_id", run.ID,
		"tenant_id", tenantID,
		"rows", len(sub.Table.Rows),
	)

	// Detection and persistence failures are recorded on the run itself.
	if _, err := w.processor.Process(ctx, tenantID, run, sub.Table); err != nil {
		return nil
	}

	slog.Info("batch processed",
		"run_id", run.ID,
		"tenant_id", tenantID,
		"flagged", run.Report.FlaggedTransactions,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// loadRun returns the stored pending run, or a fresh one when it is unknown.
func (w *Worker) loadRun(ctx context.Context, tenantID string, sub domain.BatchSubmission) *domain.Run {
	if w.repo != nil && sub.RunID != "" {
		run, err := w.repo.GetRun(ctx, tenantID, sub.RunID)
		if err == nil {
			return run
		}
		slog.Warn("submitted run not found, recreating",
			"run_id", sub.RunID,
			"error", err,
		)
	}

	run := NewRun(sub.Source)
	if sub.RunID != "" {
		run.ID = sub.RunID
	}
	return run
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	defer w.mu.Unlock()
	for tenantID, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"tenant_id", tenantID,
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = make(map[string]domain.Subscription)

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Tenants           []string `json:"tenants"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	tenants := make([]string, 0, len(w.subscriptions))
	for tenantID := range w.subscriptions {
		tenants = append(tenants, tenantID)
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Tenants:           tenants,
	}
}
