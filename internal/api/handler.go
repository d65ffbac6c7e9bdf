package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/ensemble"
	"github.com/opensource-finance/kestrel/internal/export"
	"github.com/opensource-finance/kestrel/internal/ingest"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// uploadWindow is the throttle window for Upload.PerMinute.
const uploadWindow = time.Minute

// Handler holds dependencies for API handlers.
type Handler struct {
	repo      domain.Repository
	cache     domain.Cache
	processor *worker.Processor
	worker    *worker.Worker
	upload    domain.UploadConfig
	version   string
}

// NewHandler creates a new API handler. Repository, cache and worker may be nil.
func NewHandler(processor *worker.Processor, w *worker.Worker, repo domain.Repository, cache domain.Cache, upload domain.UploadConfig, version string) *Handler {
	return &Handler{
		repo:      repo,
		cache:     cache,
		processor: processor,
		worker:    w,
		upload:    upload,
		version:   version,
	}
}

// PredictResponse is the response for POST /predict.
type PredictResponse struct {
	RunID    string                 `json:"run_id"`
	Status   string                 `json:"status"`
	Summary  *domain.Report         `json:"summary,omitempty"`
	Records  []*domain.ScoredRecord `json:"records,omitempty"`
	Metadata struct {
		TraceID string `json:"trace_id"`
		TotalMs int64  `json:"total_ms"`
		Version string `json:"version"`
	} `json:"metadata"`
}

// Predict handles POST /predict: a multipart CSV upload in field "file".
//
// Query parameters:
//
//	async=true       queue the batch for the worker and return 202
//	include=records  add per-record outputs to the JSON response
//	format=csv       return the scored CSV instead of JSON
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if !h.allowUpload(r, tenantID) {
		metrics.UploadsThrottled.Inc()
		writeJSON(w, http.StatusTooManyRequests, map[string]string{
			"error": "upload limit reached, retry later",
		})
		return
	}

	if h.upload.MaxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.upload.MaxBytes)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{
				"error": fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit),
			})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "multipart field 'file' is required",
		})
		return
	}
	defer file.Close()

	table, err := ingest.ReadCSV(file)
	if err != nil {
		writeError(w, err)
		return
	}

	query := r.URL.Query()
	var resp PredictResponse
	resp.Metadata.TraceID = GetTraceID(ctx)
	resp.Metadata.Version = h.version

	if query.Get("async") == "true" {
		if h.worker != nil {
			if err := h.worker.Watch(tenantID); err != nil {
				slog.Error("failed to watch tenant", "tenant_id", tenantID, "error", err)
			}
		}
		run, err := h.processor.Submit(ctx, tenantID, header.Filename, table)
		if errors.Is(err, worker.ErrNoBus) {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"error": "asynchronous processing is not available",
			})
			return
		}
		if err != nil {
			writeError(w, err)
			return
		}
		resp.RunID = run.ID
		resp.Status = run.Status
		resp.Metadata.TotalMs = time.Since(start).Milliseconds()
		writeJSON(w, http.StatusAccepted, resp)
		return
	}

	run := worker.NewRun(header.Filename)
	res, err := h.processor.Process(ctx, tenantID, run, table)
	if err != nil {
		writeError(w, err)
		return
	}

	if query.Get("format") == "csv" {
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="results.csv"`)
		w.Header().Set(RunIDHeader, run.ID)
		if err := export.WriteResults(w, table.Columns, export.SortByRisk(res.Records)); err != nil {
			slog.Error("failed to write results", "run_id", run.ID, "error", err)
		}
		return
	}

	resp.RunID = run.ID
	resp.Status = run.Status
	resp.Summary = res.Report
	if query.Get("include") == "records" {
		resp.Records = res.Records
	}
	resp.Metadata.TotalMs = time.Since(start).Milliseconds()
	writeJSON(w, http.StatusOK, resp)
}

// allowUpload counts the upload against the tenant's per-minute limit.
// A failing counter lets the upload through.
func (h *Handler) allowUpload(r *http.Request, tenantID string) bool {
	if h.cache == nil || h.upload.PerMinute <= 0 {
		return true
	}
	n, err := h.cache.IncrementCounter(r.Context(), tenantID, "uploads", uploadWindow)
	if err != nil {
		slog.Warn("upload counter unavailable", "tenant_id", tenantID, "error", err)
		return true
	}
	return n <= h.upload.PerMinute
}

// GetRun handles GET /runs/{id}.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	runID := chi.URLParam(r, "id")

	if h.cache != nil {
		if report, err := h.cache.GetReport(ctx, tenantID, runID); err == nil && report != nil {
			writeJSON(w, http.StatusOK, domain.Run{
				ID:       runID,
				TenantID: tenantID,
				Status:   domain.RunCompleted,
				Report:   report,
			})
			return
		}
	}

	if h.repo == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not found"})
		return
	}

	run, err := h.repo.GetRun(ctx, tenantID, runID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// ListRuns handles GET /runs?limit=.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeJSON(w, http.StatusOK, map[string]any{"runs": []*domain.Run{}, "count": 0})
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := h.repo.ListRuns(r.Context(), GetTenantID(r.Context()), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if runs == nil {
		runs = []*domain.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"runs":  runs,
		"count": len(runs),
	})
}

// ListRecords handles GET /runs/{id}/records?min_risk=.
func (h *Handler) ListRecords(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	runID := chi.URLParam(r, "id")

	minRisk := 0.0
	if v := r.URL.Query().Get("min_risk"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil || parsed < 0 || parsed > 100 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "min_risk must be a number between 0 and 100",
			})
			return
		}
		minRisk = parsed
	}

	if h.repo == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not found"})
		return
	}
	if _, err := h.repo.GetRun(ctx, tenantID, runID); err != nil {
		writeError(w, err)
		return
	}

	records, err := h.repo.ListRecords(ctx, tenantID, runID, minRisk)
	if err != nil {
		writeError(w, err)
		return
	}
	if records == nil {
		records = []*domain.ScoredRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"run_id":  runID,
		"records": records,
		"count":   len(records),
	})
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready handles GET /ready.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.processor == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"ready": "false"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ready": "true"})
}

// writeError maps pipeline and storage errors to HTTP responses.
func writeError(w http.ResponseWriter, err error) {
	var fitErr *ensemble.FitError
	switch {
	case errors.As(err, &fitErr):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error": err.Error(),
			"kind":  "fit",
			"model": fitErr.Model,
		})
	case errors.Is(err, ensemble.ErrDegenerate):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error": err.Error(),
			"kind":  "fit",
		})
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrNoValidRecords):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error": err.Error(),
			"kind":  "validation",
		})
	case errors.Is(err, repository.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not found"})
	default:
		slog.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "internal server error",
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
