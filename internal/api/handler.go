package api

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vnmchuo/forecast-api/internal/forecast"
	"github.com/vnmchuo/forecast-api/internal/job"
	"github.com/vnmchuo/forecast-api/internal/metrics"
	"github.com/vnmchuo/forecast-api/pkg/ratelimit"
)

// Handler serves the forecasting HTTP surface. Submissions are validated
// synchronously and enqueued for the background worker; everything else is
// a non-blocking read of registry state.
type Handler struct {
	registry *job.Registry
	queue    *job.Queue
	reporter *job.StatusReporter
	limiter  *ratelimit.Limiter // nil disables rate limiting
	metrics  *metrics.Metrics   // nil disables metrics
	tracer   trace.Tracer
}

func NewHandler(
	registry *job.Registry,
	queue *job.Queue,
	reporter *job.StatusReporter,
	limiter *ratelimit.Limiter,
	m *metrics.Metrics,
	tracer trace.Tracer,
) *Handler {
	return &Handler{
		registry: registry,
		queue:    queue,
		reporter: reporter,
		limiter:  limiter,
		metrics:  m,
		tracer:   tracer,
	}
}

// Router wires the API routes with the standard middleware stack.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "forecast-api"})
	})

	r.Get("/status", h.HandleStatus)
	r.Post("/predict", h.HandlePredict)
	r.Get("/status/{job_id}", h.HandleJobStatus)
	r.Get("/jobs", h.HandleListJobs)

	return r
}

// HandleStatus reports service health and job counts.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	sum := h.reporter.Summary()

	byStatus := make(map[string]int, len(sum.ByStatus))
	for status, n := range sum.ByStatus {
		byStatus[string(status)] = n
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "online",
		"model_loaded":   sum.PredictorAvailable,
		"active_jobs":    sum.TotalJobs,
		"jobs_by_status": byStatus,
	})
}

// HandlePredict validates a submission, creates a pending job, and enqueues
// it. The response returns immediately; clients poll /status/{job_id}.
func (h *Handler) HandlePredict(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var raw map[string]any
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil || raw == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "No data provided or invalid JSON"})
		return
	}

	if h.limiter != nil {
		allowed, err := h.limiter.Allow(ctx, clientIP(r))
		if err != nil || !allowed {
			w.Header().Set("Retry-After", "60")
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
			return
		}
	}

	req, err := forecast.ParseSubmission(raw)
	if err != nil {
		var verr *forecast.ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": verr.Message})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	_, span := h.tracer.Start(ctx, "api.predict")
	defer span.End()

	j := h.registry.Create(req)
	h.queue.Enqueue(j.ID)

	span.SetAttributes(
		attribute.String("job_id", j.ID),
		attribute.String("forecast_date", req.Date),
		attribute.Int("store", req.Store),
		attribute.Int("item", req.Item),
	)
	if h.metrics != nil {
		h.metrics.JobsSubmitted.Inc()
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"job_id":       j.ID,
		"status":       string(j.Status),
		"submitted_at": j.SubmittedAt,
	})
}

// HandleJobStatus returns the detailed state of a single job.
func (h *Handler) HandleJobStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "job_id")

	j, ok := h.registry.Get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error":  "Job not found",
			"job_id": id,
		})
		return
	}

	writeJSON(w, http.StatusOK, jobDetail(j))
}

// HandleListJobs lists jobs in submission order, optionally filtered by
// status and truncated to the first N matches.
func (h *Handler) HandleListJobs(w http.ResponseWriter, r *http.Request) {
	filter := job.Status(r.URL.Query().Get("status"))

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}

	jobs := h.registry.List(filter, limit)

	entries := make([]map[string]any, 0, len(jobs))
	for _, j := range jobs {
		entry := jobDetail(j)
		entry["data"] = j.Request
		entries = append(entries, entry)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"total_jobs":    h.registry.Len(),
		"filtered_jobs": len(entries),
		"jobs":          entries,
	})
}

// jobDetail renders the wire shape of a job: terminal fields appear only
// once the job has finished, and exactly one of result/error is present.
func jobDetail(j job.Job) map[string]any {
	resp := map[string]any{
		"job_id":       j.ID,
		"status":       string(j.Status),
		"submitted_at": j.SubmittedAt,
	}
	if j.CompletedAt != nil {
		resp["completed_at"] = *j.CompletedAt
	}
	switch j.Status {
	case job.StatusCompleted:
		resp["result"] = j.Result
	case job.StatusFailed:
		resp["error"] = j.Error
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// clientIP trusts the RealIP middleware when present and falls back to
// splitting the remote address.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
