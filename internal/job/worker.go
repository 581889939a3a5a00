package job

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/vnmchuo/forecast-api/internal/audit"
	"github.com/vnmchuo/forecast-api/internal/forecast"
	"github.com/vnmchuo/forecast-api/internal/metrics"
	"github.com/vnmchuo/forecast-api/internal/predictor"
)

// Worker drives jobs through the status state machine: dequeue, mark
// processing, predict, mark completed or failed. There is exactly one
// worker per process, so processing is strictly sequential and completion
// order equals submission order.
type Worker struct {
	registry  *Registry
	queue     *Queue
	predictor predictor.Predictor
	audit     audit.Store
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	logger    *slog.Logger
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithAuditStore sets the store that receives finished-prediction records.
func WithAuditStore(s audit.Store) WorkerOption {
	return func(w *Worker) { w.audit = s }
}

// WithMetrics sets the Prometheus collectors updated per job.
func WithMetrics(m *metrics.Metrics) WorkerOption {
	return func(w *Worker) { w.metrics = m }
}

// WithTracer sets the tracer used for per-job spans.
func WithTracer(t trace.Tracer) WorkerOption {
	return func(w *Worker) { w.tracer = t }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) WorkerOption {
	return func(w *Worker) { w.logger = l }
}

// NewWorker creates a worker bound to a registry, queue, and predictor.
func NewWorker(registry *Registry, queue *Queue, p predictor.Predictor, opts ...WorkerOption) *Worker {
	w := &Worker{
		registry:  registry,
		queue:     queue,
		predictor: p,
		audit:     audit.NopStore{},
		tracer:    noop.NewTracerProvider().Tracer("worker"),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run processes jobs until the context is cancelled. A single job's
// failure is recorded on the job and never terminates the loop.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("worker started")
	for {
		id, ok := w.queue.Dequeue(ctx)
		if !ok {
			w.logger.Info("worker stopped")
			return
		}
		w.process(ctx, id)
	}
}

func (w *Worker) process(ctx context.Context, id string) {
	ctx, span := w.tracer.Start(ctx, "worker.process",
		trace.WithAttributes(attribute.String("job_id", id)))
	defer span.End()

	j, ok := w.registry.Get(id)
	if !ok {
		// Ids come from the registry's own Create, so this should not
		// happen; skip rather than crash the loop.
		w.logger.Warn("dequeued unknown job", slog.String("job_id", id))
		return
	}

	w.registry.MarkProcessing(id)
	start := time.Now()

	value, err := w.predictor.Predict(ctx, j.Request)
	elapsed := time.Since(start)

	if w.metrics != nil {
		w.metrics.PredictionDuration.Observe(elapsed.Seconds())
	}

	if err != nil {
		w.registry.MarkFailed(id, err.Error())
		if w.metrics != nil {
			w.metrics.JobsFailed.Inc()
		}
		span.RecordError(err)
		w.logger.Error("job failed",
			slog.String("job_id", id),
			slog.String("error", err.Error()),
		)
		w.logAudit(id, j.Request, string(StatusFailed), nil, err.Error(), elapsed)
		return
	}

	result := forecast.Prediction{
		PredictedSales: value,
		Date:           j.Request.Date,
		Store:          j.Request.Store,
		Item:           j.Request.Item,
	}
	w.registry.MarkCompleted(id, result)
	if w.metrics != nil {
		w.metrics.JobsCompleted.Inc()
	}
	w.logger.Info("job completed",
		slog.String("job_id", id),
		slog.Float64("predicted_sales", value),
		slog.Duration("elapsed", elapsed),
	)
	w.logAudit(id, j.Request, string(StatusCompleted), &value, "", elapsed)
}

// logAudit persists the finished prediction off the processing path, the
// same way the request path logs usage: failures are logged and dropped.
func (w *Worker) logAudit(id string, req forecast.Request, status string, value *float64, errMsg string, elapsed time.Duration) {
	go func() {
		rec := &audit.Record{
			JobID:          id,
			Date:           req.Date,
			Store:          req.Store,
			Item:           req.Item,
			Status:         status,
			PredictedSales: value,
			Error:          errMsg,
			DurationMs:     elapsed.Milliseconds(),
		}
		if err := w.audit.LogPrediction(context.Background(), rec); err != nil {
			w.logger.Error("audit log failed",
				slog.String("job_id", id),
				slog.String("error", err.Error()),
			)
		}
	}()
}
