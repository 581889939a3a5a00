package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/vnmchuo/forecast-api/config"
	"github.com/vnmchuo/forecast-api/internal/api"
	"github.com/vnmchuo/forecast-api/internal/audit"
	"github.com/vnmchuo/forecast-api/internal/job"
	"github.com/vnmchuo/forecast-api/internal/metrics"
	"github.com/vnmchuo/forecast-api/internal/predictor"
	"github.com/vnmchuo/forecast-api/internal/telemetry"
	"github.com/vnmchuo/forecast-api/pkg/ratelimit"
)

func main() {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// 2. Init telemetry
	shutdownTracer, err := telemetry.InitTracer("forecast-api", cfg.OTELExporterType, cfg.OTELExporterEndpoint)
	if err != nil {
		log.Fatalf("failed to init tracer: %v", err)
	}
	defer shutdownTracer()

	ctx := context.Background()

	// 3. Load the model artifact. A missing or broken artifact is not
	// fatal: the service stays up, reports model_loaded=false, and every
	// job fails during processing.
	var pred predictor.Predictor
	modelLoaded := false
	if model, err := predictor.LoadModel(cfg.ModelPath); err != nil {
		log.Printf("failed to load model from %s: %v", cfg.ModelPath, err)
		pred = predictor.Unavailable{}
	} else {
		log.Printf("model loaded (version %s)", model.Version())
		pred = model
		modelLoaded = true
	}

	// 4. Connect PostgreSQL for the prediction audit log (optional)
	var auditStore audit.Store = audit.NopStore{}
	if cfg.PostgresDSN != "" {
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("failed to connect postgres: %v", err)
		}
		defer pool.Close()

		if err := pool.Ping(ctx); err != nil {
			log.Fatalf("failed to ping postgres: %v", err)
		}
		if err := audit.EnsureSchema(ctx, pool); err != nil {
			log.Fatalf("failed to prepare audit schema: %v", err)
		}
		log.Println("PostgreSQL connected, audit log enabled")
		auditStore = audit.NewPostgresStore(pool)
	}

	// 5. Connect Redis for rate limiting (optional)
	var limiter *ratelimit.Limiter
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("failed to ping redis: %v", err)
		}
		log.Println("Redis connected, rate limiting enabled")
		limiter = ratelimit.NewLimiter(rdb, cfg.RateLimitPerMinute)
	}

	// 6. Init metrics
	m := metrics.New(prometheus.DefaultRegisterer)

	// 7. Core: registry, queue, reporter
	registry := job.NewRegistry()
	queue := job.NewQueue()
	reporter := job.NewStatusReporter(registry, modelLoaded)

	// 8. Start the single background worker
	tracer := otel.GetTracerProvider().Tracer("forecast-api")
	worker := job.NewWorker(registry, queue, pred,
		job.WithAuditStore(auditStore),
		job.WithMetrics(m),
		job.WithTracer(tracer),
		job.WithLogger(slog.Default()),
	)

	workerCtx, stopWorker := context.WithCancel(ctx)
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		worker.Run(workerCtx)
	}()

	// 9. HTTP surface
	handler := api.NewHandler(registry, queue, reporter, limiter, m, tracer)
	router := handler.Router()
	router.Handle("/metrics", promhttp.Handler())

	// 10. Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Forecast API starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-quit
	log.Println("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("forced shutdown: %v", err)
	}

	stopWorker()
	select {
	case <-workerDone:
	case <-shutdownCtx.Done():
		log.Println("worker did not stop in time")
	}
	log.Println("Server stopped")
}
