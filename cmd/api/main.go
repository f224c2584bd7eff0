// Package main is the entry point for the analytics API server.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/evermart/analytics/internal/analyzer"
	"github.com/evermart/analytics/internal/api"
	"github.com/evermart/analytics/internal/config"
	"github.com/evermart/analytics/internal/dailystats"
	"github.com/evermart/analytics/internal/entity"
	"github.com/evermart/analytics/internal/event"
	"github.com/evermart/analytics/internal/health"
	"github.com/evermart/analytics/internal/ingest"
	"github.com/evermart/analytics/internal/jobs"
	"github.com/evermart/analytics/internal/middleware"
	"github.com/evermart/analytics/internal/queue"
	"github.com/evermart/analytics/internal/quickstats"
	"github.com/evermart/analytics/internal/resolver"
)

func main() {
	configPath := flag.String("config", "", "path to optional YAML config file")
	help := flag.Bool("help", false, "display help message")
	flag.Parse()

	if *help {
		fmt.Println("Evermart Analytics API Server")
		fmt.Println()
		fmt.Println("Usage: api [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configPath)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		}
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)
	logger.Info("configuration loaded", "summary", cfg.LogSummary())

	// Shared Prometheus registry; every component registers its own
	// collectors against it.
	registry := prometheus.NewRegistry()

	httpMetrics := middleware.NewMetrics()
	ingestMetrics := ingest.NewMetrics()
	jobMetrics := jobs.NewMetrics()
	rollupMetrics := dailystats.NewMetrics()
	sourceMetrics := resolver.NewSourceMetrics()
	for name, reg := range map[string]interface {
		Register(prometheus.Registerer) error
	}{
		"http":    httpMetrics,
		"ingest":  ingestMetrics,
		"jobs":    jobMetrics,
		"rollup":  rollupMetrics,
		"sources": sourceMetrics,
	} {
		if err := reg.Register(registry); err != nil {
			logger.Error("failed to register metrics", "component", name, "error", err)
			os.Exit(1)
		}
	}

	// Storage: Postgres when configured, in-memory otherwise. The
	// in-memory path exists for development and tests.
	var (
		db        *sql.DB
		events    event.Store
		daily     dailystats.Repository
		quick     quickstats.Repository
		names     entity.Directory
		dbChecker api.HealthChecker
	)
	if cfg.DatabaseURL != "" {
		var err error
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		pingCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := db.PingContext(pingCtx); err != nil {
			cancel()
			logger.Error("failed to ping database", "error", err)
			os.Exit(1)
		}
		cancel()

		events = event.NewPostgresStore(db, logger)
		daily = dailystats.NewPostgresRepository(db, logger)
		quick = quickstats.NewPostgresRepository(db, logger)
		names = entity.NewPostgresDirectory(db)
		dbChecker = health.NewDBChecker(db)
		logger.Info("using postgres storage")
	} else {
		memEvents := event.NewInMemoryStore()
		events = memEvents
		daily = dailystats.NewInMemoryRepository(memEvents)
		quick = quickstats.NewInMemoryRepository()
		names = entity.NewInMemoryDirectory()
		logger.Warn("DATABASE_URL not set, using in-memory storage")
	}

	// Queue: Redis when configured, in-memory otherwise.
	var (
		q            queue.Queue
		redisChecker api.HealthChecker
	)
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		q = queue.NewRedisQueue(client, logger)
		redisChecker = health.NewRedisChecker(client)
		logger.Info("using redis queue", "addr", cfg.RedisAddr)
	} else {
		q = queue.NewInMemoryQueue()
		logger.Warn("REDIS_ADDR not set, using in-memory queue")
	}
	defer q.Close()

	// Ingestion pipeline: producer feeds the queue, workers drain it
	// into the event store.
	producer := ingest.NewProducer(q, logger, ingestMetrics)
	worker := ingest.NewWorker(events, quick, logger, ingestMetrics, jobMetrics)

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	for i := 0; i < cfg.WorkerConcurrency; i++ {
		go worker.Run(workerCtx, q)
	}
	logger.Info("ingestion workers started", "concurrency", cfg.WorkerConcurrency)

	// Read side: tiered resolver, analyzers, on-demand rollups.
	res := resolver.NewResolver(events, daily, quick, logger, sourceMetrics)
	anl := analyzer.NewAnalyzer(res, events, names, logger)
	reg := analyzer.NewRegistry(anl)
	agg := dailystats.NewAggregator(daily, events, logger, rollupMetrics)

	handlers := &api.Handlers{
		Events:    api.NewEventHandlers(producer, logger),
		Analytics: api.NewAnalyticsHandlers(res, anl, reg, agg, logger),
		Queue:     api.NewQueueHandlers(q, nil, logger),
		Health: api.NewHealthHandlers(api.HealthHandlersConfig{
			DBChecker:    dbChecker,
			RedisChecker: redisChecker,
		}),
	}

	mux := http.NewServeMux()
	handlers.Register(mux)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	// Apply middleware: RequestID -> Logging -> CORS -> HTTPMetrics.
	// CORS sits inside Logging so rejected origins still show up in the
	// request log.
	cors := middleware.CORS(middleware.CORSConfig{AllowedOrigins: cfg.AllowedOrigins})
	handler := middleware.RequestID(middleware.Logging(logger)(cors(middleware.HTTPMetrics(httpMetrics)(mux))))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting server", "port", cfg.Port, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Stop accepting new HTTP work first, then stop the workers.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	stopWorkers()

	logger.Info("server stopped")
}
