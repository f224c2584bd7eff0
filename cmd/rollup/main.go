// Package main is the scheduled rollup daemon. It rolls raw events into
// daily aggregates shortly after each UTC midnight and purges raw events
// past the retention window once their days are confirmed rolled up.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"

	"github.com/evermart/analytics/internal/config"
	"github.com/evermart/analytics/internal/dailystats"
	"github.com/evermart/analytics/internal/event"
	"github.com/evermart/analytics/internal/middleware"
)

func main() {
	configPath := flag.String("config", "", "path to optional YAML config file")
	runOnce := flag.Bool("run-once", false, "run one rollup and exit")
	date := flag.String("date", "", "date to roll up (YYYY-MM-DD), defaults to yesterday; only with -run-once")
	backfillFrom := flag.String("backfill-from", "", "start of backfill range (YYYY-MM-DD); only with -run-once")
	backfillTo := flag.String("backfill-to", "", "end of backfill range (YYYY-MM-DD); only with -run-once")
	flag.Parse()

	cfg, errs := config.Load(*configPath)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		}
		os.Exit(1)
	}
	if cfg.DatabaseURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is required for the rollup daemon")
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)

	db, err := sql.Open("postgres", cfg.DatabaseURL)
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

	events := event.NewPostgresStore(db, logger)
	repo := dailystats.NewPostgresRepository(db, logger)
	agg := dailystats.NewAggregator(repo, events, logger, nil)

	if *runOnce {
		if err := rollOnce(agg, *date, *backfillFrom, *backfillTo); err != nil {
			logger.Error("rollup failed", "error", err)
			os.Exit(1)
		}
		return
	}

	c := cron.New()

	_, err = c.AddFunc(cfg.RollupSchedule, func() {
		rows, err := agg.RollupYesterday(context.Background())
		if err != nil {
			logger.Error("scheduled rollup failed", "error", err)
			return
		}
		logger.Info("scheduled rollup completed", "rows", rows)
	})
	if err != nil {
		logger.Error("failed to schedule rollup", "schedule", cfg.RollupSchedule, "error", err)
		os.Exit(1)
	}

	_, err = c.AddFunc(cfg.CleanupSchedule, func() {
		deleted, err := agg.Cleanup(context.Background(), cfg.Retention())
		if err != nil {
			logger.Error("scheduled cleanup failed", "error", err)
			return
		}
		logger.Info("scheduled cleanup completed", "events_deleted", deleted)
	})
	if err != nil {
		logger.Error("failed to schedule cleanup", "schedule", cfg.CleanupSchedule, "error", err)
		os.Exit(1)
	}

	c.Start()
	logger.Info("rollup daemon started",
		"rollup_schedule", cfg.RollupSchedule,
		"cleanup_schedule", cfg.CleanupSchedule,
		"retention_days", cfg.RetentionDays)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down...")
	<-c.Stop().Done()
	logger.Info("rollup daemon stopped")
}

// rollOnce runs a single rollup: a backfill range when both bounds are
// given, otherwise one date (yesterday by default).
func rollOnce(agg *dailystats.Aggregator, date, from, to string) error {
	ctx := context.Background()

	if (from == "") != (to == "") {
		return fmt.Errorf("backfill needs both -backfill-from and -backfill-to")
	}
	if from != "" {
		fromDate, err := time.Parse(time.DateOnly, from)
		if err != nil {
			return fmt.Errorf("invalid -backfill-from: %w", err)
		}
		toDate, err := time.Parse(time.DateOnly, to)
		if err != nil {
			return fmt.Errorf("invalid -backfill-to: %w", err)
		}
		rows, err := agg.RollupRange(ctx, fromDate, toDate)
		if err != nil {
			return err
		}
		slog.Info("backfill completed", "from", from, "to", to, "rows", rows)
		return nil
	}

	target := time.Now().UTC().AddDate(0, 0, -1)
	if date != "" {
		var err error
		target, err = time.Parse(time.DateOnly, date)
		if err != nil {
			return fmt.Errorf("invalid -date: %w", err)
		}
	}
	rows, err := agg.RollupDate(ctx, target)
	if err != nil {
		return err
	}
	slog.Info("rollup completed", "date", target.Format(time.DateOnly), "rows", rows)
	return nil
}
