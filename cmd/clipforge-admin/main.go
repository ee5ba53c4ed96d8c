// Copyright 2025 James Ross
// clipforge-admin is the operator CLI: dead-letter requeue, a manual
// stuck-job sweep (honoring STALE_AFTER_SECONDS), rate-limit seeding, a
// readiness probe, and queue depth stats (printed as JSON or, with
// -format yaml, YAML), plus a
// "serve" mode exposing a thin readiness/stats HTTP surface and the
// standalone cron scheduler. It mirrors cmd/job-queue-system's flag
// style and talks to the same Postgres-backed queue.Engine.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/clipforge/pipeline/internal/admin"
	"github.com/clipforge/pipeline/internal/adminhttp"
	"github.com/clipforge/pipeline/internal/clock"
	"github.com/clipforge/pipeline/internal/config"
	"github.com/clipforge/pipeline/internal/queue"
	"github.com/clipforge/pipeline/internal/scheduler"
	"github.com/clipforge/pipeline/internal/store"
)

func main() {
	var configPath, adminCmd, jobID, outputFormat string

	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	fs.StringVar(&configPath, "config", "config/config.yaml", "Path to YAML config")
	fs.StringVar(&adminCmd, "admin-cmd", "", "stats|ready|requeue-dead-letter|recover-stuck|seed-rate-limits|serve")
	fs.StringVar(&jobID, "job-id", "", "target job id for requeue-dead-letter")
	fs.StringVar(&outputFormat, "format", "json", "json|yaml output format for non-serve commands")
	_ = fs.Parse(os.Args[1:])

	if adminCmd == "" {
		fmt.Fprintln(os.Stderr, "missing required -admin-cmd")
		os.Exit(2)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	pg, err := store.Open(cfg.Postgres.DSN, store.PoolConfig{
		MaxOpenConns:    cfg.Postgres.MaxOpenConns,
		MaxIdleConns:    cfg.Postgres.MaxIdleConns,
		ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect to postgres failed: %v\n", err)
		os.Exit(1)
	}
	defer pg.Close()

	eng := queue.NewEngine(pg, clock.Real{},
		queue.WithBackoff(cfg.Worker.Backoff.Base, cfg.Worker.Backoff.Factor, cfg.Worker.Backoff.Max),
		queue.WithHeartbeatTTL(cfg.Worker.HeartbeatTTL),
	)

	ctx := context.Background()

	if adminCmd == "serve" {
		runServe(ctx, cfg, pg, eng)
		return
	}

	var result any
	switch adminCmd {
	case "stats":
		result, err = admin.Stats(ctx, eng)
	case "ready":
		ready := admin.Ready(ctx, eng, pg.Ping, map[string]string{
			"transcoder": cfg.Transcoder.FFmpegPath,
			"downloader": cfg.Transcoder.DownloadPath,
		})
		if encodeErr := encodeResult(outputFormat, ready); encodeErr != nil {
			fmt.Fprintf(os.Stderr, "failed to encode result: %v\n", encodeErr)
			os.Exit(1)
		}
		if !ready.OK {
			os.Exit(1)
		}
		return
	case "requeue-dead-letter":
		if jobID == "" {
			fmt.Fprintln(os.Stderr, "requeue-dead-letter requires -job-id")
			os.Exit(2)
		}
		result, err = admin.RequeueDeadLetter(ctx, eng, jobID)
	case "recover-stuck":
		result, err = admin.RecoverStuckJobs(ctx, eng, staleAfterFromEnv())
	case "seed-rate-limits":
		result, err = admin.SeedRateLimits(ctx, pg, time.Now())
	default:
		fmt.Fprintf(os.Stderr, "unknown -admin-cmd %q\n", adminCmd)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "admin command failed: %v\n", err)
		os.Exit(1)
	}

	if err := encodeResult(outputFormat, result); err != nil {
		fmt.Fprintf(os.Stderr, "failed to encode result: %v\n", err)
		os.Exit(1)
	}
}

// staleAfterFromEnv reads the STALE_AFTER_SECONDS override for
// recover-stuck, defaulting to 900s when unset or unparsable.
func staleAfterFromEnv() time.Duration {
	const def = 900 * time.Second
	raw := os.Getenv("STALE_AFTER_SECONDS")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return time.Duration(n) * time.Second
}

// encodeResult writes result to stdout as JSON or YAML. YAML is handy
// when an operator pipes admin command output straight into another
// YAML-consuming tool rather than round-tripping through jq.
func encodeResult(format string, result any) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(os.Stdout)
		defer enc.Close()
		return enc.Encode(result)
	default:
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
}

// runServe starts the admin HTTP surface (/healthz, /stats) and the
// standalone cron scheduler (seed-rate-limits, cleanup-storage), blocking
// until SIGINT/SIGTERM.
func runServe(ctx context.Context, cfg *config.Config, pg *store.Postgres, eng *queue.Engine) {
	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	sched, err := scheduler.New(pg, eng, cfg.Scheduler.SeedRateLimitsCron, cfg.Scheduler.CleanupStorageCron, log)
	if err != nil {
		log.Fatal("scheduler init failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(ctx)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("signal received, shutting down admin server")
		cancel()
	}()

	go sched.Start(ctx)

	log.Info("admin HTTP surface listening", zap.String("addr", cfg.Scheduler.ListenAddr))
	if err := adminhttp.ListenAndServe(ctx, cfg.Scheduler.ListenAddr, eng); err != nil {
		log.Fatal("admin HTTP server failed", zap.Error(err))
	}
}
