// Copyright 2025 James Ross
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/clipforge/pipeline/internal/adapters/logging"
	"github.com/clipforge/pipeline/internal/adapters/notify"
	"github.com/clipforge/pipeline/internal/adapters/oauth"
	"github.com/clipforge/pipeline/internal/adapters/publish"
	"github.com/clipforge/pipeline/internal/adapters/storage"
	"github.com/clipforge/pipeline/internal/adapters/transcoder"
	"github.com/clipforge/pipeline/internal/adapters/transcriber"
	"github.com/clipforge/pipeline/internal/admission"
	"github.com/clipforge/pipeline/internal/clock"
	"github.com/clipforge/pipeline/internal/config"
	"github.com/clipforge/pipeline/internal/idempotency"
	"github.com/clipforge/pipeline/internal/obs"
	"github.com/clipforge/pipeline/internal/pipeline"
	"github.com/clipforge/pipeline/internal/ports"
	"github.com/clipforge/pipeline/internal/queue"
	"github.com/clipforge/pipeline/internal/reaper"
	"github.com/clipforge/pipeline/internal/store"
	"github.com/clipforge/pipeline/internal/worker"
)

var version = "dev"

func main() {
	var configPath string
	var showVersion bool
	var migrate bool

	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	fs.StringVar(&configPath, "config", "config/config.yaml", "Path to YAML config")
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	fs.BoolVar(&migrate, "migrate", false, "Apply pending schema migrations and exit")
	_ = fs.Parse(os.Args[1:])

	if showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if migrate {
		if err := store.Migrate(cfg.Postgres.DSN); err != nil {
			fmt.Fprintf(os.Stderr, "migration failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("migrations applied")
		return
	}

	log, err := obs.NewLogger(cfg.Observability.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	tp, err := obs.MaybeInitTracing(cfg)
	if err != nil {
		log.Warn("tracing init failed", obs.Err(err))
	}
	if tp != nil {
		defer func() { _ = tp.Shutdown(context.Background()) }()
	}

	for _, bin := range []string{cfg.Transcoder.FFmpegPath, cfg.Transcoder.DownloadPath} {
		if _, lookErr := exec.LookPath(bin); lookErr != nil {
			log.Fatal("required external binary missing", obs.String("binary", bin), obs.Err(lookErr))
		}
	}

	pg, err := store.Open(cfg.Postgres.DSN, store.PoolConfig{
		MaxOpenConns:    cfg.Postgres.MaxOpenConns,
		MaxIdleConns:    cfg.Postgres.MaxIdleConns,
		ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
	})
	if err != nil {
		log.Fatal("connect to postgres failed", obs.Err(err))
	}
	defer pg.Close()

	readyCheck := func(c context.Context) error {
		_, err := pg.QueueDepth(c)
		return err
	}
	httpSrv := obs.StartHTTPServer(cfg, readyCheck)
	defer func() { _ = httpSrv.Shutdown(context.Background()) }()

	realClock := clock.Real{}
	eng := queue.NewEngine(pg, realClock,
		queue.WithBackoff(cfg.Worker.Backoff.Base, cfg.Worker.Backoff.Factor, cfg.Worker.Backoff.Max),
		queue.WithHeartbeatTTL(cfg.Worker.HeartbeatTTL),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	obs.StartQueueLengthUpdater(ctx, cfg, eng, log)

	wc, redisClient := buildWorkerContext(cfg, pg, eng, realClock, log)

	var notifier ports.Notifier
	if n, err := notify.New(cfg.Notifier); err != nil {
		log.Warn("notifier disabled", obs.Err(err))
	} else {
		notifier = n
	}

	dispatcher := pipeline.NewDispatcher()
	wrk := worker.New(cfg, eng, wc, dispatcher, notifier, log, redisClient)
	rep := reaper.New(eng, log, cfg.Worker.ReaperInterval)

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("signal received, shutting down", obs.String("signal", sig.String()))
		cancel()
		select {
		case sig2 := <-sigCh:
			log.Warn("second signal received, exiting immediately", obs.String("signal", sig2.String()))
			os.Exit(1)
		case <-time.After(cfg.Worker.ShutdownTimeout + 5*time.Second):
		}
	}()

	go rep.Run(ctx)
	if err := wrk.Run(ctx); err != nil {
		log.Fatal("worker error", obs.Err(err))
	}
}

func buildWorkerContext(cfg *config.Config, pg *store.Postgres, eng *queue.Engine, c clock.Clock, log *zap.Logger) (*pipeline.WorkerContext, *redis.Client) {
	zapLog := logging.NewZap(log)
	errReporter := logging.NoopErrorReporter{Log: zapLog}

	stor, err := storage.New(cfg.Storage)
	if err != nil {
		log.Fatal("storage adapter init failed", obs.Err(err))
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	return &pipeline.WorkerContext{
		Store:       pg,
		Storage:     stor,
		Queue:       eng,
		Clock:       c,
		Logger:      zapLog,
		Errors:      errReporter,
		Usage:       admission.NewUsage(pg),
		Idempotency: idempotency.NewRedisReservation(redisClient, "clipforge", cfg.Redis.TTL),
		Transcriber: transcriber.New(cfg.Transcriber),
		Transcoder:  transcoder.New(cfg.Transcoder),
		TokenProviders: map[store.Platform]ports.TokenProvider{
			store.PlatformTikTok:  oauth.New(pg, cfg.Platforms.TikTok, ""),
			store.PlatformYouTube: oauth.New(pg, cfg.Platforms.YouTube, "https://oauth2.googleapis.com/token"),
		},
		Publishers: map[store.Platform]ports.Publisher{
			store.PlatformTikTok:  publish.NewTikTok(""),
			store.PlatformYouTube: publish.NewYouTube(""),
		},
		TempDirRoot: cfg.Worker.TempDir,
	}, redisClient
}
