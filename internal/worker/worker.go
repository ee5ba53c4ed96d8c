// Copyright 2025 James Ross
package worker

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/clipforge/pipeline/internal/breaker"
	"github.com/clipforge/pipeline/internal/config"
	"github.com/clipforge/pipeline/internal/obs"
	"github.com/clipforge/pipeline/internal/pipeline"
	"github.com/clipforge/pipeline/internal/pipelineerr"
	"github.com/clipforge/pipeline/internal/ports"
	"github.com/clipforge/pipeline/internal/queue"
	"github.com/clipforge/pipeline/internal/store"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// breakerStateKeyPrefix namespaces the Redis keys other worker replicas and
// operator tooling read to see this process's per-provider circuit breaker
// states without scraping its Prometheus endpoint directly. The full key is
// breakerStateKeyPrefix + provider, e.g. "clipforge:breaker:state:transcoder".
const breakerStateKeyPrefix = "clipforge:breaker:state:"

// breakerProviderKey maps a job kind to the external dependency whose
// breaker should gate it. HIGHLIGHT_DETECT runs entirely against the
// downloaded transcript (no flaky external call) and CLEANUP_STORAGE only
// issues storage deletes, which the Storage port retries on its own; both
// return "" and are never gated by a breaker.
func breakerProviderKey(k store.Kind) string {
	switch k {
	case store.KindIngestURL:
		return "downloader"
	case store.KindTranscribe:
		return "transcriber"
	case store.KindClipRender, store.KindThumbnailGen:
		return "transcoder"
	case store.KindPublishTikTok:
		return "publish:tiktok"
	case store.KindPublishYouTube:
		return "publish:youtube"
	default:
		return ""
	}
}

// Worker is the worker runtime: a pool of goroutines that claim jobs
// from the queue engine, dispatch them through the pipeline dispatcher,
// pump heartbeats while a job is in flight, and resolve the outcome
// through Finish. Breakers come from a per-dependency breaker.Registry
// so a degraded transcriber can't stall clip renders or publishes.
type Worker struct {
	engine     *queue.Engine
	dispatcher *pipeline.Dispatcher
	wc         *pipeline.WorkerContext
	log        *zap.Logger
	breakers   *breaker.Registry
	notifier   ports.Notifier
	redis      *redis.Client

	concurrency       int
	kinds             []store.Kind
	pollMin, pollMax  time.Duration
	heartbeatInterval time.Duration
	shutdownTimeout   time.Duration

	baseID string
}

// New builds a Worker from config, the shared WorkerContext, and the
// dispatcher. wc.WorkerID is overridden per goroutine slot. redisClient is
// optional (nil disables cross-process breaker state publishing) and is
// otherwise the same client WorkerContext.Idempotency runs against.
func New(cfg *config.Config, engine *queue.Engine, wc *pipeline.WorkerContext, dispatcher *pipeline.Dispatcher, notifier ports.Notifier, log *zap.Logger, redisClient *redis.Client) *Worker {
	breakers := breaker.NewRegistry(cfg.CircuitBreaker.Window, cfg.CircuitBreaker.CooldownPeriod, cfg.CircuitBreaker.FailureThreshold, cfg.CircuitBreaker.MinSamples)
	var kinds []store.Kind
	for _, k := range cfg.Worker.Kinds {
		kinds = append(kinds, store.Kind(k))
	}
	host, _ := os.Hostname()
	base := fmt.Sprintf("%s-%d-%d", host, os.Getpid(), time.Now().UnixNano())
	return &Worker{
		engine:            engine,
		dispatcher:        dispatcher,
		wc:                wc,
		log:               log,
		breakers:          breakers,
		notifier:          notifier,
		redis:             redisClient,
		concurrency:       cfg.Worker.Concurrency,
		kinds:             kinds,
		pollMin:           cfg.Worker.PollMinInterval,
		pollMax:           cfg.Worker.PollMaxInterval,
		heartbeatInterval: cfg.Worker.HeartbeatInterval,
		shutdownTimeout:   cfg.Worker.ShutdownTimeout,
		baseID:            base,
	}
}

// Run starts the worker pool and blocks until ctx is canceled, then waits
// up to shutdownTimeout for in-flight jobs to finish before returning.
func (w *Worker) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < w.concurrency; i++ {
		wg.Add(1)
		id := fmt.Sprintf("%s-%d", w.baseID, i)
		go func(workerID string) {
			defer wg.Done()
			obs.WorkerActive.Inc()
			defer obs.WorkerActive.Dec()
			w.runOne(ctx, workerID)
		}(id)
	}

	stopBreakerMetric := w.trackBreakerState(ctx)
	defer stopBreakerMetric()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	<-ctx.Done()
	select {
	case <-done:
	case <-time.After(w.shutdownTimeout):
		w.log.Warn("worker shutdown timed out with jobs still in flight")
	}
	return nil
}

func (w *Worker) trackBreakerState(ctx context.Context) func() {
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				for provider, state := range w.breakers.Snapshot() {
					var v float64
					switch state {
					case breaker.Closed:
						v = 0
					case breaker.HalfOpen:
						v = 1
					case breaker.Open:
						v = 2
					}
					obs.CircuitBreakerState.WithLabelValues(provider).Set(v)
					if w.redis != nil {
						key := breakerStateKeyPrefix + provider
						if err := w.redis.Set(ctx, key, v, 30*time.Second).Err(); err != nil {
							w.log.Warn("publish breaker state to redis failed", zap.String("provider", provider), zap.Error(err))
						}
					}
				}
			}
		}
	}()
	return func() { close(stop) }
}

func (w *Worker) runOne(ctx context.Context, workerID string) {
	var wake <-chan string
	if w.notifier != nil {
		if ch, err := w.notifier.Subscribe(ctx); err == nil {
			wake = ch
		}
	}

	poll := w.pollMin
	for ctx.Err() == nil {
		job, err := w.engine.Claim(ctx, workerID, w.kinds, nil)
		if err != nil {
			w.log.Warn("claim failed", obs.Err(err))
			w.sleep(ctx, poll, wake)
			continue
		}
		if job == nil {
			w.sleep(ctx, poll, wake)
			poll = nextPollInterval(poll, w.pollMax)
			continue
		}

		poll = w.pollMin
		obs.JobsConsumed.Inc()
		w.process(ctx, workerID, job)
	}
}

func (w *Worker) sleep(ctx context.Context, d time.Duration, wake <-chan string) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	case <-wake:
	}
}

func nextPollInterval(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		return max
	}
	return next
}

func (w *Worker) process(ctx context.Context, workerID string, job *store.Job) {
	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go w.pumpHeartbeat(hbCtx, &hbWG, workerID, job.ID)

	spanCtx, span := obs.ContextWithJobSpan(ctx, job)
	obs.AddSpanAttributes(spanCtx, obs.KeyValue("worker.id", workerID))

	providerKey := breakerProviderKey(job.Kind)
	var cb *breaker.CircuitBreaker
	if providerKey != "" {
		cb = w.breakers.For(providerKey)
	}

	var handlerErr error
	start := time.Now()
	if cb != nil && !cb.Allow() {
		handlerErr = pipelineerr.Newf(pipelineerr.ProviderTransient, "%s circuit breaker open, deferring job %s", providerKey, job.ID)
	} else {
		handlerErr = w.dispatcher.Dispatch(spanCtx, w.wc, job)
		if cb != nil {
			preState := cb.State()
			cb.Record(handlerErr == nil)
			if preState != breaker.Open && cb.State() == breaker.Open {
				obs.CircuitBreakerTrips.WithLabelValues(providerKey).Inc()
			}
		}
	}
	obs.JobProcessingDuration.Observe(time.Since(start).Seconds())

	if handlerErr != nil {
		obs.RecordError(spanCtx, handlerErr)
		if pe, ok := pipelineerr.As(handlerErr); ok && pe.Kind == pipelineerr.Internal {
			w.wc.Errors.Report(spanCtx, handlerErr, map[string]any{"job_id": job.ID, "kind": string(job.Kind)})
		}
	} else {
		obs.SetSpanSuccess(spanCtx)
	}
	span.End()

	stopHeartbeat()
	hbWG.Wait()

	if err := w.engine.Finish(ctx, job, handlerErr); err != nil {
		w.log.Error("finish job failed", obs.String("id", job.ID), obs.Err(err))
	}

	switch {
	case handlerErr == nil:
		obs.JobsCompleted.Inc()
	case job.Attempts >= job.MaxAttempts || !retryableOrDefault(handlerErr):
		obs.JobsDeadLetter.Inc()
	default:
		obs.JobsRetried.Inc()
	}
}

func retryableOrDefault(err error) bool {
	pe, ok := pipelineerr.As(err)
	if !ok {
		return true
	}
	return pe.Retryable()
}

// pumpHeartbeat extends a claimed job's lease until ctx is canceled. A
// conflict (another worker or the reaper already reclaimed the job) stops
// the pump immediately rather than retrying, since the job is no longer
// this worker's to finish.
func (w *Worker) pumpHeartbeat(ctx context.Context, wg *sync.WaitGroup, workerID, jobID string) {
	defer wg.Done()
	ticker := time.NewTicker(w.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.engine.Heartbeat(ctx, jobID, workerID); err != nil {
				if _, isConflict := err.(store.ErrConflict); isConflict {
					return
				}
				w.log.Warn("heartbeat failed", obs.String("job_id", jobID), obs.Err(err))
			}
		}
	}
}
