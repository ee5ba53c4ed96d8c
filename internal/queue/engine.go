package queue

import (
	"context"
	"time"

	"github.com/clipforge/pipeline/internal/clock"
	"github.com/clipforge/pipeline/internal/pipelineerr"
	"github.com/clipforge/pipeline/internal/store"
	"github.com/clipforge/pipeline/internal/validation"
)

// Engine wraps store.Store with the retry/backoff/dead-letter policy, a
// small stateful type so the policy constants (base delay, factor, cap, max
// attempts) are configured once and reused by both the worker runtime and
// the admin CLI's requeue path.
type Engine struct {
	store store.Store
	clock clock.Clock

	backoffBase   time.Duration
	backoffFactor float64
	backoffMax    time.Duration
	heartbeatTTL  time.Duration
}

// Option configures an Engine at construction.
type Option func(*Engine)

func WithBackoff(base time.Duration, factor float64, max time.Duration) Option {
	return func(e *Engine) {
		e.backoffBase, e.backoffFactor, e.backoffMax = base, factor, max
	}
}

func WithHeartbeatTTL(d time.Duration) Option {
	return func(e *Engine) { e.heartbeatTTL = d }
}

func NewEngine(s store.Store, c clock.Clock, opts ...Option) *Engine {
	e := &Engine{
		store:         s,
		clock:         c,
		backoffBase:   2 * time.Second,
		backoffFactor: 2,
		backoffMax:    60 * time.Second,
		heartbeatTTL:  90 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Enqueue inserts a new job. Kind-specific payload structs are marshaled
// by the caller via queue.Marshal before calling this.
func (e *Engine) Enqueue(ctx context.Context, workspaceID string, kind store.Kind, payload []byte) (*store.Job, error) {
	if err := validation.ValidatePayload(kind, payload); err != nil {
		return nil, pipelineerr.New(pipelineerr.InvalidPayload, err, "enqueue %s rejected by schema", kind)
	}
	return e.store.EnqueueJob(ctx, store.NewJobInput{
		WorkspaceID: workspaceID,
		Kind:        kind,
		Payload:     payload,
		RunAt:       e.clock.Now(),
	})
}

// EnqueueAt inserts a job scheduled for a future run_at. The posting
// guard does not go through here; its delay is applied by Finish.
func (e *Engine) EnqueueAt(ctx context.Context, workspaceID string, kind store.Kind, payload []byte, runAt time.Time) (*store.Job, error) {
	if err := validation.ValidatePayload(kind, payload); err != nil {
		return nil, pipelineerr.New(pipelineerr.InvalidPayload, err, "enqueue %s rejected by schema", kind)
	}
	return e.store.EnqueueJob(ctx, store.NewJobInput{
		WorkspaceID: workspaceID,
		Kind:        kind,
		Payload:     payload,
		RunAt:       runAt,
	})
}

// Claim pulls the next eligible job for this worker, restricted to kinds
// if non-empty and to workspaceID if non-nil (tenant-pinned workers).
func (e *Engine) Claim(ctx context.Context, workerID string, kinds []store.Kind, workspaceID *string) (*store.Job, error) {
	return e.store.ClaimJob(ctx, workerID, kinds, workspaceID)
}

// Heartbeat extends a claimed job's lease. Callers treat ErrConflict as a
// signal to abandon the job immediately — another worker or the reaper
// already reclaimed it.
func (e *Engine) Heartbeat(ctx context.Context, jobID, workerID string) error {
	return e.store.HeartbeatJob(ctx, jobID, workerID, e.clock.Now())
}

// Complete marks a job succeeded.
func (e *Engine) Complete(ctx context.Context, jobID string) error {
	return e.store.CompleteJob(ctx, jobID)
}

// Finish applies the outcome of a handler invocation: nil err completes
// the job; a retryable pipelineerr.Error reschedules it with exponential
// backoff up to max_attempts, after which (or for non-retryable errors)
// it is dead-lettered. The retry budget is the job's own MaxAttempts
// field, not a process-wide constant.
func (e *Engine) Finish(ctx context.Context, job *store.Job, handlerErr error) error {
	if handlerErr == nil {
		return e.Complete(ctx, job.ID)
	}

	retryable := true
	pe, tagged := pipelineerr.As(handlerErr)
	if tagged {
		retryable = pe.Retryable()
	}

	if !retryable || job.Attempts >= job.MaxAttempts {
		return e.store.DeadLetterJob(ctx, job.ID, handlerErr.Error())
	}

	delay := clock.Backoff(job.Attempts, float64(e.backoffBase), e.backoffFactor, e.backoffMax)
	if tagged && pe.Kind == pipelineerr.PostingLimitExceeded && pe.RemainingMS > 0 {
		// The posting guard knows exactly when its window reopens; retrying
		// any sooner is a guaranteed second rejection.
		delay = pe.RemainingMS
	}
	return e.store.FailJob(ctx, job.ID, handlerErr.Error(), e.clock.Now().Add(delay))
}

// RecoverStuck requeues jobs whose heartbeat has gone stale past the
// configured TTL; internal/reaper runs this on a ticker.
func (e *Engine) RecoverStuck(ctx context.Context) (int, error) {
	return e.RecoverStuckAfter(ctx, e.heartbeatTTL)
}

// RecoverStuckAfter is RecoverStuck with an explicit staleness window,
// used by the admin recover-stuck command when an operator overrides the
// configured TTL. A non-positive staleAfter falls back to the TTL.
func (e *Engine) RecoverStuckAfter(ctx context.Context, staleAfter time.Duration) (int, error) {
	if staleAfter <= 0 {
		staleAfter = e.heartbeatTTL
	}
	now := e.clock.Now()
	return e.store.RecoverStuckJobs(ctx, now.Add(-staleAfter), now)
}

// RequeueDeadLetter resets a dead-lettered job back to queued with zeroed
// attempts, the admin-triggered escape hatch.
func (e *Engine) RequeueDeadLetter(ctx context.Context, jobID string) error {
	return e.store.RequeueDeadLetter(ctx, jobID, e.clock.Now())
}

// Depth reports queue depth per kind, used by the admin stats surface and
// by obs.QueueLength-style gauges.
func (e *Engine) Depth(ctx context.Context) (map[store.Kind]int64, error) {
	return e.store.QueueDepth(ctx)
}

// HeartbeatTTL exposes the configured staleness window so the worker
// runtime's reaper ticker and the engine agree on the same threshold.
func (e *Engine) HeartbeatTTL() time.Duration { return e.heartbeatTTL }
