// Copyright 2025 James Ross
// Package admin implements the operator-facing commands: dead-letter
// requeue, a manual stuck-job sweep, rate-limit seeding, and read-only
// stats — plain functions returning a JSON-marshalable result, called
// from a flag-based CLI.
package admin

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/clipforge/pipeline/internal/admission"
	"github.com/clipforge/pipeline/internal/queue"
	"github.com/clipforge/pipeline/internal/store"
)

// StatsResult reports queue depth per kind.
type StatsResult struct {
	Depth map[store.Kind]int64 `json:"depth"`
}

func Stats(ctx context.Context, eng *queue.Engine) (StatsResult, error) {
	depth, err := eng.Depth(ctx)
	if err != nil {
		return StatsResult{}, fmt.Errorf("admin: stats: %w", err)
	}
	return StatsResult{Depth: depth}, nil
}

// RequeueDeadLetterResult reports the outcome of a single dead-letter
// requeue attempt.
type RequeueDeadLetterResult struct {
	JobID   string `json:"job_id"`
	Requeued bool  `json:"requeued"`
}

// RequeueDeadLetter resets a single dead-lettered job back to queued:
// the operator names one target and the command reports what happened.
// Dead-letter rows stay addressable by ID, so there is no bulk purge.
func RequeueDeadLetter(ctx context.Context, eng *queue.Engine, jobID string) (RequeueDeadLetterResult, error) {
	if jobID == "" {
		return RequeueDeadLetterResult{}, fmt.Errorf("admin: requeue-dead-letter requires a job id")
	}
	if err := eng.RequeueDeadLetter(ctx, jobID); err != nil {
		return RequeueDeadLetterResult{JobID: jobID}, fmt.Errorf("admin: requeue %s: %w", jobID, err)
	}
	return RequeueDeadLetterResult{JobID: jobID, Requeued: true}, nil
}

// RecoverStuckResult reports how many jobs a manual sweep reclaimed.
type RecoverStuckResult struct {
	Recovered int `json:"recovered"`
}

// RecoverStuckJobs runs an out-of-band sweep identical to what
// internal/reaper runs on its ticker, for operators who don't want to
// wait for the next scheduled pass. A positive staleAfter overrides the
// engine's configured heartbeat TTL.
func RecoverStuckJobs(ctx context.Context, eng *queue.Engine, staleAfter time.Duration) (RecoverStuckResult, error) {
	n, err := eng.RecoverStuckAfter(ctx, staleAfter)
	if err != nil {
		return RecoverStuckResult{}, fmt.Errorf("admin: recover-stuck: %w", err)
	}
	return RecoverStuckResult{Recovered: n}, nil
}

// ReadyResult is the structured readiness report the ready command emits.
type ReadyResult struct {
	OK     bool            `json:"ok"`
	Checks map[string]bool `json:"checks"`
	Errors []string        `json:"errors,omitempty"`
}

// Ready verifies the process can do useful work: the database answers a
// ping, the queue is readable, and the external binaries the pipeline
// shells out to resolve on PATH. Exit-code handling is the caller's.
func Ready(ctx context.Context, eng *queue.Engine, ping func(context.Context) error, binaries map[string]string) ReadyResult {
	res := ReadyResult{OK: true, Checks: map[string]bool{}}
	fail := func(name string, err error) {
		res.Checks[name] = false
		res.OK = false
		res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", name, err))
	}

	if ping != nil {
		if err := ping(ctx); err != nil {
			fail("database", err)
		} else {
			res.Checks["database"] = true
		}
	}
	if _, err := eng.Depth(ctx); err != nil {
		fail("queue_read", err)
	} else {
		res.Checks["queue_read"] = true
	}
	for name, bin := range binaries {
		if _, err := exec.LookPath(bin); err != nil {
			fail(name, err)
		} else {
			res.Checks[name] = true
		}
	}
	return res
}

// SeedRateLimitsResult reports how many workspace/feature buckets were
// (re)seeded.
type SeedRateLimitsResult struct {
	Seeded int `json:"seeded"`
}

const postingFeature = "publish"

// SeedRateLimits (re)writes each active subscription's posting-rate
// bucket from its plan's per-day burst cap via admission.SeedRateLimits,
// since rate_limits rows are read-only
// configuration seeded only by this command (never auto-refilled by the
// posting guard itself).
func SeedRateLimits(ctx context.Context, s store.Store, now time.Time) (SeedRateLimitsResult, error) {
	subs, err := s.ListActiveSubscriptions(ctx, now)
	if err != nil {
		return SeedRateLimitsResult{}, fmt.Errorf("admin: list active subscriptions: %w", err)
	}

	seeded := 0
	for _, rl := range admission.SeedRateLimits(subs, now) {
		if rl.Capacity <= 0 {
			continue
		}
		if err := s.UpsertRateLimit(ctx, rl); err != nil {
			return SeedRateLimitsResult{Seeded: seeded}, fmt.Errorf("admin: seed rate limit for workspace %s: %w", rl.WorkspaceID, err)
		}
		seeded++
	}
	return SeedRateLimitsResult{Seeded: seeded}, nil
}
