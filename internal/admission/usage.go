// Package admission implements admission control: plan resolution,
// usage-cap assertions (checked before expensive work, incremented
// atomically after it succeeds), and the posting-rate guard, all scoped
// per workspace and per metric.
package admission

import (
	"context"
	"time"

	"github.com/clipforge/pipeline/internal/pipelineerr"
	"github.com/clipforge/pipeline/internal/store"
)

// Usage wraps store.Store with the usage-cap assertion/recording flow.
type Usage struct {
	store store.Store
}

func NewUsage(s store.Store) *Usage { return &Usage{store: s} }

func monthStart(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// AssertWithinUsage reads the open monthly usage row and compares
// used+requestedDelta against the plan's cap for metric, returning a
// fatal (non-retryable) pipelineerr.UsageLimitExceeded when it would be
// exceeded.
func (u *Usage) AssertWithinUsage(ctx context.Context, workspaceID string, metric store.UsageMetric, requestedDelta int64, now time.Time) error {
	limits, err := u.store.ResolvePlan(ctx, workspaceID, now)
	if err != nil {
		return pipelineerr.New(pipelineerr.Internal, err, "resolve plan for %s", workspaceID)
	}
	usage, err := u.store.GetOpenUsage(ctx, workspaceID, monthStart(now))
	if err != nil {
		return pipelineerr.New(pipelineerr.Internal, err, "load usage for %s", workspaceID)
	}

	var used, limit int64
	switch metric {
	case store.MetricClips:
		used, limit = usage.ClipsCount, limits.ClipsPerMonth
	case store.MetricSourceMinutes:
		used, limit = usage.SourceMinutes, limits.SourceMinutes
	case store.MetricPosts:
		used, limit = usage.Posts, limits.PostsPerMonth
	case store.MetricClipRenders:
		used, limit = usage.ClipRenders, 0 // no standalone cap; gated via clips cap upstream
	}

	if limit > 0 && used+requestedDelta > limit {
		return pipelineerr.New(pipelineerr.UsageLimitExceeded, nil,
			"usage limit exceeded for %s: used=%d requested=%d limit=%d", metric, used, requestedDelta, limit)
	}
	return nil
}

// RecordUsage atomically increments the open monthly counter. Callers
// invoke this only after the corresponding side effect has already
// succeeded, and treat its own failure as log-only rather than re-throwing.
func (u *Usage) RecordUsage(ctx context.Context, workspaceID string, metric store.UsageMetric, delta int64, now time.Time) error {
	return u.store.IncrementUsage(ctx, workspaceID, metric, delta, monthStart(now))
}

// ResolvePlan exposes plan lookup directly for handlers that need limits
// without a usage check (e.g. HighlightDetect's max-clips computation).
func (u *Usage) ResolvePlan(ctx context.Context, workspaceID string, now time.Time) (store.PlanLimits, error) {
	return u.store.ResolvePlan(ctx, workspaceID, now)
}
