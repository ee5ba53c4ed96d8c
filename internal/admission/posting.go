package admission

import (
	"time"

	"github.com/clipforge/pipeline/internal/pipelineerr"
	"github.com/clipforge/pipeline/internal/store"
)

// PostingLimits are the per-plan rate windows the posting guard
// enforces, distinct from the monthly PostsPerMonth usage cap: these
// bound burst rate across three windows (cooldown/hour/day) to avoid
// tripping platform spam detection.
type PostingLimits struct {
	Cooldown time.Duration
	PerHour  int
	PerDay   int
}

// PostingLimitsForPlan derives burst-rate windows from the plan tier.
// Higher tiers get shorter cooldowns and higher burst caps, matching the
// intuition that paid tiers buy faster iteration, not just more quota.
func PostingLimitsForPlan(plan store.PlanName) PostingLimits {
	switch plan {
	case store.PlanPremium:
		return PostingLimits{Cooldown: 30 * time.Second, PerHour: 20, PerDay: 100}
	case store.PlanPro:
		return PostingLimits{Cooldown: 90 * time.Second, PerHour: 10, PerDay: 50}
	default:
		return PostingLimits{Cooldown: 5 * time.Minute, PerHour: 4, PerDay: 15}
	}
}

// EnforcePostLimits rejects with PostingLimitExceeded when posting now
// would violate the per-account cooldown, per-hour cap, or per-day cap,
// given the last 24h of posted variant-posts history for that account and
// platform. The returned error carries RemainingMS so the
// Queue Engine reschedules exactly when the guard would next pass.
func EnforcePostLimits(now time.Time, history []store.VariantPost, limits PostingLimits) error {
	if len(history) == 0 {
		return nil
	}

	last := history[len(history)-1]
	if last.PostedAt != nil {
		sinceLast := now.Sub(*last.PostedAt)
		if sinceLast < limits.Cooldown {
			remaining := limits.Cooldown - sinceLast
			return pipelineerr.New(pipelineerr.PostingLimitExceeded, nil,
				"posting cooldown active, %s remaining", remaining).WithRemaining(remaining)
		}
	}

	hourCutoff := now.Add(-time.Hour)
	dayCutoff := now.Add(-24 * time.Hour)
	var inHour, inDay int
	var oldestInHour *time.Time
	for _, vp := range history {
		if vp.PostedAt == nil {
			continue
		}
		if vp.PostedAt.After(dayCutoff) {
			inDay++
		}
		if vp.PostedAt.After(hourCutoff) {
			inHour++
			if oldestInHour == nil || vp.PostedAt.Before(*oldestInHour) {
				t := *vp.PostedAt
				oldestInHour = &t
			}
		}
	}

	if limits.PerHour > 0 && inHour >= limits.PerHour {
		remaining := oldestInHour.Add(time.Hour).Sub(now)
		return pipelineerr.New(pipelineerr.PostingLimitExceeded, nil,
			"hourly posting cap reached (%d/%d)", inHour, limits.PerHour).WithRemaining(remaining)
	}
	if limits.PerDay > 0 && inDay >= limits.PerDay {
		oldest := history[0].PostedAt
		remaining := oldest.Add(24 * time.Hour).Sub(now)
		return pipelineerr.New(pipelineerr.PostingLimitExceeded, nil,
			"daily posting cap reached (%d/%d)", inDay, limits.PerDay).WithRemaining(remaining)
	}
	return nil
}

// SeedRateLimits upserts one token-bucket row per (workspace, feature) at
// plan-defined capacity for every active subscription, the admin-invoked
// seeding step operators run when subscriptions change.
func SeedRateLimits(subs []store.Subscription, now time.Time) []store.RateLimit {
	var rows []store.RateLimit
	for _, sub := range subs {
		limits := PostingLimitsForPlan(sub.Plan)
		rows = append(rows, store.RateLimit{
			WorkspaceID:  sub.WorkspaceID,
			Feature:      "publish",
			Capacity:     int64(limits.PerDay),
			RefillRate:   float64(limits.PerDay) / 86400,
			Tokens:       float64(limits.PerDay),
			LastRefillAt: now,
		})
	}
	return rows
}
