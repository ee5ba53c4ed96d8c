// Package scheduler runs clipforge-admin's standalone cron jobs:
// periodic rate-limit reseeding and a recurring storage cleanup sweep,
// each on its own cron expression instead of living inside the queue
// engine's retry machinery.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/clipforge/pipeline/internal/admin"
	"github.com/clipforge/pipeline/internal/queue"
	"github.com/clipforge/pipeline/internal/store"
)

// Scheduler owns a cron.Cron instance wired to the admin package's
// one-shot operations.
type Scheduler struct {
	cron *cron.Cron
	log  *zap.Logger
}

// New registers the seed-rate-limits and cleanup-storage jobs against
// their configured cron expressions. An empty expression disables that
// job rather than erroring, so an operator can run one without the other.
func New(s store.Store, eng *queue.Engine, seedRateLimitsCron, cleanupStorageCron string, log *zap.Logger) (*Scheduler, error) {
	c := cron.New()
	if seedRateLimitsCron != "" {
		if _, err := c.AddFunc(seedRateLimitsCron, func() {
			result, err := admin.SeedRateLimits(context.Background(), s, time.Now())
			if err != nil {
				log.Warn("scheduled seed-rate-limits failed", zap.Error(err))
				return
			}
			log.Info("scheduled seed-rate-limits completed", zap.Int("seeded", result.Seeded))
		}); err != nil {
			return nil, err
		}
	}
	if cleanupStorageCron != "" {
		if _, err := c.AddFunc(cleanupStorageCron, func() {
			payload, err := queue.Marshal(queue.CleanupStoragePayload{})
			if err != nil {
				log.Warn("scheduled cleanup-storage marshal failed", zap.Error(err))
				return
			}
			if _, err := eng.Enqueue(context.Background(), "", store.KindCleanupStorage, payload); err != nil {
				log.Warn("scheduled cleanup-storage enqueue failed", zap.Error(err))
			}
		}); err != nil {
			return nil, err
		}
	}
	return &Scheduler{cron: c, log: log}, nil
}

// Start begins running registered jobs on their schedules and blocks
// until ctx is canceled.
func (s *Scheduler) Start(ctx context.Context) {
	s.cron.Start()
	<-ctx.Done()
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
}
