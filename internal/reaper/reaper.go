// Copyright 2025 James Ross
package reaper

import (
	"context"
	"time"

	"github.com/clipforge/pipeline/internal/obs"
	"github.com/clipforge/pipeline/internal/queue"
	"go.uber.org/zap"
)

// Reaper periodically requeues jobs whose heartbeat has gone stale,
// a single queue.Engine.RecoverStuck sweep over Store's heartbeat
// column.
type Reaper struct {
	engine   *queue.Engine
	log      *zap.Logger
	interval time.Duration
}

func New(engine *queue.Engine, log *zap.Logger, interval time.Duration) *Reaper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Reaper{engine: engine, log: log, interval: interval}
}

// Run blocks, sweeping on the configured interval until ctx is canceled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweepOnce(ctx)
		}
	}
}

func (r *Reaper) sweepOnce(ctx context.Context) {
	n, err := r.engine.RecoverStuck(ctx)
	if err != nil {
		r.log.Warn("reaper sweep error", obs.Err(err))
		return
	}
	if n > 0 {
		obs.ReaperRecovered.Add(float64(n))
		r.log.Warn("recovered stuck jobs", obs.Int("count", n))
	}
}
