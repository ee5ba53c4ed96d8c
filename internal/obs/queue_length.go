// Copyright 2025 James Ross
package obs

import (
	"context"
	"time"

	"github.com/clipforge/pipeline/internal/config"
	"github.com/clipforge/pipeline/internal/queue"
	"go.uber.org/zap"
)

// StartQueueLengthUpdater samples per-kind queue depth from the queue
// engine on an interval and updates the QueueLength gauge.
func StartQueueLengthUpdater(ctx context.Context, cfg *config.Config, eng *queue.Engine, log *zap.Logger) {
	interval := 2 * time.Second
	if cfg.Observability.QueueSampleInterval > 0 {
		interval = cfg.Observability.QueueSampleInterval
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				depths, err := eng.Depth(ctx)
				if err != nil {
					log.Debug("queue depth poll error", Err(err))
					continue
				}
				for kind, n := range depths {
					QueueLength.WithLabelValues(string(kind)).Set(float64(n))
				}
			}
		}
	}()
}
