package pipeline

import (
	"context"

	"github.com/clipforge/pipeline/internal/pipelineerr"
	"github.com/clipforge/pipeline/internal/store"
)

// HandlerFunc is one pipeline handler body.
type HandlerFunc func(ctx context.Context, wc *WorkerContext, job *store.Job) error

// Dispatcher is the static kind-to-handler registry.
type Dispatcher struct {
	handlers map[store.Kind]HandlerFunc
}

// NewDispatcher builds the registry wired to the eight pipeline
// handlers. Construction never fails; an empty WorkerContext field
// (e.g. a missing Publisher for a platform never enabled) surfaces as an
// error only when a job of that kind is actually dispatched.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		handlers: map[store.Kind]HandlerFunc{
			store.KindIngestURL:       HandleIngest,
			store.KindTranscribe:      HandleTranscribe,
			store.KindHighlightDetect: HandleHighlightDetect,
			store.KindClipRender:      HandleClipRender,
			store.KindThumbnailGen:    HandleThumbnailGen,
			store.KindPublishTikTok:   HandlePublishTikTok,
			store.KindPublishYouTube:  HandlePublishYouTube,
			store.KindCleanupStorage:  HandleCleanupStorage,
		},
	}
}

// Dispatch looks up the handler for job.Kind and invokes it. An unknown
// kind is a non-retryable InvalidPayload error.
func (d *Dispatcher) Dispatch(ctx context.Context, wc *WorkerContext, job *store.Job) error {
	h, ok := d.handlers[job.Kind]
	if !ok {
		return pipelineerr.Newf(pipelineerr.InvalidPayload, "unknown job kind %q", job.Kind)
	}
	return h(ctx, wc, job)
}
