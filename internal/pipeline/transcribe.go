package pipeline

import (
	"context"
	"math"
	"path/filepath"

	"github.com/clipforge/pipeline/internal/idempotency"
	"github.com/clipforge/pipeline/internal/pipelineerr"
	"github.com/clipforge/pipeline/internal/queue"
	"github.com/clipforge/pipeline/internal/stage"
	"github.com/clipforge/pipeline/internal/store"
)

// HandleTranscribe preflights usage, transcribes the source, uploads
// both artifacts idempotently, records usage, advances the stage, and
// enqueues HIGHLIGHT_DETECT.
func HandleTranscribe(ctx context.Context, wc *WorkerContext, job *store.Job) error {
	var p queue.TranscribePayload
	if err := queue.Unmarshal(job.Payload, &p); err != nil || p.ProjectID == "" {
		return pipelineerr.New(pipelineerr.InvalidPayload, err, "transcribe payload invalid for job %s", job.ID)
	}

	project, err := wc.Store.GetProject(ctx, p.ProjectID)
	if err != nil {
		return pipelineerr.New(pipelineerr.NotFound, err, "project %s", p.ProjectID)
	}
	cur, _ := stage.Parse(project.PipelineStage)
	if idempotency.ShouldSkipTranscribe(cur) {
		return enqueueHighlightDetect(ctx, wc, project)
	}

	now := wc.Clock.Now()

	srtKey, jsonKey := idempotency.TranscriptKeys(project.WorkspaceID, project.ID)
	srtExists, err := wc.Storage.Exists(ctx, idempotency.BucketTranscripts, srtKey)
	if err != nil {
		return pipelineerr.New(pipelineerr.ProviderTransient, err, "check transcript for %s", project.ID)
	}
	jsonExists, err := wc.Storage.Exists(ctx, idempotency.BucketTranscripts, jsonKey)
	if err != nil {
		return pipelineerr.New(pipelineerr.ProviderTransient, err, "check transcript json for %s", project.ID)
	}

	if srtExists && jsonExists {
		// Both artifacts already landed, e.g. a crash after upload but before
		// the stage advance committed. No new source minutes would be
		// consumed, so skip the usage preflight rather than risk a wrongful
		// dead-letter on a workspace that's merely retrying.
		if !stage.IsAtLeast(cur, stage.Transcribed) {
			if _, err := wc.Store.ConditionalAdvanceStage(ctx, project.ID, cur.String(), stage.Transcribed.String()); err != nil {
				wc.Logger.Warnw("advance stage to TRANSCRIBED failed", "project", project.ID, "err", err)
			}
		}
		return enqueueHighlightDetect(ctx, wc, project)
	}

	if err := wc.Usage.AssertWithinUsage(ctx, project.WorkspaceID, store.MetricSourceMinutes, 1, now); err != nil {
		return err
	}

	var durationSec float64
	reserveKey := "transcribe:" + project.ID
	if wc.Idempotency != nil {
		reserved, rerr := wc.Idempotency.TryReserve(ctx, reserveKey)
		if rerr != nil {
			wc.Logger.Warnw("idempotency fast path unavailable, falling back to storage check", "project", project.ID, "err", rerr)
		} else if !reserved {
			// Another worker already holds the reservation; retry later
			// once its upload has landed instead of racing it.
			return pipelineerr.New(pipelineerr.Internal, nil, "transcribe already in progress for project %s", project.ID)
		} else {
			defer func() { _ = wc.Idempotency.Release(ctx, reserveKey) }()
		}
	}

	tmp, cleanup, err := wc.TempDir(job.ID)
	if err != nil {
		return pipelineerr.New(pipelineerr.Internal, err, "create temp dir")
	}
	defer cleanup()

	ext := p.SourceExt
	if ext == "" {
		ext = "mp4"
	}
	localFile := filepath.Join(tmp, "source."+ext)
	sourceKey := idempotency.SourceKey(project.WorkspaceID, project.ID, ext)
	if err := wc.Storage.Download(ctx, idempotency.BucketVideos, sourceKey, localFile); err != nil {
		return pipelineerr.New(pipelineerr.ProviderTransient, err, "download source for %s", project.ID)
	}

	result, err := wc.Transcriber.Transcribe(ctx, localFile)
	if err != nil {
		return pipelineerr.New(pipelineerr.ProviderTransient, err, "transcribe %s", project.ID)
	}
	durationSec = result.DurationSec

	if !srtExists {
		if err := wc.Storage.Upload(ctx, idempotency.BucketTranscripts, srtKey, result.SRTPath); err != nil {
			return pipelineerr.New(pipelineerr.ProviderTransient, err, "upload srt for %s", project.ID)
		}
	}
	if !jsonExists {
		if err := wc.Storage.Upload(ctx, idempotency.BucketTranscripts, jsonKey, result.JSONPath); err != nil {
			return pipelineerr.New(pipelineerr.ProviderTransient, err, "upload transcript json for %s", project.ID)
		}
	}

	minutes := int64(math.Ceil(durationSec / 60.0))
	if minutes > 0 {
		if err := wc.Usage.RecordUsage(ctx, project.WorkspaceID, store.MetricSourceMinutes, minutes, now); err != nil {
			wc.Logger.Warnw("record source_minutes usage failed", "project", project.ID, "err", err)
		}
	}

	if !stage.IsAtLeast(cur, stage.Transcribed) {
		if _, err := wc.Store.ConditionalAdvanceStage(ctx, project.ID, cur.String(), stage.Transcribed.String()); err != nil {
			wc.Logger.Warnw("advance stage to TRANSCRIBED failed", "project", project.ID, "err", err)
		}
	}

	return enqueueHighlightDetect(ctx, wc, project)
}

func enqueueHighlightDetect(ctx context.Context, wc *WorkerContext, project *store.Project) error {
	payload, err := queue.Marshal(queue.HighlightDetectPayload{
		ProjectID: project.ID,
		Keywords:  []string{},
		MinGapSec: 1.5,
	})
	if err != nil {
		return pipelineerr.New(pipelineerr.Internal, err, "marshal highlight-detect payload")
	}
	if _, err := wc.Queue.Enqueue(ctx, project.WorkspaceID, store.KindHighlightDetect, payload); err != nil {
		return pipelineerr.New(pipelineerr.Internal, err, "enqueue highlight-detect for %s", project.ID)
	}
	return nil
}
