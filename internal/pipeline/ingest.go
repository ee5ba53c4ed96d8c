package pipeline

import (
	"context"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/clipforge/pipeline/internal/idempotency"
	"github.com/clipforge/pipeline/internal/pipelineerr"
	"github.com/clipforge/pipeline/internal/ports"
	"github.com/clipforge/pipeline/internal/queue"
	"github.com/clipforge/pipeline/internal/stage"
	"github.com/clipforge/pipeline/internal/store"
)

var youtubeHosts = map[string]bool{
	"youtube.com":     true,
	"www.youtube.com": true,
	"m.youtube.com":   true,
	"youtu.be":        true,
}

// validSourceURL checks the supported source host patterns.
func validSourceURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	return youtubeHosts[strings.ToLower(u.Hostname())]
}

// HandleIngest validates the source URL, derives the deterministic
// source key, downloads and uploads idempotently, advances the project
// into processing, and enqueues TRANSCRIBE.
func HandleIngest(ctx context.Context, wc *WorkerContext, job *store.Job) error {
	var p queue.IngestURLPayload
	if err := queue.Unmarshal(job.Payload, &p); err != nil || p.ProjectID == "" || p.SourceURL == "" {
		return pipelineerr.New(pipelineerr.InvalidPayload, err, "ingest payload invalid for job %s", job.ID)
	}
	if !validSourceURL(p.SourceURL) {
		return pipelineerr.Newf(pipelineerr.InvalidPayload, "unsupported source url host: %s", p.SourceURL)
	}

	project, err := wc.Store.GetProject(ctx, p.ProjectID)
	if err != nil {
		return pipelineerr.New(pipelineerr.NotFound, err, "project %s", p.ProjectID)
	}
	cur, ok := stage.Parse(project.PipelineStage)
	if !ok {
		cur = stage.Uploaded
	}

	key := idempotency.SourceKey(project.WorkspaceID, project.ID, "mp4")
	exists, err := wc.Storage.Exists(ctx, idempotency.BucketVideos, key)
	if err != nil {
		return pipelineerr.New(pipelineerr.ProviderTransient, err, "check existing source for %s", project.ID)
	}

	if !exists {
		tmp, cleanup, err := wc.TempDir(job.ID)
		if err != nil {
			return pipelineerr.New(pipelineerr.Internal, err, "create temp dir")
		}
		defer cleanup()

		localFile := filepath.Join(tmp, "source.mp4")
		if err := downloadSource(ctx, wc, p.SourceURL, localFile); err != nil {
			return err
		}
		if err := wc.Storage.Upload(ctx, idempotency.BucketVideos, key, localFile); err != nil {
			return pipelineerr.New(pipelineerr.ProviderTransient, err, "upload source for %s", project.ID)
		}
	}

	if err := wc.Store.UpdateProjectStatus(ctx, project.ID, store.ProjectProcessing); err != nil {
		wc.Logger.Warnw("update project status failed", "project", project.ID, "err", err)
	}

	if !idempotency.ShouldSkipTranscribe(cur) {
		payload, err := queue.Marshal(queue.TranscribePayload{ProjectID: project.ID})
		if err != nil {
			return pipelineerr.New(pipelineerr.Internal, err, "marshal transcribe payload")
		}
		if _, err := wc.Queue.Enqueue(ctx, project.WorkspaceID, store.KindTranscribe, payload); err != nil {
			return pipelineerr.New(pipelineerr.Internal, err, "enqueue transcribe for %s", project.ID)
		}
	}
	return nil
}

// downloadSource fetches the source media into destPath through the
// Transcoder port's subprocess wrapper, which production wires to a
// YouTube-capable downloader binary rather than ffmpeg itself; both are
// "safe external subprocess" concerns so they share one port in this
// runtime (the port wraps "a bounded external subprocess" — argv in,
// exit code out — and the adapter maps the logical yt-dlp name to the
// configured downloader binary).
func downloadSource(ctx context.Context, wc *WorkerContext, sourceURL, destPath string) error {
	if wc.Transcoder == nil {
		return pipelineerr.Newf(pipelineerr.Internal, "no downloader configured for %s", sourceURL)
	}
	_, err := wc.Transcoder.Run(ctx, []string{"yt-dlp", "-f", "mp4", "-o", destPath, sourceURL}, ports.RunOptions{
		Timeout: 5 * time.Minute,
	})
	if err != nil {
		return pipelineerr.New(pipelineerr.ProviderTransient, err, "download %s", sourceURL)
	}
	return nil
}
