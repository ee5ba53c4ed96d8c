package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/clipforge/pipeline/internal/idempotency"
	"github.com/clipforge/pipeline/internal/pipelineerr"
	"github.com/clipforge/pipeline/internal/ports"
	"github.com/clipforge/pipeline/internal/queue"
	"github.com/clipforge/pipeline/internal/stage"
	"github.com/clipforge/pipeline/internal/store"
)

const renderTimeout = 10 * time.Minute

// HandleClipRender runs the scale-and-blur-background
// render to 1080x1920@30, upload render + thumbnail idempotently, mark
// the clip ready, and re-evaluate the project's RENDERED stage.
func HandleClipRender(ctx context.Context, wc *WorkerContext, job *store.Job) error {
	var p queue.ClipRenderPayload
	if err := queue.Unmarshal(job.Payload, &p); err != nil || p.ClipID == "" {
		return pipelineerr.New(pipelineerr.InvalidPayload, err, "clip-render payload invalid for job %s", job.ID)
	}

	clip, err := wc.Store.GetClip(ctx, p.ClipID)
	if err != nil {
		return pipelineerr.New(pipelineerr.NotFound, err, "clip %s", p.ClipID)
	}
	project, err := wc.Store.GetProject(ctx, clip.ProjectID)
	if err != nil {
		return pipelineerr.New(pipelineerr.NotFound, err, "project %s", clip.ProjectID)
	}
	cur, _ := stage.Parse(project.PipelineStage)
	if stage.IsAtLeast(cur, stage.Rendered) {
		return nil
	}

	renderKey := idempotency.RenderKey(project.WorkspaceID, project.ID, clip.ID)
	thumbKey := idempotency.ThumbKey(project.WorkspaceID, project.ID, clip.ID)

	if idempotency.ShouldSkipClipRender(clip) {
		return maybeAdvanceToRendered(ctx, wc, project, cur)
	}

	clip.Status = store.ClipRendering
	if err := wc.Store.UpdateClip(ctx, *clip); err != nil {
		return pipelineerr.New(pipelineerr.Internal, err, "mark clip rendering %s", clip.ID)
	}

	tmp, cleanup, err := wc.TempDir(job.ID)
	if err != nil {
		return pipelineerr.New(pipelineerr.Internal, err, "create temp dir")
	}
	defer cleanup()

	sourceKey := idempotency.SourceKey(project.WorkspaceID, project.ID, "mp4")
	localSource := filepath.Join(tmp, "source.mp4")
	if err := wc.Storage.Download(ctx, idempotency.BucketVideos, sourceKey, localSource); err != nil {
		return pipelineerr.New(pipelineerr.ProviderTransient, err, "download source for clip %s", clip.ID)
	}

	localRender := filepath.Join(tmp, clip.ID+".mp4")
	args := renderArgs(localSource, localRender, clip.StartS, clip.EndS)
	result, err := wc.Transcoder.Run(ctx, args, ports.RunOptions{
		Timeout:            renderTimeout,
		MaxDurationSeconds: clip.EndS - clip.StartS + 1,
	})
	if err != nil || !result.OK {
		clip.Status = store.ClipFailed
		if uerr := wc.Store.UpdateClip(ctx, *clip); uerr != nil {
			wc.Logger.Warnw("mark clip failed after render error", "clip", clip.ID, "err", uerr)
		}
		return classifyTranscoderError(err, result)
	}

	renderExists, err := wc.Storage.Exists(ctx, idempotency.BucketRenders, renderKey)
	if err != nil {
		return pipelineerr.New(pipelineerr.ProviderTransient, err, "check render exists for clip %s", clip.ID)
	}
	if !renderExists {
		if err := wc.Storage.Upload(ctx, idempotency.BucketRenders, renderKey, localRender); err != nil {
			return pipelineerr.New(pipelineerr.ProviderTransient, err, "upload render for clip %s", clip.ID)
		}
	}

	localThumb := filepath.Join(tmp, clip.ID+".jpg")
	mid := clip.StartS + (clip.EndS-clip.StartS)/2
	if err := renderThumbnail(ctx, wc, localRender, localThumb, mid-clip.StartS); err != nil {
		wc.Logger.Warnw("thumbnail render failed", "clip", clip.ID, "err", err)
	} else {
		thumbExists, err := wc.Storage.Exists(ctx, idempotency.BucketThumbs, thumbKey)
		if err == nil && !thumbExists {
			if err := wc.Storage.Upload(ctx, idempotency.BucketThumbs, thumbKey, localThumb); err != nil {
				wc.Logger.Warnw("thumbnail upload failed", "clip", clip.ID, "err", err)
			}
		}
	}

	clip.Status = store.ClipReady
	clip.StoragePath = renderKey
	clip.ThumbPath = thumbKey
	if err := wc.Store.UpdateClip(ctx, *clip); err != nil {
		return pipelineerr.New(pipelineerr.Internal, err, "mark clip ready %s", clip.ID)
	}

	if err := wc.Usage.RecordUsage(ctx, project.WorkspaceID, store.MetricClipRenders, 1, wc.Clock.Now()); err != nil {
		wc.Logger.Warnw("record clip_renders usage failed", "clip", clip.ID, "err", err)
	}

	return maybeAdvanceToRendered(ctx, wc, project, cur)
}

// maybeAdvanceToRendered re-evaluates every clip in the project: if all
// have reached a terminal status (ready or failed), the project advances
// to RENDERED. The guard excludes RENDERED/PUBLISHED so concurrent
// renders racing on the last clip converge without double-advancing.
func maybeAdvanceToRendered(ctx context.Context, wc *WorkerContext, project *store.Project, cur stage.Stage) error {
	if stage.IsAtLeast(cur, stage.Rendered) {
		return nil
	}
	clips, err := wc.Store.ListClipsByProject(ctx, project.ID)
	if err != nil {
		return pipelineerr.New(pipelineerr.Internal, err, "list clips for %s", project.ID)
	}
	allTerminal := len(clips) > 0
	for _, c := range clips {
		if c.Status != store.ClipReady && c.Status != store.ClipFailed {
			allTerminal = false
			break
		}
	}
	if !allTerminal {
		return nil
	}
	if _, err := wc.Store.ConditionalAdvanceStage(ctx, project.ID, cur.String(), stage.Rendered.String()); err != nil {
		wc.Logger.Warnw("advance stage to RENDERED failed", "project", project.ID, "err", err)
	}
	return nil
}

// renderArgs builds the ffmpeg invocation for the scale-and-blur
// vertical-video render.
func renderArgs(src, dst string, startS, endS float64) []string {
	duration := endS - startS
	filter := "[0:v]scale=1080:1920:force_original_aspect_ratio=increase,boxblur=20:5[bg];" +
		"[0:v]scale=1080:-2[fg];[bg][fg]overlay=(W-w)/2:(H-h)/2"
	return []string{
		"ffmpeg",
		"-ss", fmt.Sprintf("%.3f", startS),
		"-i", src,
		"-t", fmt.Sprintf("%.3f", duration),
		"-filter_complex", filter,
		"-r", "30",
		"-c:v", "libx264", "-preset", "veryfast", "-crf", "20",
		"-c:a", "aac", "-b:a", "160k",
		"-af", "loudnorm=I=-16:TP=-1.5:LRA=11",
		dst,
	}
}

func classifyTranscoderError(err error, result ports.RunResult) error {
	if err != nil {
		return pipelineerr.New(pipelineerr.TranscoderFailed, err, "transcoder invocation failed: %s", result.StderrSummary)
	}
	return pipelineerr.Newf(pipelineerr.TranscoderFailed, "transcoder exited non-zero (%d): %s", result.ExitCode, result.StderrSummary)
}
