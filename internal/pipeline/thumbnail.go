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
	"github.com/clipforge/pipeline/internal/store"
)

const thumbnailTimeout = 2 * time.Minute

// renderThumbnail extracts a single frame at offsetS seconds into srcPath
// and writes it to dstPath, shared by HandleClipRender and
// HandleThumbnailGen.
func renderThumbnail(ctx context.Context, wc *WorkerContext, srcPath, dstPath string, offsetS float64) error {
	if offsetS < 0 {
		offsetS = 0
	}
	args := []string{
		"ffmpeg",
		"-ss", fmt.Sprintf("%.3f", offsetS),
		"-i", srcPath,
		"-frames:v", "1",
		"-q:v", "2",
		dstPath,
	}
	result, err := wc.Transcoder.Run(ctx, args, ports.RunOptions{Timeout: thumbnailTimeout})
	if err != nil || !result.OK {
		return classifyTranscoderError(err, result)
	}
	return nil
}

// HandleThumbnailGen is standalone thumbnail generation from the
// rendered clip (preferred) or the source, at the
// midpoint of [start_s, end_s] or a given timestamp. Idempotent on an
// existing thumb path.
func HandleThumbnailGen(ctx context.Context, wc *WorkerContext, job *store.Job) error {
	var p queue.ThumbnailGenPayload
	if err := queue.Unmarshal(job.Payload, &p); err != nil || p.ClipID == "" {
		return pipelineerr.New(pipelineerr.InvalidPayload, err, "thumbnail-gen payload invalid for job %s", job.ID)
	}

	clip, err := wc.Store.GetClip(ctx, p.ClipID)
	if err != nil {
		return pipelineerr.New(pipelineerr.NotFound, err, "clip %s", p.ClipID)
	}
	if clip.ThumbPath != "" {
		return nil
	}
	project, err := wc.Store.GetProject(ctx, clip.ProjectID)
	if err != nil {
		return pipelineerr.New(pipelineerr.NotFound, err, "project %s", clip.ProjectID)
	}

	thumbKey := idempotency.ThumbKey(project.WorkspaceID, project.ID, clip.ID)
	exists, err := wc.Storage.Exists(ctx, idempotency.BucketThumbs, thumbKey)
	if err != nil {
		return pipelineerr.New(pipelineerr.ProviderTransient, err, "check thumb exists for clip %s", clip.ID)
	}
	if exists {
		clip.ThumbPath = thumbKey
		if err := wc.Store.UpdateClip(ctx, *clip); err != nil {
			wc.Logger.Warnw("update clip thumb path failed", "clip", clip.ID, "err", err)
		}
		return nil
	}

	tmp, cleanup, err := wc.TempDir(job.ID)
	if err != nil {
		return pipelineerr.New(pipelineerr.Internal, err, "create temp dir")
	}
	defer cleanup()

	var localSource string
	var offset float64
	if clip.StoragePath != "" {
		localSource = filepath.Join(tmp, "clip.mp4")
		if err := wc.Storage.Download(ctx, idempotency.BucketRenders, clip.StoragePath, localSource); err != nil {
			return pipelineerr.New(pipelineerr.ProviderTransient, err, "download rendered clip %s", clip.ID)
		}
		offset = pickOffset(p.AtSec, 0, clip.EndS-clip.StartS)
	} else {
		localSource = filepath.Join(tmp, "source.mp4")
		sourceKey := idempotency.SourceKey(project.WorkspaceID, project.ID, "mp4")
		if err := wc.Storage.Download(ctx, idempotency.BucketVideos, sourceKey, localSource); err != nil {
			return pipelineerr.New(pipelineerr.ProviderTransient, err, "download source for clip %s", clip.ID)
		}
		offset = pickOffset(p.AtSec, clip.StartS, clip.EndS)
	}

	localThumb := filepath.Join(tmp, clip.ID+".jpg")
	if err := renderThumbnail(ctx, wc, localSource, localThumb, offset); err != nil {
		return err
	}
	if err := wc.Storage.Upload(ctx, idempotency.BucketThumbs, thumbKey, localThumb); err != nil {
		return pipelineerr.New(pipelineerr.ProviderTransient, err, "upload thumb for clip %s", clip.ID)
	}

	clip.ThumbPath = thumbKey
	if err := wc.Store.UpdateClip(ctx, *clip); err != nil {
		return pipelineerr.New(pipelineerr.Internal, err, "update clip thumb path %s", clip.ID)
	}
	return nil
}

func pickOffset(atSec, start, end float64) float64 {
	if atSec > 0 {
		return atSec
	}
	return start + (end-start)/2
}
