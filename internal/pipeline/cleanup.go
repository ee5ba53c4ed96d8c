package pipeline

import (
	"context"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/clipforge/pipeline/internal/idempotency"
	"github.com/clipforge/pipeline/internal/pipelineerr"
	"github.com/clipforge/pipeline/internal/queue"
	"github.com/clipforge/pipeline/internal/store"
)

const (
	defaultRetentionDays = 30
	minRetentionDays     = 7
	cleanupBatchSize     = 500

	// renderKeyGlob is the shape every render upload key must match:
	// workspaceID/projectID/clipID.mp4. Keys that don't match this are
	// left alone by the orphan sweep rather than risk deleting something
	// a future render convention wrote under the same bucket.
	renderKeyGlob = "*/*/*.mp4"
)

// HandleCleanupStorage runs two independent sweeps, failed-render
// cleanup and orphan-object cleanup, scoped to a workspace
// or project when the payload names one, otherwise global. Source videos
// and transcripts are never touched by either sweep.
func HandleCleanupStorage(ctx context.Context, wc *WorkerContext, job *store.Job) error {
	var p queue.CleanupStoragePayload
	if err := queue.Unmarshal(job.Payload, &p); err != nil {
		return pipelineerr.New(pipelineerr.InvalidPayload, err, "cleanup-storage payload invalid for job %s", job.ID)
	}
	retentionDays := p.RetentionDays
	if retentionDays < minRetentionDays {
		retentionDays = defaultRetentionDays
	}

	var workspaceID, projectID *string
	if p.WorkspaceID != "" {
		workspaceID = &p.WorkspaceID
	}
	if p.ProjectID != "" {
		projectID = &p.ProjectID
	}

	if err := sweepFailedClips(ctx, wc, retentionDays, workspaceID, projectID); err != nil {
		return err
	}
	if err := sweepOrphanObjects(ctx, wc, workspaceID, projectID); err != nil {
		return err
	}
	return nil
}

// sweepFailedClips deletes the render and thumbnail objects of clips that
// have sat in ClipFailed past the retention window, in bounded batches, and
// leaves the clip row itself for audit purposes.
func sweepFailedClips(ctx context.Context, wc *WorkerContext, retentionDays int, workspaceID, projectID *string) error {
	cutoff := wc.Clock.Now().AddDate(0, 0, -retentionDays)
	for {
		clips, err := wc.Store.ListClipsForRetentionSweep(ctx, store.ClipFailed, cutoff, workspaceID, projectID, cleanupBatchSize)
		if err != nil {
			return pipelineerr.New(pipelineerr.Internal, err, "list clips for retention sweep")
		}
		if len(clips) == 0 {
			return nil
		}

		var renderKeys, thumbKeys []string
		for _, c := range clips {
			if c.StoragePath != "" {
				renderKeys = append(renderKeys, c.StoragePath)
			}
			if c.ThumbPath != "" {
				thumbKeys = append(thumbKeys, c.ThumbPath)
			}
		}
		if len(renderKeys) > 0 {
			if err := wc.Storage.RemoveBatch(ctx, idempotency.BucketRenders, renderKeys); err != nil {
				wc.Logger.Warnw("remove failed-clip renders failed", "count", len(renderKeys), "err", err)
			}
		}
		if len(thumbKeys) > 0 {
			if err := wc.Storage.RemoveBatch(ctx, idempotency.BucketThumbs, thumbKeys); err != nil {
				wc.Logger.Warnw("remove failed-clip thumbs failed", "count", len(thumbKeys), "err", err)
			}
		}
		for _, c := range clips {
			c.StoragePath = ""
			c.ThumbPath = ""
			if err := wc.Store.UpdateClip(ctx, c); err != nil {
				wc.Logger.Warnw("clear failed-clip storage paths failed", "clip", c.ID, "err", err)
			}
		}

		if len(clips) < cleanupBatchSize {
			return nil
		}
	}
}

// sweepOrphanObjects lists render-bucket objects under the given scope and
// deletes any whose clip id no longer has a matching live clip row — render
// uploads that raced a later project/clip deletion, or left over from a
// render retry that wrote a new key. Scope defaults to everything when no
// workspace/project is named, bounded by listing prefix.
func sweepOrphanObjects(ctx context.Context, wc *WorkerContext, workspaceID, projectID *string) error {
	prefix := ""
	if workspaceID != nil {
		prefix = *workspaceID + "/"
		if projectID != nil {
			prefix += *projectID + "/"
		}
	}

	keys, err := wc.Storage.List(ctx, idempotency.BucketRenders, prefix)
	if err != nil {
		return pipelineerr.New(pipelineerr.ProviderTransient, err, "list render objects under %q", prefix)
	}
	if len(keys) == 0 {
		return nil
	}

	liveClipIDs, err := liveClipIDsForKeys(ctx, wc, keys)
	if err != nil {
		return err
	}

	var orphans []string
	for _, key := range keys {
		if ok, _ := doublestar.Match(renderKeyGlob, key); !ok {
			continue
		}
		clipID := clipIDFromRenderKey(key)
		if clipID == "" {
			continue
		}
		if !liveClipIDs[clipID] {
			orphans = append(orphans, key)
		}
	}
	for i := 0; i < len(orphans); i += cleanupBatchSize {
		end := i + cleanupBatchSize
		if end > len(orphans) {
			end = len(orphans)
		}
		if err := wc.Storage.RemoveBatch(ctx, idempotency.BucketRenders, orphans[i:end]); err != nil {
			wc.Logger.Warnw("remove orphan render objects failed", "count", end-i, "err", err)
		}
	}
	return nil
}

// liveClipIDsForKeys resolves which clip ids embedded in render keys still
// have a live clip row, looking each one up individually since Store has no
// bulk-existence check; acceptable because orphan sweeps run infrequently
// and off the hot path.
func liveClipIDsForKeys(ctx context.Context, wc *WorkerContext, keys []string) (map[string]bool, error) {
	live := make(map[string]bool)
	seen := make(map[string]bool)
	for _, key := range keys {
		clipID := clipIDFromRenderKey(key)
		if clipID == "" || seen[clipID] {
			continue
		}
		seen[clipID] = true
		if _, err := wc.Store.GetClip(ctx, clipID); err == nil {
			live[clipID] = true
		}
	}
	return live, nil
}

func clipIDFromRenderKey(key string) string {
	base := key
	if idx := strings.LastIndex(base, "/"); idx >= 0 {
		base = base[idx+1:]
	}
	return strings.TrimSuffix(base, ".mp4")
}
