package pipeline

import (
	"context"
	"path/filepath"
	"time"

	"github.com/clipforge/pipeline/internal/admission"
	"github.com/clipforge/pipeline/internal/idempotency"
	"github.com/clipforge/pipeline/internal/pipelineerr"
	"github.com/clipforge/pipeline/internal/ports"
	"github.com/clipforge/pipeline/internal/queue"
	"github.com/clipforge/pipeline/internal/stage"
	"github.com/clipforge/pipeline/internal/store"
)

// publishRequest is the platform-agnostic shape both PUBLISH_TIKTOK and
// PUBLISH_YOUTUBE payloads reduce to, so the common publish flow runs
// once for both platforms.
type publishRequest struct {
	ClipID             string
	ConnectedAccountID string
	ExperimentID       string
	VariantID          string
	Metadata           ports.PublishMetadata
}

// HandlePublishTikTok is the TikTok side of the publish flow.
func HandlePublishTikTok(ctx context.Context, wc *WorkerContext, job *store.Job) error {
	var p queue.PublishTikTokPayload
	if err := queue.Unmarshal(job.Payload, &p); err != nil || p.ClipID == "" || p.ConnectedAccountID == "" {
		return pipelineerr.New(pipelineerr.InvalidPayload, err, "publish-tiktok payload invalid for job %s", job.ID)
	}
	return handlePublish(ctx, wc, store.PlatformTikTok, publishRequest{
		ClipID:             p.ClipID,
		ConnectedAccountID: p.ConnectedAccountID,
		ExperimentID:       p.ExperimentID,
		VariantID:          p.VariantID,
		Metadata: ports.PublishMetadata{
			Caption:      p.Caption,
			PrivacyLevel: p.PrivacyLevel,
		},
	})
}

// HandlePublishYouTube is the YouTube side of the publish flow.
func HandlePublishYouTube(ctx context.Context, wc *WorkerContext, job *store.Job) error {
	var p queue.PublishYouTubePayload
	if err := queue.Unmarshal(job.Payload, &p); err != nil || p.ClipID == "" || p.ConnectedAccountID == "" {
		return pipelineerr.New(pipelineerr.InvalidPayload, err, "publish-youtube payload invalid for job %s", job.ID)
	}
	return handlePublish(ctx, wc, store.PlatformYouTube, publishRequest{
		ClipID:             p.ClipID,
		ConnectedAccountID: p.ConnectedAccountID,
		ExperimentID:       p.ExperimentID,
		VariantID:          p.VariantID,
		Metadata: ports.PublishMetadata{
			Title:       p.Title,
			Description: p.Description,
			Tags:        p.Tags,
			Visibility:  p.Visibility,
		},
	})
}

func handlePublish(ctx context.Context, wc *WorkerContext, platform store.Platform, req publishRequest) error {
	clip, err := wc.Store.GetClip(ctx, req.ClipID)
	if err != nil {
		return pipelineerr.New(pipelineerr.NotFound, err, "clip %s", req.ClipID)
	}
	if clip.Status != store.ClipReady || clip.StoragePath == "" {
		return pipelineerr.Newf(pipelineerr.PreconditionFailed, "clip %s is not ready to publish", clip.ID)
	}
	project, err := wc.Store.GetProject(ctx, clip.ProjectID)
	if err != nil {
		return pipelineerr.New(pipelineerr.NotFound, err, "project %s", clip.ProjectID)
	}
	cur, _ := stage.Parse(project.PipelineStage)

	posted, err := wc.Store.GetPostedVariant(ctx, clip.ID, req.ConnectedAccountID, platform)
	if err != nil {
		return pipelineerr.New(pipelineerr.Internal, err, "load variant post for clip %s", clip.ID)
	}
	if stage.IsAtLeast(cur, stage.Published) || idempotency.AlreadyPublished(posted, clip, req.ExperimentID) {
		return nil
	}

	account, err := wc.Store.GetConnectedAccount(ctx, req.ConnectedAccountID)
	if err != nil {
		return pipelineerr.New(pipelineerr.NotFound, err, "connected account %s", req.ConnectedAccountID)
	}
	if account.Platform != platform || account.WorkspaceID != project.WorkspaceID {
		return pipelineerr.Newf(pipelineerr.PreconditionFailed, "connected account %s does not match platform/workspace", account.ID)
	}

	now := wc.Clock.Now()
	since := now.Add(-24 * time.Hour)
	history, err := wc.Store.ListRecentVariantPosts(ctx, req.ConnectedAccountID, platform, since)
	if err != nil {
		return pipelineerr.New(pipelineerr.Internal, err, "load posting history for %s", account.ID)
	}
	plan, err := wc.Usage.ResolvePlan(ctx, project.WorkspaceID, now)
	if err != nil {
		return pipelineerr.New(pipelineerr.Internal, err, "resolve plan for %s", project.WorkspaceID)
	}
	if err := admission.EnforcePostLimits(now, history, admission.PostingLimitsForPlan(plan.Name)); err != nil {
		return err
	}

	if err := wc.Usage.AssertWithinUsage(ctx, project.WorkspaceID, store.MetricPosts, 1, now); err != nil {
		return err
	}

	tmp, cleanup, err := wc.TempDir(clip.ID)
	if err != nil {
		return pipelineerr.New(pipelineerr.Internal, err, "create temp dir")
	}
	defer cleanup()

	localFile := filepath.Join(tmp, clip.ID+".mp4")
	if err := wc.Storage.Download(ctx, idempotency.BucketRenders, clip.StoragePath, localFile); err != nil {
		return pipelineerr.New(pipelineerr.ProviderTransient, err, "download rendered clip %s", clip.ID)
	}

	tokenProvider, ok := wc.TokenProviders[platform]
	if !ok {
		return pipelineerr.Newf(pipelineerr.Internal, "no token provider configured for %s", platform)
	}
	token, err := tokenProvider.AccessTokenFor(ctx, account.ID)
	if err != nil {
		return pipelineerr.New(pipelineerr.ProviderAuth, err, "refresh token for account %s", account.ID)
	}

	publisher, ok := wc.Publishers[platform]
	if !ok {
		return pipelineerr.Newf(pipelineerr.Internal, "no publisher configured for %s", platform)
	}
	result, err := publisher.Upload(ctx, token, localFile, req.Metadata)
	if err != nil {
		return err // providers return pre-classified pipelineerr.Error via ports.Publisher contract
	}

	if clip.ExternalID == "" {
		clip.Status = store.ClipPublished
		clip.ExternalID = result.PlatformVideoID
		publishedAt := now
		clip.PublishedAt = &publishedAt
		if err := wc.Store.UpdateClip(ctx, *clip); err != nil {
			wc.Logger.Warnw("update clip published fields failed", "clip", clip.ID, "err", err)
		}
	}

	postedAt := now
	if _, err := wc.Store.UpsertVariantPost(ctx, store.VariantPost{
		ClipID:             clip.ID,
		ConnectedAccountID: req.ConnectedAccountID,
		Platform:           platform,
		VariantID:          req.VariantID,
		Status:             store.VariantPosted,
		PlatformPostID:     result.PlatformVideoID,
		PostedAt:           &postedAt,
	}); err != nil {
		wc.Logger.Warnw("upsert variant post failed", "clip", clip.ID, "err", err)
	}

	if err := wc.Usage.RecordUsage(ctx, project.WorkspaceID, store.MetricPosts, 1, now); err != nil {
		wc.Logger.Warnw("record posts usage failed", "clip", clip.ID, "err", err)
	}

	if !stage.IsAtLeast(cur, stage.Published) {
		if _, err := wc.Store.ConditionalAdvanceStage(ctx, project.ID, cur.String(), stage.Published.String()); err != nil {
			wc.Logger.Warnw("advance stage to PUBLISHED failed", "project", project.ID, "err", err)
		}
	}
	return nil
}
