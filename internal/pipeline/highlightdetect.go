package pipeline

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"github.com/clipforge/pipeline/internal/highlight"
	"github.com/clipforge/pipeline/internal/idempotency"
	"github.com/clipforge/pipeline/internal/pipelineerr"
	"github.com/clipforge/pipeline/internal/queue"
	"github.com/clipforge/pipeline/internal/stage"
	"github.com/clipforge/pipeline/internal/store"
)

// transcriptDoc mirrors the transcript.json artifact shape: segments plus total duration.
type transcriptDoc struct {
	DurationSec float64 `json:"durationSec"`
	Segments    []struct {
		Start      float64 `json:"start"`
		End        float64 `json:"end"`
		Text       string  `json:"text"`
		Confidence float64 `json:"confidence"`
	} `json:"segments"`
}

// HandleHighlightDetect loads the transcript, computes max clips,
// groups segments into candidates, consolidates against existing clips,
// inserts the accepted set, and enqueues one CLIP_RENDER per inserted
// clip.
func HandleHighlightDetect(ctx context.Context, wc *WorkerContext, job *store.Job) error {
	var p queue.HighlightDetectPayload
	if err := queue.Unmarshal(job.Payload, &p); err != nil || p.ProjectID == "" {
		return pipelineerr.New(pipelineerr.InvalidPayload, err, "highlight-detect payload invalid for job %s", job.ID)
	}
	if p.MinGapSec <= 0 {
		p.MinGapSec = 1.5
	}

	project, err := wc.Store.GetProject(ctx, p.ProjectID)
	if err != nil {
		return pipelineerr.New(pipelineerr.NotFound, err, "project %s", p.ProjectID)
	}
	cur, _ := stage.Parse(project.PipelineStage)
	if idempotency.ShouldSkipHighlightDetect(cur) {
		return nil
	}

	doc, err := loadTranscript(ctx, wc, project, job.ID)
	if err != nil {
		return err
	}

	now := wc.Clock.Now()
	plan, err := wc.Usage.ResolvePlan(ctx, project.WorkspaceID, now)
	if err != nil {
		return pipelineerr.New(pipelineerr.Internal, err, "resolve plan for %s", project.WorkspaceID)
	}

	maxClips := highlight.ComputeMaxClips(highlight.MaxClipsInput{
		DurationMs: doc.DurationSec * 1000,
		Plan:       plan,
		Override:   float64(p.MaxClips),
	})

	if err := wc.Usage.AssertWithinUsage(ctx, project.WorkspaceID, store.MetricClips, int64(maxClips), now); err != nil {
		return err
	}

	segments := make([]highlight.Segment, 0, len(doc.Segments))
	for _, s := range doc.Segments {
		segments = append(segments, highlight.Segment{Start: s.Start, End: s.End, Text: s.Text, Confidence: s.Confidence})
	}
	candidates := highlight.GroupSegments(segments, p.MinGapSec, p.Keywords)

	existing, err := wc.Store.ListClipsByProject(ctx, project.ID)
	if err != nil {
		return pipelineerr.New(pipelineerr.Internal, err, "list clips for %s", project.ID)
	}

	accepted := highlight.Consolidate(candidates, existing, maxClips)
	if len(accepted) == 0 {
		if !stage.IsAtLeast(cur, stage.ClipsGenerated) {
			if _, err := wc.Store.ConditionalAdvanceStage(ctx, project.ID, cur.String(), stage.ClipsGenerated.String()); err != nil {
				wc.Logger.Warnw("advance stage to CLIPS_GENERATED failed", "project", project.ID, "err", err)
			}
		}
		return nil
	}

	newClips := make([]store.Clip, 0, len(accepted))
	for _, c := range accepted {
		start, end := idempotency.RoundedBounds(c.Start, c.End)
		newClips = append(newClips, store.Clip{
			ProjectID:   project.ID,
			WorkspaceID: project.WorkspaceID,
			StartS:      start,
			EndS:        end,
			Confidence:  c.AvgConfidence,
			Title:       c.Title,
			Status:      store.ClipProposed,
		})
	}

	inserted, err := wc.Store.InsertClips(ctx, newClips)
	if err != nil {
		return pipelineerr.New(pipelineerr.Internal, err, "insert clips for %s", project.ID)
	}

	if err := wc.Usage.RecordUsage(ctx, project.WorkspaceID, store.MetricClips, int64(len(inserted)), now); err != nil {
		wc.Logger.Warnw("record clips usage failed", "project", project.ID, "err", err)
	}

	for _, c := range inserted {
		payload, err := queue.Marshal(queue.ClipRenderPayload{ClipID: c.ID})
		if err != nil {
			wc.Logger.Warnw("marshal clip-render payload failed", "clip", c.ID, "err", err)
			continue
		}
		if _, err := wc.Queue.Enqueue(ctx, project.WorkspaceID, store.KindClipRender, payload); err != nil {
			wc.Logger.Warnw("enqueue clip-render failed", "clip", c.ID, "err", err)
		}
	}

	if !stage.IsAtLeast(cur, stage.ClipsGenerated) {
		if _, err := wc.Store.ConditionalAdvanceStage(ctx, project.ID, cur.String(), stage.ClipsGenerated.String()); err != nil {
			wc.Logger.Warnw("advance stage to CLIPS_GENERATED failed", "project", project.ID, "err", err)
		}
	}
	return nil
}

func loadTranscript(ctx context.Context, wc *WorkerContext, project *store.Project, jobID string) (transcriptDoc, error) {
	var doc transcriptDoc
	_, jsonKey := idempotency.TranscriptKeys(project.WorkspaceID, project.ID)

	tmp, cleanup, err := wc.TempDir(jobID)
	if err != nil {
		return doc, pipelineerr.New(pipelineerr.Internal, err, "create temp dir")
	}
	defer cleanup()

	rc, err := wc.Storage.Open(ctx, idempotency.BucketTranscripts, jsonKey)
	if err != nil {
		return doc, pipelineerr.New(pipelineerr.PreconditionFailed, err, "transcript json not ready for %s", project.ID)
	}
	defer rc.Close()

	localFile := filepath.Join(tmp, "transcript.json")
	f, err := os.Create(localFile)
	if err != nil {
		return doc, pipelineerr.New(pipelineerr.Internal, err, "create local transcript copy")
	}
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		return doc, pipelineerr.New(pipelineerr.ProviderTransient, err, "read transcript json for %s", project.ID)
	}
	f.Close()

	raw, err := os.ReadFile(localFile)
	if err != nil {
		return doc, pipelineerr.New(pipelineerr.Internal, err, "read local transcript copy")
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return doc, pipelineerr.New(pipelineerr.InvalidPayload, err, "parse transcript json for %s", project.ID)
	}
	return doc, nil
}
