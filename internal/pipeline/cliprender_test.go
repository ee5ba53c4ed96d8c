package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipforge/pipeline/internal/clock"
	"github.com/clipforge/pipeline/internal/idempotency"
	"github.com/clipforge/pipeline/internal/queue"
	"github.com/clipforge/pipeline/internal/stage"
	"github.com/clipforge/pipeline/internal/store"
)

func seedClip(t *testing.T, s *store.Memory, c store.Clip) store.Clip {
	t.Helper()
	inserted, err := s.InsertClips(context.Background(), []store.Clip{c})
	require.NoError(t, err)
	require.Len(t, inserted, 1)
	out := inserted[0]
	// InsertClips always lands clips as proposed; restore the status the
	// test asked for.
	if c.Status != "" && c.Status != store.ClipProposed {
		out.Status = c.Status
		require.NoError(t, s.UpdateClip(context.Background(), out))
	}
	return out
}

func TestHandleClipRenderUploadsRenderAndThumbnail(t *testing.T) {
	s := store.NewMemory()
	s.SeedProject(store.Project{ID: "proj-1", WorkspaceID: "ws-1", PipelineStage: stage.ClipsGenerated.String()})
	clip := seedClip(t, s, store.Clip{ID: "clip-1", ProjectID: "proj-1", WorkspaceID: "ws-1", StartS: 5, EndS: 20})

	eng := queue.NewEngine(s, clock.NewFake(time.Now()))
	storage := newFakeStorage()
	wc := newTestContext(t, s, storage, &fakeTranscriber{})
	wc.Queue = eng
	wc.Transcoder = &fakeTranscoder{}

	payload, _ := queue.Marshal(queue.ClipRenderPayload{ClipID: clip.ID})
	job := &store.Job{ID: "job-1", Kind: store.KindClipRender, Payload: payload}

	require.NoError(t, HandleClipRender(context.Background(), wc, job))

	updated, err := s.GetClip(context.Background(), clip.ID)
	require.NoError(t, err)
	assert.Equal(t, store.ClipReady, updated.Status)
	assert.NotEmpty(t, updated.StoragePath)
	assert.NotEmpty(t, updated.ThumbPath)

	renderKey := idempotency.RenderKey("ws-1", "proj-1", clip.ID)
	assert.True(t, storage.existing[idempotency.BucketRenders+"/"+renderKey])
}

func TestHandleClipRenderAdvancesProjectWhenAllClipsTerminal(t *testing.T) {
	s := store.NewMemory()
	s.SeedProject(store.Project{ID: "proj-2", WorkspaceID: "ws-1", PipelineStage: stage.ClipsGenerated.String()})
	clip := seedClip(t, s, store.Clip{ID: "clip-2", ProjectID: "proj-2", WorkspaceID: "ws-1", StartS: 0, EndS: 15})

	eng := queue.NewEngine(s, clock.NewFake(time.Now()))
	wc := newTestContext(t, s, newFakeStorage(), &fakeTranscriber{})
	wc.Queue = eng
	wc.Transcoder = &fakeTranscoder{}

	payload, _ := queue.Marshal(queue.ClipRenderPayload{ClipID: clip.ID})
	job := &store.Job{ID: "job-2", Kind: store.KindClipRender, Payload: payload}

	require.NoError(t, HandleClipRender(context.Background(), wc, job))

	proj, err := s.GetProject(context.Background(), "proj-2")
	require.NoError(t, err)
	assert.Equal(t, stage.Rendered.String(), proj.PipelineStage)
}

func TestHandleClipRenderAdvancesProjectWithMixOfFailedAndReadyClips(t *testing.T) {
	s := store.NewMemory()
	s.SeedProject(store.Project{ID: "proj-4", WorkspaceID: "ws-1", PipelineStage: stage.ClipsGenerated.String()})
	failed := seedClip(t, s, store.Clip{ID: "clip-4a", ProjectID: "proj-4", WorkspaceID: "ws-1", StartS: 0, EndS: 15})
	failed.Status = store.ClipFailed
	require.NoError(t, s.UpdateClip(context.Background(), failed))
	ready := seedClip(t, s, store.Clip{ID: "clip-4b", ProjectID: "proj-4", WorkspaceID: "ws-1", StartS: 20, EndS: 35})

	eng := queue.NewEngine(s, clock.NewFake(time.Now()))
	wc := newTestContext(t, s, newFakeStorage(), &fakeTranscriber{})
	wc.Queue = eng
	wc.Transcoder = &fakeTranscoder{}

	payload, _ := queue.Marshal(queue.ClipRenderPayload{ClipID: ready.ID})
	job := &store.Job{ID: "job-4", Kind: store.KindClipRender, Payload: payload}

	require.NoError(t, HandleClipRender(context.Background(), wc, job))

	proj, err := s.GetProject(context.Background(), "proj-4")
	require.NoError(t, err)
	assert.Equal(t, stage.Rendered.String(), proj.PipelineStage)
}

func TestHandleClipRenderClassifiesTranscoderFailure(t *testing.T) {
	s := store.NewMemory()
	s.SeedProject(store.Project{ID: "proj-3", WorkspaceID: "ws-1", PipelineStage: stage.ClipsGenerated.String()})
	clip := seedClip(t, s, store.Clip{ID: "clip-3", ProjectID: "proj-3", WorkspaceID: "ws-1", StartS: 0, EndS: 15})

	eng := queue.NewEngine(s, clock.NewFake(time.Now()))
	wc := newTestContext(t, s, newFakeStorage(), &fakeTranscriber{})
	wc.Queue = eng
	wc.Transcoder = &fakeTranscoder{fail: true}

	payload, _ := queue.Marshal(queue.ClipRenderPayload{ClipID: clip.ID})
	job := &store.Job{ID: "job-3", Kind: store.KindClipRender, Payload: payload}

	err := HandleClipRender(context.Background(), wc, job)
	require.Error(t, err)

	updated, err2 := s.GetClip(context.Background(), clip.ID)
	require.NoError(t, err2)
	assert.Equal(t, store.ClipFailed, updated.Status)
}
