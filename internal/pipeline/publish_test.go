package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipforge/pipeline/internal/clock"
	"github.com/clipforge/pipeline/internal/ports"
	"github.com/clipforge/pipeline/internal/queue"
	"github.com/clipforge/pipeline/internal/stage"
	"github.com/clipforge/pipeline/internal/store"
)

type fakeTokenProvider struct{}

func (fakeTokenProvider) AccessTokenFor(ctx context.Context, connectedAccountID string) (ports.AccessToken, error) {
	return ports.AccessToken{Value: "tok", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

type fakePublisher struct {
	calls int
}

func (f *fakePublisher) Upload(ctx context.Context, token ports.AccessToken, filePath string, meta ports.PublishMetadata) (ports.PublishResult, error) {
	f.calls++
	return ports.PublishResult{PlatformVideoID: "ext-1"}, nil
}

func publishTestContext(t *testing.T, s store.Store, publisher *fakePublisher) *WorkerContext {
	wc := newTestContext(t, s, newFakeStorage(), &fakeTranscriber{})
	wc.TokenProviders = map[store.Platform]ports.TokenProvider{store.PlatformTikTok: fakeTokenProvider{}}
	wc.Publishers = map[store.Platform]ports.Publisher{store.PlatformTikTok: publisher}
	return wc
}

func TestHandlePublishTikTokPublishesReadyClip(t *testing.T) {
	s := store.NewMemory()
	s.SeedSubscription(store.Subscription{ID: "sub1", WorkspaceID: "ws-1", Plan: store.PlanPro, Status: "active", CurrentPeriodEnd: time.Now().Add(30 * 24 * time.Hour)})
	s.SeedProject(store.Project{ID: "proj-1", WorkspaceID: "ws-1", PipelineStage: stage.Rendered.String()})
	s.SeedConnectedAccount(store.ConnectedAccount{ID: "acct-1", WorkspaceID: "ws-1", Platform: store.PlatformTikTok, Status: "active"})
	clip := seedClip(t, s, store.Clip{ID: "clip-1", ProjectID: "proj-1", WorkspaceID: "ws-1", StartS: 0, EndS: 15, Status: store.ClipReady, StoragePath: "renders/clip-1.mp4"})

	eng := queue.NewEngine(s, clock.NewFake(time.Now()))
	publisher := &fakePublisher{}
	wc := publishTestContext(t, s, publisher)
	wc.Queue = eng

	payload, _ := queue.Marshal(queue.PublishTikTokPayload{ClipID: clip.ID, ConnectedAccountID: "acct-1"})
	job := &store.Job{ID: "job-1", Kind: store.KindPublishTikTok, Payload: payload}

	require.NoError(t, HandlePublishTikTok(context.Background(), wc, job))
	assert.Equal(t, 1, publisher.calls)

	updated, err := s.GetClip(context.Background(), clip.ID)
	require.NoError(t, err)
	assert.Equal(t, store.ClipPublished, updated.Status)
	assert.Equal(t, "ext-1", updated.ExternalID)

	proj, err := s.GetProject(context.Background(), "proj-1")
	require.NoError(t, err)
	assert.Equal(t, stage.Published.String(), proj.PipelineStage)
}

func TestHandlePublishTikTokRejectsClipNotReady(t *testing.T) {
	s := store.NewMemory()
	s.SeedProject(store.Project{ID: "proj-2", WorkspaceID: "ws-1"})
	s.SeedConnectedAccount(store.ConnectedAccount{ID: "acct-2", WorkspaceID: "ws-1", Platform: store.PlatformTikTok, Status: "active"})
	clip := seedClip(t, s, store.Clip{ID: "clip-2", ProjectID: "proj-2", WorkspaceID: "ws-1", StartS: 0, EndS: 15})

	eng := queue.NewEngine(s, clock.NewFake(time.Now()))
	publisher := &fakePublisher{}
	wc := publishTestContext(t, s, publisher)
	wc.Queue = eng

	payload, _ := queue.Marshal(queue.PublishTikTokPayload{ClipID: clip.ID, ConnectedAccountID: "acct-2"})
	job := &store.Job{ID: "job-2", Kind: store.KindPublishTikTok, Payload: payload}

	err := HandlePublishTikTok(context.Background(), wc, job)
	require.Error(t, err)
	assert.Equal(t, 0, publisher.calls)
}

func TestHandlePublishTikTokSkipsAlreadyPublished(t *testing.T) {
	s := store.NewMemory()
	s.SeedProject(store.Project{ID: "proj-3", WorkspaceID: "ws-1", PipelineStage: stage.Published.String()})
	s.SeedConnectedAccount(store.ConnectedAccount{ID: "acct-3", WorkspaceID: "ws-1", Platform: store.PlatformTikTok, Status: "active"})
	clip := seedClip(t, s, store.Clip{ID: "clip-3", ProjectID: "proj-3", WorkspaceID: "ws-1", StartS: 0, EndS: 15, Status: store.ClipReady, StoragePath: "renders/clip-3.mp4"})

	eng := queue.NewEngine(s, clock.NewFake(time.Now()))
	publisher := &fakePublisher{}
	wc := publishTestContext(t, s, publisher)
	wc.Queue = eng

	payload, _ := queue.Marshal(queue.PublishTikTokPayload{ClipID: clip.ID, ConnectedAccountID: "acct-3"})
	job := &store.Job{ID: "job-3", Kind: store.KindPublishTikTok, Payload: payload}

	require.NoError(t, HandlePublishTikTok(context.Background(), wc, job))
	assert.Equal(t, 0, publisher.calls)
}

func TestHandlePublishTikTokSkipsWhenVariantAlreadyPosted(t *testing.T) {
	s := store.NewMemory()
	s.SeedProject(store.Project{ID: "proj-5", WorkspaceID: "ws-1", PipelineStage: stage.Rendered.String()})
	s.SeedConnectedAccount(store.ConnectedAccount{ID: "acct-5", WorkspaceID: "ws-1", Platform: store.PlatformTikTok, Status: "active"})
	clip := seedClip(t, s, store.Clip{ID: "clip-5", ProjectID: "proj-5", WorkspaceID: "ws-1", StartS: 0, EndS: 15, Status: store.ClipReady, StoragePath: "renders/clip-5.mp4"})

	postedAt := time.Now().UTC()
	_, err := s.UpsertVariantPost(context.Background(), store.VariantPost{
		ClipID: clip.ID, ConnectedAccountID: "acct-5", Platform: store.PlatformTikTok,
		Status: store.VariantPosted, PlatformPostID: "X", PostedAt: &postedAt,
	})
	require.NoError(t, err)

	eng := queue.NewEngine(s, clock.NewFake(time.Now()))
	publisher := &fakePublisher{}
	wc := publishTestContext(t, s, publisher)
	wc.Queue = eng

	payload, _ := queue.Marshal(queue.PublishTikTokPayload{ClipID: clip.ID, ConnectedAccountID: "acct-5"})
	job := &store.Job{ID: "job-5", Kind: store.KindPublishTikTok, Payload: payload}

	require.NoError(t, HandlePublishTikTok(context.Background(), wc, job))
	assert.Equal(t, 0, publisher.calls)
}

func TestHandlePublishYouTubeRejectsMissingPublisher(t *testing.T) {
	s := store.NewMemory()
	s.SeedProject(store.Project{ID: "proj-4", WorkspaceID: "ws-1"})
	s.SeedConnectedAccount(store.ConnectedAccount{ID: "acct-4", WorkspaceID: "ws-1", Platform: store.PlatformYouTube, Status: "active"})
	clip := seedClip(t, s, store.Clip{ID: "clip-4", ProjectID: "proj-4", WorkspaceID: "ws-1", StartS: 0, EndS: 15, Status: store.ClipReady, StoragePath: "renders/clip-4.mp4"})

	eng := queue.NewEngine(s, clock.NewFake(time.Now()))
	wc := publishTestContext(t, s, &fakePublisher{}) // no YouTube publisher registered
	wc.Queue = eng

	payload, _ := queue.Marshal(queue.PublishYouTubePayload{ClipID: clip.ID, ConnectedAccountID: "acct-4"})
	job := &store.Job{ID: "job-4", Kind: store.KindPublishYouTube, Payload: payload}

	err := HandlePublishYouTube(context.Background(), wc, job)
	require.Error(t, err)
}
