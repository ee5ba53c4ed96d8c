package pipeline

import (
	"context"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/clipforge/pipeline/internal/admission"
	"github.com/clipforge/pipeline/internal/clock"
	"github.com/clipforge/pipeline/internal/idempotency"
	"github.com/clipforge/pipeline/internal/ports"
	"github.com/clipforge/pipeline/internal/queue"
	"github.com/clipforge/pipeline/internal/stage"
	"github.com/clipforge/pipeline/internal/store"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type fakeStorage struct {
	existing map[string]bool
	uploaded atomic.Int64
}

func newFakeStorage() *fakeStorage { return &fakeStorage{existing: map[string]bool{}} }

func (f *fakeStorage) Exists(ctx context.Context, bucket, key string) (bool, error) {
	return f.existing[bucket+"/"+key], nil
}
func (f *fakeStorage) List(ctx context.Context, bucket, prefix string) ([]string, error) {
	return nil, nil
}
func (f *fakeStorage) Download(ctx context.Context, bucket, key, destPath string) error { return nil }
func (f *fakeStorage) Upload(ctx context.Context, bucket, key, srcPath string) error {
	f.existing[bucket+"/"+key] = true
	f.uploaded.Add(1)
	return nil
}
func (f *fakeStorage) Open(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	return io.NopCloser(nil), nil
}
func (f *fakeStorage) Remove(ctx context.Context, bucket, key string) error { return nil }
func (f *fakeStorage) RemoveBatch(ctx context.Context, bucket string, keys []string) error {
	return nil
}

type fakeTranscriber struct {
	calls atomic.Int64
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, localFile string) (ports.TranscribeResult, error) {
	f.calls.Add(1)
	return ports.TranscribeResult{SRTPath: localFile + ".srt", JSONPath: localFile + ".json", DurationSec: 42}, nil
}

type noopLogger struct{}

func (noopLogger) Infow(string, ...any)         {}
func (noopLogger) Warnw(string, ...any)         {}
func (noopLogger) Errorw(string, ...any)        {}
func (noopLogger) With(...any) ports.Logger     { return noopLogger{} }

type noopErrors struct{}

func (noopErrors) Report(context.Context, error, map[string]any) {}

func newTestContext(t *testing.T, s store.Store, storage *fakeStorage, transcriber *fakeTranscriber) *WorkerContext {
	t.Helper()
	return &WorkerContext{
		Store:       s,
		Storage:     storage,
		Clock:       clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
		Logger:      noopLogger{},
		Errors:      noopErrors{},
		Usage:       admission.NewUsage(s),
		Transcriber: transcriber,
		TempDirRoot: t.TempDir(),
	}
}

func TestHandleTranscribeSkipsAlreadyTranscribed(t *testing.T) {
	s := store.NewMemory()
	s.SeedProject(store.Project{ID: "proj-1", WorkspaceID: "ws-1", PipelineStage: stage.Transcribed.String()})
	fc := clock.NewFake(time.Now())
	eng := queue.NewEngine(s, fc)
	wc := newTestContext(t, s, newFakeStorage(), &fakeTranscriber{})
	wc.Queue = eng

	payload, err := queue.Marshal(queue.TranscribePayload{ProjectID: "proj-1"})
	if err != nil {
		t.Fatal(err)
	}
	job := &store.Job{ID: "job-1", Kind: store.KindTranscribe, Payload: payload}

	if err := HandleTranscribe(context.Background(), wc, job); err != nil {
		t.Fatal(err)
	}

	depth, err := eng.Depth(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if depth[store.KindHighlightDetect] != 1 {
		t.Fatalf("expected highlight-detect enqueued even when transcribe is skipped, got depth %+v", depth)
	}
}

func TestHandleTranscribeRunsAndAdvancesStage(t *testing.T) {
	s := store.NewMemory()
	s.SeedProject(store.Project{ID: "proj-2", WorkspaceID: "ws-1", PipelineStage: stage.Uploaded.String()})
	fc := clock.NewFake(time.Now())
	eng := queue.NewEngine(s, fc)
	storage := newFakeStorage()
	transcriber := &fakeTranscriber{}
	wc := newTestContext(t, s, storage, transcriber)
	wc.Queue = eng

	payload, _ := queue.Marshal(queue.TranscribePayload{ProjectID: "proj-2"})
	job := &store.Job{ID: "job-2", Kind: store.KindTranscribe, Payload: payload}

	if err := HandleTranscribe(context.Background(), wc, job); err != nil {
		t.Fatal(err)
	}

	if transcriber.calls.Load() != 1 {
		t.Fatalf("expected transcriber invoked once, got %d", transcriber.calls.Load())
	}
	if storage.uploaded.Load() != 2 {
		t.Fatalf("expected srt and json uploaded, got %d uploads", storage.uploaded.Load())
	}

	proj, err := s.GetProject(context.Background(), "proj-2")
	if err != nil {
		t.Fatal(err)
	}
	if proj.PipelineStage != stage.Transcribed.String() {
		t.Fatalf("expected stage advanced to TRANSCRIBED, got %q", proj.PipelineStage)
	}
}

func TestHandleTranscribeSkipsWhenReservationHeld(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	s := store.NewMemory()
	s.SeedProject(store.Project{ID: "proj-3", WorkspaceID: "ws-1", PipelineStage: stage.Uploaded.String()})
	fc := clock.NewFake(time.Now())
	eng := queue.NewEngine(s, fc)
	transcriber := &fakeTranscriber{}
	wc := newTestContext(t, s, newFakeStorage(), transcriber)
	wc.Queue = eng
	wc.Idempotency = idempotency.NewRedisReservation(client, "test", time.Minute)

	if _, err := wc.Idempotency.TryReserve(context.Background(), "transcribe:proj-3"); err != nil {
		t.Fatal(err)
	}

	payload, _ := queue.Marshal(queue.TranscribePayload{ProjectID: "proj-3"})
	job := &store.Job{ID: "job-3", Kind: store.KindTranscribe, Payload: payload}

	err = HandleTranscribe(context.Background(), wc, job)
	if err == nil {
		t.Fatal("expected error when another worker holds the reservation")
	}
	if transcriber.calls.Load() != 0 {
		t.Fatalf("expected transcriber not invoked while reservation is held, got %d calls", transcriber.calls.Load())
	}
}
