package reaper

import (
	"context"
	"testing"
	"time"

	"github.com/clipforge/pipeline/internal/clock"
	"github.com/clipforge/pipeline/internal/queue"
	"github.com/clipforge/pipeline/internal/store"
	"go.uber.org/zap"
)

func TestReaperRecoversStaleHeartbeat(t *testing.T) {
	mem := store.NewMemory()
	fc := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	mem.SetNowFunc(fc.Now)
	eng := queue.NewEngine(mem, fc, queue.WithHeartbeatTTL(90*time.Second))

	ctx := context.Background()
	job, err := eng.Enqueue(ctx, "ws-1", store.KindTranscribe, []byte(`{"projectId":"p1"}`))
	if err != nil {
		t.Fatal(err)
	}
	claimed, err := eng.Claim(ctx, "worker-1", nil, nil)
	if err != nil || claimed == nil {
		t.Fatalf("expected to claim job, got %v err=%v", claimed, err)
	}

	fc.Advance(2 * time.Minute)

	log, _ := zap.NewDevelopment()
	r := New(eng, log, time.Minute)
	r.sweepOnce(ctx)

	got, err := mem.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != store.JobQueued {
		t.Fatalf("expected job requeued to %q, got %q", store.JobQueued, got.State)
	}
	if got.LockedBy != nil {
		t.Fatalf("expected lock cleared, got %v", *got.LockedBy)
	}
}

func TestReaperLeavesFreshHeartbeatAlone(t *testing.T) {
	mem := store.NewMemory()
	fc := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	mem.SetNowFunc(fc.Now)
	eng := queue.NewEngine(mem, fc, queue.WithHeartbeatTTL(90*time.Second))

	ctx := context.Background()
	_, err := eng.Enqueue(ctx, "ws-1", store.KindTranscribe, []byte(`{"projectId":"p1"}`))
	if err != nil {
		t.Fatal(err)
	}
	claimed, err := eng.Claim(ctx, "worker-1", nil, nil)
	if err != nil || claimed == nil {
		t.Fatalf("expected to claim job, got %v err=%v", claimed, err)
	}

	fc.Advance(10 * time.Second)
	if err := eng.Heartbeat(ctx, claimed.ID, "worker-1"); err != nil {
		t.Fatal(err)
	}

	log, _ := zap.NewDevelopment()
	r := New(eng, log, time.Minute)
	r.sweepOnce(ctx)

	got, err := mem.GetJob(ctx, claimed.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != store.JobRunning {
		t.Fatalf("expected job to remain running, got %q", got.State)
	}
}
