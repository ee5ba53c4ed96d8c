package store

import (
	"context"
	"testing"
	"time"
)

func TestMemoryClaimJobOrdersByRunAtThenCreatedAt(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	later, _ := m.EnqueueJob(ctx, NewJobInput{WorkspaceID: "ws", Kind: KindTranscribe, RunAt: base.Add(time.Minute)})
	earlier, _ := m.EnqueueJob(ctx, NewJobInput{WorkspaceID: "ws", Kind: KindTranscribe, RunAt: base})

	claimed, err := m.ClaimJob(ctx, "worker-1", []Kind{KindTranscribe}, nil)
	if err != nil {
		t.Fatalf("ClaimJob: %v", err)
	}
	if claimed.ID != earlier.ID {
		t.Fatalf("expected to claim earlier run_at job %s, got %s", earlier.ID, claimed.ID)
	}
	_ = later
}

func TestMemoryConditionalAdvanceStageOnlyMatchesFrom(t *testing.T) {
	m := NewMemory()
	m.SeedProject(Project{ID: "p1", WorkspaceID: "ws", PipelineStage: "UPLOADED"})

	ok, err := m.ConditionalAdvanceStage(context.Background(), "p1", "TRANSCRIBED", "CLIPS_GENERATED")
	if err != nil {
		t.Fatalf("ConditionalAdvanceStage: %v", err)
	}
	if ok {
		t.Fatal("expected no-op when from doesn't match current stage")
	}

	ok, err = m.ConditionalAdvanceStage(context.Background(), "p1", "UPLOADED", "TRANSCRIBED")
	if err != nil {
		t.Fatalf("ConditionalAdvanceStage: %v", err)
	}
	if !ok {
		t.Fatal("expected advance to succeed when from matches")
	}
	p, _ := m.GetProject(context.Background(), "p1")
	if p.PipelineStage != "TRANSCRIBED" {
		t.Fatalf("expected stage TRANSCRIBED, got %s", p.PipelineStage)
	}
}

func TestMemoryInsertClipsDedupesByRoundedBounds(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	first, err := m.InsertClips(ctx, []Clip{{ProjectID: "p1", WorkspaceID: "ws", StartS: 10.0001, EndS: 20.0004}})
	if err != nil || len(first) != 1 {
		t.Fatalf("InsertClips first: %v %+v", err, first)
	}

	second, err := m.InsertClips(ctx, []Clip{{ProjectID: "p1", WorkspaceID: "ws", StartS: 10.0002, EndS: 20.0003}})
	if err != nil {
		t.Fatalf("InsertClips second: %v", err)
	}
	if len(second) != 0 {
		t.Fatalf("expected duplicate within 3-decimal precision to be dropped, got %+v", second)
	}
}

func TestMemoryIncrementUsageAccumulatesPerMonth(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	monthStart := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

	if err := m.IncrementUsage(ctx, "ws", MetricClips, 3, monthStart); err != nil {
		t.Fatalf("IncrementUsage: %v", err)
	}
	if err := m.IncrementUsage(ctx, "ws", MetricClips, 2, monthStart); err != nil {
		t.Fatalf("IncrementUsage: %v", err)
	}
	u, err := m.GetOpenUsage(ctx, "ws", monthStart)
	if err != nil {
		t.Fatalf("GetOpenUsage: %v", err)
	}
	if u.ClipsCount != 5 {
		t.Fatalf("expected accumulated clips count 5, got %d", u.ClipsCount)
	}
}

func TestMemoryResolvePlanDefaultsToBasic(t *testing.T) {
	m := NewMemory()
	limits, err := m.ResolvePlan(context.Background(), "ws-unknown", time.Now())
	if err != nil {
		t.Fatalf("ResolvePlan: %v", err)
	}
	if limits.Name != PlanBasic {
		t.Fatalf("expected PlanBasic default, got %v", limits.Name)
	}
}

func TestMemoryUpsertVariantPostEnforcesOneRowPerTuple(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	vp, err := m.UpsertVariantPost(ctx, VariantPost{ClipID: "c1", ConnectedAccountID: "a1", Platform: PlatformTikTok, Status: VariantPending})
	if err != nil {
		t.Fatalf("UpsertVariantPost: %v", err)
	}

	now := time.Now().UTC()
	vp2, err := m.UpsertVariantPost(ctx, VariantPost{ClipID: "c1", ConnectedAccountID: "a1", Platform: PlatformTikTok, Status: VariantPosted, PostedAt: &now})
	if err != nil {
		t.Fatalf("UpsertVariantPost: %v", err)
	}
	if vp2.ID != vp.ID {
		t.Fatalf("expected upsert to reuse row id %s, got %s", vp.ID, vp2.ID)
	}

	posted, err := m.GetPostedVariant(ctx, "c1", "a1", PlatformTikTok)
	if err != nil {
		t.Fatalf("GetPostedVariant: %v", err)
	}
	if posted == nil || posted.Status != VariantPosted {
		t.Fatalf("expected posted variant, got %+v", posted)
	}
}

func TestMemoryRequeueDeadLetterRequiresDeadLetterState(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	j, _ := m.EnqueueJob(ctx, NewJobInput{WorkspaceID: "ws", Kind: KindTranscribe})

	err := m.RequeueDeadLetter(ctx, j.ID, time.Now().UTC())
	if _, ok := err.(ErrConflict); !ok {
		t.Fatalf("expected ErrConflict for non-dead-letter job, got %v", err)
	}

	if err := m.DeadLetterJob(ctx, j.ID, "boom"); err != nil {
		t.Fatalf("DeadLetterJob: %v", err)
	}
	if err := m.RequeueDeadLetter(ctx, j.ID, time.Now().UTC()); err != nil {
		t.Fatalf("RequeueDeadLetter: %v", err)
	}
	got, _ := m.GetJob(ctx, j.ID)
	if got.State != JobQueued || got.Attempts != 0 {
		t.Fatalf("expected requeued job to reset attempts, got %+v", got)
	}
}
