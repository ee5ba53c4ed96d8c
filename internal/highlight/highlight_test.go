package highlight

import (
	"testing"

	"github.com/clipforge/pipeline/internal/store"
)

func TestComputeMaxClipsBaselineByDuration(t *testing.T) {
	pro := store.Plans[store.PlanPro]

	cases := []struct {
		minutes float64
		want    int
	}{
		{0.5, 2},
		{3, 5},
		{10, 8},
	}
	for _, c := range cases {
		got := ComputeMaxClips(MaxClipsInput{DurationMs: c.minutes * 60000, Plan: pro})
		if got != c.want {
			t.Errorf("duration %gm: expected %d clips, got %d", c.minutes, c.want, got)
		}
	}
}

func TestComputeMaxClipsNonDecreasingInDuration(t *testing.T) {
	pro := store.Plans[store.PlanPro]
	prev := 0
	for minutes := 0.5; minutes <= 120; minutes += 0.5 {
		got := ComputeMaxClips(MaxClipsInput{DurationMs: minutes * 60000, Plan: pro})
		if got < prev {
			t.Fatalf("max clips decreased at %gm: %d < %d", minutes, got, prev)
		}
		if got > 30 {
			t.Fatalf("max clips exceeded hard ceiling at %gm: %d", minutes, got)
		}
		prev = got
	}
}

func TestComputeMaxClipsBasicPlanTenMinutes(t *testing.T) {
	basic := store.Plans[store.PlanBasic]
	got := ComputeMaxClips(MaxClipsInput{DurationMs: 600_000, Plan: basic})
	if got != 3 {
		t.Fatalf("expected basic plan's per-project cap 3 for a 10-minute video, got %d", got)
	}
}

func TestConsolidateDropsOverlapKeepsDisjoint(t *testing.T) {
	candidates := []Candidate{
		{Start: 0, End: 10, Score: 0.9},
		{Start: 5, End: 15, Score: 0.8},
		{Start: 20, End: 30, Score: 0.7},
	}
	got := Consolidate(candidates, nil, 5)
	if len(got) != 2 {
		t.Fatalf("expected 2 kept candidates, got %d", len(got))
	}
	if got[0].Start != 0 || got[0].End != 10 || got[1].Start != 20 || got[1].End != 30 {
		t.Fatalf("expected [(0,10),(20,30)], got %+v", got)
	}
}

func TestComputeMaxClipsOverrideClamped(t *testing.T) {
	basic := store.Plans[store.PlanBasic]
	got := ComputeMaxClips(MaxClipsInput{DurationMs: 10 * 60000, Plan: basic, Override: 1000})
	if got > basic.ClipsPerProject {
		t.Fatalf("expected override clamped to plan's per-project cap %d, got %d", basic.ClipsPerProject, got)
	}
}

func TestComputeMaxClipsIgnoresNonPositiveOverride(t *testing.T) {
	pro := store.Plans[store.PlanPro]
	withOverride := ComputeMaxClips(MaxClipsInput{DurationMs: 3 * 60000, Plan: pro, Override: -5})
	without := ComputeMaxClips(MaxClipsInput{DurationMs: 3 * 60000, Plan: pro})
	if withOverride != without {
		t.Fatalf("expected non-positive override to be ignored: %d != %d", withOverride, without)
	}
}

func TestGroupSegmentsSplitsOnGap(t *testing.T) {
	segments := []Segment{
		{Start: 0, End: 12, Text: "first run sentence."},
		{Start: 13, End: 25, Text: "still first run."},
		{Start: 60, End: 75, Text: "second run after a big gap."},
	}
	got := GroupSegments(segments, 5, nil)
	if len(got) != 2 {
		t.Fatalf("expected 2 candidates from 2 runs, got %d", len(got))
	}
}

func TestGroupSegmentsRejectsShortRuns(t *testing.T) {
	segments := []Segment{{Start: 0, End: 5, Text: "too short"}}
	got := GroupSegments(segments, 5, nil)
	if len(got) != 0 {
		t.Fatalf("expected short run rejected, got %d candidates", len(got))
	}
}

func TestGroupSegmentsCountsKeywordHits(t *testing.T) {
	segments := []Segment{
		{Start: 0, End: 15, Text: "this clip has an amazing moment in it"},
	}
	got := GroupSegments(segments, 5, []string{"amazing"})
	if len(got) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(got))
	}
	if got[0].KeywordHits != 1 {
		t.Fatalf("expected 1 keyword hit, got %d", got[0].KeywordHits)
	}
}

func TestConsolidateStopsAtMaxClips(t *testing.T) {
	candidates := []Candidate{
		{Start: 0, End: 20, Score: 3},
		{Start: 30, End: 50, Score: 2},
		{Start: 60, End: 80, Score: 1},
	}
	got := Consolidate(candidates, nil, 2)
	if len(got) != 2 {
		t.Fatalf("expected consolidation capped at maxClips=2, got %d", len(got))
	}
	if got[0].Score < got[1].Score {
		t.Fatalf("expected candidates kept in descending score order")
	}
}

func TestConsolidateSkipsOverlapsWithExisting(t *testing.T) {
	candidates := []Candidate{{Start: 5, End: 25, Score: 5}}
	existing := []store.Clip{{StartS: 0, EndS: 20}}
	got := Consolidate(candidates, existing, 5)
	if len(got) != 0 {
		t.Fatalf("expected overlapping candidate rejected, got %d", len(got))
	}
}
