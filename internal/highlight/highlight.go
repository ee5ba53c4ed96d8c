// Package highlight implements the pure computation steps of the
// HighlightDetect handler: max-clips sizing, segment grouping, and
// candidate consolidation against existing clips. Kept free of I/O so
// each step can be tested directly against literal inputs, the same
// separation internal/stage and internal/idempotency use for their pure
// helpers.
package highlight

import (
	"math"
	"sort"
	"strings"

	"github.com/clipforge/pipeline/internal/idempotency"
	"github.com/clipforge/pipeline/internal/store"
)

// Segment is one transcript segment read from the transcript JSON artifact.
type Segment struct {
	Start      float64
	End        float64
	Text       string
	Confidence float64 // 0 means "use default 0.75"
}

// MaxClipsInput bundles the knobs ComputeMaxClips needs.
type MaxClipsInput struct {
	DurationMs float64
	Plan       store.PlanLimits
	Override   float64 // request override; non-positive or non-finite is ignored
}

// ComputeMaxClips applies the baseline-by-duration rule, then the
// request override, then the plan clamps: non-decreasing in durationMs
// up to the hard ceiling of 30.
func ComputeMaxClips(in MaxClipsInput) int {
	minutes := in.DurationMs / 60000.0
	softCap := softCap(in.Plan.ClipsPerMonth)

	var baseline float64
	switch {
	case minutes <= 1:
		baseline = 2
	case minutes <= 5:
		baseline = math.Min(6, 2+math.Floor(minutes))
	case minutes <= 15:
		baseline = math.Min(10, 6+math.Floor((minutes-5)/2))
	default:
		baseline = math.Min(float64(softCap), 10+math.Floor((minutes-15)/5))
	}

	result := baseline
	if in.Override > 0 && !math.IsInf(in.Override, 0) && !math.IsNaN(in.Override) {
		result = math.Floor(in.Override)
	}

	clampTo := float64(in.Plan.ClipsPerProject)
	if float64(softCap) < clampTo {
		clampTo = float64(softCap)
	}
	if clampTo > 30 {
		clampTo = 30
	}
	if result > clampTo {
		result = clampTo
	}
	if result < 1 {
		result = 1
	}
	return int(result)
}

func softCap(monthlyClipsCap int64) int {
	c := int(monthlyClipsCap) / 20
	if c < 3 {
		return 3
	}
	return c
}

// Candidate is a highlight candidate produced by GroupSegments, not yet
// persisted as a store.Clip.
type Candidate struct {
	Start         float64
	End           float64
	AvgConfidence float64
	KeywordHits   int
	Score         float64
	Title         string
}

func (c Candidate) duration() float64 { return c.End - c.Start }

// GroupSegments splits segments into runs separated by gaps > minGapSec,
// builds one candidate per run, and rejects runs shorter than 10s.
func GroupSegments(segments []Segment, minGapSec float64, keywords []string) []Candidate {
	if len(segments) == 0 {
		return nil
	}
	sorted := append([]Segment(nil), segments...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	var runs [][]Segment
	cur := []Segment{sorted[0]}
	for i := 1; i < len(sorted); i++ {
		gap := sorted[i].Start - cur[len(cur)-1].End
		if gap > minGapSec {
			runs = append(runs, cur)
			cur = []Segment{sorted[i]}
			continue
		}
		cur = append(cur, sorted[i])
	}
	runs = append(runs, cur)

	lowerKeywords := make([]string, len(keywords))
	for i, k := range keywords {
		lowerKeywords[i] = strings.ToLower(strings.TrimSpace(k))
	}

	var out []Candidate
	for _, run := range runs {
		first, last := run[0], run[len(run)-1]
		start := first.Start
		end := math.Min(last.End, start+60)
		if end-start < 10 {
			continue
		}

		var confSum float64
		var text strings.Builder
		for _, s := range run {
			conf := s.Confidence
			if conf == 0 {
				conf = 0.75
			}
			confSum += conf
			text.WriteString(s.Text)
			text.WriteString(" ")
		}
		avgConf := confSum / float64(len(run))
		joined := strings.ToLower(text.String())

		hits := 0
		for _, k := range lowerKeywords {
			if k != "" && strings.Contains(joined, k) {
				hits++
			}
		}

		title := firstSentenceOrKeyword(text.String(), lowerKeywords)

		out = append(out, Candidate{
			Start:         start,
			End:           end,
			AvgConfidence: avgConf,
			KeywordHits:   hits,
			Score:         float64(hits) + avgConf,
			Title:         title,
		})
	}
	return out
}

func firstSentenceOrKeyword(text string, keywords []string) string {
	trimmed := strings.TrimSpace(text)
	if trimmed != "" {
		for _, sep := range []string{". ", "! ", "? "} {
			if idx := strings.Index(trimmed, sep); idx > 0 {
				return strings.TrimSpace(trimmed[:idx])
			}
		}
		if len(trimmed) > 0 {
			return trimmed
		}
	}
	for _, k := range keywords {
		if k != "" {
			return k
		}
	}
	return "Highlight"
}

// Consolidate sorts candidates by (score desc, duration asc), greedily
// keeps
// ones that neither overlap nor near-duplicate any already-kept or
// existing clip, stopping at maxClips.
func Consolidate(candidates []Candidate, existing []store.Clip, maxClips int) []Candidate {
	sorted := append([]Candidate(nil), candidates...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		return sorted[i].duration() < sorted[j].duration()
	})

	var kept []Candidate
	keptAsClips := append([]store.Clip(nil), existing...)
	for _, c := range sorted {
		if len(kept) >= maxClips {
			break
		}
		if idempotency.OverlapsExisting(c.Start, c.End, keptAsClips) {
			continue
		}
		if idempotency.IsNearDuplicate(c.Start, c.End, keptAsClips) {
			continue
		}
		kept = append(kept, c)
		keptAsClips = append(keptAsClips, store.Clip{StartS: c.Start, EndS: c.End})
	}
	return kept
}
