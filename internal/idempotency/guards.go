package idempotency

import (
	"math"

	"github.com/clipforge/pipeline/internal/stage"
	"github.com/clipforge/pipeline/internal/store"
)

// ShouldSkipTranscribe reports whether Transcribe has already run for a
// project.
func ShouldSkipTranscribe(cur stage.Stage) bool {
	return stage.IsAtLeast(cur, stage.Transcribed)
}

// ShouldSkipHighlightDetect reports whether HighlightDetect has already run.
func ShouldSkipHighlightDetect(cur stage.Stage) bool {
	return stage.IsAtLeast(cur, stage.ClipsGenerated)
}

// ShouldSkipClipRender reports whether a clip's render output already
// exists and needs no further work.
func ShouldSkipClipRender(c *store.Clip) bool {
	return c.Status == store.ClipReady && c.StoragePath != ""
}

// AlreadyPublished reports whether a (clip, account, platform) tuple has
// already recorded a successful publish, consulting the authoritative
// variant_posts row first and falling back to the legacy single-target
// external_id only when no experiment is in play. variant_posts is
// authoritative; external_id is a read-only fallback, never written by
// new code.
func AlreadyPublished(posted *store.VariantPost, clip *store.Clip, experimentID string) bool {
	if posted != nil && posted.Status == store.VariantPosted {
		return true
	}
	if experimentID == "" && clip.ExternalID != "" {
		return true
	}
	return false
}

// OverlapsExisting reports whether [start, end) overlaps any interval
// already present among existing clips, used by HighlightDetect
// consolidation to enforce the no-overlap invariant.
func OverlapsExisting(start, end float64, existing []store.Clip) bool {
	for _, c := range existing {
		if start < c.EndS && c.StartS < end {
			return true
		}
	}
	return false
}

// IsNearDuplicate reports whether [start, end) is within 1.5s of both
// bounds, or within 1.5s of the start alone, of any existing interval —
// the near-duplicate rule consolidation applies.
func IsNearDuplicate(start, end float64, existing []store.Clip) bool {
	const tol = 1.5
	for _, c := range existing {
		sameStart := math.Abs(start-c.StartS) <= tol
		sameEnd := math.Abs(end-c.EndS) <= tol
		if sameStart && sameEnd {
			return true
		}
		if sameStart {
			return true
		}
	}
	return false
}

// RoundedBounds rounds a clip's bounds to 3-decimal-second precision, the
// dedup precision InsertClips applies.
func RoundedBounds(startS, endS float64) (float64, float64) {
	return roundTo3(startS), roundTo3(endS)
}

func roundTo3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
