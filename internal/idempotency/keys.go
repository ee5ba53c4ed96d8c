// Package idempotency holds the per-handler idempotency guards:
// deterministic storage-key derivation so every upload is
// create-if-absent, the short-circuit predicates each handler runs
// before expensive work, and an optional Redis reservation fast path.
package idempotency

import "fmt"

const (
	BucketVideos      = "videos"
	BucketTranscripts = "transcripts"
	BucketRenders     = "renders"
	BucketThumbs      = "thumbs"
)

// SourceKey is the deterministic object key for an ingested source video.
func SourceKey(workspaceID, projectID, ext string) string {
	if ext == "" {
		ext = "mp4"
	}
	return fmt.Sprintf("%s/%s/source.%s", workspaceID, projectID, ext)
}

// TranscriptKeys returns the SRT and JSON transcript object keys.
func TranscriptKeys(workspaceID, projectID string) (srt, json string) {
	base := fmt.Sprintf("%s/%s/transcript", workspaceID, projectID)
	return base + ".srt", base + ".json"
}

// RenderKey is the deterministic rendered-clip object key.
func RenderKey(workspaceID, projectID, clipID string) string {
	return fmt.Sprintf("%s/%s/%s.mp4", workspaceID, projectID, clipID)
}

// ThumbKey is the deterministic thumbnail object key.
func ThumbKey(workspaceID, projectID, clipID string) string {
	return fmt.Sprintf("%s/%s/%s.jpg", workspaceID, projectID, clipID)
}
