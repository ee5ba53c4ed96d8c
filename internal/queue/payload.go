// Package queue is the queue engine: the business-logic layer over
// store.Store that decides claim eligibility, retry backoff, and
// dead-letter transitions, plus the typed per-kind job payloads, one
// struct per Kind since the domain has eight distinct job shapes.
package queue

import (
	"encoding/json"
	"fmt"

	"github.com/clipforge/pipeline/internal/store"
)

// IngestURLPayload is the body of a store.KindIngestURL job.
type IngestURLPayload struct {
	ProjectID string `json:"projectId"`
	SourceURL string `json:"sourceUrl"`
}

// TranscribePayload is the body of a store.KindTranscribe job.
type TranscribePayload struct {
	ProjectID string `json:"projectId"`
	SourceExt string `json:"sourceExt,omitempty"`
}

// HighlightDetectPayload is the body of a store.KindHighlightDetect job.
type HighlightDetectPayload struct {
	ProjectID string   `json:"projectId"`
	Keywords  []string `json:"keywords"`
	MinGapSec float64  `json:"minGapSec"`
	MaxClips  int      `json:"maxClips,omitempty"`
}

// ClipRenderPayload is the body of a store.KindClipRender job.
type ClipRenderPayload struct {
	ClipID string `json:"clipId"`
}

// ThumbnailGenPayload is the body of a store.KindThumbnailGen job.
type ThumbnailGenPayload struct {
	ClipID string  `json:"clipId"`
	AtSec  float64 `json:"atSec,omitempty"`
}

// PublishTikTokPayload is the body of a store.KindPublishTikTok job.
type PublishTikTokPayload struct {
	ClipID              string `json:"clipId"`
	ConnectedAccountID  string `json:"connectedAccountId"`
	Caption             string `json:"caption,omitempty"`
	PrivacyLevel        string `json:"privacyLevel,omitempty"`
	ExperimentID        string `json:"experimentId,omitempty"`
	VariantID           string `json:"variantId,omitempty"`
}

// PublishYouTubePayload is the body of a store.KindPublishYouTube job.
type PublishYouTubePayload struct {
	ClipID             string   `json:"clipId"`
	ConnectedAccountID string   `json:"connectedAccountId"`
	Title              string   `json:"title,omitempty"`
	Description        string   `json:"description,omitempty"`
	Tags               []string `json:"tags,omitempty"`
	Visibility         string   `json:"visibility,omitempty"`
	ExperimentID       string   `json:"experimentId,omitempty"`
	VariantID          string   `json:"variantId,omitempty"`
}

// CleanupStoragePayload is the body of a store.KindCleanupStorage job.
type CleanupStoragePayload struct {
	WorkspaceID   string `json:"workspaceId,omitempty"`
	ProjectID     string `json:"projectId,omitempty"`
	RetentionDays int    `json:"retentionDays,omitempty"`
}

// Marshal serializes a payload struct to the bytes stored in Job.Payload.
func Marshal(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return b, nil
}

// Unmarshal decodes Job.Payload into the typed struct matching its Kind.
// Callers select the destination type by switching on store.Job.Kind.
func Unmarshal(payload []byte, v any) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	return nil
}

// DecodePayload decodes Job.Payload into the typed struct for its Kind.
// pipeline.Dispatcher does not call it; each handler unmarshals its own
// payload type.
func DecodePayload(j *store.Job) (any, error) {
	switch j.Kind {
	case store.KindIngestURL:
		var p IngestURLPayload
		err := Unmarshal(j.Payload, &p)
		return p, err
	case store.KindTranscribe:
		var p TranscribePayload
		err := Unmarshal(j.Payload, &p)
		return p, err
	case store.KindHighlightDetect:
		var p HighlightDetectPayload
		err := Unmarshal(j.Payload, &p)
		return p, err
	case store.KindClipRender:
		var p ClipRenderPayload
		err := Unmarshal(j.Payload, &p)
		return p, err
	case store.KindThumbnailGen:
		var p ThumbnailGenPayload
		err := Unmarshal(j.Payload, &p)
		return p, err
	case store.KindPublishTikTok:
		var p PublishTikTokPayload
		err := Unmarshal(j.Payload, &p)
		return p, err
	case store.KindPublishYouTube:
		var p PublishYouTubePayload
		err := Unmarshal(j.Payload, &p)
		return p, err
	case store.KindCleanupStorage:
		var p CleanupStoragePayload
		err := Unmarshal(j.Payload, &p)
		return p, err
	default:
		return nil, fmt.Errorf("unknown job kind %q", j.Kind)
	}
}
