// Package validation guards the Queue Engine's write path with per-kind
// JSON schema checks on job payloads, so a malformed enqueue
// from any caller - HTTP ingest, another handler, an admin command - fails
// fast with a clear error instead of surfacing as a cryptic unmarshal
// error deep inside a worker. One schema per store.Kind.
package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/clipforge/pipeline/internal/store"
)

var schemas = map[store.Kind]string{
	store.KindIngestURL: `{
		"type": "object",
		"required": ["projectId", "sourceUrl"],
		"properties": {
			"projectId": {"type": "string", "minLength": 1},
			"sourceUrl": {"type": "string", "minLength": 1}
		}
	}`,
	store.KindTranscribe: `{
		"type": "object",
		"required": ["projectId"],
		"properties": {
			"projectId": {"type": "string", "minLength": 1},
			"sourceExt": {"type": "string"}
		}
	}`,
	store.KindHighlightDetect: `{
		"type": "object",
		"required": ["projectId"],
		"properties": {
			"projectId": {"type": "string", "minLength": 1},
			"keywords": {"type": "array", "items": {"type": "string"}},
			"minGapSec": {"type": "number", "minimum": 0},
			"maxClips": {"type": "integer", "minimum": 0}
		}
	}`,
	store.KindClipRender: `{
		"type": "object",
		"required": ["clipId"],
		"properties": {"clipId": {"type": "string", "minLength": 1}}
	}`,
	store.KindThumbnailGen: `{
		"type": "object",
		"required": ["clipId"],
		"properties": {
			"clipId": {"type": "string", "minLength": 1},
			"atSec": {"type": "number", "minimum": 0}
		}
	}`,
	store.KindPublishTikTok: `{
		"type": "object",
		"required": ["clipId", "connectedAccountId"],
		"properties": {
			"clipId": {"type": "string", "minLength": 1},
			"connectedAccountId": {"type": "string", "minLength": 1}
		}
	}`,
	store.KindPublishYouTube: `{
		"type": "object",
		"required": ["clipId", "connectedAccountId"],
		"properties": {
			"clipId": {"type": "string", "minLength": 1},
			"connectedAccountId": {"type": "string", "minLength": 1}
		}
	}`,
	store.KindCleanupStorage: `{
		"type": "object",
		"properties": {
			"workspaceId": {"type": "string"},
			"projectId": {"type": "string"},
			"retentionDays": {"type": "integer", "minimum": 0}
		}
	}`,
}

var schemaLoaders = buildLoaders()

func buildLoaders() map[store.Kind]gojsonschema.JSONLoader {
	loaders := make(map[store.Kind]gojsonschema.JSONLoader, len(schemas))
	for kind, raw := range schemas {
		loaders[kind] = gojsonschema.NewStringLoader(raw)
	}
	return loaders
}

// ValidatePayload checks payload against the JSON schema registered for
// kind. A kind with no registered schema passes unchecked, since not
// every store.Kind needs write-path validation beyond its own Unmarshal.
func ValidatePayload(kind store.Kind, payload []byte) error {
	loader, ok := schemaLoaders[kind]
	if !ok {
		return nil
	}
	if !json.Valid(payload) {
		return fmt.Errorf("validation: payload for kind %s is not valid JSON", kind)
	}

	result, err := gojsonschema.Validate(loader, gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return fmt.Errorf("validation: schema check for kind %s: %w", kind, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("validation: payload for kind %s failed schema check: %s", kind, strings.Join(msgs, "; "))
	}
	return nil
}
