// Copyright 2025 James Ross
// Package transcriber implements ports.Transcriber against an HTTP
// speech-to-text provider (e.g. an OpenAI-compatible Whisper endpoint),
// posting the local audio file as multipart form data and writing the
// returned transcript to an SRT and a JSON file beside it.
package transcriber

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/clipforge/pipeline/internal/config"
	"github.com/clipforge/pipeline/internal/ports"
)

type HTTP struct {
	endpoint string
	apiKey   string
	timeout  time.Duration
	client   *http.Client
}

func New(cfg config.Transcriber) *HTTP {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &HTTP{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		timeout:  timeout,
		client:   &http.Client{Timeout: timeout},
	}
}

type transcriptSegment struct {
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence,omitempty"`
}

type transcriptResponse struct {
	DurationSec float64             `json:"duration"`
	Segments    []transcriptSegment `json:"segments"`
}

// transcriptArtifact is the transcript.json shape the highlight-detect
// handler reads back; the provider's "duration" field is renamed to
// durationSec on the way through.
type transcriptArtifact struct {
	DurationSec float64             `json:"durationSec"`
	Segments    []transcriptSegment `json:"segments"`
}

func (h *HTTP) Transcribe(ctx context.Context, localFile string) (ports.TranscribeResult, error) {
	body, contentType, err := buildMultipart(localFile)
	if err != nil {
		return ports.TranscribeResult{}, fmt.Errorf("transcriber: build request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, h.endpoint, body)
	if err != nil {
		return ports.TranscribeResult{}, fmt.Errorf("transcriber: new request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return ports.TranscribeResult{}, fmt.Errorf("transcriber: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return ports.TranscribeResult{}, fmt.Errorf("transcriber: provider status %d: %s", resp.StatusCode, string(data))
	}

	var parsed transcriptResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return ports.TranscribeResult{}, fmt.Errorf("transcriber: decode response: %w", err)
	}

	dir := filepath.Dir(localFile)
	base := strings.TrimSuffix(filepath.Base(localFile), filepath.Ext(localFile))
	srtPath := filepath.Join(dir, base+".srt")
	jsonPath := filepath.Join(dir, base+".json")

	if err := writeSRT(srtPath, parsed.Segments); err != nil {
		return ports.TranscribeResult{}, fmt.Errorf("transcriber: write srt: %w", err)
	}
	jsonBytes, err := json.Marshal(transcriptArtifact{DurationSec: parsed.DurationSec, Segments: parsed.Segments})
	if err != nil {
		return ports.TranscribeResult{}, fmt.Errorf("transcriber: marshal transcript: %w", err)
	}
	if err := os.WriteFile(jsonPath, jsonBytes, 0o644); err != nil {
		return ports.TranscribeResult{}, fmt.Errorf("transcriber: write json: %w", err)
	}

	return ports.TranscribeResult{
		SRTPath:     srtPath,
		JSONPath:    jsonPath,
		DurationSec: parsed.DurationSec,
	}, nil
}

func buildMultipart(localFile string) (*bytes.Buffer, string, error) {
	f, err := os.Open(localFile)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filepath.Base(localFile))
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func writeSRT(path string, segments []transcriptSegment) error {
	var b strings.Builder
	for i, seg := range segments {
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n", i+1, srtTimestamp(seg.Start), srtTimestamp(seg.End), seg.Text)
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

func srtTimestamp(sec float64) string {
	d := time.Duration(sec * float64(time.Second))
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	d -= s * time.Second
	ms := d / time.Millisecond
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}
