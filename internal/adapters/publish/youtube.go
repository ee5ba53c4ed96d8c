// Copyright 2025 James Ross
package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"golang.org/x/time/rate"

	"github.com/clipforge/pipeline/internal/pipelineerr"
	"github.com/clipforge/pipeline/internal/ports"
)

// youtubeClientSideRate mirrors tiktokClientSideRate: a client-side
// safety margin under YouTube's published quota, independent of the
// posting-guard's per-account cooldown.
const youtubeClientSideRate = rate.Limit(2)

// YouTube uploads a rendered clip to the YouTube Data API in a single
// multipart POST (uploadType=multipart). It does not use the resumable
// upload protocol: there is no upload session, no chunking, and an
// interrupted upload starts over from the beginning.
type YouTube struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

func NewYouTube(baseURL string) *YouTube {
	if baseURL == "" {
		baseURL = "https://www.googleapis.com/upload/youtube/v3/videos?uploadType=multipart&part=snippet,status"
	}
	return &YouTube{baseURL: baseURL, client: &http.Client{Timeout: defaultPublishTimeout}, limiter: rate.NewLimiter(youtubeClientSideRate, 2)}
}

type youtubeSnippet struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags,omitempty"`
}

type youtubeStatus struct {
	PrivacyStatus string `json:"privacyStatus"`
}

type youtubeInsertRequest struct {
	Snippet youtubeSnippet `json:"snippet"`
	Status  youtubeStatus  `json:"status"`
}

type youtubeInsertResponse struct {
	ID    string `json:"id"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (y *YouTube) Upload(ctx context.Context, token ports.AccessToken, filePath string, meta ports.PublishMetadata) (ports.PublishResult, error) {
	if err := y.limiter.Wait(ctx); err != nil {
		return ports.PublishResult{}, pipelineerr.New(pipelineerr.Internal, err, "youtube: rate limiter wait")
	}

	visibility := meta.Visibility
	if visibility == "" {
		visibility = "private"
	}
	metaJSON, err := json.Marshal(youtubeInsertRequest{
		Snippet: youtubeSnippet{Title: meta.Title, Description: meta.Description, Tags: meta.Tags},
		Status:  youtubeStatus{PrivacyStatus: visibility},
	})
	if err != nil {
		return ports.PublishResult{}, pipelineerr.New(pipelineerr.Internal, err, "youtube: marshal metadata")
	}

	f, err := os.Open(filePath)
	if err != nil {
		return ports.PublishResult{}, pipelineerr.New(pipelineerr.Internal, err, "youtube: open rendered clip")
	}
	defer f.Close()

	body, contentType, err := multipartRelated(metaJSON, f)
	if err != nil {
		return ports.PublishResult{}, pipelineerr.New(pipelineerr.Internal, err, "youtube: build multipart body")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, y.baseURL, body)
	if err != nil {
		return ports.PublishResult{}, pipelineerr.New(pipelineerr.Internal, err, "youtube: build request")
	}
	req.Header.Set("Authorization", "Bearer "+token.Value)
	req.Header.Set("Content-Type", contentType)

	resp, err := y.client.Do(req)
	if err != nil {
		return ports.PublishResult{}, pipelineerr.New(pipelineerr.ProviderTransient, err, "youtube: upload request failed")
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ports.PublishResult{}, pipelineerr.ClassifyProviderStatus(resp.StatusCode, fmt.Errorf("youtube: %s", string(data)))
	}

	var parsed youtubeInsertResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return ports.PublishResult{}, pipelineerr.New(pipelineerr.Internal, err, "youtube: decode response")
	}
	if parsed.Error != nil {
		return ports.PublishResult{}, pipelineerr.ClassifyProviderStatus(parsed.Error.Code, fmt.Errorf("%s", parsed.Error.Message))
	}

	return ports.PublishResult{PlatformVideoID: parsed.ID}, nil
}

// multipartRelated builds a multipart/related body (YouTube's required
// format: JSON metadata part followed by the raw video bytes part).
func multipartRelated(metaJSON []byte, video io.Reader) (*bytes.Buffer, string, error) {
	const boundary = "clipforge-youtube-boundary"
	var buf bytes.Buffer

	buf.WriteString("--" + boundary + "\r\n")
	buf.WriteString("Content-Type: application/json; charset=UTF-8\r\n\r\n")
	buf.Write(metaJSON)
	buf.WriteString("\r\n")

	buf.WriteString("--" + boundary + "\r\n")
	buf.WriteString("Content-Type: video/mp4\r\n\r\n")
	if _, err := io.Copy(&buf, video); err != nil {
		return nil, "", err
	}
	buf.WriteString("\r\n--" + boundary + "--")

	return &buf, "multipart/related; boundary=" + boundary, nil
}
