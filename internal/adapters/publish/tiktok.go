// Copyright 2025 James Ross
// Package publish implements ports.Publisher for each destination
// platform, each adapter translating ports.PublishMetadata to that
// platform's upload wire format over plain net/http and classifying
// non-2xx responses through pipelineerr.ClassifyProviderStatus so the
// queue engine can decide retry vs. dead-letter.
package publish

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
	"time"

	"golang.org/x/time/rate"

	"github.com/clipforge/pipeline/internal/pipelineerr"
	"github.com/clipforge/pipeline/internal/ports"
)

const defaultPublishTimeout = 5 * time.Minute

// tiktokClientSideRate caps outbound upload requests per process, a
// client-side safety margin under TikTok's own published rate limit so a
// burst of simultaneously-due clips doesn't trip it, independent of the
// posting-guard's per-account spam-prevention cooldown.
const tiktokClientSideRate = rate.Limit(2) // requests/sec

// TikTok uploads a rendered clip through the TikTok content-posting API.
type TikTok struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

func NewTikTok(baseURL string) *TikTok {
	if baseURL == "" {
		baseURL = "https://open.tiktokapis.com/v2"
	}
	return &TikTok{baseURL: baseURL, client: &http.Client{Timeout: defaultPublishTimeout}, limiter: rate.NewLimiter(tiktokClientSideRate, 2)}
}

type tiktokPublishResponse struct {
	Data struct {
		PublishID string `json:"publish_id"`
	} `json:"data"`
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (t *TikTok) Upload(ctx context.Context, token ports.AccessToken, filePath string, meta ports.PublishMetadata) (ports.PublishResult, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return ports.PublishResult{}, pipelineerr.New(pipelineerr.Internal, err, "tiktok: rate limiter wait")
	}

	body, contentType, err := multipartVideo(filePath, meta.Caption)
	if err != nil {
		return ports.PublishResult{}, pipelineerr.New(pipelineerr.Internal, err, "tiktok: build upload body")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/post/publish/video/init/", body)
	if err != nil {
		return ports.PublishResult{}, pipelineerr.New(pipelineerr.Internal, err, "tiktok: build request")
	}
	req.Header.Set("Authorization", "Bearer "+token.Value)
	req.Header.Set("Content-Type", contentType)

	resp, err := t.client.Do(req)
	if err != nil {
		return ports.PublishResult{}, pipelineerr.New(pipelineerr.ProviderTransient, err, "tiktok: upload request failed")
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ports.PublishResult{}, pipelineerr.ClassifyProviderStatus(resp.StatusCode, fmt.Errorf("tiktok: %s", string(data)))
	}

	var parsed tiktokPublishResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return ports.PublishResult{}, pipelineerr.New(pipelineerr.Internal, err, "tiktok: decode response")
	}
	if parsed.Error.Code != "" {
		return ports.PublishResult{}, pipelineerr.New(pipelineerr.InvalidPayload, fmt.Errorf("%s", parsed.Error.Message), "tiktok: %s", parsed.Error.Code).WithProviderStatus(resp.StatusCode, parsed.Error.Code)
	}

	return ports.PublishResult{PlatformVideoID: parsed.Data.PublishID}, nil
}

func multipartVideo(filePath, caption string) (*bytes.Buffer, string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if caption != "" {
		if err := w.WriteField("caption", caption); err != nil {
			return nil, "", err
		}
	}
	part, err := w.CreateFormFile("video", filepath.Base(filePath))
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
