package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/clipforge/pipeline/internal/config"
)

// fakeS3 is a minimal in-memory stand-in for the S3 HTTP API, enough to
// exercise the adapter's request shapes without a real bucket.
func fakeS3(t *testing.T) (*httptest.Server, map[string][]byte) {
	t.Helper()
	objects := map[string][]byte{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Path
		switch r.Method {
		case http.MethodHead:
			if _, ok := objects[key]; !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.WriteHeader(http.StatusOK)
		case http.MethodPut:
			body, _ := io.ReadAll(r.Body)
			objects[key] = body
			w.WriteHeader(http.StatusOK)
		case http.MethodGet:
			body, ok := objects[key]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			_, _ = w.Write(body)
		case http.MethodDelete:
			delete(objects, key)
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	return srv, objects
}

func TestExistsAndUploadDownload(t *testing.T) {
	srv, objects := fakeS3(t)
	defer srv.Close()

	a, err := New(config.Storage{
		Region:          "us-east-1",
		Endpoint:        srv.URL,
		ForcePathStyle:  true,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	ok, err := a.Exists(ctx, "videos", "clip.mp4")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected object to not exist yet")
	}

	dir := t.TempDir()
	srcPath := filepath.Join(dir, "clip.mp4")
	if err := os.WriteFile(srcPath, []byte("fake-video-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := a.Upload(ctx, "videos", "clip.mp4", srcPath); err != nil {
		t.Fatal(err)
	}
	if len(objects) != 1 {
		t.Fatalf("expected 1 stored object, got %d", len(objects))
	}

	destPath := filepath.Join(dir, "downloaded.mp4")
	if err := a.Download(ctx, "videos", "clip.mp4", destPath); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(destPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "fake-video-bytes" {
		t.Fatalf("expected downloaded bytes to round-trip, got %q", string(got))
	}
}

func TestRemoveBatchEmpty(t *testing.T) {
	a := &S3{}
	if err := a.RemoveBatch(context.Background(), "videos", nil); err != nil {
		t.Fatalf("expected no-op on empty key list, got %v", err)
	}
}

func TestIsNotFound(t *testing.T) {
	if isNotFound(nil) {
		t.Fatal("nil error should not be not-found")
	}
}
