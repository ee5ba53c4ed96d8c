// Package pipeline is the dispatcher and the pipeline handlers: a static
// kind-to-handler registry plus the eight thin orchestration bodies,
// each I/O-free except through the ports in
// internal/ports. The registry is keyed by store.Kind so each handler
// can be tested in isolation against fakes.
package pipeline

import (
	"os"
	"path/filepath"
	"time"

	"github.com/clipforge/pipeline/internal/admission"
	"github.com/clipforge/pipeline/internal/clock"
	"github.com/clipforge/pipeline/internal/idempotency"
	"github.com/clipforge/pipeline/internal/ports"
	"github.com/clipforge/pipeline/internal/queue"
	"github.com/clipforge/pipeline/internal/store"
)

// WorkerContext aggregates the ports and per-request scratch space every
// handler depends on. Handlers never import zap, aws-sdk,
// or any concrete adapter directly — only this struct and internal/ports.
type WorkerContext struct {
	Store   store.Store
	Storage ports.Storage
	Queue   *queue.Engine
	Clock   clock.Clock
	Logger  ports.Logger
	Errors  ports.ErrorReporter
	Usage   *admission.Usage

	// Idempotency is the optional Redis fast path in front of the
	// authoritative Storage.Exists/stage checks each handler already
	// performs. Nil disables it: handlers fall back to those checks alone,
	// which remain correct on their own, just slower under contention.
	Idempotency *idempotency.RedisReservation

	Transcriber    ports.Transcriber
	Transcoder     ports.Transcoder
	TokenProviders map[store.Platform]ports.TokenProvider
	Publishers     map[store.Platform]ports.Publisher

	TempDirRoot string
	WorkerID    string
}

// TempDir creates a fresh scoped temp directory for one handler invocation
// under TempDirRoot, named after the job so concurrent handlers never
// collide.
func (wc *WorkerContext) TempDir(jobID string) (string, func(), error) {
	root := wc.TempDirRoot
	if root == "" {
		root = os.TempDir()
	}
	dir := filepath.Join(root, "job-"+jobID+"-"+time.Now().UTC().Format("150405.000000000"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", func() {}, err
	}
	cleanup := func() { safeRemoveAll(dir) }
	return dir, cleanup, nil
}

// safeRemoveAll refuses to delete "/", ".", or an empty path on any
// temp-file exit path.
func safeRemoveAll(path string) {
	switch path {
	case "", ".", string(filepath.Separator):
		return
	default:
		_ = os.RemoveAll(path)
	}
}
