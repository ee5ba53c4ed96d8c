// Package ports defines the external collaborators the core
// orchestrator consumes through narrow interfaces: object storage,
// transcoder, transcriber, OAuth token refresh, and per-platform
// publishers. Handlers in internal/pipeline depend only on these, never
// on concrete adapters.
package ports

import (
	"context"
	"io"
	"time"
)

// Storage is the blob-store port. Keys are the deterministic
// paths derived in internal/idempotency (source/transcript/render/
// thumb).
type Storage interface {
	Exists(ctx context.Context, bucket, key string) (bool, error)
	List(ctx context.Context, bucket, prefix string) ([]string, error)
	Download(ctx context.Context, bucket, key, destPath string) error
	Upload(ctx context.Context, bucket, key, srcPath string) error
	Open(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	Remove(ctx context.Context, bucket, key string) error
	RemoveBatch(ctx context.Context, bucket string, keys []string) error
}

// TranscribeResult is the output of Transcriber.Transcribe.
type TranscribeResult struct {
	SRTPath     string
	JSONPath    string
	DurationSec float64
}

// Transcriber wraps an external speech-to-text provider.
type Transcriber interface {
	Transcribe(ctx context.Context, localFile string) (TranscribeResult, error)
}

// RunOptions bounds a transcoder invocation.
type RunOptions struct {
	Timeout            time.Duration
	MaxDurationSeconds float64
}

// RunResult reports how a transcoder invocation concluded.
type RunResult struct {
	OK              bool
	DurationSeconds float64
	ExitCode        int
	Signal          string
	StderrSummary   string
}

// Transcoder is the safe subprocess wrapper port around ffmpeg.
type Transcoder interface {
	Run(ctx context.Context, args []string, opts RunOptions) (RunResult, error)
}

// AccessToken is a refreshed, short-lived credential for a connected account.
type AccessToken struct {
	Value     string
	ExpiresAt time.Time
}

// TokenProvider refreshes OAuth2 access tokens for a connected account,
// persisting the rotated refresh token back through Store.
type TokenProvider interface {
	AccessTokenFor(ctx context.Context, connectedAccountID string) (AccessToken, error)
}

// PublishMetadata is the platform-agnostic shape handlers pass to a
// Publisher; platform adapters translate it to their own wire format.
type PublishMetadata struct {
	Title        string
	Description  string
	Caption      string
	Tags         []string
	PrivacyLevel string
	Visibility   string
}

// PublishResult identifies the created remote post.
type PublishResult struct {
	PlatformVideoID string
}

// Publisher uploads a rendered clip to an external platform.
// Errors returned must be classifiable via pipelineerr.ClassifyProviderStatus.
type Publisher interface {
	Upload(ctx context.Context, accessToken AccessToken, filePath string, meta PublishMetadata) (PublishResult, error)
}

// Logger is the structured logging port, satisfied by a thin
// zap.SugaredLogger wrapper so handlers don't import zap.
type Logger interface {
	Infow(msg string, kv ...any)
	Warnw(msg string, kv ...any)
	Errorw(msg string, kv ...any)
	With(kv ...any) Logger
}

// ErrorReporter forwards unexpected (Internal) errors to an external
// crash-reporting sink, a no-op by default.
type ErrorReporter interface {
	Report(ctx context.Context, err error, kv map[string]any)
}

// Notifier publishes a lightweight wake hint so idle workers skip their
// poll-backoff sleep. Best-effort only; Store is the source of truth.
type Notifier interface {
	Notify(ctx context.Context, kind string) error
	Subscribe(ctx context.Context) (<-chan string, error)
}
