package store

import (
	"context"
	"time"
)

// ErrNotFound is returned by single-row lookups when nothing matches.
type ErrNotFound struct{ What string }

func (e ErrNotFound) Error() string { return e.What + " not found" }

// ErrConflict is returned by conditional writes whose guard predicate did
// not match the current row state (e.g. RequeueDeadLetter racing an admin
// double-click).
type ErrConflict struct{ What string }

func (e ErrConflict) Error() string { return e.What + ": conflict" }

// Store is the transactional port every higher layer depends on. Every mutation here is transactional per call; multi-row
// atomic sections use WithTx. Implementations: Postgres (production),
// Memory (tests).
type Store interface {
	// Queue Engine operations.
	EnqueueJob(ctx context.Context, in NewJobInput) (*Job, error)
	ClaimJob(ctx context.Context, workerID string, kinds []Kind, workspaceID *string) (*Job, error)
	GetJob(ctx context.Context, id string) (*Job, error)
	CompleteJob(ctx context.Context, id string) error
	FailJob(ctx context.Context, id string, errMsg string, nextRunAt time.Time) error
	DeadLetterJob(ctx context.Context, id string, errMsg string) error
	HeartbeatJob(ctx context.Context, id string, workerID string, at time.Time) error
	RecoverStuckJobs(ctx context.Context, staleBefore time.Time, now time.Time) (int, error)
	RequeueDeadLetter(ctx context.Context, jobID string, now time.Time) error
	QueueDepth(ctx context.Context) (map[Kind]int64, error)

	// Stage Machine.
	GetProject(ctx context.Context, id string) (*Project, error)
	ConditionalAdvanceStage(ctx context.Context, projectID string, from, to string) (bool, error)
	UpdateProjectStatus(ctx context.Context, id string, status ProjectStatus) error

	// Clips.
	GetClip(ctx context.Context, id string) (*Clip, error)
	ListClipsByProject(ctx context.Context, projectID string) ([]Clip, error)
	InsertClips(ctx context.Context, clips []Clip) ([]Clip, error)
	UpdateClip(ctx context.Context, clip Clip) error
	ListClipsForRetentionSweep(ctx context.Context, status ClipStatus, updatedBefore time.Time, workspaceID, projectID *string, limit int) ([]Clip, error)

	// VariantPost.
	GetPostedVariant(ctx context.Context, clipID, connectedAccountID string, platform Platform) (*VariantPost, error)
	UpsertVariantPost(ctx context.Context, vp VariantPost) (*VariantPost, error)
	ListRecentVariantPosts(ctx context.Context, connectedAccountID string, platform Platform, since time.Time) ([]VariantPost, error)

	// Usage / admission control.
	GetOpenUsage(ctx context.Context, workspaceID string, monthStart time.Time) (*WorkspaceUsage, error)
	IncrementUsage(ctx context.Context, workspaceID string, metric UsageMetric, delta int64, monthStart time.Time) error
	ResolvePlan(ctx context.Context, workspaceID string, now time.Time) (PlanLimits, error)
	ListActiveSubscriptions(ctx context.Context, now time.Time) ([]Subscription, error)
	UpsertRateLimit(ctx context.Context, rl RateLimit) error
	GetRateLimit(ctx context.Context, workspaceID, feature string) (*RateLimit, error)

	// Connected accounts.
	GetConnectedAccount(ctx context.Context, id string) (*ConnectedAccount, error)
	UpdateConnectedAccountTokens(ctx context.Context, id, accessTokenRef, refreshTokenRef string, expiresAt time.Time) error

	// WithTx runs fn within a single transaction; every Store method called
	// with the context WithTx hands fn participates in that transaction.
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}
