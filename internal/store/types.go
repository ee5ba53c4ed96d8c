// Package store is the persistence port: transactional access to the
// jobs/projects/clips/variant_posts/workspace_usage/connected_accounts/
// rate_limits/subscriptions tables, exposed as narrow,
// intention-revealing operations rather than a generic ORM.
package store

import "time"

// Kind enumerates the job payload kinds.
type Kind string

const (
	KindIngestURL       Kind = "INGEST_URL"
	KindTranscribe      Kind = "TRANSCRIBE"
	KindHighlightDetect Kind = "HIGHLIGHT_DETECT"
	KindClipRender      Kind = "CLIP_RENDER"
	KindThumbnailGen    Kind = "THUMBNAIL_GEN"
	KindPublishTikTok   Kind = "PUBLISH_TIKTOK"
	KindPublishYouTube  Kind = "PUBLISH_YOUTUBE"
	KindCleanupStorage  Kind = "CLEANUP_STORAGE"
)

// JobState is the job lifecycle state.
type JobState string

const (
	JobQueued     JobState = "queued"
	JobRunning    JobState = "running"
	JobSucceeded  JobState = "succeeded"
	JobFailed     JobState = "failed"
	JobDeadLetter JobState = "dead_letter"
)

// Job is a unit of work.
type Job struct {
	ID          string
	WorkspaceID string
	Kind        Kind
	Payload     []byte // validated per-kind JSON structure
	State       JobState
	Attempts    int
	MaxAttempts int
	RunAt       time.Time
	LockedAt    *time.Time
	LockedBy    *string
	HeartbeatAt *time.Time
	LastError   *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewJobInput is the set of fields a caller supplies when enqueueing.
type NewJobInput struct {
	WorkspaceID string
	Kind        Kind
	Payload     []byte
	RunAt       time.Time // zero value means "now"
	MaxAttempts int       // zero value means default (3)
}

// ProjectStatus is the UI-facing lifecycle distinct from PipelineStage.
type ProjectStatus string

const (
	ProjectQueued     ProjectStatus = "queued"
	ProjectProcessing ProjectStatus = "processing"
	ProjectReady      ProjectStatus = "ready"
	ProjectFailed     ProjectStatus = "failed"
)

// Project is a user-visible unit of media work.
type Project struct {
	ID            string
	WorkspaceID   string
	Status        ProjectStatus
	PipelineStage string // stored as the stage.Stage string form
	SourcePath    string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ClipStatus is a clip's rendering/publishing lifecycle.
type ClipStatus string

const (
	ClipProposed  ClipStatus = "proposed"
	ClipRendering ClipStatus = "rendering"
	ClipReady     ClipStatus = "ready"
	ClipFailed    ClipStatus = "failed"
	ClipPublished ClipStatus = "published"
)

// Clip is a derived segment of a project.
type Clip struct {
	ID          string
	ProjectID   string
	WorkspaceID string
	StartS      float64
	EndS        float64
	Confidence  float64
	Title       string
	Status      ClipStatus
	StoragePath string
	ThumbPath   string
	ExternalID  string // legacy single-target id
	PublishedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// VariantPostStatus is the publishing status of one (clip, account, platform).
type VariantPostStatus string

const (
	VariantPending VariantPostStatus = "pending"
	VariantPosted  VariantPostStatus = "posted"
	VariantFailed  VariantPostStatus = "failed"
)

// Platform enumerates the external publishing platforms.
type Platform string

const (
	PlatformTikTok  Platform = "tiktok"
	PlatformYouTube Platform = "youtube"
)

// VariantPost is a per-(clip, connected-account, platform) publish record.
type VariantPost struct {
	ID                 string
	ClipID             string
	ConnectedAccountID string
	Platform           Platform
	VariantID          string
	Status             VariantPostStatus
	PlatformPostID     string
	PostedAt           *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// WorkspaceUsage is the open monthly usage counter row.
type WorkspaceUsage struct {
	WorkspaceID   string
	PeriodStart   time.Time // first of month, UTC
	PeriodEnd     *time.Time
	ClipsCount    int64
	SourceMinutes int64
	Posts         int64
	ClipRenders   int64
	UpdatedAt     time.Time
}

// ConnectedAccount is an externally-linked identity with encrypted tokens.
type ConnectedAccount struct {
	ID              string
	WorkspaceID     string
	Platform        Platform
	ExternalID      string
	AccessTokenRef  string
	RefreshTokenRef string
	ExpiresAt       time.Time
	Scopes          []string
	Status          string
}

// RateLimit is a token-bucket configuration row, built by
// admission.SeedRateLimits and written by admin.SeedRateLimits. The
// posting guard does not read these rows; its windows come from the plan.
type RateLimit struct {
	WorkspaceID  string
	Feature      string
	Capacity     int64
	RefillRate   float64 // tokens per second
	Tokens       float64
	LastRefillAt time.Time
}

// PlanName enumerates subscription tiers.
type PlanName string

const (
	PlanBasic   PlanName = "basic"
	PlanPro     PlanName = "pro"
	PlanPremium PlanName = "premium"
)

// PlanLimits are the caps that gate admission control.
type PlanLimits struct {
	Name            PlanName
	ClipsPerProject int
	ClipsPerMonth   int64
	SourceMinutes   int64
	PostsPerMonth   int64
	ConcurrentJobs  int
}

// Plans is the static plan table. Missing/invalid subscriptions resolve to
// PlanBasic.
var Plans = map[PlanName]PlanLimits{
	PlanBasic: {
		Name: PlanBasic, ClipsPerProject: 3, ClipsPerMonth: 450,
		SourceMinutes: 600, PostsPerMonth: 300, ConcurrentJobs: 2,
	},
	PlanPro: {
		Name: PlanPro, ClipsPerProject: 8, ClipsPerMonth: 2400,
		SourceMinutes: 3000, PostsPerMonth: 1500, ConcurrentJobs: 8,
	},
	PlanPremium: {
		Name: PlanPremium, ClipsPerProject: 20, ClipsPerMonth: 9000,
		SourceMinutes: 12000, PostsPerMonth: 6000, ConcurrentJobs: 20,
	},
}

// Subscription is the billing state that determines plan resolution.
type Subscription struct {
	ID               string
	WorkspaceID      string
	Plan             PlanName
	Status           string // "active", "trialing", "canceled", ...
	CurrentPeriodEnd time.Time
}

// UsageMetric enumerates the metrics admission control tracks.
type UsageMetric string

const (
	MetricClips         UsageMetric = "clips"
	MetricSourceMinutes UsageMetric = "source_minutes"
	MetricPosts         UsageMetric = "posts"
	MetricClipRenders   UsageMetric = "clip_renders"
)
