package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// Postgres is the production Store: database/sql + lib/pq, raw SQL via
// ExecContext/QueryContext/QueryRowContext, and a context-bound *sql.Tx
// for multi-statement atomic sections.
type Postgres struct {
	db *sql.DB
}

// PoolConfig is the database/sql connection-pool tuning.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open connects to Postgres via lib/pq and applies pool tuning.
func Open(dsn string, pool PoolConfig) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Postgres{db: db}, nil
}

// NewPostgres wraps an already-opened *sql.DB (used by tests with sqlmock).
func NewPostgres(db *sql.DB) *Postgres { return &Postgres{db: db} }

func (p *Postgres) Close() error { return p.db.Close() }

// Ping verifies database connectivity, used by readiness checks.
func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txKey struct{}

func (p *Postgres) q(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return p.db
}

// WithTx runs fn with a *sql.Tx bound into ctx; every Postgres method
// called with that ctx participates in the same transaction. The context
// carries the tx so handlers don't need Postgres-specific signatures.
func (p *Postgres) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	txCtx := context.WithValue(ctx, txKey{}, tx)
	if err := fn(txCtx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (p *Postgres) EnqueueJob(ctx context.Context, in NewJobInput) (*Job, error) {
	id := uuid.NewString()
	now := time.Now().UTC()
	runAt := in.RunAt
	if runAt.IsZero() {
		runAt = now
	}
	maxAttempts := in.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 3
	}
	_, err := p.q(ctx).ExecContext(ctx, `
		INSERT INTO jobs (id, workspace_id, kind, payload, state, attempts, max_attempts, run_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'queued', 0, $5, $6, $7, $7)
	`, id, in.WorkspaceID, string(in.Kind), in.Payload, maxAttempts, runAt, now)
	if err != nil {
		return nil, fmt.Errorf("enqueue job: %w", err)
	}
	return p.GetJob(ctx, id)
}

func (p *Postgres) GetJob(ctx context.Context, id string) (*Job, error) {
	row := p.q(ctx).QueryRowContext(ctx, `
		SELECT id, workspace_id, kind, payload, state, attempts, max_attempts, run_at,
		       locked_at, locked_by, heartbeat_at, last_error, created_at, updated_at
		FROM jobs WHERE id = $1
	`, id)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound{What: "job " + id}
	}
	return j, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var j Job
	var kind, state string
	var lastErr sql.NullString
	var lockedBy sql.NullString
	var lockedAt, heartbeatAt sql.NullTime
	if err := row.Scan(&j.ID, &j.WorkspaceID, &kind, &j.Payload, &state, &j.Attempts, &j.MaxAttempts,
		&j.RunAt, &lockedAt, &lockedBy, &heartbeatAt, &lastErr, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	j.Kind = Kind(kind)
	j.State = JobState(state)
	if lockedAt.Valid {
		j.LockedAt = &lockedAt.Time
	}
	if lockedBy.Valid {
		j.LockedBy = &lockedBy.String
	}
	if heartbeatAt.Valid {
		j.HeartbeatAt = &heartbeatAt.Time
	}
	if lastErr.Valid {
		j.LastError = &lastErr.String
	}
	return &j, nil
}

// ClaimJob implements the durable claim protocol: select
// one eligible row under SELECT ... FOR UPDATE SKIP LOCKED so concurrent
// workers never contend on the same row, then mark it running in the same
// transaction. Ordering: run_at ascending, then created_at ascending
// (FIFO with delay).
func (p *Postgres) ClaimJob(ctx context.Context, workerID string, kinds []Kind, workspaceID *string) (*Job, error) {
	var claimed *Job
	err := p.WithTx(ctx, func(ctx context.Context) error {
		now := time.Now().UTC()
		query := `
			SELECT id, workspace_id, kind, payload, state, attempts, max_attempts, run_at,
			       locked_at, locked_by, heartbeat_at, last_error, created_at, updated_at
			FROM jobs
			WHERE state = 'queued' AND run_at <= $1
		`
		args := []any{now}
		if workspaceID != nil {
			args = append(args, *workspaceID)
			query += fmt.Sprintf(" AND workspace_id = $%d", len(args))
		}
		if len(kinds) > 0 {
			placeholders := make([]string, len(kinds))
			for i, k := range kinds {
				args = append(args, string(k))
				placeholders[i] = fmt.Sprintf("$%d", len(args))
			}
			query += " AND kind IN (" + strings.Join(placeholders, ",") + ")"
		}
		query += " ORDER BY run_at ASC, created_at ASC LIMIT 1 FOR UPDATE SKIP LOCKED"

		row := p.q(ctx).QueryRowContext(ctx, query, args...)
		j, err := scanJob(row)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return fmt.Errorf("claim select: %w", err)
		}

		_, err = p.q(ctx).ExecContext(ctx, `
			UPDATE jobs
			SET state = 'running', locked_at = $1, locked_by = $2, heartbeat_at = $1,
			    attempts = attempts + 1, updated_at = $1
			WHERE id = $3
		`, now, workerID, j.ID)
		if err != nil {
			return fmt.Errorf("claim update: %w", err)
		}
		j.State = JobRunning
		j.LockedAt = &now
		j.LockedBy = &workerID
		j.HeartbeatAt = &now
		j.Attempts++
		claimed = j
		return nil
	})
	return claimed, err
}

func (p *Postgres) CompleteJob(ctx context.Context, id string) error {
	_, err := p.q(ctx).ExecContext(ctx, `
		UPDATE jobs SET state = 'succeeded', locked_at = NULL, locked_by = NULL,
		       heartbeat_at = NULL, updated_at = $2
		WHERE id = $1
	`, id, time.Now().UTC())
	return err
}

func (p *Postgres) FailJob(ctx context.Context, id string, errMsg string, nextRunAt time.Time) error {
	_, err := p.q(ctx).ExecContext(ctx, `
		UPDATE jobs SET state = 'queued', run_at = $2, last_error = $3,
		       locked_at = NULL, locked_by = NULL, heartbeat_at = NULL, updated_at = $4
		WHERE id = $1
	`, id, nextRunAt, errMsg, time.Now().UTC())
	return err
}

func (p *Postgres) DeadLetterJob(ctx context.Context, id string, errMsg string) error {
	_, err := p.q(ctx).ExecContext(ctx, `
		UPDATE jobs SET state = 'dead_letter', last_error = $2,
		       locked_at = NULL, locked_by = NULL, heartbeat_at = NULL, updated_at = $3
		WHERE id = $1
	`, id, errMsg, time.Now().UTC())
	return err
}

func (p *Postgres) HeartbeatJob(ctx context.Context, id string, workerID string, at time.Time) error {
	res, err := p.q(ctx).ExecContext(ctx, `
		UPDATE jobs SET heartbeat_at = $1 WHERE id = $2 AND locked_by = $3 AND state = 'running'
	`, at, id, workerID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrConflict{What: "heartbeat on job " + id}
	}
	return nil
}

// RecoverStuckJobs resets jobs whose heartbeat has gone stale back to
// queued without touching attempts.
func (p *Postgres) RecoverStuckJobs(ctx context.Context, staleBefore time.Time, now time.Time) (int, error) {
	res, err := p.q(ctx).ExecContext(ctx, `
		UPDATE jobs SET state = 'queued', run_at = $1, locked_at = NULL, locked_by = NULL,
		       heartbeat_at = NULL, updated_at = $1
		WHERE state = 'running' AND heartbeat_at < $2
	`, now, staleBefore)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (p *Postgres) RequeueDeadLetter(ctx context.Context, jobID string, now time.Time) error {
	res, err := p.q(ctx).ExecContext(ctx, `
		UPDATE jobs SET state = 'queued', attempts = 0, run_at = $1,
		       locked_at = NULL, locked_by = NULL, heartbeat_at = NULL, updated_at = $1
		WHERE id = $2 AND state = 'dead_letter'
	`, now, jobID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrConflict{What: "job " + jobID + " not in dead_letter"}
	}
	return nil
}

func (p *Postgres) QueueDepth(ctx context.Context) (map[Kind]int64, error) {
	rows, err := p.q(ctx).QueryContext(ctx, `
		SELECT kind, COUNT(*) FROM jobs WHERE state = 'queued' GROUP BY kind
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[Kind]int64{}
	for rows.Next() {
		var k string
		var n int64
		if err := rows.Scan(&k, &n); err != nil {
			return nil, err
		}
		out[Kind(k)] = n
	}
	return out, rows.Err()
}

func (p *Postgres) GetProject(ctx context.Context, id string) (*Project, error) {
	var pr Project
	var status, pipelineStage string
	err := p.q(ctx).QueryRowContext(ctx, `
		SELECT id, workspace_id, status, pipeline_stage, source_path, created_at, updated_at
		FROM projects WHERE id = $1
	`, id).Scan(&pr.ID, &pr.WorkspaceID, &status, &pipelineStage, &pr.SourcePath, &pr.CreatedAt, &pr.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound{What: "project " + id}
	}
	if err != nil {
		return nil, err
	}
	pr.Status = ProjectStatus(status)
	pr.PipelineStage = pipelineStage
	return &pr, nil
}

// ConditionalAdvanceStage implements the stage CAS guard: the
// UPDATE's WHERE clause only matches when the stored stage still equals
// from, making every stage advance idempotent and race-safe without an
// explicit row lock.
func (p *Postgres) ConditionalAdvanceStage(ctx context.Context, projectID string, from, to string) (bool, error) {
	res, err := p.q(ctx).ExecContext(ctx, `
		UPDATE projects SET pipeline_stage = $1, updated_at = $2
		WHERE id = $3 AND pipeline_stage = $4
	`, to, time.Now().UTC(), projectID, from)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (p *Postgres) UpdateProjectStatus(ctx context.Context, id string, status ProjectStatus) error {
	_, err := p.q(ctx).ExecContext(ctx, `
		UPDATE projects SET status = $1, updated_at = $2 WHERE id = $3
	`, string(status), time.Now().UTC(), id)
	return err
}

func (p *Postgres) GetClip(ctx context.Context, id string) (*Clip, error) {
	row := p.q(ctx).QueryRowContext(ctx, `
		SELECT id, project_id, workspace_id, start_s, end_s, confidence, title, status,
		       storage_path, thumb_path, external_id, published_at, created_at, updated_at
		FROM clips WHERE id = $1
	`, id)
	c, err := scanClip(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound{What: "clip " + id}
	}
	return c, err
}

func scanClip(row rowScanner) (*Clip, error) {
	var c Clip
	var status string
	var publishedAt sql.NullTime
	if err := row.Scan(&c.ID, &c.ProjectID, &c.WorkspaceID, &c.StartS, &c.EndS, &c.Confidence, &c.Title,
		&status, &c.StoragePath, &c.ThumbPath, &c.ExternalID, &publishedAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Status = ClipStatus(status)
	if publishedAt.Valid {
		c.PublishedAt = &publishedAt.Time
	}
	return &c, nil
}

func (p *Postgres) ListClipsByProject(ctx context.Context, projectID string) ([]Clip, error) {
	rows, err := p.q(ctx).QueryContext(ctx, `
		SELECT id, project_id, workspace_id, start_s, end_s, confidence, title, status,
		       storage_path, thumb_path, external_id, published_at, created_at, updated_at
		FROM clips WHERE project_id = $1 ORDER BY start_s ASC
	`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Clip
	for rows.Next() {
		c, err := scanClip(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// InsertClips inserts a batch of accepted highlight candidates, deduping
// against existing clips at 3-decimal-second precision.
func (p *Postgres) InsertClips(ctx context.Context, clips []Clip) ([]Clip, error) {
	var inserted []Clip
	for _, c := range clips {
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		now := time.Now().UTC()
		res, err := p.q(ctx).ExecContext(ctx, `
			INSERT INTO clips (id, project_id, workspace_id, start_s, end_s, confidence, title, status, created_at, updated_at)
			SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9, $9
			WHERE NOT EXISTS (
				SELECT 1 FROM clips
				WHERE project_id = $2
				  AND ROUND(start_s::numeric, 3) = ROUND($4::numeric, 3)
				  AND ROUND(end_s::numeric, 3) = ROUND($5::numeric, 3)
			)
		`, c.ID, c.ProjectID, c.WorkspaceID, c.StartS, c.EndS, c.Confidence, c.Title, string(ClipProposed), now)
		if err != nil {
			return nil, fmt.Errorf("insert clip: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			c.Status = ClipProposed
			c.CreatedAt = now
			c.UpdatedAt = now
			inserted = append(inserted, c)
		}
	}
	return inserted, nil
}

func (p *Postgres) UpdateClip(ctx context.Context, c Clip) error {
	_, err := p.q(ctx).ExecContext(ctx, `
		UPDATE clips SET start_s=$1, end_s=$2, confidence=$3, title=$4, status=$5,
		       storage_path=$6, thumb_path=$7, external_id=$8, published_at=$9, updated_at=$10
		WHERE id = $11
	`, c.StartS, c.EndS, c.Confidence, c.Title, string(c.Status), c.StoragePath, c.ThumbPath,
		c.ExternalID, c.PublishedAt, time.Now().UTC(), c.ID)
	return err
}

func (p *Postgres) ListClipsForRetentionSweep(ctx context.Context, status ClipStatus, updatedBefore time.Time, workspaceID, projectID *string, limit int) ([]Clip, error) {
	query := `
		SELECT id, project_id, workspace_id, start_s, end_s, confidence, title, status,
		       storage_path, thumb_path, external_id, published_at, created_at, updated_at
		FROM clips WHERE status = $1 AND updated_at < $2
	`
	args := []any{string(status), updatedBefore}
	if workspaceID != nil {
		args = append(args, *workspaceID)
		query += fmt.Sprintf(" AND workspace_id = $%d", len(args))
	}
	if projectID != nil {
		args = append(args, *projectID)
		query += fmt.Sprintf(" AND project_id = $%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY updated_at ASC LIMIT $%d", len(args))

	rows, err := p.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Clip
	for rows.Next() {
		c, err := scanClip(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (p *Postgres) GetPostedVariant(ctx context.Context, clipID, connectedAccountID string, platform Platform) (*VariantPost, error) {
	row := p.q(ctx).QueryRowContext(ctx, `
		SELECT id, clip_id, connected_account_id, platform, variant_id, status, platform_post_id, posted_at, created_at, updated_at
		FROM variant_posts
		WHERE clip_id = $1 AND connected_account_id = $2 AND platform = $3 AND status = 'posted'
	`, clipID, connectedAccountID, string(platform))
	vp, err := scanVariantPost(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return vp, err
}

func scanVariantPost(row rowScanner) (*VariantPost, error) {
	var vp VariantPost
	var platform, status string
	var variantID, platformPostID sql.NullString
	var postedAt sql.NullTime
	if err := row.Scan(&vp.ID, &vp.ClipID, &vp.ConnectedAccountID, &platform, &variantID, &status,
		&platformPostID, &postedAt, &vp.CreatedAt, &vp.UpdatedAt); err != nil {
		return nil, err
	}
	vp.Platform = Platform(platform)
	vp.Status = VariantPostStatus(status)
	vp.VariantID = variantID.String
	vp.PlatformPostID = platformPostID.String
	if postedAt.Valid {
		vp.PostedAt = &postedAt.Time
	}
	return &vp, nil
}

// UpsertVariantPost enforces the uniqueness invariant ("at
// most one posted row per (clip_id, connected_account_id, platform)") via
// ON CONFLICT ... DO UPDATE against a unique constraint on those columns.
func (p *Postgres) UpsertVariantPost(ctx context.Context, vp VariantPost) (*VariantPost, error) {
	if vp.ID == "" {
		vp.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	_, err := p.q(ctx).ExecContext(ctx, `
		INSERT INTO variant_posts (id, clip_id, connected_account_id, platform, variant_id, status, platform_post_id, posted_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		ON CONFLICT (clip_id, connected_account_id, platform)
		DO UPDATE SET status = EXCLUDED.status, platform_post_id = EXCLUDED.platform_post_id,
		              posted_at = EXCLUDED.posted_at, variant_id = EXCLUDED.variant_id, updated_at = EXCLUDED.updated_at
	`, vp.ID, vp.ClipID, vp.ConnectedAccountID, string(vp.Platform), vp.VariantID, string(vp.Status),
		vp.PlatformPostID, vp.PostedAt, now)
	if err != nil {
		return nil, fmt.Errorf("upsert variant post: %w", err)
	}
	return p.GetPostedVariant(ctx, vp.ClipID, vp.ConnectedAccountID, vp.Platform)
}

func (p *Postgres) ListRecentVariantPosts(ctx context.Context, connectedAccountID string, platform Platform, since time.Time) ([]VariantPost, error) {
	rows, err := p.q(ctx).QueryContext(ctx, `
		SELECT id, clip_id, connected_account_id, platform, variant_id, status, platform_post_id, posted_at, created_at, updated_at
		FROM variant_posts
		WHERE connected_account_id = $1 AND platform = $2 AND status = 'posted' AND posted_at >= $3
		ORDER BY posted_at ASC
	`, connectedAccountID, string(platform), since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []VariantPost
	for rows.Next() {
		vp, err := scanVariantPost(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *vp)
	}
	return out, rows.Err()
}

func (p *Postgres) GetOpenUsage(ctx context.Context, workspaceID string, monthStart time.Time) (*WorkspaceUsage, error) {
	var u WorkspaceUsage
	u.WorkspaceID = workspaceID
	u.PeriodStart = monthStart
	err := p.q(ctx).QueryRowContext(ctx, `
		SELECT clips_count, source_minutes, posts, clip_renders, updated_at
		FROM workspace_usage
		WHERE workspace_id = $1 AND period_start_month = $2 AND period_end IS NULL
	`, workspaceID, monthStart).Scan(&u.ClipsCount, &u.SourceMinutes, &u.Posts, &u.ClipRenders, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return &u, nil // open row not yet created; zero usage
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// IncrementUsage atomically increments the open monthly counter, inserting
// the row on first use (insert-then-retry-on-conflict).
func (p *Postgres) IncrementUsage(ctx context.Context, workspaceID string, metric UsageMetric, delta int64, monthStart time.Time) error {
	col := usageColumn(metric)
	if col == "" {
		return fmt.Errorf("unknown usage metric %q", metric)
	}
	now := time.Now().UTC()
	query := fmt.Sprintf(`
		INSERT INTO workspace_usage (workspace_id, period_start_month, %[1]s, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (workspace_id, period_start_month) WHERE period_end IS NULL
		DO UPDATE SET %[1]s = workspace_usage.%[1]s + EXCLUDED.%[1]s, updated_at = EXCLUDED.updated_at
	`, col)
	_, err := p.q(ctx).ExecContext(ctx, query, workspaceID, monthStart, delta, now)
	return err
}

func usageColumn(metric UsageMetric) string {
	switch metric {
	case MetricClips:
		return "clips_count"
	case MetricSourceMinutes:
		return "source_minutes"
	case MetricPosts:
		return "posts"
	case MetricClipRenders:
		return "clip_renders"
	default:
		return ""
	}
}

// ResolvePlan resolves the active/trialing subscription with the latest
// current_period_end. Missing or invalid resolves to
// PlanBasic.
func (p *Postgres) ResolvePlan(ctx context.Context, workspaceID string, now time.Time) (PlanLimits, error) {
	var planName string
	err := p.q(ctx).QueryRowContext(ctx, `
		SELECT plan FROM subscriptions
		WHERE workspace_id = $1 AND status IN ('active', 'trialing')
		ORDER BY current_period_end DESC LIMIT 1
	`, workspaceID).Scan(&planName)
	if err != nil {
		return Plans[PlanBasic], nil
	}
	limits, ok := Plans[PlanName(planName)]
	if !ok {
		return Plans[PlanBasic], nil
	}
	return limits, nil
}

func (p *Postgres) ListActiveSubscriptions(ctx context.Context, now time.Time) ([]Subscription, error) {
	rows, err := p.q(ctx).QueryContext(ctx, `
		SELECT id, workspace_id, plan, status, current_period_end
		FROM subscriptions WHERE status IN ('active', 'trialing')
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Subscription
	for rows.Next() {
		var s Subscription
		var plan string
		if err := rows.Scan(&s.ID, &s.WorkspaceID, &plan, &s.Status, &s.CurrentPeriodEnd); err != nil {
			return nil, err
		}
		s.Plan = PlanName(plan)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *Postgres) UpsertRateLimit(ctx context.Context, rl RateLimit) error {
	_, err := p.q(ctx).ExecContext(ctx, `
		INSERT INTO rate_limits (workspace_id, feature, capacity, refill_rate, tokens, last_refill_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (workspace_id, feature)
		DO UPDATE SET capacity = EXCLUDED.capacity, refill_rate = EXCLUDED.refill_rate,
		              tokens = EXCLUDED.tokens, last_refill_at = EXCLUDED.last_refill_at
	`, rl.WorkspaceID, rl.Feature, rl.Capacity, rl.RefillRate, rl.Tokens, rl.LastRefillAt)
	return err
}

func (p *Postgres) GetRateLimit(ctx context.Context, workspaceID, feature string) (*RateLimit, error) {
	var rl RateLimit
	rl.WorkspaceID = workspaceID
	rl.Feature = feature
	err := p.q(ctx).QueryRowContext(ctx, `
		SELECT capacity, refill_rate, tokens, last_refill_at
		FROM rate_limits WHERE workspace_id = $1 AND feature = $2
	`, workspaceID, feature).Scan(&rl.Capacity, &rl.RefillRate, &rl.Tokens, &rl.LastRefillAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rl, nil
}

func (p *Postgres) GetConnectedAccount(ctx context.Context, id string) (*ConnectedAccount, error) {
	var ca ConnectedAccount
	var platform string
	var scopesJSON []byte
	err := p.q(ctx).QueryRowContext(ctx, `
		SELECT id, workspace_id, platform, external_id, access_token_ref, refresh_token_ref, expires_at, scopes
		FROM connected_accounts WHERE id = $1
	`, id).Scan(&ca.ID, &ca.WorkspaceID, &platform, &ca.ExternalID, &ca.AccessTokenRef, &ca.RefreshTokenRef, &ca.ExpiresAt, &scopesJSON)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound{What: "connected account " + id}
	}
	if err != nil {
		return nil, err
	}
	ca.Platform = Platform(platform)
	_ = json.Unmarshal(scopesJSON, &ca.Scopes)
	return &ca, nil
}

func (p *Postgres) UpdateConnectedAccountTokens(ctx context.Context, id, accessTokenRef, refreshTokenRef string, expiresAt time.Time) error {
	_, err := p.q(ctx).ExecContext(ctx, `
		UPDATE connected_accounts SET access_token_ref = $1, refresh_token_ref = $2, expires_at = $3
		WHERE id = $4
	`, accessTokenRef, refreshTokenRef, expiresAt, id)
	return err
}
