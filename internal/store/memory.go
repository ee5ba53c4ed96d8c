package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process Store fake for tests above the Store
// boundary: a plain mutex-guarded map stands in for Postgres so queue,
// stage, idempotency and admission logic can be exercised without a
// database.
type Memory struct {
	mu            sync.Mutex
	now           func() time.Time
	jobs          map[string]*Job
	projects      map[string]*Project
	clips         map[string]*Clip
	variantPosts  map[string]*VariantPost
	usage         map[string]*WorkspaceUsage // key: workspaceID+periodStart
	subscriptions map[string]*Subscription
	rateLimits    map[string]*RateLimit // key: workspaceID+feature
	accounts      map[string]*ConnectedAccount
}

func NewMemory() *Memory {
	return &Memory{
		now:           func() time.Time { return time.Now().UTC() },
		jobs:          map[string]*Job{},
		projects:      map[string]*Project{},
		clips:         map[string]*Clip{},
		variantPosts:  map[string]*VariantPost{},
		usage:         map[string]*WorkspaceUsage{},
		subscriptions: map[string]*Subscription{},
		rateLimits:    map[string]*RateLimit{},
		accounts:      map[string]*ConnectedAccount{},
	}
}

// SetNowFunc pins the fake's notion of now, so tests driving a fake
// clock see consistent claim-eligibility and staleness comparisons.
func (m *Memory) SetNowFunc(f func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = f
}

// SeedProject lets tests pre-populate a project without going through a
// handler.
func (m *Memory) SeedProject(p Project) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := p
	m.projects[p.ID] = &cp
}

func (m *Memory) SeedSubscription(s Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := s
	m.subscriptions[s.ID] = &cp
}

func (m *Memory) SeedConnectedAccount(a ConnectedAccount) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := a
	m.accounts[a.ID] = &cp
}

func (m *Memory) EnqueueJob(ctx context.Context, in NewJobInput) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	runAt := in.RunAt
	if runAt.IsZero() {
		runAt = now
	}
	maxAttempts := in.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 3
	}
	j := &Job{
		ID: uuid.NewString(), WorkspaceID: in.WorkspaceID, Kind: in.Kind, Payload: in.Payload,
		State: JobQueued, MaxAttempts: maxAttempts, RunAt: runAt, CreatedAt: now, UpdatedAt: now,
	}
	m.jobs[j.ID] = j
	cp := *j
	return &cp, nil
}

func (m *Memory) GetJob(ctx context.Context, id string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound{What: "job " + id}
	}
	cp := *j
	return &cp, nil
}

func (m *Memory) ClaimJob(ctx context.Context, workerID string, kinds []Kind, workspaceID *string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()

	allowed := map[Kind]bool{}
	for _, k := range kinds {
		allowed[k] = true
	}

	var candidates []*Job
	for _, j := range m.jobs {
		if j.State != JobQueued || j.RunAt.After(now) {
			continue
		}
		if len(kinds) > 0 && !allowed[j.Kind] {
			continue
		}
		if workspaceID != nil && j.WorkspaceID != *workspaceID {
			continue
		}
		candidates = append(candidates, j)
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.Slice(candidates, func(i, k int) bool {
		if !candidates[i].RunAt.Equal(candidates[k].RunAt) {
			return candidates[i].RunAt.Before(candidates[k].RunAt)
		}
		return candidates[i].CreatedAt.Before(candidates[k].CreatedAt)
	})
	j := candidates[0]
	j.State = JobRunning
	j.LockedAt = &now
	j.LockedBy = &workerID
	j.HeartbeatAt = &now
	j.Attempts++
	j.UpdatedAt = now
	cp := *j
	return &cp, nil
}

func (m *Memory) CompleteJob(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return ErrNotFound{What: "job " + id}
	}
	j.State = JobSucceeded
	j.LockedAt, j.LockedBy, j.HeartbeatAt = nil, nil, nil
	j.UpdatedAt = m.now()
	return nil
}

func (m *Memory) FailJob(ctx context.Context, id string, errMsg string, nextRunAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return ErrNotFound{What: "job " + id}
	}
	j.State = JobQueued
	j.RunAt = nextRunAt
	j.LastError = &errMsg
	j.LockedAt, j.LockedBy, j.HeartbeatAt = nil, nil, nil
	j.UpdatedAt = m.now()
	return nil
}

func (m *Memory) DeadLetterJob(ctx context.Context, id string, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return ErrNotFound{What: "job " + id}
	}
	j.State = JobDeadLetter
	j.LastError = &errMsg
	j.LockedAt, j.LockedBy, j.HeartbeatAt = nil, nil, nil
	j.UpdatedAt = m.now()
	return nil
}

func (m *Memory) HeartbeatJob(ctx context.Context, id string, workerID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return ErrNotFound{What: "job " + id}
	}
	if j.State != JobRunning || j.LockedBy == nil || *j.LockedBy != workerID {
		return ErrConflict{What: "heartbeat on job " + id}
	}
	j.HeartbeatAt = &at
	return nil
}

func (m *Memory) RecoverStuckJobs(ctx context.Context, staleBefore time.Time, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, j := range m.jobs {
		if j.State == JobRunning && j.HeartbeatAt != nil && j.HeartbeatAt.Before(staleBefore) {
			j.State = JobQueued
			j.RunAt = now
			j.LockedAt, j.LockedBy, j.HeartbeatAt = nil, nil, nil
			j.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func (m *Memory) RequeueDeadLetter(ctx context.Context, jobID string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return ErrNotFound{What: "job " + jobID}
	}
	if j.State != JobDeadLetter {
		return ErrConflict{What: "job " + jobID + " not in dead_letter"}
	}
	j.State = JobQueued
	j.Attempts = 0
	j.RunAt = now
	j.LockedAt, j.LockedBy, j.HeartbeatAt = nil, nil, nil
	j.UpdatedAt = now
	return nil
}

func (m *Memory) QueueDepth(ctx context.Context) (map[Kind]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[Kind]int64{}
	for _, j := range m.jobs {
		if j.State == JobQueued {
			out[j.Kind]++
		}
	}
	return out, nil
}

func (m *Memory) GetProject(ctx context.Context, id string) (*Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return nil, ErrNotFound{What: "project " + id}
	}
	cp := *p
	return &cp, nil
}

func (m *Memory) ConditionalAdvanceStage(ctx context.Context, projectID string, from, to string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[projectID]
	if !ok {
		return false, ErrNotFound{What: "project " + projectID}
	}
	if p.PipelineStage != from {
		return false, nil
	}
	p.PipelineStage = to
	p.UpdatedAt = m.now()
	return true, nil
}

func (m *Memory) UpdateProjectStatus(ctx context.Context, id string, status ProjectStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return ErrNotFound{What: "project " + id}
	}
	p.Status = status
	p.UpdatedAt = m.now()
	return nil
}

func (m *Memory) GetClip(ctx context.Context, id string) (*Clip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clips[id]
	if !ok {
		return nil, ErrNotFound{What: "clip " + id}
	}
	cp := *c
	return &cp, nil
}

func (m *Memory) ListClipsByProject(ctx context.Context, projectID string) ([]Clip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Clip
	for _, c := range m.clips {
		if c.ProjectID == projectID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartS < out[j].StartS })
	return out, nil
}

func (m *Memory) InsertClips(ctx context.Context, clips []Clip) ([]Clip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var inserted []Clip
	for _, c := range clips {
		dup := false
		for _, existing := range m.clips {
			if existing.ProjectID == c.ProjectID &&
				roundTo3(existing.StartS) == roundTo3(c.StartS) &&
				roundTo3(existing.EndS) == roundTo3(c.EndS) {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		now := m.now()
		c.Status = ClipProposed
		c.CreatedAt, c.UpdatedAt = now, now
		cp := c
		m.clips[c.ID] = &cp
		inserted = append(inserted, c)
	}
	return inserted, nil
}

func roundTo3(f float64) float64 {
	return float64(int64(f*1000+0.5)) / 1000
}

func (m *Memory) UpdateClip(ctx context.Context, c Clip) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.clips[c.ID]
	if !ok {
		return ErrNotFound{What: "clip " + c.ID}
	}
	c.CreatedAt = existing.CreatedAt
	c.UpdatedAt = m.now()
	cp := c
	m.clips[c.ID] = &cp
	return nil
}

func (m *Memory) ListClipsForRetentionSweep(ctx context.Context, status ClipStatus, updatedBefore time.Time, workspaceID, projectID *string, limit int) ([]Clip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Clip
	for _, c := range m.clips {
		if c.Status != status || !c.UpdatedAt.Before(updatedBefore) {
			continue
		}
		if workspaceID != nil && c.WorkspaceID != *workspaceID {
			continue
		}
		if projectID != nil && c.ProjectID != *projectID {
			continue
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) GetPostedVariant(ctx context.Context, clipID, connectedAccountID string, platform Platform) (*VariantPost, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, vp := range m.variantPosts {
		if vp.ClipID == clipID && vp.ConnectedAccountID == connectedAccountID && vp.Platform == platform && vp.Status == VariantPosted {
			cp := *vp
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *Memory) UpsertVariantPost(ctx context.Context, vp VariantPost) (*VariantPost, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.variantPosts {
		if existing.ClipID == vp.ClipID && existing.ConnectedAccountID == vp.ConnectedAccountID && existing.Platform == vp.Platform {
			existing.Status = vp.Status
			existing.PlatformPostID = vp.PlatformPostID
			existing.PostedAt = vp.PostedAt
			existing.VariantID = vp.VariantID
			existing.UpdatedAt = m.now()
			cp := *existing
			return &cp, nil
		}
	}
	if vp.ID == "" {
		vp.ID = uuid.NewString()
	}
	now := m.now()
	vp.CreatedAt, vp.UpdatedAt = now, now
	cp := vp
	m.variantPosts[vp.ID] = &cp
	return &cp, nil
}

func (m *Memory) ListRecentVariantPosts(ctx context.Context, connectedAccountID string, platform Platform, since time.Time) ([]VariantPost, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []VariantPost
	for _, vp := range m.variantPosts {
		if vp.ConnectedAccountID == connectedAccountID && vp.Platform == platform && vp.Status == VariantPosted &&
			vp.PostedAt != nil && !vp.PostedAt.Before(since) {
			out = append(out, *vp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PostedAt.Before(*out[j].PostedAt) })
	return out, nil
}

func (m *Memory) GetOpenUsage(ctx context.Context, workspaceID string, monthStart time.Time) (*WorkspaceUsage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := usageKey(workspaceID, monthStart)
	u, ok := m.usage[key]
	if !ok {
		return &WorkspaceUsage{WorkspaceID: workspaceID, PeriodStart: monthStart}, nil
	}
	cp := *u
	return &cp, nil
}

func usageKey(workspaceID string, monthStart time.Time) string {
	return workspaceID + "|" + monthStart.Format("2006-01")
}

func (m *Memory) IncrementUsage(ctx context.Context, workspaceID string, metric UsageMetric, delta int64, monthStart time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := usageKey(workspaceID, monthStart)
	u, ok := m.usage[key]
	if !ok {
		u = &WorkspaceUsage{WorkspaceID: workspaceID, PeriodStart: monthStart}
		m.usage[key] = u
	}
	switch metric {
	case MetricClips:
		u.ClipsCount += delta
	case MetricSourceMinutes:
		u.SourceMinutes += delta
	case MetricPosts:
		u.Posts += delta
	case MetricClipRenders:
		u.ClipRenders += delta
	}
	u.UpdatedAt = m.now()
	return nil
}

func (m *Memory) ResolvePlan(ctx context.Context, workspaceID string, now time.Time) (PlanLimits, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *Subscription
	for _, s := range m.subscriptions {
		if s.WorkspaceID != workspaceID {
			continue
		}
		if s.Status != "active" && s.Status != "trialing" {
			continue
		}
		if best == nil || s.CurrentPeriodEnd.After(best.CurrentPeriodEnd) {
			best = s
		}
	}
	if best == nil {
		return Plans[PlanBasic], nil
	}
	limits, ok := Plans[best.Plan]
	if !ok {
		return Plans[PlanBasic], nil
	}
	return limits, nil
}

func (m *Memory) ListActiveSubscriptions(ctx context.Context, now time.Time) ([]Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Subscription
	for _, s := range m.subscriptions {
		if s.Status == "active" || s.Status == "trialing" {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *Memory) UpsertRateLimit(ctx context.Context, rl RateLimit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := rl.WorkspaceID + "|" + rl.Feature
	cp := rl
	m.rateLimits[key] = &cp
	return nil
}

func (m *Memory) GetRateLimit(ctx context.Context, workspaceID, feature string) (*RateLimit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rl, ok := m.rateLimits[workspaceID+"|"+feature]
	if !ok {
		return nil, nil
	}
	cp := *rl
	return &cp, nil
}

func (m *Memory) GetConnectedAccount(ctx context.Context, id string) (*ConnectedAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, ErrNotFound{What: "connected account " + id}
	}
	cp := *a
	return &cp, nil
}

func (m *Memory) UpdateConnectedAccountTokens(ctx context.Context, id, accessTokenRef, refreshTokenRef string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return ErrNotFound{What: "connected account " + id}
	}
	a.AccessTokenRef = accessTokenRef
	a.RefreshTokenRef = refreshTokenRef
	a.ExpiresAt = expiresAt
	return nil
}

// WithTx has no real transactional isolation in the fake; the mutex makes
// every individual call atomic already, so fn just runs against the same
// ctx. Good enough for unit tests that don't assert rollback behavior.
func (m *Memory) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
