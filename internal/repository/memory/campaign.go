package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/beyonder07/XenoCrm-sub001/internal/domain"
)

// CampaignRepo is an in-memory campaign repository. Status transitions use
// the same compare-and-set semantics as the postgres implementation: the
// mutex makes each check-and-update atomic, so concurrent scheduler
// instances racing on Claim see exactly one winner.
type CampaignRepo struct {
	mu        sync.Mutex
	campaigns map[uuid.UUID]domain.Campaign
}

// NewCampaignRepo creates an empty in-memory campaign repository.
func NewCampaignRepo() *CampaignRepo {
	return &CampaignRepo{campaigns: make(map[uuid.UUID]domain.Campaign)}
}

// Insert persists a new draft campaign.
func (r *CampaignRepo) Insert(_ context.Context, c *domain.Campaign) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.campaigns[c.ID] = *c
	return nil
}

// GetByID returns one campaign or domain.ErrNotFound.
func (r *CampaignRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c.Stats = domain.ComputeStats(c.Stats.Delivered, c.Stats.Failed, c.Stats.Pending, c.AudienceSize)
	return &c, nil
}

// List returns campaigns, optionally filtered by status, newest first.
func (r *CampaignRepo) List(_ context.Context, status domain.CampaignStatus) ([]domain.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Campaign
	for _, c := range r.campaigns {
		if status != "" && c.Status != status {
			continue
		}
		c.Stats = domain.ComputeStats(c.Stats.Delivered, c.Stats.Failed, c.Stats.Pending, c.AudienceSize)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Schedule moves a draft campaign to scheduled via compare-and-set.
func (r *CampaignRepo) Schedule(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok || c.Status != domain.CampaignDraft {
		return false, nil
	}
	c.Status = domain.CampaignScheduled
	c.ScheduledAt = &at
	c.UpdatedAt = time.Now()
	r.campaigns[id] = c
	return true, nil
}

// ListDue returns scheduled campaigns whose scheduled time has arrived.
func (r *CampaignRepo) ListDue(_ context.Context, now time.Time, limit int) ([]domain.Campaign, error) {
	if limit <= 0 {
		limit = 10
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Campaign
	for _, c := range r.campaigns {
		if c.Status == domain.CampaignScheduled && c.ScheduledAt != nil && !c.ScheduledAt.After(now) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(*out[j].ScheduledAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Claim atomically moves a scheduled campaign to active. Exactly one of N
// concurrent callers sees true.
func (r *CampaignRepo) Claim(_ context.Context, id uuid.UUID, audienceSize int, sentAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok || c.Status != domain.CampaignScheduled {
		return false, nil
	}
	c.Status = domain.CampaignActive
	c.AudienceSize = audienceSize
	c.Stats.Pending = audienceSize
	c.SentAt = &sentAt
	c.UpdatedAt = time.Now()
	r.campaigns[id] = c
	return true, nil
}

// MarkFailed moves a scheduled or active campaign to failed, retaining the
// causing error.
func (r *CampaignRepo) MarkFailed(_ context.Context, id uuid.UUID, cause string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok || (c.Status != domain.CampaignScheduled && c.Status != domain.CampaignActive) {
		return nil
	}
	now := time.Now()
	c.Status = domain.CampaignFailed
	c.LastError = cause
	c.CompletedAt = &now
	c.UpdatedAt = now
	r.campaigns[id] = c
	return nil
}

// MarkCompleted moves an active campaign to completed.
func (r *CampaignRepo) MarkCompleted(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok || c.Status != domain.CampaignActive {
		return nil
	}
	now := time.Now()
	c.Status = domain.CampaignCompleted
	c.CompletedAt = &now
	c.UpdatedAt = now
	r.campaigns[id] = c
	return nil
}

// Cancel moves a scheduled or active campaign to cancelled via
// compare-and-set.
func (r *CampaignRepo) Cancel(_ context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok || (c.Status != domain.CampaignScheduled && c.Status != domain.CampaignActive) {
		return false, nil
	}
	now := time.Now()
	c.Status = domain.CampaignCancelled
	c.CompletedAt = &now
	c.UpdatedAt = now
	r.campaigns[id] = c
	return true, nil
}

// UpdateStats writes recomputed counters.
func (r *CampaignRepo) UpdateStats(_ context.Context, id uuid.UUID, delivered, failed, pending int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return domain.ErrNotFound
	}
	c.Stats.Delivered = delivered
	c.Stats.Failed = failed
	c.Stats.Pending = pending
	c.UpdatedAt = time.Now()
	r.campaigns[id] = c
	return nil
}
