// Package postgres implements the engine's repositories against PostgreSQL
// via database/sql and lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/beyonder07/XenoCrm-sub001/internal/domain"
)

// CampaignRepo persists campaigns and owns the status compare-and-set
// transitions the scheduler and workers rely on.
type CampaignRepo struct{ db *sql.DB }

// NewCampaignRepo creates a Postgres-backed campaign repository.
func NewCampaignRepo(db *sql.DB) *CampaignRepo { return &CampaignRepo{db: db} }

const campaignCols = `
	id, name, message, status, segment_id, rules, audience_size,
	delivered_count, failed_count, pending_count,
	COALESCE(last_error,''), tags,
	scheduled_at, sent_at, completed_at, created_at, updated_at`

func (r *CampaignRepo) scanCampaign(row interface{ Scan(...any) error }) (*domain.Campaign, error) {
	c := &domain.Campaign{}
	var segmentID sql.NullString
	var rules []byte
	var scheduledAt, sentAt, completedAt sql.NullTime
	err := row.Scan(
		&c.ID, &c.Name, &c.Message, &c.Status, &segmentID, &rules, &c.AudienceSize,
		&c.Stats.Delivered, &c.Stats.Failed, &c.Stats.Pending,
		&c.LastError, pq.Array(&c.Tags),
		&scheduledAt, &sentAt, &completedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan campaign: %w", err)
	}
	if segmentID.Valid {
		id, err := uuid.Parse(segmentID.String)
		if err != nil {
			return nil, fmt.Errorf("parse segment id: %w", err)
		}
		c.SegmentID = &id
	}
	c.Rules = rules
	if scheduledAt.Valid {
		c.ScheduledAt = &scheduledAt.Time
	}
	if sentAt.Valid {
		c.SentAt = &sentAt.Time
	}
	if completedAt.Valid {
		c.CompletedAt = &completedAt.Time
	}
	c.Stats = domain.ComputeStats(c.Stats.Delivered, c.Stats.Failed, c.Stats.Pending, c.AudienceSize)
	return c, nil
}

// Insert persists a new draft campaign.
func (r *CampaignRepo) Insert(ctx context.Context, c *domain.Campaign) error {
	var segmentID any
	if c.SegmentID != nil {
		segmentID = c.SegmentID.String()
	}
	var rules any
	if len(c.Rules) > 0 {
		rules = c.Rules
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO campaigns
			(id, name, message, status, segment_id, rules, audience_size, tags, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7, NOW(), NOW())
	`, c.ID, c.Name, c.Message, c.Status, segmentID, rules, pq.Array(c.Tags))
	if err != nil {
		return fmt.Errorf("insert campaign: %w", err)
	}
	return nil
}

// GetByID returns one campaign or domain.ErrNotFound.
func (r *CampaignRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+campaignCols+` FROM campaigns WHERE id = $1`, id)
	return r.scanCampaign(row)
}

// List returns campaigns, optionally filtered by status, newest first.
func (r *CampaignRepo) List(ctx context.Context, status domain.CampaignStatus) ([]domain.Campaign, error) {
	q := `SELECT ` + campaignCols + ` FROM campaigns`
	args := []any{}
	if status != "" {
		q += ` WHERE status = $1`
		args = append(args, status)
	}
	q += ` ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	var out []domain.Campaign
	for rows.Next() {
		c, err := r.scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// Schedule moves a draft campaign to scheduled via compare-and-set. A
// false return means the campaign was not in draft.
func (r *CampaignRepo) Schedule(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE campaigns
		SET status = $2, scheduled_at = $3, updated_at = NOW()
		WHERE id = $1 AND status = $4
	`, id, domain.CampaignScheduled, at, domain.CampaignDraft)
	if err != nil {
		return false, fmt.Errorf("schedule campaign: %w", err)
	}
	n, _ := result.RowsAffected()
	return n == 1, nil
}

// ListDue returns scheduled campaigns whose scheduled time has arrived.
func (r *CampaignRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Campaign, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+campaignCols+`
		FROM campaigns
		WHERE status = $1 AND scheduled_at <= $2
		ORDER BY scheduled_at ASC
		LIMIT $3
	`, domain.CampaignScheduled, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due campaigns: %w", err)
	}
	defer rows.Close()

	var out []domain.Campaign
	for rows.Next() {
		c, err := r.scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// Claim atomically moves a scheduled campaign to active, recording sentAt
// and the snapshotted audience size. Concurrent scheduler instances race
// on the status compare-and-set; exactly one sees true.
func (r *CampaignRepo) Claim(ctx context.Context, id uuid.UUID, audienceSize int, sentAt time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE campaigns
		SET status = $2, audience_size = $3, pending_count = $3, sent_at = $4, updated_at = NOW()
		WHERE id = $1 AND status = $5
	`, id, domain.CampaignActive, audienceSize, sentAt, domain.CampaignScheduled)
	if err != nil {
		return false, fmt.Errorf("claim campaign: %w", err)
	}
	n, _ := result.RowsAffected()
	return n == 1, nil
}

// MarkFailed moves a campaign to failed and keeps the causing error for
// operator visibility. Legal from scheduled or active.
func (r *CampaignRepo) MarkFailed(ctx context.Context, id uuid.UUID, cause string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE campaigns
		SET status = $2, last_error = $3, completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status IN ($4, $5)
	`, id, domain.CampaignFailed, cause, domain.CampaignScheduled, domain.CampaignActive)
	if err != nil {
		return fmt.Errorf("mark campaign failed: %w", err)
	}
	return nil
}

// MarkCompleted moves an active campaign to completed.
func (r *CampaignRepo) MarkCompleted(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE campaigns
		SET status = $2, completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = $3
	`, id, domain.CampaignCompleted, domain.CampaignActive)
	if err != nil {
		return fmt.Errorf("mark campaign completed: %w", err)
	}
	return nil
}

// Cancel moves a scheduled or active campaign to cancelled via
// compare-and-set. A false return means the campaign had already reached a
// terminal status. Cancelling an active campaign stops further batches;
// sends already handed to the broker are not recalled.
func (r *CampaignRepo) Cancel(ctx context.Context, id uuid.UUID) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE campaigns
		SET status = $2, completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status IN ($3, $4)
	`, id, domain.CampaignCancelled, domain.CampaignScheduled, domain.CampaignActive)
	if err != nil {
		return false, fmt.Errorf("cancel campaign: %w", err)
	}
	n, _ := result.RowsAffected()
	return n == 1, nil
}

// UpdateStats writes recomputed counters. Counts are always recomputed from
// delivery records by the caller, never incremented in place.
func (r *CampaignRepo) UpdateStats(ctx context.Context, id uuid.UUID, delivered, failed, pending int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE campaigns
		SET delivered_count = $2, failed_count = $3, pending_count = $4, updated_at = NOW()
		WHERE id = $1
	`, id, delivered, failed, pending)
	if err != nil {
		return fmt.Errorf("update campaign stats: %w", err)
	}
	return nil
}
