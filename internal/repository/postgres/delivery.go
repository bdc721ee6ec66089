package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/beyonder07/XenoCrm-sub001/internal/domain"
)

// DeliveryRepo persists per-recipient delivery records.
type DeliveryRepo struct{ db *sql.DB }

// NewDeliveryRepo creates a Postgres-backed delivery record repository.
func NewDeliveryRepo(db *sql.DB) *DeliveryRepo { return &DeliveryRepo{db: db} }

// BulkCreatePending inserts one pending record per recipient. Called at
// dispatch time before any send is attempted, so every in-flight send has a
// record from the start. Re-dispatching the same campaign is a no-op per
// recipient (ON CONFLICT DO NOTHING on the composite key).
func (r *DeliveryRepo) BulkCreatePending(ctx context.Context, campaignID uuid.UUID, recipientIDs []uuid.UUID) error {
	if len(recipientIDs) == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO delivery_records (campaign_id, recipient_id, status, attempts, updated_at)
		SELECT $1, unnest($2::uuid[]), $3, 0, NOW()
		ON CONFLICT (campaign_id, recipient_id) DO NOTHING
	`, campaignID, pq.Array(recipientIDs), domain.DeliveryPending)
	if err != nil {
		return fmt.Errorf("bulk create delivery records: %w", err)
	}
	return nil
}

// Get returns one delivery record or domain.ErrNotFound.
func (r *DeliveryRepo) Get(ctx context.Context, campaignID, recipientID uuid.UUID) (*domain.DeliveryRecord, error) {
	rec := &domain.DeliveryRecord{}
	err := r.db.QueryRowContext(ctx, `
		SELECT campaign_id, recipient_id, status, attempts, COALESCE(last_error,''), updated_at
		FROM delivery_records
		WHERE campaign_id = $1 AND recipient_id = $2
	`, campaignID, recipientID).Scan(
		&rec.CampaignID, &rec.RecipientID, &rec.Status, &rec.Attempts, &rec.LastError, &rec.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get delivery record: %w", err)
	}
	return rec, nil
}

// SetOutcome writes a terminal status onto a record and bumps attempts.
func (r *DeliveryRepo) SetOutcome(ctx context.Context, campaignID, recipientID uuid.UUID, status domain.DeliveryStatus, lastError string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE delivery_records
		SET status = $3, attempts = attempts + 1, last_error = $4, updated_at = NOW()
		WHERE campaign_id = $1 AND recipient_id = $2
	`, campaignID, recipientID, status, lastError)
	if err != nil {
		return fmt.Errorf("set delivery outcome: %w", err)
	}
	return nil
}

// FailAllPending marks every non-terminal record of a campaign failed.
// Used when dispatch retries are exhausted so no record is left pending on
// a failed campaign.
func (r *DeliveryRepo) FailAllPending(ctx context.Context, campaignID uuid.UUID, cause string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE delivery_records
		SET status = $2, last_error = $3, updated_at = NOW()
		WHERE campaign_id = $1 AND status = $4
	`, campaignID, domain.DeliveryFailed, cause, domain.DeliveryPending)
	if err != nil {
		return fmt.Errorf("fail pending delivery records: %w", err)
	}
	return nil
}

// CountByStatus returns (delivered, failed, pending) for a campaign. Stats
// are always derived from these counts.
func (r *DeliveryRepo) CountByStatus(ctx context.Context, campaignID uuid.UUID) (delivered, failed, pending int, err error) {
	err = r.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN status = $2 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = $3 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = $4 THEN 1 ELSE 0 END), 0)
		FROM delivery_records
		WHERE campaign_id = $1
	`, campaignID, domain.DeliveryDelivered, domain.DeliveryFailed, domain.DeliveryPending).
		Scan(&delivered, &failed, &pending)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("count delivery records: %w", err)
	}
	return delivered, failed, pending, nil
}
