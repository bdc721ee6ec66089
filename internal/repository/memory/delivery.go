package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/beyonder07/XenoCrm-sub001/internal/domain"
)

type deliveryKey struct {
	campaignID  uuid.UUID
	recipientID uuid.UUID
}

// DeliveryRepo is an in-memory delivery record repository.
type DeliveryRepo struct {
	mu      sync.Mutex
	records map[deliveryKey]domain.DeliveryRecord
}

// NewDeliveryRepo creates an empty in-memory delivery repository.
func NewDeliveryRepo() *DeliveryRepo {
	return &DeliveryRepo{records: make(map[deliveryKey]domain.DeliveryRecord)}
}

// BulkCreatePending inserts one pending record per recipient. Existing
// records are left untouched, matching the postgres ON CONFLICT DO NOTHING.
func (r *DeliveryRepo) BulkCreatePending(_ context.Context, campaignID uuid.UUID, recipientIDs []uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for _, rid := range recipientIDs {
		key := deliveryKey{campaignID, rid}
		if _, ok := r.records[key]; ok {
			continue
		}
		r.records[key] = domain.DeliveryRecord{
			CampaignID:  campaignID,
			RecipientID: rid,
			Status:      domain.DeliveryPending,
			UpdatedAt:   now,
		}
	}
	return nil
}

// Get returns one delivery record or domain.ErrNotFound.
func (r *DeliveryRepo) Get(_ context.Context, campaignID, recipientID uuid.UUID) (*domain.DeliveryRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[deliveryKey{campaignID, recipientID}]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &rec, nil
}

// SetOutcome writes a terminal status onto a record and bumps attempts.
func (r *DeliveryRepo) SetOutcome(_ context.Context, campaignID, recipientID uuid.UUID, status domain.DeliveryStatus, lastError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := deliveryKey{campaignID, recipientID}
	rec, ok := r.records[key]
	if !ok {
		return domain.ErrNotFound
	}
	rec.Status = status
	rec.Attempts++
	rec.LastError = lastError
	rec.UpdatedAt = time.Now()
	r.records[key] = rec
	return nil
}

// FailAllPending marks every non-terminal record of a campaign failed.
func (r *DeliveryRepo) FailAllPending(_ context.Context, campaignID uuid.UUID, cause string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for key, rec := range r.records {
		if key.campaignID == campaignID && rec.Status == domain.DeliveryPending {
			rec.Status = domain.DeliveryFailed
			rec.LastError = cause
			rec.UpdatedAt = now
			r.records[key] = rec
		}
	}
	return nil
}

// CountByStatus returns (delivered, failed, pending) for a campaign.
func (r *DeliveryRepo) CountByStatus(_ context.Context, campaignID uuid.UUID) (delivered, failed, pending int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, rec := range r.records {
		if key.campaignID != campaignID {
			continue
		}
		switch rec.Status {
		case domain.DeliveryDelivered:
			delivered++
		case domain.DeliveryFailed:
			failed++
		default:
			pending++
		}
	}
	return delivered, failed, pending, nil
}
