package worker

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/beyonder07/XenoCrm-sub001/internal/domain"
	"github.com/beyonder07/XenoCrm-sub001/internal/segmentation"
)

// CampaignStore is the slice of campaign persistence the workers need.
// Satisfied by both the postgres and memory repositories.
type CampaignStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Campaign, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Campaign, error)
	// Claim atomically moves scheduled -> active and snapshots the audience
	// size. Exactly one of N concurrent callers sees true.
	Claim(ctx context.Context, id uuid.UUID, audienceSize int, sentAt time.Time) (bool, error)
	MarkFailed(ctx context.Context, id uuid.UUID, cause string) error
	MarkCompleted(ctx context.Context, id uuid.UUID) error
	UpdateStats(ctx context.Context, id uuid.UUID, delivered, failed, pending int) error
}

// DeliveryStore persists per-recipient delivery records.
type DeliveryStore interface {
	BulkCreatePending(ctx context.Context, campaignID uuid.UUID, recipientIDs []uuid.UUID) error
	Get(ctx context.Context, campaignID, recipientID uuid.UUID) (*domain.DeliveryRecord, error)
	SetOutcome(ctx context.Context, campaignID, recipientID uuid.UUID, status domain.DeliveryStatus, lastError string) error
	FailAllPending(ctx context.Context, campaignID uuid.UUID, cause string) error
	CountByStatus(ctx context.Context, campaignID uuid.UUID) (delivered, failed, pending int, err error)
}

// CustomerDirectory loads customer profiles for message rendering.
type CustomerDirectory interface {
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.Customer, error)
}

// AudienceResolver turns a campaign's audience source (segment reference or
// inline rule tree) into a concrete recipient list. Satisfied by
// segmentation.Store.
type AudienceResolver interface {
	Resolve(ctx context.Context, segmentID *uuid.UUID, inline segmentation.RuleNode) (*segmentation.Result, error)
}
