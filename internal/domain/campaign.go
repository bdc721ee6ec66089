package domain

import (
	"time"

	"github.com/google/uuid"
)

// CampaignStatus enumerates the lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignActive    CampaignStatus = "active"
	CampaignCompleted CampaignStatus = "completed"
	CampaignFailed    CampaignStatus = "failed"
	CampaignCancelled CampaignStatus = "cancelled"
)

// CampaignStats holds the aggregate delivery counters for a campaign.
// DeliveredPct and FailedPct are always derived from the counts; they are
// never stored or incremented independently.
type CampaignStats struct {
	Delivered    int     `json:"delivered" db:"delivered_count"`
	Failed       int     `json:"failed" db:"failed_count"`
	Pending      int     `json:"pending" db:"pending_count"`
	DeliveredPct float64 `json:"delivered_pct"`
	FailedPct    float64 `json:"failed_pct"`
}

// ComputeStats derives a CampaignStats from raw counts. Percentages are
// computed against audienceSize; a zero audience yields zero percentages.
func ComputeStats(delivered, failed, pending, audienceSize int) CampaignStats {
	s := CampaignStats{Delivered: delivered, Failed: failed, Pending: pending}
	if audienceSize > 0 {
		s.DeliveredPct = float64(delivered) / float64(audienceSize) * 100
		s.FailedPct = float64(failed) / float64(audienceSize) * 100
	}
	return s
}

// Campaign represents a bulk-message send against a resolved audience.
// Exactly one of SegmentID or Rules is set: the audience comes either from
// a saved segment or from an inline rule tree supplied at creation time.
type Campaign struct {
	ID        uuid.UUID      `json:"id" db:"id"`
	Name      string         `json:"name" db:"name"`
	Message   string         `json:"message" db:"message"`
	Status    CampaignStatus `json:"status" db:"status"`
	SegmentID *uuid.UUID     `json:"segment_id,omitempty" db:"segment_id"`

	// Rules holds the inline rule tree as JSON when no segment is
	// referenced. Kept opaque here so domain stays free of the
	// segmentation package.
	Rules []byte `json:"rules,omitempty" db:"rules"`

	// AudienceSize is snapshotted at dispatch time so that later segment
	// edits never rewrite historical stats.
	AudienceSize int `json:"audience_size" db:"audience_size"`

	Stats     CampaignStats `json:"stats"`
	Tags      []string      `json:"tags,omitempty"`
	LastError string        `json:"last_error,omitempty" db:"last_error"`

	ScheduledAt *time.Time `json:"scheduled_at,omitempty" db:"scheduled_at"`
	SentAt      *time.Time `json:"sent_at,omitempty" db:"sent_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// IsTerminal returns true if the campaign is in a final state.
func (c *Campaign) IsTerminal() bool {
	return c.Status == CampaignCompleted || c.Status == CampaignFailed || c.Status == CampaignCancelled
}

// HasAudienceSource reports whether the campaign has exactly one audience
// source set (a segment reference or an inline rule tree).
func (c *Campaign) HasAudienceSource() bool {
	hasSegment := c.SegmentID != nil
	hasRules := len(c.Rules) > 0
	return hasSegment != hasRules
}

// CanTransition reports whether moving from the campaign's current status
// to next is a legal lifecycle transition. The lifecycle only moves
// forward; no status ever reverts.
func (c *Campaign) CanTransition(next CampaignStatus) bool {
	switch c.Status {
	case CampaignDraft:
		return next == CampaignScheduled
	case CampaignScheduled:
		return next == CampaignActive || next == CampaignCancelled || next == CampaignFailed
	case CampaignActive:
		return next == CampaignCompleted || next == CampaignFailed || next == CampaignCancelled
	default:
		return false
	}
}
