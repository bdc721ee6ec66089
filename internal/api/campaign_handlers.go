package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/beyonder07/XenoCrm-sub001/internal/domain"
	"github.com/beyonder07/XenoCrm-sub001/internal/segmentation"
	"github.com/beyonder07/XenoCrm-sub001/internal/template"
)

// scheduleSkew tolerates client clock drift when validating schedule times.
const scheduleSkew = 30 * time.Second

// CampaignStore is the slice of campaign persistence the API needs.
type CampaignStore interface {
	Insert(ctx context.Context, c *domain.Campaign) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Campaign, error)
	List(ctx context.Context, status domain.CampaignStatus) ([]domain.Campaign, error)
	Schedule(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	Cancel(ctx context.Context, id uuid.UUID) (bool, error)
}

// CampaignAPI handles campaign endpoints.
type CampaignAPI struct {
	campaigns CampaignStore
	segments  *segmentation.Store
	templates *template.Engine
}

// NewCampaignAPI creates a campaign API handler.
func NewCampaignAPI(campaigns CampaignStore, segments *segmentation.Store, templates *template.Engine) *CampaignAPI {
	return &CampaignAPI{campaigns: campaigns, segments: segments, templates: templates}
}

// RegisterRoutes registers campaign routes.
func (api *CampaignAPI) RegisterRoutes(r chi.Router) {
	r.Route("/campaigns", func(r chi.Router) {
		r.Get("/", api.ListCampaigns)
		r.Post("/", api.CreateCampaign)

		r.Route("/{campaignID}", func(r chi.Router) {
			r.Get("/", api.GetCampaign)
			r.Post("/schedule", api.ScheduleCampaign)
			r.Post("/cancel", api.CancelCampaign)
			r.Get("/stats", api.GetCampaignStats)
		})
	})
}

// CreateCampaignRequest is the request body for creating a campaign.
// Exactly one of SegmentID and Rules must be set.
type CreateCampaignRequest struct {
	Name      string                 `json:"name"`
	Message   string                 `json:"message"`
	SegmentID *uuid.UUID             `json:"segment_id,omitempty"`
	Rules     *segmentation.RuleNode `json:"rules,omitempty"`
	Tags      []string               `json:"tags,omitempty"`
}

// CreateCampaign validates and persists a draft campaign.
func (api *CampaignAPI) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req CreateCampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Name == "" {
		respondDomainError(w, domain.NewValidationError("name", "must not be empty"))
		return
	}
	if req.Message == "" {
		respondDomainError(w, domain.NewValidationError("message", "must not be empty"))
		return
	}
	if err := api.templates.Validate(req.Message); err != nil {
		respondDomainError(w, domain.NewValidationError("message", err.Error()))
		return
	}

	hasSegment := req.SegmentID != nil
	hasRules := req.Rules != nil && !req.Rules.IsZero()
	if hasSegment == hasRules {
		respondDomainError(w, domain.NewValidationError("audience", "exactly one of segment_id and rules must be set"))
		return
	}

	c := &domain.Campaign{
		ID:        uuid.New(),
		Name:      req.Name,
		Message:   req.Message,
		Status:    domain.CampaignDraft,
		Tags:      req.Tags,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	if hasSegment {
		if _, err := api.segments.Get(r.Context(), *req.SegmentID); err != nil {
			respondDomainError(w, domain.NewValidationError("segment_id", "unknown segment"))
			return
		}
		c.SegmentID = req.SegmentID
	} else {
		if err := segmentation.CheckKnown(*req.Rules); err != nil {
			respondDomainError(w, err)
			return
		}
		if !segmentation.Valid(*req.Rules) {
			respondDomainError(w, domain.NewValidationError("rules", "rule tree is incomplete"))
			return
		}
		rules, err := json.Marshal(segmentation.Canonicalize(*req.Rules))
		if err != nil {
			respondDomainError(w, err)
			return
		}
		c.Rules = rules
	}

	if err := api.campaigns.Insert(r.Context(), c); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, c)
}

// GetCampaign returns one campaign.
func (api *CampaignAPI) GetCampaign(w http.ResponseWriter, r *http.Request) {
	c, ok := api.loadCampaign(w, r)
	if !ok {
		return
	}
	c.Stats = domain.ComputeStats(c.Stats.Delivered, c.Stats.Failed, c.Stats.Pending, c.AudienceSize)
	respondJSON(w, http.StatusOK, c)
}

// ListCampaigns returns campaigns, optionally filtered by status.
func (api *CampaignAPI) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	status := domain.CampaignStatus(r.URL.Query().Get("status"))
	campaigns, err := api.campaigns.List(r.Context(), status)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	for i := range campaigns {
		c := &campaigns[i]
		c.Stats = domain.ComputeStats(c.Stats.Delivered, c.Stats.Failed, c.Stats.Pending, c.AudienceSize)
	}
	respondJSON(w, http.StatusOK, campaigns)
}

// ScheduleCampaignRequest optionally carries the send time; empty means now.
type ScheduleCampaignRequest struct {
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
}

// ScheduleCampaign moves a draft campaign to scheduled.
func (api *CampaignAPI) ScheduleCampaign(w http.ResponseWriter, r *http.Request) {
	c, ok := api.loadCampaign(w, r)
	if !ok {
		return
	}

	var req ScheduleCampaignRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	at := time.Now()
	if req.ScheduledAt != nil {
		at = *req.ScheduledAt
		if at.Before(time.Now().Add(-scheduleSkew)) {
			respondDomainError(w, domain.NewValidationError("scheduled_at", "must not be in the past"))
			return
		}
	}

	if !c.HasAudienceSource() {
		respondDomainError(w, domain.NewValidationError("audience", "campaign has no audience source"))
		return
	}

	scheduled, err := api.campaigns.Schedule(r.Context(), c.ID, at)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if !scheduled {
		respondError(w, http.StatusConflict, "only draft campaigns can be scheduled")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"id":           c.ID.String(),
		"status":       domain.CampaignScheduled,
		"scheduled_at": at,
	})
}

// CancelCampaign cancels a scheduled or active campaign.
func (api *CampaignAPI) CancelCampaign(w http.ResponseWriter, r *http.Request) {
	c, ok := api.loadCampaign(w, r)
	if !ok {
		return
	}
	cancelled, err := api.campaigns.Cancel(r.Context(), c.ID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if !cancelled {
		respondError(w, http.StatusConflict, "campaign is not cancellable")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"id":     c.ID.String(),
		"status": string(domain.CampaignCancelled),
	})
}

// GetCampaignStats returns delivery counters and success rates.
func (api *CampaignAPI) GetCampaignStats(w http.ResponseWriter, r *http.Request) {
	c, ok := api.loadCampaign(w, r)
	if !ok {
		return
	}
	stats := domain.ComputeStats(c.Stats.Delivered, c.Stats.Failed, c.Stats.Pending, c.AudienceSize)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"campaign_id":   c.ID.String(),
		"status":        c.Status,
		"audience_size": c.AudienceSize,
		"stats":         stats,
	})
}

func (api *CampaignAPI) loadCampaign(w http.ResponseWriter, r *http.Request) (*domain.Campaign, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "campaignID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid campaign id")
		return nil, false
	}
	c, err := api.campaigns.GetByID(r.Context(), id)
	if err != nil {
		respondDomainError(w, err)
		return nil, false
	}
	return c, true
}
