package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/beyonder07/XenoCrm-sub001/internal/segmentation"
)

// SegmentAPI handles segment endpoints.
type SegmentAPI struct {
	store *segmentation.Store
}

// NewSegmentAPI creates a segment API handler.
func NewSegmentAPI(store *segmentation.Store) *SegmentAPI {
	return &SegmentAPI{store: store}
}

// RegisterRoutes registers segment routes.
func (api *SegmentAPI) RegisterRoutes(r chi.Router) {
	r.Route("/segments", func(r chi.Router) {
		r.Get("/", api.ListSegments)
		r.Post("/", api.CreateSegment)
		r.Post("/preview", api.PreviewSegment)
		r.Get("/{segmentID}", api.GetSegment)
	})
	r.Get("/rules/metadata", api.RuleMetadata)
}

// CreateSegmentRequest is the request body for creating a segment.
type CreateSegmentRequest struct {
	Name        string                `json:"name"`
	Description string                `json:"description,omitempty"`
	Rules       segmentation.RuleNode `json:"rules"`
}

// CreateSegment persists a named segment after validating its rule tree.
func (api *SegmentAPI) CreateSegment(w http.ResponseWriter, r *http.Request) {
	var req CreateSegmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id, err := api.store.Create(r.Context(), req.Name, req.Description, req.Rules)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"id": id.String()})
}

// GetSegment returns one segment with its rule tree.
func (api *SegmentAPI) GetSegment(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "segmentID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid segment id")
		return
	}
	seg, err := api.store.Get(r.Context(), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, seg)
}

// ListSegments returns all segments.
func (api *SegmentAPI) ListSegments(w http.ResponseWriter, r *http.Request) {
	segments, err := api.store.List(r.Context())
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, segments)
}

// PreviewSegmentRequest carries an unsaved rule tree for audience sizing.
type PreviewSegmentRequest struct {
	Rules segmentation.RuleNode `json:"rules"`
}

// PreviewSegment returns the audience count for an unsaved rule tree, so
// the builder UI can show reach while rules are being edited.
func (api *SegmentAPI) PreviewSegment(w http.ResponseWriter, r *http.Request) {
	var req PreviewSegmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := segmentation.CheckKnown(req.Rules); err != nil {
		respondDomainError(w, err)
		return
	}
	count, err := api.store.PreviewCount(r.Context(), req.Rules)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"count": count})
}

// RuleMetadata lists the fields and operators the rule builder may use.
func (api *SegmentAPI) RuleMetadata(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"fields":    segmentation.Fields(),
		"operators": segmentation.GetOperatorMetadata(),
	})
}
