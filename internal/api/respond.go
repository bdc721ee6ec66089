package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/beyonder07/XenoCrm-sub001/internal/domain"
)

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

// respondDomainError maps the error taxonomy onto HTTP status codes:
// validation and invalid-rule errors are the caller's fault, missing
// resources are 404, everything else is a 500 with a generic message.
func respondDomainError(w http.ResponseWriter, err error) {
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		respondJSON(w, http.StatusBadRequest, map[string]string{
			"error": "validation_failed",
			"field": ve.Field,
			"detail": ve.Reason,
		})
		return
	}
	var re *domain.InvalidRuleError
	if errors.As(err, &re) {
		respondJSON(w, http.StatusBadRequest, map[string]string{
			"error":    "invalid_rule",
			"field":    re.Field,
			"operator": re.Operator,
			"detail":   re.Reason,
		})
		return
	}
	if errors.Is(err, domain.ErrNotFound) {
		respondError(w, http.StatusNotFound, "not found")
		return
	}
	respondError(w, http.StatusInternalServerError, "internal error")
}
