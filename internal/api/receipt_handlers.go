package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/beyonder07/XenoCrm-sub001/internal/domain"
)

// ReceiptApplier settles one delivery receipt. Implemented by
// worker.ReceiptReconciler.
type ReceiptApplier interface {
	Apply(ctx context.Context, receipt *domain.Receipt) error
}

// ReceiptAPI accepts receipts pushed over HTTP by vendors that call back
// instead of publishing to the broker queue.
type ReceiptAPI struct {
	reconciler ReceiptApplier
}

// NewReceiptAPI creates a receipt API handler.
func NewReceiptAPI(reconciler ReceiptApplier) *ReceiptAPI {
	return &ReceiptAPI{reconciler: reconciler}
}

// RegisterRoutes registers receipt routes.
func (api *ReceiptAPI) RegisterRoutes(r chi.Router) {
	r.Post("/receipts", api.IngestReceipt)
}

// IngestReceipt applies one pushed receipt. Duplicates are accepted and
// settle as no-ops, matching the broker consumer.
func (api *ReceiptAPI) IngestReceipt(w http.ResponseWriter, r *http.Request) {
	var receipt domain.Receipt
	if err := json.NewDecoder(r.Body).Decode(&receipt); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if receipt.CampaignID == uuid.Nil || receipt.RecipientID == uuid.Nil {
		respondError(w, http.StatusBadRequest, "campaign_id and recipient_id are required")
		return
	}
	if receipt.Outcome != domain.ReceiptDelivered && receipt.Outcome != domain.ReceiptFailed {
		respondError(w, http.StatusBadRequest, "outcome must be delivered or failed")
		return
	}
	if receipt.ReceivedAt.IsZero() {
		receipt.ReceivedAt = time.Now().UTC()
	}

	if err := api.reconciler.Apply(r.Context(), &receipt); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}
