package domain

import (
	"time"

	"github.com/google/uuid"
)

// DeliveryStatus enumerates the lifecycle of a single recipient's message.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
)

// IsTerminal returns true for statuses a receipt can no longer move
// forward from (duplicate receipts become no-ops).
func (s DeliveryStatus) IsTerminal() bool {
	return s == DeliveryDelivered || s == DeliveryFailed
}

// DeliveryRecord tracks one campaign message to one recipient. Records are
// bulk-created in Pending state the moment dispatch begins, so no in-flight
// send is ever missing from the stats. Only the reconciler (and the
// dispatcher, for immediate submission rejections) mutates them.
type DeliveryRecord struct {
	CampaignID  uuid.UUID      `json:"campaign_id" db:"campaign_id"`
	RecipientID uuid.UUID      `json:"recipient_id" db:"recipient_id"`
	Status      DeliveryStatus `json:"status" db:"status"`
	Attempts    int            `json:"attempts" db:"attempts"`
	LastError   string         `json:"last_error,omitempty" db:"last_error"`
	UpdatedAt   time.Time      `json:"updated_at" db:"updated_at"`
}

// ReceiptOutcome is the terminal result reported by the broker for one send.
type ReceiptOutcome string

const (
	ReceiptDelivered ReceiptOutcome = "delivered"
	ReceiptFailed    ReceiptOutcome = "failed"
)

// Receipt is a delivery confirmation emitted by the broker. The broker
// guarantees at-least-once delivery of receipts, so consumers must handle
// duplicates idempotently.
type Receipt struct {
	CampaignID  uuid.UUID      `json:"campaign_id"`
	RecipientID uuid.UUID      `json:"recipient_id"`
	Outcome     ReceiptOutcome `json:"outcome"`
	Error       string         `json:"error,omitempty"`
	ReceivedAt  time.Time      `json:"received_at"`
}

// Status maps the receipt outcome onto a delivery record status.
func (r Receipt) Status() DeliveryStatus {
	if r.Outcome == ReceiptDelivered {
		return DeliveryDelivered
	}
	return DeliveryFailed
}

// OutboundMessage is one rendered message handed to the broker for delivery.
type OutboundMessage struct {
	CampaignID  uuid.UUID `json:"campaign_id"`
	RecipientID uuid.UUID `json:"recipient_id"`
	Email       string    `json:"email"`
	Body        string    `json:"body"`
}
