// Package broker defines the message broker boundary: submission of
// rendered outbound messages and consumption of asynchronous delivery
// receipts. Receipts are at-least-once; consumers must be idempotent.
package broker

import (
	"context"

	"github.com/beyonder07/XenoCrm-sub001/internal/domain"
)

// Sender accepts one outbound message for delivery.
//
// Errors distinguish failure scopes: a TransientBrokerError means the
// broker itself is unavailable and the whole batch should back off and
// retry; a RecipientDeliveryError means this recipient was rejected and
// the rest of the batch can proceed.
type Sender interface {
	Send(ctx context.Context, msg domain.OutboundMessage) error
}

// ReceiptSource yields delivery receipts as the broker reports them.
type ReceiptSource interface {
	// NextReceipt blocks until a receipt is available or ctx is done.
	NextReceipt(ctx context.Context) (*domain.Receipt, error)
}

// Broker combines send submission with receipt consumption.
type Broker interface {
	Sender
	ReceiptSource
}
