package broker

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/beyonder07/XenoCrm-sub001/internal/domain"
)

// SandboxBroker accepts sends and synthesizes delivery receipts without
// any external gateway, for local runs and tests. A configurable fraction
// of sends fail with a bounce-style error.
type SandboxBroker struct {
	failureRate float64
	receipts    chan domain.Receipt

	mu   sync.Mutex
	rand *rand.Rand

	// Down simulates broker-wide unavailability when set.
	down bool
}

// NewSandboxBroker creates a sandbox broker. failureRate is the fraction
// of sends (0..1) that produce a Failed receipt.
func NewSandboxBroker(failureRate float64) *SandboxBroker {
	return &SandboxBroker{
		failureRate: failureRate,
		receipts:    make(chan domain.Receipt, 1024),
		rand:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetDown toggles simulated broker-wide unavailability.
func (b *SandboxBroker) SetDown(down bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.down = down
}

// Send accepts the message and queues a synthesized receipt.
func (b *SandboxBroker) Send(ctx context.Context, msg domain.OutboundMessage) error {
	b.mu.Lock()
	if b.down {
		b.mu.Unlock()
		return &domain.TransientBrokerError{Err: context.DeadlineExceeded}
	}
	failed := b.rand.Float64() < b.failureRate
	b.mu.Unlock()

	receipt := domain.Receipt{
		CampaignID:  msg.CampaignID,
		RecipientID: msg.RecipientID,
		Outcome:     domain.ReceiptDelivered,
		ReceivedAt:  time.Now().UTC(),
	}
	if failed {
		receipt.Outcome = domain.ReceiptFailed
		receipt.Error = "sandbox: simulated bounce"
	}

	select {
	case b.receipts <- receipt:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// NextReceipt blocks until a synthesized receipt is available.
func (b *SandboxBroker) NextReceipt(ctx context.Context) (*domain.Receipt, error) {
	select {
	case receipt := <-b.receipts:
		return &receipt, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
