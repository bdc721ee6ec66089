package broker

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/beyonder07/XenoCrm-sub001/internal/domain"
)

func TestSandboxBroker_SynthesizesReceipts(t *testing.T) {
	b := NewSandboxBroker(0)
	ctx := context.Background()

	msg := domain.OutboundMessage{CampaignID: uuid.New(), RecipientID: uuid.New(), Email: "x@example.com"}
	if err := b.Send(ctx, msg); err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	receipt, err := b.NextReceipt(ctx)
	if err != nil {
		t.Fatalf("NextReceipt() error: %v", err)
	}
	if receipt.CampaignID != msg.CampaignID || receipt.RecipientID != msg.RecipientID {
		t.Errorf("receipt = %+v, want IDs from %+v", receipt, msg)
	}
	if receipt.Outcome != domain.ReceiptDelivered {
		t.Errorf("Outcome = %s, want delivered at failure rate 0", receipt.Outcome)
	}
}

func TestSandboxBroker_FailureRateOne(t *testing.T) {
	b := NewSandboxBroker(1)
	ctx := context.Background()

	if err := b.Send(ctx, domain.OutboundMessage{CampaignID: uuid.New(), RecipientID: uuid.New()}); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	receipt, err := b.NextReceipt(ctx)
	if err != nil {
		t.Fatalf("NextReceipt() error: %v", err)
	}
	if receipt.Outcome != domain.ReceiptFailed {
		t.Errorf("Outcome = %s, want failed at failure rate 1", receipt.Outcome)
	}
	if receipt.Error == "" {
		t.Error("failed receipt should carry an error string")
	}
}

func TestSandboxBroker_Down(t *testing.T) {
	b := NewSandboxBroker(0)
	b.SetDown(true)

	err := b.Send(context.Background(), domain.OutboundMessage{CampaignID: uuid.New(), RecipientID: uuid.New()})
	if !domain.IsTransientBroker(err) {
		t.Errorf("Send() error = %v, want TransientBrokerError while down", err)
	}

	b.SetDown(false)
	if err := b.Send(context.Background(), domain.OutboundMessage{CampaignID: uuid.New(), RecipientID: uuid.New()}); err != nil {
		t.Errorf("Send() error after recovery: %v", err)
	}
}

func TestSandboxBroker_NextReceiptHonorsCancel(t *testing.T) {
	b := NewSandboxBroker(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() {
		_, err := b.NextReceipt(ctx)
		done <- err
	}()
	select {
	case err := <-done:
		if err == nil {
			t.Error("NextReceipt() should return the context error on cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("NextReceipt() did not return after cancel")
	}
}
