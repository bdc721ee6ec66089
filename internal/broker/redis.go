package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/beyonder07/XenoCrm-sub001/internal/domain"
)

const (
	outboundKey = "broker:outbound"
	receiptsKey = "broker:receipts"

	// receiptPollTimeout bounds each BLPOP so the consumer notices
	// context cancellation promptly.
	receiptPollTimeout = 2 * time.Second
)

// RedisBroker moves messages through two Redis lists: rendered sends go
// onto an outbound list consumed by the delivery gateway, and the gateway
// pushes receipts onto a receipts list this process consumes.
type RedisBroker struct {
	client      *redis.Client
	sendTimeout time.Duration
}

// NewRedisBroker creates a broker over the given Redis client.
func NewRedisBroker(client *redis.Client, sendTimeout time.Duration) *RedisBroker {
	if sendTimeout <= 0 {
		sendTimeout = 5 * time.Second
	}
	return &RedisBroker{client: client, sendTimeout: sendTimeout}
}

// Send submits one outbound message. Connection-level failures and
// timeouts surface as TransientBrokerError so the dispatcher retries the
// batch with backoff.
func (b *RedisBroker) Send(ctx context.Context, msg domain.OutboundMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return &domain.RecipientDeliveryError{Reason: fmt.Sprintf("encode message: %v", err)}
	}

	sendCtx, cancel := context.WithTimeout(ctx, b.sendTimeout)
	defer cancel()

	if err := b.client.RPush(sendCtx, outboundKey, data).Err(); err != nil {
		return classifySendError(err)
	}
	return nil
}

func classifySendError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, redis.ErrClosed) {
		return &domain.TransientBrokerError{Err: err}
	}
	// Anything else from the client is treated as broker-wide too; Redis
	// has no per-message rejection on RPUSH.
	return &domain.TransientBrokerError{Err: err}
}

// NextReceipt blocks until a receipt arrives or ctx is done.
func (b *RedisBroker) NextReceipt(ctx context.Context) (*domain.Receipt, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := b.client.BLPop(ctx, receiptPollTimeout, receiptsKey).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("pop receipt: %w", err)
		}
		// BLPOP returns [key, value].
		var receipt domain.Receipt
		if err := json.Unmarshal([]byte(res[1]), &receipt); err != nil {
			return nil, fmt.Errorf("decode receipt: %w", err)
		}
		if receipt.ReceivedAt.IsZero() {
			receipt.ReceivedAt = time.Now().UTC()
		}
		return &receipt, nil
	}
}

// PublishReceipt pushes a receipt onto the receipts list. Used by the
// push-mode webhook handler and by the sandbox gateway.
func (b *RedisBroker) PublishReceipt(ctx context.Context, receipt domain.Receipt) error {
	data, err := json.Marshal(receipt)
	if err != nil {
		return fmt.Errorf("encode receipt: %w", err)
	}
	if err := b.client.RPush(ctx, receiptsKey, data).Err(); err != nil {
		return fmt.Errorf("push receipt: %w", err)
	}
	return nil
}

// OutboundLen reports the depth of the outbound list, for backpressure
// monitoring.
func (b *RedisBroker) OutboundLen(ctx context.Context) (int64, error) {
	return b.client.LLen(ctx, outboundKey).Result()
}
