package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/beyonder07/XenoCrm-sub001/internal/broker"
	"github.com/beyonder07/XenoCrm-sub001/internal/domain"
	"github.com/beyonder07/XenoCrm-sub001/internal/pkg/logger"
	"github.com/beyonder07/XenoCrm-sub001/internal/template"
	"github.com/google/uuid"
)

// =============================================================================
// DISPATCH POOL
// =============================================================================
// Takes a claimed campaign and its resolved audience, writes Pending delivery
// records for every recipient BEFORE any send (so a crash mid-dispatch leaves
// a reconstructable ledger), renders each message, and submits through the
// broker with a bounded worker pool.
//
// Error policy:
//   - per-recipient rejection: that record goes Failed, dispatch continues
//   - broker-level (transient) failure: the batch is retried with bounded
//     backoff; exhaustion fails the campaign and all still-Pending records
//   - cancellation is checked between batches; submitted sends are not
//     recalled

const (
	DefaultDispatchWorkers = 10
	DefaultDispatchBatch   = 100
	DefaultMaxRetries      = 3
	DefaultRetryBackoff    = 2 * time.Second

	// maxBackoff caps exponential growth of the retry delay.
	maxBackoff = 30 * time.Second
)

// DispatchPool submits campaign messages through the broker.
type DispatchPool struct {
	sender     broker.Sender
	campaigns  CampaignStore
	deliveries DeliveryStore
	customers  CustomerDirectory
	templates  *template.Engine

	numWorkers   int
	batchSize    int
	maxRetries   int
	retryBackoff time.Duration

	events  EventSink
	refresh StatsRefresher
	log     *logger.Logger

	// Stats
	totalSubmitted int64
	totalRejected  int64
	batchRetries   int64
}

// NewDispatchPool creates a pool with default tuning.
func NewDispatchPool(sender broker.Sender, campaigns CampaignStore, deliveries DeliveryStore, customers CustomerDirectory, templates *template.Engine) *DispatchPool {
	return &DispatchPool{
		sender:       sender,
		campaigns:    campaigns,
		deliveries:   deliveries,
		customers:    customers,
		templates:    templates,
		numWorkers:   DefaultDispatchWorkers,
		batchSize:    DefaultDispatchBatch,
		maxRetries:   DefaultMaxRetries,
		retryBackoff: DefaultRetryBackoff,
		log:          logger.Component("DispatchPool"),
	}
}

// SetWorkers bounds in-flight sends.
func (p *DispatchPool) SetWorkers(n int) {
	if n > 0 {
		p.numWorkers = n
	}
}

// SetBatchSize sets how many recipients are processed between cancellation
// checks.
func (p *DispatchPool) SetBatchSize(n int) {
	if n > 0 {
		p.batchSize = n
	}
}

// SetRetryPolicy tunes whole-batch retries on broker-level failures.
func (p *DispatchPool) SetRetryPolicy(maxRetries int, backoff time.Duration) {
	if maxRetries >= 0 {
		p.maxRetries = maxRetries
	}
	if backoff > 0 {
		p.retryBackoff = backoff
	}
}

// SetEventSink registers a lifecycle notification callback.
func (p *DispatchPool) SetEventSink(sink EventSink) { p.events = sink }

// StatsRefresher recomputes one campaign's counters from the delivery ledger
// and completes the campaign once nothing is left pending.
type StatsRefresher func(ctx context.Context, campaignID uuid.UUID) error

// SetStatsRefresher routes post-dispatch stats refreshes through the given
// function. Wiring the reconciler's Recompute here serializes dispatcher-side
// settlements with receipt-side settlements on the same campaign lock.
func (p *DispatchPool) SetStatsRefresher(fn StatsRefresher) { p.refresh = fn }

// Stats returns cumulative counters.
func (p *DispatchPool) Stats() (submitted, rejected, retries int64) {
	return atomic.LoadInt64(&p.totalSubmitted),
		atomic.LoadInt64(&p.totalRejected),
		atomic.LoadInt64(&p.batchRetries)
}

// Dispatch submits the campaign to every recipient. It returns after every
// recipient has been submitted, rejected, or the campaign has been failed or
// cancelled. Receipts settle the Pending records asynchronously.
func (p *DispatchPool) Dispatch(ctx context.Context, c *domain.Campaign, recipients []uuid.UUID) error {
	if len(recipients) == 0 {
		// Nothing to send; the campaign is trivially complete.
		if err := p.campaigns.UpdateStats(ctx, c.ID, 0, 0, 0); err != nil {
			return err
		}
		if err := p.campaigns.MarkCompleted(ctx, c.ID); err != nil {
			return err
		}
		emit(p.events, Event{Type: EventCampaignCompleted, CampaignID: c.ID, Detail: "empty audience"})
		p.log.Info("campaign complete, empty audience", "campaign_id", c.ID.String())
		return nil
	}

	// The Pending ledger is written before any send so a crash here leaves
	// every recipient accounted for.
	if err := p.deliveries.BulkCreatePending(ctx, c.ID, recipients); err != nil {
		return p.failCampaign(ctx, c, fmt.Sprintf("create delivery records: %v", err))
	}

	audience, err := p.customers.GetByIDs(ctx, recipients)
	if err != nil {
		return p.failCampaign(ctx, c, fmt.Sprintf("load recipients: %v", err))
	}

	p.log.Info("dispatch started",
		"campaign_id", c.ID.String(),
		"audience_size", len(audience),
		"batch_size", p.batchSize,
		"workers", p.numWorkers)

	for start := 0; start < len(audience); start += p.batchSize {
		end := start + p.batchSize
		if end > len(audience) {
			end = len(audience)
		}

		if ctx.Err() != nil {
			p.log.Warn("dispatch interrupted by shutdown", "campaign_id", c.ID.String())
			return ctx.Err()
		}
		if p.isCancelled(ctx, c.ID) {
			// Submitted sends are not recalled; everything not yet sent is
			// closed out so no record stays Pending forever.
			if err := p.deliveries.FailAllPending(ctx, c.ID, "campaign cancelled"); err != nil {
				p.log.Error("fail pending after cancel", "campaign_id", c.ID.String(), "error", err.Error())
			}
			p.refreshStats(ctx, c.ID)
			p.log.Info("dispatch stopped, campaign cancelled", "campaign_id", c.ID.String())
			return nil
		}

		if err := p.sendBatchWithRetry(ctx, c, audience[start:end]); err != nil {
			return err
		}
	}

	// A shutdown during the final batch leaves its unsent recipients Pending;
	// they must not be reported as dispatched.
	if err := ctx.Err(); err != nil {
		p.log.Warn("dispatch interrupted by shutdown", "campaign_id", c.ID.String())
		return err
	}

	// Rejections settled during dispatch produce no receipts, so the counters
	// are refreshed here. A campaign whose every recipient was rejected
	// completes through this path.
	p.refreshStats(ctx, c.ID)

	p.log.Info("dispatch complete",
		"campaign_id", c.ID.String(),
		"submitted", atomic.LoadInt64(&p.totalSubmitted))
	return nil
}

// refreshStats recounts the delivery ledger and closes the campaign if
// nothing is pending. Goes through the configured StatsRefresher when one is
// wired, otherwise recounts directly.
func (p *DispatchPool) refreshStats(ctx context.Context, campaignID uuid.UUID) {
	if p.refresh != nil {
		if err := p.refresh(ctx, campaignID); err != nil {
			p.log.Error("refresh stats", "campaign_id", campaignID.String(), "error", err.Error())
		}
		return
	}

	delivered, failed, pending, err := p.deliveries.CountByStatus(ctx, campaignID)
	if err != nil {
		p.log.Error("count deliveries", "campaign_id", campaignID.String(), "error", err.Error())
		return
	}
	if err := p.campaigns.UpdateStats(ctx, campaignID, delivered, failed, pending); err != nil {
		p.log.Error("update stats", "campaign_id", campaignID.String(), "error", err.Error())
		return
	}
	if pending > 0 {
		return
	}
	// MarkCompleted is a compare-and-set from active, so a failed or
	// cancelled campaign keeps its status.
	if err := p.campaigns.MarkCompleted(ctx, campaignID); err != nil {
		p.log.Error("mark completed", "campaign_id", campaignID.String(), "error", err.Error())
		return
	}
	if c, err := p.campaigns.GetByID(ctx, campaignID); err == nil && c.Status == domain.CampaignCompleted {
		emit(p.events, Event{Type: EventCampaignCompleted, CampaignID: campaignID})
	}
}

// sendBatchWithRetry submits one batch, retrying broker-level failures with
// exponential backoff. Recipients already submitted or rejected in an earlier
// attempt are not resubmitted.
func (p *DispatchPool) sendBatchWithRetry(ctx context.Context, c *domain.Campaign, batch []domain.Customer) error {
	remaining := batch
	attempt := 0
	for len(remaining) > 0 {
		var transient error
		remaining, transient = p.sendBatch(ctx, c, remaining)
		if transient == nil {
			return nil
		}

		attempt++
		atomic.AddInt64(&p.batchRetries, 1)
		if attempt > p.maxRetries {
			p.log.Error("broker retries exhausted",
				"campaign_id", c.ID.String(),
				"attempts", attempt,
				"error", transient.Error())
			return p.failCampaign(ctx, c, fmt.Sprintf("broker unavailable after %d attempts: %v", attempt, transient))
		}

		backoff := p.retryBackoff << (attempt - 1)
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
		p.log.Warn("broker unavailable, retrying batch",
			"campaign_id", c.ID.String(),
			"attempt", attempt,
			"backoff", backoff.String(),
			"remaining", len(remaining))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return nil
}

// sendBatch fans the batch out over the worker pool. It returns the
// recipients that were not submitted because a broker-level failure aborted
// the batch, together with that failure.
func (p *DispatchPool) sendBatch(ctx context.Context, c *domain.Campaign, batch []domain.Customer) ([]domain.Customer, error) {
	var (
		mu        sync.Mutex
		transient error
		skipped   []domain.Customer
	)
	abort := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return transient != nil
	}

	sem := make(chan struct{}, p.numWorkers)
	var wg sync.WaitGroup
	for i := range batch {
		cust := batch[i]
		if abort() || ctx.Err() != nil {
			mu.Lock()
			skipped = append(skipped, cust)
			mu.Unlock()
			continue
		}

		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			if err := p.sendOne(ctx, c, cust); err != nil {
				mu.Lock()
				if transient == nil {
					transient = err
				}
				skipped = append(skipped, cust)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	return skipped, transient
}

// sendOne renders and submits a single message. A non-nil return means the
// recipient was NOT submitted and the failure is broker-level; per-recipient
// failures are settled here and reported as nil.
func (p *DispatchPool) sendOne(ctx context.Context, c *domain.Campaign, cust domain.Customer) error {
	body, err := p.templates.Render(c.Message, cust)
	if err != nil {
		p.settleRejected(ctx, c.ID, cust.ID, fmt.Sprintf("template render: %v", err))
		return nil
	}

	msg := domain.OutboundMessage{
		CampaignID:  c.ID,
		RecipientID: cust.ID,
		Email:       cust.Email,
		Body:        body,
	}
	if err := p.sender.Send(ctx, msg); err != nil {
		var rde *domain.RecipientDeliveryError
		if errors.As(err, &rde) {
			p.settleRejected(ctx, c.ID, cust.ID, rde.Reason)
			return nil
		}
		// Broker-level: the record stays Pending and the batch retries.
		return err
	}

	atomic.AddInt64(&p.totalSubmitted, 1)
	return nil
}

// settleRejected marks one recipient Failed without escalating.
func (p *DispatchPool) settleRejected(ctx context.Context, campaignID, recipientID uuid.UUID, reason string) {
	atomic.AddInt64(&p.totalRejected, 1)
	if err := p.deliveries.SetOutcome(ctx, campaignID, recipientID, domain.DeliveryFailed, reason); err != nil {
		p.log.Error("record rejection",
			"campaign_id", campaignID.String(),
			"recipient_id", recipientID.String(),
			"error", err.Error())
	}
	emit(p.events, Event{
		Type:        EventDeliveryFailed,
		CampaignID:  campaignID,
		RecipientID: recipientID,
		Detail:      reason,
	})
}

// failCampaign moves the campaign to Failed and closes out every Pending
// record so the ledger never strands recipients.
func (p *DispatchPool) failCampaign(ctx context.Context, c *domain.Campaign, cause string) error {
	if err := p.deliveries.FailAllPending(ctx, c.ID, cause); err != nil {
		p.log.Error("fail pending records", "campaign_id", c.ID.String(), "error", err.Error())
	}
	if err := p.campaigns.MarkFailed(ctx, c.ID, cause); err != nil {
		p.log.Error("mark campaign failed", "campaign_id", c.ID.String(), "error", err.Error())
	}
	p.refreshStats(ctx, c.ID)
	emit(p.events, Event{Type: EventCampaignFailed, CampaignID: c.ID, Detail: cause})
	return fmt.Errorf("campaign %s failed: %s", c.ID, cause)
}

func (p *DispatchPool) isCancelled(ctx context.Context, id uuid.UUID) bool {
	current, err := p.campaigns.GetByID(ctx, id)
	if err != nil {
		p.log.Error("reload campaign", "campaign_id", id.String(), "error", err.Error())
		return false
	}
	return current.Status == domain.CampaignCancelled
}
