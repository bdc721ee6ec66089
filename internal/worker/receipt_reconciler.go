package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/beyonder07/XenoCrm-sub001/internal/broker"
	"github.com/beyonder07/XenoCrm-sub001/internal/domain"
	"github.com/beyonder07/XenoCrm-sub001/internal/pkg/logger"
)

// =============================================================================
// RECEIPT RECONCILER
// =============================================================================
// Consumes delivery receipts from the broker and settles the per-recipient
// delivery records. The broker delivers receipts at-least-once and in no
// particular order, so every application must be idempotent.
//
// Stat recomputation is serialized per campaign: receipts for the same
// campaign apply one at a time, receipts for different campaigns apply
// concurrently. Counts are always recomputed from delivery records, never
// incremented in place, so a reapplied receipt cannot drift the totals.

// DefaultReconcilerWorkers is how many receipt consumers run concurrently.
const DefaultReconcilerWorkers = 4

// ReceiptReconciler settles delivery records from broker receipts.
type ReceiptReconciler struct {
	source     broker.ReceiptSource
	campaigns  CampaignStore
	deliveries DeliveryStore

	numWorkers int
	events     EventSink
	log        *logger.Logger

	// Per-campaign serialization
	lockMu sync.Mutex
	locks  map[uuid.UUID]*campaignLock

	// Stats
	applied    int64
	duplicates int64
	conflicts  int64
	orphans    int64
	errorCount int64

	// Control
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.RWMutex
}

// NewReceiptReconciler creates a reconciler with default tuning.
func NewReceiptReconciler(source broker.ReceiptSource, campaigns CampaignStore, deliveries DeliveryStore) *ReceiptReconciler {
	return &ReceiptReconciler{
		source:     source,
		campaigns:  campaigns,
		deliveries: deliveries,
		numWorkers: DefaultReconcilerWorkers,
		locks:      make(map[uuid.UUID]*campaignLock),
		log:        logger.Component("ReceiptReconciler"),
	}
}

// SetWorkers sets how many receipt consumers run concurrently.
func (rr *ReceiptReconciler) SetWorkers(n int) {
	if n > 0 {
		rr.numWorkers = n
	}
}

// SetEventSink registers a lifecycle notification callback.
func (rr *ReceiptReconciler) SetEventSink(sink EventSink) { rr.events = sink }

// Start launches the consumer workers.
func (rr *ReceiptReconciler) Start() error {
	rr.mu.Lock()
	if rr.running {
		rr.mu.Unlock()
		return fmt.Errorf("reconciler already running")
	}
	rr.running = true
	rr.ctx, rr.cancel = context.WithCancel(context.Background())
	rr.mu.Unlock()

	rr.log.Info("starting", "workers", rr.numWorkers)

	for i := 0; i < rr.numWorkers; i++ {
		rr.wg.Add(1)
		go rr.consumeLoop(i)
	}
	return nil
}

// Stop gracefully stops the reconciler.
func (rr *ReceiptReconciler) Stop() {
	rr.mu.Lock()
	if !rr.running {
		rr.mu.Unlock()
		return
	}
	rr.running = false
	rr.mu.Unlock()

	rr.cancel()
	rr.wg.Wait()
	rr.log.Info("stopped",
		"applied", atomic.LoadInt64(&rr.applied),
		"duplicates", atomic.LoadInt64(&rr.duplicates),
		"conflicts", atomic.LoadInt64(&rr.conflicts),
		"orphans", atomic.LoadInt64(&rr.orphans))
}

// Stats returns cumulative counters.
func (rr *ReceiptReconciler) Stats() (applied, duplicates, conflicts, orphans int64) {
	return atomic.LoadInt64(&rr.applied),
		atomic.LoadInt64(&rr.duplicates),
		atomic.LoadInt64(&rr.conflicts),
		atomic.LoadInt64(&rr.orphans)
}

func (rr *ReceiptReconciler) consumeLoop(worker int) {
	defer rr.wg.Done()

	for {
		receipt, err := rr.source.NextReceipt(rr.ctx)
		if err != nil {
			if rr.ctx.Err() != nil {
				return
			}
			atomic.AddInt64(&rr.errorCount, 1)
			rr.log.Error("next receipt", "worker", worker, "error", err.Error())
			continue
		}
		if err := rr.Apply(rr.ctx, receipt); err != nil {
			atomic.AddInt64(&rr.errorCount, 1)
			rr.log.Error("apply receipt",
				"worker", worker,
				"campaign_id", receipt.CampaignID.String(),
				"error", err.Error())
		}
	}
}

// Apply settles one receipt. Safe to call concurrently and with duplicates;
// also the entry point for receipts pushed over HTTP.
func (rr *ReceiptReconciler) Apply(ctx context.Context, receipt *domain.Receipt) error {
	lock := rr.acquireCampaign(receipt.CampaignID)
	defer rr.releaseCampaign(receipt.CampaignID, lock)

	rec, err := rr.deliveries.Get(ctx, receipt.CampaignID, receipt.RecipientID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Receipt with no matching record, likely a replay after the
			// campaign's records were purged. Dropped, never invented.
			atomic.AddInt64(&rr.orphans, 1)
			rr.log.Warn("orphan receipt dropped",
				"campaign_id", receipt.CampaignID.String(),
				"recipient_id", receipt.RecipientID.String())
			return nil
		}
		return fmt.Errorf("load delivery record: %w", err)
	}

	next := receipt.Status()
	if rec.Status == next {
		// Duplicate of an already-applied receipt.
		atomic.AddInt64(&rr.duplicates, 1)
		return nil
	}
	if rec.Status.IsTerminal() {
		// Conflicting outcome for a settled record. The latest receipt
		// wins; the flip is logged for audit.
		atomic.AddInt64(&rr.conflicts, 1)
		rr.log.Warn("conflicting receipt overwrites outcome",
			"campaign_id", receipt.CampaignID.String(),
			"recipient_id", receipt.RecipientID.String(),
			"previous", string(rec.Status),
			"next", string(next))
	}

	if err := rr.deliveries.SetOutcome(ctx, receipt.CampaignID, receipt.RecipientID, next, receipt.Error); err != nil {
		return fmt.Errorf("set outcome: %w", err)
	}
	atomic.AddInt64(&rr.applied, 1)
	if next == domain.DeliveryFailed {
		emit(rr.events, Event{
			Type:        EventDeliveryFailed,
			CampaignID:  receipt.CampaignID,
			RecipientID: receipt.RecipientID,
			Detail:      receipt.Error,
		})
	}

	return rr.recompute(ctx, receipt.CampaignID)
}

// Recompute refreshes one campaign's counters under the campaign lock. The
// dispatcher calls this after submission-time rejections, which settle
// records without ever producing a receipt.
func (rr *ReceiptReconciler) Recompute(ctx context.Context, campaignID uuid.UUID) error {
	lock := rr.acquireCampaign(campaignID)
	defer rr.releaseCampaign(campaignID, lock)
	return rr.recompute(ctx, campaignID)
}

// recompute refreshes the campaign counters from the delivery ledger and
// closes the campaign once nothing is pending. Caller holds the campaign
// lock.
func (rr *ReceiptReconciler) recompute(ctx context.Context, campaignID uuid.UUID) error {
	delivered, failed, pending, err := rr.deliveries.CountByStatus(ctx, campaignID)
	if err != nil {
		return fmt.Errorf("count deliveries: %w", err)
	}
	if err := rr.campaigns.UpdateStats(ctx, campaignID, delivered, failed, pending); err != nil {
		return fmt.Errorf("update stats: %w", err)
	}

	if pending == 0 {
		// MarkCompleted is a compare-and-set from active, so a campaign
		// that failed or was cancelled keeps its status.
		if err := rr.campaigns.MarkCompleted(ctx, campaignID); err != nil {
			return fmt.Errorf("mark completed: %w", err)
		}
		if c, err := rr.campaigns.GetByID(ctx, campaignID); err == nil && c.Status == domain.CampaignCompleted {
			emit(rr.events, Event{Type: EventCampaignCompleted, CampaignID: campaignID})
			rr.log.Info("campaign completed",
				"campaign_id", campaignID.String(),
				"delivered", delivered,
				"failed", failed)
		}
	}
	return nil
}

// campaignLock is a refcounted mutex entry. The refcount lets the last
// releaser evict the entry, so the map tracks in-flight campaigns rather
// than every campaign ever reconciled.
type campaignLock struct {
	mu   sync.Mutex
	refs int
}

func (rr *ReceiptReconciler) acquireCampaign(id uuid.UUID) *campaignLock {
	rr.lockMu.Lock()
	l, ok := rr.locks[id]
	if !ok {
		l = &campaignLock{}
		rr.locks[id] = l
	}
	l.refs++
	rr.lockMu.Unlock()

	l.mu.Lock()
	return l
}

func (rr *ReceiptReconciler) releaseCampaign(id uuid.UUID, l *campaignLock) {
	l.mu.Unlock()

	rr.lockMu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(rr.locks, id)
	}
	rr.lockMu.Unlock()
}
