package worker

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/beyonder07/XenoCrm-sub001/internal/domain"
	"github.com/beyonder07/XenoCrm-sub001/internal/pkg/distlock"
	"github.com/beyonder07/XenoCrm-sub001/internal/pkg/logger"
	"github.com/beyonder07/XenoCrm-sub001/internal/segmentation"
)

// =============================================================================
// CAMPAIGN SCHEDULER WORKER
// =============================================================================
// Polls for campaigns with status='scheduled' whose scheduled_at has arrived,
// resolves their audience, claims them via compare-and-set, and hands the
// recipient list to the dispatcher.
//
// Multiple scheduler instances may run against the same database. A
// per-campaign distributed lock narrows the race window and the Claim CAS
// guarantees exactly one winner regardless. A lost claim is not an error;
// the loser skips the campaign silently.

const (
	// DefaultSchedulerPollInterval is how often to check for due campaigns.
	DefaultSchedulerPollInterval = 30 * time.Second

	// DefaultDueBatchLimit bounds how many due campaigns one tick picks up.
	DefaultDueBatchLimit = 10

	// DefaultClaimTTL is how long the per-campaign lock is held at most.
	// Covers audience resolution; the Claim CAS protects everything after.
	DefaultClaimTTL = 10 * time.Minute
)

// CampaignDispatcher receives a claimed campaign and its resolved audience.
// Implemented by DispatchPool.
type CampaignDispatcher interface {
	Dispatch(ctx context.Context, c *domain.Campaign, recipients []uuid.UUID) error
}

// CampaignScheduler polls for due campaigns and activates them.
type CampaignScheduler struct {
	campaigns  CampaignStore
	audience   AudienceResolver
	dispatcher CampaignDispatcher

	// Lock backends; either may be nil. With both nil the scheduler runs
	// lock-free, relying on the Claim CAS alone (single-instance mode).
	redisClient *redis.Client
	db          *sql.DB

	workerID     string
	pollInterval time.Duration
	batchLimit   int
	claimTTL     time.Duration

	backpressure *BackpressureMonitor
	events       EventSink
	log          *logger.Logger

	// Stats
	campaignsClaimed int64
	claimsLost       int64
	errors           int64

	// Control
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.RWMutex
}

// NewCampaignScheduler creates a scheduler with default tuning.
func NewCampaignScheduler(campaigns CampaignStore, audience AudienceResolver, dispatcher CampaignDispatcher) *CampaignScheduler {
	hostname, _ := os.Hostname()
	return &CampaignScheduler{
		campaigns:    campaigns,
		audience:     audience,
		dispatcher:   dispatcher,
		workerID:     fmt.Sprintf("scheduler-%s-%d", hostname, time.Now().UnixNano()%10000),
		pollInterval: DefaultSchedulerPollInterval,
		batchLimit:   DefaultDueBatchLimit,
		claimTTL:     DefaultClaimTTL,
		log:          logger.Component("CampaignScheduler"),
	}
}

// SetRedisClient enables Redis-backed per-campaign locks.
func (cs *CampaignScheduler) SetRedisClient(client *redis.Client) { cs.redisClient = client }

// SetDB enables PostgreSQL advisory locks when Redis is not configured.
func (cs *CampaignScheduler) SetDB(db *sql.DB) { cs.db = db }

// SetPollInterval overrides the default poll interval.
func (cs *CampaignScheduler) SetPollInterval(d time.Duration) {
	if d > 0 {
		cs.pollInterval = d
	}
}

// SetBatchLimit overrides how many due campaigns one tick picks up.
func (cs *CampaignScheduler) SetBatchLimit(n int) {
	if n > 0 {
		cs.batchLimit = n
	}
}

// SetClaimTTL overrides the per-campaign lock TTL.
func (cs *CampaignScheduler) SetClaimTTL(d time.Duration) {
	if d > 0 {
		cs.claimTTL = d
	}
}

// SetBackpressure sets the monitor used to pause claiming when the broker
// queue is too deep.
func (cs *CampaignScheduler) SetBackpressure(bp *BackpressureMonitor) { cs.backpressure = bp }

// SetEventSink registers a lifecycle notification callback.
func (cs *CampaignScheduler) SetEventSink(sink EventSink) { cs.events = sink }

// Start begins the polling loop.
func (cs *CampaignScheduler) Start() error {
	cs.mu.Lock()
	if cs.running {
		cs.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	cs.running = true
	cs.ctx, cs.cancel = context.WithCancel(context.Background())
	cs.mu.Unlock()

	cs.log.Info("starting", "worker_id", cs.workerID, "poll_interval", cs.pollInterval.String())

	cs.wg.Add(1)
	go cs.schedulerLoop()

	return nil
}

// Stop gracefully stops the scheduler and waits for in-flight dispatches.
func (cs *CampaignScheduler) Stop() {
	cs.mu.Lock()
	if !cs.running {
		cs.mu.Unlock()
		return
	}
	cs.running = false
	cs.mu.Unlock()

	cs.cancel()
	cs.wg.Wait()
	cs.log.Info("stopped",
		"claimed", atomic.LoadInt64(&cs.campaignsClaimed),
		"claims_lost", atomic.LoadInt64(&cs.claimsLost),
		"errors", atomic.LoadInt64(&cs.errors))
}

// Stats returns cumulative counters.
func (cs *CampaignScheduler) Stats() (claimed, lost, errs int64) {
	return atomic.LoadInt64(&cs.campaignsClaimed),
		atomic.LoadInt64(&cs.claimsLost),
		atomic.LoadInt64(&cs.errors)
}

func (cs *CampaignScheduler) schedulerLoop() {
	defer cs.wg.Done()

	ticker := time.NewTicker(cs.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-cs.ctx.Done():
			return
		case <-ticker.C:
			cs.ProcessDueCampaigns(cs.ctx)
		}
	}
}

// ProcessDueCampaigns runs one scheduling pass. Exported so a single pass
// can be driven directly without the ticker.
func (cs *CampaignScheduler) ProcessDueCampaigns(ctx context.Context) {
	if cs.backpressure != nil && cs.backpressure.IsPaused() {
		cs.log.Warn("skipping pass, backpressure active")
		return
	}

	due, err := cs.campaigns.ListDue(ctx, time.Now(), cs.batchLimit)
	if err != nil {
		atomic.AddInt64(&cs.errors, 1)
		cs.log.Error("list due campaigns", "error", err.Error())
		return
	}

	for i := range due {
		select {
		case <-ctx.Done():
			return
		default:
		}
		cs.processCampaign(ctx, &due[i])
	}
}

func (cs *CampaignScheduler) processCampaign(ctx context.Context, c *domain.Campaign) {
	lock := cs.lockFor(c.ID.String())
	acquired, err := lock.TryAcquire(ctx)
	if err != nil {
		atomic.AddInt64(&cs.errors, 1)
		cs.log.Error("acquire lock", "campaign_id", c.ID.String(), "error", err.Error())
		return
	}
	if !acquired {
		// Another scheduler holds this campaign.
		atomic.AddInt64(&cs.claimsLost, 1)
		return
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = lock.Release(releaseCtx)
	}()

	recipients, err := cs.resolveAudience(ctx, c)
	if err != nil {
		// Resolution failure fails this campaign only; the loop continues
		// with the rest of the batch.
		atomic.AddInt64(&cs.errors, 1)
		cs.log.Error("resolve audience", "campaign_id", c.ID.String(), "error", err.Error())
		if markErr := cs.campaigns.MarkFailed(ctx, c.ID, fmt.Sprintf("audience resolution: %v", err)); markErr != nil {
			cs.log.Error("mark failed", "campaign_id", c.ID.String(), "error", markErr.Error())
		}
		emit(cs.events, Event{Type: EventCampaignFailed, CampaignID: c.ID, Detail: err.Error()})
		return
	}

	now := time.Now()
	claimed, err := cs.campaigns.Claim(ctx, c.ID, len(recipients), now)
	if err != nil {
		atomic.AddInt64(&cs.errors, 1)
		cs.log.Error("claim campaign", "campaign_id", c.ID.String(), "error", err.Error())
		return
	}
	if !claimed {
		// Lost the claim race or the campaign was cancelled. Not an error.
		atomic.AddInt64(&cs.claimsLost, 1)
		return
	}

	atomic.AddInt64(&cs.campaignsClaimed, 1)
	cs.log.Info("campaign claimed",
		"campaign_id", c.ID.String(),
		"audience_size", len(recipients),
		"worker_id", cs.workerID)
	emit(cs.events, Event{Type: EventCampaignActivated, CampaignID: c.ID})

	c.Status = domain.CampaignActive
	c.AudienceSize = len(recipients)
	c.SentAt = &now

	// Dispatch runs in its own goroutine so one large campaign does not
	// stall the poll loop. The dispatcher owns failure handling from here.
	campaign := *c
	cs.wg.Add(1)
	go func() {
		defer cs.wg.Done()
		if err := cs.dispatcher.Dispatch(ctx, &campaign, recipients); err != nil {
			atomic.AddInt64(&cs.errors, 1)
			cs.log.Error("dispatch", "campaign_id", campaign.ID.String(), "error", err.Error())
		}
	}()
}

func (cs *CampaignScheduler) resolveAudience(ctx context.Context, c *domain.Campaign) ([]uuid.UUID, error) {
	var inline segmentation.RuleNode
	if c.SegmentID == nil {
		var err error
		inline, err = segmentation.ParseRules(c.Rules)
		if err != nil {
			return nil, err
		}
	}
	res, err := cs.audience.Resolve(ctx, c.SegmentID, inline)
	if err != nil {
		return nil, err
	}
	return res.Recipients, nil
}

func (cs *CampaignScheduler) lockFor(campaignID string) distlock.Lock {
	if cs.redisClient == nil && cs.db == nil {
		return noopLock{}
	}
	return distlock.New(cs.redisClient, cs.db, "campaign:claim:"+campaignID, cs.claimTTL)
}

// noopLock is used in single-instance deployments with neither Redis nor
// PostgreSQL locking configured. The Claim CAS is still the safety net.
type noopLock struct{}

func (noopLock) TryAcquire(context.Context) (bool, error) { return true, nil }
func (noopLock) Release(context.Context) error            { return nil }
