package worker

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/beyonder07/XenoCrm-sub001/internal/domain"
)

// =============================================================================
// CAMPAIGN SCHEDULER TESTS
// =============================================================================

func TestCampaignScheduler_StartStop(t *testing.T) {
	tp := setupPipeline(t, 0)
	scheduler := NewCampaignScheduler(tp.campaigns, tp.segments, &countingDispatcher{})
	scheduler.SetPollInterval(time.Hour)

	if err := scheduler.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := scheduler.Start(); err == nil {
		t.Error("double Start() should return error")
	}
	scheduler.Stop()

	scheduler.mu.RLock()
	running := scheduler.running
	scheduler.mu.RUnlock()
	if running {
		t.Error("scheduler should not be running after Stop()")
	}
}

func TestCampaignScheduler_ClaimsDueCampaign(t *testing.T) {
	tp := setupPipeline(t, 0)
	tp.seedCustomers(5)
	c := tp.scheduledCampaign(t, "hi {{ first_name }}")

	dispatcher := &countingDispatcher{}
	scheduler := NewCampaignScheduler(tp.campaigns, tp.segments, dispatcher)

	scheduler.ProcessDueCampaigns(context.Background())
	scheduler.wg.Wait()

	if got := dispatcher.callCount(); got != 1 {
		t.Fatalf("dispatch calls = %d, want 1", got)
	}
	if dispatcher.lastSize != 5 {
		t.Errorf("audience size = %d, want 5", dispatcher.lastSize)
	}
	if got := tp.campaignStatus(t, c.ID); got != domain.CampaignActive {
		t.Errorf("status = %s, want %s", got, domain.CampaignActive)
	}
	updated, _ := tp.campaigns.GetByID(context.Background(), c.ID)
	if updated.AudienceSize != 5 {
		t.Errorf("audience_size = %d, want 5", updated.AudienceSize)
	}
	if updated.SentAt == nil {
		t.Error("sent_at not set on claim")
	}
}

// Exactly one of N concurrent schedulers claims a due campaign; the rest
// skip silently without treating the lost race as an error.
func TestCampaignScheduler_ConcurrentClaimExactlyOnce(t *testing.T) {
	tp := setupPipeline(t, 0)
	tp.seedCustomers(3)
	tp.scheduledCampaign(t, "hello")

	dispatcher := &countingDispatcher{}
	const n = 8
	schedulers := make([]*CampaignScheduler, n)
	for i := range schedulers {
		schedulers[i] = NewCampaignScheduler(tp.campaigns, tp.segments, dispatcher)
	}

	var wg sync.WaitGroup
	for _, s := range schedulers {
		wg.Add(1)
		go func(s *CampaignScheduler) {
			defer wg.Done()
			s.ProcessDueCampaigns(context.Background())
			s.wg.Wait()
		}(s)
	}
	wg.Wait()

	if got := dispatcher.callCount(); got != 1 {
		t.Fatalf("dispatch calls = %d, want exactly 1", got)
	}

	var claimed, errs int64
	for _, s := range schedulers {
		c, _, e := s.Stats()
		claimed += c
		errs += e
	}
	if claimed != 1 {
		t.Errorf("total claims = %d, want 1", claimed)
	}
	if errs != 0 {
		t.Errorf("errors = %d, want 0 (lost races are not errors)", errs)
	}
}

func TestCampaignScheduler_MissingSegmentFailsCampaign(t *testing.T) {
	tp := setupPipeline(t, 0)
	tp.seedCustomers(2)

	missing := uuid.New()
	past := time.Now().Add(-time.Minute)
	c := &domain.Campaign{
		ID:          uuid.New(),
		Name:        "broken",
		Message:     "hi",
		Status:      domain.CampaignScheduled,
		SegmentID:   &missing,
		ScheduledAt: &past,
	}
	if err := tp.campaigns.Insert(context.Background(), c); err != nil {
		t.Fatal(err)
	}
	healthy := tp.scheduledCampaign(t, "hi")

	dispatcher := &countingDispatcher{}
	scheduler := NewCampaignScheduler(tp.campaigns, tp.segments, dispatcher)
	scheduler.ProcessDueCampaigns(context.Background())
	scheduler.wg.Wait()

	if got := tp.campaignStatus(t, c.ID); got != domain.CampaignFailed {
		t.Errorf("broken campaign status = %s, want %s", got, domain.CampaignFailed)
	}
	failed, _ := tp.campaigns.GetByID(context.Background(), c.ID)
	if failed.LastError == "" {
		t.Error("failure cause not recorded")
	}

	// One bad campaign must not take down the rest of the batch.
	if got := tp.campaignStatus(t, healthy.ID); got != domain.CampaignActive {
		t.Errorf("healthy campaign status = %s, want %s", got, domain.CampaignActive)
	}
}

func TestCampaignScheduler_UnknownRuleFieldFailsCampaign(t *testing.T) {
	tp := setupPipeline(t, 0)
	tp.seedCustomers(2)

	rules, _ := json.Marshal(map[string]string{
		"field": "shoe_size", "operator": "equals", "value": "42",
	})
	past := time.Now().Add(-time.Minute)
	c := &domain.Campaign{
		ID:          uuid.New(),
		Name:        "bad rules",
		Message:     "hi",
		Status:      domain.CampaignScheduled,
		Rules:       rules,
		ScheduledAt: &past,
	}
	if err := tp.campaigns.Insert(context.Background(), c); err != nil {
		t.Fatal(err)
	}

	scheduler := NewCampaignScheduler(tp.campaigns, tp.segments, &countingDispatcher{})
	scheduler.ProcessDueCampaigns(context.Background())
	scheduler.wg.Wait()

	if got := tp.campaignStatus(t, c.ID); got != domain.CampaignFailed {
		t.Errorf("status = %s, want %s", got, domain.CampaignFailed)
	}
}

func TestCampaignScheduler_BackpressureSkipsPass(t *testing.T) {
	tp := setupPipeline(t, 0)
	tp.seedCustomers(2)
	c := tp.scheduledCampaign(t, "hi")

	dispatcher := &countingDispatcher{}
	scheduler := NewCampaignScheduler(tp.campaigns, tp.segments, dispatcher)

	bp := NewBackpressureMonitor(func(context.Context) (int64, error) { return 500, nil }, 100)
	bp.check(context.Background())
	if !bp.IsPaused() {
		t.Fatal("monitor should be paused above threshold")
	}
	scheduler.SetBackpressure(bp)

	scheduler.ProcessDueCampaigns(context.Background())
	scheduler.wg.Wait()

	if dispatcher.callCount() != 0 {
		t.Error("no campaign should be claimed while backpressure is active")
	}
	if got := tp.campaignStatus(t, c.ID); got != domain.CampaignScheduled {
		t.Errorf("status = %s, want still %s", got, domain.CampaignScheduled)
	}
}

func TestBackpressureMonitor_Hysteresis(t *testing.T) {
	depth := int64(0)
	bp := NewBackpressureMonitor(func(context.Context) (int64, error) { return depth, nil }, 1000)

	depth = 1500
	bp.check(context.Background())
	if !bp.IsPaused() {
		t.Fatal("should pause above max depth")
	}

	// Draining below max but above 50% keeps it paused.
	depth = 800
	bp.check(context.Background())
	if !bp.IsPaused() {
		t.Error("should stay paused until drained to half")
	}

	depth = 400
	bp.check(context.Background())
	if bp.IsPaused() {
		t.Error("should resume below half of max depth")
	}
}

func TestCampaignScheduler_ScheduleRejectsNonDraft(t *testing.T) {
	tp := setupPipeline(t, 0)
	c := tp.scheduledCampaign(t, "hi")

	ok, err := tp.campaigns.Schedule(context.Background(), c.ID, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("scheduling an already-scheduled campaign must fail the CAS")
	}
}
