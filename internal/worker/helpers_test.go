package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/beyonder07/XenoCrm-sub001/internal/broker"
	"github.com/beyonder07/XenoCrm-sub001/internal/domain"
	"github.com/beyonder07/XenoCrm-sub001/internal/repository/memory"
	"github.com/beyonder07/XenoCrm-sub001/internal/segmentation"
	"github.com/beyonder07/XenoCrm-sub001/internal/template"
)

// testPipeline wires the full dispatch pipeline against in-memory stores
// and the sandbox broker.
type testPipeline struct {
	campaigns  *memory.CampaignRepo
	deliveries *memory.DeliveryRepo
	customers  *memory.CustomerStore
	segments   *segmentation.Store
	broker     *broker.SandboxBroker
	pool       *DispatchPool
}

func setupPipeline(t *testing.T, failureRate float64) *testPipeline {
	t.Helper()

	campaigns := memory.NewCampaignRepo()
	deliveries := memory.NewDeliveryRepo()
	customers := memory.NewCustomerStore()
	eval := segmentation.NewEvaluator(customers)
	segments := segmentation.NewStore(memory.NewSegmentRepo(), eval)
	sandbox := broker.NewSandboxBroker(failureRate)

	pool := NewDispatchPool(sandbox, campaigns, deliveries, customers, template.NewEngine())
	pool.SetRetryPolicy(2, time.Millisecond)

	return &testPipeline{
		campaigns:  campaigns,
		deliveries: deliveries,
		customers:  customers,
		segments:   segments,
		broker:     sandbox,
		pool:       pool,
	}
}

// seedCustomers adds n customers with total_spend = (i+1)*100.
func (tp *testPipeline) seedCustomers(n int) []uuid.UUID {
	ids := make([]uuid.UUID, n)
	for i := 0; i < n; i++ {
		c := domain.Customer{
			ID:         uuid.New(),
			Email:      fmt.Sprintf("customer%d@example.com", i),
			FirstName:  fmt.Sprintf("Customer%d", i),
			LastName:   "Test",
			Location:   "Berlin",
			TotalSpend: float64((i + 1) * 100),
			VisitCount: i,
			CreatedAt:  time.Now(),
		}
		tp.customers.Add(c)
		ids[i] = c.ID
	}
	return ids
}

// scheduledCampaign inserts a campaign already in scheduled status, due now,
// with an inline rule matching every seeded customer.
func (tp *testPipeline) scheduledCampaign(t *testing.T, message string) *domain.Campaign {
	t.Helper()

	rules, err := json.Marshal(segmentation.Cond(segmentation.FieldTotalSpend, segmentation.OpGreaterThan, "0"))
	if err != nil {
		t.Fatalf("marshal rules: %v", err)
	}
	past := time.Now().Add(-time.Minute)
	c := &domain.Campaign{
		ID:          uuid.New(),
		Name:        "test campaign",
		Message:     message,
		Status:      domain.CampaignScheduled,
		Rules:       rules,
		ScheduledAt: &past,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	if err := tp.campaigns.Insert(context.Background(), c); err != nil {
		t.Fatalf("insert campaign: %v", err)
	}
	return c
}

// claim moves the campaign to active with the given audience size.
func (tp *testPipeline) claim(t *testing.T, id uuid.UUID, audienceSize int) {
	t.Helper()
	ok, err := tp.campaigns.Claim(context.Background(), id, audienceSize, time.Now())
	if err != nil || !ok {
		t.Fatalf("claim campaign: ok=%v err=%v", ok, err)
	}
}

func (tp *testPipeline) campaignStatus(t *testing.T, id uuid.UUID) domain.CampaignStatus {
	t.Helper()
	c, err := tp.campaigns.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("get campaign: %v", err)
	}
	return c.Status
}

func (tp *testPipeline) deliveryCounts(t *testing.T, id uuid.UUID) (delivered, failed, pending int) {
	t.Helper()
	delivered, failed, pending, err := tp.deliveries.CountByStatus(context.Background(), id)
	if err != nil {
		t.Fatalf("count deliveries: %v", err)
	}
	return delivered, failed, pending
}

// countingDispatcher records Dispatch invocations.
type countingDispatcher struct {
	mu       sync.Mutex
	calls    int
	lastSize int
	lastID   uuid.UUID
}

func (d *countingDispatcher) Dispatch(_ context.Context, c *domain.Campaign, recipients []uuid.UUID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	d.lastID = c.ID
	d.lastSize = len(recipients)
	return nil
}

func (d *countingDispatcher) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}
