package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beyonder07/XenoCrm-sub001/internal/domain"
	"github.com/beyonder07/XenoCrm-sub001/internal/repository/memory"
	"github.com/beyonder07/XenoCrm-sub001/internal/segmentation"
	"github.com/beyonder07/XenoCrm-sub001/internal/template"
)

type testAPI struct {
	server     *Server
	campaigns  *memory.CampaignRepo
	deliveries *memory.DeliveryRepo
	customers  *memory.CustomerStore
}

func setupAPI(t *testing.T) *testAPI {
	t.Helper()

	campaigns := memory.NewCampaignRepo()
	deliveries := memory.NewDeliveryRepo()
	customers := memory.NewCustomerStore()
	for i := 0; i < 5; i++ {
		customers.Add(domain.Customer{
			ID:         uuid.New(),
			Email:      fmt.Sprintf("c%d@example.com", i),
			FirstName:  "Test",
			TotalSpend: float64(i * 1000),
			CreatedAt:  time.Now(),
		})
	}
	eval := segmentation.NewEvaluator(customers)
	segments := segmentation.NewStore(memory.NewSegmentRepo(), eval)

	server := NewServer(":0", campaigns, segments, template.NewEngine(), &recordingApplier{deliveries: deliveries})
	return &testAPI{server: server, campaigns: campaigns, deliveries: deliveries, customers: customers}
}

// recordingApplier settles receipts straight into the delivery repo.
type recordingApplier struct {
	deliveries *memory.DeliveryRepo
	applied    int
}

func (a *recordingApplier) Apply(ctx context.Context, receipt *domain.Receipt) error {
	a.applied++
	return a.deliveries.SetOutcome(ctx, receipt.CampaignID, receipt.RecipientID, receipt.Status(), receipt.Error)
}

func (ta *testAPI) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ta.server.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	ta := setupAPI(t)
	rec := ta.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateSegment(t *testing.T) {
	ta := setupAPI(t)

	rec := ta.do(t, http.MethodPost, "/api/segments", map[string]interface{}{
		"name": "big spenders",
		"rules": map[string]interface{}{
			"field": "total_spend", "operator": "greater_than", "value": "1000",
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	id, err := uuid.Parse(resp["id"])
	require.NoError(t, err)

	get := ta.do(t, http.MethodGet, "/api/segments/"+id.String(), nil)
	assert.Equal(t, http.StatusOK, get.Code)
}

func TestCreateSegment_UnknownFieldRejected(t *testing.T) {
	ta := setupAPI(t)

	rec := ta.do(t, http.MethodPost, "/api/segments", map[string]interface{}{
		"name": "bad",
		"rules": map[string]interface{}{
			"field": "shoe_size", "operator": "equals", "value": "42",
		},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_rule")
}

func TestPreviewSegment(t *testing.T) {
	ta := setupAPI(t)

	rec := ta.do(t, http.MethodPost, "/api/segments/preview", map[string]interface{}{
		"rules": map[string]interface{}{
			"field": "total_spend", "operator": "greater_than", "value": "1500",
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	// Seeded spends are 0,1000,2000,3000,4000.
	assert.Equal(t, 3, resp["count"])
}

func TestPreviewSegment_IncompleteRulesCountZero(t *testing.T) {
	ta := setupAPI(t)

	// Missing value: previews as zero recipients, never as match-all.
	rec := ta.do(t, http.MethodPost, "/api/segments/preview", map[string]interface{}{
		"rules": map[string]interface{}{
			"field": "total_spend", "operator": "greater_than", "value": "",
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 0, resp["count"])
}

func TestRuleMetadata(t *testing.T) {
	ta := setupAPI(t)
	rec := ta.do(t, http.MethodGet, "/api/rules/metadata", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "total_spend")
	assert.Contains(t, rec.Body.String(), "between")
}

func createCampaign(t *testing.T, ta *testAPI) uuid.UUID {
	t.Helper()
	rec := ta.do(t, http.MethodPost, "/api/campaigns", map[string]interface{}{
		"name":    "welcome",
		"message": "hi {{ first_name }}",
		"rules": map[string]interface{}{
			"field": "total_spend", "operator": "greater_than", "value": "0",
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var c domain.Campaign
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &c))
	assert.Equal(t, domain.CampaignDraft, c.Status)
	return c.ID
}

func TestCreateCampaign(t *testing.T) {
	ta := setupAPI(t)
	createCampaign(t, ta)
}

func TestCreateCampaign_Validation(t *testing.T) {
	ta := setupAPI(t)

	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{"missing name", map[string]interface{}{
			"message": "hi",
			"rules":   map[string]interface{}{"field": "email", "operator": "contains", "value": "@"},
		}},
		{"missing message", map[string]interface{}{
			"name":  "x",
			"rules": map[string]interface{}{"field": "email", "operator": "contains", "value": "@"},
		}},
		{"no audience source", map[string]interface{}{
			"name": "x", "message": "hi",
		}},
		{"both audience sources", map[string]interface{}{
			"name": "x", "message": "hi",
			"segment_id": uuid.New().String(),
			"rules":      map[string]interface{}{"field": "email", "operator": "contains", "value": "@"},
		}},
		{"bad template", map[string]interface{}{
			"name": "x", "message": "hi {% if x",
			"rules": map[string]interface{}{"field": "email", "operator": "contains", "value": "@"},
		}},
		{"unknown segment", map[string]interface{}{
			"name": "x", "message": "hi",
			"segment_id": uuid.New().String(),
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ta.do(t, http.MethodPost, "/api/campaigns", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestScheduleCampaign(t *testing.T) {
	ta := setupAPI(t)
	id := createCampaign(t, ta)

	rec := ta.do(t, http.MethodPost, "/api/campaigns/"+id.String()+"/schedule", map[string]interface{}{
		"scheduled_at": time.Now().Add(time.Hour).Format(time.RFC3339),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	c, err := ta.campaigns.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignScheduled, c.Status)

	// Scheduling again must hit the CAS and conflict.
	again := ta.do(t, http.MethodPost, "/api/campaigns/"+id.String()+"/schedule", nil)
	assert.Equal(t, http.StatusConflict, again.Code)
}

func TestScheduleCampaign_PastTimeRejected(t *testing.T) {
	ta := setupAPI(t)
	id := createCampaign(t, ta)

	rec := ta.do(t, http.MethodPost, "/api/campaigns/"+id.String()+"/schedule", map[string]interface{}{
		"scheduled_at": time.Now().Add(-time.Hour).Format(time.RFC3339),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelCampaign(t *testing.T) {
	ta := setupAPI(t)
	id := createCampaign(t, ta)

	// Draft campaigns are not cancellable, they are simply never scheduled.
	rec := ta.do(t, http.MethodPost, "/api/campaigns/"+id.String()+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	require.Equal(t, http.StatusOK, ta.do(t, http.MethodPost, "/api/campaigns/"+id.String()+"/schedule", nil).Code)

	rec = ta.do(t, http.MethodPost, "/api/campaigns/"+id.String()+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	c, err := ta.campaigns.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignCancelled, c.Status)
}

func TestCampaignStats(t *testing.T) {
	ta := setupAPI(t)
	id := createCampaign(t, ta)

	ctx := context.Background()
	_, err := ta.campaigns.Schedule(ctx, id, time.Now())
	require.NoError(t, err)
	claimed, err := ta.campaigns.Claim(ctx, id, 50, time.Now())
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, ta.campaigns.UpdateStats(ctx, id, 45, 5, 0))

	rec := ta.do(t, http.MethodGet, "/api/campaigns/"+id.String()+"/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		AudienceSize int                  `json:"audience_size"`
		Stats        domain.CampaignStats `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 50, resp.AudienceSize)
	assert.Equal(t, 45, resp.Stats.Delivered)
	assert.InDelta(t, 90.0, resp.Stats.DeliveredPct, 0.001)
	assert.InDelta(t, 10.0, resp.Stats.FailedPct, 0.001)
}

func TestGetCampaign_NotFound(t *testing.T) {
	ta := setupAPI(t)
	rec := ta.do(t, http.MethodGet, "/api/campaigns/"+uuid.New().String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIngestReceipt(t *testing.T) {
	ta := setupAPI(t)
	campaignID := uuid.New()
	recipientID := uuid.New()
	require.NoError(t, ta.deliveries.BulkCreatePending(context.Background(), campaignID, []uuid.UUID{recipientID}))

	rec := ta.do(t, http.MethodPost, "/api/receipts", map[string]interface{}{
		"campaign_id":  campaignID.String(),
		"recipient_id": recipientID.String(),
		"outcome":      "delivered",
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	stored, err := ta.deliveries.Get(context.Background(), campaignID, recipientID)
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryDelivered, stored.Status)
}

func TestIngestReceipt_BadOutcome(t *testing.T) {
	ta := setupAPI(t)
	rec := ta.do(t, http.MethodPost, "/api/receipts", map[string]interface{}{
		"campaign_id":  uuid.New().String(),
		"recipient_id": uuid.New().String(),
		"outcome":      "maybe",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
