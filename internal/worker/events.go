package worker

import "github.com/google/uuid"

// EventType classifies campaign lifecycle notifications emitted by the
// workers for UI or alerting consumers.
type EventType string

const (
	EventCampaignActivated EventType = "campaign_activated"
	EventCampaignCompleted EventType = "campaign_completed"
	EventCampaignFailed    EventType = "campaign_failed"
	EventDeliveryFailed    EventType = "delivery_failed"
)

// Event is a campaign lifecycle notification. RecipientID is zero for
// campaign-level events.
type Event struct {
	Type        EventType
	CampaignID  uuid.UUID
	RecipientID uuid.UUID
	Detail      string
}

// EventSink receives worker events. Implementations must be fast and must
// not block; workers call them inline on hot paths.
type EventSink func(Event)

func emit(sink EventSink, ev Event) {
	if sink != nil {
		sink(ev)
	}
}
