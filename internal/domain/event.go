package domain

import "time"

// EventType enumerates the append-only campaign event kinds.
type EventType string

const (
	EventSent      EventType = "sent"
	EventDelivered EventType = "delivered"
	EventOpened    EventType = "opened"
	EventClicked   EventType = "clicked"
	EventBounced   EventType = "bounced"
	EventFailed    EventType = "failed"
)

// DeliveryStatus maps a provider-reported event onto the recipient's
// delivery_status column.
func (t EventType) DeliveryStatus() DeliveryStatus {
	switch t {
	case EventSent:
		return DeliverySent
	case EventDelivered:
		return DeliveryDelivered
	case EventOpened:
		return DeliveryOpened
	case EventClicked:
		return DeliveryClicked
	case EventBounced:
		return DeliveryBounced
	default:
		return DeliveryFailed
	}
}

// Event is an immutable log entry per (campaign, recipient, event type).
// Written by the dispatch engine on send/failure and by provider webhooks.
type Event struct {
	ID          string            `json:"id" db:"id"`
	CampaignID  string            `json:"campaign_id" db:"campaign_id"`
	RecipientID string            `json:"recipient_id" db:"recipient_id"`
	Type        EventType         `json:"event_type" db:"event_type"`
	Metadata    map[string]string `json:"metadata,omitempty" db:"metadata"`
	CreatedAt   time.Time         `json:"created_at" db:"created_at"`
}
