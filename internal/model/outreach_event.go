// internal/model/outreach_event.go
package model

import (
	"strings"
	"time"

	"github.com/jmoiron/sqlx/types"
)

type EventType string

const (
	EventSent       EventType = "sent"
	EventDelivered  EventType = "delivered"
	EventOpened     EventType = "opened"
	EventClicked    EventType = "clicked"
	EventReplied    EventType = "replied"
	EventBounced    EventType = "bounced"
	EventComplained EventType = "complained"
)

var eventAliases = map[string]EventType{
	"sent":       EventSent,
	"processed":  EventSent,
	"delivered":  EventDelivered,
	"delivery":   EventDelivered,
	"opened":     EventOpened,
	"open":       EventOpened,
	"clicked":    EventClicked,
	"click":      EventClicked,
	"replied":    EventReplied,
	"reply":      EventReplied,
	"bounced":    EventBounced,
	"bounce":     EventBounced,
	"dropped":    EventBounced,
	"complained": EventComplained,
	"complaint":  EventComplained,
	"spamreport": EventComplained,
}

// ParseEventType maps a transport event name onto a known type.
// The second result is false for names the engine does not track.
func ParseEventType(name string) (EventType, bool) {
	t, ok := eventAliases[strings.ToLower(strings.TrimSpace(name))]
	return t, ok
}

// OutreachEvent is one append-only audit entry.
type OutreachEvent struct {
	ID               string         `db:"id" json:"id"`
	QueuedEmailID    string         `db:"queued_email_id" json:"queued_email_id"`
	CampaignID       string         `db:"campaign_id" json:"campaign_id"`
	EventType        EventType      `db:"event_type" json:"event_type"`
	Metadata         types.JSONText `db:"metadata" json:"metadata"`
	TransportEventID *string        `db:"transport_event_id" json:"transport_event_id,omitempty"`
	CreatedAt        time.Time      `db:"created_at" json:"created_at"`
}
