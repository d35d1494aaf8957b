// internal/model/queued_email.go
package model

import (
	"time"
)

// EmailStatus is the lifecycle state of one queued recipient.
type EmailStatus string

const (
	EmailPending   EmailStatus = "pending"
	EmailClaimed   EmailStatus = "claimed"
	EmailSent      EmailStatus = "sent"
	EmailDelivered EmailStatus = "delivered"
	EmailOpened    EmailStatus = "opened"
	EmailClicked   EmailStatus = "clicked"
	EmailReplied   EmailStatus = "replied"
	EmailBounced   EmailStatus = "bounced"
	EmailFailed    EmailStatus = "failed"
)

var emailRank = map[EmailStatus]int{
	EmailPending:   0,
	EmailClaimed:   1,
	EmailSent:      2,
	EmailDelivered: 3,
	EmailOpened:    4,
	EmailClicked:   5,
	EmailReplied:   6,
}

// Rank places s on the total order pending < claimed < sent < delivered < opened < clicked < replied.
// Absorbing states rank above every other state.
func (s EmailStatus) Rank() int {
	if s.Absorbing() {
		return len(emailRank)
	}
	return emailRank[s]
}

// Absorbing is true for bounced and failed.
func (s EmailStatus) Absorbing() bool {
	return s == EmailBounced || s == EmailFailed
}

// Valid reports whether s is a known status.
func (s EmailStatus) Valid() bool {
	_, ok := emailRank[s]
	return ok || s.Absorbing()
}

// Max returns the higher of a and b.
func Max(a, b EmailStatus) EmailStatus {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

type QueuedEmail struct {
	ID         string  `db:"id" json:"id"`
	CampaignID string  `db:"campaign_id" json:"campaign_id"`
	CustomerID *string `db:"customer_id" json:"customer_id,omitempty"`

	Email           string          `db:"email" json:"email"`
	Name            string          `db:"name" json:"name"`
	Company         string          `db:"company" json:"company"`
	Personalization Personalization `db:"personalization" json:"personalization"`

	MessageID    string      `db:"message_id" json:"message_id,omitempty"`
	Status       EmailStatus `db:"status" json:"status"`
	Position     int64       `db:"position" json:"position"`
	Version      int         `db:"version" json:"-"`
	OpenCount    int         `db:"open_count" json:"open_count"`
	ClickCount   int         `db:"click_count" json:"click_count"`
	ErrorMessage string      `db:"error_message" json:"error_message,omitempty"`

	QueuedAt       time.Time  `db:"queued_at" json:"queued_at"`
	ClaimedAt      *time.Time `db:"claimed_at" json:"claimed_at,omitempty"`
	SentAt         *time.Time `db:"sent_at" json:"sent_at,omitempty"`
	DeliveredAt    *time.Time `db:"delivered_at" json:"delivered_at,omitempty"`
	FirstOpenedAt  *time.Time `db:"first_opened_at" json:"first_opened_at,omitempty"`
	LastOpenedAt   *time.Time `db:"last_opened_at" json:"last_opened_at,omitempty"`
	FirstClickedAt *time.Time `db:"first_clicked_at" json:"first_clicked_at,omitempty"`
	RepliedAt      *time.Time `db:"replied_at" json:"replied_at,omitempty"`
	BouncedAt      *time.Time `db:"bounced_at" json:"bounced_at,omitempty"`
	FailedAt       *time.Time `db:"failed_at" json:"failed_at,omitempty"`
}

// Effects lists the campaign aggregates a row mutation must bump.
// Each flag is set at most once over a row's lifetime.
type Effects struct {
	Changed        bool
	SentFirst      bool
	DeliveredFirst bool
	OpenedFirst    bool
	ClickedFirst   bool
	RepliedFirst   bool
	BouncedFirst   bool
}

// Counters returns the aggregate columns to increment.
func (e Effects) Counters() []Counter {
	var out []Counter
	if e.SentFirst {
		out = append(out, CounterSent)
	}
	if e.DeliveredFirst {
		out = append(out, CounterDelivered)
	}
	if e.OpenedFirst {
		out = append(out, CounterOpened)
	}
	if e.ClickedFirst {
		out = append(out, CounterClicked)
	}
	if e.RepliedFirst {
		out = append(out, CounterReplied)
	}
	if e.BouncedFirst {
		out = append(out, CounterBounced)
	}
	return out
}

func (q *QueuedEmail) raise(to EmailStatus) {
	if q.Status.Absorbing() {
		return
	}
	q.Status = Max(q.Status, to)
}

func (q *QueuedEmail) backfillSent(at time.Time, eff *Effects) {
	if q.SentAt == nil {
		t := at
		q.SentAt = &t
		eff.SentFirst = true
	}
}

// MarkSent records a successful transport call.
func MarkSent(q *QueuedEmail, messageID string, at time.Time) Effects {
	eff := Effects{}
	if q.Status == EmailFailed {
		return eff
	}
	eff.Changed = true
	if q.MessageID == "" {
		q.MessageID = messageID
	}
	q.backfillSent(at, &eff)
	q.raise(EmailSent)
	return eff
}

// MarkFailed records a transport failure. Only rows that were never sent can fail.
func MarkFailed(q *QueuedEmail, reason string, at time.Time) Effects {
	if q.Status != EmailPending && q.Status != EmailClaimed {
		return Effects{}
	}
	t := at
	q.Status = EmailFailed
	q.FailedAt = &t
	q.ErrorMessage = reason
	return Effects{Changed: true}
}

// ApplyEvent folds a webhook event into the row. Status only moves up the order;
// campaign aggregates are reported only on the first occurrence per row.
func ApplyEvent(q *QueuedEmail, ev EventType, at time.Time, reason string) Effects {
	eff := Effects{}
	if q.Status.Absorbing() {
		return eff
	}
	t := at

	switch ev {
	case EventSent:
		q.backfillSent(at, &eff)
		q.raise(EmailSent)
	case EventDelivered:
		q.backfillSent(at, &eff)
		if q.DeliveredAt == nil {
			q.DeliveredAt = &t
			eff.DeliveredFirst = true
		}
		q.raise(EmailDelivered)
	case EventOpened:
		q.backfillSent(at, &eff)
		q.OpenCount++
		q.LastOpenedAt = &t
		if q.FirstOpenedAt == nil {
			q.FirstOpenedAt = &t
			eff.OpenedFirst = true
		}
		q.raise(EmailOpened)
	case EventClicked:
		q.backfillSent(at, &eff)
		q.ClickCount++
		if q.FirstClickedAt == nil {
			q.FirstClickedAt = &t
			eff.ClickedFirst = true
		}
		q.raise(EmailClicked)
	case EventReplied:
		q.backfillSent(at, &eff)
		if q.RepliedAt == nil {
			q.RepliedAt = &t
			eff.RepliedFirst = true
		}
		q.raise(EmailReplied)
	case EventBounced, EventComplained:
		q.backfillSent(at, &eff)
		q.BouncedAt = &t
		q.Status = EmailBounced
		eff.BouncedFirst = true
		if ev == EventComplained {
			q.ErrorMessage = "spam complaint"
		} else if reason != "" {
			q.ErrorMessage = reason
		} else {
			q.ErrorMessage = "bounced"
		}
	default:
		return eff
	}

	eff.Changed = true
	return eff
}

// QueuedEmailFilter for listing queue rows of one campaign.
type QueuedEmailFilter struct {
	Status string
	Limit  int
	Offset int
}
