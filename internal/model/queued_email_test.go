package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmailStatusOrder(t *testing.T) {
	order := []EmailStatus{EmailPending, EmailClaimed, EmailSent, EmailDelivered, EmailOpened, EmailClicked, EmailReplied}
	for i := 1; i < len(order); i++ {
		assert.Greater(t, order[i].Rank(), order[i-1].Rank(), order[i])
	}
	assert.Equal(t, EmailReplied, Max(EmailReplied, EmailOpened))
	assert.Equal(t, EmailBounced, Max(EmailClicked, EmailBounced))
	assert.True(t, EmailFailed.Absorbing())
	assert.False(t, EmailStatus("shipped").Valid())
}

func TestMarkSent(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	q := &QueuedEmail{Status: EmailClaimed}

	eff := MarkSent(q, "msg-1", now)
	assert.True(t, eff.SentFirst)
	assert.Equal(t, EmailSent, q.Status)
	assert.Equal(t, "msg-1", q.MessageID)
	require.NotNil(t, q.SentAt)
	assert.Equal(t, now, *q.SentAt)
	assert.Equal(t, []Counter{CounterSent}, eff.Counters())
}

func TestMarkSentAfterEarlyDelivery(t *testing.T) {
	now := time.Now().UTC()
	q := &QueuedEmail{Status: EmailClaimed}

	eff := ApplyEvent(q, EventDelivered, now, "")
	assert.True(t, eff.SentFirst)
	assert.True(t, eff.DeliveredFirst)
	assert.Equal(t, EmailDelivered, q.Status)

	eff = MarkSent(q, "msg-2", now.Add(time.Second))
	assert.False(t, eff.SentFirst)
	assert.Equal(t, EmailDelivered, q.Status)
	assert.Equal(t, "msg-2", q.MessageID)
	assert.Equal(t, now, *q.SentAt)
}

func TestMarkFailed(t *testing.T) {
	now := time.Now().UTC()
	q := &QueuedEmail{Status: EmailClaimed}
	eff := MarkFailed(q, "smtp: 550 mailbox unavailable", now)
	assert.True(t, eff.Changed)
	assert.Empty(t, eff.Counters())
	assert.Equal(t, EmailFailed, q.Status)
	assert.Equal(t, "smtp: 550 mailbox unavailable", q.ErrorMessage)

	assert.False(t, MarkSent(q, "late", now).Changed)
	assert.Equal(t, EmailFailed, q.Status)

	sent := &QueuedEmail{Status: EmailSent}
	assert.False(t, MarkFailed(sent, "x", now).Changed)
	assert.Equal(t, EmailSent, sent.Status)
}

func TestApplyEventNeverDowngrades(t *testing.T) {
	now := time.Now().UTC()
	q := &QueuedEmail{Status: EmailSent, SentAt: &now}

	assert.True(t, ApplyEvent(q, EventClicked, now, "").ClickedFirst)
	assert.Equal(t, EmailClicked, q.Status)

	eff := ApplyEvent(q, EventOpened, now, "")
	assert.True(t, eff.OpenedFirst)
	assert.Equal(t, EmailClicked, q.Status)

	eff = ApplyEvent(q, EventDelivered, now, "")
	assert.True(t, eff.DeliveredFirst)
	assert.Equal(t, EmailClicked, q.Status)

	ApplyEvent(q, EventReplied, now, "")
	ApplyEvent(q, EventClicked, now, "")
	assert.Equal(t, EmailReplied, q.Status)
}

func TestApplyEventCountsFirstOccurrenceOnly(t *testing.T) {
	t0 := time.Now().UTC()
	t1 := t0.Add(time.Minute)
	q := &QueuedEmail{Status: EmailSent, SentAt: &t0}

	first := ApplyEvent(q, EventOpened, t0, "")
	second := ApplyEvent(q, EventOpened, t1, "")

	assert.True(t, first.OpenedFirst)
	assert.False(t, second.OpenedFirst)
	assert.Equal(t, 2, q.OpenCount)
	assert.Equal(t, t0, *q.FirstOpenedAt)
	assert.Equal(t, t1, *q.LastOpenedAt)

	ApplyEvent(q, EventClicked, t0, "")
	eff := ApplyEvent(q, EventClicked, t1, "")
	assert.False(t, eff.ClickedFirst)
	assert.Equal(t, 2, q.ClickCount)
}

func TestApplyEventBounceIsAbsorbing(t *testing.T) {
	now := time.Now().UTC()
	q := &QueuedEmail{Status: EmailDelivered, SentAt: &now, DeliveredAt: &now}

	eff := ApplyEvent(q, EventComplained, now, "")
	assert.True(t, eff.BouncedFirst)
	assert.Equal(t, EmailBounced, q.Status)
	assert.Equal(t, "spam complaint", q.ErrorMessage)

	eff = ApplyEvent(q, EventOpened, now, "")
	assert.False(t, eff.Changed)
	assert.Equal(t, 0, q.OpenCount)
	assert.False(t, ApplyEvent(q, EventBounced, now, "again").BouncedFirst)
}

func TestApplyEventUnknownType(t *testing.T) {
	q := &QueuedEmail{Status: EmailSent}
	assert.False(t, ApplyEvent(q, EventType("deferred"), time.Now(), "").Changed)
}

func TestParseEventType(t *testing.T) {
	cases := map[string]EventType{
		"delivery":   EventDelivered,
		"Open":       EventOpened,
		"click":      EventClicked,
		"spamreport": EventComplained,
		"bounce":     EventBounced,
		"reply":      EventReplied,
	}
	for in, want := range cases {
		got, ok := ParseEventType(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	_, ok := ParseEventType("deferred")
	assert.False(t, ok)
}
