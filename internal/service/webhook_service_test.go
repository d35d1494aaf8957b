package service_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/outreach-backend/internal/model"
	"github.com/unclebandit/outreach-backend/internal/service"
)

// sentCampaign runs a dry-run campaign to completion and returns it with its rows.
func sentCampaign(t *testing.T, e *env, mutate func(in *service.CampaignInput)) (*model.Campaign, []*model.QueuedEmail) {
	t.Helper()
	in := service.CampaignInput{Name: "dry", TemplateID: e.template.ID, IsDryRun: true, StartImmediately: true}
	if mutate != nil {
		mutate(&in)
	}
	res, err := e.svc.CreateCampaign(context.Background(), in)
	require.NoError(t, err)
	require.True(t, res.Start.Batch.Completed)
	return res.Campaign, e.rows(t, res.Campaign.ID)
}

func TestParseWebhookPayload(t *testing.T) {
	events, err := service.ParseWebhookPayload([]byte(`{"event":"open","message_id":"m1"}`))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "m1", events[0].MessageID)

	events, err = service.ParseWebhookPayload([]byte(` [{"type":"delivered"},{"event":"bounce"}]`))
	require.NoError(t, err)
	assert.Len(t, events, 2)
	assert.Equal(t, "delivered", events[0].Type)

	_, err = service.ParseWebhookPayload([]byte(`{"event":`))
	assert.Error(t, err)
}

func TestWebhookIngestOutcomes(t *testing.T) {
	e := newEnv(t)
	e.seedCustomers(t, 1)
	ctx := context.Background()
	c, rows := sentCampaign(t, e, nil)
	row := rows[0]

	payload := fmt.Sprintf(`[
		{"event":"delivered","message_id":"<%[1]s>","event_id":"e1","timestamp":1700000000},
		{"event":"delivered","message_id":"<%[1]s>","event_id":"e1","timestamp":1700000000},
		{"event":"unsubscribed","message_id":"%[1]s"},
		{"event":"opened","message_id":"unknown-message"},
		{"event":"opened","email_id":"not-a-row"}
	]`, row.MessageID)
	out := e.webhooks.Ingest(ctx, []byte(payload))
	assert.Equal(t, 5, out.Received)
	assert.Equal(t, map[string]int{
		service.OutcomeApplied:   1,
		service.OutcomeDuplicate: 1,
		service.OutcomeUnknown:   1,
		service.OutcomeUnmatched: 2,
	}, out.Outcomes)

	got, err := e.emails.GetByID(ctx, row.ID)
	require.NoError(t, err)
	assert.Equal(t, model.EmailDelivered, got.Status)
	require.NotNil(t, got.DeliveredAt)
	assert.True(t, got.DeliveredAt.Equal(time.Unix(1700000000, 0)))

	events, _, err := e.svc.ListEvents(ctx, c.ID, 1, 10)
	require.NoError(t, err)
	assert.Len(t, events, 1)

	bad := e.webhooks.Ingest(ctx, []byte(`not json`))
	assert.Equal(t, 0, bad.Received)
	assert.Equal(t, 1, bad.Outcomes[service.OutcomeError])
}

func TestWebhookCountersCountFirstOccurrence(t *testing.T) {
	e := newEnv(t)
	e.seedCustomers(t, 2)
	ctx := context.Background()
	c, rows := sentCampaign(t, e, nil)

	opened := fmt.Sprintf(`{"event":"opened","message_id":%q,"timestamp":"2026-01-02T15:04:05Z"}`, rows[0].MessageID)
	e.webhooks.Ingest(ctx, []byte(opened))
	e.webhooks.Ingest(ctx, []byte(opened))
	e.webhooks.Ingest(ctx, []byte(fmt.Sprintf(`{"event":"delivered","message_id":%q}`, rows[0].MessageID)))

	got, err := e.emails.GetByID(ctx, rows[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.EmailOpened, got.Status)
	assert.Equal(t, 2, got.OpenCount)

	final := e.reload(t, c.ID)
	assert.Equal(t, 2, final.SentCount)
	assert.Equal(t, 1, final.OpenedCount)
	assert.Equal(t, 1, final.DeliveredCount)
}

func TestWebhookBounceIsAbsorbing(t *testing.T) {
	e := newEnv(t)
	e.seedCustomers(t, 1)
	ctx := context.Background()
	c, rows := sentCampaign(t, e, nil)
	msgID := rows[0].MessageID

	out := e.webhooks.Ingest(ctx, []byte(fmt.Sprintf(`{"event":"bounce","message_id":%q,"reason":"mailbox full"}`, msgID)))
	assert.Equal(t, 1, out.Outcomes[service.OutcomeApplied])

	out = e.webhooks.Ingest(ctx, []byte(fmt.Sprintf(`{"event":"click","message_id":%q}`, msgID)))
	assert.Equal(t, 1, out.Outcomes[service.OutcomeUnchanged])

	got, err := e.emails.GetByID(ctx, rows[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.EmailBounced, got.Status)
	assert.Equal(t, "mailbox full", got.ErrorMessage)
	assert.Equal(t, 0, got.ClickCount)

	final := e.reload(t, c.ID)
	assert.Equal(t, 1, final.BouncedCount)
	assert.Equal(t, 0, final.ClickedCount)
}
