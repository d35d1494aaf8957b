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

func TestStartDue(t *testing.T) {
	e := newEnv(t)
	e.seedCustomers(t, 1)
	ctx := context.Background()

	due := e.create(t, func(in *service.CampaignInput) { in.ScheduledAt = ptrTime(time.Now().UTC().Add(-time.Minute)) })
	later := e.create(t, func(in *service.CampaignInput) { in.ScheduledAt = ptrTime(time.Now().UTC().Add(time.Hour)) })

	n, err := e.svc.StartDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, model.CampaignSending, e.reload(t, due.ID).Status)
	assert.Equal(t, model.CampaignScheduled, e.reload(t, later.ID).Status)
}

func TestExpireClaims(t *testing.T) {
	e := newEnv(t)
	e.seedCustomers(t, 2)
	ctx := context.Background()

	c := e.create(t, nil)
	_, err := e.svc.Start(ctx, c.ID)
	require.NoError(t, err)
	claimed, err := e.emails.ClaimBatch(ctx, c.ID, 1, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	n, err := e.svc.ExpireClaims(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	got, err := e.emails.GetByID(ctx, claimed[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.EmailFailed, got.Status)
	assert.Equal(t, "claim expired", got.ErrorMessage)

	// the expired row is never handed out again
	res, err := e.svc.ProcessNextBatch(ctx, c.ID, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.True(t, res.Completed)
	assert.Len(t, e.transport.Sent(), 1)
}

func TestExpiredClaimIsNotSent(t *testing.T) {
	e := newEnv(t)
	e.seedCustomers(t, 3)
	ctx := context.Background()

	c := e.create(t, nil)
	_, err := e.svc.Start(ctx, c.ID)
	require.NoError(t, err)

	// The scheduler runs an hour into the batch, after the first send.
	var expired int64
	e.sleeper.OnSleep = func() {
		if expired > 0 {
			return
		}
		e.svc.Now = func() time.Time { return time.Now().Add(time.Hour) }
		expired, err = e.svc.ExpireClaims(ctx)
		require.NoError(t, err)
	}

	res, err := e.svc.ProcessNextBatch(ctx, c.ID, 3)
	require.NoError(t, err)
	assert.EqualValues(t, 2, expired)
	assert.Equal(t, 1, res.Processed)

	sent := e.transport.Sent()
	require.Len(t, sent, 1)

	statuses := map[model.EmailStatus]int{}
	for _, row := range e.rows(t, c.ID) {
		statuses[row.Status]++
		if row.ID == sent[0].EmailID {
			assert.Equal(t, model.EmailSent, row.Status)
		} else {
			assert.Equal(t, model.EmailFailed, row.Status)
			assert.Equal(t, "claim expired", row.ErrorMessage)
		}
	}
	assert.Equal(t, 1, statuses[model.EmailSent])
	assert.Equal(t, 2, statuses[model.EmailFailed])
	assert.Equal(t, 1, e.reload(t, c.ID).SentCount)
}

func TestRecoverStalled(t *testing.T) {
	e := newEnv(t)
	e.seedCustomers(t, 2)
	ctx := context.Background()

	c := e.create(t, nil)
	_, err := e.svc.Start(ctx, c.ID)
	require.NoError(t, err)

	n, err := e.svc.RecoverStalled(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	e.svc.Now = func() time.Time { return time.Now().Add(11 * time.Minute) }
	q := &MockQueue{}
	e.svc.Queue = q
	n, err = e.svc.RecoverStalled(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, q.Tasks(), 1)
	assert.Equal(t, c.ID, q.Tasks()[0].CampaignID)

	// without a queue the batch runs inline
	e.svc.Queue = nil
	n, err = e.svc.RecoverStalled(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, e.transport.Sent(), 1)
}

func TestCreateDueResends(t *testing.T) {
	e := newEnv(t)
	e.seedCustomers(t, 3)
	ctx := context.Background()

	parent, rows := sentCampaign(t, e, func(in *service.CampaignInput) {
		in.AutoResendEnabled = true
		in.AutoResendDelayHours = 24
		in.AutoResendSubject = "Quick follow-up"
	})
	e.webhooks.Ingest(ctx, []byte(fmt.Sprintf(`{"event":"opened","message_id":%q}`, rows[0].MessageID)))

	e.svc.Now = func() time.Time { return time.Now().Add(23 * time.Hour) }
	n, err := e.svc.CreateDueResends(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	e.svc.Now = func() time.Time { return time.Now().Add(25 * time.Hour) }
	n, err = e.svc.CreateDueResends(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	p := e.reload(t, parent.ID)
	require.NotNil(t, p.ResendCampaignID)
	child := e.reload(t, *p.ResendCampaignID)
	assert.Equal(t, model.CampaignScheduled, child.Status)
	assert.Equal(t, model.SegmentResend, child.SegmentKind)
	require.NotNil(t, child.ParentCampaignID)
	assert.Equal(t, parent.ID, *child.ParentCampaignID)
	assert.Equal(t, "Quick follow-up", child.SubjectOverride)
	assert.Equal(t, 2, child.TotalRecipients)
	assert.True(t, child.IsDryRun)

	n, err = e.svc.CreateDueResends(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	started, err := e.svc.StartDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, started)

	sent := e.transport.Sent()
	require.Len(t, sent, 5)
	for _, m := range sent[3:] {
		assert.Equal(t, "Quick follow-up", m.Subject)
		assert.NotEqual(t, "user000@example.com", m.To)
	}
	assert.Equal(t, model.CampaignCompleted, e.reload(t, child.ID).Status)
}

func TestCreateResendWithNobodyLeft(t *testing.T) {
	e := newEnv(t)
	e.seedCustomers(t, 1)
	ctx := context.Background()

	parent, rows := sentCampaign(t, e, func(in *service.CampaignInput) { in.AutoResendEnabled = true })
	e.webhooks.Ingest(ctx, []byte(fmt.Sprintf(`{"event":"replied","message_id":%q}`, rows[0].MessageID)))

	child, err := e.svc.CreateResend(ctx, e.reload(t, parent.ID))
	require.NoError(t, err)
	assert.Equal(t, model.CampaignCompleted, child.Status)
	assert.Equal(t, 0, child.TotalRecipients)

	_, err = e.svc.CreateResend(ctx, e.reload(t, parent.ID))
	assert.Error(t, err)
}

func TestTickOnEmptyStore(t *testing.T) {
	e := newEnv(t)
	res, err := e.svc.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, service.TickResult{}, res)
}
