package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to CampaignStatus
		want     bool
	}{
		{CampaignDraft, CampaignScheduled, true},
		{CampaignDraft, CampaignSending, false},
		{CampaignScheduled, CampaignSending, true},
		{CampaignSending, CampaignPaused, true},
		{CampaignSending, CampaignCompleted, true},
		{CampaignPaused, CampaignSending, true},
		{CampaignPaused, CampaignCompleted, true},
		{CampaignPaused, CampaignCancelled, true},
		{CampaignDraft, CampaignCancelled, true},
		{CampaignCompleted, CampaignCancelled, false},
		{CampaignCancelled, CampaignSending, false},
		{CampaignCompleted, CampaignSending, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestSendDelayMS(t *testing.T) {
	assert.Equal(t, int64(72000), SendDelayMS(50))
	assert.Equal(t, int64(36000), SendDelayMS(100))
	assert.Equal(t, int64(0), SendDelayMS(0))
	assert.Equal(t, 72*time.Second, SendDelay(50))
}

func TestResendDueAt(t *testing.T) {
	done := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	c := &Campaign{AutoResendEnabled: true, AutoResendDelayHours: 48, CompletedAt: &done}
	due := c.ResendDueAt()
	if assert.NotNil(t, due) {
		assert.Equal(t, done.Add(48*time.Hour), *due)
	}

	child := "c-2"
	c.ResendCampaignID = &child
	assert.Nil(t, c.ResendDueAt())

	assert.Nil(t, (&Campaign{AutoResendEnabled: false, CompletedAt: &done}).ResendDueAt())
}

func TestPersonalizationScan(t *testing.T) {
	var p Personalization
	assert.NoError(t, p.Scan(`{"first_name":"Ada"}`))
	assert.Equal(t, "Ada", p["first_name"])

	assert.NoError(t, p.Scan(nil))
	assert.Empty(t, p)

	v, err := Personalization{"k": "v"}.Value()
	assert.NoError(t, err)
	assert.Equal(t, `{"k":"v"}`, v)

	merged := Personalization{"name": "A"}.Merge(map[string]string{"name": "B", "sender_name": "S"})
	assert.Equal(t, "A", merged["name"])
	assert.Equal(t, "S", merged["sender_name"])
}
