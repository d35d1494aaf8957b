package appErrors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKinds(t *testing.T) {
	wrapped := fmt.Errorf("load: %w", NewCampaignNotFound("c-1"))
	assert.True(t, IsNotFound(wrapped))
	assert.False(t, IsConflict(wrapped))
	assert.Equal(t, "load: campaign with ID c-1 not found", wrapped.Error())

	v := NewValidation("send_rate", "must be positive")
	assert.True(t, IsValidation(v))
	assert.Equal(t, "send_rate: must be positive", v.Error())
	assert.Equal(t, "no recipients", NewValidation("", "no recipients").Error())

	c := NewConflict("campaign %s is %s", "c-2", "sending")
	assert.True(t, IsConflict(c))
	assert.Equal(t, "campaign c-2 is sending", c.Error())
}
