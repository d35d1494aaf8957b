package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.EmailSent()
	m.EmailFailed()
	m.ObserveBatch("ok", time.Second)
	m.WebhookEvent("opened", "applied")
	m.Transition("sending")
	m.ClaimsExpired(3)
	m.EnqueueChunksFailed(1)
}

func TestCounters(t *testing.T) {
	m := New()
	m.EmailSent()
	m.EmailSent()
	m.EmailFailed()
	m.Transition("completed")
	m.WebhookEvent("opened", "duplicate")
	m.ClaimsExpired(0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.EmailsSentTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EmailsFailedTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CampaignTransitions.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WebhookEventsTotal.WithLabelValues("opened", "duplicate")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ClaimsExpiredTotal))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.ObserveBatch("ok", 10*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `outreach_batches_total{outcome="ok"} 1`))
	assert.Contains(t, body, "outreach_batch_duration_seconds_count 1")
}
