package scheduler

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/outreach-backend/internal/service"
)

type fakeTicker struct {
	mu    sync.Mutex
	calls int
	res   service.TickResult
	err   error
	ctxOK bool
}

func (f *fakeTicker) Tick(ctx context.Context) (service.TickResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	_, f.ctxOK = ctx.Deadline()
	return f.res, f.err
}

func TestRunOnceLogsOutcome(t *testing.T) {
	var buf bytes.Buffer
	ticker := &fakeTicker{res: service.TickResult{Started: 2, ExpiredClaims: 1}}
	s := NewScheduler("@every 1m", ticker, time.Minute, zerolog.New(&buf))

	res := s.RunOnce(context.Background())
	assert.Equal(t, 2, res.Started)
	assert.Equal(t, 1, ticker.calls)
	assert.True(t, ticker.ctxOK)
	assert.Contains(t, buf.String(), `"level":"info"`)
	assert.Contains(t, buf.String(), `"started":2`)

	buf.Reset()
	ticker.err = errors.New("db down")
	s.RunOnce(context.Background())
	assert.Contains(t, buf.String(), `"level":"error"`)
	assert.Contains(t, buf.String(), "db down")
}

func TestStartRejectsBadSpec(t *testing.T) {
	s := NewScheduler("every now and then", &fakeTicker{}, 0, zerolog.Nop())
	require.Error(t, s.Start())
}

func TestStartAndStop(t *testing.T) {
	s := NewScheduler("@every 1h", &fakeTicker{}, 0, zerolog.Nop())
	require.NoError(t, s.Start())

	select {
	case <-s.Stop().Done():
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
