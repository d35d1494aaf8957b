package service_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/outreach-backend/internal/config"
	"github.com/unclebandit/outreach-backend/internal/integration"
	"github.com/unclebandit/outreach-backend/internal/model"
	"github.com/unclebandit/outreach-backend/internal/queue"
	"github.com/unclebandit/outreach-backend/internal/repository"
	"github.com/unclebandit/outreach-backend/internal/segment"
	"github.com/unclebandit/outreach-backend/internal/service"
	"github.com/unclebandit/outreach-backend/internal/transport"
)

// MockTransport records messages and fails recipients listed in failFor.
type MockTransport struct {
	mu      sync.Mutex
	sent    []transport.Message
	failFor map[string]error
}

func (m *MockTransport) Send(_ context.Context, msg transport.Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failFor[msg.To]; err != nil {
		return "", err
	}
	m.sent = append(m.sent, msg)
	return "msg-" + msg.EmailID, nil
}

func (m *MockTransport) Sent() []transport.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]transport.Message(nil), m.sent...)
}

// MockSleeper records requested delays without waiting.
type MockSleeper struct {
	mu     sync.Mutex
	delays []time.Duration

	// OnSleep, when set, runs in place of the wait.
	OnSleep func()
}

func (s *MockSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	hook := s.OnSleep
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	return ctx.Err()
}

func (s *MockSleeper) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

// MockQueue records published tasks.
type MockQueue struct {
	mu    sync.Mutex
	tasks []queue.BatchTask
}

func (q *MockQueue) Publish(_ context.Context, _ string, payload any) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, payload.(queue.BatchTask))
	return nil
}

func (q *MockQueue) Subscribe(string, queue.Handler) error { return nil }
func (q *MockQueue) Close() error                          { return nil }

func (q *MockQueue) Tasks() []queue.BatchTask {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]queue.BatchTask(nil), q.tasks...)
}

type env struct {
	campaigns *repository.CampaignRepository
	emails    *repository.QueuedEmailRepository
	events    *repository.EventRepository
	templates *repository.TemplateRepository
	settings  *repository.SettingsRepository
	customers *repository.CustomerRepository

	transport *MockTransport
	sleeper   *MockSleeper
	processor *service.BatchProcessor
	svc       *service.CampaignService
	webhooks  *service.WebhookService
	template  *model.EmailTemplate
}

func newEnv(t *testing.T) *env {
	t.Helper()
	tc := integration.NewTestCase(t)
	log := zerolog.Nop()

	e := &env{
		campaigns: &repository.CampaignRepository{DB: tc.DB},
		emails:    &repository.QueuedEmailRepository{DB: tc.DB, Logger: log},
		events:    &repository.EventRepository{DB: tc.DB},
		templates: &repository.TemplateRepository{DB: tc.DB},
		settings:  &repository.SettingsRepository{DB: tc.DB},
		customers: &repository.CustomerRepository{DB: tc.DB},
		transport: &MockTransport{failFor: map[string]error{}},
		sleeper:   &MockSleeper{},
	}
	tx := repository.NewProvider(tc.DB)

	e.processor = &service.BatchProcessor{
		Tx:           tx,
		CampaignRepo: e.campaigns,
		EmailRepo:    e.emails,
		TemplateRepo: e.templates,
		Transport:    e.transport,
		Config:       config.ProcessorConfig{LiveBatchSize: 1, DryRunBatchSize: 500, ClaimLease: 15 * time.Minute},
		SendTimeout:  time.Second,
		Sleep:        e.sleeper.Sleep,
		Logger:       log,
	}
	e.svc = &service.CampaignService{
		Tx:           tx,
		CampaignRepo: e.campaigns,
		EmailRepo:    e.emails,
		EventRepo:    e.events,
		TemplateRepo: e.templates,
		SettingsRepo: e.settings,
		Resolver: &segment.CustomerResolver{
			Customers: e.customers,
			Emails:    e.emails,
			Config:    segment.Config{VIPThreshold: decimal.NewFromInt(1000), ActiveDays: 90, DormantDays: 180},
		},
		Processor: e.processor,
		Defaults:  config.OutreachConfig{SenderName: "Outreach", SenderEmail: "outreach@example.com", SendRate: 50},
		Scheduler: config.SchedulerConfig{StallThreshold: 10 * time.Minute},
		Logger:    log,
	}
	e.webhooks = &service.WebhookService{
		Tx:           tx,
		CampaignRepo: e.campaigns,
		EmailRepo:    e.emails,
		EventRepo:    e.events,
		Logger:       log,
	}

	e.template = &model.EmailTemplate{Name: "intro", Subject: "Hi {{first_name}}", Body: "Hello {{ first_name | there }} at {{company}}"}
	require.NoError(t, e.templates.Create(context.Background(), e.template))
	return e
}

func (e *env) seedCustomers(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, e.customers.Create(context.Background(), &model.Customer{
			Email:     fmt.Sprintf("user%03d@example.com", i),
			FirstName: fmt.Sprintf("U%d", i),
			LastName:  "Tester",
			Company:   "Acme",
		}))
	}
}

func (e *env) create(t *testing.T, mutate func(in *service.CampaignInput)) *model.Campaign {
	t.Helper()
	in := service.CampaignInput{Name: "spring", TemplateID: e.template.ID, SegmentKind: model.SegmentAll}
	if mutate != nil {
		mutate(&in)
	}
	res, err := e.svc.CreateCampaign(context.Background(), in)
	require.NoError(t, err)
	return res.Campaign
}

func (e *env) reload(t *testing.T, id string) *model.Campaign {
	t.Helper()
	c, err := e.campaigns.GetByID(context.Background(), id)
	require.NoError(t, err)
	return c
}

func (e *env) rows(t *testing.T, campaignID string) []*model.QueuedEmail {
	t.Helper()
	rows, err := e.emails.ListAll(context.Background(), campaignID)
	require.NoError(t, err)
	return rows
}

func intPtr(v int) *int { return &v }
