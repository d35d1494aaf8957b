// internal/service/webhook_service.go
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/outreach-backend/internal/errors"
	"github.com/unclebandit/outreach-backend/internal/metrics"
	"github.com/unclebandit/outreach-backend/internal/model"
	"github.com/unclebandit/outreach-backend/internal/repository"
)

// WebhookEvent is one delivery notification from the transport.
type WebhookEvent struct {
	Event     string          `json:"event"`
	Type      string          `json:"type"`
	MessageID string          `json:"message_id"`
	EmailID   string          `json:"email_id"`
	EventID   string          `json:"event_id"`
	ID        string          `json:"id"`
	Reason    string          `json:"reason"`
	Timestamp json.RawMessage `json:"timestamp"`

	raw json.RawMessage
}

func (e WebhookEvent) name() string {
	if e.Event != "" {
		return e.Event
	}
	return e.Type
}

func (e WebhookEvent) transportEventID() *string {
	id := e.EventID
	if id == "" {
		id = e.ID
	}
	if id == "" {
		return nil
	}
	return &id
}

// occurredAt reads a unix seconds or RFC 3339 timestamp, falling back to fallback.
func (e WebhookEvent) occurredAt(fallback time.Time) time.Time {
	raw := strings.Trim(string(bytes.TrimSpace(e.Timestamp)), `"`)
	if raw == "" || raw == "null" {
		return fallback
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC()
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC()
	}
	return fallback
}

// ParseWebhookPayload accepts a single event object or an array of them.
func ParseWebhookPayload(body []byte) ([]WebhookEvent, error) {
	body = bytes.TrimSpace(body)
	var raws []json.RawMessage
	if len(body) > 0 && body[0] == '[' {
		if err := json.Unmarshal(body, &raws); err != nil {
			return nil, err
		}
	} else {
		raws = []json.RawMessage{body}
	}

	events := make([]WebhookEvent, 0, len(raws))
	for _, raw := range raws {
		var ev WebhookEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, err
		}
		ev.raw = raw
		events = append(events, ev)
	}
	return events, nil
}

// Webhook outcomes.
const (
	OutcomeApplied   = "applied"
	OutcomeUnchanged = "unchanged"
	OutcomeDuplicate = "duplicate"
	OutcomeUnknown   = "unknown_type"
	OutcomeUnmatched = "unmatched"
	OutcomeError     = "error"
)

// IngestResult counts what happened to the events of one payload.
type IngestResult struct {
	Received int            `json:"received"`
	Outcomes map[string]int `json:"outcomes"`
}

// WebhookService maps transport events onto queue rows and campaign aggregates.
type WebhookService struct {
	Tx           repository.Provider
	CampaignRepo repository.CampaignRepositoryInterface
	EmailRepo    repository.QueuedEmailRepositoryInterface
	EventRepo    repository.EventRepositoryInterface
	Metrics      *metrics.Metrics
	Logger       zerolog.Logger
	Now          func() time.Time
}

func (s *WebhookService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Ingest never fails: malformed payloads and processing errors are logged and
// counted so the transport always gets an acknowledgement.
func (s *WebhookService) Ingest(ctx context.Context, body []byte) IngestResult {
	result := IngestResult{Outcomes: map[string]int{}}
	events, err := ParseWebhookPayload(body)
	if err != nil {
		s.Logger.Warn().Err(err).Int("bytes", len(body)).Msg("malformed webhook payload")
		result.Outcomes[OutcomeError]++
		return result
	}

	result.Received = len(events)
	for _, ev := range events {
		outcome, err := s.apply(ctx, ev)
		if err != nil {
			s.Logger.Error().Err(err).
				Str("event", ev.name()).
				Str("message_id", ev.MessageID).
				Str("email_id", ev.EmailID).
				Msg("webhook event processing failed")
			outcome = OutcomeError
		}
		result.Outcomes[outcome]++
		s.Metrics.WebhookEvent(ev.name(), outcome)
	}
	return result
}

func (s *WebhookService) apply(ctx context.Context, ev WebhookEvent) (string, error) {
	eventType, ok := model.ParseEventType(ev.name())
	if !ok {
		s.Logger.Debug().Str("event", ev.name()).Msg("ignoring unknown webhook event")
		return OutcomeUnknown, nil
	}

	row, err := s.match(ctx, ev)
	if err != nil {
		return "", err
	}
	if row == nil {
		s.Logger.Debug().Str("message_id", ev.MessageID).Str("email_id", ev.EmailID).Msg("webhook for unknown message")
		return OutcomeUnmatched, nil
	}

	at := ev.occurredAt(s.now())
	metadata := ev.raw
	if len(metadata) == 0 {
		metadata = json.RawMessage("{}")
	}

	var duplicate bool
	updater := rowUpdater{Tx: s.Tx, EmailRepo: s.EmailRepo, CampaignRepo: s.CampaignRepo}
	_, eff, err := updater.update(ctx, row.ID, func(ctx context.Context, q *model.QueuedEmail) (model.Effects, error) {
		inserted, err := s.EventRepo.Append(ctx, &model.OutreachEvent{
			QueuedEmailID:    q.ID,
			CampaignID:       q.CampaignID,
			EventType:        eventType,
			Metadata:         []byte(metadata),
			TransportEventID: ev.transportEventID(),
			CreatedAt:        at,
		})
		if err != nil {
			return model.Effects{}, err
		}
		duplicate = !inserted
		if duplicate {
			return model.Effects{}, nil
		}
		return model.ApplyEvent(q, eventType, at, ev.Reason), nil
	})
	switch {
	case err != nil:
		return "", err
	case duplicate:
		return OutcomeDuplicate, nil
	case eff.Changed:
		return OutcomeApplied, nil
	}
	return OutcomeUnchanged, nil
}

// match finds the row by transport message id, then by our own email id.
func (s *WebhookService) match(ctx context.Context, ev WebhookEvent) (*model.QueuedEmail, error) {
	if id := strings.Trim(strings.TrimSpace(ev.MessageID), "<>"); id != "" {
		row, err := s.EmailRepo.FindByMessageID(ctx, id)
		if err != nil || row != nil {
			return row, err
		}
	}
	if ev.EmailID == "" {
		return nil, nil
	}
	row, err := s.EmailRepo.GetByID(ctx, ev.EmailID)
	if appErrors.IsNotFound(err) {
		return nil, nil
	}
	return row, err
}
