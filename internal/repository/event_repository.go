package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/unclebandit/outreach-backend/internal/model"
)

// EventRepositoryInterface is the append-only outreach event log.
type EventRepositoryInterface interface {
	// Append stores e. It reports false when the transport event id was already recorded.
	Append(ctx context.Context, e *model.OutreachEvent) (bool, error)
	ListByCampaign(ctx context.Context, campaignID string, limit, offset int) ([]*model.OutreachEvent, int, error)
}

type EventRepository struct {
	DB *sqlx.DB
}

const eventColumns = `id, queued_email_id, campaign_id, event_type, metadata, transport_event_id, created_at`

func (r *EventRepository) Append(ctx context.Context, e *model.OutreachEvent) (bool, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = utcNow()
	}
	if len(e.Metadata) == 0 {
		e.Metadata = []byte("{}")
	}
	q := querier(ctx, r.DB)
	res, err := sqlx.NamedExecContext(ctx, q, `
INSERT INTO outreach_events (`+eventColumns+`)
VALUES (:id, :queued_email_id, :campaign_id, :event_type, :metadata, :transport_event_id, :created_at)
ON CONFLICT (transport_event_id) DO NOTHING`, e)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *EventRepository) ListByCampaign(ctx context.Context, campaignID string, limit, offset int) ([]*model.OutreachEvent, int, error) {
	q := querier(ctx, r.DB)
	var total int
	if err := q.GetContext(ctx, &total, q.Rebind(`SELECT COUNT(*) FROM outreach_events WHERE campaign_id = ?`), campaignID); err != nil {
		return nil, 0, err
	}
	events := []*model.OutreachEvent{}
	err := q.SelectContext(ctx, &events, q.Rebind(`SELECT `+eventColumns+` FROM outreach_events
WHERE campaign_id = ? ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`), campaignID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return events, total, nil
}

var _ EventRepositoryInterface = (*EventRepository)(nil)
