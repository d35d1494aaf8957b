package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/unclebandit/outreach-backend/internal/model"
)

const settingsRowID = 1

type SettingsRepositoryInterface interface {
	// Get returns nil, nil when no settings row exists.
	Get(ctx context.Context) (*model.OutreachSettings, error)
	Save(ctx context.Context, s *model.OutreachSettings) error
}

type SettingsRepository struct {
	DB *sqlx.DB
}

func (r *SettingsRepository) Get(ctx context.Context) (*model.OutreachSettings, error) {
	q := querier(ctx, r.DB)
	var s model.OutreachSettings
	err := q.GetContext(ctx, &s, q.Rebind(`
SELECT id, sender_name, sender_email, reply_to, send_rate, default_signature_id, updated_at
FROM outreach_settings WHERE id = ?`), settingsRowID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *SettingsRepository) Save(ctx context.Context, s *model.OutreachSettings) error {
	s.ID = settingsRowID
	s.UpdatedAt = utcNow()
	_, err := sqlx.NamedExecContext(ctx, querier(ctx, r.DB), `
INSERT INTO outreach_settings (id, sender_name, sender_email, reply_to, send_rate, default_signature_id, updated_at)
VALUES (:id, :sender_name, :sender_email, :reply_to, :send_rate, :default_signature_id, :updated_at)
ON CONFLICT (id) DO UPDATE SET
	sender_name = excluded.sender_name,
	sender_email = excluded.sender_email,
	reply_to = excluded.reply_to,
	send_rate = excluded.send_rate,
	default_signature_id = excluded.default_signature_id,
	updated_at = excluded.updated_at`, s)
	return err
}

var _ SettingsRepositoryInterface = (*SettingsRepository)(nil)
