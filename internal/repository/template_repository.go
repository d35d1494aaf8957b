package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	appErrors "github.com/unclebandit/outreach-backend/internal/errors"
	"github.com/unclebandit/outreach-backend/internal/model"
)

type TemplateRepositoryInterface interface {
	Create(ctx context.Context, t *model.EmailTemplate) error
	GetByID(ctx context.Context, id string) (*model.EmailTemplate, error)
	CreateSignature(ctx context.Context, s *model.Signature) error
	GetSignature(ctx context.Context, id string) (*model.Signature, error)
}

type TemplateRepository struct {
	DB *sqlx.DB
}

func (r *TemplateRepository) Create(ctx context.Context, t *model.EmailTemplate) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := utcNow()
	t.CreatedAt, t.UpdatedAt = now, now
	_, err := sqlx.NamedExecContext(ctx, querier(ctx, r.DB), `
INSERT INTO email_templates (id, name, subject, body, created_at, updated_at)
VALUES (:id, :name, :subject, :body, :created_at, :updated_at)`, t)
	return err
}

func (r *TemplateRepository) GetByID(ctx context.Context, id string) (*model.EmailTemplate, error) {
	q := querier(ctx, r.DB)
	var t model.EmailTemplate
	err := q.GetContext(ctx, &t, q.Rebind(`SELECT id, name, subject, body, created_at, updated_at FROM email_templates WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.NewTemplateNotFound(id)
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *TemplateRepository) CreateSignature(ctx context.Context, s *model.Signature) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	s.CreatedAt = utcNow()
	_, err := sqlx.NamedExecContext(ctx, querier(ctx, r.DB), `
INSERT INTO signatures (id, name, body, created_at) VALUES (:id, :name, :body, :created_at)`, s)
	return err
}

func (r *TemplateRepository) GetSignature(ctx context.Context, id string) (*model.Signature, error) {
	q := querier(ctx, r.DB)
	var s model.Signature
	err := q.GetContext(ctx, &s, q.Rebind(`SELECT id, name, body, created_at FROM signatures WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.NewNotFound("signature", id)
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

var _ TemplateRepositoryInterface = (*TemplateRepository)(nil)
