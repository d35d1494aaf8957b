package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	appErrors "github.com/unclebandit/outreach-backend/internal/errors"
	"github.com/unclebandit/outreach-backend/internal/model"
)

type CampaignRepositoryInterface interface {
	Create(ctx context.Context, c *model.Campaign) error
	GetByID(ctx context.Context, id string) (*model.Campaign, error)
	List(ctx context.Context, f model.CampaignListFilter) ([]*model.Campaign, int, error)
	Update(ctx context.Context, c *model.Campaign) error
	Delete(ctx context.Context, id string) (bool, error)

	// Transition moves the campaign to `to` only if its status is one of from.
	Transition(ctx context.Context, id string, from []model.CampaignStatus, to model.CampaignStatus, at time.Time) (bool, error)
	MarkMaterialized(ctx context.Context, id string) (bool, error)
	ResetMaterialized(ctx context.Context, id string) error
	SetRecipientCounts(ctx context.Context, id string, total, resolved int) error
	IncrementCounters(ctx context.Context, id string, counters []model.Counter) error
	TouchBatch(ctx context.Context, id string, at time.Time) error

	ListDue(ctx context.Context, now time.Time) ([]*model.Campaign, error)
	ListStalled(ctx context.Context, before time.Time) ([]*model.Campaign, error)
	ListResendCandidates(ctx context.Context) ([]*model.Campaign, error)
	LinkResend(ctx context.Context, parentID, childID string) (bool, error)
}

type CampaignRepository struct {
	DB *sqlx.DB
}

const campaignColumns = `id, name, template_id, segment_kind, segment_filter,
	from_name, from_email, reply_to, send_rate, send_delay_ms, is_dry_run,
	status, scheduled_at, started_at, paused_at, completed_at, cancelled_at, last_batch_at,
	total_recipients, resolved_recipients, recipients_materialized,
	sent_count, delivered_count, opened_count, clicked_count, replied_count, bounced_count,
	auto_resend_enabled, auto_resend_delay_hours, auto_resend_subject,
	resend_campaign_id, parent_campaign_id, subject_override, signature_id,
	created_at, updated_at`

// ====================== Campaign CRUD ======================

func (r *CampaignRepository) Create(ctx context.Context, c *model.Campaign) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := utcNow()
	c.CreatedAt = now
	c.UpdatedAt = now
	if c.Status == "" {
		c.Status = model.CampaignDraft
	}
	if len(c.SegmentFilter) == 0 {
		c.SegmentFilter = []byte("{}")
	}

	query := `
INSERT INTO campaigns (` + campaignColumns + `) VALUES (
	:id, :name, :template_id, :segment_kind, :segment_filter,
	:from_name, :from_email, :reply_to, :send_rate, :send_delay_ms, :is_dry_run,
	:status, :scheduled_at, :started_at, :paused_at, :completed_at, :cancelled_at, :last_batch_at,
	:total_recipients, :resolved_recipients, :recipients_materialized,
	:sent_count, :delivered_count, :opened_count, :clicked_count, :replied_count, :bounced_count,
	:auto_resend_enabled, :auto_resend_delay_hours, :auto_resend_subject,
	:resend_campaign_id, :parent_campaign_id, :subject_override, :signature_id,
	:created_at, :updated_at)`
	_, err := sqlx.NamedExecContext(ctx, querier(ctx, r.DB), query, c)
	return err
}

func (r *CampaignRepository) GetByID(ctx context.Context, id string) (*model.Campaign, error) {
	q := querier(ctx, r.DB)
	var c model.Campaign
	err := q.GetContext(ctx, &c, q.Rebind(`SELECT `+campaignColumns+` FROM campaigns WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *CampaignRepository) List(ctx context.Context, f model.CampaignListFilter) ([]*model.Campaign, int, error) {
	q := querier(ctx, r.DB)
	where := ` WHERE 1=1`
	args := []interface{}{}
	if f.Status != "" {
		where += ` AND status = ?`
		args = append(args, f.Status)
	}

	var total int
	if err := q.GetContext(ctx, &total, q.Rebind(`SELECT COUNT(*) FROM campaigns`+where), args...); err != nil {
		return nil, 0, err
	}

	campaigns := []*model.Campaign{}
	query := `SELECT ` + campaignColumns + ` FROM campaigns` + where + ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, f.Limit, f.Offset)
	if err := q.SelectContext(ctx, &campaigns, q.Rebind(query), args...); err != nil {
		return nil, 0, err
	}
	return campaigns, total, nil
}

// Update replaces the editable fields. Rows outside draft/scheduled are left untouched.
func (r *CampaignRepository) Update(ctx context.Context, c *model.Campaign) error {
	c.UpdatedAt = utcNow()
	query := `
UPDATE campaigns SET
	name = :name, template_id = :template_id, segment_kind = :segment_kind, segment_filter = :segment_filter,
	from_name = :from_name, from_email = :from_email, reply_to = :reply_to,
	send_rate = :send_rate, send_delay_ms = :send_delay_ms, is_dry_run = :is_dry_run,
	scheduled_at = :scheduled_at, status = :status,
	auto_resend_enabled = :auto_resend_enabled, auto_resend_delay_hours = :auto_resend_delay_hours,
	auto_resend_subject = :auto_resend_subject, subject_override = :subject_override,
	signature_id = :signature_id, updated_at = :updated_at
WHERE id = :id AND status IN ('draft', 'scheduled')`
	res, err := sqlx.NamedExecContext(ctx, querier(ctx, r.DB), query, c)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return appErrors.NewConflict("campaign %s can no longer be edited", c.ID)
	}
	return nil
}

// Delete removes the campaign with its queue rows and events unless it is sending.
func (r *CampaignRepository) Delete(ctx context.Context, id string) (bool, error) {
	q := querier(ctx, r.DB)
	res, err := q.ExecContext(ctx, q.Rebind(`DELETE FROM campaigns WHERE id = ? AND status <> 'sending'`), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil || n == 0 {
		return false, err
	}
	if _, err := q.ExecContext(ctx, q.Rebind(`DELETE FROM outreach_events WHERE campaign_id = ?`), id); err != nil {
		return false, err
	}
	if _, err := q.ExecContext(ctx, q.Rebind(`DELETE FROM queued_emails WHERE campaign_id = ?`), id); err != nil {
		return false, err
	}
	return true, nil
}

// ====================== Lifecycle ======================

var transitionTimestamp = map[model.CampaignStatus]string{
	model.CampaignScheduled: "scheduled_at = COALESCE(scheduled_at, ?)",
	model.CampaignSending:   "started_at = COALESCE(started_at, ?)",
	model.CampaignPaused:    "paused_at = ?",
	model.CampaignCompleted: "completed_at = ?",
	model.CampaignCancelled: "cancelled_at = ?",
}

func (r *CampaignRepository) Transition(ctx context.Context, id string, from []model.CampaignStatus, to model.CampaignStatus, at time.Time) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}
	set := []string{"status = ?", "updated_at = ?"}
	args := []interface{}{to, at}
	if col, ok := transitionTimestamp[to]; ok {
		set = append(set, col)
		args = append(args, at)
	}

	query, inArgs, err := sqlx.In(`UPDATE campaigns SET `+strings.Join(set, ", ")+` WHERE id = ? AND status IN (?)`, append(args, id, from)...)
	if err != nil {
		return false, err
	}
	q := querier(ctx, r.DB)
	res, err := q.ExecContext(ctx, q.Rebind(query), inArgs...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// MarkMaterialized flips recipients_materialized false -> true. Only one caller wins.
func (r *CampaignRepository) MarkMaterialized(ctx context.Context, id string) (bool, error) {
	q := querier(ctx, r.DB)
	res, err := q.ExecContext(ctx, q.Rebind(`
UPDATE campaigns SET recipients_materialized = ?, updated_at = ?
WHERE id = ? AND recipients_materialized = ?`), true, utcNow(), id, false)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *CampaignRepository) ResetMaterialized(ctx context.Context, id string) error {
	q := querier(ctx, r.DB)
	_, err := q.ExecContext(ctx, q.Rebind(`
UPDATE campaigns SET recipients_materialized = ?, total_recipients = 0, resolved_recipients = 0, updated_at = ?
WHERE id = ?`), false, utcNow(), id)
	return err
}

func (r *CampaignRepository) SetRecipientCounts(ctx context.Context, id string, total, resolved int) error {
	q := querier(ctx, r.DB)
	_, err := q.ExecContext(ctx, q.Rebind(`
UPDATE campaigns SET total_recipients = ?, resolved_recipients = ?, updated_at = ? WHERE id = ?`),
		total, resolved, utcNow(), id)
	return err
}

// IncrementCounters bumps each named aggregate by one. sent_count never passes total_recipients.
func (r *CampaignRepository) IncrementCounters(ctx context.Context, id string, counters []model.Counter) error {
	if len(counters) == 0 {
		return nil
	}
	set := make([]string, 0, len(counters))
	for _, c := range counters {
		switch c {
		case model.CounterSent:
			set = append(set, "sent_count = CASE WHEN sent_count < total_recipients THEN sent_count + 1 ELSE sent_count END")
		case model.CounterDelivered, model.CounterOpened, model.CounterClicked, model.CounterReplied, model.CounterBounced:
			set = append(set, fmt.Sprintf("%s = %s + 1", c, c))
		default:
			return fmt.Errorf("unknown counter %q", c)
		}
	}
	q := querier(ctx, r.DB)
	_, err := q.ExecContext(ctx, q.Rebind(`UPDATE campaigns SET `+strings.Join(set, ", ")+` WHERE id = ?`), id)
	return err
}

func (r *CampaignRepository) TouchBatch(ctx context.Context, id string, at time.Time) error {
	q := querier(ctx, r.DB)
	_, err := q.ExecContext(ctx, q.Rebind(`UPDATE campaigns SET last_batch_at = ? WHERE id = ?`), at, id)
	return err
}

// ====================== Scheduler queries ======================

func (r *CampaignRepository) ListDue(ctx context.Context, now time.Time) ([]*model.Campaign, error) {
	q := querier(ctx, r.DB)
	campaigns := []*model.Campaign{}
	err := q.SelectContext(ctx, &campaigns, q.Rebind(`SELECT `+campaignColumns+` FROM campaigns
WHERE status = 'scheduled' AND scheduled_at IS NOT NULL AND scheduled_at <= ?
ORDER BY scheduled_at, id`), now)
	return campaigns, err
}

// ListStalled returns live sending campaigns whose last batch finished before the cutoff.
func (r *CampaignRepository) ListStalled(ctx context.Context, before time.Time) ([]*model.Campaign, error) {
	q := querier(ctx, r.DB)
	campaigns := []*model.Campaign{}
	err := q.SelectContext(ctx, &campaigns, q.Rebind(`SELECT `+campaignColumns+` FROM campaigns
WHERE status = 'sending' AND COALESCE(last_batch_at, started_at) < ?
ORDER BY id`), before)
	return campaigns, err
}

func (r *CampaignRepository) ListResendCandidates(ctx context.Context) ([]*model.Campaign, error) {
	q := querier(ctx, r.DB)
	campaigns := []*model.Campaign{}
	err := q.SelectContext(ctx, &campaigns, q.Rebind(`SELECT `+campaignColumns+` FROM campaigns
WHERE status = 'completed' AND auto_resend_enabled = ? AND resend_campaign_id IS NULL AND parent_campaign_id IS NULL
ORDER BY completed_at, id`), true)
	return campaigns, err
}

// LinkResend records the resend child once.
func (r *CampaignRepository) LinkResend(ctx context.Context, parentID, childID string) (bool, error) {
	q := querier(ctx, r.DB)
	res, err := q.ExecContext(ctx, q.Rebind(`
UPDATE campaigns SET resend_campaign_id = ?, updated_at = ? WHERE id = ? AND resend_campaign_id IS NULL`),
		childID, utcNow(), parentID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
