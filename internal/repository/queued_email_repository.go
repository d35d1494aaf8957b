package repository

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/outreach-backend/internal/errors"
	"github.com/unclebandit/outreach-backend/internal/model"
)

// EnqueueChunkSize is the number of rows per multi-row insert.
const EnqueueChunkSize = 100

// EnqueueResult reports a best-effort bulk insert.
type EnqueueResult struct {
	Inserted     int
	FailedChunks int
	LastError    error
}

// QueuedEmailRepositoryInterface is the Email Queue Store.
type QueuedEmailRepositoryInterface interface {
	Enqueue(ctx context.Context, campaignID string, recipients []model.Recipient) EnqueueResult
	Count(ctx context.Context, campaignID string) (int, error)
	CountPending(ctx context.Context, campaignID string) (int, error)
	CountByStatus(ctx context.Context, campaignID string) (map[model.EmailStatus]int, error)

	// ClaimBatch moves up to n pending rows to claimed in one statement, oldest first.
	// Nothing is claimed unless the campaign is sending.
	ClaimBatch(ctx context.Context, campaignID string, n int, at time.Time) ([]*model.QueuedEmail, error)
	ReleaseClaims(ctx context.Context, ids []string) error
	ExpireClaims(ctx context.Context, claimedBefore, at time.Time) (int64, error)
	RenewClaim(ctx context.Context, id string, at time.Time) (bool, error)

	GetByID(ctx context.Context, id string) (*model.QueuedEmail, error)
	FindByMessageID(ctx context.Context, messageID string) (*model.QueuedEmail, error)
	ListByCampaign(ctx context.Context, campaignID string, f model.QueuedEmailFilter) ([]*model.QueuedEmail, int, error)
	ListAll(ctx context.Context, campaignID string) ([]*model.QueuedEmail, error)
	ListByStatuses(ctx context.Context, campaignID string, statuses []model.EmailStatus) ([]*model.QueuedEmail, error)

	// Save writes q if nobody changed it since it was read. It reports false on a lost race.
	Save(ctx context.Context, q *model.QueuedEmail) (bool, error)
	DeleteByCampaign(ctx context.Context, campaignID string) error
}

type QueuedEmailRepository struct {
	DB     *sqlx.DB
	Logger zerolog.Logger
}

const queuedEmailColumns = `id, campaign_id, customer_id, email, name, company, personalization,
	message_id, status, position, version, open_count, click_count, error_message,
	queued_at, claimed_at, sent_at, delivered_at, first_opened_at, last_opened_at,
	first_clicked_at, replied_at, bounced_at, failed_at`

const enqueueColumnCount = 10

// Enqueue inserts one pending row per recipient. Duplicate emails within the campaign are skipped;
// a failing chunk is logged and the remaining chunks still run.
func (r *QueuedEmailRepository) Enqueue(ctx context.Context, campaignID string, recipients []model.Recipient) EnqueueResult {
	result := EnqueueResult{}
	q := querier(ctx, r.DB)
	now := utcNow()

	for start := 0; start < len(recipients); start += EnqueueChunkSize {
		end := start + EnqueueChunkSize
		if end > len(recipients) {
			end = len(recipients)
		}
		chunk := recipients[start:end]

		placeholders := make([]string, 0, len(chunk))
		args := make([]interface{}, 0, len(chunk)*enqueueColumnCount)
		for i, rc := range chunk {
			placeholders = append(placeholders, "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
			args = append(args,
				uuid.NewString(), campaignID, rc.CustomerID,
				strings.ToLower(strings.TrimSpace(rc.Email)), rc.Name, rc.Company, rc.Personalization,
				model.EmailPending, int64(start+i), now,
			)
		}
		query := `INSERT INTO queued_emails
	(id, campaign_id, customer_id, email, name, company, personalization, status, position, queued_at)
VALUES ` + strings.Join(placeholders, ", ") + `
ON CONFLICT (campaign_id, email) DO NOTHING`

		res, err := q.ExecContext(ctx, q.Rebind(query), args...)
		if err != nil {
			result.FailedChunks++
			result.LastError = err
			r.Logger.Error().Err(err).
				Str("campaign_id", campaignID).
				Int("chunk_start", start).
				Int("chunk_size", len(chunk)).
				Msg("enqueue chunk failed")
			continue
		}
		n, err := res.RowsAffected()
		if err != nil {
			result.LastError = err
			continue
		}
		result.Inserted += int(n)
	}
	return result
}

func (r *QueuedEmailRepository) Count(ctx context.Context, campaignID string) (int, error) {
	q := querier(ctx, r.DB)
	var n int
	err := q.GetContext(ctx, &n, q.Rebind(`SELECT COUNT(*) FROM queued_emails WHERE campaign_id = ?`), campaignID)
	return n, err
}

func (r *QueuedEmailRepository) CountPending(ctx context.Context, campaignID string) (int, error) {
	q := querier(ctx, r.DB)
	var n int
	err := q.GetContext(ctx, &n, q.Rebind(`SELECT COUNT(*) FROM queued_emails WHERE campaign_id = ? AND status = ?`),
		campaignID, model.EmailPending)
	return n, err
}

func (r *QueuedEmailRepository) CountByStatus(ctx context.Context, campaignID string) (map[model.EmailStatus]int, error) {
	q := querier(ctx, r.DB)
	var rows []struct {
		Status model.EmailStatus `db:"status"`
		N      int               `db:"n"`
	}
	err := q.SelectContext(ctx, &rows, q.Rebind(`SELECT status, COUNT(*) AS n FROM queued_emails WHERE campaign_id = ? GROUP BY status`), campaignID)
	if err != nil {
		return nil, err
	}
	stats := map[model.EmailStatus]int{
		model.EmailPending:   0,
		model.EmailClaimed:   0,
		model.EmailSent:      0,
		model.EmailDelivered: 0,
		model.EmailOpened:    0,
		model.EmailClicked:   0,
		model.EmailReplied:   0,
		model.EmailBounced:   0,
		model.EmailFailed:    0,
	}
	for _, row := range rows {
		stats[row.Status] = row.N
	}
	return stats, nil
}

func (r *QueuedEmailRepository) ClaimBatch(ctx context.Context, campaignID string, n int, at time.Time) ([]*model.QueuedEmail, error) {
	if n <= 0 {
		return nil, nil
	}
	q := querier(ctx, r.DB)
	lock := ""
	if isPostgres(q) {
		lock = " FOR UPDATE SKIP LOCKED"
	}
	query := `
UPDATE queued_emails SET status = ?, claimed_at = ?, version = version + 1
WHERE id IN (
	SELECT id FROM queued_emails
	WHERE campaign_id = ? AND status = ?
	ORDER BY position, id
	LIMIT ?` + lock + `
)
AND status = ?
AND EXISTS (SELECT 1 FROM campaigns WHERE campaigns.id = ? AND campaigns.status = ?)
RETURNING ` + queuedEmailColumns

	rows := []*model.QueuedEmail{}
	err := q.SelectContext(ctx, &rows, q.Rebind(query),
		model.EmailClaimed, at,
		campaignID, model.EmailPending, n,
		model.EmailPending,
		campaignID, model.CampaignSending,
	)
	if err != nil {
		return nil, err
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].Position < rows[j].Position
	})
	return rows, nil
}

// ReleaseClaims hands claimed rows that were never attempted back to the queue.
func (r *QueuedEmailRepository) ReleaseClaims(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`UPDATE queued_emails SET status = ?, claimed_at = NULL, version = version + 1
WHERE status = ? AND id IN (?)`, model.EmailPending, model.EmailClaimed, ids)
	if err != nil {
		return err
	}
	q := querier(ctx, r.DB)
	_, err = q.ExecContext(ctx, q.Rebind(query), args...)
	return err
}

// ExpireClaims fails rows whose claim is older than claimedBefore. The send outcome of such a
// row is unknown, so it is never handed out again.
// RenewClaim restarts the lease of a claimed row. It reports false when the row
// is no longer claimed, e.g. because ExpireClaims already failed it.
func (r *QueuedEmailRepository) RenewClaim(ctx context.Context, id string, at time.Time) (bool, error) {
	q := querier(ctx, r.DB)
	res, err := q.ExecContext(ctx, q.Rebind(`
UPDATE queued_emails SET claimed_at = ? WHERE id = ? AND status = ?`),
		at, id, model.EmailClaimed)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *QueuedEmailRepository) ExpireClaims(ctx context.Context, claimedBefore, at time.Time) (int64, error) {
	q := querier(ctx, r.DB)
	res, err := q.ExecContext(ctx, q.Rebind(`
UPDATE queued_emails SET status = ?, failed_at = ?, error_message = ?, version = version + 1
WHERE status = ? AND claimed_at < ?`),
		model.EmailFailed, at, "claim expired", model.EmailClaimed, claimedBefore)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *QueuedEmailRepository) GetByID(ctx context.Context, id string) (*model.QueuedEmail, error) {
	q := querier(ctx, r.DB)
	var e model.QueuedEmail
	err := q.GetContext(ctx, &e, q.Rebind(`SELECT `+queuedEmailColumns+` FROM queued_emails WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.NewNotFound("queued email", id)
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// FindByMessageID returns nil, nil when no row carries the transport message id.
func (r *QueuedEmailRepository) FindByMessageID(ctx context.Context, messageID string) (*model.QueuedEmail, error) {
	if messageID == "" {
		return nil, nil
	}
	q := querier(ctx, r.DB)
	var e model.QueuedEmail
	err := q.GetContext(ctx, &e, q.Rebind(`SELECT `+queuedEmailColumns+` FROM queued_emails WHERE message_id = ? LIMIT 1`), messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *QueuedEmailRepository) ListByCampaign(ctx context.Context, campaignID string, f model.QueuedEmailFilter) ([]*model.QueuedEmail, int, error) {
	q := querier(ctx, r.DB)
	where := ` WHERE campaign_id = ?`
	args := []interface{}{campaignID}
	if f.Status != "" {
		where += ` AND status = ?`
		args = append(args, f.Status)
	}

	var total int
	if err := q.GetContext(ctx, &total, q.Rebind(`SELECT COUNT(*) FROM queued_emails`+where), args...); err != nil {
		return nil, 0, err
	}

	rows := []*model.QueuedEmail{}
	args = append(args, f.Limit, f.Offset)
	err := q.SelectContext(ctx, &rows, q.Rebind(`SELECT `+queuedEmailColumns+` FROM queued_emails`+where+` ORDER BY position, id LIMIT ? OFFSET ?`), args...)
	if err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

func (r *QueuedEmailRepository) ListAll(ctx context.Context, campaignID string) ([]*model.QueuedEmail, error) {
	q := querier(ctx, r.DB)
	rows := []*model.QueuedEmail{}
	err := q.SelectContext(ctx, &rows, q.Rebind(`SELECT `+queuedEmailColumns+` FROM queued_emails WHERE campaign_id = ? ORDER BY position, id`), campaignID)
	return rows, err
}

func (r *QueuedEmailRepository) ListByStatuses(ctx context.Context, campaignID string, statuses []model.EmailStatus) ([]*model.QueuedEmail, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT `+queuedEmailColumns+` FROM queued_emails WHERE campaign_id = ? AND status IN (?) ORDER BY position, id`, campaignID, statuses)
	if err != nil {
		return nil, err
	}
	q := querier(ctx, r.DB)
	rows := []*model.QueuedEmail{}
	err = q.SelectContext(ctx, &rows, q.Rebind(query), args...)
	return rows, err
}

func (r *QueuedEmailRepository) Save(ctx context.Context, e *model.QueuedEmail) (bool, error) {
	q := querier(ctx, r.DB)
	res, err := q.ExecContext(ctx, q.Rebind(`
UPDATE queued_emails SET
	status = ?, message_id = ?, open_count = ?, click_count = ?, error_message = ?,
	sent_at = ?, delivered_at = ?, first_opened_at = ?, last_opened_at = ?,
	first_clicked_at = ?, replied_at = ?, bounced_at = ?, failed_at = ?,
	version = version + 1
WHERE id = ? AND version = ?`),
		e.Status, e.MessageID, e.OpenCount, e.ClickCount, e.ErrorMessage,
		e.SentAt, e.DeliveredAt, e.FirstOpenedAt, e.LastOpenedAt,
		e.FirstClickedAt, e.RepliedAt, e.BouncedAt, e.FailedAt,
		e.ID, e.Version,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	e.Version++
	return true, nil
}

func (r *QueuedEmailRepository) DeleteByCampaign(ctx context.Context, campaignID string) error {
	q := querier(ctx, r.DB)
	if _, err := q.ExecContext(ctx, q.Rebind(`DELETE FROM outreach_events WHERE campaign_id = ?`), campaignID); err != nil {
		return err
	}
	_, err := q.ExecContext(ctx, q.Rebind(`DELETE FROM queued_emails WHERE campaign_id = ?`), campaignID)
	return err
}

var _ QueuedEmailRepositoryInterface = (*QueuedEmailRepository)(nil)
