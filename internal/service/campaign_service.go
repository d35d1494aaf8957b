// internal/service/campaign_service.go
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/unclebandit/outreach-backend/internal/config"
	appErrors "github.com/unclebandit/outreach-backend/internal/errors"
	"github.com/unclebandit/outreach-backend/internal/metrics"
	"github.com/unclebandit/outreach-backend/internal/model"
	"github.com/unclebandit/outreach-backend/internal/queue"
	"github.com/unclebandit/outreach-backend/internal/repository"
	"github.com/unclebandit/outreach-backend/internal/segment"
)

// DefaultAutoResendDelayHours applies when auto-resend is enabled without a delay.
const DefaultAutoResendDelayHours = 72

type CampaignService struct {
	Tx           repository.Provider
	CampaignRepo repository.CampaignRepositoryInterface
	EmailRepo    repository.QueuedEmailRepositoryInterface
	EventRepo    repository.EventRepositoryInterface
	TemplateRepo repository.TemplateRepositoryInterface
	SettingsRepo repository.SettingsRepositoryInterface
	Resolver     segment.Resolver
	Processor    *BatchProcessor
	Renderer     Renderer

	// Queue is optional. Without it live campaigns are driven by process calls.
	Queue      queue.Queue
	BatchQueue string

	Defaults  config.OutreachConfig
	Scheduler config.SchedulerConfig
	Metrics   *metrics.Metrics
	Logger    zerolog.Logger
	Now       func() time.Time
}

func (s *CampaignService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// CampaignInput carries the operator-editable fields of a campaign.
type CampaignInput struct {
	Name                 string          `json:"name"`
	TemplateID           string          `json:"template_id"`
	SegmentKind          string          `json:"segment_kind"`
	SegmentFilter        json.RawMessage `json:"segment_filter,omitempty"`
	FromName             string          `json:"from_name,omitempty"`
	FromEmail            string          `json:"from_email,omitempty"`
	ReplyTo              string          `json:"reply_to,omitempty"`
	SendRate             *int            `json:"send_rate,omitempty"`
	ScheduledAt          *time.Time      `json:"scheduled_at,omitempty"`
	StartImmediately     bool            `json:"start_immediately,omitempty"`
	IsDryRun             bool            `json:"is_dry_run,omitempty"`
	AutoResendEnabled    bool            `json:"auto_resend_enabled,omitempty"`
	AutoResendDelayHours int             `json:"auto_resend_delay_hours,omitempty"`
	AutoResendSubject    string          `json:"auto_resend_subject,omitempty"`
	SubjectOverride      string          `json:"subject_override,omitempty"`
	SignatureID          *string         `json:"signature_id,omitempty"`
}

func (in *CampaignInput) validate() error {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return appErrors.NewValidation("name", "is required")
	}
	if strings.TrimSpace(in.TemplateID) == "" {
		return appErrors.NewValidation("template_id", "is required")
	}
	if in.SegmentKind == "" {
		in.SegmentKind = model.SegmentAll
	}
	if !model.ValidSegmentKind(in.SegmentKind) {
		return appErrors.NewValidation("segment_kind", fmt.Sprintf("unknown segment %q", in.SegmentKind))
	}
	if _, err := segment.ParseFilter(in.SegmentFilter); err != nil {
		return err
	}
	if in.SendRate != nil && *in.SendRate <= 0 {
		return appErrors.NewValidation("send_rate", "must be positive")
	}
	if in.AutoResendDelayHours < 0 {
		return appErrors.NewValidation("auto_resend_delay_hours", "must not be negative")
	}
	if in.AutoResendEnabled && in.AutoResendDelayHours == 0 {
		in.AutoResendDelayHours = DefaultAutoResendDelayHours
	}
	return nil
}

// CreateResult is the created campaign with its resolved audience size.
type CreateResult struct {
	Campaign           *model.Campaign `json:"campaign"`
	ResolvedRecipients int             `json:"resolved_recipients"`
	Start              *StartResult    `json:"start,omitempty"`
}

// StartResult reports what a start or resume did.
type StartResult struct {
	Campaign *model.Campaign `json:"campaign"`
	Batch    *BatchResult    `json:"batch"`
	Queued   bool            `json:"queued"`
}

// CreateCampaign validates the input, resolves the segment once to make sure it
// is not empty and stores the campaign with defaults copied from settings.
func (s *CampaignService) CreateCampaign(ctx context.Context, in CampaignInput) (*CreateResult, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	if err := s.checkTemplate(ctx, in.TemplateID); err != nil {
		return nil, err
	}
	if err := s.checkSignature(ctx, in.SignatureID); err != nil {
		return nil, err
	}
	resolved, err := s.resolveCount(ctx, in.SegmentKind, in.SegmentFilter)
	if err != nil {
		return nil, err
	}

	c := &model.Campaign{}
	if err := s.applyInput(ctx, c, in); err != nil {
		return nil, err
	}
	c.Status = model.CampaignDraft
	if in.StartImmediately || in.ScheduledAt != nil {
		c.Status = model.CampaignScheduled
		if c.ScheduledAt == nil {
			now := s.now()
			c.ScheduledAt = &now
		}
	}
	c.TotalRecipients = resolved
	c.ResolvedRecipients = resolved

	if err := s.CampaignRepo.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("create campaign: %w", err)
	}
	s.Logger.Info().
		Str("campaign_id", c.ID).
		Str("segment", c.SegmentKind).
		Int("recipients", resolved).
		Bool("dry_run", c.IsDryRun).
		Msg("campaign created")

	result := &CreateResult{Campaign: c, ResolvedRecipients: resolved}
	if in.StartImmediately {
		start, err := s.Start(ctx, c.ID)
		if err != nil {
			return result, err
		}
		result.Campaign = start.Campaign
		result.Start = start
	}
	return result, nil
}

// applyInput copies the editable fields, falling back to settings then config.
func (s *CampaignService) applyInput(ctx context.Context, c *model.Campaign, in CampaignInput) error {
	settings, err := s.SettingsRepo.Get(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	fromName, fromEmail, replyTo, rate := s.Defaults.SenderName, s.Defaults.SenderEmail, s.Defaults.ReplyTo, s.Defaults.SendRate
	var signatureID *string
	if settings != nil {
		fromName = firstNonEmpty(settings.SenderName, fromName)
		fromEmail = firstNonEmpty(settings.SenderEmail, fromEmail)
		replyTo = firstNonEmpty(settings.ReplyTo, replyTo)
		if settings.SendRate > 0 {
			rate = settings.SendRate
		}
		signatureID = settings.DefaultSignatureID
	}
	if in.SendRate != nil {
		rate = *in.SendRate
	}
	if rate <= 0 {
		return appErrors.NewValidation("send_rate", "no positive send rate configured")
	}
	if in.SignatureID != nil {
		signatureID = in.SignatureID
	}

	filter := in.SegmentFilter
	if len(filter) == 0 {
		filter = json.RawMessage("{}")
	}

	c.Name = in.Name
	c.TemplateID = in.TemplateID
	c.SegmentKind = in.SegmentKind
	c.SegmentFilter = []byte(filter)
	c.FromName = firstNonEmpty(in.FromName, fromName)
	c.FromEmail = firstNonEmpty(in.FromEmail, fromEmail)
	c.ReplyTo = firstNonEmpty(in.ReplyTo, replyTo)
	c.SendRate = rate
	c.SendDelayMS = model.SendDelayMS(rate)
	c.IsDryRun = in.IsDryRun
	c.ScheduledAt = in.ScheduledAt
	c.AutoResendEnabled = in.AutoResendEnabled
	c.AutoResendDelayHours = in.AutoResendDelayHours
	c.AutoResendSubject = in.AutoResendSubject
	c.SubjectOverride = in.SubjectOverride
	c.SignatureID = signatureID
	if c.FromEmail == "" {
		return appErrors.NewValidation("from_email", "no sender address configured")
	}
	return nil
}

func (s *CampaignService) checkTemplate(ctx context.Context, id string) error {
	_, err := s.TemplateRepo.GetByID(ctx, id)
	if appErrors.IsNotFound(err) {
		return appErrors.NewValidation("template_id", fmt.Sprintf("template %s does not exist", id))
	}
	return err
}

func (s *CampaignService) checkSignature(ctx context.Context, id *string) error {
	if id == nil || *id == "" {
		return nil
	}
	_, err := s.TemplateRepo.GetSignature(ctx, *id)
	if appErrors.IsNotFound(err) {
		return appErrors.NewValidation("signature_id", fmt.Sprintf("signature %s does not exist", *id))
	}
	return err
}

func (s *CampaignService) resolveCount(ctx context.Context, kind string, filter []byte) (int, error) {
	recipients, err := s.Resolver.Resolve(ctx, kind, filter)
	if err != nil {
		return 0, err
	}
	if len(recipients) == 0 {
		return 0, appErrors.NewValidation("segment", "segment resolved to no recipients")
	}
	return len(recipients), nil
}

// EnsureQueued materializes the recipient list once. Only the caller that
// flips recipients_materialized resolves and inserts; everyone else reuses
// the rows. It returns the number of queued rows.
func (s *CampaignService) EnsureQueued(ctx context.Context, c *model.Campaign) (int, error) {
	log := s.Logger.With().Str("campaign_id", c.ID).Logger()
	for attempt := 0; attempt < 2; attempt++ {
		won, err := s.CampaignRepo.MarkMaterialized(ctx, c.ID)
		if err != nil {
			return 0, fmt.Errorf("mark materialized: %w", err)
		}
		if !won {
			n, err := s.EmailRepo.Count(ctx, c.ID)
			if err != nil {
				return 0, fmt.Errorf("count queue: %w", err)
			}
			if n > 0 {
				return n, nil
			}
			// A previous winner died before inserting. The unique key makes a second insert safe.
			if err := s.CampaignRepo.ResetMaterialized(ctx, c.ID); err != nil {
				return 0, err
			}
			continue
		}

		recipients, err := s.Resolver.Resolve(ctx, c.SegmentKind, c.SegmentFilter)
		if err != nil {
			s.resetMaterialized(ctx, c.ID, log)
			return 0, err
		}

		res := s.EmailRepo.Enqueue(ctx, c.ID, recipients)
		s.Metrics.EnqueueChunksFailed(res.FailedChunks)

		total, err := s.EmailRepo.Count(ctx, c.ID)
		if err != nil {
			return 0, fmt.Errorf("count queue: %w", err)
		}
		if total == 0 {
			s.resetMaterialized(ctx, c.ID, log)
			if res.LastError != nil {
				return 0, fmt.Errorf("enqueue recipients: %w", res.LastError)
			}
			return 0, nil
		}
		if err := s.CampaignRepo.SetRecipientCounts(ctx, c.ID, total, len(recipients)); err != nil {
			return 0, fmt.Errorf("set recipient counts: %w", err)
		}
		c.RecipientsMaterialized = true
		c.TotalRecipients = total
		c.ResolvedRecipients = len(recipients)

		ev := log.Info()
		if res.FailedChunks > 0 || total != len(recipients) {
			ev = log.Warn().Int("failed_chunks", res.FailedChunks).AnErr("last_error", res.LastError)
		}
		ev.Int("resolved", len(recipients)).Int("queued", total).Msg("recipients materialized")
		return total, nil
	}
	return 0, nil
}

func (s *CampaignService) resetMaterialized(ctx context.Context, id string, log zerolog.Logger) {
	if err := s.CampaignRepo.ResetMaterialized(context.WithoutCancel(ctx), id); err != nil {
		log.Error().Err(err).Msg("reset materialized flag failed")
	}
}

// Start materializes the queue and moves a draft or scheduled campaign to
// sending. Dry runs are drained in this call; live campaigns are handed to the
// batch queue and return with nothing processed.
func (s *CampaignService) Start(ctx context.Context, id string) (*StartResult, error) {
	c, err := s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != model.CampaignDraft && c.Status != model.CampaignScheduled {
		return nil, appErrors.NewConflict("campaign %s cannot be started from status %s", id, c.Status)
	}
	if err := s.checkTemplate(ctx, c.TemplateID); err != nil {
		return nil, err
	}

	queued, err := s.EnsureQueued(ctx, c)
	if err != nil {
		return nil, err
	}
	if queued == 0 {
		return nil, appErrors.NewValidation("segment", "segment resolved to no recipients")
	}

	if c.Status == model.CampaignDraft {
		if err := s.transition(ctx, c, model.CampaignScheduled); err != nil {
			return nil, err
		}
	}
	if err := s.transition(ctx, c, model.CampaignSending); err != nil {
		return nil, err
	}
	return s.kick(ctx, c)
}

// Resume continues a paused campaign, or completes it when nothing is pending.
func (s *CampaignService) Resume(ctx context.Context, id string) (*StartResult, error) {
	c, err := s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != model.CampaignPaused {
		return nil, appErrors.NewConflict("campaign %s is %s, not paused", id, c.Status)
	}
	if _, err := s.EnsureQueued(ctx, c); err != nil {
		return nil, err
	}
	pending, err := s.EmailRepo.CountPending(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("count pending: %w", err)
	}
	if pending == 0 {
		if err := s.transition(ctx, c, model.CampaignCompleted); err != nil {
			return nil, err
		}
		return &StartResult{Campaign: c, Batch: &BatchResult{Completed: true}}, nil
	}
	if err := s.transition(ctx, c, model.CampaignSending); err != nil {
		return nil, err
	}
	return s.kick(ctx, c)
}

// kick starts processing of a campaign that just entered sending.
func (s *CampaignService) kick(ctx context.Context, c *model.Campaign) (*StartResult, error) {
	result := &StartResult{Campaign: c}
	if c.IsDryRun {
		batch, err := s.Processor.ProcessNextBatch(ctx, c.ID, s.Processor.DefaultBatchSize(c))
		if err != nil {
			return nil, err
		}
		result.Batch = batch
		return s.refresh(ctx, result)
	}

	pending, err := s.EmailRepo.CountPending(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("count pending: %w", err)
	}
	result.Batch = &BatchResult{Remaining: pending}
	result.Queued = s.publish(ctx, c)
	return result, nil
}

func (s *CampaignService) refresh(ctx context.Context, r *StartResult) (*StartResult, error) {
	c, err := s.CampaignRepo.GetByID(ctx, r.Campaign.ID)
	if err != nil {
		return nil, err
	}
	r.Campaign = c
	return r, nil
}

// publish hands a batch task to the workers. A failed handoff is logged; the
// scheduler republishes for stalled campaigns.
func (s *CampaignService) publish(ctx context.Context, c *model.Campaign) bool {
	if s.Queue == nil {
		return false
	}
	task := queue.BatchTask{CampaignID: c.ID, BatchSize: s.Processor.DefaultBatchSize(c)}
	if err := s.Queue.Publish(ctx, s.batchQueue(), task); err != nil {
		s.Logger.Error().Err(err).Str("campaign_id", c.ID).Msg("publish batch task failed")
		return false
	}
	return true
}

func (s *CampaignService) batchQueue() string {
	if s.BatchQueue == "" {
		return "campaign_batches"
	}
	return s.BatchQueue
}

// ProcessNextBatch runs one batch of a sending campaign.
func (s *CampaignService) ProcessNextBatch(ctx context.Context, id string, batchSize int) (*BatchResult, error) {
	return s.Processor.ProcessNextBatch(ctx, id, batchSize)
}

// HandleBatchTask runs one queued batch and republishes while work remains.
func (s *CampaignService) HandleBatchTask(ctx context.Context, task queue.BatchTask) (*BatchResult, error) {
	result, err := s.Processor.ProcessNextBatch(ctx, task.CampaignID, task.BatchSize)
	if err != nil {
		if appErrors.IsNotFound(err) {
			s.Logger.Warn().Str("campaign_id", task.CampaignID).Msg("dropping batch task for deleted campaign")
			return nil, nil
		}
		return nil, err
	}
	if result.Completed || result.Remaining == 0 || s.Queue == nil {
		return result, nil
	}

	c, err := s.CampaignRepo.GetByID(ctx, task.CampaignID)
	if err != nil {
		return result, err
	}
	if c.Status == model.CampaignSending {
		if err := s.Queue.Publish(ctx, s.batchQueue(), task); err != nil {
			return result, fmt.Errorf("republish batch task: %w", err)
		}
	}
	return result, nil
}

func (s *CampaignService) Pause(ctx context.Context, id string) (*model.Campaign, error) {
	c, err := s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.transition(ctx, c, model.CampaignPaused); err != nil {
		return nil, err
	}
	return c, nil
}

// Cancel stops further batches. Rows already claimed finish sending.
func (s *CampaignService) Cancel(ctx context.Context, id string) (*model.Campaign, error) {
	c, err := s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.transition(ctx, c, model.CampaignCancelled); err != nil {
		return nil, err
	}
	return c, nil
}

// UpdateStatus is the status-only update. It dispatches to the operation that
// owns the requested edge so side effects stay in one place.
func (s *CampaignService) UpdateStatus(ctx context.Context, id string, status model.CampaignStatus) (*model.Campaign, error) {
	if !status.Valid() {
		return nil, appErrors.NewValidation("status", fmt.Sprintf("unknown status %q", status))
	}
	c, err := s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status == status {
		return c, nil
	}
	if !model.CanTransition(c.Status, status) {
		return nil, appErrors.NewConflict("campaign %s cannot move from %s to %s", id, c.Status, status)
	}

	switch status {
	case model.CampaignSending:
		var res *StartResult
		if c.Status == model.CampaignPaused {
			res, err = s.Resume(ctx, id)
		} else {
			res, err = s.Start(ctx, id)
		}
		if err != nil {
			return nil, err
		}
		return res.Campaign, nil
	case model.CampaignCompleted:
		pending, err := s.EmailRepo.CountPending(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("count pending: %w", err)
		}
		if pending > 0 {
			return nil, appErrors.NewConflict("campaign %s still has %d pending emails", id, pending)
		}
	}

	if err := s.transition(ctx, c, status); err != nil {
		return nil, err
	}
	return c, nil
}

// transition applies one lifecycle edge with a compare-and-swap on the current status.
func (s *CampaignService) transition(ctx context.Context, c *model.Campaign, to model.CampaignStatus) error {
	if !model.CanTransition(c.Status, to) {
		return appErrors.NewConflict("campaign %s cannot move from %s to %s", c.ID, c.Status, to)
	}
	now := s.now()
	ok, err := s.CampaignRepo.Transition(ctx, c.ID, []model.CampaignStatus{c.Status}, to, now)
	if err != nil {
		return fmt.Errorf("transition to %s: %w", to, err)
	}
	if !ok {
		return appErrors.NewConflict("campaign %s changed status concurrently", c.ID)
	}

	s.Logger.Info().Str("campaign_id", c.ID).Str("from", string(c.Status)).Str("to", string(to)).Msg("campaign transition")
	s.Metrics.Transition(string(to))

	c.Status = to
	c.UpdatedAt = now
	switch to {
	case model.CampaignScheduled:
		if c.ScheduledAt == nil {
			c.ScheduledAt = &now
		}
	case model.CampaignSending:
		if c.StartedAt == nil {
			c.StartedAt = &now
		}
	case model.CampaignPaused:
		c.PausedAt = &now
	case model.CampaignCompleted:
		c.CompletedAt = &now
	case model.CampaignCancelled:
		c.CancelledAt = &now
	}
	return nil
}

// UpdateCampaign replaces the editable fields while the campaign is draft or
// scheduled. A changed segment discards rows queued by an earlier preview.
func (s *CampaignService) UpdateCampaign(ctx context.Context, id string, in CampaignInput) (*model.Campaign, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	c, err := s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !c.Status.IsEditable() {
		return nil, appErrors.NewConflict("campaign %s is %s and can no longer be edited", id, c.Status)
	}
	if err := s.checkTemplate(ctx, in.TemplateID); err != nil {
		return nil, err
	}
	if err := s.checkSignature(ctx, in.SignatureID); err != nil {
		return nil, err
	}
	resolved, err := s.resolveCount(ctx, in.SegmentKind, in.SegmentFilter)
	if err != nil {
		return nil, err
	}

	prevKind, prevFilter := c.SegmentKind, string(c.SegmentFilter)
	if err := s.applyInput(ctx, c, in); err != nil {
		return nil, err
	}
	if c.ScheduledAt == nil && c.Status == model.CampaignScheduled {
		now := s.now()
		c.ScheduledAt = &now
	}
	segmentChanged := prevKind != c.SegmentKind || !sameJSON(prevFilter, string(c.SegmentFilter))

	err = s.Tx.Transact(ctx, func(ctx context.Context) error {
		if err := s.CampaignRepo.Update(ctx, c); err != nil {
			return err
		}
		if !segmentChanged || !c.RecipientsMaterialized {
			return nil
		}
		if err := s.EmailRepo.DeleteByCampaign(ctx, c.ID); err != nil {
			return err
		}
		if err := s.CampaignRepo.ResetMaterialized(ctx, c.ID); err != nil {
			return err
		}
		return s.CampaignRepo.SetRecipientCounts(ctx, c.ID, resolved, resolved)
	})
	if err != nil {
		return nil, err
	}
	return s.CampaignRepo.GetByID(ctx, id)
}

func sameJSON(a, b string) bool {
	var x, y any
	if json.Unmarshal([]byte(a), &x) != nil || json.Unmarshal([]byte(b), &y) != nil {
		return a == b
	}
	xb, _ := json.Marshal(x)
	yb, _ := json.Marshal(y)
	return string(xb) == string(yb)
}

// DeleteCampaign removes a campaign that is not sending, with its queue and events.
func (s *CampaignService) DeleteCampaign(ctx context.Context, id string) error {
	return s.Tx.Transact(ctx, func(ctx context.Context) error {
		c, err := s.CampaignRepo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if c.Status == model.CampaignSending {
			return appErrors.NewConflict("campaign %s is sending; pause or cancel it first", id)
		}
		deleted, err := s.CampaignRepo.Delete(ctx, id)
		if err != nil {
			return err
		}
		if !deleted {
			return appErrors.NewConflict("campaign %s changed status concurrently", id)
		}
		s.Logger.Info().Str("campaign_id", id).Msg("campaign deleted")
		return nil
	})
}

// PreviewEmail is one rendered recipient message.
type PreviewEmail struct {
	EmailID string `json:"email_id"`
	Email   string `json:"email"`
	Name    string `json:"name,omitempty"`
	Status  string `json:"status"`
	RenderedEmail
}

// Preview renders every queued recipient without sending. It materializes the
// queue first so the output matches what a live send renders.
func (s *CampaignService) Preview(ctx context.Context, id string) ([]PreviewEmail, error) {
	c, err := s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	tpl, err := s.TemplateRepo.GetByID(ctx, c.TemplateID)
	if err != nil {
		return nil, err
	}
	var sig *model.Signature
	if c.SignatureID != nil && *c.SignatureID != "" {
		if sig, err = s.TemplateRepo.GetSignature(ctx, *c.SignatureID); err != nil && !appErrors.IsNotFound(err) {
			return nil, err
		}
	}
	if _, err := s.EnsureQueued(ctx, c); err != nil {
		return nil, err
	}
	rows, err := s.EmailRepo.ListAll(ctx, c.ID)
	if err != nil {
		return nil, err
	}

	out := make([]PreviewEmail, 0, len(rows))
	for _, row := range rows {
		out = append(out, PreviewEmail{
			EmailID:       row.ID,
			Email:         row.Email,
			Name:          row.Name,
			Status:        string(row.Status),
			RenderedEmail: s.Renderer.Render(c, tpl, sig, row),
		})
	}
	return out, nil
}

// CampaignDetails is the campaign with queue statistics.
type CampaignDetails struct {
	*model.Campaign
	Stats map[string]int `json:"stats"`
	// Discrepancy is resolved minus queued recipients; non-zero after skipped insert chunks.
	Discrepancy int `json:"discrepancy"`
}

func (s *CampaignService) GetCampaignDetailsWithStats(ctx context.Context, id string) (*CampaignDetails, error) {
	c, err := s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	counts, err := s.EmailRepo.CountByStatus(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("count queue rows: %w", err)
	}

	stats := map[string]int{"total": 0}
	for status, n := range counts {
		stats[string(status)] = n
		stats["total"] += n
	}
	details := &CampaignDetails{Campaign: c, Stats: stats}
	if c.RecipientsMaterialized {
		details.Discrepancy = c.ResolvedRecipients - stats["total"]
	}
	return details, nil
}

// Pagination mirrors the list response envelope.
type Pagination map[string]int

func paginate(page, pageSize int) (int, int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return page, pageSize, (page - 1) * pageSize
}

func pagination(page, pageSize, total int) Pagination {
	return Pagination{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": (total + pageSize - 1) / pageSize,
	}
}

// ListCampaigns fetches campaigns with pagination
func (s *CampaignService) ListCampaigns(ctx context.Context, page, pageSize int, status string) ([]*model.Campaign, Pagination, error) {
	page, pageSize, offset := paginate(page, pageSize)
	if status != "" && !model.CampaignStatus(status).Valid() {
		return nil, nil, appErrors.NewValidation("status", fmt.Sprintf("unknown status %q", status))
	}
	campaigns, total, err := s.CampaignRepo.List(ctx, model.CampaignListFilter{Status: status, Limit: pageSize, Offset: offset})
	if err != nil {
		return nil, nil, err
	}
	return campaigns, pagination(page, pageSize, total), nil
}

func (s *CampaignService) ListEmails(ctx context.Context, id, status string, page, pageSize int) ([]*model.QueuedEmail, Pagination, error) {
	if _, err := s.CampaignRepo.GetByID(ctx, id); err != nil {
		return nil, nil, err
	}
	if status != "" && !model.EmailStatus(status).Valid() {
		return nil, nil, appErrors.NewValidation("status", fmt.Sprintf("unknown status %q", status))
	}
	page, pageSize, offset := paginate(page, pageSize)
	rows, total, err := s.EmailRepo.ListByCampaign(ctx, id, model.QueuedEmailFilter{Status: status, Limit: pageSize, Offset: offset})
	if err != nil {
		return nil, nil, err
	}
	return rows, pagination(page, pageSize, total), nil
}

func (s *CampaignService) ListEvents(ctx context.Context, id string, page, pageSize int) ([]*model.OutreachEvent, Pagination, error) {
	if _, err := s.CampaignRepo.GetByID(ctx, id); err != nil {
		return nil, nil, err
	}
	page, pageSize, offset := paginate(page, pageSize)
	events, total, err := s.EventRepo.ListByCampaign(ctx, id, pageSize, offset)
	if err != nil {
		return nil, nil, err
	}
	return events, pagination(page, pageSize, total), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
