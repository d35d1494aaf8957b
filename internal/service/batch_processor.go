package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/unclebandit/outreach-backend/internal/config"
	appErrors "github.com/unclebandit/outreach-backend/internal/errors"
	"github.com/unclebandit/outreach-backend/internal/metrics"
	"github.com/unclebandit/outreach-backend/internal/model"
	"github.com/unclebandit/outreach-backend/internal/repository"
	"github.com/unclebandit/outreach-backend/internal/transport"
)

// BatchResult is the outcome of one "process next batch" call.
type BatchResult struct {
	Processed int  `json:"processed"`
	Remaining int  `json:"remaining"`
	Completed bool `json:"completed"`
}

// Sleeper waits d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// BatchProcessor drains pending queue rows of a sending campaign. It keeps no
// state between calls; everything it needs is in the queue store.
type BatchProcessor struct {
	Tx           repository.Provider
	CampaignRepo repository.CampaignRepositoryInterface
	EmailRepo    repository.QueuedEmailRepositoryInterface
	TemplateRepo repository.TemplateRepositoryInterface
	Transport    transport.Transport
	Renderer     Renderer
	Config       config.ProcessorConfig
	SendTimeout  time.Duration
	Sleep        Sleeper
	Metrics      *metrics.Metrics
	Logger       zerolog.Logger
	Now          func() time.Time
}

func (p *BatchProcessor) now() time.Time {
	if p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

func (p *BatchProcessor) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	return sleepContext(ctx, d)
}

// DefaultBatchSize is the configured batch size for the campaign's mode.
func (p *BatchProcessor) DefaultBatchSize(c *model.Campaign) int {
	n := p.Config.LiveBatchSize
	if c.IsDryRun {
		n = p.Config.DryRunBatchSize
	}
	if n <= 0 {
		return 1
	}
	return n
}

func (p *BatchProcessor) updater() rowUpdater {
	return rowUpdater{Tx: p.Tx, EmailRepo: p.EmailRepo, CampaignRepo: p.CampaignRepo}
}

// ProcessNextBatch claims up to batchSize pending rows and sends them in queue
// order. Live campaigns wait send_delay_ms after every attempt. A campaign
// that is not sending is left alone. batchSize <= 0 uses the configured default.
func (p *BatchProcessor) ProcessNextBatch(ctx context.Context, campaignID string, batchSize int) (*BatchResult, error) {
	started := time.Now()
	result, err := p.processNextBatch(ctx, campaignID, batchSize)
	switch {
	case err != nil:
		p.Metrics.ObserveBatch("error", time.Since(started))
	case result.Completed:
		p.Metrics.ObserveBatch("completed", time.Since(started))
	case result.Processed == 0:
		p.Metrics.ObserveBatch("noop", time.Since(started))
	default:
		p.Metrics.ObserveBatch("ok", time.Since(started))
	}
	return result, err
}

func (p *BatchProcessor) processNextBatch(ctx context.Context, campaignID string, batchSize int) (*BatchResult, error) {
	c, err := p.CampaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	log := p.Logger.With().Str("campaign_id", c.ID).Logger()

	if c.Status != model.CampaignSending {
		remaining, err := p.EmailRepo.CountPending(ctx, c.ID)
		if err != nil {
			return nil, fmt.Errorf("count pending: %w", err)
		}
		return &BatchResult{Remaining: remaining, Completed: c.Status == model.CampaignCompleted}, nil
	}

	if batchSize <= 0 {
		batchSize = p.DefaultBatchSize(c)
	}

	tpl, err := p.TemplateRepo.GetByID(ctx, c.TemplateID)
	if err != nil {
		return nil, fmt.Errorf("load template: %w", err)
	}
	signature := p.signature(ctx, c, log)

	claimed, err := p.EmailRepo.ClaimBatch(ctx, c.ID, batchSize, p.now())
	if err != nil {
		return nil, fmt.Errorf("claim batch: %w", err)
	}

	result := &BatchResult{}
	for i, row := range claimed {
		if ctx.Err() != nil {
			p.release(claimed[i:], log)
			break
		}

		held, err := p.EmailRepo.RenewClaim(ctx, row.ID, p.now())
		if err != nil || !held {
			log.Warn().Err(err).Str("email_id", row.ID).Msg("claim lost before send, skipping")
			continue
		}

		p.send(ctx, c, tpl, signature, row, log)
		result.Processed++

		if c.IsDryRun {
			continue
		}
		if err := p.sleep(ctx, c.SendDelay()); err != nil {
			p.release(claimed[i+1:], log)
			break
		}
	}

	// Recording must survive a cancelled caller.
	bg := context.WithoutCancel(ctx)
	if err := p.CampaignRepo.TouchBatch(bg, c.ID, p.now()); err != nil {
		log.Warn().Err(err).Msg("touch last_batch_at failed")
	}

	result.Remaining, err = p.EmailRepo.CountPending(bg, c.ID)
	if err != nil {
		return result, fmt.Errorf("count pending: %w", err)
	}
	if result.Remaining == 0 {
		result.Completed, err = p.complete(bg, c.ID)
		if err != nil {
			return result, err
		}
	}

	log.Info().
		Int("processed", result.Processed).
		Int("remaining", result.Remaining).
		Bool("completed", result.Completed).
		Msg("batch processed")
	return result, nil
}

// send renders, calls the transport and records the row outcome. Transport
// errors become row state; they never fail the batch.
func (p *BatchProcessor) send(ctx context.Context, c *model.Campaign, tpl *model.EmailTemplate, sig *model.Signature, row *model.QueuedEmail, log zerolog.Logger) {
	rendered := p.Renderer.Render(c, tpl, sig, row)
	msg := transport.Message{
		EmailID:    row.ID,
		CampaignID: c.ID,
		FromName:   c.FromName,
		FromEmail:  c.FromEmail,
		ReplyTo:    c.ReplyTo,
		To:         row.Email,
		ToName:     row.Name,
		Subject:    rendered.Subject,
		Body:       rendered.Body,
	}

	timeout := p.SendTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	sendCtx, cancel := context.WithTimeout(ctx, timeout)
	messageID, sendErr := p.Transport.Send(sendCtx, msg)
	cancel()

	at := p.now()
	bg := context.WithoutCancel(ctx)
	_, _, err := p.updater().update(bg, row.ID, func(_ context.Context, q *model.QueuedEmail) (model.Effects, error) {
		if sendErr != nil {
			return model.MarkFailed(q, sendErr.Error(), at), nil
		}
		return model.MarkSent(q, messageID, at), nil
	})

	rowLog := log.With().Str("email_id", row.ID).Logger()
	if err != nil {
		rowLog.Error().Err(err).AnErr("send_error", sendErr).Msg("recording send outcome failed")
	}
	if sendErr != nil {
		p.Metrics.EmailFailed()
		rowLog.Warn().Err(sendErr).Msg("transport send failed")
		return
	}
	p.Metrics.EmailSent()
	rowLog.Debug().Str("message_id", messageID).Msg("email sent")
}

func (p *BatchProcessor) signature(ctx context.Context, c *model.Campaign, log zerolog.Logger) *model.Signature {
	if c.SignatureID == nil || *c.SignatureID == "" {
		return nil
	}
	sig, err := p.TemplateRepo.GetSignature(ctx, *c.SignatureID)
	if err != nil {
		if !appErrors.IsNotFound(err) {
			log.Warn().Err(err).Msg("load signature failed, sending without it")
		}
		return nil
	}
	return sig
}

func (p *BatchProcessor) release(rows []*model.QueuedEmail, log zerolog.Logger) {
	if len(rows) == 0 {
		return
	}
	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	if err := p.EmailRepo.ReleaseClaims(context.Background(), ids); err != nil {
		log.Error().Err(err).Int("rows", len(ids)).Msg("release claims failed")
		return
	}
	log.Info().Int("rows", len(ids)).Msg("released unsent claims")
}

func (p *BatchProcessor) complete(ctx context.Context, campaignID string) (bool, error) {
	ok, err := p.CampaignRepo.Transition(ctx, campaignID, []model.CampaignStatus{model.CampaignSending}, model.CampaignCompleted, p.now())
	if err != nil {
		return false, fmt.Errorf("complete campaign: %w", err)
	}
	if ok {
		p.Metrics.Transition(string(model.CampaignCompleted))
		p.Logger.Info().Str("campaign_id", campaignID).Msg("campaign completed")
		return true, nil
	}
	c, err := p.CampaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return false, err
	}
	return c.Status == model.CampaignCompleted, nil
}
