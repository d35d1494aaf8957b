package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/unclebandit/outreach-backend/internal/model"
	"github.com/unclebandit/outreach-backend/internal/segment"
)

var errAlreadyLinked = errors.New("resend child already linked")

// TickResult summarizes one scheduler pass.
type TickResult struct {
	Started       int   `json:"started"`
	Republished   int   `json:"republished"`
	ExpiredClaims int64 `json:"expired_claims"`
	Resends       int   `json:"resends"`
}

// Tick runs every periodic job once. Failures of one job do not stop the others.
func (s *CampaignService) Tick(ctx context.Context) (TickResult, error) {
	var (
		res  TickResult
		errs []error
		err  error
	)
	if res.ExpiredClaims, err = s.ExpireClaims(ctx); err != nil {
		errs = append(errs, fmt.Errorf("expire claims: %w", err))
	}
	if res.Started, err = s.StartDue(ctx); err != nil {
		errs = append(errs, fmt.Errorf("start due: %w", err))
	}
	if res.Republished, err = s.RecoverStalled(ctx); err != nil {
		errs = append(errs, fmt.Errorf("recover stalled: %w", err))
	}
	if res.Resends, err = s.CreateDueResends(ctx); err != nil {
		errs = append(errs, fmt.Errorf("create resends: %w", err))
	}
	return res, errors.Join(errs...)
}

// StartDue starts scheduled campaigns whose start time has passed.
func (s *CampaignService) StartDue(ctx context.Context) (int, error) {
	due, err := s.CampaignRepo.ListDue(ctx, s.now())
	if err != nil {
		return 0, err
	}
	started := 0
	for _, c := range due {
		if _, err := s.Start(ctx, c.ID); err != nil {
			s.Logger.Error().Err(err).Str("campaign_id", c.ID).Msg("starting due campaign failed")
			continue
		}
		started++
	}
	return started, nil
}

// RecoverStalled republishes batch tasks for sending campaigns that have not
// run a batch within the stall threshold.
func (s *CampaignService) RecoverStalled(ctx context.Context) (int, error) {
	threshold := s.Scheduler.StallThreshold
	if threshold <= 0 {
		threshold = 10 * time.Minute
	}
	stalled, err := s.CampaignRepo.ListStalled(ctx, s.now().Add(-threshold))
	if err != nil {
		return 0, err
	}
	n := 0
	for _, c := range stalled {
		if s.Queue == nil {
			if _, err := s.Processor.ProcessNextBatch(ctx, c.ID, 0); err != nil {
				s.Logger.Error().Err(err).Str("campaign_id", c.ID).Msg("processing stalled campaign failed")
				continue
			}
			n++
			continue
		}
		if s.publish(ctx, c) {
			n++
		}
	}
	if n > 0 {
		s.Logger.Info().Int("campaigns", n).Msg("recovered stalled campaigns")
	}
	return n, nil
}

// ExpireClaims fails rows whose claim outlived the lease. Their send outcome is
// unknown, and failing them keeps delivery at most once.
func (s *CampaignService) ExpireClaims(ctx context.Context) (int64, error) {
	lease := s.Processor.Config.ClaimLease
	if lease <= 0 {
		lease = 15 * time.Minute
	}
	now := s.now()
	n, err := s.EmailRepo.ExpireClaims(ctx, now.Add(-lease), now)
	if err != nil {
		return 0, err
	}
	s.Metrics.ClaimsExpired(n)
	if n > 0 {
		s.Logger.Warn().Int64("rows", n).Dur("lease", lease).Msg("expired stale claims")
	}
	return n, nil
}

// CreateDueResends creates the auto-resend child of every completed campaign
// whose delay has elapsed.
func (s *CampaignService) CreateDueResends(ctx context.Context) (int, error) {
	candidates, err := s.CampaignRepo.ListResendCandidates(ctx)
	if err != nil {
		return 0, err
	}
	now := s.now()
	created := 0
	for _, parent := range candidates {
		due := parent.ResendDueAt()
		if due == nil || due.After(now) {
			continue
		}
		child, err := s.CreateResend(ctx, parent)
		if errors.Is(err, errAlreadyLinked) {
			continue
		}
		if err != nil {
			s.Logger.Error().Err(err).Str("campaign_id", parent.ID).Msg("creating resend campaign failed")
			continue
		}
		created++
		s.Logger.Info().
			Str("campaign_id", parent.ID).
			Str("resend_campaign_id", child.ID).
			Str("status", string(child.Status)).
			Int("recipients", child.TotalRecipients).
			Msg("resend campaign created")
	}
	return created, nil
}

// CreateResend creates and links the child campaign that re-targets the
// parent's recipients who never engaged. The link is a compare-and-swap, so a
// parent gets at most one child. With nobody left to resend to, the child is
// created already completed.
func (s *CampaignService) CreateResend(ctx context.Context, parent *model.Campaign) (*model.Campaign, error) {
	filter := segment.ResendFilter(parent.ID)
	recipients, err := s.Resolver.Resolve(ctx, model.SegmentResend, filter)
	if err != nil {
		return nil, err
	}

	now := s.now()
	parentID := parent.ID
	child := &model.Campaign{
		Name:               parent.Name + " (resend)",
		TemplateID:         parent.TemplateID,
		SegmentKind:        model.SegmentResend,
		SegmentFilter:      filter,
		FromName:           parent.FromName,
		FromEmail:          parent.FromEmail,
		ReplyTo:            parent.ReplyTo,
		SendRate:           parent.SendRate,
		SendDelayMS:        parent.SendDelayMS,
		IsDryRun:           parent.IsDryRun,
		Status:             model.CampaignScheduled,
		ScheduledAt:        &now,
		TotalRecipients:    len(recipients),
		ResolvedRecipients: len(recipients),
		SubjectOverride:    parent.AutoResendSubject,
		SignatureID:        parent.SignatureID,
		ParentCampaignID:   &parentID,
	}
	if child.SubjectOverride == "" {
		child.SubjectOverride = parent.SubjectOverride
	}
	if len(recipients) == 0 {
		child.Status = model.CampaignCompleted
		child.CompletedAt = &now
	}

	err = s.Tx.Transact(ctx, func(ctx context.Context) error {
		if err := s.CampaignRepo.Create(ctx, child); err != nil {
			return err
		}
		linked, err := s.CampaignRepo.LinkResend(ctx, parent.ID, child.ID)
		if err != nil {
			return err
		}
		if !linked {
			return errAlreadyLinked
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	parent.ResendCampaignID = &child.ID
	return child, nil
}
