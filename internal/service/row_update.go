package service

import (
	"context"
	"errors"

	"github.com/unclebandit/outreach-backend/internal/model"
	"github.com/unclebandit/outreach-backend/internal/repository"
)

var errVersionConflict = errors.New("queued email changed concurrently")

// maxSaveAttempts bounds optimistic retries of one row update.
const maxSaveAttempts = 5

// rowMutation changes q in place and reports what moved.
type rowMutation func(ctx context.Context, q *model.QueuedEmail) (model.Effects, error)

// rowUpdater applies a mutation to a fresh copy of a queue row, saves it with a
// version check and bumps the campaign aggregates in the same transaction.
type rowUpdater struct {
	Tx           repository.Provider
	EmailRepo    repository.QueuedEmailRepositoryInterface
	CampaignRepo repository.CampaignRepositoryInterface
}

func (u rowUpdater) update(ctx context.Context, emailID string, mutate rowMutation) (*model.QueuedEmail, model.Effects, error) {
	var (
		row *model.QueuedEmail
		eff model.Effects
	)
	for attempt := 1; ; attempt++ {
		err := u.Tx.Transact(ctx, func(ctx context.Context) error {
			var err error
			row, err = u.EmailRepo.GetByID(ctx, emailID)
			if err != nil {
				return err
			}
			eff, err = mutate(ctx, row)
			if err != nil || !eff.Changed {
				return err
			}
			saved, err := u.EmailRepo.Save(ctx, row)
			if err != nil {
				return err
			}
			if !saved {
				return errVersionConflict
			}
			return u.CampaignRepo.IncrementCounters(ctx, row.CampaignID, eff.Counters())
		})
		if errors.Is(err, errVersionConflict) && attempt < maxSaveAttempts {
			continue
		}
		return row, eff, err
	}
}
