package cron

import (
	"context"
	"fmt"

	"github.com/bodyf1rst/billing-backend/pkg/logger"
)

const defaultPayoutRefreshLimit = 200

type payoutRefresher interface {
	RefreshOpenPayouts(ctx context.Context, limit int) (int, error)
}

type PayoutRefreshJobParams struct {
	Logger  *logger.Logger
	Payouts payoutRefresher
	Limit   int
}

// NewPayoutRefreshJob moves pending and in-transit payout rows forward from
// the gateway's view.
func NewPayoutRefreshJob(params PayoutRefreshJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Payouts == nil {
		return nil, fmt.Errorf("payout service required")
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultPayoutRefreshLimit
	}
	return &payoutRefreshJob{logg: params.Logger, payouts: params.Payouts, limit: limit}, nil
}

type payoutRefreshJob struct {
	logg    *logger.Logger
	payouts payoutRefresher
	limit   int
}

func (j *payoutRefreshJob) Name() string { return "payout-refresh" }

func (j *payoutRefreshJob) Run(ctx context.Context) error {
	refreshed, err := j.payouts.RefreshOpenPayouts(ctx, j.limit)
	j.logg.Info(j.logg.WithField(ctx, "refreshed", refreshed), "payout refresh complete")
	return err
}
