package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/bodyf1rst/billing-backend/internal/billing"
	"github.com/bodyf1rst/billing-backend/internal/users"
	"github.com/bodyf1rst/billing-backend/pkg/db/models"
	"github.com/bodyf1rst/billing-backend/pkg/enums"
	"github.com/bodyf1rst/billing-backend/pkg/logger"
	"github.com/bodyf1rst/billing-backend/pkg/stripe"
)

const (
	defaultReconcileLimit    = 250
	defaultReconcileLookback = 7 * 24 * time.Hour
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type subscriptionFetcher interface {
	Environment() string
	RetrieveSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error)
}

type SubscriptionReconcileJobParams struct {
	Logger   *logger.Logger
	DB       txRunner
	Billing  billing.Repository
	Users    *users.Repository
	Gateway  subscriptionFetcher
	Limit    int
	Lookback time.Duration
}

// NewSubscriptionReconcileJob re-reads open subscriptions from the gateway
// to repair rows whose webhooks were lost.
func NewSubscriptionReconcileJob(params SubscriptionReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Billing == nil {
		return nil, fmt.Errorf("billing repository required")
	}
	if params.Users == nil {
		return nil, fmt.Errorf("users repository required")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("gateway client required")
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultReconcileLimit
	}
	lookback := params.Lookback
	if lookback <= 0 {
		lookback = defaultReconcileLookback
	}
	return &subscriptionReconcileJob{
		logg:     params.Logger,
		db:       params.DB,
		billing:  params.Billing,
		users:    params.Users,
		gateway:  params.Gateway,
		limit:    limit,
		lookback: lookback,
	}, nil
}

type subscriptionReconcileJob struct {
	logg     *logger.Logger
	db       txRunner
	billing  billing.Repository
	users    *users.Repository
	gateway  subscriptionFetcher
	limit    int
	lookback time.Duration
}

func (j *subscriptionReconcileJob) Name() string { return "subscription-reconcile" }

func (j *subscriptionReconcileJob) Run(ctx context.Context) error {
	env := j.gateway.Environment()
	candidates, err := j.billing.ListSubscriptionsForReconciliation(ctx, env, j.limit, j.lookback)
	if err != nil {
		return fmt.Errorf("list subscriptions for reconciliation: %w", err)
	}

	var (
		errs    error
		synced  int
		changed int
	)
	for i := range candidates {
		if err := ctx.Err(); err != nil {
			return multierr.Append(errs, err)
		}
		moved, err := j.reconcile(ctx, env, &candidates[i])
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("subscription %s: %w", candidates[i].StripeSubscriptionID, err))
			continue
		}
		synced++
		if moved {
			changed++
		}
	}

	reportCtx := j.logg.WithFields(ctx, map[string]any{
		"environment": env,
		"candidates":  len(candidates),
		"synced":      synced,
		"changed":     changed,
		"failed":      len(multierr.Errors(errs)),
	})
	j.logg.Info(reportCtx, "subscription reconcile complete")
	return errs
}

// reconcile reports whether the gateway status differed from the local row.
func (j *subscriptionReconcileJob) reconcile(ctx context.Context, env string, local *models.Subscription) (bool, error) {
	remote, err := j.gateway.RetrieveSubscription(ctx, local.StripeSubscriptionID)
	if err != nil {
		return false, fmt.Errorf("retrieve: %w", err)
	}

	state := billing.SubscriptionState{
		Status:             enums.SubscriptionStatusFromGateway(remote.Status),
		CurrentPeriodStart: remote.CurrentPeriodStart,
		CurrentPeriodEnd:   remote.CurrentPeriodEnd,
		CancelAtPeriodEnd:  remote.CancelAtPeriodEnd,
		CancelledAt:        remote.CanceledAt,
	}
	if remote.PriceID != "" {
		price := remote.PriceID
		state.PriceID = &price
	}

	err = j.db.WithTx(ctx, func(tx *gorm.DB) error {
		stored, err := j.billing.WithTx(tx).UpdateSubscriptionByExternalID(ctx, env, local.StripeSubscriptionID, state)
		if err != nil {
			return err
		}
		if stored == nil || billing.RevivesCancelled(stored, state.Status) {
			return nil
		}
		if status := stored.Status.BillingStatus(); status != enums.BillingStatusNone {
			if _, err := j.users.WithTx(tx).MirrorBillingStatus(ctx, stored.UserID, status); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("persist: %w", err)
	}

	moved := state.Status != local.Status
	if moved {
		logCtx := j.logg.WithFields(ctx, map[string]any{
			"subscription_id": local.StripeSubscriptionID,
			"user_id":         local.UserID.String(),
			"from":            local.Status,
			"to":              state.Status,
		})
		j.logg.Warn(logCtx, "subscription drift repaired")
	}
	return moved, nil
}
