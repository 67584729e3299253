package stripewebhook

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/bodyf1rst/billing-backend/internal/billing"
	"github.com/bodyf1rst/billing-backend/internal/notifications"
	"github.com/bodyf1rst/billing-backend/internal/users"
	"github.com/bodyf1rst/billing-backend/pkg/db/models"
	pkgerrors "github.com/bodyf1rst/billing-backend/pkg/errors"
	"github.com/bodyf1rst/billing-backend/pkg/logger"
	"github.com/bodyf1rst/billing-backend/pkg/metrics"
	"github.com/bodyf1rst/billing-backend/pkg/stripe"
)

const liveEnvironment = "live"

// Verifier authenticates raw deliveries for the configured environment.
type Verifier interface {
	Environment() string
	VerifyWebhookSignature(payload []byte, header string) (*stripe.Event, error)
}

type notifier interface {
	Enqueue(ctx context.Context, tx *gorm.DB, n notifications.Notification) error
}

type guard interface {
	Claim(ctx context.Context, eventID string) (bool, error)
	Release(ctx context.Context, eventID string) error
}

type planResolver interface {
	PlanForPrice(price string) string
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ServiceParams groups dependencies for the reconciliation engine.
type ServiceParams struct {
	Billing           billing.Repository
	Users             *users.Repository
	Verifier          Verifier
	Notifications     notifier
	Guard             guard
	Plans             planResolver
	Metrics           *metrics.WebhookMetrics
	TransactionRunner txRunner
	Logger            *logger.Logger
}

// Result describes how a delivery was settled.
type Result struct {
	EventID string
	Type    string
	Kind    Kind
	Outcome string
}

type handler func(ctx context.Context, tx *gorm.DB, env string, evt Event) error

// Service reconciles verified gateway events into local billing state.
type Service struct {
	billing  billing.Repository
	users    *users.Repository
	verifier Verifier
	notify   notifier
	guard    guard
	plans    planResolver
	metrics  *metrics.WebhookMetrics
	tx       txRunner
	logg     *logger.Logger
	now      func() time.Time
	handlers map[Kind]handler
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Billing == nil {
		return nil, fmt.Errorf("billing repo required")
	}
	if params.Users == nil {
		return nil, fmt.Errorf("users repo required")
	}
	if params.Verifier == nil {
		return nil, fmt.Errorf("webhook verifier required")
	}
	if params.Notifications == nil {
		return nil, fmt.Errorf("notification dispatcher required")
	}
	if params.Guard == nil {
		return nil, fmt.Errorf("event guard required")
	}
	if params.Plans == nil {
		return nil, fmt.Errorf("plan catalog required")
	}
	if params.TransactionRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}

	s := &Service{
		billing:  params.Billing,
		users:    params.Users,
		verifier: params.Verifier,
		notify:   params.Notifications,
		guard:    params.Guard,
		plans:    params.Plans,
		metrics:  params.Metrics,
		tx:       params.TransactionRunner,
		logg:     params.Logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
	s.handlers = map[Kind]handler{
		KindPaymentSucceeded:        on(s.paymentSucceeded),
		KindPaymentFailed:           on(s.paymentFailed),
		KindSubscriptionCreated:     on(s.subscriptionCreated),
		KindSubscriptionUpdated:     on(s.subscriptionUpdated),
		KindSubscriptionDeleted:     on(s.subscriptionDeleted),
		KindInvoicePaymentSucceeded: on(s.invoicePaid),
		KindInvoicePaymentFailed:    on(s.invoicePaymentFailed),
		KindPaymentMethodAttached:   on(s.paymentMethodAttached),
		KindPaymentMethodDetached:   on(s.paymentMethodDetached),
	}
	for _, kind := range allKinds {
		if _, ok := s.handlers[kind]; !ok {
			return nil, fmt.Errorf("no handler for %s", kind)
		}
		if _, ok := decoders[kind]; !ok {
			return nil, fmt.Errorf("no decoder for %s", kind)
		}
	}
	return s, nil
}

// on adapts a variant-specific handler to the dispatch table.
func on[E Event](fn func(ctx context.Context, tx *gorm.DB, env string, evt E) error) handler {
	return func(ctx context.Context, tx *gorm.DB, env string, evt Event) error {
		typed, ok := evt.(E)
		if !ok {
			return fmt.Errorf("unexpected %T for %s", evt, evt.Kind())
		}
		return fn(ctx, tx, env, typed)
	}
}

// Process verifies and applies one delivery. A signature failure returns a
// Signature error before anything is read or written. Unknown types and
// redeliveries succeed without side effects. Any other error means the
// gateway should retry.
func (s *Service) Process(ctx context.Context, payload []byte, signature string) (Result, error) {
	start := time.Now()

	evt, err := s.verifier.VerifyWebhookSignature(payload, signature)
	if err != nil {
		s.metrics.Observe("unverified", metrics.OutcomeRejected, 0)
		s.logg.Warn(s.logg.WithField(ctx, "reason", err.Error()), "webhook signature rejected")
		return Result{Outcome: metrics.OutcomeRejected}, pkgerrors.Wrap(pkgerrors.CodeSignature, err, "invalid webhook signature")
	}

	ctx = s.logg.WithGatewayEvent(ctx, evt.ID, evt.Type)
	result := Result{EventID: evt.ID, Type: evt.Type}

	kind, ok := KindFor(evt.Type)
	if !ok {
		result.Outcome = metrics.OutcomeIgnored
		s.metrics.Observe("unhandled", result.Outcome, 0)
		s.logg.Info(ctx, "webhook event type not handled")
		return result, nil
	}
	result.Kind = kind

	env := s.verifier.Environment()
	if evt.Livemode != (env == liveEnvironment) {
		result.Outcome = metrics.OutcomeIgnored
		s.metrics.Observe(string(kind), result.Outcome, 0)
		s.logg.Warn(s.logg.WithField(ctx, "environment", env), "webhook event from other environment ignored")
		return result, nil
	}

	decoded, err := Decode(kind, evt.Object)
	if err != nil {
		result.Outcome = metrics.OutcomeRejected
		s.metrics.Observe(string(kind), result.Outcome, 0)
		return result, pkgerrors.Wrap(pkgerrors.CodeBadRequest, err, "malformed webhook payload")
	}

	claimed, err := s.guard.Claim(ctx, evt.ID)
	if err != nil {
		result.Outcome = metrics.OutcomeFailed
		s.metrics.Observe(string(kind), result.Outcome, 0)
		return result, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "webhook idempotency unavailable")
	}
	if !claimed {
		result.Outcome = metrics.OutcomeDuplicate
		s.metrics.Observe(string(kind), result.Outcome, 0)
		s.logg.Info(ctx, "webhook event already processed")
		return result, nil
	}

	apply := s.handlers[kind]
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return apply(ctx, tx, env, decoded)
	})
	if err != nil {
		if releaseErr := s.guard.Release(ctx, evt.ID); releaseErr != nil {
			s.logg.Error(ctx, "release webhook event", releaseErr)
		}
		result.Outcome = metrics.OutcomeFailed
		s.metrics.Observe(string(kind), result.Outcome, time.Since(start))
		s.logg.Error(ctx, "webhook handling failed", err)
		if pkgerrors.As(err) != nil {
			return result, err
		}
		return result, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "webhook handling failed")
	}

	result.Outcome = metrics.OutcomeProcessed
	s.metrics.Observe(string(kind), result.Outcome, time.Since(start))
	s.logg.Info(ctx, "webhook event processed")
	return result, nil
}

// ownerOf resolves the local user for a gateway customer. A nil user with a
// nil error means the customer is unknown and the event is skipped.
func (s *Service) ownerOf(ctx context.Context, tx *gorm.DB, customerID string) (*models.User, error) {
	if customerID == "" {
		return nil, nil
	}
	user, err := s.users.WithTx(tx).FindByStripeCustomerID(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("find user by customer: %w", err)
	}
	if user == nil {
		s.logg.Warn(s.logg.WithField(ctx, "customer_id", customerID), "webhook for unknown customer skipped")
		return nil, nil
	}
	return user, nil
}
