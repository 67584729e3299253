package stripewebhook

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bodyf1rst/billing-backend/internal/billing"
	"github.com/bodyf1rst/billing-backend/internal/notifications"
	"github.com/bodyf1rst/billing-backend/pkg/db/models"
	"github.com/bodyf1rst/billing-backend/pkg/enums"
	"github.com/bodyf1rst/billing-backend/pkg/stripe"
	"github.com/bodyf1rst/billing-backend/pkg/types"
)

const (
	metadataCoachID = "coach_id"
	metadataPlanID  = "plan_id"
	defaultCurrency = "usd"
)

func (s *Service) paymentSucceeded(ctx context.Context, tx *gorm.DB, env string, evt PaymentSucceeded) error {
	user, err := s.ownerOf(ctx, tx, evt.Payment.CustomerID)
	if err != nil || user == nil {
		return err
	}
	now := s.now()
	row := paymentRow(user.ID, env, evt.Payment, enums.PaymentStatusCompleted)
	row.PaymentDate = &now
	if _, err := s.billing.WithTx(tx).UpsertPayment(ctx, row); err != nil {
		return fmt.Errorf("upsert payment: %w", err)
	}
	return nil
}

func (s *Service) paymentFailed(ctx context.Context, tx *gorm.DB, env string, evt PaymentFailed) error {
	user, err := s.ownerOf(ctx, tx, evt.Payment.CustomerID)
	if err != nil || user == nil {
		return err
	}
	row := paymentRow(user.ID, env, evt.Payment, enums.PaymentStatusFailed)
	if msg := strings.TrimSpace(evt.Payment.FailureMessage); msg != "" {
		row.FailureMessage = &msg
	}
	stored, err := s.billing.WithTx(tx).UpsertPayment(ctx, row)
	if err != nil {
		return fmt.Errorf("upsert payment: %w", err)
	}
	if stored.Status != enums.PaymentStatusFailed {
		s.logg.Info(s.logg.WithField(ctx, "payment_id", stored.ID), "late payment failure ignored for completed payment")
		return nil
	}
	return s.notify.Enqueue(ctx, tx, notifications.Notification{
		UserID: user.ID,
		Email:  user.Email,
		Name:   user.FullName(),
		Kind:   enums.NotificationPaymentFailed,
		Data: map[string]any{
			"payment_id": stored.ID.String(),
			"amount":     types.NewMoney(stored.AmountCents, stored.Currency),
		},
	})
}

func paymentRow(userID uuid.UUID, env string, pi *stripe.PaymentIntent, status enums.PaymentStatus) *models.Payment {
	row := &models.Payment{
		UserID:          userID,
		CoachID:         coachFromMetadata(pi.Metadata),
		Environment:     env,
		StripePaymentID: pi.ID,
		AmountCents:     pi.AmountCents,
		Currency:        currencyOrDefault(pi.Currency),
		Status:          status,
	}
	if desc := strings.TrimSpace(pi.Description); desc != "" {
		row.Description = &desc
	}
	return row
}

func (s *Service) subscriptionCreated(ctx context.Context, tx *gorm.DB, env string, evt SubscriptionCreated) error {
	user, err := s.ownerOf(ctx, tx, evt.Subscription.CustomerID)
	if err != nil || user == nil {
		return err
	}
	stored, err := s.billing.WithTx(tx).UpsertSubscription(ctx, s.subscriptionRow(user.ID, env, evt.Subscription))
	if err != nil {
		return fmt.Errorf("upsert subscription: %w", err)
	}
	if s.staleAfterCancel(ctx, stored, evt.Subscription) {
		return nil
	}
	return s.mirrorBillingStatus(ctx, tx, stored)
}

// subscriptionUpdated only touches rows that already exist. Creation belongs
// to subscriptionCreated or the synchronous API path.
func (s *Service) subscriptionUpdated(ctx context.Context, tx *gorm.DB, env string, evt SubscriptionUpdated) error {
	stored, err := s.billing.WithTx(tx).UpdateSubscriptionByExternalID(ctx, env, evt.Subscription.ID, s.subscriptionState(evt.Subscription))
	if err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	if stored == nil {
		s.logg.Warn(s.logg.WithField(ctx, "subscription_id", evt.Subscription.ID), "update for unknown subscription skipped")
		return nil
	}
	if s.staleAfterCancel(ctx, stored, evt.Subscription) {
		return nil
	}
	return s.mirrorBillingStatus(ctx, tx, stored)
}

// staleAfterCancel reports a created or updated event that arrived after the
// subscription was cancelled. The row already kept its cancelled state.
func (s *Service) staleAfterCancel(ctx context.Context, stored *models.Subscription, sub *stripe.Subscription) bool {
	if !billing.RevivesCancelled(stored, enums.SubscriptionStatusFromGateway(sub.Status)) {
		return false
	}
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"subscription_id": sub.ID,
		"gateway_status":  sub.Status,
	})
	s.logg.Warn(logCtx, "late event for cancelled subscription ignored")
	return true
}

func (s *Service) subscriptionDeleted(ctx context.Context, tx *gorm.DB, env string, evt SubscriptionDeleted) error {
	sub := *evt.Subscription
	sub.Status = string(enums.SubscriptionStatusCancelled)
	if sub.CanceledAt == nil {
		now := s.now()
		sub.CanceledAt = &now
	}

	repo := s.billing.WithTx(tx)
	stored, err := repo.UpdateSubscriptionByExternalID(ctx, env, sub.ID, s.subscriptionState(&sub))
	if err != nil {
		return fmt.Errorf("cancel subscription: %w", err)
	}
	if stored == nil {
		user, err := s.ownerOf(ctx, tx, sub.CustomerID)
		if err != nil || user == nil {
			return err
		}
		if stored, err = repo.UpsertSubscription(ctx, s.subscriptionRow(user.ID, env, &sub)); err != nil {
			return fmt.Errorf("upsert cancelled subscription: %w", err)
		}
	}
	return s.mirrorBillingStatus(ctx, tx, stored)
}

func (s *Service) subscriptionState(sub *stripe.Subscription) billing.SubscriptionState {
	state := billing.SubscriptionState{
		Status:             enums.SubscriptionStatusFromGateway(sub.Status),
		PlanID:             s.planFor(sub),
		CurrentPeriodStart: sub.CurrentPeriodStart,
		CurrentPeriodEnd:   sub.CurrentPeriodEnd,
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
		CancelledAt:        sub.CanceledAt,
	}
	if sub.PriceID != "" {
		price := sub.PriceID
		state.PriceID = &price
	}
	return state
}

func (s *Service) subscriptionRow(userID uuid.UUID, env string, sub *stripe.Subscription) *models.Subscription {
	state := s.subscriptionState(sub)
	planID := state.PlanID
	if planID == "" {
		planID = sub.PriceID
	}
	return &models.Subscription{
		UserID:               userID,
		Environment:          env,
		StripeSubscriptionID: sub.ID,
		StripeCustomerID:     sub.CustomerID,
		PlanID:               planID,
		PriceID:              state.PriceID,
		Status:               state.Status,
		CurrentPeriodStart:   state.CurrentPeriodStart,
		CurrentPeriodEnd:     state.CurrentPeriodEnd,
		CancelAtPeriodEnd:    state.CancelAtPeriodEnd,
		CancelledAt:          state.CancelledAt,
	}
}

func (s *Service) planFor(sub *stripe.Subscription) string {
	if plan := strings.TrimSpace(sub.Metadata[metadataPlanID]); plan != "" {
		return strings.ToLower(plan)
	}
	if sub.PriceID == "" {
		return ""
	}
	return s.plans.PlanForPrice(sub.PriceID)
}

func (s *Service) mirrorBillingStatus(ctx context.Context, tx *gorm.DB, sub *models.Subscription) error {
	status := sub.Status.BillingStatus()
	if status == enums.BillingStatusNone {
		return nil
	}
	changed, err := s.users.WithTx(tx).MirrorBillingStatus(ctx, sub.UserID, status)
	if err != nil {
		return fmt.Errorf("mirror billing status: %w", err)
	}
	if !changed {
		s.logg.Info(s.logg.WithUserID(ctx, sub.UserID.String()), "billing status left unchanged for disabled user")
	}
	return nil
}

func (s *Service) invoicePaid(ctx context.Context, tx *gorm.DB, env string, evt InvoicePaymentSucceeded) error {
	user, err := s.ownerOf(ctx, tx, evt.Invoice.CustomerID)
	if err != nil || user == nil {
		return err
	}
	repo := s.billing.WithTx(tx)
	prior, err := repo.FindInvoiceByExternalID(ctx, env, evt.Invoice.ID)
	if err != nil {
		return fmt.Errorf("load invoice: %w", err)
	}

	row := invoiceRow(user.ID, env, evt.Invoice, enums.InvoiceStatusPaid)
	paidAt := evt.Invoice.PaidAt
	if paidAt == nil {
		now := s.now()
		paidAt = &now
	}
	row.PaidAt = paidAt
	stored, err := repo.UpsertInvoice(ctx, row)
	if err != nil {
		return fmt.Errorf("upsert invoice: %w", err)
	}
	if prior != nil && prior.Status == enums.InvoiceStatusPaid {
		return nil
	}
	return s.notify.Enqueue(ctx, tx, notifications.Notification{
		UserID: user.ID,
		Email:  user.Email,
		Name:   user.FullName(),
		Kind:   enums.NotificationInvoicePaid,
		Data: map[string]any{
			"invoice_id": stored.ID.String(),
			"amount":     types.NewMoney(stored.AmountCents, stored.Currency),
			"paid_at":    stored.PaidAt,
		},
	})
}

func (s *Service) invoicePaymentFailed(ctx context.Context, tx *gorm.DB, env string, evt InvoicePaymentFailed) error {
	user, err := s.ownerOf(ctx, tx, evt.Invoice.CustomerID)
	if err != nil || user == nil {
		return err
	}
	stored, err := s.billing.WithTx(tx).UpsertInvoice(ctx, invoiceRow(user.ID, env, evt.Invoice, enums.InvoiceStatusFailed))
	if err != nil {
		return fmt.Errorf("upsert invoice: %w", err)
	}
	if stored.Status.IsTerminal() {
		s.logg.Info(s.logg.WithField(ctx, "invoice_id", stored.ID), "late failure ignored for paid invoice")
		return nil
	}
	return s.notify.Enqueue(ctx, tx, notifications.Notification{
		UserID: user.ID,
		Email:  user.Email,
		Name:   user.FullName(),
		Kind:   enums.NotificationInvoicePaymentFailed,
		Data: map[string]any{
			"invoice_id": stored.ID.String(),
			"amount":     types.NewMoney(stored.AmountCents, stored.Currency),
		},
	})
}

func invoiceRow(userID uuid.UUID, env string, inv *stripe.Invoice, status enums.InvoiceStatus) *models.Invoice {
	row := &models.Invoice{
		UserID:          userID,
		Environment:     env,
		StripeInvoiceID: inv.ID,
		AmountCents:     inv.AmountCents,
		Currency:        currencyOrDefault(inv.Currency),
		Status:          status,
		InvoiceDate:     inv.Created,
	}
	if inv.SubscriptionID != "" {
		id := inv.SubscriptionID
		row.StripeSubscriptionID = &id
	}
	if inv.PDFURL != "" {
		url := inv.PDFURL
		row.PDFURL = &url
	}
	if inv.HostedURL != "" {
		url := inv.HostedURL
		row.HostedURL = &url
	}
	return row
}

// paymentMethodAttached is a no-op; the API path stores methods when they are added.
func (s *Service) paymentMethodAttached(ctx context.Context, _ *gorm.DB, _ string, evt PaymentMethodAttached) error {
	s.logg.Debug(s.logg.WithField(ctx, "payment_method_id", evt.PaymentMethod.ID), "payment method attached")
	return nil
}

func (s *Service) paymentMethodDetached(ctx context.Context, tx *gorm.DB, env string, evt PaymentMethodDetached) error {
	removed, err := s.billing.WithTx(tx).DeletePaymentMethodByExternalID(ctx, env, evt.PaymentMethod.ID)
	if err != nil {
		return fmt.Errorf("delete payment method: %w", err)
	}
	if removed == 0 {
		s.logg.Debug(s.logg.WithField(ctx, "payment_method_id", evt.PaymentMethod.ID), "detached payment method not stored locally")
	}
	return nil
}

func coachFromMetadata(metadata map[string]string) *uuid.UUID {
	raw := strings.TrimSpace(metadata[metadataCoachID])
	if raw == "" {
		return nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil
	}
	return &id
}

func currencyOrDefault(currency string) string {
	currency = strings.ToLower(strings.TrimSpace(currency))
	if currency == "" {
		return defaultCurrency
	}
	return currency
}
