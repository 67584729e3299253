package billing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bodyf1rst/billing-backend/internal/surcharge"
	"github.com/bodyf1rst/billing-backend/internal/users"
	"github.com/bodyf1rst/billing-backend/pkg/db"
	"github.com/bodyf1rst/billing-backend/pkg/db/models"
	"github.com/bodyf1rst/billing-backend/pkg/enums"
	pkgerrors "github.com/bodyf1rst/billing-backend/pkg/errors"
	"github.com/bodyf1rst/billing-backend/pkg/logger"
	"github.com/bodyf1rst/billing-backend/pkg/pagination"
	"github.com/bodyf1rst/billing-backend/pkg/stripe"
	"github.com/bodyf1rst/billing-backend/pkg/types"
)

const failedPaymentWindow = 30 * 24 * time.Hour

// Gateway is the slice of the payment provider used by member billing.
type Gateway interface {
	Environment() string
	Currency() string
	CreateSetupIntent(ctx context.Context, customerID string) (*stripe.SetupIntent, error)
	AttachPaymentMethod(ctx context.Context, paymentMethodID, customerID string) (*stripe.PaymentMethod, error)
	DetachPaymentMethod(ctx context.Context, paymentMethodID string) error
	SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error
	CreateSubscription(ctx context.Context, params stripe.SubscriptionParams) (*stripe.Subscription, error)
	UpdateSubscription(ctx context.Context, subscriptionID string, params stripe.SubscriptionUpdate) (*stripe.Subscription, error)
	CancelSubscription(ctx context.Context, subscriptionID string, immediately bool) (*stripe.Subscription, error)
}

type customerEnsurer interface {
	Ensure(ctx context.Context, userID uuid.UUID) (*models.User, string, error)
}

// PlanCatalog resolves plan identifiers to gateway prices.
type PlanCatalog interface {
	PriceForPlan(plan string) (string, bool)
	PlanForPrice(price string) string
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
	WithTxOptions(ctx context.Context, opts *sql.TxOptions, fn func(tx *gorm.DB) error) error
}

// Service defines the member billing surface.
type Service interface {
	CreateSetupIntent(ctx context.Context, userID uuid.UUID) (*SetupIntentResult, error)
	AddPaymentMethod(ctx context.Context, userID uuid.UUID, paymentMethodID string) (*PaymentMethodDTO, error)
	ListPaymentMethods(ctx context.Context, userID uuid.UUID) ([]PaymentMethodDTO, error)
	SetDefaultPaymentMethod(ctx context.Context, userID, methodID uuid.UUID) (*PaymentMethodDTO, error)
	DeletePaymentMethod(ctx context.Context, userID, methodID uuid.UUID) error
	CreateSubscription(ctx context.Context, userID uuid.UUID, input CreateSubscriptionInput) (*SubscriptionDTO, error)
	UpdateSubscription(ctx context.Context, userID uuid.UUID, input UpdateSubscriptionInput) (*SubscriptionDTO, error)
	CancelSubscription(ctx context.Context, userID uuid.UUID, immediately bool) (*SubscriptionDTO, error)
	GetSubscription(ctx context.Context, userID uuid.UUID) (*SubscriptionDTO, error)
	ListInvoices(ctx context.Context, userID uuid.UUID, params pagination.Params) (*types.Page[InvoiceDTO], error)
	InvoicePDF(ctx context.Context, userID, invoiceID uuid.UUID) (string, error)
	CalculateSurcharge(input surcharge.Input) (surcharge.Result, error)
	GetAnalytics(ctx context.Context, userID uuid.UUID) (*Analytics, error)
	GetPaymentHistory(ctx context.Context, userID uuid.UUID, limit int) ([]HistoryEntry, error)
}

// ServiceParams groups dependencies for the billing service.
type ServiceParams struct {
	Repo              Repository
	Users             *users.Repository
	Customers         customerEnsurer
	Gateway           Gateway
	Plans             PlanCatalog
	Surcharge         *surcharge.Calculator
	TransactionRunner txRunner
	Logger            *logger.Logger
}

// CreateSubscriptionInput starts a subscription on a configured plan.
type CreateSubscriptionInput struct {
	PlanID          string
	PaymentMethodID string
	IdempotencyKey  string
}

// UpdateSubscriptionInput switches plan and/or resumes a pending cancellation.
type UpdateSubscriptionInput struct {
	PlanID string
	Resume bool
}

type service struct {
	repo      Repository
	users     *users.Repository
	customers customerEnsurer
	gateway   Gateway
	plans     PlanCatalog
	surcharge *surcharge.Calculator
	tx        txRunner
	logg      *logger.Logger
	now       func() time.Time
}

// NewService builds the billing service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("billing repo required")
	}
	if params.Users == nil {
		return nil, fmt.Errorf("users repo required")
	}
	if params.Customers == nil {
		return nil, fmt.Errorf("customer service required")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("gateway client required")
	}
	if params.Plans == nil {
		return nil, fmt.Errorf("plan catalog required")
	}
	if params.Surcharge == nil {
		return nil, fmt.Errorf("surcharge calculator required")
	}
	if params.TransactionRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:      params.Repo,
		users:     params.Users,
		customers: params.Customers,
		gateway:   params.Gateway,
		plans:     params.Plans,
		surcharge: params.Surcharge,
		tx:        params.TransactionRunner,
		logg:      params.Logger,
		now:       time.Now,
	}, nil
}

func (s *service) CreateSetupIntent(ctx context.Context, userID uuid.UUID) (*SetupIntentResult, error) {
	_, customerID, err := s.customers.Ensure(ctx, userID)
	if err != nil {
		return nil, err
	}
	intent, err := s.gateway.CreateSetupIntent(ctx, customerID)
	if err != nil {
		return nil, s.gatewayFailure(ctx, userID, "create setup intent", err)
	}
	return &SetupIntentResult{
		ClientSecret:  intent.ClientSecret,
		SetupIntentID: intent.ID,
		CustomerID:    customerID,
	}, nil
}

// AddPaymentMethod attaches at the gateway before anything is written locally.
// The first method a user adds becomes the default on both sides.
func (s *service) AddPaymentMethod(ctx context.Context, userID uuid.UUID, paymentMethodID string) (*PaymentMethodDTO, error) {
	row, err := s.addPaymentMethod(ctx, userID, paymentMethodID)
	if err != nil {
		return nil, err
	}
	dto := PaymentMethodFromModel(*row)
	return &dto, nil
}

func (s *service) addPaymentMethod(ctx context.Context, userID uuid.UUID, paymentMethodID string) (*models.PaymentMethod, error) {
	paymentMethodID = strings.TrimSpace(paymentMethodID)
	if paymentMethodID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment_method_id is required")
	}
	env := s.gateway.Environment()

	existing, err := s.repo.FindPaymentMethodByExternalID(ctx, env, paymentMethodID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup payment method")
	}
	if existing != nil {
		if existing.UserID != userID {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "payment method belongs to another account")
		}
		return existing, nil
	}

	_, customerID, err := s.customers.Ensure(ctx, userID)
	if err != nil {
		return nil, err
	}

	attached, err := s.gateway.AttachPaymentMethod(ctx, paymentMethodID, customerID)
	if err != nil {
		return nil, s.gatewayFailure(ctx, userID, "attach payment method", err)
	}

	row := &models.PaymentMethod{
		UserID:                userID,
		Environment:           env,
		StripePaymentMethodID: attached.ID,
		Type:                  enums.PaymentMethodTypeFromGateway(attached.Type),
		Brand:                 strPtr(attached.Brand),
		Last4:                 strPtr(attached.Last4),
		ExpMonth:              intPtr(attached.ExpMonth),
		ExpYear:               intPtr(attached.ExpYear),
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)
		count, err := txRepo.CountPaymentMethods(ctx, userID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "count payment methods")
		}
		row.IsDefault = count == 0
		if err := txRepo.CreatePaymentMethod(ctx, row); err != nil {
			if db.IsUniqueViolation(err, "") {
				return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "payment method changed concurrently")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create payment method")
		}
		if row.IsDefault {
			if err := s.gateway.SetDefaultPaymentMethod(ctx, customerID, row.StripePaymentMethodID); err != nil {
				return s.gatewayFailure(ctx, userID, "set default payment method", err)
			}
		}
		return nil
	})
	if err != nil {
		if pkgerrors.Is(err, pkgerrors.CodeConflict) {
			if stored, lookupErr := s.repo.FindPaymentMethodByExternalID(ctx, env, attached.ID); lookupErr == nil && stored != nil && stored.UserID == userID {
				return stored, nil
			}
		}
		return nil, err
	}
	return row, nil
}

func (s *service) ListPaymentMethods(ctx context.Context, userID uuid.UUID) ([]PaymentMethodDTO, error) {
	rows, err := s.repo.ListPaymentMethods(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list payment methods")
	}
	out := make([]PaymentMethodDTO, 0, len(rows))
	for _, row := range rows {
		out = append(out, PaymentMethodFromModel(row))
	}
	return out, nil
}

// SetDefaultPaymentMethod clears every default for the user, sets the chosen
// one, then pushes it to the gateway. A gateway failure rolls the swap back.
func (s *service) SetDefaultPaymentMethod(ctx context.Context, userID, methodID uuid.UUID) (*PaymentMethodDTO, error) {
	row, err := s.setDefault(ctx, userID, methodID)
	if err != nil {
		return nil, err
	}
	dto := PaymentMethodFromModel(*row)
	return &dto, nil
}

func (s *service) setDefault(ctx context.Context, userID, methodID uuid.UUID) (*models.PaymentMethod, error) {
	row, err := s.repo.FindPaymentMethod(ctx, userID, methodID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payment method")
	}
	if row == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment method not found")
	}
	if row.IsDefault {
		return row, nil
	}
	_, customerID, err := s.customers.Ensure(ctx, userID)
	if err != nil {
		return nil, err
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)
		if err := txRepo.ClearDefaultPaymentMethods(ctx, userID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "clear default payment methods")
		}
		if err := txRepo.MarkDefaultPaymentMethod(ctx, userID, row.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark default payment method")
		}
		if err := s.gateway.SetDefaultPaymentMethod(ctx, customerID, row.StripePaymentMethodID); err != nil {
			return s.gatewayFailure(ctx, userID, "set default payment method", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	row.IsDefault = true
	return row, nil
}

// DeletePaymentMethod refuses to remove the default; another method must be
// promoted first. A method the gateway no longer has attached is still
// removed locally.
func (s *service) DeletePaymentMethod(ctx context.Context, userID, methodID uuid.UUID) error {
	row, err := s.repo.FindPaymentMethod(ctx, userID, methodID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payment method")
	}
	if row == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "payment method not found")
	}
	if row.IsDefault {
		return pkgerrors.New(pkgerrors.CodeConflict, "cannot delete the default payment method; set another method as default first")
	}

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.gateway.DetachPaymentMethod(ctx, row.StripePaymentMethodID); err != nil {
			if !errors.Is(err, stripe.ErrNotAttached) {
				return s.gatewayFailure(ctx, userID, "detach payment method", err)
			}
			logCtx := s.logg.WithFields(ctx, map[string]any{
				"user_id":           userID.String(),
				"payment_method_id": row.StripePaymentMethodID,
			})
			s.logg.Warn(logCtx, "payment method already detached at gateway")
		}
		if err := s.repo.WithTx(tx).DeletePaymentMethod(ctx, row.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "delete payment method")
		}
		return nil
	})
}

func (s *service) CreateSubscription(ctx context.Context, userID uuid.UUID, input CreateSubscriptionInput) (*SubscriptionDTO, error) {
	planID := strings.TrimSpace(strings.ToLower(input.PlanID))
	priceID, ok := s.plans.PriceForPlan(planID)
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown plan").WithDetails(map[string]string{"plan_id": input.PlanID})
	}

	current, err := s.repo.FindCurrentSubscription(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load current subscription")
	}
	if current != nil {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "user already has an active subscription")
	}

	user, customerID, err := s.customers.Ensure(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.BillingStatus == enums.BillingStatusDisabled {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "billing is disabled for this account")
	}

	var method *models.PaymentMethod
	if strings.TrimSpace(input.PaymentMethodID) != "" {
		method, err = s.addPaymentMethod(ctx, userID, input.PaymentMethodID)
		if err != nil {
			return nil, err
		}
		if !method.IsDefault {
			if method, err = s.setDefault(ctx, userID, method.ID); err != nil {
				return nil, err
			}
		}
	} else {
		method, err = s.defaultPaymentMethod(ctx, userID)
		if err != nil {
			return nil, err
		}
	}

	created, err := s.gateway.CreateSubscription(ctx, stripe.SubscriptionParams{
		CustomerID:      customerID,
		PriceID:         priceID,
		PaymentMethodID: method.StripePaymentMethodID,
		Metadata: map[string]string{
			"user_id": userID.String(),
			"plan_id": planID,
		},
		IdempotencyKey: input.IdempotencyKey,
	})
	if err != nil {
		return nil, s.gatewayFailure(ctx, userID, "create subscription", err)
	}

	row := s.subscriptionRow(userID, planID, created)
	var stored *models.Subscription
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		stored, err = s.persistSubscription(ctx, tx, row)
		return err
	})
	if err != nil {
		return nil, err
	}
	dto := SubscriptionFromModel(*stored)
	return &dto, nil
}

func (s *service) defaultPaymentMethod(ctx context.Context, userID uuid.UUID) (*models.PaymentMethod, error) {
	methods, err := s.repo.ListPaymentMethods(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list payment methods")
	}
	for i := range methods {
		if methods[i].IsDefault {
			return &methods[i], nil
		}
	}
	return nil, pkgerrors.New(pkgerrors.CodeValidation, "a payment method is required").WithDetails(map[string]string{"payment_method_id": "required"})
}

func (s *service) UpdateSubscription(ctx context.Context, userID uuid.UUID, input UpdateSubscriptionInput) (*SubscriptionDTO, error) {
	sub, err := s.repo.FindLatestSubscription(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load subscription")
	}
	if sub == nil || sub.Status == enums.SubscriptionStatusCancelled {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
	}

	update := stripe.SubscriptionUpdate{Resume: input.Resume}
	planID := sub.PlanID
	if strings.TrimSpace(input.PlanID) != "" {
		planID = strings.TrimSpace(strings.ToLower(input.PlanID))
		priceID, ok := s.plans.PriceForPlan(planID)
		if !ok {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown plan").WithDetails(map[string]string{"plan_id": input.PlanID})
		}
		if sub.PriceID == nil || *sub.PriceID != priceID {
			update.PriceID = priceID
		}
	}
	if update.PriceID == "" && !update.Resume {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "nothing to update")
	}

	updated, err := s.gateway.UpdateSubscription(ctx, sub.StripeSubscriptionID, update)
	if err != nil {
		return nil, s.gatewayFailure(ctx, userID, "update subscription", err)
	}

	row := s.subscriptionRow(userID, planID, updated)
	var stored *models.Subscription
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		stored, err = s.persistSubscription(ctx, tx, row)
		return err
	})
	if err != nil {
		return nil, err
	}
	dto := SubscriptionFromModel(*stored)
	return &dto, nil
}

// CancelSubscription cancels at the gateway first. Immediate cancellation
// ends the subscription now; otherwise it stops renewing at period end and
// the status changes when the gateway reports it.
func (s *service) CancelSubscription(ctx context.Context, userID uuid.UUID, immediately bool) (*SubscriptionDTO, error) {
	sub, err := s.repo.FindCurrentSubscription(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load subscription")
	}
	if sub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
	}

	cancelled, err := s.gateway.CancelSubscription(ctx, sub.StripeSubscriptionID, immediately)
	if err != nil {
		return nil, s.gatewayFailure(ctx, userID, "cancel subscription", err)
	}

	row := s.subscriptionRow(userID, sub.PlanID, cancelled)
	if immediately {
		now := s.now().UTC()
		row.Status = enums.SubscriptionStatusCancelled
		if row.CancelledAt == nil {
			row.CancelledAt = &now
		}
	} else {
		row.CancelAtPeriodEnd = true
		row.Status = sub.Status
	}

	var stored *models.Subscription
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		stored, err = s.persistSubscription(ctx, tx, row)
		return err
	})
	if err != nil {
		return nil, err
	}
	dto := SubscriptionFromModel(*stored)
	return &dto, nil
}

// GetSubscription returns the latest local subscription, or nil when the user
// never subscribed.
func (s *service) GetSubscription(ctx context.Context, userID uuid.UUID) (*SubscriptionDTO, error) {
	sub, err := s.repo.FindLatestSubscription(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load subscription")
	}
	if sub == nil {
		return nil, nil
	}
	dto := SubscriptionFromModel(*sub)
	return &dto, nil
}

func (s *service) subscriptionRow(userID uuid.UUID, planID string, sub *stripe.Subscription) *models.Subscription {
	if plan := s.plans.PlanForPrice(sub.PriceID); plan != "" {
		planID = plan
	}
	return &models.Subscription{
		UserID:               userID,
		Environment:          s.gateway.Environment(),
		StripeSubscriptionID: sub.ID,
		StripeCustomerID:     sub.CustomerID,
		PlanID:               planID,
		PriceID:              strPtr(sub.PriceID),
		Status:               enums.SubscriptionStatusFromGateway(sub.Status),
		CurrentPeriodStart:   sub.CurrentPeriodStart,
		CurrentPeriodEnd:     sub.CurrentPeriodEnd,
		CancelAtPeriodEnd:    sub.CancelAtPeriodEnd,
		CancelledAt:          sub.CanceledAt,
	}
}

// persistSubscription upserts the row and mirrors the user's billing status.
func (s *service) persistSubscription(ctx context.Context, tx *gorm.DB, row *models.Subscription) (*models.Subscription, error) {
	stored, err := s.repo.WithTx(tx).UpsertSubscription(ctx, row)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "upsert subscription")
	}
	if status := stored.Status.BillingStatus(); status != enums.BillingStatusNone {
		if _, err := s.users.WithTx(tx).MirrorBillingStatus(ctx, stored.UserID, status); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update billing status")
		}
	}
	return stored, nil
}

func (s *service) ListInvoices(ctx context.Context, userID uuid.UUID, params pagination.Params) (*types.Page[InvoiceDTO], error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, next, err := s.repo.ListInvoices(ctx, ListInvoicesQuery{UserID: userID, Limit: params.Limit, Cursor: cursor})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list invoices")
	}
	page := &types.Page[InvoiceDTO]{Items: make([]InvoiceDTO, 0, len(rows))}
	for _, row := range rows {
		page.Items = append(page.Items, InvoiceFromModel(row))
	}
	if next != nil {
		page.NextCursor = pagination.EncodeCursor(*next)
	}
	return page, nil
}

// InvoicePDF returns the gateway-hosted PDF link for one of the user's invoices.
func (s *service) InvoicePDF(ctx context.Context, userID, invoiceID uuid.UUID) (string, error) {
	invoice, err := s.repo.FindInvoice(ctx, invoiceID)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load invoice")
	}
	if invoice == nil || invoice.UserID != userID {
		return "", pkgerrors.New(pkgerrors.CodeNotFound, "invoice not found")
	}
	if deref(invoice.PDFURL) == "" {
		return "", pkgerrors.New(pkgerrors.CodeNotFound, "invoice pdf not available")
	}
	return *invoice.PDFURL, nil
}

func (s *service) CalculateSurcharge(input surcharge.Input) (surcharge.Result, error) {
	return s.surcharge.Calculate(input)
}

// GetAnalytics aggregates local rows only; the gateway is never consulted.
func (s *service) GetAnalytics(ctx context.Context, userID uuid.UUID) (*Analytics, error) {
	var (
		stats   *InvoiceStats
		methods int64
		failed  int64
		sub     *models.Subscription
	)
	// One snapshot, so a webhook landing mid-read cannot skew the totals.
	snapshot := &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
	err := s.tx.WithTxOptions(ctx, snapshot, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		var err error
		if stats, err = repo.InvoiceStats(ctx, userID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "invoice stats")
		}
		if methods, err = repo.CountPaymentMethods(ctx, userID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "count payment methods")
		}
		if failed, err = repo.CountFailedPaymentsSince(ctx, userID, s.now().Add(-failedPaymentWindow)); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "count failed payments")
		}
		if sub, err = repo.FindCurrentSubscription(ctx, userID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load subscription")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := &Analytics{
		TotalPaid:                types.NewMoney(stats.TotalPaidCents, s.gateway.Currency()),
		InvoiceCounts:            make(map[string]int64, len(stats.CountByStatus)),
		LastPaymentAt:            stats.LastPaidAt,
		PaymentMethodCount:       methods,
		FailedPaymentsLast30Days: failed,
	}
	for status, n := range stats.CountByStatus {
		out.InvoiceCounts[string(status)] = n
	}
	if sub != nil {
		dto := SubscriptionFromModel(*sub)
		out.Subscription = &dto
	}
	return out, nil
}

// GetPaymentHistory merges payments and invoices into one timeline, newest first.
func (s *service) GetPaymentHistory(ctx context.Context, userID uuid.UUID, limit int) ([]HistoryEntry, error) {
	limit = pagination.NormalizeLimit(limit)
	payments, err := s.repo.ListRecentPayments(ctx, userID, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list payments")
	}
	invoices, err := s.repo.ListRecentInvoices(ctx, userID, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list invoices")
	}

	entries := make([]HistoryEntry, 0, len(payments)+len(invoices))
	for _, p := range payments {
		date := p.CreatedAt
		if p.PaymentDate != nil {
			date = *p.PaymentDate
		}
		entries = append(entries, HistoryEntry{
			Kind:        HistoryPayment,
			ID:          p.ID,
			ExternalID:  p.StripePaymentID,
			Amount:      types.NewMoney(p.AmountCents, p.Currency),
			Status:      string(p.Status),
			Description: deref(p.Description),
			Date:        date,
		})
	}
	for _, inv := range invoices {
		date := inv.CreatedAt
		if inv.InvoiceDate != nil {
			date = *inv.InvoiceDate
		}
		entries = append(entries, HistoryEntry{
			Kind:       HistoryInvoice,
			ID:         inv.ID,
			ExternalID: inv.StripeInvoiceID,
			Amount:     types.NewMoney(inv.AmountCents, inv.Currency),
			Status:     string(inv.Status),
			Date:       date,
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Date.After(entries[j].Date)
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// gatewayFailure logs the upstream error with the operation and user, and
// returns an error whose public message hides the upstream text.
func (s *service) gatewayFailure(ctx context.Context, userID uuid.UUID, operation string, err error) error {
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"user_id":   userID.String(),
		"operation": operation,
	})
	s.logg.Error(logCtx, "payment gateway call failed", err)
	return pkgerrors.Gateway(err, operation)
}
