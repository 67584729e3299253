package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/bodyf1rst/billing-backend/internal/repo"
	"github.com/bodyf1rst/billing-backend/pkg/db/models"
	"github.com/bodyf1rst/billing-backend/pkg/enums"
	"github.com/bodyf1rst/billing-backend/pkg/pagination"
)

// Repository handles billing persistence. Every gateway-mirrored row is keyed
// by (environment, external id) so replays update instead of insert.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	CountPaymentMethods(ctx context.Context, userID uuid.UUID) (int64, error)
	ListPaymentMethods(ctx context.Context, userID uuid.UUID) ([]models.PaymentMethod, error)
	FindPaymentMethod(ctx context.Context, userID, id uuid.UUID) (*models.PaymentMethod, error)
	FindPaymentMethodByExternalID(ctx context.Context, env, externalID string) (*models.PaymentMethod, error)
	CreatePaymentMethod(ctx context.Context, method *models.PaymentMethod) error
	ClearDefaultPaymentMethods(ctx context.Context, userID uuid.UUID) error
	MarkDefaultPaymentMethod(ctx context.Context, userID, id uuid.UUID) error
	DeletePaymentMethod(ctx context.Context, id uuid.UUID) error
	DeletePaymentMethodByExternalID(ctx context.Context, env, externalID string) (int64, error)

	UpsertSubscription(ctx context.Context, sub *models.Subscription) (*models.Subscription, error)
	UpdateSubscriptionByExternalID(ctx context.Context, env, externalID string, state SubscriptionState) (*models.Subscription, error)
	FindLatestSubscription(ctx context.Context, userID uuid.UUID) (*models.Subscription, error)
	FindCurrentSubscription(ctx context.Context, userID uuid.UUID) (*models.Subscription, error)
	ListSubscriptionsForReconciliation(ctx context.Context, env string, limit int, lookback time.Duration) ([]models.Subscription, error)

	UpsertInvoice(ctx context.Context, invoice *models.Invoice) (*models.Invoice, error)
	FindInvoice(ctx context.Context, id uuid.UUID) (*models.Invoice, error)
	FindInvoiceByExternalID(ctx context.Context, env, externalID string) (*models.Invoice, error)
	ListInvoices(ctx context.Context, params ListInvoicesQuery) ([]models.Invoice, *pagination.Cursor, error)
	SetInvoiceDocument(ctx context.Context, id uuid.UUID, path string) error

	UpsertPayment(ctx context.Context, payment *models.Payment) (*models.Payment, error)
	ListRecentPayments(ctx context.Context, userID uuid.UUID, limit int) ([]models.Payment, error)
	ListRecentInvoices(ctx context.Context, userID uuid.UUID, limit int) ([]models.Invoice, error)
	InvoiceStats(ctx context.Context, userID uuid.UUID) (*InvoiceStats, error)
	CountFailedPaymentsSince(ctx context.Context, userID uuid.UUID, since time.Time) (int64, error)
}

// SubscriptionState is the gateway-owned part of a subscription row.
type SubscriptionState struct {
	Status             enums.SubscriptionStatus
	PriceID            *string
	PlanID             string
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CancelAtPeriodEnd  bool
	CancelledAt        *time.Time
}

// RevivesCancelled reports whether applying incoming to stored would bring a
// cancelled subscription back. Gateway cancellation is final, so such events
// are stale and must not touch the user's billing status.
func RevivesCancelled(stored *models.Subscription, incoming enums.SubscriptionStatus) bool {
	return stored != nil &&
		stored.Status == enums.SubscriptionStatusCancelled &&
		incoming != enums.SubscriptionStatusCancelled
}

// ListInvoicesQuery configures invoice list queries.
type ListInvoicesQuery struct {
	UserID uuid.UUID
	Limit  int
	Cursor *pagination.Cursor
}

// InvoiceStats aggregates a user's invoices.
type InvoiceStats struct {
	TotalPaidCents int64
	CountByStatus  map[enums.InvoiceStatus]int64
	LastPaidAt     *time.Time
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a billing repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CountPaymentMethods(ctx context.Context, userID uuid.UUID) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.PaymentMethod{}).Where("user_id = ?", userID).Count(&n).Error
	return n, err
}

func (r *repository) ListPaymentMethods(ctx context.Context, userID uuid.UUID) ([]models.PaymentMethod, error) {
	var methods []models.PaymentMethod
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("is_default DESC, created_at DESC, id DESC").
		Find(&methods).Error; err != nil {
		return nil, err
	}
	return methods, nil
}

func (r *repository) FindPaymentMethod(ctx context.Context, userID, id uuid.UUID) (*models.PaymentMethod, error) {
	return repo.FirstOrNil[models.PaymentMethod](r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID))
}

func (r *repository) FindPaymentMethodByExternalID(ctx context.Context, env, externalID string) (*models.PaymentMethod, error) {
	return repo.FirstOrNil[models.PaymentMethod](r.db.WithContext(ctx).
		Where("environment = ? AND stripe_payment_method_id = ?", env, externalID))
}

func (r *repository) CreatePaymentMethod(ctx context.Context, method *models.PaymentMethod) error {
	return r.db.WithContext(ctx).Create(method).Error
}

func (r *repository) ClearDefaultPaymentMethods(ctx context.Context, userID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.PaymentMethod{}).
		Where("user_id = ? AND is_default = ?", userID, true).
		Update("is_default", false).Error
}

func (r *repository) MarkDefaultPaymentMethod(ctx context.Context, userID, id uuid.UUID) error {
	res := r.db.WithContext(ctx).
		Model(&models.PaymentMethod{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("is_default", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *repository) DeletePaymentMethod(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.PaymentMethod{}).Error
}

func (r *repository) DeletePaymentMethodByExternalID(ctx context.Context, env, externalID string) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("environment = ? AND stripe_payment_method_id = ?", env, externalID).
		Delete(&models.PaymentMethod{})
	return res.RowsAffected, res.Error
}

// subscriptionLifecycle are the columns a cancelled row keeps forever.
var subscriptionLifecycle = []string{
	"status",
	"current_period_start",
	"current_period_end",
	"cancel_at_period_end",
	"cancelled_at",
}

// UpsertSubscription inserts or updates by external id. Once the stored row
// is cancelled, later events leave its lifecycle columns untouched.
func (r *repository) UpsertSubscription(ctx context.Context, sub *models.Subscription) (*models.Subscription, error) {
	updates := clause.AssignmentColumns([]string{"updated_at"})
	for _, column := range subscriptionLifecycle {
		updates = append(updates, clause.Assignment{
			Column: clause.Column{Name: column},
			Value:  gorm.Expr(fmt.Sprintf("CASE WHEN subscriptions.status = ? THEN subscriptions.%[1]s ELSE excluded.%[1]s END", column), enums.SubscriptionStatusCancelled),
		})
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "environment"}, {Name: "stripe_subscription_id"}},
		DoUpdates: append(updates,
			clause.Assignment{Column: clause.Column{Name: "stripe_customer_id"}, Value: gorm.Expr("COALESCE(NULLIF(excluded.stripe_customer_id, ''), subscriptions.stripe_customer_id)")},
			clause.Assignment{Column: clause.Column{Name: "plan_id"}, Value: gorm.Expr("COALESCE(NULLIF(excluded.plan_id, ''), subscriptions.plan_id)")},
			clause.Assignment{Column: clause.Column{Name: "price_id"}, Value: gorm.Expr("COALESCE(excluded.price_id, subscriptions.price_id)")},
		),
	}).Create(sub).Error
	if err != nil {
		return nil, err
	}
	return r.findSubscriptionByExternalID(ctx, sub.Environment, sub.StripeSubscriptionID)
}

// UpdateSubscriptionByExternalID applies state to an existing row only. A
// cancelled row is returned as stored, and nil, nil means no row matches.
func (r *repository) UpdateSubscriptionByExternalID(ctx context.Context, env, externalID string, state SubscriptionState) (*models.Subscription, error) {
	updates := map[string]any{
		"status":               state.Status,
		"current_period_start": state.CurrentPeriodStart,
		"current_period_end":   state.CurrentPeriodEnd,
		"cancel_at_period_end": state.CancelAtPeriodEnd,
		"cancelled_at":         state.CancelledAt,
	}
	if state.PriceID != nil {
		updates["price_id"] = *state.PriceID
	}
	if state.PlanID != "" {
		updates["plan_id"] = state.PlanID
	}
	res := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("environment = ? AND stripe_subscription_id = ? AND status <> ?", env, externalID, enums.SubscriptionStatusCancelled).
		Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}
	return r.findSubscriptionByExternalID(ctx, env, externalID)
}

func (r *repository) findSubscriptionByExternalID(ctx context.Context, env, externalID string) (*models.Subscription, error) {
	return repo.FirstOrNil[models.Subscription](r.db.WithContext(ctx).
		Where("environment = ? AND stripe_subscription_id = ?", env, externalID))
}

func (r *repository) FindLatestSubscription(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	return repo.FirstOrNil[models.Subscription](r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC"))
}

func (r *repository) FindCurrentSubscription(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	return repo.FirstOrNil[models.Subscription](r.db.WithContext(ctx).
		Where("user_id = ? AND status IN ?", userID, currentSubscriptionStatuses).
		Order("created_at DESC, id DESC"))
}

var currentSubscriptionStatuses = []enums.SubscriptionStatus{
	enums.SubscriptionStatusActive,
	enums.SubscriptionStatusTrialing,
	enums.SubscriptionStatusPastDue,
}

func (r *repository) ListSubscriptionsForReconciliation(ctx context.Context, env string, limit int, lookback time.Duration) ([]models.Subscription, error) {
	if limit <= 0 {
		limit = 250
	}
	if lookback <= 0 {
		lookback = 7 * 24 * time.Hour
	}
	cutoff := time.Now().UTC().Add(-lookback)
	open := []enums.SubscriptionStatus{
		enums.SubscriptionStatusActive,
		enums.SubscriptionStatusTrialing,
		enums.SubscriptionStatusPastDue,
		enums.SubscriptionStatusIncomplete,
		enums.SubscriptionStatusUnpaid,
		enums.SubscriptionStatusPaused,
	}
	var subs []models.Subscription
	if err := r.db.WithContext(ctx).
		Where("environment = ? AND stripe_subscription_id <> ''", env).
		Where("status IN ? OR (cancel_at_period_end = ? AND current_period_end >= ?)", open, true, cutoff).
		Order("updated_at ASC").
		Limit(limit).
		Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

// UpsertInvoice inserts or updates by external id. A paid invoice stays paid.
func (r *repository) UpsertInvoice(ctx context.Context, invoice *models.Invoice) (*models.Invoice, error) {
	paid := enums.InvoiceStatusPaid
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "environment"}, {Name: "stripe_invoice_id"}},
		DoUpdates: append(
			clause.AssignmentColumns([]string{"amount_cents", "currency", "updated_at"}),
			clause.Assignment{Column: clause.Column{Name: "status"}, Value: gorm.Expr("CASE WHEN invoices.status = ? THEN invoices.status ELSE excluded.status END", paid)},
			clause.Assignment{Column: clause.Column{Name: "paid_at"}, Value: gorm.Expr("COALESCE(invoices.paid_at, excluded.paid_at)")},
			clause.Assignment{Column: clause.Column{Name: "stripe_subscription_id"}, Value: gorm.Expr("COALESCE(excluded.stripe_subscription_id, invoices.stripe_subscription_id)")},
			clause.Assignment{Column: clause.Column{Name: "invoice_date"}, Value: gorm.Expr("COALESCE(invoices.invoice_date, excluded.invoice_date)")},
			clause.Assignment{Column: clause.Column{Name: "pdf_url"}, Value: gorm.Expr("COALESCE(excluded.pdf_url, invoices.pdf_url)")},
			clause.Assignment{Column: clause.Column{Name: "hosted_url"}, Value: gorm.Expr("COALESCE(excluded.hosted_url, invoices.hosted_url)")},
		),
	}).Create(invoice).Error
	if err != nil {
		return nil, err
	}
	return r.FindInvoiceByExternalID(ctx, invoice.Environment, invoice.StripeInvoiceID)
}

func (r *repository) FindInvoice(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	return repo.FirstOrNil[models.Invoice](r.db.WithContext(ctx).Where("id = ?", id))
}

func (r *repository) FindInvoiceByExternalID(ctx context.Context, env, externalID string) (*models.Invoice, error) {
	return repo.FirstOrNil[models.Invoice](r.db.WithContext(ctx).
		Where("environment = ? AND stripe_invoice_id = ?", env, externalID))
}

func (r *repository) ListInvoices(ctx context.Context, params ListInvoicesQuery) ([]models.Invoice, *pagination.Cursor, error) {
	var invoices []models.Invoice
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", params.UserID).
		Scopes(pagination.Keyset(params.Cursor, params.Limit)).
		Find(&invoices).Error; err != nil {
		return nil, nil, err
	}
	page, next := pagination.Trim(invoices, params.Limit, func(inv models.Invoice) pagination.Cursor {
		return pagination.Cursor{CreatedAt: inv.CreatedAt, ID: inv.ID}
	})
	return page, next, nil
}

func (r *repository) SetInvoiceDocument(ctx context.Context, id uuid.UUID, path string) error {
	res := r.db.WithContext(ctx).
		Model(&models.Invoice{}).
		Where("id = ?", id).
		Update("document_path", path)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// UpsertPayment inserts or updates by external id. A completed payment stays completed.
func (r *repository) UpsertPayment(ctx context.Context, payment *models.Payment) (*models.Payment, error) {
	completed := enums.PaymentStatusCompleted
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "environment"}, {Name: "stripe_payment_id"}},
		DoUpdates: append(
			clause.AssignmentColumns([]string{"amount_cents", "currency", "updated_at"}),
			clause.Assignment{Column: clause.Column{Name: "status"}, Value: gorm.Expr("CASE WHEN payments.status = ? THEN payments.status ELSE excluded.status END", completed)},
			clause.Assignment{Column: clause.Column{Name: "failure_message"}, Value: gorm.Expr("CASE WHEN payments.status = ? THEN payments.failure_message ELSE excluded.failure_message END", completed)},
			clause.Assignment{Column: clause.Column{Name: "payment_date"}, Value: gorm.Expr("CASE WHEN payments.status = ? THEN payments.payment_date ELSE COALESCE(excluded.payment_date, payments.payment_date) END", completed)},
			clause.Assignment{Column: clause.Column{Name: "coach_id"}, Value: gorm.Expr("COALESCE(excluded.coach_id, payments.coach_id)")},
			clause.Assignment{Column: clause.Column{Name: "description"}, Value: gorm.Expr("COALESCE(excluded.description, payments.description)")},
		),
	}).Create(payment).Error
	if err != nil {
		return nil, err
	}
	return repo.FirstOrNil[models.Payment](r.db.WithContext(ctx).
		Where("environment = ? AND stripe_payment_id = ?", payment.Environment, payment.StripePaymentID))
}

func (r *repository) ListRecentPayments(ctx context.Context, userID uuid.UUID, limit int) ([]models.Payment, error) {
	var payments []models.Payment
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Limit(pagination.NormalizeLimit(limit)).
		Find(&payments).Error; err != nil {
		return nil, err
	}
	return payments, nil
}

func (r *repository) ListRecentInvoices(ctx context.Context, userID uuid.UUID, limit int) ([]models.Invoice, error) {
	var invoices []models.Invoice
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Limit(pagination.NormalizeLimit(limit)).
		Find(&invoices).Error; err != nil {
		return nil, err
	}
	return invoices, nil
}

func (r *repository) InvoiceStats(ctx context.Context, userID uuid.UUID) (*InvoiceStats, error) {
	stats := &InvoiceStats{CountByStatus: map[enums.InvoiceStatus]int64{}}

	var groups []struct {
		Status enums.InvoiceStatus
		Count  int64
		Total  int64
	}
	if err := r.db.WithContext(ctx).
		Model(&models.Invoice{}).
		Select("status, COUNT(*) AS count, COALESCE(SUM(amount_cents), 0) AS total").
		Where("user_id = ?", userID).
		Group("status").
		Scan(&groups).Error; err != nil {
		return nil, err
	}
	for _, g := range groups {
		stats.CountByStatus[g.Status] = g.Count
		if g.Status == enums.InvoiceStatusPaid {
			stats.TotalPaidCents = g.Total
		}
	}

	last, err := repo.FirstOrNil[models.Invoice](r.db.WithContext(ctx).
		Where("user_id = ? AND status = ? AND paid_at IS NOT NULL", userID, enums.InvoiceStatusPaid).
		Order("paid_at DESC"))
	if err != nil {
		return nil, err
	}
	if last != nil {
		stats.LastPaidAt = last.PaidAt
	}
	return stats, nil
}

func (r *repository) CountFailedPaymentsSince(ctx context.Context, userID uuid.UUID, since time.Time) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("user_id = ? AND status = ? AND created_at >= ?", userID, enums.PaymentStatusFailed, since.UTC()).
		Count(&n).Error
	return n, err
}
