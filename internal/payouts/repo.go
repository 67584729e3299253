package payouts

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bodyf1rst/billing-backend/internal/repo"
	"github.com/bodyf1rst/billing-backend/pkg/db/models"
	"github.com/bodyf1rst/billing-backend/pkg/enums"
	"github.com/bodyf1rst/billing-backend/pkg/pagination"
)

// Repository persists payout requests and reads coach earnings.
type Repository struct {
	repo.Base
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(db)}
}

func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{Base: r.Base.Bind(tx)}
}

func (r *Repository) Create(ctx context.Context, payout *models.PayoutRequest) error {
	return r.DB(ctx).Create(payout).Error
}

// Find returns the coach's payout, or nil when it does not exist or belongs to someone else.
func (r *Repository) Find(ctx context.Context, coachID, id uuid.UUID) (*models.PayoutRequest, error) {
	return repo.FirstOrNil[models.PayoutRequest](r.DB(ctx).Where("id = ? AND coach_id = ?", id, coachID))
}

// List returns the coach's payouts newest first.
func (r *Repository) List(ctx context.Context, coachID uuid.UUID, limit int, cursor *pagination.Cursor) ([]models.PayoutRequest, *pagination.Cursor, error) {
	var rows []models.PayoutRequest
	if err := r.DB(ctx).
		Where("coach_id = ?", coachID).
		Scopes(pagination.Keyset(cursor, limit)).
		Find(&rows).Error; err != nil {
		return nil, nil, err
	}
	page, next := pagination.Trim(rows, limit, func(p models.PayoutRequest) pagination.Cursor {
		return pagination.Cursor{CreatedAt: p.CreatedAt, ID: p.ID}
	})
	return page, next, nil
}

// ListOpen returns payouts the gateway may still move, oldest first.
func (r *Repository) ListOpen(ctx context.Context, env string, limit int) ([]models.PayoutRequest, error) {
	var rows []models.PayoutRequest
	err := r.DB(ctx).
		Where("environment = ? AND status IN ?", env, []enums.PayoutStatus{enums.PayoutStatusPending, enums.PayoutStatusInTransit}).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// StatusUpdate is the gateway-owned part of a payout row.
type StatusUpdate struct {
	Status         enums.PayoutStatus
	ArrivalDate    *time.Time
	FailureMessage *string
}

func (r *Repository) UpdateStatus(ctx context.Context, id uuid.UUID, update StatusUpdate) error {
	res := r.DB(ctx).
		Model(&models.PayoutRequest{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":          update.Status,
			"arrival_date":    update.ArrivalDate,
			"failure_message": update.FailureMessage,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// EarningsTotals aggregates a coach's attributed payments and payouts in minor units.
type EarningsTotals struct {
	EarnedCents   int64
	PaymentCount  int64
	PendingCents  int64
	PaidOutCents  int64
	LastPaymentAt *time.Time
}

func (r *Repository) Earnings(ctx context.Context, coachID uuid.UUID, env string) (*EarningsTotals, error) {
	var earned struct {
		Total int64
		Count int64
	}
	if err := r.DB(ctx).
		Model(&models.Payment{}).
		Select("COALESCE(SUM(amount_cents), 0) AS total, COUNT(*) AS count").
		Where("coach_id = ? AND environment = ? AND status = ?", coachID, env, enums.PaymentStatusCompleted).
		Scan(&earned).Error; err != nil {
		return nil, err
	}

	var last models.Payment
	lastRes := r.DB(ctx).
		Where("coach_id = ? AND environment = ? AND status = ?", coachID, env, enums.PaymentStatusCompleted).
		Order("payment_date DESC").
		Limit(1).
		Find(&last)
	if lastRes.Error != nil {
		return nil, lastRes.Error
	}

	var byStatus []struct {
		Status enums.PayoutStatus
		Total  int64
	}
	if err := r.DB(ctx).
		Model(&models.PayoutRequest{}).
		Select("status, COALESCE(SUM(amount_cents), 0) AS total").
		Where("coach_id = ? AND environment = ?", coachID, env).
		Group("status").
		Scan(&byStatus).Error; err != nil {
		return nil, err
	}

	totals := &EarningsTotals{EarnedCents: earned.Total, PaymentCount: earned.Count}
	if lastRes.RowsAffected > 0 {
		totals.LastPaymentAt = last.PaymentDate
	}
	for _, row := range byStatus {
		switch {
		case row.Status == enums.PayoutStatusPaid:
			totals.PaidOutCents += row.Total
		case row.Status.IsOpen():
			totals.PendingCents += row.Total
		}
	}
	return totals, nil
}
