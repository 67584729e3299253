package users

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bodyf1rst/billing-backend/internal/repo"
	"github.com/bodyf1rst/billing-backend/pkg/db/models"
	"github.com/bodyf1rst/billing-backend/pkg/enums"
)

// Repository exposes the billing columns of the platform users table.
type Repository struct {
	repo.Base
}

// NewRepository constructs a users repo bound to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(db)}
}

// WithTx binds the repository to tx.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{Base: r.Base.Bind(tx)}
}

// FindByID loads a user by their UUID. Missing rows surface as gorm.ErrRecordNotFound.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := r.DB(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// FindByIDs loads every user in ids; unknown IDs are simply absent from the result.
func (r *Repository) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]models.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var out []models.User
	if err := r.DB(ctx).Where("id IN ?", ids).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// FindByStripeCustomerID resolves the owner of a gateway customer. Returns nil, nil when unknown.
func (r *Repository) FindByStripeCustomerID(ctx context.Context, customerID string) (*models.User, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return nil, nil
	}
	return repo.FirstOrNil[models.User](r.DB(ctx).Where("stripe_customer_id = ?", customerID))
}

// SetStripeCustomerIDIfEmpty stores the customer ID only when none is set yet.
// It reports whether this call wrote the value.
func (r *Repository) SetStripeCustomerIDIfEmpty(ctx context.Context, id uuid.UUID, customerID string) (bool, error) {
	res := r.DB(ctx).
		Model(&models.User{}).
		Where("id = ? AND stripe_customer_id IS NULL", id).
		Update("stripe_customer_id", customerID)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// SetConnectAccountIDIfEmpty stores the connected account ID only when none is set yet.
func (r *Repository) SetConnectAccountIDIfEmpty(ctx context.Context, id uuid.UUID, accountID string) (bool, error) {
	res := r.DB(ctx).
		Model(&models.User{}).
		Where("id = ? AND stripe_connect_account_id IS NULL", id).
		Update("stripe_connect_account_id", accountID)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// UpdateBillingStatus overwrites the user's billing status.
func (r *Repository) UpdateBillingStatus(ctx context.Context, id uuid.UUID, status enums.BillingStatus) error {
	return r.DB(ctx).
		Model(&models.User{}).
		Where("id = ?", id).
		Update("billing_status", status).Error
}

// MirrorBillingStatus copies a gateway-derived status onto the user unless an
// admin has disabled billing. It reports whether the row changed.
func (r *Repository) MirrorBillingStatus(ctx context.Context, id uuid.UUID, status enums.BillingStatus) (bool, error) {
	res := r.DB(ctx).
		Model(&models.User{}).
		Where("id = ? AND billing_status <> ?", id, enums.BillingStatusDisabled).
		Update("billing_status", status)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
