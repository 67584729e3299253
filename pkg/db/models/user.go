package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bodyf1rst/billing-backend/pkg/enums"
)

// User is the platform identity. Only the billing columns are written by this service.
type User struct {
	ID                     uuid.UUID           `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Email                  string              `gorm:"type:text;not null;uniqueIndex"`
	FirstName              string              `gorm:"column:first_name;not null"`
	LastName               string              `gorm:"column:last_name;not null"`
	Role                   enums.Role          `gorm:"column:role;type:user_role;not null;default:'member'"`
	StripeCustomerID       *string             `gorm:"column:stripe_customer_id;unique"`
	StripeConnectAccountID *string             `gorm:"column:stripe_connect_account_id;unique"`
	BillingStatus          enums.BillingStatus `gorm:"column:billing_status;type:billing_status;not null;default:'none'"`
	CreatedAt              time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt              time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (u *User) BeforeCreate(*gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

// FullName joins first and last name for notification payloads.
func (u *User) FullName() string {
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}
