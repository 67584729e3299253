package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bodyf1rst/billing-backend/pkg/enums"
)

// Payment is the append-only ledger row for one gateway charge attempt.
type Payment struct {
	ID              uuid.UUID           `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID          uuid.UUID           `gorm:"column:user_id;type:uuid;not null;index"`
	CoachID         *uuid.UUID          `gorm:"column:coach_id;type:uuid;index"`
	Environment     string              `gorm:"column:environment;not null;uniqueIndex:payments_env_external_key,priority:1"`
	StripePaymentID string              `gorm:"column:stripe_payment_id;not null;uniqueIndex:payments_env_external_key,priority:2"`
	AmountCents     int64               `gorm:"column:amount_cents;not null"`
	Currency        string              `gorm:"column:currency;not null;default:'usd'"`
	Status          enums.PaymentStatus `gorm:"column:status;type:payment_status;not null;default:'pending'"`
	Description     *string             `gorm:"column:description"`
	FailureMessage  *string             `gorm:"column:failure_message"`
	PaymentDate     *time.Time          `gorm:"column:payment_date"`
	CreatedAt       time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *Payment) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
