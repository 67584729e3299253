package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bodyf1rst/billing-backend/pkg/enums"
)

// PayoutRequest records a coach withdrawal from their connected account.
type PayoutRequest struct {
	ID              uuid.UUID          `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	CoachID         uuid.UUID          `gorm:"column:coach_id;type:uuid;not null;index"`
	Environment     string             `gorm:"column:environment;not null;uniqueIndex:payout_requests_env_external_key,priority:1"`
	StripeAccountID string             `gorm:"column:stripe_account_id;not null"`
	StripePayoutID  string             `gorm:"column:stripe_payout_id;not null;uniqueIndex:payout_requests_env_external_key,priority:2"`
	AmountCents     int64              `gorm:"column:amount_cents;not null"`
	Currency        string             `gorm:"column:currency;not null;default:'usd'"`
	Method          enums.PayoutMethod `gorm:"column:method;type:payout_method;not null;default:'instant'"`
	Status          enums.PayoutStatus `gorm:"column:status;type:payout_status;not null;default:'pending'"`
	ArrivalDate     *time.Time         `gorm:"column:arrival_date"`
	FailureMessage  *string            `gorm:"column:failure_message"`
	CreatedAt       time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *PayoutRequest) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
