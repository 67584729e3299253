package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bodyf1rst/billing-backend/pkg/enums"
)

// Subscription mirrors one gateway subscription, unique per (environment, stripe_subscription_id).
type Subscription struct {
	ID                   uuid.UUID                `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID               uuid.UUID                `gorm:"column:user_id;type:uuid;not null;index"`
	Environment          string                   `gorm:"column:environment;not null;uniqueIndex:subscriptions_env_external_key,priority:1"`
	StripeSubscriptionID string                   `gorm:"column:stripe_subscription_id;not null;uniqueIndex:subscriptions_env_external_key,priority:2"`
	StripeCustomerID     string                   `gorm:"column:stripe_customer_id;not null"`
	PlanID               string                   `gorm:"column:plan_id;not null"`
	PriceID              *string                  `gorm:"column:price_id"`
	Status               enums.SubscriptionStatus `gorm:"column:status;type:subscription_status;not null;default:'incomplete'"`
	CurrentPeriodStart   *time.Time               `gorm:"column:current_period_start"`
	CurrentPeriodEnd     *time.Time               `gorm:"column:current_period_end"`
	CancelAtPeriodEnd    bool                     `gorm:"column:cancel_at_period_end;not null;default:false"`
	CancelledAt          *time.Time               `gorm:"column:cancelled_at"`
	CreatedAt            time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}

func (s *Subscription) BeforeCreate(*gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}
