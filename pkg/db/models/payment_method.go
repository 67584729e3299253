package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bodyf1rst/billing-backend/pkg/enums"
)

// PaymentMethod mirrors a gateway payment method attached to a user's customer.
// At most one row per user carries is_default.
type PaymentMethod struct {
	ID                    uuid.UUID               `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID                uuid.UUID               `gorm:"column:user_id;type:uuid;not null;index"`
	Environment           string                  `gorm:"column:environment;not null;uniqueIndex:payment_methods_env_external_key,priority:1"`
	StripePaymentMethodID string                  `gorm:"column:stripe_payment_method_id;not null;uniqueIndex:payment_methods_env_external_key,priority:2"`
	Type                  enums.PaymentMethodType `gorm:"column:type;type:payment_method_type;not null;default:'card'"`
	Brand                 *string                 `gorm:"column:brand"`
	Last4                 *string                 `gorm:"column:last4"`
	ExpMonth              *int                    `gorm:"column:exp_month"`
	ExpYear               *int                    `gorm:"column:exp_year"`
	IsDefault             bool                    `gorm:"column:is_default;not null;default:false"`
	CreatedAt             time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *PaymentMethod) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
