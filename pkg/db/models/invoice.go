package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bodyf1rst/billing-backend/pkg/enums"
)

// Invoice mirrors a gateway invoice. DocumentPath is admin-only.
type Invoice struct {
	ID                   uuid.UUID           `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID               uuid.UUID           `gorm:"column:user_id;type:uuid;not null;index"`
	Environment          string              `gorm:"column:environment;not null;uniqueIndex:invoices_env_external_key,priority:1"`
	StripeInvoiceID      string              `gorm:"column:stripe_invoice_id;not null;uniqueIndex:invoices_env_external_key,priority:2"`
	StripeSubscriptionID *string             `gorm:"column:stripe_subscription_id"`
	AmountCents          int64               `gorm:"column:amount_cents;not null"`
	Currency             string              `gorm:"column:currency;not null;default:'usd'"`
	Status               enums.InvoiceStatus `gorm:"column:status;type:invoice_status;not null;default:'pending'"`
	InvoiceDate          *time.Time          `gorm:"column:invoice_date"`
	PaidAt               *time.Time          `gorm:"column:paid_at"`
	PDFURL               *string             `gorm:"column:pdf_url"`
	HostedURL            *string             `gorm:"column:hosted_url"`
	DocumentPath         *string             `gorm:"column:document_path"`
	CreatedAt            time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (i *Invoice) BeforeCreate(*gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}
