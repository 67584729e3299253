package billing

import (
	"time"

	"github.com/google/uuid"

	"github.com/bodyf1rst/billing-backend/pkg/db/models"
	"github.com/bodyf1rst/billing-backend/pkg/types"
)

// SetupIntentResult is returned to the client to confirm a new payment method.
type SetupIntentResult struct {
	ClientSecret  string `json:"client_secret"`
	SetupIntentID string `json:"setup_intent_id"`
	CustomerID    string `json:"customer_id"`
}

type PaymentMethodDTO struct {
	ID         uuid.UUID `json:"id"`
	ExternalID string    `json:"payment_method_id"`
	Type       string    `json:"type"`
	Brand      string    `json:"brand,omitempty"`
	Last4      string    `json:"last4,omitempty"`
	ExpMonth   int       `json:"exp_month,omitempty"`
	ExpYear    int       `json:"exp_year,omitempty"`
	IsDefault  bool      `json:"is_default"`
	CreatedAt  time.Time `json:"created_at"`
}

func PaymentMethodFromModel(m models.PaymentMethod) PaymentMethodDTO {
	return PaymentMethodDTO{
		ID:         m.ID,
		ExternalID: m.StripePaymentMethodID,
		Type:       string(m.Type),
		Brand:      deref(m.Brand),
		Last4:      deref(m.Last4),
		ExpMonth:   derefInt(m.ExpMonth),
		ExpYear:    derefInt(m.ExpYear),
		IsDefault:  m.IsDefault,
		CreatedAt:  m.CreatedAt,
	}
}

type SubscriptionDTO struct {
	ID                 uuid.UUID  `json:"id"`
	ExternalID         string     `json:"subscription_id"`
	PlanID             string     `json:"plan_id"`
	Status             string     `json:"status"`
	CurrentPeriodStart *time.Time `json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd  bool       `json:"cancel_at_period_end"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
}

func SubscriptionFromModel(s models.Subscription) SubscriptionDTO {
	return SubscriptionDTO{
		ID:                 s.ID,
		ExternalID:         s.StripeSubscriptionID,
		PlanID:             s.PlanID,
		Status:             string(s.Status),
		CurrentPeriodStart: s.CurrentPeriodStart,
		CurrentPeriodEnd:   s.CurrentPeriodEnd,
		CancelAtPeriodEnd:  s.CancelAtPeriodEnd,
		CancelledAt:        s.CancelledAt,
	}
}

// InvoiceDTO is the member-facing invoice. The admin document path is never exposed.
type InvoiceDTO struct {
	ID          uuid.UUID   `json:"id"`
	ExternalID  string      `json:"invoice_id"`
	Amount      types.Money `json:"amount"`
	Status      string      `json:"status"`
	InvoiceDate *time.Time  `json:"invoice_date,omitempty"`
	PaidAt      *time.Time  `json:"paid_at,omitempty"`
	HasPDF      bool        `json:"has_pdf"`
	HostedURL   string      `json:"hosted_url,omitempty"`
}

func InvoiceFromModel(i models.Invoice) InvoiceDTO {
	return InvoiceDTO{
		ID:          i.ID,
		ExternalID:  i.StripeInvoiceID,
		Amount:      types.NewMoney(i.AmountCents, i.Currency),
		Status:      string(i.Status),
		InvoiceDate: i.InvoiceDate,
		PaidAt:      i.PaidAt,
		HasPDF:      deref(i.PDFURL) != "",
		HostedURL:   deref(i.HostedURL),
	}
}

// Analytics is the local-only billing dashboard summary.
type Analytics struct {
	TotalPaid                types.Money      `json:"total_paid"`
	InvoiceCounts            map[string]int64 `json:"invoice_counts"`
	LastPaymentAt            *time.Time       `json:"last_payment_at,omitempty"`
	Subscription             *SubscriptionDTO `json:"subscription,omitempty"`
	PaymentMethodCount       int64            `json:"payment_method_count"`
	FailedPaymentsLast30Days int64            `json:"failed_payments_last_30_days"`
}

// History entry kinds.
const (
	HistoryPayment = "payment"
	HistoryInvoice = "invoice"
)

// HistoryEntry is one payment or invoice on the merged billing timeline.
type HistoryEntry struct {
	Kind        string      `json:"kind"`
	ID          uuid.UUID   `json:"id"`
	ExternalID  string      `json:"external_id"`
	Amount      types.Money `json:"amount"`
	Status      string      `json:"status"`
	Description string      `json:"description,omitempty"`
	Date        time.Time   `json:"date"`
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefInt(i *int) int {
	if i == nil {
		return 0
	}
	return *i
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func intPtr(i int) *int {
	if i == 0 {
		return nil
	}
	return &i
}
