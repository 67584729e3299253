package payouts

import (
	"time"

	"github.com/google/uuid"

	"github.com/bodyf1rst/billing-backend/pkg/db/models"
	"github.com/bodyf1rst/billing-backend/pkg/enums"
	"github.com/bodyf1rst/billing-backend/pkg/types"
)

// ConnectResult carries a fresh onboarding link for the coach's account.
type ConnectResult struct {
	AccountID     string    `json:"account_id"`
	OnboardingURL string    `json:"onboarding_url"`
	ExpiresAt     time.Time `json:"expires_at"`
}

type AccountStatus struct {
	Connected        bool                `json:"connected"`
	AccountID        string              `json:"account_id,omitempty"`
	Status           enums.ConnectStatus `json:"status"`
	ChargesEnabled   bool                `json:"charges_enabled"`
	PayoutsEnabled   bool                `json:"payouts_enabled"`
	DetailsSubmitted bool                `json:"details_submitted"`
}

type PayoutDTO struct {
	ID             uuid.UUID          `json:"id"`
	StripePayoutID string             `json:"stripe_payout_id"`
	Amount         types.Money        `json:"amount"`
	Method         enums.PayoutMethod `json:"method"`
	Status         enums.PayoutStatus `json:"status"`
	ArrivalDate    *time.Time         `json:"arrival_date,omitempty"`
	FailureMessage *string            `json:"failure_message,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
}

func PayoutFromModel(row models.PayoutRequest) PayoutDTO {
	return PayoutDTO{
		ID:             row.ID,
		StripePayoutID: row.StripePayoutID,
		Amount:         types.NewMoney(row.AmountCents, row.Currency),
		Method:         row.Method,
		Status:         row.Status,
		ArrivalDate:    row.ArrivalDate,
		FailureMessage: row.FailureMessage,
		CreatedAt:      row.CreatedAt,
	}
}

// Earnings summarises what a coach has earned and withdrawn.
type Earnings struct {
	TotalEarned    types.Money `json:"total_earned"`
	PaymentCount   int64       `json:"payment_count"`
	PendingPayouts types.Money `json:"pending_payouts"`
	PaidOut        types.Money `json:"paid_out"`
	LastPaymentAt  *time.Time  `json:"last_payment_at,omitempty"`
}
