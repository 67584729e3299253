package stripe

import (
	"context"
	"encoding/json"
	"time"
)

// Gateway is the payment processor surface used by the billing, payout and
// webhook services. *Client implements it against Stripe.
type Gateway interface {
	Environment() string
	Currency() string

	CreateCustomer(ctx context.Context, params CustomerParams) (*Customer, error)
	CreateSetupIntent(ctx context.Context, customerID string) (*SetupIntent, error)
	AttachPaymentMethod(ctx context.Context, paymentMethodID, customerID string) (*PaymentMethod, error)
	DetachPaymentMethod(ctx context.Context, paymentMethodID string) error
	SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error

	CreateSubscription(ctx context.Context, params SubscriptionParams) (*Subscription, error)
	UpdateSubscription(ctx context.Context, subscriptionID string, params SubscriptionUpdate) (*Subscription, error)
	CancelSubscription(ctx context.Context, subscriptionID string, immediately bool) (*Subscription, error)
	RetrieveSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)

	RetrieveBalance(ctx context.Context, accountID string) (*Balance, error)
	CreatePayout(ctx context.Context, params PayoutParams) (*Payout, error)
	RetrievePayout(ctx context.Context, accountID, payoutID string) (*Payout, error)

	CreateConnectedAccount(ctx context.Context, params AccountParams) (*Account, error)
	RetrieveAccount(ctx context.Context, accountID string) (*Account, error)
	CreateOnboardingLink(ctx context.Context, accountID string) (*AccountLink, error)

	VerifyWebhookSignature(payload []byte, header string) (*Event, error)
}

// CustomerParams describes a new gateway customer.
type CustomerParams struct {
	UserID string
	Email  string
	Name   string
}

type Customer struct {
	ID string
}

type SetupIntent struct {
	ID           string
	ClientSecret string
	CustomerID   string
}

// PaymentMethod carries only display data. Full card and bank numbers never leave the gateway.
type PaymentMethod struct {
	ID         string
	CustomerID string
	Type       string
	Brand      string
	Last4      string
	ExpMonth   int
	ExpYear    int
}

// SubscriptionParams creates a subscription on a single price.
type SubscriptionParams struct {
	CustomerID      string
	PriceID         string
	PaymentMethodID string
	Metadata        map[string]string
	IdempotencyKey  string
}

// SubscriptionUpdate changes the price (prorated) and/or resumes renewal.
type SubscriptionUpdate struct {
	PriceID string
	Resume  bool
}

type Subscription struct {
	ID                 string
	CustomerID         string
	Status             string
	PriceID            string
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CancelAtPeriodEnd  bool
	CanceledAt         *time.Time
	Metadata           map[string]string
}

type Invoice struct {
	ID             string
	CustomerID     string
	SubscriptionID string
	AmountCents    int64
	Currency       string
	Created        *time.Time
	PaidAt         *time.Time
	PDFURL         string
	HostedURL      string
}

type PaymentIntent struct {
	ID             string
	CustomerID     string
	AmountCents    int64
	Currency       string
	Description    string
	FailureMessage string
	Metadata       map[string]string
	Created        *time.Time
}

// Balance holds available funds in minor units keyed by lowercase currency.
type Balance struct {
	Available map[string]int64
}

type PayoutParams struct {
	AccountID      string
	AmountCents    int64
	Currency       string
	Method         string
	IdempotencyKey string
}

type Payout struct {
	ID             string
	AmountCents    int64
	Currency       string
	Status         string
	Method         string
	ArrivalDate    *time.Time
	FailureMessage string
}

type AccountParams struct {
	UserID string
	Email  string
}

type Account struct {
	ID               string
	ChargesEnabled   bool
	PayoutsEnabled   bool
	DetailsSubmitted bool
}

type AccountLink struct {
	URL       string
	ExpiresAt time.Time
}

// Event is a verified webhook delivery. Object holds the raw data.object JSON.
type Event struct {
	ID       string
	Type     string
	Created  time.Time
	Livemode bool
	Object   json.RawMessage
}
