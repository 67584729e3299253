package stripe

import (
	"context"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v84"
)

// RetrieveBalance reads the connected account's balance.
func (c *Client) RetrieveBalance(ctx context.Context, accountID string) (*Balance, error) {
	req := &stripe.BalanceRetrieveParams{}
	req.SetStripeAccount(accountID)
	var out *stripe.Balance
	err := c.do(ctx, "retrieve_balance", func(ctx context.Context) error {
		var err error
		out, err = c.api.V1Balance.Retrieve(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	balance := &Balance{Available: map[string]int64{}}
	for _, amount := range out.Available {
		if amount == nil {
			continue
		}
		balance.Available[strings.ToLower(string(amount.Currency))] += amount.Amount
	}
	return balance, nil
}

// CreatePayout withdraws funds from the connected account to its external account.
// ErrInsufficientBalance is returned when the gateway rejects the amount.
func (c *Client) CreatePayout(ctx context.Context, params PayoutParams) (*Payout, error) {
	req := &stripe.PayoutCreateParams{
		Amount:   stripe.Int64(params.AmountCents),
		Currency: stripe.String(params.Currency),
	}
	if params.Method != "" {
		req.Method = stripe.String(params.Method)
	}
	req.SetStripeAccount(params.AccountID)
	if params.IdempotencyKey != "" {
		req.SetIdempotencyKey(params.IdempotencyKey)
	}
	var out *stripe.Payout
	err := c.do(ctx, "create_payout", func(ctx context.Context) error {
		var err error
		out, err = c.api.V1Payouts.Create(ctx, req)
		return err
	})
	if err != nil {
		return nil, classify(err)
	}
	return payoutFromStripe(out), nil
}

func (c *Client) RetrievePayout(ctx context.Context, accountID, payoutID string) (*Payout, error) {
	req := &stripe.PayoutRetrieveParams{}
	req.SetStripeAccount(accountID)
	var out *stripe.Payout
	err := c.do(ctx, "retrieve_payout", func(ctx context.Context) error {
		var err error
		out, err = c.api.V1Payouts.Retrieve(ctx, payoutID, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return payoutFromStripe(out), nil
}

// CreateConnectedAccount creates an Express account for a coach.
func (c *Client) CreateConnectedAccount(ctx context.Context, params AccountParams) (*Account, error) {
	req := &stripe.AccountCreateParams{
		Type:  stripe.String(string(stripe.AccountTypeExpress)),
		Email: stripe.String(params.Email),
	}
	if c.connect.country != "" {
		req.Country = stripe.String(c.connect.country)
	}
	req.AddMetadata("user_id", params.UserID)
	req.SetIdempotencyKey("connect:" + params.UserID)
	var out *stripe.Account
	err := c.do(ctx, "create_connected_account", func(ctx context.Context) error {
		var err error
		out, err = c.api.V1Accounts.Create(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return accountFromStripe(out), nil
}

func (c *Client) RetrieveAccount(ctx context.Context, accountID string) (*Account, error) {
	var out *stripe.Account
	err := c.do(ctx, "retrieve_account", func(ctx context.Context) error {
		var err error
		out, err = c.api.V1Accounts.GetByID(ctx, accountID, &stripe.AccountRetrieveParams{})
		return err
	})
	if err != nil {
		return nil, err
	}
	return accountFromStripe(out), nil
}

// CreateOnboardingLink issues a fresh single-use onboarding link.
func (c *Client) CreateOnboardingLink(ctx context.Context, accountID string) (*AccountLink, error) {
	req := &stripe.AccountLinkCreateParams{
		Account:    stripe.String(accountID),
		RefreshURL: stripe.String(c.connect.refresh),
		ReturnURL:  stripe.String(c.connect.ret),
		Type:       stripe.String("account_onboarding"),
	}
	var out *stripe.AccountLink
	err := c.do(ctx, "create_onboarding_link", func(ctx context.Context) error {
		var err error
		out, err = c.api.V1AccountLinks.Create(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &AccountLink{URL: out.URL, ExpiresAt: time.Unix(out.ExpiresAt, 0).UTC()}, nil
}

func payoutFromStripe(p *stripe.Payout) *Payout {
	if p == nil {
		return nil
	}
	return &Payout{
		ID:             p.ID,
		AmountCents:    p.Amount,
		Currency:       strings.ToLower(string(p.Currency)),
		Status:         string(p.Status),
		Method:         string(p.Method),
		ArrivalDate:    unixTime(p.ArrivalDate),
		FailureMessage: p.FailureMessage,
	}
}

func accountFromStripe(a *stripe.Account) *Account {
	if a == nil {
		return nil
	}
	return &Account{
		ID:               a.ID,
		ChargesEnabled:   a.ChargesEnabled,
		PayoutsEnabled:   a.PayoutsEnabled,
		DetailsSubmitted: a.DetailsSubmitted,
	}
}
