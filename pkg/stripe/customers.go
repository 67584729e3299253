package stripe

import (
	"context"

	"github.com/stripe/stripe-go/v84"
)

// CreateCustomer creates a gateway customer. The idempotency key is derived
// from the local user so concurrent first calls collapse into one customer.
func (c *Client) CreateCustomer(ctx context.Context, params CustomerParams) (*Customer, error) {
	req := &stripe.CustomerCreateParams{
		Email: stripe.String(params.Email),
	}
	if params.Name != "" {
		req.Name = stripe.String(params.Name)
	}
	req.AddMetadata("user_id", params.UserID)
	req.SetIdempotencyKey("customer:" + params.UserID)

	var out *stripe.Customer
	err := c.do(ctx, "create_customer", func(ctx context.Context) error {
		var err error
		out, err = c.api.V1Customers.Create(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &Customer{ID: out.ID}, nil
}

// CreateSetupIntent prepares card and bank collection for the customer.
func (c *Client) CreateSetupIntent(ctx context.Context, customerID string) (*SetupIntent, error) {
	req := &stripe.SetupIntentCreateParams{
		Customer:           stripe.String(customerID),
		PaymentMethodTypes: stripe.StringSlice([]string{"card", "us_bank_account"}),
		Usage:              stripe.String("off_session"),
	}
	var out *stripe.SetupIntent
	err := c.do(ctx, "create_setup_intent", func(ctx context.Context) error {
		var err error
		out, err = c.api.V1SetupIntents.Create(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &SetupIntent{ID: out.ID, ClientSecret: out.ClientSecret, CustomerID: customerID}, nil
}

func (c *Client) AttachPaymentMethod(ctx context.Context, paymentMethodID, customerID string) (*PaymentMethod, error) {
	req := &stripe.PaymentMethodAttachParams{
		Customer: stripe.String(customerID),
	}
	var out *stripe.PaymentMethod
	err := c.do(ctx, "attach_payment_method", func(ctx context.Context) error {
		var err error
		out, err = c.api.V1PaymentMethods.Attach(ctx, paymentMethodID, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return paymentMethodFromStripe(out), nil
}

// DetachPaymentMethod returns ErrNotAttached when the gateway no longer knows the method.
func (c *Client) DetachPaymentMethod(ctx context.Context, paymentMethodID string) error {
	err := c.do(ctx, "detach_payment_method", func(ctx context.Context) error {
		_, err := c.api.V1PaymentMethods.Detach(ctx, paymentMethodID, &stripe.PaymentMethodDetachParams{})
		return err
	})
	return classify(err)
}

func (c *Client) SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	req := &stripe.CustomerUpdateParams{
		InvoiceSettings: &stripe.CustomerUpdateInvoiceSettingsParams{
			DefaultPaymentMethod: stripe.String(paymentMethodID),
		},
	}
	return c.do(ctx, "set_default_payment_method", func(ctx context.Context) error {
		_, err := c.api.V1Customers.Update(ctx, customerID, req)
		return err
	})
}

func paymentMethodFromStripe(pm *stripe.PaymentMethod) *PaymentMethod {
	if pm == nil {
		return nil
	}
	out := &PaymentMethod{
		ID:   pm.ID,
		Type: string(pm.Type),
	}
	if pm.Customer != nil {
		out.CustomerID = pm.Customer.ID
	}
	switch {
	case pm.Card != nil:
		out.Brand = string(pm.Card.Brand)
		out.Last4 = pm.Card.Last4
		out.ExpMonth = int(pm.Card.ExpMonth)
		out.ExpYear = int(pm.Card.ExpYear)
	case pm.USBankAccount != nil:
		out.Brand = pm.USBankAccount.BankName
		out.Last4 = pm.USBankAccount.Last4
	}
	return out
}
