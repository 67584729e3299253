package stripe

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"
)

// VerifyWebhookSignature checks the Stripe-Signature header against the raw
// body. API version mismatches are tolerated; the payload is decoded per type.
func (c *Client) VerifyWebhookSignature(payload []byte, header string) (*Event, error) {
	if c == nil {
		return nil, errors.New("stripe client not initialized")
	}
	return verifyEvent(payload, header, c.signingSecret)
}

func verifyEvent(payload []byte, header, secret string) (*Event, error) {
	if strings.TrimSpace(header) == "" {
		return nil, fmt.Errorf("%w: missing header", ErrSignature)
	}
	evt, err := webhook.ConstructEventWithOptions(payload, header, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignature, err)
	}
	out := &Event{
		ID:       evt.ID,
		Type:     string(evt.Type),
		Livemode: evt.Livemode,
	}
	if evt.Created > 0 {
		out.Created = time.Unix(evt.Created, 0).UTC()
	}
	if evt.Data != nil {
		out.Object = evt.Data.Raw
	}
	return out, nil
}

// DecodeSubscription parses a subscription data.object.
func DecodeSubscription(raw json.RawMessage) (*Subscription, error) {
	var sub stripe.Subscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return nil, fmt.Errorf("decode subscription: %w", err)
	}
	if sub.ID == "" {
		return nil, errors.New("decode subscription: missing id")
	}
	return subscriptionFromStripe(&sub), nil
}

// DecodeInvoice parses an invoice data.object.
func DecodeInvoice(raw json.RawMessage) (*Invoice, error) {
	var inv stripe.Invoice
	if err := json.Unmarshal(raw, &inv); err != nil {
		return nil, fmt.Errorf("decode invoice: %w", err)
	}
	if inv.ID == "" {
		return nil, errors.New("decode invoice: missing id")
	}
	out := &Invoice{
		ID:        inv.ID,
		Currency:  strings.ToLower(string(inv.Currency)),
		Created:   unixTime(inv.Created),
		PDFURL:    inv.InvoicePDF,
		HostedURL: inv.HostedInvoiceURL,
	}
	out.AmountCents = inv.AmountPaid
	if out.AmountCents == 0 {
		out.AmountCents = inv.AmountDue
	}
	if inv.Customer != nil {
		out.CustomerID = inv.Customer.ID
	}
	if inv.StatusTransitions != nil {
		out.PaidAt = unixTime(inv.StatusTransitions.PaidAt)
	}
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil && inv.Parent.SubscriptionDetails.Subscription != nil {
		out.SubscriptionID = inv.Parent.SubscriptionDetails.Subscription.ID
	}
	return out, nil
}

// DecodePaymentIntent parses a payment_intent data.object.
func DecodePaymentIntent(raw json.RawMessage) (*PaymentIntent, error) {
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(raw, &pi); err != nil {
		return nil, fmt.Errorf("decode payment intent: %w", err)
	}
	if pi.ID == "" {
		return nil, errors.New("decode payment intent: missing id")
	}
	out := &PaymentIntent{
		ID:          pi.ID,
		AmountCents: pi.Amount,
		Currency:    strings.ToLower(string(pi.Currency)),
		Description: pi.Description,
		Metadata:    pi.Metadata,
		Created:     unixTime(pi.Created),
	}
	if pi.Customer != nil {
		out.CustomerID = pi.Customer.ID
	}
	if pi.LastPaymentError != nil {
		out.FailureMessage = pi.LastPaymentError.Msg
	}
	return out, nil
}

// DecodePaymentMethod parses a payment_method data.object.
func DecodePaymentMethod(raw json.RawMessage) (*PaymentMethod, error) {
	var pm stripe.PaymentMethod
	if err := json.Unmarshal(raw, &pm); err != nil {
		return nil, fmt.Errorf("decode payment method: %w", err)
	}
	if pm.ID == "" {
		return nil, errors.New("decode payment method: missing id")
	}
	return paymentMethodFromStripe(&pm), nil
}

// WebhookVerifier verifies deliveries for one environment without holding an
// API key. The webhook receiver and its tests use it directly.
type WebhookVerifier struct {
	environment string
	secret      string
}

func NewWebhookVerifier(environment, secret string) (*WebhookVerifier, error) {
	env, err := normalizeEnv(environment)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("webhook signing secret is required")
	}
	return &WebhookVerifier{environment: env, secret: secret}, nil
}

func (v *WebhookVerifier) Environment() string {
	return v.environment
}

func (v *WebhookVerifier) VerifyWebhookSignature(payload []byte, header string) (*Event, error) {
	return verifyEvent(payload, header, v.secret)
}
