package stripewebhook

import (
	"encoding/json"
	"fmt"

	"github.com/bodyf1rst/billing-backend/pkg/stripe"
)

// Kind identifies one handled event variant.
type Kind string

const (
	KindPaymentSucceeded        Kind = "payment_succeeded"
	KindPaymentFailed           Kind = "payment_failed"
	KindSubscriptionCreated     Kind = "subscription_created"
	KindSubscriptionUpdated     Kind = "subscription_updated"
	KindSubscriptionDeleted     Kind = "subscription_deleted"
	KindInvoicePaymentSucceeded Kind = "invoice_payment_succeeded"
	KindInvoicePaymentFailed    Kind = "invoice_payment_failed"
	KindPaymentMethodAttached   Kind = "payment_method_attached"
	KindPaymentMethodDetached   Kind = "payment_method_detached"
)

// allKinds lists every variant. NewService refuses to start unless each one
// has a decoder and a handler.
var allKinds = []Kind{
	KindPaymentSucceeded,
	KindPaymentFailed,
	KindSubscriptionCreated,
	KindSubscriptionUpdated,
	KindSubscriptionDeleted,
	KindInvoicePaymentSucceeded,
	KindInvoicePaymentFailed,
	KindPaymentMethodAttached,
	KindPaymentMethodDetached,
}

// gatewayKinds maps gateway event type strings onto variants. Types missing
// here are acknowledged and ignored.
var gatewayKinds = map[string]Kind{
	"payment_intent.succeeded":      KindPaymentSucceeded,
	"payment_intent.payment_failed": KindPaymentFailed,
	"customer.subscription.created": KindSubscriptionCreated,
	"customer.subscription.updated": KindSubscriptionUpdated,
	"customer.subscription.deleted": KindSubscriptionDeleted,
	"invoice.payment_succeeded":     KindInvoicePaymentSucceeded,
	"invoice.paid":                  KindInvoicePaymentSucceeded,
	"invoice.payment_failed":        KindInvoicePaymentFailed,
	"payment_method.attached":       KindPaymentMethodAttached,
	"payment_method.detached":       KindPaymentMethodDetached,
}

// KindFor resolves a gateway event type.
func KindFor(eventType string) (Kind, bool) {
	kind, ok := gatewayKinds[eventType]
	return kind, ok
}

// Event is the closed set of handled webhook variants.
type Event interface {
	Kind() Kind
	sealed()
}

type PaymentSucceeded struct{ Payment *stripe.PaymentIntent }
type PaymentFailed struct{ Payment *stripe.PaymentIntent }
type SubscriptionCreated struct{ Subscription *stripe.Subscription }
type SubscriptionUpdated struct{ Subscription *stripe.Subscription }
type SubscriptionDeleted struct{ Subscription *stripe.Subscription }
type InvoicePaymentSucceeded struct{ Invoice *stripe.Invoice }
type InvoicePaymentFailed struct{ Invoice *stripe.Invoice }
type PaymentMethodAttached struct{ PaymentMethod *stripe.PaymentMethod }
type PaymentMethodDetached struct{ PaymentMethod *stripe.PaymentMethod }

func (PaymentSucceeded) Kind() Kind        { return KindPaymentSucceeded }
func (PaymentFailed) Kind() Kind           { return KindPaymentFailed }
func (SubscriptionCreated) Kind() Kind     { return KindSubscriptionCreated }
func (SubscriptionUpdated) Kind() Kind     { return KindSubscriptionUpdated }
func (SubscriptionDeleted) Kind() Kind     { return KindSubscriptionDeleted }
func (InvoicePaymentSucceeded) Kind() Kind { return KindInvoicePaymentSucceeded }
func (InvoicePaymentFailed) Kind() Kind    { return KindInvoicePaymentFailed }
func (PaymentMethodAttached) Kind() Kind   { return KindPaymentMethodAttached }
func (PaymentMethodDetached) Kind() Kind   { return KindPaymentMethodDetached }

func (PaymentSucceeded) sealed()        {}
func (PaymentFailed) sealed()           {}
func (SubscriptionCreated) sealed()     {}
func (SubscriptionUpdated) sealed()     {}
func (SubscriptionDeleted) sealed()     {}
func (InvoicePaymentSucceeded) sealed() {}
func (InvoicePaymentFailed) sealed()    {}
func (PaymentMethodAttached) sealed()   {}
func (PaymentMethodDetached) sealed()   {}

type decoder func(raw json.RawMessage) (Event, error)

var decoders = map[Kind]decoder{
	KindPaymentSucceeded: func(raw json.RawMessage) (Event, error) {
		pi, err := stripe.DecodePaymentIntent(raw)
		return PaymentSucceeded{Payment: pi}, err
	},
	KindPaymentFailed: func(raw json.RawMessage) (Event, error) {
		pi, err := stripe.DecodePaymentIntent(raw)
		return PaymentFailed{Payment: pi}, err
	},
	KindSubscriptionCreated: func(raw json.RawMessage) (Event, error) {
		sub, err := stripe.DecodeSubscription(raw)
		return SubscriptionCreated{Subscription: sub}, err
	},
	KindSubscriptionUpdated: func(raw json.RawMessage) (Event, error) {
		sub, err := stripe.DecodeSubscription(raw)
		return SubscriptionUpdated{Subscription: sub}, err
	},
	KindSubscriptionDeleted: func(raw json.RawMessage) (Event, error) {
		sub, err := stripe.DecodeSubscription(raw)
		return SubscriptionDeleted{Subscription: sub}, err
	},
	KindInvoicePaymentSucceeded: func(raw json.RawMessage) (Event, error) {
		inv, err := stripe.DecodeInvoice(raw)
		return InvoicePaymentSucceeded{Invoice: inv}, err
	},
	KindInvoicePaymentFailed: func(raw json.RawMessage) (Event, error) {
		inv, err := stripe.DecodeInvoice(raw)
		return InvoicePaymentFailed{Invoice: inv}, err
	},
	KindPaymentMethodAttached: func(raw json.RawMessage) (Event, error) {
		pm, err := stripe.DecodePaymentMethod(raw)
		return PaymentMethodAttached{PaymentMethod: pm}, err
	},
	KindPaymentMethodDetached: func(raw json.RawMessage) (Event, error) {
		pm, err := stripe.DecodePaymentMethod(raw)
		return PaymentMethodDetached{PaymentMethod: pm}, err
	},
}

// Decode turns a verified data.object into its variant.
func Decode(kind Kind, raw json.RawMessage) (Event, error) {
	dec, ok := decoders[kind]
	if !ok {
		return nil, fmt.Errorf("no decoder for %s", kind)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%s: empty event object", kind)
	}
	evt, err := dec(raw)
	if err != nil {
		return nil, err
	}
	return evt, nil
}
