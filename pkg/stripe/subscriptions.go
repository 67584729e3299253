package stripe

import (
	"context"
	"time"

	"github.com/stripe/stripe-go/v84"
)

func (c *Client) CreateSubscription(ctx context.Context, params SubscriptionParams) (*Subscription, error) {
	req := &stripe.SubscriptionCreateParams{
		Customer: stripe.String(params.CustomerID),
		Items: []*stripe.SubscriptionCreateItemParams{
			{Price: stripe.String(params.PriceID)},
		},
		PaymentBehavior: stripe.String("allow_incomplete"),
	}
	if params.PaymentMethodID != "" {
		req.DefaultPaymentMethod = stripe.String(params.PaymentMethodID)
	}
	for k, v := range params.Metadata {
		req.AddMetadata(k, v)
	}
	if params.IdempotencyKey != "" {
		req.SetIdempotencyKey(params.IdempotencyKey)
	}
	var out *stripe.Subscription
	err := c.do(ctx, "create_subscription", func(ctx context.Context) error {
		var err error
		out, err = c.api.V1Subscriptions.Create(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return subscriptionFromStripe(out), nil
}

// UpdateSubscription swaps the price with proration and/or clears a pending
// cancel-at-period-end. The item ID comes from a fresh read.
func (c *Client) UpdateSubscription(ctx context.Context, subscriptionID string, params SubscriptionUpdate) (*Subscription, error) {
	req := &stripe.SubscriptionUpdateParams{}
	if params.PriceID != "" {
		var current *stripe.Subscription
		err := c.do(ctx, "retrieve_subscription", func(ctx context.Context) error {
			var err error
			current, err = c.api.V1Subscriptions.Retrieve(ctx, subscriptionID, &stripe.SubscriptionRetrieveParams{})
			return err
		})
		if err != nil {
			return nil, err
		}
		item := &stripe.SubscriptionUpdateItemParams{Price: stripe.String(params.PriceID)}
		if current.Items != nil && len(current.Items.Data) > 0 {
			item.ID = stripe.String(current.Items.Data[0].ID)
		}
		req.Items = []*stripe.SubscriptionUpdateItemParams{item}
		req.ProrationBehavior = stripe.String("create_prorations")
	}
	if params.Resume {
		req.CancelAtPeriodEnd = stripe.Bool(false)
	}
	var out *stripe.Subscription
	err := c.do(ctx, "update_subscription", func(ctx context.Context) error {
		var err error
		out, err = c.api.V1Subscriptions.Update(ctx, subscriptionID, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return subscriptionFromStripe(out), nil
}

// CancelSubscription cancels now when immediately is set, otherwise at period end.
func (c *Client) CancelSubscription(ctx context.Context, subscriptionID string, immediately bool) (*Subscription, error) {
	var out *stripe.Subscription
	if immediately {
		err := c.do(ctx, "cancel_subscription", func(ctx context.Context) error {
			var err error
			out, err = c.api.V1Subscriptions.Cancel(ctx, subscriptionID, &stripe.SubscriptionCancelParams{})
			return err
		})
		if err != nil {
			return nil, err
		}
		return subscriptionFromStripe(out), nil
	}
	req := &stripe.SubscriptionUpdateParams{CancelAtPeriodEnd: stripe.Bool(true)}
	err := c.do(ctx, "cancel_subscription_at_period_end", func(ctx context.Context) error {
		var err error
		out, err = c.api.V1Subscriptions.Update(ctx, subscriptionID, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return subscriptionFromStripe(out), nil
}

func (c *Client) RetrieveSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	var out *stripe.Subscription
	err := c.do(ctx, "retrieve_subscription", func(ctx context.Context) error {
		var err error
		out, err = c.api.V1Subscriptions.Retrieve(ctx, subscriptionID, &stripe.SubscriptionRetrieveParams{})
		return err
	})
	if err != nil {
		return nil, err
	}
	return subscriptionFromStripe(out), nil
}

func subscriptionFromStripe(sub *stripe.Subscription) *Subscription {
	if sub == nil {
		return nil
	}
	out := &Subscription{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		CanceledAt:        unixTime(sub.CanceledAt),
		Metadata:          sub.Metadata,
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		if item.Price != nil {
			out.PriceID = item.Price.ID
		}
		out.CurrentPeriodStart = unixTime(item.CurrentPeriodStart)
		out.CurrentPeriodEnd = unixTime(item.CurrentPeriodEnd)
	}
	return out
}

func unixTime(ts int64) *time.Time {
	if ts == 0 {
		return nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t
}
