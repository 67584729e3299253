package stripe

import (
	"errors"

	"github.com/stripe/stripe-go/v84"
)

var (
	// ErrNotAttached is returned when a payment method is already detached or unknown to the gateway.
	ErrNotAttached = errors.New("payment method not attached")
	// ErrInsufficientBalance is returned when the gateway rejects a payout for lack of funds.
	ErrInsufficientBalance = errors.New("insufficient gateway balance")
	// ErrSignature is returned for webhook payloads that fail verification.
	ErrSignature = errors.New("invalid webhook signature")
)

func errorCode(err error) string {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return string(stripeErr.Code)
	}
	return ""
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	switch stripe.ErrorCode(errorCode(err)) {
	case stripe.ErrorCodeResourceMissing, stripe.ErrorCodePaymentMethodUnexpectedState:
		return errors.Join(ErrNotAttached, err)
	case stripe.ErrorCodeBalanceInsufficient:
		return errors.Join(ErrInsufficientBalance, err)
	}
	return err
}
