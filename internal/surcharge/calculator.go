// Package surcharge computes the card processing add-on shown before checkout.
package surcharge

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/bodyf1rst/billing-backend/pkg/config"
	"github.com/bodyf1rst/billing-backend/pkg/enums"
	pkgerrors "github.com/bodyf1rst/billing-backend/pkg/errors"
)

// Reasons reported alongside a zero or applied surcharge.
const (
	ReasonApplied         = "applied"
	ReasonDisabled        = "disabled"
	ReasonRestrictedState = "restricted_state"
	ReasonNotCredit       = "not_credit_card"
)

const cardTypeCredit = "credit"

// Input is one quote request.
type Input struct {
	Amount            decimal.Decimal
	PaymentMethodType string
	CardType          string
	StateCode         string
}

// Result is a quote. Every amount is rounded half up to cents.
type Result struct {
	Amount    decimal.Decimal `json:"amount"`
	Surcharge decimal.Decimal `json:"surcharge"`
	Total     decimal.Decimal `json:"total"`
	Rate      decimal.Decimal `json:"rate"`
	Fixed     decimal.Decimal `json:"fixed"`
	Applied   bool            `json:"applied"`
	Reason    string          `json:"reason"`
}

// Calculator holds the configured rate table. It performs no I/O.
type Calculator struct {
	enabled    bool
	rate       decimal.Decimal
	fixed      decimal.Decimal
	restricted map[string]struct{}
}

func NewCalculator(cfg config.SurchargeConfig) (*Calculator, error) {
	rate, err := decimal.NewFromString(strings.TrimSpace(cfg.Rate))
	if err != nil {
		return nil, fmt.Errorf("surcharge rate: %w", err)
	}
	fixed, err := decimal.NewFromString(strings.TrimSpace(cfg.Fixed))
	if err != nil {
		return nil, fmt.Errorf("surcharge fixed fee: %w", err)
	}
	restricted := make(map[string]struct{}, len(cfg.RestrictedStates))
	for _, state := range cfg.RestrictedStates {
		state = strings.ToUpper(strings.TrimSpace(state))
		if state != "" {
			restricted[state] = struct{}{}
		}
	}
	return &Calculator{enabled: cfg.Enabled, rate: rate, fixed: fixed, restricted: restricted}, nil
}

// Calculate quotes the surcharge for a card payment. Only credit cards outside
// restricted states are charged; everything else gets a zero surcharge.
func (c *Calculator) Calculate(in Input) (Result, error) {
	state := strings.ToUpper(strings.TrimSpace(in.StateCode))
	if err := validate(in, state); err != nil {
		return Result{}, err
	}

	amount := in.Amount.Round(2)
	result := Result{
		Amount:    amount,
		Surcharge: decimal.Zero,
		Total:     amount,
		Rate:      c.rate,
		Fixed:     c.fixed,
	}

	switch {
	case !c.enabled:
		result.Reason = ReasonDisabled
	case c.isRestricted(state):
		result.Reason = ReasonRestrictedState
	case !isCreditCard(in.PaymentMethodType, in.CardType):
		result.Reason = ReasonNotCredit
	default:
		result.Surcharge = amount.Mul(c.rate).Add(c.fixed).Round(2)
		result.Total = amount.Add(result.Surcharge).Round(2)
		result.Applied = true
		result.Reason = ReasonApplied
	}
	return result, nil
}

func (c *Calculator) isRestricted(state string) bool {
	_, ok := c.restricted[state]
	return ok
}

func isCreditCard(methodType, cardType string) bool {
	return enums.PaymentMethodTypeFromGateway(methodType).IsCard() &&
		strings.EqualFold(strings.TrimSpace(cardType), cardTypeCredit)
}

func validate(in Input, state string) error {
	fields := map[string]string{}
	if !in.Amount.IsPositive() {
		fields["amount"] = "must be greater than zero"
	}
	if len(state) != 2 || !isLetters(state) {
		fields["state_code"] = "must be a two letter state code"
	}
	if strings.TrimSpace(in.PaymentMethodType) == "" {
		fields["payment_method_type"] = "required"
	}
	if len(fields) == 0 {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeValidation, "invalid surcharge request").WithDetails(fields)
}

func isLetters(s string) bool {
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
