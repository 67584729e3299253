package enums

import "strings"

// PaymentMethodType is the stored category of a saved payment method. It
// matches the payment_method_type Postgres enum.
type PaymentMethodType string

const (
	PaymentMethodTypeCard          PaymentMethodType = "card"
	PaymentMethodTypeUSBankAccount PaymentMethodType = "us_bank_account"
	PaymentMethodTypeOther         PaymentMethodType = "other"
)

func (p PaymentMethodType) String() string {
	return string(p)
}

func (p PaymentMethodType) IsValid() bool {
	switch p {
	case PaymentMethodTypeCard, PaymentMethodTypeUSBankAccount, PaymentMethodTypeOther:
		return true
	}
	return false
}

// IsCard reports whether surcharge rules can apply to the method at all.
func (p PaymentMethodType) IsCard() bool {
	return p == PaymentMethodTypeCard
}

// PaymentMethodTypeFromGateway folds the gateway's many method types (link,
// cashapp, sepa_debit, ...) onto the categories billing stores.
func PaymentMethodTypeFromGateway(raw string) PaymentMethodType {
	t := PaymentMethodType(strings.ToLower(strings.TrimSpace(raw)))
	if t.IsValid() {
		return t
	}
	return PaymentMethodTypeOther
}
