package enums

// PayoutMethod selects the gateway payout speed.
type PayoutMethod string

const (
	PayoutMethodInstant  PayoutMethod = "instant"
	PayoutMethodStandard PayoutMethod = "standard"
)

var validPayoutMethods = []PayoutMethod{
	PayoutMethodInstant,
	PayoutMethodStandard,
}

// IsValid reports whether the value is known.
func (p PayoutMethod) IsValid() bool {
	for _, candidate := range validPayoutMethods {
		if candidate == p {
			return true
		}
	}
	return false
}
