package enums

import "fmt"

// PayoutStatus mirrors the gateway payout lifecycle.
type PayoutStatus string

const (
	PayoutStatusPending   PayoutStatus = "pending"
	PayoutStatusInTransit PayoutStatus = "in_transit"
	PayoutStatusPaid      PayoutStatus = "paid"
	PayoutStatusFailed    PayoutStatus = "failed"
	PayoutStatusCanceled  PayoutStatus = "canceled"
)

var validPayoutStatuses = []PayoutStatus{
	PayoutStatusPending,
	PayoutStatusInTransit,
	PayoutStatusPaid,
	PayoutStatusFailed,
	PayoutStatusCanceled,
}

// String implements fmt.Stringer.
func (p PayoutStatus) String() string {
	return string(p)
}

// IsValid reports whether the value is known.
func (p PayoutStatus) IsValid() bool {
	for _, candidate := range validPayoutStatuses {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePayoutStatus converts raw input into a PayoutStatus.
func ParsePayoutStatus(value string) (PayoutStatus, error) {
	for _, candidate := range validPayoutStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payout status %q", value)
}

// IsOpen reports whether the payout may still change at the gateway.
func (p PayoutStatus) IsOpen() bool {
	return p == PayoutStatusPending || p == PayoutStatusInTransit
}

// PayoutStatusFromGateway maps the gateway payout status. Unknown values stay pending.
func PayoutStatusFromGateway(value string) PayoutStatus {
	if status, err := ParsePayoutStatus(value); err == nil {
		return status
	}
	return PayoutStatusPending
}
