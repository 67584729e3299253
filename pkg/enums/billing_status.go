package enums

// BillingStatus is the user-level billing flag shown to admins and gates paid features.
type BillingStatus string

const (
	BillingStatusNone      BillingStatus = "none"
	BillingStatusActive    BillingStatus = "active"
	BillingStatusPastDue   BillingStatus = "past_due"
	BillingStatusCancelled BillingStatus = "cancelled"
	BillingStatusDisabled  BillingStatus = "disabled"
)

var validBillingStatuses = []BillingStatus{
	BillingStatusNone,
	BillingStatusActive,
	BillingStatusPastDue,
	BillingStatusCancelled,
	BillingStatusDisabled,
}

// String implements fmt.Stringer.
func (b BillingStatus) String() string {
	return string(b)
}

// IsValid reports whether the value is known.
func (b BillingStatus) IsValid() bool {
	for _, candidate := range validBillingStatuses {
		if candidate == b {
			return true
		}
	}
	return false
}
