package enums

import "fmt"

// SubscriptionStatus mirrors the gateway's subscription state.
type SubscriptionStatus string

const (
	SubscriptionStatusActive            SubscriptionStatus = "active"
	SubscriptionStatusTrialing          SubscriptionStatus = "trialing"
	SubscriptionStatusPastDue           SubscriptionStatus = "past_due"
	SubscriptionStatusCancelled         SubscriptionStatus = "cancelled"
	SubscriptionStatusIncomplete        SubscriptionStatus = "incomplete"
	SubscriptionStatusIncompleteExpired SubscriptionStatus = "incomplete_expired"
	SubscriptionStatusUnpaid            SubscriptionStatus = "unpaid"
	SubscriptionStatusPaused            SubscriptionStatus = "paused"
)

var validSubscriptionStatuses = []SubscriptionStatus{
	SubscriptionStatusActive,
	SubscriptionStatusTrialing,
	SubscriptionStatusPastDue,
	SubscriptionStatusCancelled,
	SubscriptionStatusIncomplete,
	SubscriptionStatusIncompleteExpired,
	SubscriptionStatusUnpaid,
	SubscriptionStatusPaused,
}

// String implements fmt.Stringer.
func (s SubscriptionStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is known.
func (s SubscriptionStatus) IsValid() bool {
	for _, candidate := range validSubscriptionStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseSubscriptionStatus converts raw input into a SubscriptionStatus.
func ParseSubscriptionStatus(value string) (SubscriptionStatus, error) {
	for _, candidate := range validSubscriptionStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid subscription status %q", value)
}

// SubscriptionStatusFromGateway maps the gateway's spelling onto the local enum.
// Unrecognised values fall back to incomplete.
func SubscriptionStatusFromGateway(value string) SubscriptionStatus {
	if value == "canceled" {
		return SubscriptionStatusCancelled
	}
	if status, err := ParseSubscriptionStatus(value); err == nil {
		return status
	}
	return SubscriptionStatusIncomplete
}

// IsCurrent reports whether the subscription still entitles the user to a plan.
func (s SubscriptionStatus) IsCurrent() bool {
	switch s {
	case SubscriptionStatusActive, SubscriptionStatusTrialing, SubscriptionStatusPastDue:
		return true
	default:
		return false
	}
}

// BillingStatus derives the user-level billing flag mirrored from a subscription.
func (s SubscriptionStatus) BillingStatus() BillingStatus {
	switch s {
	case SubscriptionStatusActive, SubscriptionStatusTrialing:
		return BillingStatusActive
	case SubscriptionStatusPastDue, SubscriptionStatusUnpaid:
		return BillingStatusPastDue
	case SubscriptionStatusCancelled, SubscriptionStatusIncompleteExpired:
		return BillingStatusCancelled
	default:
		return BillingStatusNone
	}
}
