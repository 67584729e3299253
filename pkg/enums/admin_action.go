package enums

import "fmt"

// AdminActionType names a privileged mutation recorded in the audit log.
type AdminActionType string

const (
	AdminActionBillingStatusChanged    AdminActionType = "billing_status_changed"
	AdminActionBillingDisabled         AdminActionType = "billing_disabled"
	AdminActionPaymentReminderSent     AdminActionType = "payment_reminder_sent"
	AdminActionInvoiceDocumentAttached AdminActionType = "invoice_document_attached"
)

var validAdminActionTypes = []AdminActionType{
	AdminActionBillingStatusChanged,
	AdminActionBillingDisabled,
	AdminActionPaymentReminderSent,
	AdminActionInvoiceDocumentAttached,
}

// String implements fmt.Stringer.
func (a AdminActionType) String() string {
	return string(a)
}

// IsValid reports whether the value is known.
func (a AdminActionType) IsValid() bool {
	for _, candidate := range validAdminActionTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseAdminActionType converts raw input into a AdminActionType.
func ParseAdminActionType(value string) (AdminActionType, error) {
	for _, candidate := range validAdminActionTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid admin action %q", value)
}
