package enums

// NotificationKind names the user-facing notification a billing event requests.
type NotificationKind string

const (
	NotificationPaymentFailed        NotificationKind = "payment_failed"
	NotificationInvoicePaid          NotificationKind = "invoice_paid"
	NotificationInvoicePaymentFailed NotificationKind = "invoice_payment_failed"
	NotificationPaymentReminder      NotificationKind = "payment_reminder"
)

var validNotificationKinds = []NotificationKind{
	NotificationPaymentFailed,
	NotificationInvoicePaid,
	NotificationInvoicePaymentFailed,
	NotificationPaymentReminder,
}

// String implements fmt.Stringer.
func (n NotificationKind) String() string {
	return string(n)
}

// IsValid reports whether the value is known.
func (n NotificationKind) IsValid() bool {
	for _, candidate := range validNotificationKinds {
		if candidate == n {
			return true
		}
	}
	return false
}
