package enums

// PaymentStatus tracks a single gateway charge attempt. Completed is
// final: a late failure event never downgrades it.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
)
