package enums

// OutboxAggregateType names the entity an outbox event refers to. The
// relay uses the aggregate id as the Pub/Sub ordering key.
type OutboxAggregateType string

const (
	AggregateUser         OutboxAggregateType = "user"
	AggregateInvoice      OutboxAggregateType = "invoice"
	AggregatePayment      OutboxAggregateType = "payment"
	AggregateSubscription OutboxAggregateType = "subscription"
)

func (a OutboxAggregateType) IsValid() bool {
	switch a {
	case AggregateUser, AggregateInvoice, AggregatePayment, AggregateSubscription:
		return true
	}
	return false
}

// OutboxEventType names the payload carried by an outbox row and selects
// the topic it is relayed to.
type OutboxEventType string

const (
	EventNotificationRequested OutboxEventType = "notification_requested"
)

func (e OutboxEventType) IsValid() bool {
	return e == EventNotificationRequested
}
