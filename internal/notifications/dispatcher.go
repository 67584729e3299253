package notifications

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bodyf1rst/billing-backend/pkg/enums"
	"github.com/bodyf1rst/billing-backend/pkg/outbox"
	"github.com/bodyf1rst/billing-backend/pkg/outbox/payloads"
)

// Notification is a request to tell a user about a billing outcome. Delivery
// happens downstream of the outbox.
type Notification struct {
	UserID uuid.UUID
	Email  string
	Name   string
	Kind   enums.NotificationKind
	Data   map[string]any
	Actor  *outbox.ActorRef
}

type emitter interface {
	Emit(ctx context.Context, tx *gorm.DB, events ...outbox.DomainEvent) error
}

// Dispatcher enqueues notifications through the transactional outbox.
type Dispatcher struct {
	outbox emitter
}

func NewDispatcher(emitter emitter) (*Dispatcher, error) {
	if emitter == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	return &Dispatcher{outbox: emitter}, nil
}

// Enqueue writes the notification inside tx. The caller's commit makes it
// visible to the publisher; a rollback discards it.
func (d *Dispatcher) Enqueue(ctx context.Context, tx *gorm.DB, n Notification) error {
	if tx == nil {
		return fmt.Errorf("transaction required")
	}
	if n.UserID == uuid.Nil {
		return fmt.Errorf("notification user id required")
	}
	if !n.Kind.IsValid() {
		return fmt.Errorf("unknown notification kind %q", n.Kind)
	}
	return d.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventNotificationRequested,
		AggregateType: enums.AggregateUser,
		AggregateID:   n.UserID,
		Actor:         n.Actor,
		Data: payloads.NotificationRequestedEvent{
			UserID: n.UserID,
			Email:  n.Email,
			Name:   n.Name,
			Kind:   n.Kind,
			Data:   n.Data,
		},
	})
}
