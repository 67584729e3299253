// Package registry maps outbox event types to the topic they are relayed
// to and the payload shape subscribers can rely on.
package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/bodyf1rst/billing-backend/pkg/config"
	"github.com/bodyf1rst/billing-backend/pkg/db/models"
	"github.com/bodyf1rst/billing-backend/pkg/enums"
	"github.com/bodyf1rst/billing-backend/pkg/outbox"
	"github.com/bodyf1rst/billing-backend/pkg/outbox/payloads"
)

// EventDescriptor is one registered event type.
type EventDescriptor struct {
	EventType      enums.OutboxEventType
	AggregateTypes []enums.OutboxAggregateType
	Topic          string
	NewPayload     func() any
}

// ResolvedEvent is a decoded, validated outbox row ready to publish.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

// NonRetryableError marks rows that will fail the same way on every attempt.
type NonRetryableError struct {
	Err error
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error { return e.Err }

func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

func nonRetryable(format string, args ...any) error {
	return NonRetryableError{Err: fmt.Errorf(format, args...)}
}

// EventRegistry resolves outbox rows against the registered descriptors.
type EventRegistry struct {
	byType   map[enums.OutboxEventType]EventDescriptor
	validate *validator.Validate
}

// NewEventRegistry registers every event type this service emits.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	topic := strings.TrimSpace(cfg.NotificationTopic)
	if topic == "" {
		return nil, errors.New("notification topic is required")
	}
	reg := &EventRegistry{
		byType:   make(map[enums.OutboxEventType]EventDescriptor),
		validate: newPayloadValidator(),
	}
	if err := reg.register(EventDescriptor{
		EventType: enums.EventNotificationRequested,
		AggregateTypes: []enums.OutboxAggregateType{
			enums.AggregateUser,
			enums.AggregateInvoice,
			enums.AggregatePayment,
			enums.AggregateSubscription,
		},
		Topic:      topic,
		NewPayload: func() any { return &payloads.NotificationRequestedEvent{} },
	}); err != nil {
		return nil, err
	}
	return reg, nil
}

func (r *EventRegistry) register(desc EventDescriptor) error {
	if desc.NewPayload == nil {
		return fmt.Errorf("event %s has no payload type", desc.EventType)
	}
	if _, dup := r.byType[desc.EventType]; dup {
		return fmt.Errorf("event %s registered twice", desc.EventType)
	}
	r.byType[desc.EventType] = desc
	return nil
}

// Resolve checks the row against its descriptor and decodes the payload.
// Every failure is non-retryable.
func (r *EventRegistry) Resolve(row models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.byType[row.EventType]
	switch {
	case !ok:
		return nil, nonRetryable("unsupported event type %s", row.EventType)
	case !slices.Contains(desc.AggregateTypes, row.AggregateType):
		return nil, nonRetryable("aggregate %s not accepted for %s", row.AggregateType, row.EventType)
	case row.AggregateID == uuid.Nil:
		return nil, nonRetryable("missing aggregate_id")
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(row.Payload, &envelope); err != nil {
		return nil, nonRetryable("decode envelope: %w", err)
	}
	data := bytes.TrimSpace(envelope.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nonRetryable("payload missing for %s", row.EventType)
	}

	payload := desc.NewPayload()
	if err := json.Unmarshal(data, payload); err != nil {
		return nil, nonRetryable("decode %s payload: %w", row.EventType, err)
	}
	if err := r.validate.Struct(payload); err != nil {
		return nil, nonRetryable("invalid %s payload: %w", row.EventType, err)
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: envelope, Payload: payload}, nil
}

func newPayloadValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// A nil uuid reads as empty so `required` rejects it.
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		id, ok := field.Interface().(uuid.UUID)
		if !ok || id == uuid.Nil {
			return ""
		}
		return id.String()
	}, uuid.UUID{})
	_ = v.RegisterValidation("notification_kind", func(fl validator.FieldLevel) bool {
		kind, ok := fl.Field().Interface().(enums.NotificationKind)
		return ok && kind.IsValid()
	})
	return v
}
