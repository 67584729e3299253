package registry

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/bodyf1rst/billing-backend/pkg/config"
	"github.com/bodyf1rst/billing-backend/pkg/db/models"
	"github.com/bodyf1rst/billing-backend/pkg/enums"
	"github.com/bodyf1rst/billing-backend/pkg/outbox"
	"github.com/bodyf1rst/billing-backend/pkg/outbox/payloads"
	"github.com/google/uuid"
)

func TestEventRegistryResolveNotification(t *testing.T) {
	reg := newTestEventRegistry(t)

	userID := uuid.New()
	payloadBytes := mustMarshal(t, payloads.NotificationRequestedEvent{
		UserID: userID,
		Kind:   enums.NotificationInvoicePaid,
		Data:   map[string]any{"invoice_id": "in_123"},
	})

	event := models.OutboxEvent{
		EventType:     enums.EventNotificationRequested,
		AggregateType: enums.AggregateInvoice,
		AggregateID:   uuid.New(),
		Payload:       mustEnvelope(t, payloadBytes),
	}

	resolved, err := reg.Resolve(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved.Descriptor.Topic != "notification-topic" {
		t.Fatalf("unexpected topic %q", resolved.Descriptor.Topic)
	}
	payload, ok := resolved.Payload.(*payloads.NotificationRequestedEvent)
	if !ok {
		t.Fatalf("unexpected payload type %T", resolved.Payload)
	}
	if payload.UserID != userID || payload.Kind != enums.NotificationInvoicePaid {
		t.Fatalf("payload mismatch %+v", payload)
	}
	if resolved.Envelope.EventID == "" {
		t.Fatalf("envelope missing event id")
	}
}

func TestEventRegistryRejectsBadRows(t *testing.T) {
	reg := newTestEventRegistry(t)
	valid := mustEnvelope(t, []byte(`{"user_id":"00000000-0000-0000-0000-000000000001","kind":"payment_failed"}`))

	cases := map[string]models.OutboxEvent{
		"unknown event": {
			EventType:     enums.OutboxEventType("subscription_synced"),
			AggregateType: enums.AggregateUser,
			AggregateID:   uuid.New(),
			Payload:       valid,
		},
		"aggregate mismatch": {
			EventType:     enums.EventNotificationRequested,
			AggregateType: enums.OutboxAggregateType("payout"),
			AggregateID:   uuid.New(),
			Payload:       valid,
		},
		"missing aggregate id": {
			EventType:     enums.EventNotificationRequested,
			AggregateType: enums.AggregateUser,
			Payload:       valid,
		},
		"null payload": {
			EventType:     enums.EventNotificationRequested,
			AggregateType: enums.AggregateUser,
			AggregateID:   uuid.New(),
			Payload:       mustEnvelope(t, []byte("null")),
		},
		"nil user id": {
			EventType:     enums.EventNotificationRequested,
			AggregateType: enums.AggregateUser,
			AggregateID:   uuid.New(),
			Payload:       mustEnvelope(t, []byte(`{"user_id":"00000000-0000-0000-0000-000000000000","kind":"payment_failed"}`)),
		},
		"unknown kind": {
			EventType:     enums.EventNotificationRequested,
			AggregateType: enums.AggregateUser,
			AggregateID:   uuid.New(),
			Payload:       mustEnvelope(t, []byte(`{"user_id":"00000000-0000-0000-0000-000000000001","kind":"sms_blast"}`)),
		},
		"bad email": {
			EventType:     enums.EventNotificationRequested,
			AggregateType: enums.AggregateUser,
			AggregateID:   uuid.New(),
			Payload:       mustEnvelope(t, []byte(`{"user_id":"00000000-0000-0000-0000-000000000001","kind":"payment_failed","email":"not-an-email"}`)),
		},
		"broken envelope": {
			EventType:     enums.EventNotificationRequested,
			AggregateType: enums.AggregateUser,
			AggregateID:   uuid.New(),
			Payload:       json.RawMessage(`{"version":`),
		},
	}

	for name, event := range cases {
		_, err := reg.Resolve(event)
		if err == nil {
			t.Fatalf("%s: expected error", name)
		}
		var nonRetry NonRetryableError
		if !errors.As(err, &nonRetry) {
			t.Fatalf("%s: expected non-retryable error, got %T", name, err)
		}
	}
}

func TestNewEventRegistryRequiresTopic(t *testing.T) {
	if _, err := NewEventRegistry(config.PubSubConfig{}); err == nil {
		t.Fatal("expected missing topic to fail")
	}
}

func newTestEventRegistry(t *testing.T) *EventRegistry {
	t.Helper()
	reg, err := NewEventRegistry(config.PubSubConfig{NotificationTopic: "notification-topic"})
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	return reg
}

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return data
}

func mustEnvelope(t *testing.T, payload []byte) json.RawMessage {
	t.Helper()
	envelope := outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       payload,
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return data
}
