package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/bodyf1rst/billing-backend/internal/testdb"
	"github.com/bodyf1rst/billing-backend/pkg/db/models"
	"github.com/bodyf1rst/billing-backend/pkg/enums"
	"github.com/bodyf1rst/billing-backend/pkg/outbox"
)

var _ emitter = (*outbox.Service)(nil)

func newDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	d, err := NewDispatcher(outbox.NewService(outbox.NewRepository(nil), nil))
	require.NoError(t, err)
	return d
}

func TestEnqueueWritesOutboxRow(t *testing.T) {
	db := testdb.Open(t)
	d := newDispatcher(t)
	userID := uuid.New()

	err := db.Transaction(func(tx *gorm.DB) error {
		return d.Enqueue(context.Background(), tx, Notification{
			UserID: userID,
			Email:  "member@example.com",
			Kind:   enums.NotificationInvoicePaid,
			Data:   map[string]any{"invoice_id": "in_123"},
		})
	})
	require.NoError(t, err)

	var row models.OutboxEvent
	require.NoError(t, db.First(&row).Error)
	require.Equal(t, enums.EventNotificationRequested, row.EventType)
	require.Equal(t, enums.AggregateUser, row.AggregateType)
	require.Equal(t, userID, row.AggregateID)

	var envelope outbox.PayloadEnvelope
	require.NoError(t, json.Unmarshal(row.Payload, &envelope))
	var data map[string]any
	require.NoError(t, json.Unmarshal(envelope.Data, &data))
	require.Equal(t, "invoice_paid", data["kind"])
}

func TestEnqueueRolledBackWithCaller(t *testing.T) {
	db := testdb.Open(t)
	d := newDispatcher(t)

	boom := errors.New("boom")
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := d.Enqueue(context.Background(), tx, Notification{UserID: uuid.New(), Kind: enums.NotificationPaymentFailed}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Zero(t, testdb.Count(t, db, "outbox_events", ""))
}

func TestEnqueueRejectsBadInput(t *testing.T) {
	db := testdb.Open(t)
	d := newDispatcher(t)
	ctx := context.Background()

	require.Error(t, d.Enqueue(ctx, nil, Notification{UserID: uuid.New(), Kind: enums.NotificationInvoicePaid}))
	require.Error(t, d.Enqueue(ctx, db, Notification{Kind: enums.NotificationInvoicePaid}))
	require.Error(t, d.Enqueue(ctx, db, Notification{UserID: uuid.New(), Kind: "sms_blast"}))
}
