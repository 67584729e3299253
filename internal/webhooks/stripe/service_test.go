package stripewebhook

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84/webhook"
	"gorm.io/gorm"

	"github.com/bodyf1rst/billing-backend/internal/billing"
	"github.com/bodyf1rst/billing-backend/internal/notifications"
	"github.com/bodyf1rst/billing-backend/internal/testdb"
	"github.com/bodyf1rst/billing-backend/internal/users"
	"github.com/bodyf1rst/billing-backend/pkg/config"
	"github.com/bodyf1rst/billing-backend/pkg/db"
	"github.com/bodyf1rst/billing-backend/pkg/db/models"
	"github.com/bodyf1rst/billing-backend/pkg/enums"
	pkgerrors "github.com/bodyf1rst/billing-backend/pkg/errors"
	"github.com/bodyf1rst/billing-backend/pkg/logger"
	"github.com/bodyf1rst/billing-backend/pkg/metrics"
	"github.com/bodyf1rst/billing-backend/pkg/outbox"
	"github.com/bodyf1rst/billing-backend/pkg/stripe"
)

const (
	testSecret   = "whsec_reconcile_test"
	testCustomer = "cus_member"
)

type memoryStore struct {
	mu     sync.Mutex
	values map[string]string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{values: map[string]string{}}
}

func (m *memoryStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[key], nil
}

func (m *memoryStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = "1"
	return true, nil
}

func (m *memoryStore) IdempotencyKey(scope, id string) string {
	return scope + ":" + id
}

func (m *memoryStore) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.values, key)
	}
	return nil
}

func (m *memoryStore) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.values)
}

type harness struct {
	db    *gorm.DB
	svc   *Service
	store *memoryStore
	user  *models.User
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	conn := testdb.Open(t)
	logg := logger.New(logger.Options{ServiceName: "test", Output: &bytes.Buffer{}})

	verifier, err := stripe.NewWebhookVerifier("test", testSecret)
	require.NoError(t, err)
	store := newMemoryStore()
	guard, err := NewEventGuard(store, time.Hour)
	require.NoError(t, err)
	dispatcher, err := notifications.NewDispatcher(outbox.NewService(outbox.NewRepository(nil), nil))
	require.NoError(t, err)

	svc, err := NewService(ServiceParams{
		Billing:       billing.NewRepository(conn),
		Users:         users.NewRepository(conn),
		Verifier:      verifier,
		Notifications: dispatcher,
		Guard:         guard,
		Plans: config.StripeConfig{PlanPrices: map[string]string{
			"monthly": "price_monthly",
			"annual":  "price_annual",
		}},
		Metrics:           metrics.NewWebhookMetrics(prometheus.NewRegistry()),
		TransactionRunner: db.FromConn(conn),
		Logger:            logg,
	})
	require.NoError(t, err)

	return &harness{db: conn, svc: svc, store: store, user: testdb.CreateCustomer(t, conn, testCustomer)}
}

func (h *harness) deliver(t *testing.T, eventID, eventType string, object any) (Result, error) {
	t.Helper()
	payload, header := signedEvent(t, eventID, eventType, false, object)
	return h.svc.Process(context.Background(), payload, header)
}

func (h *harness) mustDeliver(t *testing.T, eventID, eventType string, object any) Result {
	t.Helper()
	res, err := h.deliver(t, eventID, eventType, object)
	require.NoError(t, err)
	return res
}

func (h *harness) notificationCount(t *testing.T) int64 {
	return testdb.Count(t, h.db, "outbox_events", "event_type = ?", enums.EventNotificationRequested)
}

func signedEvent(t *testing.T, eventID, eventType string, livemode bool, object any) ([]byte, string) {
	t.Helper()
	raw, err := json.Marshal(object)
	require.NoError(t, err)
	payload, err := json.Marshal(map[string]any{
		"id":          eventID,
		"object":      "event",
		"type":        eventType,
		"created":     time.Now().Unix(),
		"livemode":    livemode,
		"api_version": "2020-08-27",
		"data":        map[string]any{"object": json.RawMessage(raw)},
	})
	require.NoError(t, err)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testSecret,
		Timestamp: time.Now(),
	})
	return payload, signed.Header
}

func subscriptionObject(id, status, price string) map[string]any {
	start := time.Now().Add(-24 * time.Hour)
	return map[string]any{
		"id":                   id,
		"object":               "subscription",
		"customer":             testCustomer,
		"status":               status,
		"cancel_at_period_end": false,
		"items": map[string]any{
			"object": "list",
			"data": []map[string]any{{
				"id":                   "si_" + id,
				"object":               "subscription_item",
				"price":                map[string]any{"id": price, "object": "price"},
				"current_period_start": start.Unix(),
				"current_period_end":   start.AddDate(0, 1, 0).Unix(),
			}},
		},
	}
}

func invoiceObject(id string, paid bool) map[string]any {
	obj := map[string]any{
		"id":          id,
		"object":      "invoice",
		"customer":    testCustomer,
		"amount_due":  2999,
		"currency":    "usd",
		"created":     time.Now().Unix(),
		"invoice_pdf": "https://files.example.com/" + id + ".pdf",
	}
	if paid {
		obj["amount_paid"] = 2999
		obj["status_transitions"] = map[string]any{"paid_at": time.Now().Unix()}
	}
	return obj
}

func paymentIntentObject(id, customer string, metadata map[string]string, failure string) map[string]any {
	obj := map[string]any{
		"id":       id,
		"object":   "payment_intent",
		"customer": customer,
		"amount":   5000,
		"currency": "usd",
		"metadata": metadata,
	}
	if failure != "" {
		obj["last_payment_error"] = map[string]any{"message": failure}
	}
	return obj
}

func TestEveryKindIsReachableFromAGatewayType(t *testing.T) {
	reachable := map[Kind]bool{}
	for _, kind := range gatewayKinds {
		reachable[kind] = true
	}
	for _, kind := range allKinds {
		assert.True(t, reachable[kind], "kind %s has no gateway type", kind)
		_, ok := decoders[kind]
		assert.True(t, ok, "kind %s has no decoder", kind)
	}
}

func TestSubscriptionUpdatedReplayIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.mustDeliver(t, "evt_created", "customer.subscription.created", subscriptionObject("sub_1", "active", "price_monthly"))

	updated := subscriptionObject("sub_1", "past_due", "price_annual")
	first := h.mustDeliver(t, "evt_updated", "customer.subscription.updated", updated)
	require.Equal(t, metrics.OutcomeProcessed, first.Outcome)
	replay := h.mustDeliver(t, "evt_updated", "customer.subscription.updated", updated)
	require.Equal(t, metrics.OutcomeDuplicate, replay.Outcome)
	// A distinct event carrying the same state must converge to the same row.
	again := h.mustDeliver(t, "evt_updated_again", "customer.subscription.updated", updated)
	require.Equal(t, metrics.OutcomeProcessed, again.Outcome)

	require.EqualValues(t, 1, testdb.Count(t, h.db, "subscriptions", ""))
	var sub models.Subscription
	require.NoError(t, h.db.First(&sub).Error)
	assert.Equal(t, enums.SubscriptionStatusPastDue, sub.Status)
	assert.Equal(t, "annual", sub.PlanID)
	require.NotNil(t, sub.PriceID)
	assert.Equal(t, "price_annual", *sub.PriceID)
	assert.Equal(t, "test", sub.Environment)

	var user models.User
	require.NoError(t, h.db.First(&user, "id = ?", h.user.ID).Error)
	assert.Equal(t, enums.BillingStatusPastDue, user.BillingStatus)
}

func TestSubscriptionUpdatedForUnknownSubscriptionCreatesNothing(t *testing.T) {
	h := newHarness(t)
	res := h.mustDeliver(t, "evt_orphan", "customer.subscription.updated", subscriptionObject("sub_missing", "active", "price_monthly"))
	assert.Equal(t, metrics.OutcomeProcessed, res.Outcome)
	assert.EqualValues(t, 0, testdb.Count(t, h.db, "subscriptions", ""))
}

func TestSubscriptionDeletedCancelsAndMirrorsBillingStatus(t *testing.T) {
	h := newHarness(t)
	h.mustDeliver(t, "evt_created", "customer.subscription.created", subscriptionObject("sub_1", "active", "price_monthly"))
	h.mustDeliver(t, "evt_deleted", "customer.subscription.deleted", subscriptionObject("sub_1", "canceled", "price_monthly"))

	var sub models.Subscription
	require.NoError(t, h.db.First(&sub).Error)
	assert.Equal(t, enums.SubscriptionStatusCancelled, sub.Status)
	assert.NotNil(t, sub.CancelledAt)

	var user models.User
	require.NoError(t, h.db.First(&user, "id = ?", h.user.ID).Error)
	assert.Equal(t, enums.BillingStatusCancelled, user.BillingStatus)
}

func TestLateEventsDoNotReviveCancelledSubscription(t *testing.T) {
	h := newHarness(t)
	h.mustDeliver(t, "evt_deleted", "customer.subscription.deleted", subscriptionObject("sub_1", "canceled", "price_monthly"))
	h.mustDeliver(t, "evt_created", "customer.subscription.created", subscriptionObject("sub_1", "active", "price_monthly"))
	h.mustDeliver(t, "evt_updated", "customer.subscription.updated", subscriptionObject("sub_1", "active", "price_annual"))

	var sub models.Subscription
	require.NoError(t, h.db.First(&sub, "stripe_subscription_id = ?", "sub_1").Error)
	assert.Equal(t, enums.SubscriptionStatusCancelled, sub.Status)
	assert.NotNil(t, sub.CancelledAt)

	var user models.User
	require.NoError(t, h.db.First(&user, "id = ?", h.user.ID).Error)
	assert.Equal(t, enums.BillingStatusCancelled, user.BillingStatus)

	// The member resubscribes; a straggler for the old subscription must not
	// touch the new billing status.
	h.mustDeliver(t, "evt_new", "customer.subscription.created", subscriptionObject("sub_2", "active", "price_monthly"))
	h.mustDeliver(t, "evt_straggler", "customer.subscription.updated", subscriptionObject("sub_1", "past_due", "price_monthly"))

	require.NoError(t, h.db.First(&user, "id = ?", h.user.ID).Error)
	assert.Equal(t, enums.BillingStatusActive, user.BillingStatus)
	require.NoError(t, h.db.First(&sub, "stripe_subscription_id = ?", "sub_1").Error)
	assert.Equal(t, enums.SubscriptionStatusCancelled, sub.Status)
}

func TestDisabledUserKeepsBillingStatus(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.db.Model(&models.User{}).Where("id = ?", h.user.ID).Update("billing_status", enums.BillingStatusDisabled).Error)

	h.mustDeliver(t, "evt_created", "customer.subscription.created", subscriptionObject("sub_1", "active", "price_monthly"))

	var user models.User
	require.NoError(t, h.db.First(&user, "id = ?", h.user.ID).Error)
	assert.Equal(t, enums.BillingStatusDisabled, user.BillingStatus)
}

func TestInvoiceFailedThenSucceededEndsPaid(t *testing.T) {
	h := newHarness(t)

	h.mustDeliver(t, "evt_fail", "invoice.payment_failed", invoiceObject("in_1", false))
	var inv models.Invoice
	require.NoError(t, h.db.First(&inv).Error)
	assert.Equal(t, enums.InvoiceStatusFailed, inv.Status)
	assert.Nil(t, inv.PaidAt)
	require.EqualValues(t, 1, h.notificationCount(t))

	h.mustDeliver(t, "evt_paid", "invoice.payment_succeeded", invoiceObject("in_1", true))
	require.NoError(t, h.db.First(&inv).Error)
	assert.Equal(t, enums.InvoiceStatusPaid, inv.Status)
	assert.NotNil(t, inv.PaidAt)
	require.EqualValues(t, 2, h.notificationCount(t))

	// invoice.paid arrives for the same invoice; no second receipt.
	h.mustDeliver(t, "evt_paid_alias", "invoice.paid", invoiceObject("in_1", true))
	require.EqualValues(t, 2, h.notificationCount(t))

	h.mustDeliver(t, "evt_late_fail", "invoice.payment_failed", invoiceObject("in_1", false))
	require.NoError(t, h.db.First(&inv).Error)
	assert.Equal(t, enums.InvoiceStatusPaid, inv.Status)
	require.EqualValues(t, 2, h.notificationCount(t))
	require.EqualValues(t, 1, testdb.Count(t, h.db, "invoices", ""))
}

func TestBadSignatureMutatesNothing(t *testing.T) {
	h := newHarness(t)
	payload, _ := signedEvent(t, "evt_forged", "payment_intent.succeeded", false, paymentIntentObject("pi_1", testCustomer, nil, ""))

	res, err := h.svc.Process(context.Background(), payload, "t=1,v1=deadbeef")
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeSignature))
	assert.Equal(t, metrics.OutcomeRejected, res.Outcome)

	_, err = h.svc.Process(context.Background(), payload, "")
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeSignature))

	assert.EqualValues(t, 0, testdb.Count(t, h.db, "payments", ""))
	assert.EqualValues(t, 0, testdb.Count(t, h.db, "outbox_events", ""))
	assert.Zero(t, h.store.len())
}

func TestUnknownEventTypeIsAcknowledgedWithoutMutation(t *testing.T) {
	h := newHarness(t)
	res := h.mustDeliver(t, "evt_other", "customer.created", map[string]any{"id": testCustomer, "object": "customer"})

	assert.Equal(t, metrics.OutcomeIgnored, res.Outcome)
	assert.Zero(t, h.store.len())
	assert.EqualValues(t, 0, testdb.Count(t, h.db, "outbox_events", ""))
}

func TestLiveEventIgnoredByTestEnvironment(t *testing.T) {
	h := newHarness(t)
	payload, header := signedEvent(t, "evt_live", "payment_intent.succeeded", true, paymentIntentObject("pi_live", testCustomer, nil, ""))

	res, err := h.svc.Process(context.Background(), payload, header)
	require.NoError(t, err)
	assert.Equal(t, metrics.OutcomeIgnored, res.Outcome)
	assert.EqualValues(t, 0, testdb.Count(t, h.db, "payments", ""))
}

func TestMalformedObjectIsRejectedBeforeClaim(t *testing.T) {
	h := newHarness(t)
	_, err := h.deliver(t, "evt_bad", "invoice.paid", map[string]any{"object": "invoice"})

	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeBadRequest))
	assert.Equal(t, 400, pkgerrors.MetadataFor(pkgerrors.As(err).Code()).HTTPStatus)
	assert.Zero(t, h.store.len())
}

func TestPaymentFailedReplayDoesNotDuplicateNotifications(t *testing.T) {
	h := newHarness(t)
	failed := paymentIntentObject("pi_1", testCustomer, nil, "Your card was declined.")

	h.mustDeliver(t, "evt_pf", "payment_intent.payment_failed", failed)
	res := h.mustDeliver(t, "evt_pf", "payment_intent.payment_failed", failed)

	assert.Equal(t, metrics.OutcomeDuplicate, res.Outcome)
	assert.EqualValues(t, 1, testdb.Count(t, h.db, "payments", "status = ?", enums.PaymentStatusFailed))
	assert.EqualValues(t, 1, h.notificationCount(t))
}

func TestPaymentSucceededRecordsCoachAndStaysCompleted(t *testing.T) {
	h := newHarness(t)
	coachID := uuid.New()
	meta := map[string]string{"coach_id": coachID.String()}

	h.mustDeliver(t, "evt_ok", "payment_intent.succeeded", paymentIntentObject("pi_1", testCustomer, meta, ""))
	h.mustDeliver(t, "evt_late", "payment_intent.payment_failed", paymentIntentObject("pi_1", testCustomer, meta, "declined"))

	var payment models.Payment
	require.NoError(t, h.db.First(&payment).Error)
	assert.Equal(t, enums.PaymentStatusCompleted, payment.Status)
	require.NotNil(t, payment.CoachID)
	assert.Equal(t, coachID, *payment.CoachID)
	assert.NotNil(t, payment.PaymentDate)
	assert.Nil(t, payment.FailureMessage)
	assert.EqualValues(t, 0, h.notificationCount(t))
}

func TestUnknownCustomerIsAcknowledged(t *testing.T) {
	h := newHarness(t)
	res := h.mustDeliver(t, "evt_stranger", "payment_intent.succeeded", paymentIntentObject("pi_1", "cus_stranger", nil, ""))

	assert.Equal(t, metrics.OutcomeProcessed, res.Outcome)
	assert.EqualValues(t, 0, testdb.Count(t, h.db, "payments", ""))
}

func TestHandlerFailureReleasesClaim(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.db.Exec("DROP TABLE payments").Error)

	res, err := h.deliver(t, "evt_broken", "payment_intent.succeeded", paymentIntentObject("pi_1", testCustomer, nil, ""))
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeInternal))
	assert.Equal(t, metrics.OutcomeFailed, res.Outcome)
	assert.Zero(t, h.store.len())
}

func TestPaymentMethodDetachedRemovesLocalRow(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.db.Create(&models.PaymentMethod{
		UserID:                h.user.ID,
		Environment:           "test",
		StripePaymentMethodID: "pm_1",
		Type:                  enums.PaymentMethodTypeCard,
	}).Error)

	pm := map[string]any{"id": "pm_1", "object": "payment_method", "type": "card"}
	h.mustDeliver(t, "evt_attached", "payment_method.attached", pm)
	require.EqualValues(t, 1, testdb.Count(t, h.db, "payment_methods", ""))

	h.mustDeliver(t, "evt_detached", "payment_method.detached", pm)
	assert.EqualValues(t, 0, testdb.Count(t, h.db, "payment_methods", ""))
}
