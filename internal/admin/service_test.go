package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/bodyf1rst/billing-backend/internal/audit"
	"github.com/bodyf1rst/billing-backend/internal/billing"
	"github.com/bodyf1rst/billing-backend/internal/notifications"
	"github.com/bodyf1rst/billing-backend/internal/testdb"
	"github.com/bodyf1rst/billing-backend/internal/users"
	"github.com/bodyf1rst/billing-backend/pkg/db"
	"github.com/bodyf1rst/billing-backend/pkg/db/models"
	"github.com/bodyf1rst/billing-backend/pkg/enums"
	pkgerrors "github.com/bodyf1rst/billing-backend/pkg/errors"
	"github.com/bodyf1rst/billing-backend/pkg/logger"
	"github.com/bodyf1rst/billing-backend/pkg/outbox"
)

type harness struct {
	db    *gorm.DB
	svc   Service
	admin *models.User
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	conn := testdb.Open(t)
	logg := logger.New(logger.Options{ServiceName: "test", Output: &bytes.Buffer{}})
	dispatcher, err := notifications.NewDispatcher(outbox.NewService(outbox.NewRepository(nil), logg))
	require.NoError(t, err)

	svc, err := NewService(ServiceParams{
		Users:             users.NewRepository(conn),
		Billing:           billing.NewRepository(conn),
		Audit:             audit.NewRecorder(conn),
		Notifications:     dispatcher,
		TransactionRunner: db.FromConn(conn),
		Logger:            logg,
	})
	require.NoError(t, err)
	return &harness{db: conn, svc: svc, admin: testdb.CreateUser(t, conn, enums.RoleAdmin)}
}

func (h *harness) userWithStatus(t *testing.T, status enums.BillingStatus) *models.User {
	t.Helper()
	user := testdb.CreateUser(t, h.db, enums.RoleMember)
	require.NoError(t, h.db.Model(user).Update("billing_status", status).Error)
	user.BillingStatus = status
	return user
}

func (h *harness) statusOf(t *testing.T, id uuid.UUID) enums.BillingStatus {
	t.Helper()
	var user models.User
	require.NoError(t, h.db.First(&user, "id = ?", id).Error)
	return user.BillingStatus
}

func TestSetBillingStatusRecordsAudit(t *testing.T) {
	h := newHarness(t)
	user := h.userWithStatus(t, enums.BillingStatusPastDue)

	change, err := h.svc.SetBillingStatus(context.Background(), h.admin.ID, user.ID, enums.BillingStatusActive, "  paid by check ")
	require.NoError(t, err)
	assert.Equal(t, enums.BillingStatusPastDue, change.Previous)
	assert.Equal(t, enums.BillingStatusActive, change.Current)
	assert.Equal(t, enums.BillingStatusActive, h.statusOf(t, user.ID))

	var row models.AdminAction
	require.NoError(t, h.db.First(&row, "target_id = ?", user.ID.String()).Error)
	assert.Equal(t, h.admin.ID, row.AdminID)
	assert.Equal(t, enums.AdminActionBillingStatusChanged, row.Action)

	var details map[string]any
	require.NoError(t, json.Unmarshal(row.Details, &details))
	assert.Equal(t, "past_due", details["from"])
	assert.Equal(t, "active", details["to"])
	assert.Equal(t, "paid by check", details["reason"])
}

func TestSetBillingStatusErrors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := h.userWithStatus(t, enums.BillingStatusActive)

	_, err := h.svc.SetBillingStatus(ctx, h.admin.ID, user.ID, enums.BillingStatus("frozen"), "")
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))

	_, err = h.svc.SetBillingStatus(ctx, h.admin.ID, uuid.New(), enums.BillingStatusDisabled, "")
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))

	assert.EqualValues(t, 0, testdb.Count(t, h.db, "admin_actions", ""))
}

func TestMutationRollsBackWhenAuditFails(t *testing.T) {
	h := newHarness(t)
	user := h.userWithStatus(t, enums.BillingStatusActive)
	require.NoError(t, h.db.Exec("DROP TABLE admin_actions").Error)

	_, err := h.svc.SetBillingStatus(context.Background(), h.admin.ID, user.ID, enums.BillingStatusDisabled, "fraud")
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeInternal))
	assert.Equal(t, enums.BillingStatusActive, h.statusOf(t, user.ID))
}

func TestBulkDisableBillingReportsPerUser(t *testing.T) {
	h := newHarness(t)
	active := h.userWithStatus(t, enums.BillingStatusActive)
	already := h.userWithStatus(t, enums.BillingStatusDisabled)
	missing := uuid.New()

	results, err := h.svc.BulkDisableBilling(context.Background(), h.admin.ID, []uuid.UUID{active.ID, already.ID, missing, active.ID}, "chargeback")
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, UserResult{UserID: active.ID, Outcome: OutcomeApplied}, results[0])
	assert.Equal(t, UserResult{UserID: already.ID, Outcome: OutcomeUnchanged}, results[1])
	assert.Equal(t, UserResult{UserID: missing, Outcome: OutcomeNotFound}, results[2])

	assert.Equal(t, enums.BillingStatusDisabled, h.statusOf(t, active.ID))
	assert.EqualValues(t, 1, testdb.Count(t, h.db, "admin_actions", "action = ?", enums.AdminActionBillingDisabled))
}

func TestBulkRequestValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.BulkDisableBilling(ctx, h.admin.ID, nil, "")
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))

	_, err = h.svc.SendPaymentReminders(ctx, h.admin.ID, []uuid.UUID{uuid.Nil})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))

	tooMany := make([]uuid.UUID, MaxBulkUsers+1)
	for i := range tooMany {
		tooMany[i] = uuid.New()
	}
	_, err = h.svc.BulkDisableBilling(ctx, h.admin.ID, tooMany, "")
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
}

func TestSendPaymentRemindersOnlyPastDue(t *testing.T) {
	h := newHarness(t)
	pastDue := h.userWithStatus(t, enums.BillingStatusPastDue)
	active := h.userWithStatus(t, enums.BillingStatusActive)

	results, err := h.svc.SendPaymentReminders(context.Background(), h.admin.ID, []uuid.UUID{pastDue.ID, active.ID})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, OutcomeApplied, results[0].Outcome)
	assert.Equal(t, OutcomeSkipped, results[1].Outcome)
	assert.Equal(t, "billing status is active", results[1].Reason)

	assert.EqualValues(t, 1, testdb.Count(t, h.db, "outbox_events", "event_type = ? AND aggregate_id = ?", enums.EventNotificationRequested, pastDue.ID.String()))
	assert.EqualValues(t, 0, testdb.Count(t, h.db, "outbox_events", "aggregate_id = ?", active.ID.String()))
	assert.EqualValues(t, 1, testdb.Count(t, h.db, "admin_actions", "action = ?", enums.AdminActionPaymentReminderSent))
}

func TestAttachInvoiceDocument(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := testdb.CreateUser(t, h.db, enums.RoleMember)
	invoice := models.Invoice{
		ID:              uuid.New(),
		UserID:          user.ID,
		Environment:     "test",
		StripeInvoiceID: "in_doc",
		AmountCents:     4999,
		Currency:        "usd",
		Status:          enums.InvoiceStatusPaid,
	}
	require.NoError(t, h.db.Create(&invoice).Error)

	require.NoError(t, h.svc.AttachInvoiceDocument(ctx, h.admin.ID, invoice.ID, " invoices/2026/./in_doc.pdf "))
	var stored models.Invoice
	require.NoError(t, h.db.First(&stored, "id = ?", invoice.ID).Error)
	require.NotNil(t, stored.DocumentPath)
	assert.Equal(t, "invoices/2026/in_doc.pdf", *stored.DocumentPath)
	assert.EqualValues(t, 1, testdb.Count(t, h.db, "admin_actions", "action = ?", enums.AdminActionInvoiceDocumentAttached))

	for _, bad := range []string{"", "/etc/passwd", "../secrets.pdf", "https://cdn.example.com/a.pdf"} {
		err := h.svc.AttachInvoiceDocument(ctx, h.admin.ID, invoice.ID, bad)
		assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation), bad)
	}

	err := h.svc.AttachInvoiceDocument(ctx, h.admin.ID, uuid.New(), "invoices/missing.pdf")
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))
}

func TestListActionsFiltersByTarget(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.userWithStatus(t, enums.BillingStatusActive)
	b := h.userWithStatus(t, enums.BillingStatusActive)

	_, err := h.svc.SetBillingStatus(ctx, h.admin.ID, a.ID, enums.BillingStatusPastDue, "")
	require.NoError(t, err)
	_, err = h.svc.SetBillingStatus(ctx, h.admin.ID, b.ID, enums.BillingStatusPastDue, "")
	require.NoError(t, err)

	page, err := h.svc.ListActions(ctx, audit.ListFilters{TargetID: a.ID.String()})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, a.ID.String(), page.Items[0].TargetID)
	assert.Empty(t, page.NextCursor)
}
