package billing

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/bodyf1rst/billing-backend/internal/testdb"
	"github.com/bodyf1rst/billing-backend/pkg/db/models"
	"github.com/bodyf1rst/billing-backend/pkg/enums"
)

func TestUpsertInvoiceKeepsPaidTerminal(t *testing.T) {
	conn := testdb.Open(t)
	repo := NewRepository(conn)
	ctx := context.Background()
	user := testdb.CreateUser(t, conn, enums.RoleMember)
	paidAt := time.Now().UTC().Truncate(time.Second)

	paid, err := repo.UpsertInvoice(ctx, &models.Invoice{
		UserID: user.ID, Environment: "test", StripeInvoiceID: "in_1",
		AmountCents: 1999, Currency: "usd", Status: enums.InvoiceStatusPaid, PaidAt: &paidAt,
	})
	require.NoError(t, err)

	late, err := repo.UpsertInvoice(ctx, &models.Invoice{
		UserID: user.ID, Environment: "test", StripeInvoiceID: "in_1",
		AmountCents: 1999, Currency: "usd", Status: enums.InvoiceStatusFailed,
	})
	require.NoError(t, err)
	require.Equal(t, paid.ID, late.ID)
	require.Equal(t, enums.InvoiceStatusPaid, late.Status)
	require.NotNil(t, late.PaidAt)
	require.Equal(t, int64(1), testdb.Count(t, conn, "invoices", ""))
}

func TestUpsertInvoiceSeparatesEnvironments(t *testing.T) {
	conn := testdb.Open(t)
	repo := NewRepository(conn)
	ctx := context.Background()
	user := testdb.CreateUser(t, conn, enums.RoleMember)

	for _, env := range []string{"test", "live"} {
		_, err := repo.UpsertInvoice(ctx, &models.Invoice{
			UserID: user.ID, Environment: env, StripeInvoiceID: "in_same",
			AmountCents: 500, Currency: "usd", Status: enums.InvoiceStatusPending,
		})
		require.NoError(t, err)
	}
	require.Equal(t, int64(2), testdb.Count(t, conn, "invoices", "stripe_invoice_id = ?", "in_same"))
}

func TestUpsertPaymentFailedThenCompleted(t *testing.T) {
	conn := testdb.Open(t)
	repo := NewRepository(conn)
	ctx := context.Background()
	user := testdb.CreateUser(t, conn, enums.RoleMember)
	coach := uuid.New()
	failure := "insufficient funds"
	now := time.Now().UTC()

	_, err := repo.UpsertPayment(ctx, &models.Payment{
		UserID: user.ID, Environment: "test", StripePaymentID: "pi_1",
		AmountCents: 4500, Currency: "usd", Status: enums.PaymentStatusFailed, FailureMessage: &failure,
	})
	require.NoError(t, err)

	done, err := repo.UpsertPayment(ctx, &models.Payment{
		UserID: user.ID, CoachID: &coach, Environment: "test", StripePaymentID: "pi_1",
		AmountCents: 4500, Currency: "usd", Status: enums.PaymentStatusCompleted, PaymentDate: &now,
	})
	require.NoError(t, err)
	require.Equal(t, enums.PaymentStatusCompleted, done.Status)
	require.Nil(t, done.FailureMessage)
	require.Equal(t, coach, *done.CoachID)

	again, err := repo.UpsertPayment(ctx, &models.Payment{
		UserID: user.ID, Environment: "test", StripePaymentID: "pi_1",
		AmountCents: 4500, Currency: "usd", Status: enums.PaymentStatusFailed, FailureMessage: &failure,
	})
	require.NoError(t, err)
	require.Equal(t, enums.PaymentStatusCompleted, again.Status)
	require.Equal(t, int64(1), testdb.Count(t, conn, "payments", ""))
}

func TestUpdateSubscriptionByExternalIDSkipsMissing(t *testing.T) {
	conn := testdb.Open(t)
	repo := NewRepository(conn)

	got, err := repo.UpdateSubscriptionByExternalID(context.Background(), "test", "sub_missing", SubscriptionState{Status: enums.SubscriptionStatusActive})
	require.NoError(t, err)
	require.Nil(t, got)
	require.Zero(t, testdb.Count(t, conn, "subscriptions", ""))
}

func TestCancelledSubscriptionStaysCancelled(t *testing.T) {
	conn := testdb.Open(t)
	repo := NewRepository(conn)
	ctx := context.Background()
	user := testdb.CreateUser(t, conn, enums.RoleMember)
	cancelledAt := time.Now().UTC().Truncate(time.Second)

	cancelled, err := repo.UpsertSubscription(ctx, &models.Subscription{
		UserID: user.ID, Environment: "test", StripeSubscriptionID: "sub_1", StripeCustomerID: "cus_1",
		PlanID: "monthly", Status: enums.SubscriptionStatusCancelled, CancelledAt: &cancelledAt,
	})
	require.NoError(t, err)

	revived, err := repo.UpsertSubscription(ctx, &models.Subscription{
		UserID: user.ID, Environment: "test", StripeSubscriptionID: "sub_1", StripeCustomerID: "cus_1",
		PlanID: "monthly", Status: enums.SubscriptionStatusActive,
	})
	require.NoError(t, err)
	require.Equal(t, cancelled.ID, revived.ID)
	require.Equal(t, enums.SubscriptionStatusCancelled, revived.Status)
	require.NotNil(t, revived.CancelledAt)
	require.True(t, RevivesCancelled(revived, enums.SubscriptionStatusActive))

	updated, err := repo.UpdateSubscriptionByExternalID(ctx, "test", "sub_1", SubscriptionState{Status: enums.SubscriptionStatusActive})
	require.NoError(t, err)
	require.NotNil(t, updated)
	require.Equal(t, enums.SubscriptionStatusCancelled, updated.Status)
	require.NotNil(t, updated.CancelledAt)
	require.False(t, RevivesCancelled(updated, enums.SubscriptionStatusCancelled))
	require.False(t, RevivesCancelled(nil, enums.SubscriptionStatusActive))
}
