package customers

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/bodyf1rst/billing-backend/internal/testdb"
	"github.com/bodyf1rst/billing-backend/internal/users"
	"github.com/bodyf1rst/billing-backend/pkg/enums"
	pkgerrors "github.com/bodyf1rst/billing-backend/pkg/errors"
	"github.com/bodyf1rst/billing-backend/pkg/logger"
	"github.com/bodyf1rst/billing-backend/pkg/stripe"
)

type fakeGateway struct {
	calls  int
	nextID string
	err    error
	before func()
}

func (f *fakeGateway) CreateCustomer(_ context.Context, params stripe.CustomerParams) (*stripe.Customer, error) {
	f.calls++
	if f.before != nil {
		f.before()
	}
	if f.err != nil {
		return nil, f.err
	}
	return &stripe.Customer{ID: f.nextID}, nil
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: &bytes.Buffer{}})
}

func TestEnsureReusesExistingCustomer(t *testing.T) {
	db := testdb.Open(t)
	user := testdb.CreateCustomer(t, db, "cus_existing")
	gw := &fakeGateway{nextID: "cus_new"}

	svc, err := NewService(users.NewRepository(db), gw, testLogger())
	require.NoError(t, err)

	_, id, err := svc.Ensure(context.Background(), user.ID)
	require.NoError(t, err)
	require.Equal(t, "cus_existing", id)
	require.Zero(t, gw.calls)
}

func TestEnsureCreatesAndStores(t *testing.T) {
	db := testdb.Open(t)
	user := testdb.CreateUser(t, db, enums.RoleMember)
	gw := &fakeGateway{nextID: "cus_fresh"}

	svc, err := NewService(users.NewRepository(db), gw, testLogger())
	require.NoError(t, err)

	got, id, err := svc.Ensure(context.Background(), user.ID)
	require.NoError(t, err)
	require.Equal(t, "cus_fresh", id)
	require.Equal(t, "cus_fresh", *got.StripeCustomerID)
	require.Equal(t, int64(1), testdb.Count(t, db, "users", "stripe_customer_id = ?", "cus_fresh"))

	_, again, err := svc.Ensure(context.Background(), user.ID)
	require.NoError(t, err)
	require.Equal(t, "cus_fresh", again)
	require.Equal(t, 1, gw.calls)
}

func TestEnsureKeepsConcurrentWinner(t *testing.T) {
	db := testdb.Open(t)
	user := testdb.CreateUser(t, db, enums.RoleMember)
	gw := &fakeGateway{nextID: "cus_loser"}
	gw.before = func() {
		require.NoError(t, db.Exec("UPDATE users SET stripe_customer_id = ? WHERE id = ?", "cus_winner", user.ID).Error)
	}

	svc, err := NewService(users.NewRepository(db), gw, testLogger())
	require.NoError(t, err)

	_, id, err := svc.Ensure(context.Background(), user.ID)
	require.NoError(t, err)
	require.Equal(t, "cus_winner", id)
}

func TestEnsureMapsFailures(t *testing.T) {
	db := testdb.Open(t)
	user := testdb.CreateUser(t, db, enums.RoleMember)
	gw := &fakeGateway{err: errors.New("card_error: raw upstream text")}

	var logs bytes.Buffer
	svc, err := NewService(users.NewRepository(db), gw, logger.New(logger.Options{ServiceName: "test", Output: &logs}))
	require.NoError(t, err)

	_, _, err = svc.Ensure(context.Background(), user.ID)
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeGatewaySync))
	require.Contains(t, logs.String(), "payment gateway call failed")
	require.Contains(t, logs.String(), `"operation":"create customer"`)
	require.Contains(t, logs.String(), user.ID.String())

	_, _, err = svc.Ensure(context.Background(), uuid.New())
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))
}
