package payouts

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/bodyf1rst/billing-backend/internal/testdb"
	"github.com/bodyf1rst/billing-backend/internal/users"
	"github.com/bodyf1rst/billing-backend/pkg/db/models"
	"github.com/bodyf1rst/billing-backend/pkg/enums"
	pkgerrors "github.com/bodyf1rst/billing-backend/pkg/errors"
	"github.com/bodyf1rst/billing-backend/pkg/logger"
	"github.com/bodyf1rst/billing-backend/pkg/pagination"
	"github.com/bodyf1rst/billing-backend/pkg/stripe"
)

type fakeGateway struct {
	mu             sync.Mutex
	available      int64
	account        stripe.Account
	accountsMade   int
	links          int
	payoutCalls    []stripe.PayoutParams
	payoutErr      error
	payoutStatuses map[string]string
	retrieveErr    map[string]error
}

func (f *fakeGateway) Environment() string { return "test" }
func (f *fakeGateway) Currency() string    { return "usd" }

func (f *fakeGateway) RetrieveBalance(context.Context, string) (*stripe.Balance, error) {
	return &stripe.Balance{Available: map[string]int64{"usd": f.available}}, nil
}

func (f *fakeGateway) CreatePayout(_ context.Context, params stripe.PayoutParams) (*stripe.Payout, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payoutCalls = append(f.payoutCalls, params)
	if f.payoutErr != nil {
		return nil, f.payoutErr
	}
	return &stripe.Payout{
		ID:          "po_" + params.IdempotencyKey,
		AmountCents: params.AmountCents,
		Currency:    params.Currency,
		Status:      "pending",
		Method:      params.Method,
	}, nil
}

func (f *fakeGateway) RetrievePayout(_ context.Context, _ string, payoutID string) (*stripe.Payout, error) {
	if err := f.retrieveErr[payoutID]; err != nil {
		return nil, err
	}
	arrival := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	return &stripe.Payout{ID: payoutID, Status: f.payoutStatuses[payoutID], ArrivalDate: &arrival}, nil
}

func (f *fakeGateway) CreateConnectedAccount(_ context.Context, params stripe.AccountParams) (*stripe.Account, error) {
	f.accountsMade++
	return &stripe.Account{ID: "acct_" + params.UserID}, nil
}

func (f *fakeGateway) RetrieveAccount(_ context.Context, accountID string) (*stripe.Account, error) {
	account := f.account
	account.ID = accountID
	return &account, nil
}

func (f *fakeGateway) CreateOnboardingLink(_ context.Context, accountID string) (*stripe.AccountLink, error) {
	f.links++
	return &stripe.AccountLink{URL: "https://connect.example.com/" + accountID, ExpiresAt: time.Now().Add(5 * time.Minute)}, nil
}

type harness struct {
	db      *gorm.DB
	gateway *fakeGateway
	svc     Service
	coach   *models.User
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	conn := testdb.Open(t)
	gw := &fakeGateway{payoutStatuses: map[string]string{}, retrieveErr: map[string]error{}}
	svc, err := NewService(ServiceParams{
		Repo:           NewRepository(conn),
		Users:          users.NewRepository(conn),
		Gateway:        gw,
		InstantPayouts: true,
		Logger:         logger.New(logger.Options{ServiceName: "test", Output: &bytes.Buffer{}}),
	})
	require.NoError(t, err)
	return &harness{db: conn, gateway: gw, svc: svc, coach: testdb.CreateUser(t, conn, enums.RoleCoach)}
}

func (h *harness) connect(t *testing.T) string {
	t.Helper()
	res, err := h.svc.ConnectAccount(context.Background(), h.coach.ID)
	require.NoError(t, err)
	return res.AccountID
}

func TestConnectAccountCreatesOnceAndAlwaysIssuesLink(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.svc.ConnectAccount(ctx, h.coach.ID)
	require.NoError(t, err)
	second, err := h.svc.ConnectAccount(ctx, h.coach.ID)
	require.NoError(t, err)

	assert.Equal(t, first.AccountID, second.AccountID)
	assert.Equal(t, 1, h.gateway.accountsMade)
	assert.Equal(t, 2, h.gateway.links)
	assert.NotEmpty(t, second.OnboardingURL)

	var stored models.User
	require.NoError(t, h.db.First(&stored, "id = ?", h.coach.ID).Error)
	require.NotNil(t, stored.StripeConnectAccountID)
	assert.Equal(t, first.AccountID, *stored.StripeConnectAccountID)
}

func TestConnectAccountRequiresCoach(t *testing.T) {
	h := newHarness(t)
	member := testdb.CreateUser(t, h.db, enums.RoleMember)
	_, err := h.svc.ConnectAccount(context.Background(), member.ID)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeForbidden))
}

func TestStatusMapping(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	status, err := h.svc.Status(ctx, h.coach.ID)
	require.NoError(t, err)
	assert.False(t, status.Connected)
	assert.Equal(t, enums.ConnectStatusIncomplete, status.Status)

	h.connect(t)
	cases := []struct {
		account stripe.Account
		want    enums.ConnectStatus
	}{
		{stripe.Account{ChargesEnabled: true, PayoutsEnabled: true, DetailsSubmitted: true}, enums.ConnectStatusActive},
		{stripe.Account{DetailsSubmitted: true}, enums.ConnectStatusPending},
		{stripe.Account{ChargesEnabled: true}, enums.ConnectStatusIncomplete},
	}
	for _, tc := range cases {
		h.gateway.account = tc.account
		status, err := h.svc.Status(ctx, h.coach.ID)
		require.NoError(t, err)
		assert.True(t, status.Connected)
		assert.Equal(t, tc.want, status.Status)
	}
}

func TestRequestPayoutOverBalanceCreatesNoRow(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	h.gateway.available = 5000

	_, err := h.svc.RequestPayout(context.Background(), h.coach.ID, decimal.RequireFromString("50.01"))
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeInsufficientFunds))
	assert.Empty(t, h.gateway.payoutCalls)
	assert.EqualValues(t, 0, testdb.Count(t, h.db, "payout_requests", ""))
}

func TestRequestPayoutGatewayRejectionIsInsufficientFunds(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	h.gateway.available = 5000
	h.gateway.payoutErr = errors.Join(stripe.ErrInsufficientBalance, errors.New("balance_insufficient"))

	_, err := h.svc.RequestPayout(context.Background(), h.coach.ID, decimal.RequireFromString("10"))
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeInsufficientFunds))
	assert.EqualValues(t, 0, testdb.Count(t, h.db, "payout_requests", ""))
}

func TestRequestPayoutRecordsInstantPayout(t *testing.T) {
	h := newHarness(t)
	accountID := h.connect(t)
	h.gateway.available = 5000

	dto, err := h.svc.RequestPayout(context.Background(), h.coach.ID, decimal.RequireFromString("50.00"))
	require.NoError(t, err)
	assert.Equal(t, enums.PayoutStatusPending, dto.Status)
	assert.Equal(t, enums.PayoutMethodInstant, dto.Method)
	assert.Equal(t, "50", dto.Amount.Amount.String())

	require.Len(t, h.gateway.payoutCalls, 1)
	call := h.gateway.payoutCalls[0]
	assert.Equal(t, accountID, call.AccountID)
	assert.EqualValues(t, 5000, call.AmountCents)
	assert.Equal(t, dto.ID.String(), call.IdempotencyKey)

	var row models.PayoutRequest
	require.NoError(t, h.db.First(&row).Error)
	assert.Equal(t, dto.ID, row.ID)
	assert.Equal(t, "po_"+dto.ID.String(), row.StripePayoutID)
}

func TestRequestPayoutValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for _, raw := range []string{"0", "-5", "1.005"} {
		_, err := h.svc.RequestPayout(ctx, h.coach.ID, decimal.RequireFromString(raw))
		assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation), raw)
	}
	_, err := h.svc.RequestPayout(ctx, h.coach.ID, decimal.RequireFromString("10"))
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation), "no connected account")
}

func TestListAndRefreshPayouts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.connect(t)
	h.gateway.available = 100000

	var ids []uuid.UUID
	for _, amount := range []string{"10", "20", "30"} {
		dto, err := h.svc.RequestPayout(ctx, h.coach.ID, decimal.RequireFromString(amount))
		require.NoError(t, err)
		ids = append(ids, dto.ID)
	}

	page, err := h.svc.ListPayouts(ctx, h.coach.ID, pagination.Params{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	require.NotEmpty(t, page.NextCursor)
	rest, err := h.svc.ListPayouts(ctx, h.coach.ID, pagination.Params{Limit: 2, Cursor: page.NextCursor})
	require.NoError(t, err)
	require.Len(t, rest.Items, 1)

	h.gateway.payoutStatuses["po_"+ids[0].String()] = "paid"
	refreshed, err := h.svc.RefreshPayout(ctx, h.coach.ID, ids[0])
	require.NoError(t, err)
	assert.Equal(t, enums.PayoutStatusPaid, refreshed.Status)
	assert.NotNil(t, refreshed.ArrivalDate)

	other := testdb.CreateUser(t, h.db, enums.RoleCoach)
	_, err = h.svc.RefreshPayout(ctx, other.ID, ids[1])
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))
}

func TestRefreshOpenPayoutsAggregatesFailures(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.connect(t)
	h.gateway.available = 100000

	var payoutIDs []string
	for _, amount := range []string{"10", "20", "30"} {
		dto, err := h.svc.RequestPayout(ctx, h.coach.ID, decimal.RequireFromString(amount))
		require.NoError(t, err)
		payoutIDs = append(payoutIDs, dto.StripePayoutID)
	}
	h.gateway.payoutStatuses[payoutIDs[0]] = "in_transit"
	h.gateway.payoutStatuses[payoutIDs[1]] = "paid"
	h.gateway.retrieveErr[payoutIDs[2]] = errors.New("gateway timeout")

	n, err := h.svc.RefreshOpenPayouts(ctx, 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gateway timeout")
	assert.Equal(t, 2, n)
	assert.EqualValues(t, 1, testdb.Count(t, h.db, "payout_requests", "status = ?", enums.PayoutStatusPaid))
	assert.EqualValues(t, 1, testdb.Count(t, h.db, "payout_requests", "status = ?", enums.PayoutStatusInTransit))
}

func TestEarningsUsesLocalRowsOnly(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	member := testdb.CreateUser(t, h.db, enums.RoleMember)
	paidAt := time.Now().UTC()

	for i, status := range []enums.PaymentStatus{enums.PaymentStatusCompleted, enums.PaymentStatusCompleted, enums.PaymentStatusFailed} {
		require.NoError(t, h.db.Create(&models.Payment{
			UserID:          member.ID,
			CoachID:         &h.coach.ID,
			Environment:     "test",
			StripePaymentID: "pi_" + uuid.NewString(),
			AmountCents:     int64(1000 * (i + 1)),
			Currency:        "usd",
			Status:          status,
			PaymentDate:     &paidAt,
		}).Error)
	}
	for _, status := range []enums.PayoutStatus{enums.PayoutStatusPaid, enums.PayoutStatusPending, enums.PayoutStatusFailed} {
		require.NoError(t, h.db.Create(&models.PayoutRequest{
			CoachID:         h.coach.ID,
			Environment:     "test",
			StripeAccountID: "acct_1",
			StripePayoutID:  "po_" + uuid.NewString(),
			AmountCents:     500,
			Currency:        "usd",
			Method:          enums.PayoutMethodInstant,
			Status:          status,
		}).Error)
	}

	earnings, err := h.svc.Earnings(ctx, h.coach.ID)
	require.NoError(t, err)
	assert.Equal(t, "30", earnings.TotalEarned.Amount.String())
	assert.EqualValues(t, 2, earnings.PaymentCount)
	assert.Equal(t, "5", earnings.PendingPayouts.Amount.String())
	assert.Equal(t, "5", earnings.PaidOut.Amount.String())
	assert.NotNil(t, earnings.LastPaymentAt)
	assert.Empty(t, h.gateway.payoutCalls)
}
