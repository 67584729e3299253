package coach

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bodyf1rst/billing-backend/api/middleware"
	"github.com/bodyf1rst/billing-backend/internal/payouts"
	"github.com/bodyf1rst/billing-backend/pkg/enums"
	pkgerrors "github.com/bodyf1rst/billing-backend/pkg/errors"
	"github.com/bodyf1rst/billing-backend/pkg/pagination"
	"github.com/bodyf1rst/billing-backend/pkg/types"
)

type stubPayouts struct {
	payouts.Service

	available  decimal.Decimal
	requested  []decimal.Decimal
	listParams pagination.Params
	refreshed  uuid.UUID
}

func (s *stubPayouts) RequestPayout(ctx context.Context, coachID uuid.UUID, amount decimal.Decimal) (*payouts.PayoutDTO, error) {
	if amount.GreaterThan(s.available) {
		return nil, pkgerrors.New(pkgerrors.CodeInsufficientFunds, "amount exceeds available balance")
	}
	s.requested = append(s.requested, amount)
	return &payouts.PayoutDTO{ID: uuid.New(), Status: enums.PayoutStatusPending}, nil
}

func (s *stubPayouts) ListPayouts(ctx context.Context, coachID uuid.UUID, params pagination.Params) (*types.Page[payouts.PayoutDTO], error) {
	s.listParams = params
	return &types.Page[payouts.PayoutDTO]{}, nil
}

func (s *stubPayouts) RefreshPayout(ctx context.Context, coachID, payoutID uuid.UUID) (*payouts.PayoutDTO, error) {
	s.refreshed = payoutID
	return &payouts.PayoutDTO{ID: payoutID, Status: enums.PayoutStatusPaid}, nil
}

func newRouter(svc payouts.Service) http.Handler {
	r := chi.NewRouter()
	r.Post("/coach/payout", RequestPayout(svc, nil))
	r.Get("/coach/payouts", ListPayouts(svc, nil))
	r.Get("/coach/payouts/{id}", GetPayout(svc, nil))
	return r
}

func asCoach(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req = req.WithContext(middleware.WithActor(req.Context(), middleware.Actor{UserID: uuid.New(), Role: enums.RoleCoach}))
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	return resp
}

func TestRequestPayout(t *testing.T) {
	stub := &stubPayouts{available: decimal.RequireFromString("50.00")}
	h := newRouter(stub)

	resp := asCoach(t, h, http.MethodPost, "/coach/payout", `{"amount":"25.50"}`)
	require.Equal(t, http.StatusCreated, resp.Code)
	require.Len(t, stub.requested, 1)
	assert.True(t, stub.requested[0].Equal(decimal.RequireFromString("25.50")))

	resp = asCoach(t, h, http.MethodPost, "/coach/payout", `{"amount":"75.00"}`)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Contains(t, resp.Body.String(), string(pkgerrors.CodeInsufficientFunds))
	assert.Len(t, stub.requested, 1)

	resp = asCoach(t, h, http.MethodPost, "/coach/payout", `{"amount":"1","extra":true}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
}

func TestListPayoutsPagination(t *testing.T) {
	stub := &stubPayouts{}
	h := newRouter(stub)

	resp := asCoach(t, h, http.MethodGet, "/coach/payouts?limit=10&cursor=abc", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, pagination.Params{Limit: 10, Cursor: "abc"}, stub.listParams)

	resp = asCoach(t, h, http.MethodGet, "/coach/payouts?limit=1000", "")
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
}

func TestGetPayoutRefreshes(t *testing.T) {
	stub := &stubPayouts{}
	h := newRouter(stub)
	id := uuid.New()

	resp := asCoach(t, h, http.MethodGet, "/coach/payouts/"+id.String(), "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, id, stub.refreshed)
}
