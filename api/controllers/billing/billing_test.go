package billing

import (
	"context"
	"encoding/json"
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
	billingsvc "github.com/bodyf1rst/billing-backend/internal/billing"
	"github.com/bodyf1rst/billing-backend/internal/surcharge"
	"github.com/bodyf1rst/billing-backend/pkg/config"
	"github.com/bodyf1rst/billing-backend/pkg/enums"
	pkgerrors "github.com/bodyf1rst/billing-backend/pkg/errors"
)

// stubService overrides the calls each test needs. Anything else panics.
type stubService struct {
	billingsvc.Service
	calc *surcharge.Calculator

	createInput billingsvc.CreateSubscriptionInput
	immediately bool
	deleteErr   error
	deletedID   uuid.UUID
	addedPM     string
}

func (s *stubService) AddPaymentMethod(ctx context.Context, userID uuid.UUID, pmID string) (*billingsvc.PaymentMethodDTO, error) {
	s.addedPM = pmID
	return &billingsvc.PaymentMethodDTO{ID: uuid.New(), ExternalID: pmID, IsDefault: true}, nil
}

func (s *stubService) DeletePaymentMethod(ctx context.Context, userID, methodID uuid.UUID) error {
	s.deletedID = methodID
	return s.deleteErr
}

func (s *stubService) CreateSubscription(ctx context.Context, userID uuid.UUID, input billingsvc.CreateSubscriptionInput) (*billingsvc.SubscriptionDTO, error) {
	s.createInput = input
	return &billingsvc.SubscriptionDTO{ID: uuid.New(), PlanID: input.PlanID, Status: "active"}, nil
}

func (s *stubService) CancelSubscription(ctx context.Context, userID uuid.UUID, immediately bool) (*billingsvc.SubscriptionDTO, error) {
	s.immediately = immediately
	return &billingsvc.SubscriptionDTO{Status: "cancelled"}, nil
}

func (s *stubService) CalculateSurcharge(in surcharge.Input) (surcharge.Result, error) {
	return s.calc.Calculate(in)
}

func newStub(t *testing.T) *stubService {
	t.Helper()
	calc, err := surcharge.NewCalculator(config.SurchargeConfig{
		Enabled:          true,
		Rate:             "0.029",
		Fixed:            "0.30",
		RestrictedStates: []string{"CT", "MA"},
	})
	require.NoError(t, err)
	return &stubService{calc: calc}
}

func newRouter(svc billingsvc.Service) http.Handler {
	r := chi.NewRouter()
	r.Post("/billing/payment-methods", AddPaymentMethod(svc, nil))
	r.Delete("/billing/payment-methods/{id}", DeletePaymentMethod(svc, nil))
	r.Post("/billing/subscriptions", CreateSubscription(svc, nil))
	r.Put("/billing/subscription", UpdateSubscription(svc, nil))
	r.Delete("/billing/subscription", CancelSubscription(svc, nil))
	r.Get("/billing/invoices/{id}/pdf", InvoicePDF(svc, nil))
	r.Post("/billing/surcharge/calculate", CalculateSurcharge(svc, nil))
	return r
}

func do(t *testing.T, h http.Handler, method, target, body string, authed bool, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	if authed {
		req = req.WithContext(middleware.WithActor(req.Context(), middleware.Actor{UserID: uuid.New(), Role: enums.RoleMember}))
	}
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	return resp
}

func TestBillingRoutesRequireCaller(t *testing.T) {
	h := newRouter(newStub(t))
	resp := do(t, h, http.MethodPost, "/billing/payment-methods", `{"payment_method_id":"pm_1"}`, false)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestAddPaymentMethod(t *testing.T) {
	stub := newStub(t)
	h := newRouter(stub)

	resp := do(t, h, http.MethodPost, "/billing/payment-methods", `{}`, true)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)

	resp = do(t, h, http.MethodPost, "/billing/payment-methods", `{"payment_method_id":"pm_card"}`, true)
	require.Equal(t, http.StatusCreated, resp.Code)
	assert.Equal(t, "pm_card", stub.addedPM)
}

func TestDeleteDefaultPaymentMethodConflicts(t *testing.T) {
	stub := newStub(t)
	stub.deleteErr = pkgerrors.New(pkgerrors.CodeConflict, "cannot delete the default payment method")
	h := newRouter(stub)
	id := uuid.New()

	resp := do(t, h, http.MethodDelete, "/billing/payment-methods/"+id.String(), "", true)
	assert.Equal(t, http.StatusConflict, resp.Code)
	assert.Equal(t, id, stub.deletedID)

	stub.deleteErr = nil
	resp = do(t, h, http.MethodDelete, "/billing/payment-methods/"+id.String(), "", true)
	assert.Equal(t, http.StatusNoContent, resp.Code)

	resp = do(t, h, http.MethodDelete, "/billing/payment-methods/not-a-uuid", "", true)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
}

func TestCreateSubscriptionForwardsIdempotencyKey(t *testing.T) {
	stub := newStub(t)
	h := newRouter(stub)

	resp := do(t, h, http.MethodPost, "/billing/subscriptions", `{"plan_id":"pro","payment_method_id":"pm_1"}`, true, "Idempotency-Key", "sub-key-1")
	require.Equal(t, http.StatusCreated, resp.Code)
	assert.Equal(t, billingsvc.CreateSubscriptionInput{PlanID: "pro", PaymentMethodID: "pm_1", IdempotencyKey: "sub-key-1"}, stub.createInput)
}

func TestUpdateSubscriptionNeedsPlanOrResume(t *testing.T) {
	h := newRouter(newStub(t))
	resp := do(t, h, http.MethodPut, "/billing/subscription", `{}`, true)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
}

func TestCancelSubscriptionImmediately(t *testing.T) {
	stub := newStub(t)
	h := newRouter(stub)

	resp := do(t, h, http.MethodDelete, "/billing/subscription?immediately=true", "", true)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.True(t, stub.immediately)

	resp = do(t, h, http.MethodDelete, "/billing/subscription?immediately=soon", "", true)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
}

func TestCalculateSurcharge(t *testing.T) {
	h := newRouter(newStub(t))

	resp := do(t, h, http.MethodPost, "/billing/surcharge/calculate", `{"amount":"100","payment_method_type":"card","card_type":"credit","state_code":"NY"}`, false)
	require.Equal(t, http.StatusOK, resp.Code)
	var body struct {
		Data surcharge.Result `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body.Data.Surcharge.Equal(decimal.RequireFromString("3.20")))
	assert.True(t, body.Data.Total.Equal(decimal.RequireFromString("103.20")))

	resp = do(t, h, http.MethodPost, "/billing/surcharge/calculate", `{"amount":"100","payment_method_type":"card","card_type":"credit","state_code":"CT"}`, false)
	require.Equal(t, http.StatusOK, resp.Code)
	body.Data = surcharge.Result{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body.Data.Surcharge.IsZero())
	assert.False(t, body.Data.Applied)
}
