package billing

import (
	"net/http"
	"strings"

	"github.com/bodyf1rst/billing-backend/api/middleware"
	"github.com/bodyf1rst/billing-backend/api/responses"
	"github.com/bodyf1rst/billing-backend/api/validators"
	billingsvc "github.com/bodyf1rst/billing-backend/internal/billing"
	pkgerrors "github.com/bodyf1rst/billing-backend/pkg/errors"
	"github.com/bodyf1rst/billing-backend/pkg/logger"
)

type createSubscriptionRequest struct {
	PlanID          string `json:"plan_id" validate:"required,max=64"`
	PaymentMethodID string `json:"payment_method_id" validate:"omitempty,max=255"`
}

type updateSubscriptionRequest struct {
	PlanID string `json:"plan_id" validate:"max=64"`
	Resume bool   `json:"resume"`
}

// CreateSubscription subscribes the caller. The Idempotency-Key header is
// forwarded to the gateway so a retried request cannot double-charge.
func CreateSubscription(svc billingsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, unavailable())
			return
		}
		userID, err := middleware.CallerID(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload createSubscriptionRequest
		if err := validators.DecodeJSONBody(w, r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		sub, err := svc.CreateSubscription(r.Context(), userID, billingsvc.CreateSubscriptionInput{
			PlanID:          payload.PlanID,
			PaymentMethodID: payload.PaymentMethodID,
			IdempotencyKey:  strings.TrimSpace(r.Header.Get(middleware.IdempotencyKeyHeader)),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, sub)
	}
}

func GetSubscription(svc billingsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, unavailable())
			return
		}
		userID, err := middleware.CallerID(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		sub, err := svc.GetSubscription(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, sub)
	}
}

// UpdateSubscription switches plan or resumes a pending cancellation.
func UpdateSubscription(svc billingsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, unavailable())
			return
		}
		userID, err := middleware.CallerID(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload updateSubscriptionRequest
		if err := validators.DecodeJSONBody(w, r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if strings.TrimSpace(payload.PlanID) == "" && !payload.Resume {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "plan_id or resume is required"))
			return
		}

		sub, err := svc.UpdateSubscription(r.Context(), userID, billingsvc.UpdateSubscriptionInput{
			PlanID: payload.PlanID,
			Resume: payload.Resume,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, sub)
	}
}

// CancelSubscription cancels at period end unless ?immediately=true.
func CancelSubscription(svc billingsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, unavailable())
			return
		}
		userID, err := middleware.CallerID(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		immediately, err := validators.ParseQueryBool(r, "immediately")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		sub, err := svc.CancelSubscription(r.Context(), userID, immediately)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, sub)
	}
}
