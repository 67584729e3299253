package billing

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/bodyf1rst/billing-backend/api/middleware"
	"github.com/bodyf1rst/billing-backend/api/responses"
	"github.com/bodyf1rst/billing-backend/api/validators"
	billingsvc "github.com/bodyf1rst/billing-backend/internal/billing"
	"github.com/bodyf1rst/billing-backend/internal/surcharge"
	"github.com/bodyf1rst/billing-backend/pkg/logger"
	"github.com/bodyf1rst/billing-backend/pkg/pagination"
)

type surchargeRequest struct {
	Amount            decimal.Decimal `json:"amount"`
	PaymentMethodType string          `json:"payment_method_type" validate:"required,max=32"`
	CardType          string          `json:"card_type" validate:"omitempty,max=32"`
	StateCode         string          `json:"state_code" validate:"required"`
}

func Analytics(svc billingsvc.Service, logg *logger.Logger) http.HandlerFunc {
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

		stats, err := svc.GetAnalytics(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, stats)
	}
}

// History returns the merged payment and invoice timeline.
func History(svc billingsvc.Service, logg *logger.Logger) http.HandlerFunc {
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
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		entries, err := svc.GetPaymentHistory(r.Context(), userID, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, entries)
	}
}

// CalculateSurcharge quotes the card surcharge for an amount. Pure computation.
func CalculateSurcharge(svc billingsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, unavailable())
			return
		}

		var payload surchargeRequest
		if err := validators.DecodeJSONBody(w, r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		quote, err := svc.CalculateSurcharge(surcharge.Input{
			Amount:            payload.Amount,
			PaymentMethodType: payload.PaymentMethodType,
			CardType:          payload.CardType,
			StateCode:         payload.StateCode,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, quote)
	}
}
