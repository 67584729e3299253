package admin

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bodyf1rst/billing-backend/api/middleware"
	"github.com/bodyf1rst/billing-backend/api/responses"
	"github.com/bodyf1rst/billing-backend/api/validators"
	adminsvc "github.com/bodyf1rst/billing-backend/internal/admin"
	"github.com/bodyf1rst/billing-backend/internal/audit"
	"github.com/bodyf1rst/billing-backend/pkg/enums"
	pkgerrors "github.com/bodyf1rst/billing-backend/pkg/errors"
	"github.com/bodyf1rst/billing-backend/pkg/logger"
)

type billingStatusRequest struct {
	Status string `json:"status" validate:"required,max=32"`
	Reason string `json:"reason" validate:"max=500"`
}

type bulkDisableRequest struct {
	UserIDs []uuid.UUID `json:"user_ids" validate:"required"`
	Reason  string      `json:"reason" validate:"max=500"`
}

type remindersRequest struct {
	UserIDs []uuid.UUID `json:"user_ids" validate:"required"`
}

type invoiceDocumentRequest struct {
	DocumentPath string `json:"document_path" validate:"required,max=1024"`
}

type bulkResponse struct {
	Results []adminsvc.UserResult `json:"results"`
}

func unavailable() error {
	return pkgerrors.New(pkgerrors.CodeInternal, "admin service unavailable")
}

// SetBillingStatus overrides one user's billing status.
func SetBillingStatus(svc adminsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, unavailable())
			return
		}
		adminID, err := middleware.CallerID(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		userID, err := validators.URLParamUUID(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload billingStatusRequest
		if err := validators.DecodeJSONBody(w, r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		change, err := svc.SetBillingStatus(r.Context(), adminID, userID, enums.BillingStatus(payload.Status), payload.Reason)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, change)
	}
}

func BulkDisableBilling(svc adminsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, unavailable())
			return
		}
		adminID, err := middleware.CallerID(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload bulkDisableRequest
		if err := validators.DecodeJSONBody(w, r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		results, err := svc.BulkDisableBilling(r.Context(), adminID, payload.UserIDs, payload.Reason)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, bulkResponse{Results: results})
	}
}

func SendPaymentReminders(svc adminsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, unavailable())
			return
		}
		adminID, err := middleware.CallerID(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload remindersRequest
		if err := validators.DecodeJSONBody(w, r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		results, err := svc.SendPaymentReminders(r.Context(), adminID, payload.UserIDs)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, bulkResponse{Results: results})
	}
}

func AttachInvoiceDocument(svc adminsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, unavailable())
			return
		}
		adminID, err := middleware.CallerID(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		invoiceID, err := validators.URLParamUUID(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload invoiceDocumentRequest
		if err := validators.DecodeJSONBody(w, r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.AttachInvoiceDocument(r.Context(), adminID, invoiceID, payload.DocumentPath); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// ListActions pages the audit log. Filters: admin_id, action, target_id, since (RFC3339).
func ListActions(svc adminsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, unavailable())
			return
		}
		filters, err := parseActionFilters(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		page, err := svc.ListActions(r.Context(), filters)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

func parseActionFilters(r *http.Request) (audit.ListFilters, error) {
	params, err := validators.ParsePagination(r)
	if err != nil {
		return audit.ListFilters{}, err
	}
	q := r.URL.Query()
	filters := audit.ListFilters{
		TargetID: strings.TrimSpace(q.Get("target_id")),
		Limit:    params.Limit,
		Cursor:   params.Cursor,
	}

	if raw := strings.TrimSpace(q.Get("admin_id")); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return audit.ListFilters{}, invalidFilter("admin_id", "must be a valid id")
		}
		filters.AdminID = &id
	}
	if raw := strings.TrimSpace(q.Get("action")); raw != "" {
		action, err := enums.ParseAdminActionType(raw)
		if err != nil {
			return audit.ListFilters{}, invalidFilter("action", "unknown action")
		}
		filters.Action = &action
	}
	if raw := strings.TrimSpace(q.Get("since")); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return audit.ListFilters{}, invalidFilter("since", "must be an RFC3339 timestamp")
		}
		filters.Since = &since
	}
	return filters, nil
}

func invalidFilter(field, reason string) error {
	return pkgerrors.New(pkgerrors.CodeValidation, "invalid query parameter").WithDetails(map[string]string{field: reason})
}
