package billing

import (
	"net/http"

	"github.com/bodyf1rst/billing-backend/api/middleware"
	"github.com/bodyf1rst/billing-backend/api/responses"
	"github.com/bodyf1rst/billing-backend/api/validators"
	billingsvc "github.com/bodyf1rst/billing-backend/internal/billing"
	"github.com/bodyf1rst/billing-backend/pkg/logger"
)

type invoicePDFResponse struct {
	InvoiceID string `json:"invoice_id"`
	PDFURL    string `json:"pdf_url"`
}

// ListInvoices pages through the caller's invoices, newest first.
func ListInvoices(svc billingsvc.Service, logg *logger.Logger) http.HandlerFunc {
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
		params, err := validators.ParsePagination(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		page, err := svc.ListInvoices(r.Context(), userID, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

func InvoicePDF(svc billingsvc.Service, logg *logger.Logger) http.HandlerFunc {
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
		invoiceID, err := validators.URLParamUUID(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		url, err := svc.InvoicePDF(r.Context(), userID, invoiceID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, invoicePDFResponse{InvoiceID: invoiceID.String(), PDFURL: url})
	}
}
