package webhooks

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/bodyf1rst/billing-backend/api/responses"
	stripewebhook "github.com/bodyf1rst/billing-backend/internal/webhooks/stripe"
	pkgerrors "github.com/bodyf1rst/billing-backend/pkg/errors"
	"github.com/bodyf1rst/billing-backend/pkg/logger"
)

// DefaultMaxBodyBytes bounds a webhook payload when no limit is configured.
const DefaultMaxBodyBytes int64 = 1 << 20

type eventProcessor interface {
	Process(ctx context.Context, payload []byte, signature string) (stripewebhook.Result, error)
}

type webhookResponse struct {
	Received bool   `json:"received"`
	EventID  string `json:"event_id,omitempty"`
	Type     string `json:"type,omitempty"`
	Outcome  string `json:"outcome"`
}

// PaymentGatewayWebhook verifies and applies one gateway event. Unknown event
// types are acknowledged with 200 so the gateway stops retrying them.
func PaymentGatewayWebhook(svc eventProcessor, maxBody int64, logg *logger.Logger) http.HandlerFunc {
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}

		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeBadRequest, "webhook payload too large"))
				return
			}
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeBadRequest, err, "read request body"))
			return
		}

		signature := signatureHeader(r)
		if signature == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeSignature, "webhook signature missing"))
			return
		}

		result, err := svc.Process(ctx, payload, signature)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, webhookResponse{
			Received: true,
			EventID:  result.EventID,
			Type:     result.Type,
			Outcome:  result.Outcome,
		})
	}
}

func signatureHeader(r *http.Request) string {
	if sig := strings.TrimSpace(r.Header.Get("Stripe-Signature")); sig != "" {
		return sig
	}
	return strings.TrimSpace(r.Header.Get("X-Signature"))
}
