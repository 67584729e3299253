package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bodyf1rst/billing-backend/api/controllers"
	admincontrollers "github.com/bodyf1rst/billing-backend/api/controllers/admin"
	billingcontrollers "github.com/bodyf1rst/billing-backend/api/controllers/billing"
	coachcontrollers "github.com/bodyf1rst/billing-backend/api/controllers/coach"
	webhookcontrollers "github.com/bodyf1rst/billing-backend/api/controllers/webhooks"
	"github.com/bodyf1rst/billing-backend/api/middleware"
	"github.com/bodyf1rst/billing-backend/internal/admin"
	"github.com/bodyf1rst/billing-backend/internal/billing"
	"github.com/bodyf1rst/billing-backend/internal/payouts"
	stripewebhook "github.com/bodyf1rst/billing-backend/internal/webhooks/stripe"
	"github.com/bodyf1rst/billing-backend/pkg/config"
	"github.com/bodyf1rst/billing-backend/pkg/enums"
	"github.com/bodyf1rst/billing-backend/pkg/logger"
)

// IdempotencyStore backs the request idempotency middleware.
type IdempotencyStore interface {
	Get(ctx context.Context, key string) (string, error)
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	IdempotencyKey(scope, id string) string
}

type WebhookProcessor interface {
	Process(ctx context.Context, payload []byte, signature string) (stripewebhook.Result, error)
}

// Dependencies is everything the router hands to controllers.
type Dependencies struct {
	DB          controllers.Pinger
	Redis       controllers.Pinger
	Idempotency IdempotencyStore
	Metrics     prometheus.Gatherer
	Billing     billing.Service
	Payouts     payouts.Service
	Admin       admin.Service
	Webhooks    WebhookProcessor
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg,
			controllers.ReadinessCheck{Name: "postgres", Pinger: deps.DB},
			controllers.ReadinessCheck{Name: "redis", Pinger: deps.Redis},
		))
	})

	gatherer := deps.Metrics
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/webhooks", func(r chi.Router) {
		webhook := webhookcontrollers.PaymentGatewayWebhook(deps.Webhooks, cfg.Webhook.MaxBodyBytes, logg)
		r.Post("/payment-gateway", webhook)
		r.Post("/stripe", webhook)
	})

	idempotent := middleware.Idempotency(deps.Idempotency, logg)

	r.Route("/billing", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Post("/setup-intent", billingcontrollers.SetupIntent(deps.Billing, logg))
		r.Route("/payment-methods", func(r chi.Router) {
			r.Get("/", billingcontrollers.ListPaymentMethods(deps.Billing, logg))
			r.Post("/", billingcontrollers.AddPaymentMethod(deps.Billing, logg))
			r.Put("/{id}/default", billingcontrollers.SetDefaultPaymentMethod(deps.Billing, logg))
			r.Delete("/{id}", billingcontrollers.DeletePaymentMethod(deps.Billing, logg))
		})
		r.With(idempotent).Post("/subscriptions", billingcontrollers.CreateSubscription(deps.Billing, logg))
		r.Route("/subscription", func(r chi.Router) {
			r.Get("/", billingcontrollers.GetSubscription(deps.Billing, logg))
			r.Put("/", billingcontrollers.UpdateSubscription(deps.Billing, logg))
			r.Delete("/", billingcontrollers.CancelSubscription(deps.Billing, logg))
		})
		r.Get("/invoices", billingcontrollers.ListInvoices(deps.Billing, logg))
		r.Get("/invoices/{id}/pdf", billingcontrollers.InvoicePDF(deps.Billing, logg))
		r.Get("/analytics", billingcontrollers.Analytics(deps.Billing, logg))
		r.Get("/history", billingcontrollers.History(deps.Billing, logg))
		r.Post("/surcharge/calculate", billingcontrollers.CalculateSurcharge(deps.Billing, logg))
	})

	r.Route("/coach", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(logg, enums.RoleCoach))

		r.Post("/connect-stripe", coachcontrollers.ConnectStripe(deps.Payouts, logg))
		r.Get("/stripe-status", coachcontrollers.StripeStatus(deps.Payouts, logg))
		r.Get("/earnings", coachcontrollers.Earnings(deps.Payouts, logg))
		r.With(idempotent).Post("/payout", coachcontrollers.RequestPayout(deps.Payouts, logg))
		r.Get("/payouts", coachcontrollers.ListPayouts(deps.Payouts, logg))
		r.Get("/payouts/{id}", coachcontrollers.GetPayout(deps.Payouts, logg))
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(logg, enums.RoleAdmin))

		r.Put("/users/{id}/billing-status", admincontrollers.SetBillingStatus(deps.Admin, logg))
		r.Post("/users/billing/disable", admincontrollers.BulkDisableBilling(deps.Admin, logg))
		r.Post("/billing/reminders", admincontrollers.SendPaymentReminders(deps.Admin, logg))
		r.Put("/invoices/{id}/document", admincontrollers.AttachInvoiceDocument(deps.Admin, logg))
		r.Get("/actions", admincontrollers.ListActions(deps.Admin, logg))
	})

	return r
}
