package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/bodyf1rst/billing-backend/api/routes"
	"github.com/bodyf1rst/billing-backend/internal/admin"
	"github.com/bodyf1rst/billing-backend/internal/audit"
	"github.com/bodyf1rst/billing-backend/internal/billing"
	"github.com/bodyf1rst/billing-backend/internal/customers"
	"github.com/bodyf1rst/billing-backend/internal/notifications"
	"github.com/bodyf1rst/billing-backend/internal/payouts"
	"github.com/bodyf1rst/billing-backend/internal/surcharge"
	"github.com/bodyf1rst/billing-backend/internal/users"
	stripewebhook "github.com/bodyf1rst/billing-backend/internal/webhooks/stripe"
	"github.com/bodyf1rst/billing-backend/pkg/config"
	"github.com/bodyf1rst/billing-backend/pkg/db"
	"github.com/bodyf1rst/billing-backend/pkg/logger"
	"github.com/bodyf1rst/billing-backend/pkg/metrics"
	"github.com/bodyf1rst/billing-backend/pkg/migrate"
	"github.com/bodyf1rst/billing-backend/pkg/outbox"
	"github.com/bodyf1rst/billing-backend/pkg/redis"
	"github.com/bodyf1rst/billing-backend/pkg/stripe"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	gatewayMetrics := metrics.NewGatewayMetrics(prometheus.DefaultRegisterer)
	webhookMetrics := metrics.NewWebhookMetrics(prometheus.DefaultRegisterer)

	stripeClient, err := stripe.NewClient(context.Background(), cfg.Stripe, logg, gatewayMetrics)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap payment gateway client", err)
		os.Exit(1)
	}

	if cfg.App.IsProd() && stripeClient.Environment() != "live" {
		logg.Warn(context.Background(), "production api is using a test payment gateway environment")
	}

	deps, err := buildDependencies(cfg, logg, dbClient, redisClient, stripeClient, webhookMetrics)
	if err != nil {
		logg.Error(context.Background(), "failed to wire services", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	id := os.Getenv("DYNO")
	if id == "" {
		id = "local"
	}
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": id,
		"gateway":  stripeClient.Environment(),
	})

	server := &http.Server{
		Addr:              addr,
		Handler:           routes.NewRouter(cfg, logg, deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-sigCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "api server shutdown failed", err)
		}
	}()

	logg.Info(ctx, "starting api server")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "api server stopped")
}

func buildDependencies(
	cfg *config.Config,
	logg *logger.Logger,
	dbClient *db.Client,
	redisClient *redis.Client,
	stripeClient *stripe.Client,
	webhookMetrics *metrics.WebhookMetrics,
) (routes.Dependencies, error) {
	conn := dbClient.DB()
	usersRepo := users.NewRepository(conn)
	billingRepo := billing.NewRepository(conn)

	dispatcher, err := notifications.NewDispatcher(outbox.NewService(outbox.NewRepository(conn), logg))
	if err != nil {
		return routes.Dependencies{}, err
	}

	customerSvc, err := customers.NewService(usersRepo, stripeClient, logg)
	if err != nil {
		return routes.Dependencies{}, err
	}

	calculator, err := surcharge.NewCalculator(cfg.Surcharge)
	if err != nil {
		return routes.Dependencies{}, err
	}

	billingSvc, err := billing.NewService(billing.ServiceParams{
		Repo:              billingRepo,
		Users:             usersRepo,
		Customers:         customerSvc,
		Gateway:           stripeClient,
		Plans:             cfg.Stripe,
		Surcharge:         calculator,
		TransactionRunner: dbClient,
		Logger:            logg,
	})
	if err != nil {
		return routes.Dependencies{}, err
	}

	payoutSvc, err := payouts.NewService(payouts.ServiceParams{
		Repo:           payouts.NewRepository(conn),
		Users:          usersRepo,
		Gateway:        stripeClient,
		InstantPayouts: cfg.Stripe.PayoutsInstant,
		Logger:         logg,
	})
	if err != nil {
		return routes.Dependencies{}, err
	}

	guard, err := stripewebhook.NewEventGuard(redisClient, cfg.Webhook.IdempotencyTTL)
	if err != nil {
		return routes.Dependencies{}, err
	}
	webhookSvc, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		Billing:           billingRepo,
		Users:             usersRepo,
		Verifier:          stripeClient,
		Notifications:     dispatcher,
		Guard:             guard,
		Plans:             cfg.Stripe,
		Metrics:           webhookMetrics,
		TransactionRunner: dbClient,
		Logger:            logg,
	})
	if err != nil {
		return routes.Dependencies{}, err
	}

	adminSvc, err := admin.NewService(admin.ServiceParams{
		Users:             usersRepo,
		Billing:           billingRepo,
		Audit:             audit.NewRecorder(conn),
		Notifications:     dispatcher,
		TransactionRunner: dbClient,
		Logger:            logg,
	})
	if err != nil {
		return routes.Dependencies{}, err
	}

	return routes.Dependencies{
		DB:          dbClient,
		Redis:       redisClient,
		Idempotency: redisClient,
		Metrics:     prometheus.DefaultGatherer,
		Billing:     billingSvc,
		Payouts:     payoutSvc,
		Admin:       adminSvc,
		Webhooks:    webhookSvc,
	}, nil
}
