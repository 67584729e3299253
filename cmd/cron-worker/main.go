package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/bodyf1rst/billing-backend/internal/billing"
	"github.com/bodyf1rst/billing-backend/internal/cron"
	"github.com/bodyf1rst/billing-backend/internal/payouts"
	"github.com/bodyf1rst/billing-backend/internal/users"
	"github.com/bodyf1rst/billing-backend/pkg/config"
	"github.com/bodyf1rst/billing-backend/pkg/db"
	"github.com/bodyf1rst/billing-backend/pkg/logger"
	"github.com/bodyf1rst/billing-backend/pkg/metrics"
	"github.com/bodyf1rst/billing-backend/pkg/migrate"
	"github.com/bodyf1rst/billing-backend/pkg/outbox"
	"github.com/bodyf1rst/billing-backend/pkg/redis"
	"github.com/bodyf1rst/billing-backend/pkg/stripe"
)

const lockName = "cron-worker"

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
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

	stripeClient, err := stripe.NewClient(context.Background(), cfg.Stripe, logg, metrics.NewGatewayMetrics(prometheus.DefaultRegisterer))
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap payment gateway client", err)
		os.Exit(1)
	}

	registry, err := buildRegistry(cfg, logg, dbClient, stripeClient)
	if err != nil {
		logg.Error(context.Background(), "failed to register cron jobs", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, lockName, cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"gateway_env": stripeClient.Environment(),
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func buildRegistry(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, stripeClient *stripe.Client) (*cron.Registry, error) {
	conn := dbClient.DB()
	usersRepo := users.NewRepository(conn)

	reconcile, err := cron.NewSubscriptionReconcileJob(cron.SubscriptionReconcileJobParams{
		Logger:   logg,
		DB:       dbClient,
		Billing:  billing.NewRepository(conn),
		Users:    usersRepo,
		Gateway:  stripeClient,
		Limit:    cfg.Cron.ReconcileLimit,
		Lookback: cfg.Cron.ReconcileLookback,
	})
	if err != nil {
		return nil, err
	}

	payoutSvc, err := payouts.NewService(payouts.ServiceParams{
		Repo:           payouts.NewRepository(conn),
		Users:          usersRepo,
		Gateway:        stripeClient,
		InstantPayouts: cfg.Stripe.PayoutsInstant,
		Logger:         logg,
	})
	if err != nil {
		return nil, err
	}
	payoutRefresh, err := cron.NewPayoutRefreshJob(cron.PayoutRefreshJobParams{Logger: logg, Payouts: payoutSvc})
	if err != nil {
		return nil, err
	}

	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:      logg,
		Repository:  outbox.NewRepository(conn),
		Retention:   cfg.Outbox.Retention,
		MaxAttempts: cfg.Outbox.MaxAttempts,
	})
	if err != nil {
		return nil, err
	}

	registry := cron.NewRegistry()
	for _, job := range []cron.Job{reconcile, payoutRefresh, retention} {
		if err := registry.Register(job); err != nil {
			return nil, err
		}
	}
	return registry, nil
}
