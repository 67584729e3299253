package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bodyf1rst/billing-backend/pkg/config"
	"github.com/bodyf1rst/billing-backend/pkg/db/models"
	"github.com/bodyf1rst/billing-backend/pkg/logger"
	"github.com/bodyf1rst/billing-backend/pkg/outbox/registry"
)

const (
	defaultBatchSize   = 50
	defaultPoll        = 500 * time.Millisecond
	defaultMaxAttempts = 10
	sendTimeout        = 15 * time.Second
	maxPause           = 10 * time.Second
	jitterWindow       = 250 * time.Millisecond
)

type txRunner interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type topicSource interface {
	Ping(context.Context) error
	Publisher(name string) *gcppubsub.Publisher
}

type outboxStore interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type deadLetters interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type resolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

type RelayParams struct {
	Outbox   config.OutboxConfig
	Logger   *logger.Logger
	DB       txRunner
	Topics   topicSource
	Store    outboxStore
	DLQ      deadLetters
	Registry resolver
	// Sinks overrides how topic handles are opened. Tests use it.
	Sinks sinkFactory
}

// Relay moves committed outbox rows onto Pub/Sub. Rows are claimed with
// SKIP LOCKED, so several relays can drain the same table.
type Relay struct {
	logg        *logger.Logger
	db          txRunner
	topics      topicSource
	store       outboxStore
	dlq         deadLetters
	registry    resolver
	sinks       *sinkCache
	batchSize   int
	maxAttempts int
	poll        time.Duration
}

func NewRelay(params RelayParams) (*Relay, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	case params.DB == nil:
		return nil, errors.New("database client is required")
	case params.Topics == nil:
		return nil, errors.New("pubsub client is required")
	case params.Store == nil:
		return nil, errors.New("outbox repository is required")
	case params.DLQ == nil:
		return nil, errors.New("dlq repository is required")
	case params.Registry == nil:
		return nil, errors.New("event registry is required")
	}

	open := params.Sinks
	if open == nil {
		open = func(topic string) sink { return newPubSubSink(params.Topics.Publisher(topic)) }
	}

	r := &Relay{
		logg:        params.Logger,
		db:          params.DB,
		topics:      params.Topics,
		store:       params.Store,
		dlq:         params.DLQ,
		registry:    params.Registry,
		sinks:       newSinkCache(open),
		batchSize:   orDefault(params.Outbox.BatchSize, defaultBatchSize),
		maxAttempts: orDefault(params.Outbox.MaxAttempts, defaultMaxAttempts),
		poll:        defaultPoll,
	}
	if params.Outbox.PollIntervalMS > 0 {
		r.poll = time.Duration(params.Outbox.PollIntervalMS) * time.Millisecond
	}
	return r, nil
}

func orDefault(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

// Run drains until ctx ends. A full batch is followed immediately by the
// next one; an empty or partial batch waits one poll interval.
func (r *Relay) Run(ctx context.Context) error {
	defer r.sinks.stop()

	if err := r.db.Ping(ctx); err != nil {
		return fmt.Errorf("database ping: %w", err)
	}
	if err := r.topics.Ping(ctx); err != nil {
		return fmt.Errorf("pubsub ping: %w", err)
	}

	pause := r.poll
	for {
		report, err := r.drain(ctx)
		switch {
		case err != nil:
			r.logg.Error(ctx, "outbox batch rolled back", err)
			pause = min(pause*2, maxPause)
		case report.claimed > 0:
			r.logg.Info(r.logg.WithFields(ctx, report.fields()), "outbox batch drained")
			pause = r.poll
		default:
			pause = r.poll
		}
		if err == nil && report.claimed == r.batchSize {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		if err := wait(ctx, pause+rand.N(jitterWindow)); err != nil {
			return err
		}
	}
}

func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
