package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"gorm.io/gorm"

	"github.com/bodyf1rst/billing-backend/pkg/db/models"
	"github.com/bodyf1rst/billing-backend/pkg/enums"
	"github.com/bodyf1rst/billing-backend/pkg/outbox/registry"
)

type verdict int

const (
	verdictPublished verdict = iota
	verdictRetry
	verdictParked
)

type batchReport struct {
	claimed   int
	published int
	retrying  int
	parked    int
}

func (b *batchReport) add(v verdict) {
	switch v {
	case verdictPublished:
		b.published++
	case verdictRetry:
		b.retrying++
	case verdictParked:
		b.parked++
	}
}

func (b batchReport) fields() map[string]any {
	return map[string]any{
		"claimed":   b.claimed,
		"published": b.published,
		"retrying":  b.retrying,
		"parked":    b.parked,
	}
}

// drain claims one batch and settles every row in the same transaction, so
// a crash mid-batch releases the locks and the rows are claimed again.
func (r *Relay) drain(ctx context.Context) (batchReport, error) {
	var report batchReport
	err := r.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := r.store.FetchUnpublishedForPublish(tx, r.batchSize, r.maxAttempts)
		if err != nil {
			return fmt.Errorf("claim outbox rows: %w", err)
		}
		report = batchReport{claimed: len(rows)}
		for _, row := range rows {
			v, err := r.deliver(ctx, tx, row)
			if err != nil {
				return err
			}
			report.add(v)
		}
		return nil
	})
	return report, err
}

func (r *Relay) deliver(ctx context.Context, tx *gorm.DB, row models.OutboxEvent) (verdict, error) {
	resolved, err := r.registry.Resolve(row)
	if err != nil {
		return r.park(ctx, tx, row, enums.OutboxDLQReasonNonRetryable, err)
	}

	sendErr := r.send(ctx, row, resolved)
	var nonRetryable registry.NonRetryableError
	switch {
	case sendErr == nil:
		if err := r.store.MarkPublishedTx(tx, row.ID); err != nil {
			return 0, fmt.Errorf("mark published %s: %w", row.ID, err)
		}
		return verdictPublished, nil
	case errors.As(sendErr, &nonRetryable):
		return r.park(ctx, tx, row, enums.OutboxDLQReasonNonRetryable, sendErr)
	case row.AttemptCount+1 >= r.maxAttempts:
		return r.park(ctx, tx, row, enums.OutboxDLQReasonMaxAttempts, fmt.Errorf("attempt %d of %d: %w", row.AttemptCount+1, r.maxAttempts, sendErr))
	}

	logCtx := r.logg.WithFields(ctx, rowFields(row))
	logCtx = r.logg.WithFields(logCtx, map[string]any{"topic": resolved.Descriptor.Topic, "error": sendErr.Error()})
	r.logg.Warn(logCtx, "outbox publish failed; will retry")
	if err := r.store.MarkFailedTx(tx, row.ID, sendErr); err != nil {
		return 0, fmt.Errorf("mark failed %s: %w", row.ID, err)
	}
	return verdictRetry, nil
}

// park copies the row into outbox_dlq and pins its attempt count at the
// ceiling so it is never claimed again.
func (r *Relay) park(ctx context.Context, tx *gorm.DB, row models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error) (verdict, error) {
	msg := cause.Error()
	entry := models.OutboxDLQ{
		EventID:       row.ID,
		EventType:     row.EventType,
		AggregateType: row.AggregateType,
		AggregateID:   row.AggregateID,
		Payload:       row.Payload,
		ErrorReason:   reason,
		ErrorMessage:  &msg,
		AttemptCount:  row.AttemptCount,
		FailedAt:      time.Now().UTC(),
	}
	if err := r.dlq.InsertTx(tx, entry); err != nil {
		return 0, fmt.Errorf("insert dlq %s: %w", row.ID, err)
	}
	if err := r.store.MarkTerminalTx(tx, row.ID, cause, r.maxAttempts); err != nil {
		return 0, fmt.Errorf("park %s: %w", row.ID, err)
	}

	logCtx := r.logg.WithFields(ctx, rowFields(row))
	logCtx = r.logg.WithField(logCtx, "dlq_reason", reason)
	r.logg.Error(logCtx, "outbox event parked in dlq", cause)
	return verdictParked, nil
}

func (r *Relay) send(ctx context.Context, row models.OutboxEvent, resolved *registry.ResolvedEvent) error {
	topic := resolved.Descriptor.Topic
	out := r.sinks.get(topic)
	if out == nil {
		return registry.NewNonRetryableError(fmt.Errorf("no publisher for topic %q", topic))
	}

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	result := out.Publish(sendCtx, messageFor(row, resolved))
	if result == nil {
		return registry.NewNonRetryableError(fmt.Errorf("topic %q returned no publish result", topic))
	}
	_, err := result.Get(sendCtx)
	return err
}

// messageFor keeps the stored envelope as the body. Events for one
// aggregate share an ordering key so a user's notifications arrive in the
// order they were committed.
func messageFor(row models.OutboxEvent, resolved *registry.ResolvedEvent) *gcppubsub.Message {
	attrs := map[string]string{
		"event_id":       resolved.Envelope.EventID,
		"event_type":     string(row.EventType),
		"aggregate_type": string(row.AggregateType),
		"aggregate_id":   row.AggregateID.String(),
		"schema_version": strconv.Itoa(resolved.Envelope.Version),
	}
	if !resolved.Envelope.OccurredAt.IsZero() {
		attrs["occurred_at"] = resolved.Envelope.OccurredAt.UTC().Format(time.RFC3339Nano)
	}
	return &gcppubsub.Message{
		Data:        row.Payload,
		Attributes:  attrs,
		OrderingKey: row.AggregateID.String(),
	}
}

func rowFields(row models.OutboxEvent) map[string]any {
	return map[string]any{
		"outbox_id":      row.ID.String(),
		"event_type":     row.EventType,
		"aggregate_type": row.AggregateType,
		"aggregate_id":   row.AggregateID.String(),
		"attempt_count":  row.AttemptCount,
	}
}
