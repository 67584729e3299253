package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/bodyf1rst/billing-backend/pkg/db/models"
	"github.com/bodyf1rst/billing-backend/pkg/enums"
	"github.com/bodyf1rst/billing-backend/pkg/logger"
)

// EnvelopeVersion is stamped on every envelope written by this build.
const EnvelopeVersion = 1

// DomainEvent is a state change to announce once the surrounding transaction commits.
type DomainEvent struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	AggregateID   uuid.UUID
	Actor         *ActorRef
	Data          any
	OccurredAt    time.Time
}

func (e DomainEvent) validate() error {
	var errs error
	if !e.EventType.IsValid() {
		errs = multierr.Append(errs, fmt.Errorf("unknown event type %q", e.EventType))
	}
	if !e.AggregateType.IsValid() {
		errs = multierr.Append(errs, fmt.Errorf("unknown aggregate type %q", e.AggregateType))
	}
	if e.AggregateID == uuid.Nil {
		errs = multierr.Append(errs, errors.New("aggregate id required"))
	}
	return errs
}

// Service turns domain events into outbox rows.
type Service struct {
	repo *Repository
	logg *logger.Logger
	now  func() time.Time
}

func NewService(repo *Repository, logg *logger.Logger) *Service {
	return &Service{repo: repo, logg: logg, now: func() time.Time { return time.Now().UTC() }}
}

// Emit writes events inside tx so they commit or roll back with the caller's
// state change. The row id doubles as the envelope event id.
func (s *Service) Emit(ctx context.Context, tx *gorm.DB, events ...DomainEvent) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if len(events) == 0 {
		return nil
	}

	rows := make([]models.OutboxEvent, 0, len(events))
	for i, event := range events {
		if err := event.validate(); err != nil {
			return fmt.Errorf("outbox event %d: %w", i, err)
		}
		row, err := s.rowFor(event)
		if err != nil {
			return fmt.Errorf("outbox event %d: %w", i, err)
		}
		rows = append(rows, row)
	}
	if err := s.repo.InsertBatch(tx.WithContext(ctx), rows); err != nil {
		return fmt.Errorf("insert outbox events: %w", err)
	}

	if s.logg != nil {
		for _, row := range rows {
			logCtx := s.logg.WithFields(ctx, map[string]any{
				"event_id":       row.ID.String(),
				"event_type":     row.EventType,
				"aggregate_type": row.AggregateType,
				"aggregate_id":   row.AggregateID.String(),
			})
			s.logg.Debug(logCtx, "outbox event staged")
		}
	}
	return nil
}

func (s *Service) rowFor(event DomainEvent) (models.OutboxEvent, error) {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return models.OutboxEvent{}, fmt.Errorf("encode data: %w", err)
	}
	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = s.now()
	}
	id := uuid.New()
	payload, err := json.Marshal(PayloadEnvelope{
		Version:    EnvelopeVersion,
		EventID:    id.String(),
		OccurredAt: occurredAt.UTC(),
		Actor:      event.Actor,
		Data:       data,
	})
	if err != nil {
		return models.OutboxEvent{}, fmt.Errorf("encode envelope: %w", err)
	}
	return models.OutboxEvent{
		ID:            id,
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       payload,
	}, nil
}
