package stripewebhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bodyf1rst/billing-backend/pkg/redis"
)

const (
	guardScope      = "stripe-webhook"
	defaultGuardTTL = 72 * time.Hour
)

// EventGuard remembers delivered event IDs so a redelivery does not repeat
// side effects such as notifications.
type EventGuard struct {
	store redis.IdempotencyStore
	ttl   time.Duration
}

func NewEventGuard(store redis.IdempotencyStore, ttl time.Duration) (*EventGuard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	if ttl == 0 {
		ttl = defaultGuardTTL
	}
	return &EventGuard{store: store, ttl: ttl}, nil
}

// Claim marks eventID as in progress. It returns false when another delivery
// already claimed it.
func (g *EventGuard) Claim(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, errors.New("event id is required")
	}
	set, err := g.store.SetNX(ctx, g.store.IdempotencyKey(guardScope, eventID), "1", g.ttl)
	if err != nil {
		return false, fmt.Errorf("claim webhook event: %w", err)
	}
	return set, nil
}

// Release forgets eventID so the gateway's retry is processed again.
func (g *EventGuard) Release(ctx context.Context, eventID string) error {
	if eventID == "" {
		return errors.New("event id is required")
	}
	return g.store.Del(ctx, g.store.IdempotencyKey(guardScope, eventID))
}
