package admin

import (
	"github.com/google/uuid"

	"github.com/bodyf1rst/billing-backend/pkg/enums"
)

type BillingStatusChange struct {
	UserID   uuid.UUID           `json:"user_id"`
	Previous enums.BillingStatus `json:"previous"`
	Current  enums.BillingStatus `json:"current"`
}

// Outcome reports what a bulk operation did for a single user.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeNotFound  Outcome = "not_found"
	OutcomeFailed    Outcome = "failed"
)

type UserResult struct {
	UserID  uuid.UUID `json:"user_id"`
	Outcome Outcome   `json:"outcome"`
	Reason  string    `json:"reason,omitempty"`
}
