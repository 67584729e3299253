package payloads

import (
	"github.com/google/uuid"

	"github.com/bodyf1rst/billing-backend/pkg/enums"
)

// NotificationRequestedEvent asks the delivery consumers (email, push) to
// notify a user about a billing outcome.
type NotificationRequestedEvent struct {
	UserID uuid.UUID              `json:"user_id" validate:"required"`
	Email  string                 `json:"email,omitempty" validate:"omitempty,email"`
	Name   string                 `json:"name,omitempty"`
	Kind   enums.NotificationKind `json:"kind" validate:"required,notification_kind"`
	Data   map[string]any         `json:"data,omitempty"`
}
