package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/bodyf1rst/billing-backend/pkg/enums"
)

// ActorRef names the user behind an event. Webhook and cron events leave it nil.
type ActorRef struct {
	UserID uuid.UUID  `json:"user_id"`
	Role   enums.Role `json:"role,omitempty"`
}

// AdminActor is the actor for events raised from the admin surface.
func AdminActor(adminID uuid.UUID) *ActorRef {
	return &ActorRef{UserID: adminID, Role: enums.RoleAdmin}
}

// PayloadEnvelope is what outbox_events.payload holds and what subscribers
// receive as the message body. Bump Version when Data changes shape.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"event_id"`
	OccurredAt time.Time       `json:"occurred_at"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}
