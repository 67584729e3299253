package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bodyf1rst/billing-backend/pkg/enums"
)

// AdminAction is an insert-only audit row for a privileged mutation.
type AdminAction struct {
	ID         uuid.UUID             `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	AdminID    uuid.UUID             `gorm:"column:admin_id;type:uuid;not null;index"`
	Action     enums.AdminActionType `gorm:"column:action;not null"`
	TargetType string                `gorm:"column:target_type;not null"`
	TargetID   string                `gorm:"column:target_id;not null"`
	Details    json.RawMessage       `gorm:"column:details;type:jsonb"`
	CreatedAt  time.Time             `gorm:"column:created_at;autoCreateTime"`
}

func (a *AdminAction) BeforeCreate(*gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
