package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bodyf1rst/billing-backend/pkg/db/models"
	"github.com/bodyf1rst/billing-backend/pkg/enums"
	pkgerrors "github.com/bodyf1rst/billing-backend/pkg/errors"
	"github.com/bodyf1rst/billing-backend/pkg/pagination"
)

// Action describes one privileged mutation.
type Action struct {
	AdminID    uuid.UUID
	Action     enums.AdminActionType
	TargetType string
	TargetID   string
	Details    map[string]any
}

// Recorder appends admin_actions rows. Rows are never updated or deleted.
type Recorder struct {
	db *gorm.DB
}

func NewRecorder(db *gorm.DB) *Recorder {
	return &Recorder{db: db}
}

// Record writes the audit row in tx so it commits with the mutation it describes.
func (r *Recorder) Record(ctx context.Context, tx *gorm.DB, action Action) error {
	if tx == nil {
		return fmt.Errorf("transaction required")
	}
	if action.AdminID == uuid.Nil {
		return fmt.Errorf("admin id required")
	}
	if !action.Action.IsValid() {
		return fmt.Errorf("unknown admin action %q", action.Action)
	}
	var details json.RawMessage
	if len(action.Details) > 0 {
		raw, err := json.Marshal(action.Details)
		if err != nil {
			return fmt.Errorf("marshal audit details: %w", err)
		}
		details = raw
	}
	row := models.AdminAction{
		AdminID:    action.AdminID,
		Action:     action.Action,
		TargetType: action.TargetType,
		TargetID:   action.TargetID,
		Details:    details,
	}
	return tx.WithContext(ctx).Create(&row).Error
}

// ListFilters narrows the audit listing.
type ListFilters struct {
	AdminID  *uuid.UUID
	Action   *enums.AdminActionType
	TargetID string
	Since    *time.Time
	Limit    int
	Cursor   string
}

// ListResult is one page of audit rows.
type ListResult struct {
	Items      []models.AdminAction `json:"items"`
	NextCursor string               `json:"next_cursor,omitempty"`
}

// List returns audit rows newest first.
func (r *Recorder) List(ctx context.Context, filters ListFilters) (*ListResult, error) {
	cursor, err := pagination.ParseCursor(filters.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	query := r.db.WithContext(ctx).Model(&models.AdminAction{})
	if filters.AdminID != nil {
		query = query.Where("admin_id = ?", *filters.AdminID)
	}
	if filters.Action != nil {
		query = query.Where("action = ?", *filters.Action)
	}
	if filters.TargetID != "" {
		query = query.Where("target_id = ?", filters.TargetID)
	}
	if filters.Since != nil {
		query = query.Where("created_at >= ?", filters.Since.UTC())
	}

	var rows []models.AdminAction
	if err := query.Scopes(pagination.Keyset(cursor, filters.Limit)).Find(&rows).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list admin actions")
	}

	items, next := pagination.Trim(rows, filters.Limit, func(a models.AdminAction) pagination.Cursor {
		return pagination.Cursor{CreatedAt: a.CreatedAt, ID: a.ID}
	})
	result := &ListResult{Items: items}
	if next != nil {
		result.NextCursor = pagination.EncodeCursor(*next)
	}
	return result, nil
}
