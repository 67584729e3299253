package outbox

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/bodyf1rst/billing-backend/pkg/db/models"
)

// DLQRepository stores outbox rows the relay gave up on.
type DLQRepository struct {
	db *gorm.DB
}

func NewDLQRepository(db *gorm.DB) *DLQRepository {
	return &DLQRepository{db: db}
}

// InsertTx parks entry on tx, in the same transaction that marks the source
// row terminal. Long messages are cut to the outbox last_error limit.
func (r *DLQRepository) InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if !entry.ErrorReason.IsValid() {
		return fmt.Errorf("unknown dlq reason %q", entry.ErrorReason)
	}
	if entry.ErrorMessage != nil && len(*entry.ErrorMessage) > maxLastErrorLen {
		cut := (*entry.ErrorMessage)[:maxLastErrorLen]
		entry.ErrorMessage = &cut
	}
	if entry.FailedAt.IsZero() {
		entry.FailedAt = time.Now().UTC()
	}
	return tx.Create(&entry).Error
}
