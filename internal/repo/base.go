package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// Base carries the connection shared by the billing repositories. It may be
// bound to a transaction with Bind.
type Base struct {
	db *gorm.DB
}

// NewBase constructs a Base repository backed by the provided GORM connection.
func NewBase(db *gorm.DB) Base {
	return Base{db: db}
}

// Bind returns a Base that runs on tx, or b itself when tx is nil.
func (b Base) Bind(tx *gorm.DB) Base {
	if tx == nil {
		return b
	}
	return Base{db: tx}
}

// DB returns the GORM connection bound to the supplied context (if any).
func (b Base) DB(ctx context.Context) *gorm.DB {
	if ctx == nil {
		return b.db
	}
	return b.db.WithContext(ctx)
}

// FirstOrNil runs query.First and maps a missing row to nil, nil.
func FirstOrNil[T any](query *gorm.DB) (*T, error) {
	var out T
	err := query.First(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}
