package repo

import (
	"context"

	"gorm.io/gorm"
)

// Base carries the connection a repository queries through. Rebinding it to a
// transaction with WithTx keeps every query on that transaction.
type Base struct {
	db *gorm.DB
}

func NewBase(db *gorm.DB) Base {
	return Base{db: db}
}

// WithTx returns a copy bound to tx. A nil tx keeps the current connection.
func (b Base) WithTx(tx *gorm.DB) Base {
	if tx == nil {
		return b
	}
	return Base{db: tx}
}

// DB returns the connection bound to ctx.
func (b Base) DB(ctx context.Context) *gorm.DB {
	if ctx == nil {
		return b.db
	}
	return b.db.WithContext(ctx)
}

// Live starts a query on model that skips soft-deleted rows.
func (b Base) Live(ctx context.Context, model any) *gorm.DB {
	return b.DB(ctx).Model(model).Where("deleted = ?", false)
}
