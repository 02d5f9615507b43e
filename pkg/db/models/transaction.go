package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/ledger-core/pkg/enums"
)

// Transaction is a single signed movement on an account. Rows with a
// ParentTransactionID are split children and never count toward the balance.
type Transaction struct {
	ID                  uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	AccountID           uuid.UUID             `gorm:"column:account_id;type:uuid;not null;index"`
	ParentTransactionID *uuid.UUID            `gorm:"column:parent_transaction_id;type:uuid;index"`
	Date                time.Time             `gorm:"column:date;type:date;not null"`
	ValueDate           *time.Time            `gorm:"column:value_date;type:date"`
	Amount              decimal.Decimal       `gorm:"column:amount;type:numeric(18,2);not null"`
	Currency            enums.Currency        `gorm:"column:currency;type:char(3);not null"`
	Description         string                `gorm:"column:description;size:500;not null"`
	Merchant            *string               `gorm:"column:merchant;size:100"`
	Type                enums.TransactionType `gorm:"column:type;type:varchar(20);not null"`
	Category            *string               `gorm:"column:category;size:100"`
	Notes               *string               `gorm:"column:notes"`
	CreatedBy           uuid.UUID             `gorm:"column:created_by;type:uuid;not null"`
	ImportBatchID       *uuid.UUID            `gorm:"column:import_batch_id;type:uuid;index"`
	Deleted             bool                  `gorm:"column:deleted;not null;default:false"`
	DeletedAt           *time.Time            `gorm:"column:deleted_at"`
	CreatedAt           time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time             `gorm:"column:updated_at;autoUpdateTime"`

	Tags []string `gorm:"-"`
}

// IsSplitChild reports whether the row was produced by a split.
func (t Transaction) IsSplitChild() bool {
	return t.ParentTransactionID != nil
}

// TransactionTag stores one entry of a transaction's tag set.
type TransactionTag struct {
	TransactionID uuid.UUID `gorm:"column:transaction_id;type:uuid;primaryKey"`
	Tag           string    `gorm:"column:tag;size:64;primaryKey"`
}
