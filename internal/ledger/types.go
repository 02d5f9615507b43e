package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/ledger-core/pkg/enums"
)

// CreateInput carries the caller-supplied fields of a new transaction.
// An empty Currency inherits the account's.
type CreateInput struct {
	Date          time.Time             `json:"date"`
	ValueDate     *time.Time            `json:"value_date"`
	Amount        decimal.Decimal       `json:"amount"`
	Currency      string                `json:"currency" validate:"omitempty,len=3,alpha"`
	Description   string                `json:"description" validate:"required,max=500"`
	Merchant      *string               `json:"merchant" validate:"omitempty,max=100"`
	Type          enums.TransactionType `json:"type" validate:"required"`
	Category      *string               `json:"category" validate:"omitempty,max=100"`
	Notes         *string               `json:"notes" validate:"omitempty,max=2000"`
	Tags          []string              `json:"tags" validate:"max=50,dive,max=64"`
	ImportBatchID *uuid.UUID            `json:"import_batch_id"`
}

// SplitPart is one child of a split. Description falls back to the parent's.
type SplitPart struct {
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description" validate:"omitempty,max=500"`
	Category    *string         `json:"category" validate:"omitempty,max=100"`
	Notes       *string         `json:"notes" validate:"omitempty,max=2000"`
	Tags        []string        `json:"tags" validate:"max=50,dive,max=64"`
}

// BatchDeletion reports what DeleteImportBatch removed.
type BatchDeletion struct {
	BatchID    uuid.UUID
	DeletedIDs []uuid.UUID
	Delta      decimal.Decimal
	Balance    decimal.Decimal
}
