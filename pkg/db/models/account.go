package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/ledger-core/pkg/enums"
)

// Account is owned by the accounts service; the ledger only writes
// CurrentBalance, and only through the balances package.
type Account struct {
	ID             uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	Name           string          `gorm:"column:name;not null"`
	Currency       enums.Currency  `gorm:"column:currency;type:char(3);not null"`
	OpeningBalance decimal.Decimal `gorm:"column:opening_balance;type:numeric(18,2);not null"`
	CurrentBalance decimal.Decimal `gorm:"column:current_balance;type:numeric(18,2);not null"`
	Deleted        bool            `gorm:"column:deleted;not null;default:false"`
	CreatedAt      time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
