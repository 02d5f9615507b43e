package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/ledger-core/pkg/enums"
)

// PermissionGrant links a user to an account with a tier. The ledger only reads it.
type PermissionGrant struct {
	AccountID uuid.UUID            `gorm:"column:account_id;type:uuid;primaryKey"`
	UserID    uuid.UUID            `gorm:"column:user_id;type:uuid;primaryKey"`
	Tier      enums.PermissionTier `gorm:"column:tier;type:varchar(10);not null"`
	CreatedAt time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}
