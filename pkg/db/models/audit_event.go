package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/ledger-core/pkg/enums"
)

// AuditEvent is an append-only record of a ledger mutation or a denied attempt.
// PublishedAt and the attempt columns are driven by the audit publisher.
type AuditEvent struct {
	ID           uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	Action       enums.AuditAction `gorm:"column:action;type:varchar(16);not null"`
	ActorUserID  uuid.UUID         `gorm:"column:actor_user_id;type:uuid;not null"`
	AccountID    uuid.UUID         `gorm:"column:account_id;type:uuid;not null;index"`
	EntityIDs    json.RawMessage   `gorm:"column:entity_ids;type:jsonb;not null"`
	Payload      json.RawMessage   `gorm:"column:payload;type:jsonb"`
	OccurredAt   time.Time         `gorm:"column:occurred_at;not null"`
	PublishedAt  *time.Time        `gorm:"column:published_at"`
	AttemptCount int               `gorm:"column:attempt_count;not null;default:0"`
	LastError    *string           `gorm:"column:last_error"`
}
