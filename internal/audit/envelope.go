package audit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/ledger-core/pkg/enums"
)

// PayloadVersion is bumped when Payload changes shape.
const PayloadVersion = 1

// Event describes one mutation, or one refused attempt, against an account.
type Event struct {
	Action    enums.AuditAction
	Actor     uuid.UUID
	AccountID uuid.UUID
	EntityIDs []uuid.UUID
	Before    any
	After     any
	// Reason is set on DENIED events.
	Reason string
}

// Payload is the stable body stored in audit_events.payload and published downstream.
type Payload struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	Action     string          `json:"action"`
	OccurredAt time.Time       `json:"occurredAt"`
	ActorID    string          `json:"actorId"`
	AccountID  string          `json:"accountId"`
	EntityIDs  []string        `json:"entityIds"`
	Before     json.RawMessage `json:"before,omitempty"`
	After      json.RawMessage `json:"after,omitempty"`
	Reason     string          `json:"reason,omitempty"`
}
