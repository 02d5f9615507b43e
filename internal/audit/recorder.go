package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/ledger-core/pkg/db/models"
	"github.com/angelmondragon/ledger-core/pkg/logger"
)

const writeTimeout = 5 * time.Second

// Recorder emits audit events once the mutation they describe has committed.
// Record never fails the caller; sink errors are logged and dropped.
type Recorder interface {
	Record(ctx context.Context, event Event)
}

type sink interface {
	Insert(ctx context.Context, event *models.AuditEvent) error
}

type recorder struct {
	repo sink
	logg *logger.Logger
	now  func() time.Time
}

func NewRecorder(repo sink, logg *logger.Logger) (Recorder, error) {
	if repo == nil {
		return nil, errors.New("audit repository required")
	}
	if logg == nil {
		return nil, errors.New("logger required")
	}
	return &recorder{repo: repo, logg: logg, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (r *recorder) Record(ctx context.Context, event Event) {
	// The row must land even when the request that produced it is already gone.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	fields := map[string]any{
		"audit_action": string(event.Action),
		"actor_id":     event.Actor.String(),
		"account_id":   event.AccountID.String(),
		"entity_ids":   idStrings(event.EntityIDs),
	}
	if event.Reason != "" {
		fields["reason"] = event.Reason
	}
	logCtx := r.logg.WithFields(ctx, fields)

	row, err := r.build(event)
	if err != nil {
		r.logg.Error(logCtx, "audit.event.encode_failed", err)
		return
	}
	if err := r.repo.Insert(writeCtx, row); err != nil {
		r.logg.Error(logCtx, "audit.event.write_failed", err)
		return
	}
	r.logg.Info(r.logg.WithField(logCtx, "audit_event_id", row.ID.String()), "audit.event.recorded")
}

func (r *recorder) build(event Event) (*models.AuditEvent, error) {
	id := uuid.New()
	occurred := r.now()
	ids := idStrings(event.EntityIDs)

	before, err := rawJSON(event.Before)
	if err != nil {
		return nil, fmt.Errorf("encode before: %w", err)
	}
	after, err := rawJSON(event.After)
	if err != nil {
		return nil, fmt.Errorf("encode after: %w", err)
	}

	payload, err := json.Marshal(Payload{
		Version:    PayloadVersion,
		EventID:    id.String(),
		Action:     string(event.Action),
		OccurredAt: occurred,
		ActorID:    event.Actor.String(),
		AccountID:  event.AccountID.String(),
		EntityIDs:  ids,
		Before:     before,
		After:      after,
		Reason:     event.Reason,
	})
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	entityIDs, err := json.Marshal(ids)
	if err != nil {
		return nil, fmt.Errorf("encode entity ids: %w", err)
	}

	return &models.AuditEvent{
		ID:          id,
		Action:      event.Action,
		ActorUserID: event.Actor,
		AccountID:   event.AccountID,
		EntityIDs:   json.RawMessage(entityIDs),
		Payload:     json.RawMessage(payload),
		OccurredAt:  occurred,
	}, nil
}

func rawJSON(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}

func idStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
