// Package audit records the operation log and activity stream. Recording is
// best effort: a failed audit write is logged and never fails the mutation
// it describes.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/kisscloud/nest/internal/domain"
	"github.com/kisscloud/nest/internal/identity"
	"github.com/kisscloud/nest/internal/repository"
)

// Recorder writes audit entries.
type Recorder struct {
	store  repository.AuditRepository
	logger *slog.Logger
}

// New returns an audit recorder.
func New(store repository.AuditRepository, logger *slog.Logger) Recorder {
	return Recorder{store: store, logger: logger}
}

// Operation records a before/after snapshot of one field mutation.
func (r Recorder) Operation(ctx context.Context, actor identity.Actor, operation, targetField string, oldValue, newValue any) {
	oldJSON := marshalValue(oldValue)
	newJSON := marshalValue(newValue)
	entry := &domain.OperationLog{
		ID:           uuid.NewString(),
		TeamID:       actor.TeamID,
		OperatorID:   actor.ID,
		OperatorName: actor.Name,
		Operation:    operation,
		TargetField:  targetField,
		OldValue:     oldJSON,
		NewValue:     newJSON,
		CreatedAt:    time.Now().UTC(),
	}
	if err := r.store.InsertOperationLog(ctx, entry); err != nil {
		r.logger.Error("operation log write failed", "operation", operation, "team_id", actor.TeamID, "error", err)
	}
}

// Activity records an activity stream entry scoped to a group or project.
func (r Recorder) Activity(ctx context.Context, actor identity.Actor, operation, groupID, projectID string, payload any) {
	entry := &domain.ActivityEntry{
		ID:           uuid.NewString(),
		TeamID:       actor.TeamID,
		GroupID:      groupID,
		ProjectID:    projectID,
		OperatorID:   actor.ID,
		OperatorName: actor.Name,
		Operation:    operation,
		Payload:      marshalValue(payload),
		CreatedAt:    time.Now().UTC(),
	}
	if err := r.store.InsertActivity(ctx, entry); err != nil {
		r.logger.Error("activity write failed", "operation", operation, "team_id", actor.TeamID, "error", err)
	}
}

func marshalValue(value any) []byte {
	if value == nil {
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil
	}
	return data
}
