package postgres

import (
	"context"

	"github.com/kisscloud/nest/internal/domain"
)

// InsertOperationLog records a before/after mutation snapshot.
func (r *Repository) InsertOperationLog(ctx context.Context, entry *domain.OperationLog) error {
	const query = `INSERT INTO operation_logs (id, team_id, operator_id, operator_name, operation, target_field, old_value, new_value, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.pool.Exec(ctx, query,
		entry.ID,
		entry.TeamID,
		entry.OperatorID,
		entry.OperatorName,
		entry.Operation,
		emptyToNil(entry.TargetField),
		bytesToNil(entry.OldValue),
		bytesToNil(entry.NewValue),
		entry.CreatedAt,
	)
	return mapWriteError(err)
}

// InsertActivity records an activity stream entry.
func (r *Repository) InsertActivity(ctx context.Context, entry *domain.ActivityEntry) error {
	const query = `INSERT INTO activities (id, team_id, group_id, project_id, operator_id, operator_name, operation, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.pool.Exec(ctx, query,
		entry.ID,
		entry.TeamID,
		emptyToNil(entry.GroupID),
		emptyToNil(entry.ProjectID),
		entry.OperatorID,
		entry.OperatorName,
		entry.Operation,
		bytesToNil(entry.Payload),
		entry.CreatedAt,
	)
	return mapWriteError(err)
}
