package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/kisscloud/nest/internal/domain"
	"github.com/kisscloud/nest/internal/repository"
)

// CreateBuildLog inserts a build execution record.
func (r *Repository) CreateBuildLog(ctx context.Context, log *domain.BuildLog) error {
	const query = `INSERT INTO build_logs (id, team_id, project_id, job_name, branch, number, queue_id, status, output, operator_id, operator_name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)`
	_, err := r.pool.Exec(ctx, query,
		log.ID,
		log.TeamID,
		log.ProjectID,
		log.JobName,
		log.Branch,
		log.Number,
		log.QueueID,
		log.Status,
		log.Output,
		log.OperatorID,
		log.OperatorName,
		log.CreatedAt,
	)
	return mapWriteError(err)
}

// UpdateBuildLogStatus moves a build record to a new status, appending output.
func (r *Repository) UpdateBuildLogStatus(ctx context.Context, id string, execStatus int, output string) error {
	const query = `UPDATE build_logs
		SET status = $2,
			output = CASE WHEN $3 = '' THEN output ELSE output || $3 END,
			updated_at = NOW()
		WHERE id = $1`
	cmdTag, err := r.pool.Exec(ctx, query, id, execStatus, output)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// GetLastBuildLog returns the newest build record for a project's job.
func (r *Repository) GetLastBuildLog(ctx context.Context, projectID, jobName string) (*domain.BuildLog, error) {
	const query = `SELECT id, team_id, project_id, job_name, branch, number, queue_id, status, output, operator_id, operator_name, created_at, updated_at
		FROM build_logs WHERE project_id = $1 AND job_name = $2 ORDER BY number DESC LIMIT 1`
	row := r.pool.QueryRow(ctx, query, projectID, jobName)
	log, err := scanBuildLog(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return log, nil
}

// ListBuildLogsByTeam pages through a team's build history, newest first.
func (r *Repository) ListBuildLogsByTeam(ctx context.Context, teamID string, limit, offset int) ([]domain.BuildLog, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	const query = `SELECT id, team_id, project_id, job_name, branch, number, queue_id, status, output, operator_id, operator_name, created_at, updated_at
		FROM build_logs WHERE team_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	rows, err := r.pool.Query(ctx, query, teamID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.BuildLog, 0)
	for rows.Next() {
		log, err := scanBuildLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, *log)
	}
	return logs, rows.Err()
}

// DeleteBuildLogsByProject removes all build records for a project.
func (r *Repository) DeleteBuildLogsByProject(ctx context.Context, projectID string) error {
	const query = `DELETE FROM build_logs WHERE project_id = $1`
	_, err := r.pool.Exec(ctx, query, projectID)
	return err
}

func scanBuildLog(row pgx.Row) (*domain.BuildLog, error) {
	var log domain.BuildLog
	if err := row.Scan(
		&log.ID,
		&log.TeamID,
		&log.ProjectID,
		&log.JobName,
		&log.Branch,
		&log.Number,
		&log.QueueID,
		&log.Status,
		&log.Output,
		&log.OperatorID,
		&log.OperatorName,
		&log.CreatedAt,
		&log.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &log, nil
}

// CreateDeployLog inserts a deploy execution record.
func (r *Repository) CreateDeployLog(ctx context.Context, log *domain.DeployLog) error {
	const query = `INSERT INTO deploy_logs (id, team_id, project_id, job_name, server_ids, branch, number, version, remark, status, output, operator_id, operator_name, deploy_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $15)`
	_, err := r.pool.Exec(ctx, query,
		log.ID,
		log.TeamID,
		log.ProjectID,
		log.JobName,
		log.ServerIDs,
		log.Branch,
		log.Number,
		emptyToNil(log.Version),
		emptyToNil(log.Remark),
		log.Status,
		log.Output,
		log.OperatorID,
		log.OperatorName,
		timePtrToNil(log.DeployAt),
		log.CreatedAt,
	)
	return mapWriteError(err)
}

// UpdateDeployLogStatus moves a deploy record to a new status.
func (r *Repository) UpdateDeployLogStatus(ctx context.Context, id string, execStatus int, output string) error {
	const query = `UPDATE deploy_logs
		SET status = $2,
			output = CASE WHEN $3 = '' THEN output ELSE output || $3 END,
			deploy_at = CASE WHEN $2 >= 2 THEN NOW() ELSE deploy_at END,
			updated_at = NOW()
		WHERE id = $1`
	cmdTag, err := r.pool.Exec(ctx, query, id, execStatus, output)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// CreateDeployNodeLog records one server's deploy outcome.
func (r *Repository) CreateDeployNodeLog(ctx context.Context, log *domain.DeployNodeLog) error {
	const query = `INSERT INTO deploy_node_logs (id, team_id, job_id, deploy_log_id, server_id, node_id, status, output, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.pool.Exec(ctx, query,
		log.ID,
		log.TeamID,
		log.JobID,
		log.DeployLogID,
		log.ServerID,
		emptyToNil(log.NodeID),
		log.Status,
		log.Output,
		log.CreatedAt,
	)
	return mapWriteError(err)
}

// ListDeployLogsByTeam pages through a team's deploy history, newest first.
func (r *Repository) ListDeployLogsByTeam(ctx context.Context, teamID string, limit, offset int) ([]domain.DeployLog, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	const query = `SELECT id, team_id, project_id, job_name, server_ids, branch, number, version, remark, status, output, operator_id, operator_name, deploy_at, created_at, updated_at
		FROM deploy_logs WHERE team_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	rows, err := r.pool.Query(ctx, query, teamID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.DeployLog, 0)
	for rows.Next() {
		var (
			log      domain.DeployLog
			version  sql.NullString
			remark   sql.NullString
			deployAt sql.NullTime
		)
		if err := rows.Scan(
			&log.ID,
			&log.TeamID,
			&log.ProjectID,
			&log.JobName,
			&log.ServerIDs,
			&log.Branch,
			&log.Number,
			&version,
			&remark,
			&log.Status,
			&log.Output,
			&log.OperatorID,
			&log.OperatorName,
			&deployAt,
			&log.CreatedAt,
			&log.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if version.Valid {
			log.Version = version.String
		}
		if remark.Valid {
			log.Remark = remark.String
		}
		if deployAt.Valid {
			value := deployAt.Time.UTC()
			log.DeployAt = &value
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

// ListServersByIDs returns deploy targets by identifier.
func (r *Repository) ListServersByIDs(ctx context.Context, ids []string) ([]domain.Server, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	const query = `SELECT id, team_id, name, ip, ssh_port, created_at FROM servers WHERE id = ANY($1)`
	rows, err := r.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	servers := make([]domain.Server, 0, len(ids))
	for rows.Next() {
		var server domain.Server
		if err := rows.Scan(&server.ID, &server.TeamID, &server.Name, &server.IP, &server.SSHPort, &server.CreatedAt); err != nil {
			return nil, err
		}
		servers = append(servers, server)
	}
	return servers, rows.Err()
}
