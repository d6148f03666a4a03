package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/kisscloud/nest/internal/domain"
	"github.com/kisscloud/nest/internal/repository"
)

const jobColumns = `id, team_id, project_id, job_name, type, status, number, shell, operator_id, operator_name, created_at, updated_at`

func scanJob(row pgx.Row) (*domain.Job, error) {
	var job domain.Job
	if err := row.Scan(
		&job.ID,
		&job.TeamID,
		&job.ProjectID,
		&job.JobName,
		&job.Type,
		&job.Status,
		&job.Number,
		&job.Shell,
		&job.OperatorID,
		&job.OperatorName,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &job, nil
}

// CreateJob inserts a job row.
func (r *Repository) CreateJob(ctx context.Context, job *domain.Job) error {
	const query = `INSERT INTO jobs (id, team_id, project_id, job_name, type, status, number, shell, operator_id, operator_name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)`
	_, err := r.pool.Exec(ctx, query,
		job.ID,
		job.TeamID,
		job.ProjectID,
		job.JobName,
		job.Type,
		job.Status,
		job.Number,
		job.Shell,
		job.OperatorID,
		job.OperatorName,
		job.CreatedAt,
	)
	return mapWriteError(err)
}

// GetJobByID loads a job.
func (r *Repository) GetJobByID(ctx context.Context, jobID string) (*domain.Job, error) {
	const query = `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`
	job, err := scanJob(r.pool.QueryRow(ctx, query, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

// GetJobByProjectAndType loads the project's job of the given type.
func (r *Repository) GetJobByProjectAndType(ctx context.Context, projectID string, jobType int) (*domain.Job, error) {
	const query = `SELECT ` + jobColumns + ` FROM jobs WHERE project_id = $1 AND type = $2`
	job, err := scanJob(r.pool.QueryRow(ctx, query, projectID, jobType))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

// ListJobsByProject returns all jobs owned by a project.
func (r *Repository) ListJobsByProject(ctx context.Context, projectID string) ([]domain.Job, error) {
	const query = `SELECT ` + jobColumns + ` FROM jobs WHERE project_id = $1 ORDER BY created_at ASC`
	rows, err := r.pool.Query(ctx, query, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := make([]domain.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// DeleteJob removes a job row.
func (r *Repository) DeleteJob(ctx context.Context, jobID string) error {
	const query = `DELETE FROM jobs WHERE id = $1`
	cmdTag, err := r.pool.Exec(ctx, query, jobID)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// BumpJobNumber atomically increments and returns the job's sequence number.
func (r *Repository) BumpJobNumber(ctx context.Context, jobID string) (int, error) {
	const query = `UPDATE jobs SET number = number + 1, updated_at = NOW() WHERE id = $1 RETURNING number`
	row := r.pool.QueryRow(ctx, query, jobID)
	var number int
	if err := row.Scan(&number); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, repository.ErrNotFound
		}
		return 0, err
	}
	return number, nil
}

// UpdateJobStatus sets the job's run state.
func (r *Repository) UpdateJobStatus(ctx context.Context, jobID string, jobStatus int) error {
	const query = `UPDATE jobs SET status = $2, updated_at = NOW() WHERE id = $1`
	cmdTag, err := r.pool.Exec(ctx, query, jobID, jobStatus)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}
