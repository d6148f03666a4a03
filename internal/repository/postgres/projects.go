package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/kisscloud/nest/internal/domain"
	"github.com/kisscloud/nest/internal/repository"
)

const projectColumns = `id, team_id, group_id, name, slug, type, status, members_count, operator_id, operator_name, created_at, updated_at`

func scanProject(row pgx.Row) (*domain.Project, error) {
	var project domain.Project
	if err := row.Scan(
		&project.ID,
		&project.TeamID,
		&project.GroupID,
		&project.Name,
		&project.Slug,
		&project.Type,
		&project.Status,
		&project.MembersCount,
		&project.OperatorID,
		&project.OperatorName,
		&project.CreatedAt,
		&project.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &project, nil
}

// CreateProject inserts a project row.
func (r *Repository) CreateProject(ctx context.Context, project *domain.Project) error {
	const query = `INSERT INTO projects (id, team_id, group_id, name, slug, type, status, members_count, operator_id, operator_name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)`
	_, err := r.pool.Exec(ctx, query,
		project.ID,
		project.TeamID,
		project.GroupID,
		project.Name,
		project.Slug,
		project.Type,
		project.Status,
		project.MembersCount,
		project.OperatorID,
		project.OperatorName,
		project.CreatedAt,
	)
	return mapWriteError(err)
}

// GetProjectByID fetches project details.
func (r *Repository) GetProjectByID(ctx context.Context, projectID string) (*domain.Project, error) {
	const query = `SELECT ` + projectColumns + ` FROM projects WHERE id = $1`
	project, err := scanProject(r.pool.QueryRow(ctx, query, projectID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return project, nil
}

// GetProjectBySlug fetches a project by its team-scoped slug.
func (r *Repository) GetProjectBySlug(ctx context.Context, teamID, slug string) (*domain.Project, error) {
	const query = `SELECT ` + projectColumns + ` FROM projects WHERE team_id = $1 AND slug = $2`
	project, err := scanProject(r.pool.QueryRow(ctx, query, teamID, slug))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return project, nil
}

// ListProjects returns projects for a team, optionally narrowed to a group.
func (r *Repository) ListProjects(ctx context.Context, teamID, groupID string) ([]domain.Project, error) {
	const query = `SELECT ` + projectColumns + ` FROM projects
		WHERE team_id = $1 AND ($2 = '' OR group_id = $2)
		ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, query, teamID, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	projects := make([]domain.Project, 0)
	for rows.Next() {
		project, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, *project)
	}
	return projects, rows.Err()
}

// CountProjectsByGroup counts projects linked to a group.
func (r *Repository) CountProjectsByGroup(ctx context.Context, groupID string) (int, error) {
	const query = `SELECT COUNT(1) FROM projects WHERE group_id = $1`
	row := r.pool.QueryRow(ctx, query, groupID)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// UpdateProject mutates project metadata.
func (r *Repository) UpdateProject(ctx context.Context, project *domain.Project) error {
	const query = `UPDATE projects
		SET name = $2,
			type = $3,
			status = $4,
			operator_id = $5,
			operator_name = $6,
			updated_at = NOW()
		WHERE id = $1`
	cmdTag, err := r.pool.Exec(ctx, query,
		project.ID,
		project.Name,
		project.Type,
		project.Status,
		project.OperatorID,
		project.OperatorName,
	)
	if err != nil {
		return mapWriteError(err)
	}
	if cmdTag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeleteProject removes a project row.
func (r *Repository) DeleteProject(ctx context.Context, projectID string) error {
	const query = `DELETE FROM projects WHERE id = $1`
	cmdTag, err := r.pool.Exec(ctx, query, projectID)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// CreateProjectRepository inserts the repository link for a project. The
// unique index on project_id makes concurrent provisioning race-safe: the
// second writer gets ErrConflict.
func (r *Repository) CreateProjectRepository(ctx context.Context, link *domain.ProjectRepository) error {
	const query = `INSERT INTO project_repositories (id, project_id, team_id, name, repository_id, http_url, ssh_url, branch_count, operator_id, operator_name, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := r.pool.Exec(ctx, query,
		link.ID,
		link.ProjectID,
		link.TeamID,
		link.Name,
		link.RepositoryID,
		link.HTTPURL,
		link.SSHURL,
		link.BranchCount,
		link.OperatorID,
		link.OperatorName,
		link.CreatedAt,
	)
	return mapWriteError(err)
}

// GetProjectRepositoryByProjectID returns the repository link for a project.
func (r *Repository) GetProjectRepositoryByProjectID(ctx context.Context, projectID string) (*domain.ProjectRepository, error) {
	const query = `SELECT id, project_id, team_id, name, repository_id, http_url, ssh_url, branch_count, operator_id, operator_name, created_at
		FROM project_repositories WHERE project_id = $1`
	row := r.pool.QueryRow(ctx, query, projectID)
	var link domain.ProjectRepository
	if err := row.Scan(
		&link.ID,
		&link.ProjectID,
		&link.TeamID,
		&link.Name,
		&link.RepositoryID,
		&link.HTTPURL,
		&link.SSHURL,
		&link.BranchCount,
		&link.OperatorID,
		&link.OperatorName,
		&link.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &link, nil
}

// ListProjectRepositoriesByTeam returns repository links for a team.
func (r *Repository) ListProjectRepositoriesByTeam(ctx context.Context, teamID string) ([]domain.ProjectRepository, error) {
	const query = `SELECT id, project_id, team_id, name, repository_id, http_url, ssh_url, branch_count, operator_id, operator_name, created_at
		FROM project_repositories WHERE team_id = $1 ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, query, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	links := make([]domain.ProjectRepository, 0)
	for rows.Next() {
		var link domain.ProjectRepository
		if err := rows.Scan(
			&link.ID,
			&link.ProjectID,
			&link.TeamID,
			&link.Name,
			&link.RepositoryID,
			&link.HTTPURL,
			&link.SSHURL,
			&link.BranchCount,
			&link.OperatorID,
			&link.OperatorName,
			&link.CreatedAt,
		); err != nil {
			return nil, err
		}
		links = append(links, link)
	}
	return links, rows.Err()
}

// DeleteProjectRepository removes a repository link.
func (r *Repository) DeleteProjectRepository(ctx context.Context, id string) error {
	const query = `DELETE FROM project_repositories WHERE id = $1`
	cmdTag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}
