package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/kisscloud/nest/internal/domain"
	"github.com/kisscloud/nest/internal/repository"
)

func scanGroup(row pgx.Row) (*domain.Group, error) {
	var (
		group  domain.Group
		repoID sql.NullInt64
	)
	if err := row.Scan(
		&group.ID,
		&group.TeamID,
		&group.Name,
		&group.Slug,
		&group.Status,
		&group.MembersCount,
		&group.ProjectsCount,
		&repoID,
		&group.OperatorID,
		&group.OperatorName,
		&group.CreatedAt,
		&group.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if repoID.Valid {
		value := repoID.Int64
		group.RepositoryID = &value
	}
	return &group, nil
}

const groupColumns = `id, team_id, name, slug, status, members_count, projects_count, repository_id, operator_id, operator_name, created_at, updated_at`

// CreateGroup inserts a group row.
func (r *Repository) CreateGroup(ctx context.Context, group *domain.Group) error {
	const query = `INSERT INTO groups (id, team_id, name, slug, status, members_count, projects_count, repository_id, operator_id, operator_name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)`
	_, err := r.pool.Exec(ctx, query,
		group.ID,
		group.TeamID,
		group.Name,
		group.Slug,
		group.Status,
		group.MembersCount,
		group.ProjectsCount,
		int64PtrToNil(group.RepositoryID),
		group.OperatorID,
		group.OperatorName,
		group.CreatedAt,
	)
	return mapWriteError(err)
}

// GetGroupByID loads a single group.
func (r *Repository) GetGroupByID(ctx context.Context, groupID string) (*domain.Group, error) {
	const query = `SELECT ` + groupColumns + ` FROM groups WHERE id = $1`
	group, err := scanGroup(r.pool.QueryRow(ctx, query, groupID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return group, nil
}

// GetGroupBySlug loads a group by its team-scoped slug.
func (r *Repository) GetGroupBySlug(ctx context.Context, teamID, slug string) (*domain.Group, error) {
	const query = `SELECT ` + groupColumns + ` FROM groups WHERE team_id = $1 AND slug = $2`
	group, err := scanGroup(r.pool.QueryRow(ctx, query, teamID, slug))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return group, nil
}

// ListGroupsByTeam returns groups for the team, newest first.
func (r *Repository) ListGroupsByTeam(ctx context.Context, teamID string) ([]domain.Group, error) {
	const query = `SELECT ` + groupColumns + ` FROM groups WHERE team_id = $1 ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, query, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	groups := make([]domain.Group, 0)
	for rows.Next() {
		group, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		groups = append(groups, *group)
	}
	return groups, rows.Err()
}

// UpdateGroup mutates group metadata.
func (r *Repository) UpdateGroup(ctx context.Context, group *domain.Group) error {
	const query = `UPDATE groups
		SET name = $2,
			slug = $3,
			status = $4,
			operator_id = $5,
			operator_name = $6,
			updated_at = NOW()
		WHERE id = $1`
	cmdTag, err := r.pool.Exec(ctx, query,
		group.ID,
		group.Name,
		group.Slug,
		group.Status,
		group.OperatorID,
		group.OperatorName,
	)
	if err != nil {
		return mapWriteError(err)
	}
	if cmdTag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeleteGroup removes a group row.
func (r *Repository) DeleteGroup(ctx context.Context, groupID string) error {
	const query = `DELETE FROM groups WHERE id = $1`
	cmdTag, err := r.pool.Exec(ctx, query, groupID)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// SetGroupRepositoryID links the group to its remote sub-group.
func (r *Repository) SetGroupRepositoryID(ctx context.Context, groupID string, repositoryID int64) error {
	const query = `UPDATE groups SET repository_id = $2, updated_at = NOW() WHERE id = $1`
	cmdTag, err := r.pool.Exec(ctx, query, groupID, repositoryID)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// AddGroupProjectsCount adjusts the group's project counter.
func (r *Repository) AddGroupProjectsCount(ctx context.Context, groupID string, delta int) error {
	const query = `UPDATE groups SET projects_count = projects_count + $2, updated_at = NOW() WHERE id = $1`
	cmdTag, err := r.pool.Exec(ctx, query, groupID, delta)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}
