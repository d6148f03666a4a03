package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/kisscloud/nest/internal/domain"
	"github.com/kisscloud/nest/internal/repository"
)

// CreateTeam inserts a team row.
func (r *Repository) CreateTeam(ctx context.Context, team *domain.Team) error {
	const query = `INSERT INTO teams (id, name, slug, repository_id, groups_count, projects_count, members_count, operator_id, operator_name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)`
	_, err := r.pool.Exec(ctx, query,
		team.ID,
		team.Name,
		team.Slug,
		int64PtrToNil(team.RepositoryID),
		team.GroupsCount,
		team.ProjectsCount,
		team.MembersCount,
		team.OperatorID,
		team.OperatorName,
		team.CreatedAt,
	)
	return mapWriteError(err)
}

// GetTeamByID returns a team by identifier.
func (r *Repository) GetTeamByID(ctx context.Context, teamID string) (*domain.Team, error) {
	const query = `SELECT id, name, slug, repository_id, groups_count, projects_count, members_count, operator_id, operator_name, created_at, updated_at
		FROM teams WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, teamID)
	var (
		team   domain.Team
		repoID sql.NullInt64
	)
	if err := row.Scan(
		&team.ID,
		&team.Name,
		&team.Slug,
		&repoID,
		&team.GroupsCount,
		&team.ProjectsCount,
		&team.MembersCount,
		&team.OperatorID,
		&team.OperatorName,
		&team.CreatedAt,
		&team.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	if repoID.Valid {
		value := repoID.Int64
		team.RepositoryID = &value
	}
	return &team, nil
}

// SetTeamRepositoryID links the team to its remote top-level group.
func (r *Repository) SetTeamRepositoryID(ctx context.Context, teamID string, repositoryID int64) error {
	const query = `UPDATE teams SET repository_id = $2, updated_at = NOW() WHERE id = $1`
	cmdTag, err := r.pool.Exec(ctx, query, teamID, repositoryID)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeleteTeam removes a team row.
func (r *Repository) DeleteTeam(ctx context.Context, teamID string) error {
	const query = `DELETE FROM teams WHERE id = $1`
	cmdTag, err := r.pool.Exec(ctx, query, teamID)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// AddGroupsCount adjusts the team's group counter.
func (r *Repository) AddGroupsCount(ctx context.Context, teamID string, delta int) error {
	const query = `UPDATE teams SET groups_count = groups_count + $2, updated_at = NOW() WHERE id = $1`
	cmdTag, err := r.pool.Exec(ctx, query, teamID, delta)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// AddProjectsCount adjusts the team's project counter.
func (r *Repository) AddProjectsCount(ctx context.Context, teamID string, delta int) error {
	const query = `UPDATE teams SET projects_count = projects_count + $2, updated_at = NOW() WHERE id = $1`
	cmdTag, err := r.pool.Exec(ctx, query, teamID, delta)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// UpsertMember adds or refreshes a membership with its remote credentials.
func (r *Repository) UpsertMember(ctx context.Context, member *domain.Member) error {
	const query = `INSERT INTO members (id, team_id, account_id, name, role, access_token, api_token, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (team_id, account_id) DO UPDATE SET
			role = EXCLUDED.role,
			access_token = COALESCE(EXCLUDED.access_token, members.access_token),
			api_token = COALESCE(EXCLUDED.api_token, members.api_token)`
	_, err := r.pool.Exec(ctx, query,
		member.ID,
		member.TeamID,
		member.AccountID,
		member.Name,
		member.Role,
		bytesToNil(member.AccessToken),
		bytesToNil(member.APIToken),
		member.CreatedAt,
	)
	return mapWriteError(err)
}

// GetMemberByAccountID returns the membership for an account.
func (r *Repository) GetMemberByAccountID(ctx context.Context, accountID string) (*domain.Member, error) {
	const query = `SELECT id, team_id, account_id, name, role, access_token, api_token, created_at
		FROM members WHERE account_id = $1`
	row := r.pool.QueryRow(ctx, query, accountID)
	var member domain.Member
	if err := row.Scan(
		&member.ID,
		&member.TeamID,
		&member.AccountID,
		&member.Name,
		&member.Role,
		&member.AccessToken,
		&member.APIToken,
		&member.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &member, nil
}
