// Package team provisions teams. Creating a team is a two-system flow: the
// local row first, then the team's top-level group on the source-control
// host, then the remote id persisted back onto the row.
package team

import (
	"context"
	"errors"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/kisscloud/nest/internal/domain"
	"github.com/kisscloud/nest/internal/gateway"
	"github.com/kisscloud/nest/internal/identity"
	"github.com/kisscloud/nest/internal/metrics"
	"github.com/kisscloud/nest/internal/repository"
	"github.com/kisscloud/nest/internal/service/audit"
	"github.com/kisscloud/nest/internal/service/member"
	"github.com/kisscloud/nest/internal/status"
)

// CreateInput carries team creation attributes.
type CreateInput struct {
	Name string
	Slug string
}

// Service orchestrates team provisioning.
type Service struct {
	teams   repository.TeamRepository
	members member.Service
	repos   gateway.RepositoryGateway
	audit   audit.Recorder
	logger  *slog.Logger
}

// New returns a team service.
func New(teams repository.TeamRepository, members member.Service, repos gateway.RepositoryGateway, recorder audit.Recorder, logger *slog.Logger) Service {
	return Service{teams: teams, members: members, repos: repos, audit: recorder, logger: logger}
}

// Create inserts the team locally, creates its top-level group remotely and
// persists the remote id. A rejected remote call rolls the local row back; a
// transport failure leaves it in place because the remote outcome is
// unknown.
func (s Service) Create(ctx context.Context, actor identity.Actor, input CreateInput) (*domain.Team, error) {
	if strings.TrimSpace(input.Name) == "" {
		return nil, status.E(status.ValidationFailed, status.CodeNameRequired, "team name is required")
	}
	slug := strings.ToLower(strings.TrimSpace(input.Slug))
	if slug == "" {
		return nil, status.E(status.ValidationFailed, status.CodeGroupSlugRequired, "team slug is required")
	}

	creds, err := s.members.Resolve(ctx, actor)
	if err != nil {
		return nil, err
	}

	team := &domain.Team{
		ID:           uuid.NewString(),
		Name:         input.Name,
		Slug:         slug,
		MembersCount: 1,
		OperatorID:   actor.ID,
		OperatorName: actor.Name,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.teams.CreateTeam(ctx, team); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, status.E(status.ValidationFailed, status.CodeSlugTaken, "team slug already in use")
		}
		return nil, status.Wrap(status.LocalWriteFailed, status.CodeCreateTeamFailed, "persist team", err)
	}

	remote, err := s.repos.CreateRootGroup(ctx, slug, creds.AccessToken)
	if err != nil {
		if errors.Is(err, gateway.ErrRejected) {
			s.compensateTeam(ctx, team.ID)
			metrics.Provision("team", metrics.OutcomeCompensated)
			return nil, status.Wrap(status.RemoteCallFailed, status.CodeCreateTeamRepoFailed, "create remote root group", err)
		}
		metrics.Provision("team", metrics.OutcomeUnknown)
		return nil, status.Wrap(status.RemoteCallFailed, status.CodeCreateTeamRepoFailed, "remote root group outcome unknown", err)
	}

	if err := s.teams.SetTeamRepositoryID(ctx, team.ID, remote.ID); err != nil {
		s.logger.Error("remote root group orphaned", "team_id", team.ID, "repository_id", remote.ID, "error", err)
		metrics.Provision("team", metrics.OutcomeOrphaned)
		return nil, status.Wrap(status.OrphanedRemoteResource, status.CodeOrphanedRemoteGroup, "link remote root group", err)
	}
	team.RepositoryID = &remote.ID
	metrics.Provision("team", metrics.OutcomeProvisioned)

	s.audit.Operation(ctx, actor, domain.OpCreateTeam, "", nil, team)
	s.logger.Info("team created", "team_id", team.ID, "slug", team.Slug, "repository_id", remote.ID)
	return team, nil
}

// Get loads a team.
func (s Service) Get(ctx context.Context, teamID string) (*domain.Team, error) {
	team, err := s.teams.GetTeamByID(ctx, teamID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, status.E(status.NotFound, status.CodeTeamNotFound, "team not found")
		}
		return nil, err
	}
	return team, nil
}

// compensateTeam removes the local row after a rejected remote call.
// Failure here is logged, not surfaced; the caller already gets the remote
// rejection.
func (s Service) compensateTeam(ctx context.Context, teamID string) {
	if err := s.teams.DeleteTeam(ctx, teamID); err != nil {
		s.logger.Error("team rollback failed", "team_id", teamID, "error", err)
	}
}
