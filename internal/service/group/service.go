// Package group provisions groups. A group is a local row plus a sub-group
// on the source-control host under the team's top-level group; creation
// writes locally first and compensates when the remote host rejects the
// sub-group.
package group

import (
	"context"
	"errors"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/kisscloud/nest/internal/codetext"
	"github.com/kisscloud/nest/internal/domain"
	"github.com/kisscloud/nest/internal/gateway"
	"github.com/kisscloud/nest/internal/identity"
	"github.com/kisscloud/nest/internal/metrics"
	"github.com/kisscloud/nest/internal/repository"
	"github.com/kisscloud/nest/internal/service/audit"
	"github.com/kisscloud/nest/internal/service/member"
	"github.com/kisscloud/nest/internal/status"
)

// CreateInput carries group creation attributes.
type CreateInput struct {
	Name string
	Slug string
}

// UpdateInput carries group mutation attributes.
type UpdateInput struct {
	GroupID string
	Name    string
	Status  int
}

// View is a group enriched with display text for its status code.
type View struct {
	domain.Group
	StatusText string
}

// Service orchestrates group provisioning and teardown.
type Service struct {
	groups   repository.GroupRepository
	teams    repository.TeamRepository
	projects repository.ProjectRepository
	members  member.Service
	repos    gateway.RepositoryGateway
	audit    audit.Recorder
	catalog  *codetext.Catalog
	logger   *slog.Logger
}

// New returns a group service.
func New(
	groups repository.GroupRepository,
	teams repository.TeamRepository,
	projects repository.ProjectRepository,
	members member.Service,
	repos gateway.RepositoryGateway,
	recorder audit.Recorder,
	catalog *codetext.Catalog,
	logger *slog.Logger,
) Service {
	return Service{
		groups:   groups,
		teams:    teams,
		projects: projects,
		members:  members,
		repos:    repos,
		audit:    recorder,
		catalog:  catalog,
		logger:   logger,
	}
}

// Create provisions a group. Order matters: the local row is committed
// before the remote call so a remote rejection has something concrete to
// roll back, and the remote id is linked last so a row carrying a
// repository id always points at a sub-group that exists.
func (s Service) Create(ctx context.Context, actor identity.Actor, input CreateInput) (*domain.Group, error) {
	if strings.TrimSpace(input.Name) == "" {
		return nil, status.E(status.ValidationFailed, status.CodeNameRequired, "group name is required")
	}
	slug := strings.ToLower(strings.TrimSpace(input.Slug))
	if slug == "" {
		return nil, status.E(status.ValidationFailed, status.CodeGroupSlugRequired, "group slug is required")
	}

	creds, err := s.members.Resolve(ctx, actor)
	if err != nil {
		return nil, err
	}

	group := &domain.Group{
		ID:           uuid.NewString(),
		TeamID:       actor.TeamID,
		Name:         input.Name,
		Slug:         slug,
		Status:       domain.GroupStatusActive,
		OperatorID:   actor.ID,
		OperatorName: actor.Name,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.groups.CreateGroup(ctx, group); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, status.E(status.ValidationFailed, status.CodeSlugTaken, "group slug already in use")
		}
		return nil, status.Wrap(status.LocalWriteFailed, status.CodeCreateGroupFailed, "persist group", err)
	}

	// Counter maintenance is best effort; a failed bump never aborts the flow.
	if err := s.teams.AddGroupsCount(ctx, actor.TeamID, 1); err != nil {
		s.logger.Warn("groups counter bump failed", "team_id", actor.TeamID, "error", err)
	}

	team, err := s.teams.GetTeamByID(ctx, actor.TeamID)
	if err != nil {
		s.compensate(ctx, group, actor.TeamID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, status.E(status.NotFound, status.CodeTeamNotFound, "team not found")
		}
		return nil, err
	}
	if team.RepositoryID == nil {
		s.compensate(ctx, group, actor.TeamID)
		return nil, status.E(status.PreconditionBlocked, status.CodeGroupParentIDMissing, "team has no remote parent group")
	}

	remote, err := s.repos.CreateSubGroup(ctx, slug, creds.AccessToken, *team.RepositoryID)
	if err != nil {
		if errors.Is(err, gateway.ErrRejected) {
			s.compensate(ctx, group, actor.TeamID)
			metrics.Provision("group", metrics.OutcomeCompensated)
			return nil, status.Wrap(status.RemoteCallFailed, status.CodeCreateGroupRepoFailed, "create remote sub-group", err)
		}
		// Remote outcome unknown; keep local state so the failure is
		// diagnosable instead of silently discarding the row.
		metrics.Provision("group", metrics.OutcomeUnknown)
		return nil, status.Wrap(status.RemoteCallFailed, status.CodeCreateGroupRepoFailed, "remote sub-group outcome unknown", err)
	}

	if err := s.groups.SetGroupRepositoryID(ctx, group.ID, remote.ID); err != nil {
		s.logger.Error("remote sub-group orphaned", "group_id", group.ID, "repository_id", remote.ID, "error", err)
		metrics.Provision("group", metrics.OutcomeOrphaned)
		return nil, status.Wrap(status.OrphanedRemoteResource, status.CodeOrphanedRemoteGroup, "link remote sub-group", err)
	}
	group.RepositoryID = &remote.ID
	metrics.Provision("group", metrics.OutcomeProvisioned)

	s.audit.Operation(ctx, actor, domain.OpCreateGroup, "", nil, group)
	s.audit.Activity(ctx, actor, domain.OpCreateGroup, group.ID, "", map[string]string{"name": group.Name, "slug": group.Slug})
	s.logger.Info("group created", "group_id", group.ID, "team_id", actor.TeamID, "repository_id", remote.ID)
	return group, nil
}

// Delete tears a group down. Groups still parenting projects are refused;
// the remote sub-group is left in place so its history survives.
func (s Service) Delete(ctx context.Context, actor identity.Actor, groupID string) error {
	group, err := s.groups.GetGroupByID(ctx, groupID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return status.E(status.NotFound, status.CodeGroupNotFound, "group not found")
		}
		return err
	}

	count, err := s.projects.CountProjectsByGroup(ctx, groupID)
	if err != nil {
		return err
	}
	if count > 0 {
		return status.E(status.PreconditionBlocked, status.CodeGroupHasProjects, "group still has projects")
	}

	if err := s.groups.DeleteGroup(ctx, groupID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return status.E(status.NotFound, status.CodeGroupNotFound, "group not found")
		}
		return status.Wrap(status.LocalWriteFailed, status.CodeDeleteGroupFailed, "delete group", err)
	}
	if err := s.teams.AddGroupsCount(ctx, group.TeamID, -1); err != nil {
		s.logger.Warn("groups counter bump failed", "team_id", group.TeamID, "error", err)
	}

	s.audit.Operation(ctx, actor, domain.OpDeleteGroup, "", group, nil)
	s.logger.Info("group deleted", "group_id", groupID, "team_id", group.TeamID)
	return nil
}

// Update mutates group metadata, recording the changed fields.
func (s Service) Update(ctx context.Context, actor identity.Actor, input UpdateInput) (*domain.Group, error) {
	group, err := s.groups.GetGroupByID(ctx, input.GroupID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, status.E(status.NotFound, status.CodeGroupNotFound, "group not found")
		}
		return nil, err
	}

	before := *group
	if name := strings.TrimSpace(input.Name); name != "" {
		group.Name = name
	}
	if input.Status == domain.GroupStatusActive || input.Status == domain.GroupStatusArchived {
		group.Status = input.Status
	}
	group.OperatorID = actor.ID
	group.OperatorName = actor.Name

	if err := s.groups.UpdateGroup(ctx, group); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, status.E(status.NotFound, status.CodeGroupNotFound, "group not found")
		}
		return nil, status.Wrap(status.LocalWriteFailed, status.CodeUpdateGroupFailed, "update group", err)
	}

	s.audit.Operation(ctx, actor, domain.OpUpdateGroup, "", before, group)
	return group, nil
}

// Get loads a group with display text.
func (s Service) Get(ctx context.Context, groupID string) (*View, error) {
	group, err := s.groups.GetGroupByID(ctx, groupID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, status.E(status.NotFound, status.CodeGroupNotFound, "group not found")
		}
		return nil, err
	}
	return s.view(*group), nil
}

// List returns the team's groups with display text.
func (s Service) List(ctx context.Context, teamID string) ([]View, error) {
	groups, err := s.groups.ListGroupsByTeam(ctx, teamID)
	if err != nil {
		return nil, err
	}
	views := make([]View, 0, len(groups))
	for _, group := range groups {
		views = append(views, *s.view(group))
	}
	return views, nil
}

func (s Service) view(group domain.Group) *View {
	return &View{
		Group:      group,
		StatusText: s.catalog.Text(codetext.CategoryGroupStatus, group.Status),
	}
}

// compensate undoes the local insert and counter bump after the remote call
// rejected the sub-group. Failures are logged; the caller already carries
// the primary error.
func (s Service) compensate(ctx context.Context, group *domain.Group, teamID string) {
	if err := s.groups.DeleteGroup(ctx, group.ID); err != nil {
		s.logger.Error("group rollback failed", "group_id", group.ID, "error", err)
		return
	}
	if err := s.teams.AddGroupsCount(ctx, teamID, -1); err != nil {
		s.logger.Warn("groups counter bump failed", "team_id", teamID, "error", err)
	}
}
