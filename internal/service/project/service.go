// Package project orchestrates the project lifecycle. Projects carry the
// heaviest cross-system state in the hierarchy: the local row, a 1:1 remote
// repository link, build-host jobs, and their execution logs. Repository
// provisioning is local-state-last; teardown cascades dependents before the
// project row itself.
package project

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
	"github.com/kisscloud/nest/internal/lock"
	"github.com/kisscloud/nest/internal/metrics"
	"github.com/kisscloud/nest/internal/repository"
	"github.com/kisscloud/nest/internal/service/audit"
	"github.com/kisscloud/nest/internal/service/member"
	"github.com/kisscloud/nest/internal/status"
)

// CreateInput carries project creation attributes.
type CreateInput struct {
	GroupID string
	Name    string
	Slug    string
	Type    int
}

// UpdateInput carries project mutation attributes.
type UpdateInput struct {
	ProjectID string
	Name      string
	Type      int
	Status    int
}

// TagInput carries tag creation attributes.
type TagInput struct {
	ProjectID          string
	Name               string
	Ref                string
	Message            string
	ReleaseDescription string
}

// View is a project enriched with display text for its enum codes.
type View struct {
	domain.Project
	StatusText string
	TypeText   string
}

// Service orchestrates project provisioning and teardown.
type Service struct {
	projects  repository.ProjectRepository
	groups    repository.GroupRepository
	teams     repository.TeamRepository
	links     repository.ProjectRepoRepository
	jobs      repository.JobRepository
	buildLogs repository.BuildLogRepository
	members   member.Service
	repos     gateway.RepositoryGateway
	builds    gateway.BuildGateway
	locker    lock.Locker
	audit     audit.Recorder
	catalog   *codetext.Catalog
	logger    *slog.Logger
	lockTTL   time.Duration
}

// Deps bundles the service's collaborators.
type Deps struct {
	Projects  repository.ProjectRepository
	Groups    repository.GroupRepository
	Teams     repository.TeamRepository
	Links     repository.ProjectRepoRepository
	Jobs      repository.JobRepository
	BuildLogs repository.BuildLogRepository
	Members   member.Service
	Repos     gateway.RepositoryGateway
	Builds    gateway.BuildGateway
	Locker    lock.Locker
	Audit     audit.Recorder
	Catalog   *codetext.Catalog
	Logger    *slog.Logger
	LockTTL   time.Duration
}

// New returns a project service.
func New(deps Deps) Service {
	if deps.LockTTL <= 0 {
		deps.LockTTL = 30 * time.Second
	}
	return Service{
		projects:  deps.Projects,
		groups:    deps.Groups,
		teams:     deps.Teams,
		links:     deps.Links,
		jobs:      deps.Jobs,
		buildLogs: deps.BuildLogs,
		members:   deps.Members,
		repos:     deps.Repos,
		builds:    deps.Builds,
		locker:    deps.Locker,
		audit:     deps.Audit,
		catalog:   deps.Catalog,
		logger:    deps.Logger,
		lockTTL:   deps.LockTTL,
	}
}

// Create registers a project under a group. Purely local; the remote
// repository arrives later through ProvisionRepository.
func (s Service) Create(ctx context.Context, actor identity.Actor, input CreateInput) (*domain.Project, error) {
	if strings.TrimSpace(input.Name) == "" {
		return nil, status.E(status.ValidationFailed, status.CodeNameRequired, "project name is required")
	}
	slug := strings.ToLower(strings.TrimSpace(input.Slug))
	if slug == "" {
		return nil, status.E(status.ValidationFailed, status.CodeProjectSlugEmpty, "project slug is required")
	}

	group, err := s.groups.GetGroupByID(ctx, input.GroupID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, status.E(status.NotFound, status.CodeGroupNotFound, "group not found")
		}
		return nil, err
	}

	project := &domain.Project{
		ID:           uuid.NewString(),
		TeamID:       group.TeamID,
		GroupID:      group.ID,
		Name:         input.Name,
		Slug:         slug,
		Type:         input.Type,
		Status:       domain.ProjectStatusActive,
		OperatorID:   actor.ID,
		OperatorName: actor.Name,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.projects.CreateProject(ctx, project); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, status.E(status.ValidationFailed, status.CodeSlugTaken, "project slug already in use")
		}
		return nil, status.Wrap(status.LocalWriteFailed, status.CodeCreateProjectFailed, "persist project", err)
	}

	if err := s.teams.AddProjectsCount(ctx, group.TeamID, 1); err != nil {
		s.logger.Warn("projects counter bump failed", "team_id", group.TeamID, "error", err)
	}
	if err := s.groups.AddGroupProjectsCount(ctx, group.ID, 1); err != nil {
		s.logger.Warn("group projects counter bump failed", "group_id", group.ID, "error", err)
	}

	s.audit.Operation(ctx, actor, domain.OpCreateProject, "", nil, project)
	s.audit.Activity(ctx, actor, domain.OpCreateProject, group.ID, project.ID, map[string]string{"name": project.Name, "slug": project.Slug})
	s.logger.Info("project created", "project_id", project.ID, "group_id", group.ID)
	return project, nil
}

// ProvisionRepository creates the project's remote repository and links it
// locally. The local link is written only after the remote call succeeded,
// so a repository id in the store always refers to a repository that
// exists. The per-project lock plus the unique index on the link table keep
// concurrent calls from provisioning twice.
func (s Service) ProvisionRepository(ctx context.Context, actor identity.Actor, projectID string) (*domain.ProjectRepository, error) {
	project, err := s.projects.GetProjectByID(ctx, projectID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, status.E(status.NotFound, status.CodeProjectNotFound, "project not found")
		}
		return nil, err
	}
	if _, err := s.links.GetProjectRepositoryByProjectID(ctx, projectID); err == nil {
		return nil, status.E(status.PreconditionBlocked, status.CodeProjectRepoExists, "project already has a repository")
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	if strings.TrimSpace(project.Slug) == "" {
		return nil, status.E(status.ValidationFailed, status.CodeProjectSlugEmpty, "project slug is empty")
	}
	group, err := s.groups.GetGroupByID(ctx, project.GroupID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, status.E(status.NotFound, status.CodeProjectGroupNotFound, "project group not found")
		}
		return nil, err
	}
	if group.RepositoryID == nil {
		return nil, status.E(status.PreconditionBlocked, status.CodeGroupRepoIDMissing, "group has no remote sub-group")
	}

	creds, err := s.members.Resolve(ctx, actor)
	if err != nil {
		return nil, err
	}

	release, err := s.locker.Acquire(ctx, "repo:"+projectID, s.lockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrHeld) {
			return nil, status.E(status.PreconditionBlocked, status.CodeProvisionInProgress, "repository provisioning already in progress")
		}
		return nil, err
	}
	defer release()

	// A contender that waited out the lock may find the link already made;
	// re-checking here keeps the remote create inside the critical section.
	if _, err := s.links.GetProjectRepositoryByProjectID(ctx, projectID); err == nil {
		return nil, status.E(status.PreconditionBlocked, status.CodeProjectRepoExists, "project already has a repository")
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	remote, err := s.repos.CreateProject(ctx, project.Slug, creds.AccessToken, *group.RepositoryID)
	if err != nil {
		if errors.Is(err, gateway.ErrRejected) {
			metrics.Provision("repository", metrics.OutcomeRejected)
			return nil, status.Wrap(status.RemoteCallFailed, status.CodeCreateProjectRepoFailed, "create remote repository", err)
		}
		metrics.Provision("repository", metrics.OutcomeUnknown)
		return nil, status.Wrap(status.RemoteCallFailed, status.CodeCreateProjectRepoFailed, "remote repository outcome unknown", err)
	}

	link := &domain.ProjectRepository{
		ID:           uuid.NewString(),
		ProjectID:    project.ID,
		TeamID:       project.TeamID,
		Name:         remote.Name,
		RepositoryID: remote.ID,
		HTTPURL:      remote.HTTPURL,
		SSHURL:       remote.SSHURL,
		BranchCount:  1,
		OperatorID:   actor.ID,
		OperatorName: actor.Name,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.links.CreateProjectRepository(ctx, link); err != nil {
		// The remote repository exists but the local link does not. This is
		// never retried automatically; operators resolve it by hand.
		s.logger.Error("remote repository orphaned",
			"project_id", project.ID, "repository_id", remote.ID, "error", err)
		metrics.Provision("repository", metrics.OutcomeOrphaned)
		return nil, status.Wrap(status.OrphanedRemoteResource, status.CodeOrphanedRemoteRepo, "link remote repository", err)
	}
	metrics.Provision("repository", metrics.OutcomeProvisioned)

	s.audit.Operation(ctx, actor, domain.OpCreateRepo, "", nil, link)
	s.logger.Info("repository provisioned", "project_id", project.ID, "repository_id", remote.ID)
	return link, nil
}

// Delete cascades project teardown: build logs, then jobs, then the
// repository link, and the project row last. Remote deletions are best
// effort and every one is attempted regardless of earlier outcomes; a
// failed LOCAL job delete aborts, leaving the remainder for a retry.
func (s Service) Delete(ctx context.Context, actor identity.Actor, projectID string) error {
	project, err := s.projects.GetProjectByID(ctx, projectID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return status.E(status.NotFound, status.CodeProjectNotFound, "project not found")
		}
		return err
	}

	creds, err := s.members.Resolve(ctx, actor)
	if err != nil {
		return err
	}

	if err := s.buildLogs.DeleteBuildLogsByProject(ctx, projectID); err != nil {
		return status.Wrap(status.LocalWriteFailed, status.CodeDeleteProjectFailed, "delete build logs", err)
	}

	jobs, err := s.jobs.ListJobsByProject(ctx, projectID)
	if err != nil {
		return err
	}
	for _, job := range jobs {
		if err := s.jobs.DeleteJob(ctx, job.ID); err != nil && !errors.Is(err, repository.ErrNotFound) {
			return status.Wrap(status.LocalWriteFailed, status.CodeDeleteJobFailed, "delete job "+job.JobName, err)
		}
		if err := s.builds.DeleteJob(ctx, job.JobName, actor.Name, creds.APIToken); err != nil {
			s.logger.Warn("remote job delete failed", "job_name", job.JobName, "project_id", projectID, "error", err)
		}
	}

	link, err := s.links.GetProjectRepositoryByProjectID(ctx, projectID)
	switch {
	case err == nil:
		if err := s.links.DeleteProjectRepository(ctx, link.ID); err != nil && !errors.Is(err, repository.ErrNotFound) {
			return status.Wrap(status.LocalWriteFailed, status.CodeDeleteProjectFailed, "delete repository link", err)
		}
		if err := s.repos.DeleteProject(ctx, link.RepositoryID, creds.AccessToken); err != nil {
			s.logger.Warn("remote repository delete failed", "repository_id", link.RepositoryID, "project_id", projectID, "error", err)
		}
	case errors.Is(err, repository.ErrNotFound):
		// Project was never provisioned; nothing remote to clean.
	default:
		return err
	}

	if err := s.projects.DeleteProject(ctx, projectID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return status.E(status.NotFound, status.CodeProjectNotFound, "project not found")
		}
		return status.Wrap(status.LocalWriteFailed, status.CodeDeleteProjectFailed, "delete project", err)
	}
	if err := s.teams.AddProjectsCount(ctx, project.TeamID, -1); err != nil {
		s.logger.Warn("projects counter bump failed", "team_id", project.TeamID, "error", err)
	}
	if err := s.groups.AddGroupProjectsCount(ctx, project.GroupID, -1); err != nil {
		s.logger.Warn("group projects counter bump failed", "group_id", project.GroupID, "error", err)
	}

	s.audit.Operation(ctx, actor, domain.OpDeleteProject, "", project, nil)
	s.logger.Info("project deleted", "project_id", projectID, "team_id", project.TeamID)
	return nil
}

// Update mutates project metadata.
func (s Service) Update(ctx context.Context, actor identity.Actor, input UpdateInput) (*domain.Project, error) {
	project, err := s.projects.GetProjectByID(ctx, input.ProjectID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, status.E(status.NotFound, status.CodeProjectNotFound, "project not found")
		}
		return nil, err
	}

	before := *project
	if name := strings.TrimSpace(input.Name); name != "" {
		project.Name = name
	}
	if input.Type > 0 {
		project.Type = input.Type
	}
	if input.Status == domain.ProjectStatusActive || input.Status == domain.ProjectStatusArchived {
		project.Status = input.Status
	}
	project.OperatorID = actor.ID
	project.OperatorName = actor.Name

	if err := s.projects.UpdateProject(ctx, project); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, status.E(status.NotFound, status.CodeProjectNotFound, "project not found")
		}
		return nil, status.Wrap(status.LocalWriteFailed, status.CodeUpdateProjectFailed, "update project", err)
	}

	s.audit.Operation(ctx, actor, domain.OpUpdateProject, "", before, project)
	return project, nil
}

// Get loads a project with display text.
func (s Service) Get(ctx context.Context, projectID string) (*View, error) {
	project, err := s.projects.GetProjectByID(ctx, projectID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, status.E(status.NotFound, status.CodeProjectNotFound, "project not found")
		}
		return nil, err
	}
	return s.view(*project), nil
}

// List returns a team's projects, optionally narrowed to one group.
func (s Service) List(ctx context.Context, teamID, groupID string) ([]View, error) {
	projects, err := s.projects.ListProjects(ctx, teamID, groupID)
	if err != nil {
		return nil, err
	}
	views := make([]View, 0, len(projects))
	for _, project := range projects {
		views = append(views, *s.view(project))
	}
	return views, nil
}

// Repository returns the project's repository link.
func (s Service) Repository(ctx context.Context, projectID string) (*domain.ProjectRepository, error) {
	link, err := s.links.GetProjectRepositoryByProjectID(ctx, projectID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, status.E(status.NotFound, status.CodeProjectNotFound, "project has no repository")
		}
		return nil, err
	}
	return link, nil
}

// Branches lists the project repository's branches.
func (s Service) Branches(ctx context.Context, actor identity.Actor, projectID string) ([]gateway.Branch, error) {
	link, creds, err := s.resolveRepo(ctx, actor, projectID)
	if err != nil {
		return nil, err
	}
	branches, err := s.repos.ListBranches(ctx, link.RepositoryID, creds.AccessToken)
	if err != nil {
		return nil, status.Wrap(status.RemoteCallFailed, status.CodeProjectNotFound, "list branches", err)
	}
	return branches, nil
}

// Tags lists the project repository's tags.
func (s Service) Tags(ctx context.Context, actor identity.Actor, projectID string) ([]gateway.Tag, error) {
	link, creds, err := s.resolveRepo(ctx, actor, projectID)
	if err != nil {
		return nil, err
	}
	tags, err := s.repos.ListTags(ctx, link.RepositoryID, creds.AccessToken)
	if err != nil {
		return nil, status.Wrap(status.RemoteCallFailed, status.CodeProjectNotFound, "list tags", err)
	}
	return tags, nil
}

// AddTag creates a tag on the project repository.
func (s Service) AddTag(ctx context.Context, actor identity.Actor, input TagInput) (*gateway.Tag, error) {
	if strings.TrimSpace(input.Name) == "" {
		return nil, status.E(status.ValidationFailed, status.CodeNameRequired, "tag name is required")
	}
	if strings.TrimSpace(input.Ref) == "" {
		return nil, status.E(status.ValidationFailed, status.CodeBranchRequired, "tag ref is required")
	}
	link, creds, err := s.resolveRepo(ctx, actor, input.ProjectID)
	if err != nil {
		return nil, err
	}
	tag, err := s.repos.CreateTag(ctx, link.RepositoryID, gateway.TagInput{
		Name:               input.Name,
		Ref:                input.Ref,
		Message:            input.Message,
		ReleaseDescription: input.ReleaseDescription,
	}, creds.AccessToken)
	if err != nil {
		return nil, status.Wrap(status.RemoteCallFailed, status.CodeCreateTagFailed, "create tag", err)
	}
	s.audit.Operation(ctx, actor, domain.OpCreateTag, "", nil, tag)
	return tag, nil
}

func (s Service) resolveRepo(ctx context.Context, actor identity.Actor, projectID string) (*domain.ProjectRepository, member.Credentials, error) {
	link, err := s.links.GetProjectRepositoryByProjectID(ctx, projectID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, member.Credentials{}, status.E(status.NotFound, status.CodeProjectNotFound, "project has no repository")
		}
		return nil, member.Credentials{}, err
	}
	creds, err := s.members.Resolve(ctx, actor)
	if err != nil {
		return nil, member.Credentials{}, err
	}
	return link, creds, nil
}

func (s Service) view(project domain.Project) *View {
	return &View{
		Project:    project,
		StatusText: s.catalog.Text(codetext.CategoryProjectStatus, project.Status),
		TypeText:   s.catalog.Text(codetext.CategoryProjectType, project.Type),
	}
}
