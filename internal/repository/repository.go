package repository

import (
	"context"

	"github.com/kisscloud/nest/internal/domain"
)

// TeamRepository manages team rows and their counters.
type TeamRepository interface {
	CreateTeam(ctx context.Context, team *domain.Team) error
	GetTeamByID(ctx context.Context, teamID string) (*domain.Team, error)
	SetTeamRepositoryID(ctx context.Context, teamID string, repositoryID int64) error
	DeleteTeam(ctx context.Context, teamID string) error
	AddGroupsCount(ctx context.Context, teamID string, delta int) error
	AddProjectsCount(ctx context.Context, teamID string, delta int) error
}

// MemberRepository manages team memberships and remote credentials.
type MemberRepository interface {
	UpsertMember(ctx context.Context, member *domain.Member) error
	GetMemberByAccountID(ctx context.Context, accountID string) (*domain.Member, error)
}

// GroupRepository persists groups.
type GroupRepository interface {
	CreateGroup(ctx context.Context, group *domain.Group) error
	GetGroupByID(ctx context.Context, groupID string) (*domain.Group, error)
	GetGroupBySlug(ctx context.Context, teamID, slug string) (*domain.Group, error)
	ListGroupsByTeam(ctx context.Context, teamID string) ([]domain.Group, error)
	UpdateGroup(ctx context.Context, group *domain.Group) error
	DeleteGroup(ctx context.Context, groupID string) error
	SetGroupRepositoryID(ctx context.Context, groupID string, repositoryID int64) error
	AddGroupProjectsCount(ctx context.Context, groupID string, delta int) error
}

// ProjectRepository persists projects.
type ProjectRepository interface {
	CreateProject(ctx context.Context, project *domain.Project) error
	GetProjectByID(ctx context.Context, projectID string) (*domain.Project, error)
	GetProjectBySlug(ctx context.Context, teamID, slug string) (*domain.Project, error)
	ListProjects(ctx context.Context, teamID, groupID string) ([]domain.Project, error)
	CountProjectsByGroup(ctx context.Context, groupID string) (int, error)
	UpdateProject(ctx context.Context, project *domain.Project) error
	DeleteProject(ctx context.Context, projectID string) error
}

// ProjectRepoRepository persists the 1:1 link between a project and its
// remote repository.
type ProjectRepoRepository interface {
	CreateProjectRepository(ctx context.Context, link *domain.ProjectRepository) error
	GetProjectRepositoryByProjectID(ctx context.Context, projectID string) (*domain.ProjectRepository, error)
	ListProjectRepositoriesByTeam(ctx context.Context, teamID string) ([]domain.ProjectRepository, error)
	DeleteProjectRepository(ctx context.Context, id string) error
}

// JobRepository persists build/deploy job definitions.
type JobRepository interface {
	CreateJob(ctx context.Context, job *domain.Job) error
	GetJobByID(ctx context.Context, jobID string) (*domain.Job, error)
	GetJobByProjectAndType(ctx context.Context, projectID string, jobType int) (*domain.Job, error)
	ListJobsByProject(ctx context.Context, projectID string) ([]domain.Job, error)
	DeleteJob(ctx context.Context, jobID string) error
	BumpJobNumber(ctx context.Context, jobID string) (int, error)
	UpdateJobStatus(ctx context.Context, jobID string, jobStatus int) error
}

// BuildLogRepository persists build execution records.
type BuildLogRepository interface {
	CreateBuildLog(ctx context.Context, log *domain.BuildLog) error
	UpdateBuildLogStatus(ctx context.Context, id string, execStatus int, output string) error
	GetLastBuildLog(ctx context.Context, projectID, jobName string) (*domain.BuildLog, error)
	ListBuildLogsByTeam(ctx context.Context, teamID string, limit, offset int) ([]domain.BuildLog, error)
	DeleteBuildLogsByProject(ctx context.Context, projectID string) error
}

// DeployLogRepository persists deploy execution records.
type DeployLogRepository interface {
	CreateDeployLog(ctx context.Context, log *domain.DeployLog) error
	UpdateDeployLogStatus(ctx context.Context, id string, execStatus int, output string) error
	CreateDeployNodeLog(ctx context.Context, log *domain.DeployNodeLog) error
	ListDeployLogsByTeam(ctx context.Context, teamID string, limit, offset int) ([]domain.DeployLog, error)
}

// ServerRepository reads deploy targets provisioned elsewhere.
type ServerRepository interface {
	ListServersByIDs(ctx context.Context, ids []string) ([]domain.Server, error)
}

// AuditRepository persists the operation log and activity stream.
type AuditRepository interface {
	InsertOperationLog(ctx context.Context, entry *domain.OperationLog) error
	InsertActivity(ctx context.Context, entry *domain.ActivityEntry) error
}
