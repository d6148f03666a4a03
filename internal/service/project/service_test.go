package project

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"log/slog"

	"github.com/kisscloud/nest/internal/codetext"
	"github.com/kisscloud/nest/internal/crypto"
	"github.com/kisscloud/nest/internal/domain"
	"github.com/kisscloud/nest/internal/gateway"
	"github.com/kisscloud/nest/internal/identity"
	"github.com/kisscloud/nest/internal/lock"
	"github.com/kisscloud/nest/internal/repository"
	"github.com/kisscloud/nest/internal/service/audit"
	"github.com/kisscloud/nest/internal/service/member"
	"github.com/kisscloud/nest/internal/status"
)

const testCredentialKey = "test-credential-key"

type stubProjectRepository struct {
	projects  map[string]domain.Project
	deleteErr error
}

func newStubProjectRepository() *stubProjectRepository {
	return &stubProjectRepository{projects: make(map[string]domain.Project)}
}

func (s *stubProjectRepository) CreateProject(ctx context.Context, project *domain.Project) error {
	s.projects[project.ID] = *project
	return nil
}

func (s *stubProjectRepository) GetProjectByID(ctx context.Context, projectID string) (*domain.Project, error) {
	project, ok := s.projects[projectID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &project, nil
}

func (s *stubProjectRepository) GetProjectBySlug(ctx context.Context, teamID, slug string) (*domain.Project, error) {
	return nil, repository.ErrNotFound
}

func (s *stubProjectRepository) ListProjects(ctx context.Context, teamID, groupID string) ([]domain.Project, error) {
	var out []domain.Project
	for _, project := range s.projects {
		if project.TeamID == teamID {
			out = append(out, project)
		}
	}
	return out, nil
}

func (s *stubProjectRepository) CountProjectsByGroup(ctx context.Context, groupID string) (int, error) {
	return 0, nil
}

func (s *stubProjectRepository) UpdateProject(ctx context.Context, project *domain.Project) error {
	if _, ok := s.projects[project.ID]; !ok {
		return repository.ErrNotFound
	}
	s.projects[project.ID] = *project
	return nil
}

func (s *stubProjectRepository) DeleteProject(ctx context.Context, projectID string) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	if _, ok := s.projects[projectID]; !ok {
		return repository.ErrNotFound
	}
	delete(s.projects, projectID)
	return nil
}

type stubGroupRepository struct {
	groups map[string]domain.Group
}

func (s *stubGroupRepository) CreateGroup(ctx context.Context, group *domain.Group) error { return nil }
func (s *stubGroupRepository) GetGroupByID(ctx context.Context, groupID string) (*domain.Group, error) {
	group, ok := s.groups[groupID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &group, nil
}
func (s *stubGroupRepository) GetGroupBySlug(ctx context.Context, teamID, slug string) (*domain.Group, error) {
	return nil, repository.ErrNotFound
}
func (s *stubGroupRepository) ListGroupsByTeam(ctx context.Context, teamID string) ([]domain.Group, error) {
	return nil, nil
}
func (s *stubGroupRepository) UpdateGroup(ctx context.Context, group *domain.Group) error { return nil }
func (s *stubGroupRepository) DeleteGroup(ctx context.Context, groupID string) error      { return nil }
func (s *stubGroupRepository) SetGroupRepositoryID(ctx context.Context, groupID string, repositoryID int64) error {
	return nil
}
func (s *stubGroupRepository) AddGroupProjectsCount(ctx context.Context, groupID string, delta int) error {
	return nil
}

type stubTeamRepository struct {
	projectsDelta int
}

func (s *stubTeamRepository) CreateTeam(ctx context.Context, team *domain.Team) error { return nil }
func (s *stubTeamRepository) GetTeamByID(ctx context.Context, teamID string) (*domain.Team, error) {
	return &domain.Team{ID: teamID}, nil
}
func (s *stubTeamRepository) SetTeamRepositoryID(ctx context.Context, teamID string, repositoryID int64) error {
	return nil
}
func (s *stubTeamRepository) DeleteTeam(ctx context.Context, teamID string) error { return nil }
func (s *stubTeamRepository) AddGroupsCount(ctx context.Context, teamID string, delta int) error {
	return nil
}
func (s *stubTeamRepository) AddProjectsCount(ctx context.Context, teamID string, delta int) error {
	s.projectsDelta += delta
	return nil
}

type stubLinkRepository struct {
	links     map[string]domain.ProjectRepository
	createErr error
	missOnce  bool
}

func newStubLinkRepository() *stubLinkRepository {
	return &stubLinkRepository{links: make(map[string]domain.ProjectRepository)}
}

func (s *stubLinkRepository) CreateProjectRepository(ctx context.Context, link *domain.ProjectRepository) error {
	if s.createErr != nil {
		return s.createErr
	}
	for _, existing := range s.links {
		if existing.ProjectID == link.ProjectID {
			return repository.ErrConflict
		}
	}
	s.links[link.ID] = *link
	return nil
}

func (s *stubLinkRepository) GetProjectRepositoryByProjectID(ctx context.Context, projectID string) (*domain.ProjectRepository, error) {
	if s.missOnce {
		s.missOnce = false
		return nil, repository.ErrNotFound
	}
	for _, link := range s.links {
		if link.ProjectID == projectID {
			found := link
			return &found, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *stubLinkRepository) ListProjectRepositoriesByTeam(ctx context.Context, teamID string) ([]domain.ProjectRepository, error) {
	return nil, nil
}

func (s *stubLinkRepository) DeleteProjectRepository(ctx context.Context, id string) error {
	if _, ok := s.links[id]; !ok {
		return repository.ErrNotFound
	}
	delete(s.links, id)
	return nil
}

type stubJobRepository struct {
	jobs      map[string]domain.Job
	deleteErr error
}

func newStubJobRepository() *stubJobRepository {
	return &stubJobRepository{jobs: make(map[string]domain.Job)}
}

func (s *stubJobRepository) CreateJob(ctx context.Context, job *domain.Job) error { return nil }
func (s *stubJobRepository) GetJobByID(ctx context.Context, jobID string) (*domain.Job, error) {
	return nil, repository.ErrNotFound
}
func (s *stubJobRepository) GetJobByProjectAndType(ctx context.Context, projectID string, jobType int) (*domain.Job, error) {
	return nil, repository.ErrNotFound
}
func (s *stubJobRepository) ListJobsByProject(ctx context.Context, projectID string) ([]domain.Job, error) {
	var out []domain.Job
	for _, job := range s.jobs {
		if job.ProjectID == projectID {
			out = append(out, job)
		}
	}
	return out, nil
}
func (s *stubJobRepository) DeleteJob(ctx context.Context, jobID string) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	delete(s.jobs, jobID)
	return nil
}
func (s *stubJobRepository) BumpJobNumber(ctx context.Context, jobID string) (int, error) {
	return 0, repository.ErrNotFound
}
func (s *stubJobRepository) UpdateJobStatus(ctx context.Context, jobID string, jobStatus int) error {
	return nil
}

type stubBuildLogRepository struct {
	deletedProjects []string
}

func (s *stubBuildLogRepository) CreateBuildLog(ctx context.Context, log *domain.BuildLog) error {
	return nil
}
func (s *stubBuildLogRepository) UpdateBuildLogStatus(ctx context.Context, id string, execStatus int, output string) error {
	return nil
}
func (s *stubBuildLogRepository) GetLastBuildLog(ctx context.Context, projectID, jobName string) (*domain.BuildLog, error) {
	return nil, repository.ErrNotFound
}
func (s *stubBuildLogRepository) ListBuildLogsByTeam(ctx context.Context, teamID string, limit, offset int) ([]domain.BuildLog, error) {
	return nil, nil
}
func (s *stubBuildLogRepository) DeleteBuildLogsByProject(ctx context.Context, projectID string) error {
	s.deletedProjects = append(s.deletedProjects, projectID)
	return nil
}

type stubMemberRepository struct {
	member domain.Member
}

func (s *stubMemberRepository) UpsertMember(ctx context.Context, m *domain.Member) error { return nil }
func (s *stubMemberRepository) GetMemberByAccountID(ctx context.Context, accountID string) (*domain.Member, error) {
	if accountID != s.member.AccountID {
		return nil, repository.ErrNotFound
	}
	m := s.member
	return &m, nil
}

type stubRepoGateway struct {
	createCalls    int
	createErr      error
	deletedRemotes []int64
	deleteErr      error
}

func (s *stubRepoGateway) CreateRootGroup(ctx context.Context, slug, accessToken string) (*gateway.RemoteGroup, error) {
	return nil, gateway.ErrRejected
}
func (s *stubRepoGateway) CreateSubGroup(ctx context.Context, slug, accessToken string, parentID int64) (*gateway.RemoteGroup, error) {
	return nil, gateway.ErrRejected
}
func (s *stubRepoGateway) CreateProject(ctx context.Context, slug, accessToken string, groupID int64) (*gateway.RemoteProject, error) {
	s.createCalls++
	if s.createErr != nil {
		return nil, s.createErr
	}
	return &gateway.RemoteProject{
		ID:            900,
		Name:          slug,
		HTTPURL:       "http://git/" + slug + ".git",
		SSHURL:        "git@git:" + slug + ".git",
		DefaultBranch: "main",
	}, nil
}
func (s *stubRepoGateway) DeleteProject(ctx context.Context, repositoryID int64, accessToken string) error {
	s.deletedRemotes = append(s.deletedRemotes, repositoryID)
	return s.deleteErr
}
func (s *stubRepoGateway) ListBranches(ctx context.Context, repositoryID int64, accessToken string) ([]gateway.Branch, error) {
	return []gateway.Branch{{Name: "main"}}, nil
}
func (s *stubRepoGateway) ListTags(ctx context.Context, repositoryID int64, accessToken string) ([]gateway.Tag, error) {
	return nil, nil
}
func (s *stubRepoGateway) CreateTag(ctx context.Context, repositoryID int64, input gateway.TagInput, accessToken string) (*gateway.Tag, error) {
	return &gateway.Tag{Name: input.Name, Message: input.Message}, nil
}

type stubBuildGateway struct {
	deletedJobs []string
	deleteErr   error
}

func (s *stubBuildGateway) CreateJob(ctx context.Context, jobName, configXML, actorName, apiToken string) error {
	return nil
}
func (s *stubBuildGateway) DeleteJob(ctx context.Context, jobName, actorName, apiToken string) error {
	s.deletedJobs = append(s.deletedJobs, jobName)
	return s.deleteErr
}
func (s *stubBuildGateway) TriggerBuild(ctx context.Context, jobName string, params map[string]string, actorName, apiToken string) (int64, error) {
	return 0, gateway.ErrRejected
}

type noopAuditRepository struct{}

func (noopAuditRepository) InsertOperationLog(ctx context.Context, entry *domain.OperationLog) error {
	return nil
}
func (noopAuditRepository) InsertActivity(ctx context.Context, entry *domain.ActivityEntry) error {
	return nil
}

type fixture struct {
	projects  *stubProjectRepository
	groups    *stubGroupRepository
	teams     *stubTeamRepository
	links     *stubLinkRepository
	jobs      *stubJobRepository
	buildLogs *stubBuildLogRepository
	repos     *stubRepoGateway
	builds    *stubBuildGateway
	locker    lock.Locker
}

func newFixture() *fixture {
	remoteID := int64(10)
	return &fixture{
		projects: newStubProjectRepository(),
		groups: &stubGroupRepository{groups: map[string]domain.Group{
			"group-1": {ID: "group-1", TeamID: "team-1", Slug: "platform", RepositoryID: &remoteID},
		}},
		teams:     &stubTeamRepository{},
		links:     newStubLinkRepository(),
		jobs:      newStubJobRepository(),
		buildLogs: &stubBuildLogRepository{},
		repos:     &stubRepoGateway{},
		builds:    &stubBuildGateway{},
		locker:    lock.NewMemoryLocker(),
	}
}

func (f *fixture) service(t *testing.T) Service {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	accessToken, err := crypto.EncryptString(testCredentialKey, "git-token")
	if err != nil {
		t.Fatalf("encrypt access token: %v", err)
	}
	apiToken, err := crypto.EncryptString(testCredentialKey, "build-token")
	if err != nil {
		t.Fatalf("encrypt api token: %v", err)
	}
	members := member.New(&stubMemberRepository{member: domain.Member{
		AccountID:   "user-1",
		TeamID:      "team-1",
		AccessToken: accessToken,
		APIToken:    apiToken,
	}}, log, testCredentialKey)

	catalog, err := codetext.Default()
	if err != nil {
		t.Fatalf("build catalog: %v", err)
	}

	return New(Deps{
		Projects:  f.projects,
		Groups:    f.groups,
		Teams:     f.teams,
		Links:     f.links,
		Jobs:      f.jobs,
		BuildLogs: f.buildLogs,
		Members:   members,
		Repos:     f.repos,
		Builds:    f.builds,
		Locker:    f.locker,
		Audit:     audit.New(noopAuditRepository{}, log),
		Catalog:   catalog,
		Logger:    log,
		LockTTL:   time.Second,
	})
}

func testActor() identity.Actor {
	return identity.Actor{ID: "user-1", Name: "dev", TeamID: "team-1"}
}

func seedProject(f *fixture) domain.Project {
	project := domain.Project{
		ID:      "project-1",
		TeamID:  "team-1",
		GroupID: "group-1",
		Name:    "API",
		Slug:    "api",
		Status:  domain.ProjectStatusActive,
	}
	f.projects.projects[project.ID] = project
	return project
}

func TestProvisionRepositoryLinksAfterRemoteCreate(t *testing.T) {
	f := newFixture()
	seedProject(f)
	svc := f.service(t)

	link, err := svc.ProvisionRepository(context.Background(), testActor(), "project-1")
	if err != nil {
		t.Fatalf("ProvisionRepository returned error: %v", err)
	}
	if link.RepositoryID != 900 {
		t.Fatalf("expected remote id 900, got %d", link.RepositoryID)
	}
	if link.HTTPURL == "" || link.SSHURL == "" {
		t.Fatalf("expected clone URLs from the remote, got %+v", link)
	}
	if link.BranchCount != 1 {
		t.Fatalf("expected branch count 1 on a fresh link, got %d", link.BranchCount)
	}
	if f.repos.createCalls != 1 {
		t.Fatalf("expected one remote create, got %d", f.repos.createCalls)
	}
}

func TestProvisionRepositoryRechecksLinkUnderLock(t *testing.T) {
	f := newFixture()
	seedProject(f)
	// A rival finished between the first check and the lock: the first read
	// misses, the read inside the critical section sees the link.
	f.links.links["link-1"] = domain.ProjectRepository{ID: "link-1", ProjectID: "project-1", RepositoryID: 900}
	f.links.missOnce = true
	svc := f.service(t)

	_, err := svc.ProvisionRepository(context.Background(), testActor(), "project-1")
	if status.CodeOf(err) != status.CodeProjectRepoExists {
		t.Fatalf("expected ProjectRepositoryExists, got %v", err)
	}
	if f.repos.createCalls != 0 {
		t.Fatalf("remote create must not run once the link is visible")
	}
}

func TestProvisionRepositoryRefusesSecondLink(t *testing.T) {
	f := newFixture()
	seedProject(f)
	f.links.links["link-1"] = domain.ProjectRepository{ID: "link-1", ProjectID: "project-1", RepositoryID: 900}
	svc := f.service(t)

	_, err := svc.ProvisionRepository(context.Background(), testActor(), "project-1")
	if status.CodeOf(err) != status.CodeProjectRepoExists {
		t.Fatalf("expected ProjectRepositoryExists, got %v", err)
	}
	if f.repos.createCalls != 0 {
		t.Fatalf("remote create must not run when a link exists")
	}
}

func TestProvisionRepositoryRequiresGroupRemote(t *testing.T) {
	f := newFixture()
	seedProject(f)
	f.groups.groups["group-1"] = domain.Group{ID: "group-1", TeamID: "team-1", Slug: "platform"}
	svc := f.service(t)

	_, err := svc.ProvisionRepository(context.Background(), testActor(), "project-1")
	if status.CodeOf(err) != status.CodeGroupRepoIDMissing {
		t.Fatalf("expected GroupRepositoryIdMissing, got %v", err)
	}
	if f.repos.createCalls != 0 {
		t.Fatalf("remote create must not run without a parent sub-group")
	}
}

func TestProvisionRepositoryBlockedWhileLockHeld(t *testing.T) {
	f := newFixture()
	seedProject(f)
	release, err := f.locker.Acquire(context.Background(), "repo:project-1", time.Minute)
	if err != nil {
		t.Fatalf("pre-acquire lock: %v", err)
	}
	defer release()
	svc := f.service(t)

	_, err = svc.ProvisionRepository(context.Background(), testActor(), "project-1")
	if status.CodeOf(err) != status.CodeProvisionInProgress {
		t.Fatalf("expected ProvisionInProgress, got %v", err)
	}
	if f.repos.createCalls != 0 {
		t.Fatalf("remote create must not run under contention")
	}
}

func TestProvisionRepositoryReportsOrphanOnLinkFailure(t *testing.T) {
	f := newFixture()
	seedProject(f)
	f.links.createErr = errors.New("db down")
	svc := f.service(t)

	_, err := svc.ProvisionRepository(context.Background(), testActor(), "project-1")
	if status.KindOf(err) != status.OrphanedRemoteResource {
		t.Fatalf("expected OrphanedRemoteResource, got %v", err)
	}
	// The orphan is never cleaned up automatically.
	if len(f.repos.deletedRemotes) != 0 {
		t.Fatalf("orphaned remote must not be auto-deleted, got %v", f.repos.deletedRemotes)
	}
}

func TestDeleteCascadesDependentsFirst(t *testing.T) {
	f := newFixture()
	seedProject(f)
	f.jobs.jobs["job-1"] = domain.Job{ID: "job-1", ProjectID: "project-1", JobName: "api-build"}
	f.jobs.jobs["job-2"] = domain.Job{ID: "job-2", ProjectID: "project-1", JobName: "api-deploy"}
	f.links.links["link-1"] = domain.ProjectRepository{ID: "link-1", ProjectID: "project-1", RepositoryID: 900}
	f.builds.deleteErr = errors.New("build host down")
	svc := f.service(t)

	if err := svc.Delete(context.Background(), testActor(), "project-1"); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	// Remote deletes are attempted for every job even when they fail.
	if len(f.builds.deletedJobs) != 2 {
		t.Fatalf("expected 2 remote job deletes, got %v", f.builds.deletedJobs)
	}
	if len(f.repos.deletedRemotes) != 1 || f.repos.deletedRemotes[0] != 900 {
		t.Fatalf("expected remote repository delete, got %v", f.repos.deletedRemotes)
	}
	if len(f.projects.projects) != 0 {
		t.Fatalf("expected project row removed")
	}
	if len(f.links.links) != 0 {
		t.Fatalf("expected repository link removed")
	}
	if len(f.buildLogs.deletedProjects) != 1 {
		t.Fatalf("expected build logs purged once, got %v", f.buildLogs.deletedProjects)
	}
	if f.teams.projectsDelta != -1 {
		t.Fatalf("expected projects counter decremented, delta is %d", f.teams.projectsDelta)
	}
}

func TestDeleteAbortsOnLocalJobFailure(t *testing.T) {
	f := newFixture()
	seedProject(f)
	f.jobs.jobs["job-1"] = domain.Job{ID: "job-1", ProjectID: "project-1", JobName: "api-build"}
	f.jobs.deleteErr = errors.New("db down")
	svc := f.service(t)

	err := svc.Delete(context.Background(), testActor(), "project-1")
	if status.CodeOf(err) != status.CodeDeleteJobFailed {
		t.Fatalf("expected DeleteJobFailed, got %v", err)
	}
	if len(f.projects.projects) != 1 {
		t.Fatalf("project row must survive an aborted cascade")
	}
}

func TestDeleteIsTerminal(t *testing.T) {
	f := newFixture()
	seedProject(f)
	svc := f.service(t)

	if err := svc.Delete(context.Background(), testActor(), "project-1"); err != nil {
		t.Fatalf("first Delete returned error: %v", err)
	}
	err := svc.Delete(context.Background(), testActor(), "project-1")
	if status.CodeOf(err) != status.CodeProjectNotFound {
		t.Fatalf("expected ProjectNotFound on second delete, got %v", err)
	}
}

func TestCreateValidatesGroup(t *testing.T) {
	f := newFixture()
	svc := f.service(t)

	_, err := svc.Create(context.Background(), testActor(), CreateInput{GroupID: "missing", Name: "API", Slug: "api"})
	if status.CodeOf(err) != status.CodeGroupNotFound {
		t.Fatalf("expected GroupNotFound, got %v", err)
	}
}

func TestCreatePersistsAndCounts(t *testing.T) {
	f := newFixture()
	svc := f.service(t)

	created, err := svc.Create(context.Background(), testActor(), CreateInput{GroupID: "group-1", Name: "API", Slug: "API"})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if created.Slug != "api" {
		t.Fatalf("expected normalized slug, got %q", created.Slug)
	}
	if f.teams.projectsDelta != 1 {
		t.Fatalf("expected projects counter bumped, delta is %d", f.teams.projectsDelta)
	}
}
