package job

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"log/slog"

	"github.com/kisscloud/nest/internal/codetext"
	"github.com/kisscloud/nest/internal/crypto"
	"github.com/kisscloud/nest/internal/domain"
	"github.com/kisscloud/nest/internal/identity"
	"github.com/kisscloud/nest/internal/repository"
	"github.com/kisscloud/nest/internal/service/audit"
	"github.com/kisscloud/nest/internal/service/member"
	"github.com/kisscloud/nest/internal/status"
)

const testCredentialKey = "test-credential-key"

type stubJobRepository struct {
	jobs      map[string]domain.Job
	createErr error
	statuses  map[string]int
}

func newStubJobRepository() *stubJobRepository {
	return &stubJobRepository{jobs: make(map[string]domain.Job), statuses: make(map[string]int)}
}

func (s *stubJobRepository) CreateJob(ctx context.Context, job *domain.Job) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.jobs[job.ID] = *job
	return nil
}

func (s *stubJobRepository) GetJobByID(ctx context.Context, jobID string) (*domain.Job, error) {
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &job, nil
}

func (s *stubJobRepository) GetJobByProjectAndType(ctx context.Context, projectID string, jobType int) (*domain.Job, error) {
	for _, job := range s.jobs {
		if job.ProjectID == projectID && job.Type == jobType {
			found := job
			return &found, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *stubJobRepository) ListJobsByProject(ctx context.Context, projectID string) ([]domain.Job, error) {
	return nil, nil
}

func (s *stubJobRepository) DeleteJob(ctx context.Context, jobID string) error {
	if _, ok := s.jobs[jobID]; !ok {
		return repository.ErrNotFound
	}
	delete(s.jobs, jobID)
	return nil
}

func (s *stubJobRepository) BumpJobNumber(ctx context.Context, jobID string) (int, error) {
	job, ok := s.jobs[jobID]
	if !ok {
		return 0, repository.ErrNotFound
	}
	job.Number++
	s.jobs[jobID] = job
	return job.Number, nil
}

func (s *stubJobRepository) UpdateJobStatus(ctx context.Context, jobID string, jobStatus int) error {
	if _, ok := s.jobs[jobID]; !ok {
		return repository.ErrNotFound
	}
	s.statuses[jobID] = jobStatus
	return nil
}

type stubProjectRepository struct {
	projects map[string]domain.Project
}

func (s *stubProjectRepository) CreateProject(ctx context.Context, project *domain.Project) error {
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
	return nil, nil
}
func (s *stubProjectRepository) CountProjectsByGroup(ctx context.Context, groupID string) (int, error) {
	return 0, nil
}
func (s *stubProjectRepository) UpdateProject(ctx context.Context, project *domain.Project) error {
	return nil
}
func (s *stubProjectRepository) DeleteProject(ctx context.Context, projectID string) error {
	return nil
}

type stubBuildLogRepository struct {
	logs    []domain.BuildLog
	updates []int
}

func (s *stubBuildLogRepository) CreateBuildLog(ctx context.Context, log *domain.BuildLog) error {
	s.logs = append(s.logs, *log)
	return nil
}
func (s *stubBuildLogRepository) UpdateBuildLogStatus(ctx context.Context, id string, execStatus int, output string) error {
	s.updates = append(s.updates, execStatus)
	return nil
}
func (s *stubBuildLogRepository) GetLastBuildLog(ctx context.Context, projectID, jobName string) (*domain.BuildLog, error) {
	return nil, repository.ErrNotFound
}
func (s *stubBuildLogRepository) ListBuildLogsByTeam(ctx context.Context, teamID string, limit, offset int) ([]domain.BuildLog, error) {
	return nil, nil
}
func (s *stubBuildLogRepository) DeleteBuildLogsByProject(ctx context.Context, projectID string) error {
	return nil
}

type stubDeployLogRepository struct {
	logs     []domain.DeployLog
	nodeLogs []domain.DeployNodeLog
}

func (s *stubDeployLogRepository) CreateDeployLog(ctx context.Context, log *domain.DeployLog) error {
	s.logs = append(s.logs, *log)
	return nil
}
func (s *stubDeployLogRepository) UpdateDeployLogStatus(ctx context.Context, id string, execStatus int, output string) error {
	return nil
}
func (s *stubDeployLogRepository) CreateDeployNodeLog(ctx context.Context, log *domain.DeployNodeLog) error {
	s.nodeLogs = append(s.nodeLogs, *log)
	return nil
}
func (s *stubDeployLogRepository) ListDeployLogsByTeam(ctx context.Context, teamID string, limit, offset int) ([]domain.DeployLog, error) {
	return nil, nil
}

type stubServerRepository struct {
	servers []domain.Server
}

func (s *stubServerRepository) ListServersByIDs(ctx context.Context, ids []string) ([]domain.Server, error) {
	return s.servers, nil
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

type stubBuildGateway struct {
	createdJobs []string
	createErr   error
	deletedJobs []string
	queueID     int64
	triggerErr  error
	params      map[string]string
}

func (s *stubBuildGateway) CreateJob(ctx context.Context, jobName, configXML, actorName, apiToken string) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.createdJobs = append(s.createdJobs, jobName)
	return nil
}
func (s *stubBuildGateway) DeleteJob(ctx context.Context, jobName, actorName, apiToken string) error {
	s.deletedJobs = append(s.deletedJobs, jobName)
	return nil
}
func (s *stubBuildGateway) TriggerBuild(ctx context.Context, jobName string, params map[string]string, actorName, apiToken string) (int64, error) {
	if s.triggerErr != nil {
		return 0, s.triggerErr
	}
	s.params = params
	return s.queueID, nil
}

type captureBroadcaster struct {
	events []Event
}

func (c *captureBroadcaster) Broadcast(projectID string, payload []byte) {
	var event Event
	if err := json.Unmarshal(payload, &event); err == nil {
		c.events = append(c.events, event)
	}
}

type noopAuditRepository struct{}

func (noopAuditRepository) InsertOperationLog(ctx context.Context, entry *domain.OperationLog) error {
	return nil
}
func (noopAuditRepository) InsertActivity(ctx context.Context, entry *domain.ActivityEntry) error {
	return nil
}

type fixture struct {
	jobs       *stubJobRepository
	projects   *stubProjectRepository
	buildLogs  *stubBuildLogRepository
	deployLogs *stubDeployLogRepository
	servers    *stubServerRepository
	builds     *stubBuildGateway
	notify     *captureBroadcaster
}

func newFixture() *fixture {
	return &fixture{
		jobs: newStubJobRepository(),
		projects: &stubProjectRepository{projects: map[string]domain.Project{
			"project-1": {ID: "project-1", TeamID: "team-1", GroupID: "group-1", Slug: "api"},
		}},
		buildLogs:  &stubBuildLogRepository{},
		deployLogs: &stubDeployLogRepository{},
		servers:    &stubServerRepository{},
		builds:     &stubBuildGateway{queueID: 55},
		notify:     &captureBroadcaster{},
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
		Jobs:       f.jobs,
		Projects:   f.projects,
		BuildLogs:  f.buildLogs,
		DeployLogs: f.deployLogs,
		Servers:    f.servers,
		Members:    members,
		Builds:     f.builds,
		Audit:      audit.New(noopAuditRepository{}, log),
		Catalog:    catalog,
		Notify:     f.notify,
		Logger:     log,
	})
}

func testActor() identity.Actor {
	return identity.Actor{ID: "user-1", Name: "dev", TeamID: "team-1"}
}

func TestCreateRegistersRemoteJobFirst(t *testing.T) {
	f := newFixture()
	svc := f.service(t)

	created, err := svc.Create(context.Background(), testActor(), CreateInput{ProjectID: "project-1", Type: domain.JobTypeBuild, Shell: "make build"})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if created.JobName != "api-build" {
		t.Fatalf("expected job name api-build, got %q", created.JobName)
	}
	if len(f.builds.createdJobs) != 1 {
		t.Fatalf("expected one remote job create, got %v", f.builds.createdJobs)
	}
	if _, ok := f.jobs.jobs[created.ID]; !ok {
		t.Fatalf("local job row missing")
	}
}

func TestCreateCompensatesRemoteOnLocalFailure(t *testing.T) {
	f := newFixture()
	f.jobs.createErr = errors.New("db down")
	svc := f.service(t)

	_, err := svc.Create(context.Background(), testActor(), CreateInput{ProjectID: "project-1", Type: domain.JobTypeBuild, Shell: "make build"})
	if status.KindOf(err) != status.LocalWriteFailed {
		t.Fatalf("expected LocalWriteFailed, got %v", err)
	}
	if len(f.builds.deletedJobs) != 1 || f.builds.deletedJobs[0] != "api-build" {
		t.Fatalf("expected remote job rollback, got %v", f.builds.deletedJobs)
	}
}

func TestCreateRefusesDuplicateType(t *testing.T) {
	f := newFixture()
	f.jobs.jobs["job-1"] = domain.Job{ID: "job-1", ProjectID: "project-1", Type: domain.JobTypeBuild}
	svc := f.service(t)

	_, err := svc.Create(context.Background(), testActor(), CreateInput{ProjectID: "project-1", Type: domain.JobTypeBuild, Shell: "make build"})
	if status.CodeOf(err) != status.CodeJobExists {
		t.Fatalf("expected JobExists, got %v", err)
	}
	if len(f.builds.createdJobs) != 0 {
		t.Fatalf("remote create must not run for duplicates")
	}
}

func TestTriggerBuildRecordsQueueAndSequence(t *testing.T) {
	f := newFixture()
	f.jobs.jobs["job-1"] = domain.Job{ID: "job-1", TeamID: "team-1", ProjectID: "project-1", JobName: "api-build", Type: domain.JobTypeBuild, Number: 4}
	svc := f.service(t)

	log, err := svc.TriggerBuild(context.Background(), testActor(), BuildInput{JobID: "job-1", Branch: "main"})
	if err != nil {
		t.Fatalf("TriggerBuild returned error: %v", err)
	}
	if log.Number != 5 {
		t.Fatalf("expected run number 5, got %d", log.Number)
	}
	if log.QueueID != 55 {
		t.Fatalf("expected queue id 55, got %d", log.QueueID)
	}
	if log.Status != domain.ExecStatusPending {
		t.Fatalf("expected pending status, got %d", log.Status)
	}
	if f.builds.params["BRANCH"] != "main" {
		t.Fatalf("expected branch param, got %v", f.builds.params)
	}
	if f.jobs.statuses["job-1"] != domain.JobStatusRunning {
		t.Fatalf("expected job running, got %d", f.jobs.statuses["job-1"])
	}
	if len(f.notify.events) != 1 || f.notify.events[0].StatusText != "pending" {
		t.Fatalf("expected pending broadcast, got %+v", f.notify.events)
	}
}

func TestTriggerBuildRequiresBranch(t *testing.T) {
	f := newFixture()
	svc := f.service(t)

	_, err := svc.TriggerBuild(context.Background(), testActor(), BuildInput{JobID: "job-1"})
	if status.CodeOf(err) != status.CodeBranchRequired {
		t.Fatalf("expected BranchRequired, got %v", err)
	}
}

func TestTriggerDeployWritesNodeLogs(t *testing.T) {
	f := newFixture()
	f.jobs.jobs["job-2"] = domain.Job{ID: "job-2", TeamID: "team-1", ProjectID: "project-1", JobName: "api-deploy", Type: domain.JobTypeDeploy}
	f.servers.servers = []domain.Server{
		{ID: "srv-1", IP: "10.0.0.1"},
		{ID: "srv-2", IP: "10.0.0.2"},
	}
	svc := f.service(t)

	log, err := svc.TriggerDeploy(context.Background(), testActor(), DeployInput{JobID: "job-2", ServerIDs: []string{"srv-1", "srv-2"}, Branch: "main"})
	if err != nil {
		t.Fatalf("TriggerDeploy returned error: %v", err)
	}
	if log.ServerIDs != "srv-1,srv-2" {
		t.Fatalf("unexpected server ids %q", log.ServerIDs)
	}
	if len(f.deployLogs.nodeLogs) != 2 {
		t.Fatalf("expected one node log per server, got %d", len(f.deployLogs.nodeLogs))
	}
	if f.builds.params["SERVERS"] != "10.0.0.1,10.0.0.2" {
		t.Fatalf("expected server IPs forwarded, got %v", f.builds.params)
	}
}

func TestProcessCallbackTerminalReturnsJobToIdle(t *testing.T) {
	f := newFixture()
	f.jobs.jobs["job-1"] = domain.Job{ID: "job-1", TeamID: "team-1", ProjectID: "project-1", JobName: "api-build", Type: domain.JobTypeBuild, Number: 5}
	svc := f.service(t)

	err := svc.ProcessCallback(context.Background(), CallbackInput{
		Kind:   "build",
		LogID:  "log-1",
		JobID:  "job-1",
		Status: domain.ExecStatusSuccess,
		Output: "done",
	})
	if err != nil {
		t.Fatalf("ProcessCallback returned error: %v", err)
	}
	if len(f.buildLogs.updates) != 1 || f.buildLogs.updates[0] != domain.ExecStatusSuccess {
		t.Fatalf("expected build log moved to success, got %v", f.buildLogs.updates)
	}
	if f.jobs.statuses["job-1"] != domain.JobStatusIdle {
		t.Fatalf("expected job idle after terminal callback, got %d", f.jobs.statuses["job-1"])
	}
	if len(f.notify.events) != 1 || f.notify.events[0].StatusText != "success" {
		t.Fatalf("expected success broadcast, got %+v", f.notify.events)
	}
}

func TestProcessCallbackRejectsUnknownKind(t *testing.T) {
	f := newFixture()
	f.jobs.jobs["job-1"] = domain.Job{ID: "job-1", Type: domain.JobTypeBuild}
	svc := f.service(t)

	err := svc.ProcessCallback(context.Background(), CallbackInput{Kind: "mystery", LogID: "log-1", JobID: "job-1", Status: 2})
	if status.KindOf(err) != status.ValidationFailed {
		t.Fatalf("expected ValidationFailed, got %v", err)
	}
}
