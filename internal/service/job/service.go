// Package job manages build-host jobs and their executions. A job is the
// remote definition plus a local row tracking the run sequence; triggering
// a run hands out the next sequence number, queues the run remotely and
// records an execution log that the build host later resolves through the
// callback endpoint.
package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
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

// Broadcaster pushes execution events to watchers of one project's stream.
type Broadcaster interface {
	Broadcast(projectID string, payload []byte)
}

// CreateInput carries job creation attributes.
type CreateInput struct {
	ProjectID string
	Type      int
	Shell     string
}

// BuildInput carries a build trigger.
type BuildInput struct {
	JobID  string
	Branch string
}

// DeployInput carries a deploy trigger.
type DeployInput struct {
	JobID     string
	ServerIDs []string
	Branch    string
	Version   string
	Remark    string
}

// NodeResult is one server's outcome reported in a deploy callback.
type NodeResult struct {
	ServerID string `json:"serverId"`
	NodeID   string `json:"nodeId"`
	Status   int    `json:"status"`
	Output   string `json:"output"`
}

// CallbackInput is the build host's execution report.
type CallbackInput struct {
	Kind   string       `json:"kind"`
	LogID  string       `json:"logId"`
	JobID  string       `json:"jobId"`
	Status int          `json:"status"`
	Output string       `json:"output"`
	Nodes  []NodeResult `json:"nodes"`
}

// Event is the payload broadcast to execution watchers.
type Event struct {
	Kind       string `json:"kind"`
	LogID      string `json:"logId"`
	JobID      string `json:"jobId"`
	JobName    string `json:"jobName"`
	ProjectID  string `json:"projectId"`
	Number     int    `json:"number"`
	Status     int    `json:"status"`
	StatusText string `json:"statusText"`
}

const (
	callbackKindBuild  = "build"
	callbackKindDeploy = "deploy"
)

// jobConfigTemplate is the minimal freestyle definition registered on the
// build host; the shell body is the only varying part.
const jobConfigTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<project>
  <builders>
    <hudson.tasks.Shell>
      <command>%s</command>
    </hudson.tasks.Shell>
  </builders>
</project>`

// Service orchestrates job lifecycle and executions.
type Service struct {
	jobs       repository.JobRepository
	projects   repository.ProjectRepository
	buildLogs  repository.BuildLogRepository
	deployLogs repository.DeployLogRepository
	servers    repository.ServerRepository
	members    member.Service
	builds     gateway.BuildGateway
	audit      audit.Recorder
	catalog    *codetext.Catalog
	notify     Broadcaster
	logger     *slog.Logger
}

// Deps bundles the service's collaborators.
type Deps struct {
	Jobs       repository.JobRepository
	Projects   repository.ProjectRepository
	BuildLogs  repository.BuildLogRepository
	DeployLogs repository.DeployLogRepository
	Servers    repository.ServerRepository
	Members    member.Service
	Builds     gateway.BuildGateway
	Audit      audit.Recorder
	Catalog    *codetext.Catalog
	Notify     Broadcaster
	Logger     *slog.Logger
}

// New returns a job service.
func New(deps Deps) Service {
	return Service{
		jobs:       deps.Jobs,
		projects:   deps.Projects,
		buildLogs:  deps.BuildLogs,
		deployLogs: deps.DeployLogs,
		servers:    deps.Servers,
		members:    deps.Members,
		builds:     deps.Builds,
		audit:      deps.Audit,
		catalog:    deps.Catalog,
		notify:     deps.Notify,
		logger:     deps.Logger,
	}
}

// Create registers the job on the build host and then inserts the local
// row. Remote job creation is not idempotent, so a failed local insert is
// compensated by deleting the just-created remote job.
func (s Service) Create(ctx context.Context, actor identity.Actor, input CreateInput) (*domain.Job, error) {
	if strings.TrimSpace(input.Shell) == "" {
		return nil, status.E(status.ValidationFailed, status.CodeShellRequired, "job shell is required")
	}
	if input.Type != domain.JobTypeBuild && input.Type != domain.JobTypeDeploy {
		return nil, status.E(status.ValidationFailed, status.CodeCreateJobFailed, "unknown job type")
	}

	project, err := s.projects.GetProjectByID(ctx, input.ProjectID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, status.E(status.NotFound, status.CodeProjectNotFound, "project not found")
		}
		return nil, err
	}
	if _, err := s.jobs.GetJobByProjectAndType(ctx, input.ProjectID, input.Type); err == nil {
		return nil, status.E(status.PreconditionBlocked, status.CodeJobExists, "project already has a job of this type")
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	creds, err := s.members.Resolve(ctx, actor)
	if err != nil {
		return nil, err
	}

	jobName := remoteJobName(project.Slug, input.Type)
	configXML := fmt.Sprintf(jobConfigTemplate, xmlEscape(input.Shell))
	if err := s.builds.CreateJob(ctx, jobName, configXML, actor.Name, creds.APIToken); err != nil {
		return nil, status.Wrap(status.RemoteCallFailed, status.CodeCreateJobRemoteFailed, "create remote job", err)
	}

	job := &domain.Job{
		ID:           uuid.NewString(),
		TeamID:       project.TeamID,
		ProjectID:    project.ID,
		JobName:      jobName,
		Type:         input.Type,
		Status:       domain.JobStatusIdle,
		Shell:        input.Shell,
		OperatorID:   actor.ID,
		OperatorName: actor.Name,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.jobs.CreateJob(ctx, job); err != nil {
		if derr := s.builds.DeleteJob(ctx, jobName, actor.Name, creds.APIToken); derr != nil {
			s.logger.Error("remote job rollback failed", "job_name", jobName, "error", derr)
		}
		metrics.Provision("job", metrics.OutcomeCompensated)
		if errors.Is(err, repository.ErrConflict) {
			return nil, status.E(status.PreconditionBlocked, status.CodeJobExists, "project already has a job of this type")
		}
		return nil, status.Wrap(status.LocalWriteFailed, status.CodeCreateJobFailed, "persist job", err)
	}
	metrics.Provision("job", metrics.OutcomeProvisioned)

	s.audit.Operation(ctx, actor, domain.OpCreateJob, "", nil, job)
	s.logger.Info("job created", "job_id", job.ID, "job_name", jobName, "project_id", project.ID)
	return job, nil
}

// Delete removes the local row and then the remote definition. The local
// delete is fatal on failure; the remote delete is best effort because the
// definition can be removed by hand.
func (s Service) Delete(ctx context.Context, actor identity.Actor, jobID string) error {
	job, err := s.jobs.GetJobByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return status.E(status.NotFound, status.CodeJobNotFound, "job not found")
		}
		return err
	}
	creds, err := s.members.Resolve(ctx, actor)
	if err != nil {
		return err
	}
	if err := s.jobs.DeleteJob(ctx, jobID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return status.E(status.NotFound, status.CodeJobNotFound, "job not found")
		}
		return status.Wrap(status.LocalWriteFailed, status.CodeDeleteJobFailed, "delete job", err)
	}
	if err := s.builds.DeleteJob(ctx, job.JobName, actor.Name, creds.APIToken); err != nil {
		s.logger.Warn("remote job delete failed", "job_name", job.JobName, "error", err)
	}

	s.audit.Operation(ctx, actor, domain.OpDeleteJob, "", job, nil)
	s.logger.Info("job deleted", "job_id", jobID, "job_name", job.JobName)
	return nil
}

// TriggerBuild hands out the next run number, queues the run and records a
// pending build log carrying the queue id.
func (s Service) TriggerBuild(ctx context.Context, actor identity.Actor, input BuildInput) (*domain.BuildLog, error) {
	if strings.TrimSpace(input.Branch) == "" {
		return nil, status.E(status.ValidationFailed, status.CodeBranchRequired, "branch is required")
	}
	job, err := s.loadJob(ctx, input.JobID, domain.JobTypeBuild)
	if err != nil {
		return nil, err
	}
	creds, err := s.members.Resolve(ctx, actor)
	if err != nil {
		return nil, err
	}

	number, err := s.jobs.BumpJobNumber(ctx, job.ID)
	if err != nil {
		return nil, status.Wrap(status.LocalWriteFailed, status.CodeTriggerBuildFailed, "advance run number", err)
	}

	params := map[string]string{
		"BRANCH": input.Branch,
		"NUMBER": strconv.Itoa(number),
	}
	queueID, err := s.builds.TriggerBuild(ctx, job.JobName, params, actor.Name, creds.APIToken)
	if err != nil {
		return nil, status.Wrap(status.RemoteCallFailed, status.CodeTriggerBuildFailed, "queue build", err)
	}

	log := &domain.BuildLog{
		ID:           uuid.NewString(),
		TeamID:       job.TeamID,
		ProjectID:    job.ProjectID,
		JobName:      job.JobName,
		Branch:       input.Branch,
		Number:       number,
		QueueID:      queueID,
		Status:       domain.ExecStatusPending,
		OperatorID:   actor.ID,
		OperatorName: actor.Name,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.buildLogs.CreateBuildLog(ctx, log); err != nil {
		return nil, status.Wrap(status.LocalWriteFailed, status.CodeTriggerBuildFailed, "persist build log", err)
	}
	if err := s.jobs.UpdateJobStatus(ctx, job.ID, domain.JobStatusRunning); err != nil {
		s.logger.Warn("job status update failed", "job_id", job.ID, "error", err)
	}

	s.audit.Activity(ctx, actor, domain.OpTriggerBuild, "", job.ProjectID, map[string]any{"jobName": job.JobName, "number": number, "branch": input.Branch})
	s.broadcast(callbackKindBuild, log.ID, job, number, domain.ExecStatusPending)
	s.logger.Info("build queued", "job_name", job.JobName, "number", number, "queue_id", queueID)
	return log, nil
}

// TriggerDeploy queues a deploy run across the given servers, recording a
// deploy log plus one pending node log per server.
func (s Service) TriggerDeploy(ctx context.Context, actor identity.Actor, input DeployInput) (*domain.DeployLog, error) {
	if strings.TrimSpace(input.Branch) == "" {
		return nil, status.E(status.ValidationFailed, status.CodeBranchRequired, "branch is required")
	}
	job, err := s.loadJob(ctx, input.JobID, domain.JobTypeDeploy)
	if err != nil {
		return nil, err
	}
	servers, err := s.servers.ListServersByIDs(ctx, input.ServerIDs)
	if err != nil {
		return nil, err
	}
	if len(servers) == 0 {
		return nil, status.E(status.ValidationFailed, status.CodeTriggerBuildFailed, "no deploy targets")
	}
	creds, err := s.members.Resolve(ctx, actor)
	if err != nil {
		return nil, err
	}

	number, err := s.jobs.BumpJobNumber(ctx, job.ID)
	if err != nil {
		return nil, status.Wrap(status.LocalWriteFailed, status.CodeTriggerBuildFailed, "advance run number", err)
	}

	serverIPs := make([]string, 0, len(servers))
	serverIDs := make([]string, 0, len(servers))
	for _, server := range servers {
		serverIPs = append(serverIPs, server.IP)
		serverIDs = append(serverIDs, server.ID)
	}
	params := map[string]string{
		"BRANCH":  input.Branch,
		"NUMBER":  strconv.Itoa(number),
		"SERVERS": strings.Join(serverIPs, ","),
	}
	if input.Version != "" {
		params["VERSION"] = input.Version
	}
	queueID, err := s.builds.TriggerBuild(ctx, job.JobName, params, actor.Name, creds.APIToken)
	if err != nil {
		return nil, status.Wrap(status.RemoteCallFailed, status.CodeTriggerBuildFailed, "queue deploy", err)
	}

	now := time.Now().UTC()
	log := &domain.DeployLog{
		ID:           uuid.NewString(),
		TeamID:       job.TeamID,
		ProjectID:    job.ProjectID,
		JobName:      job.JobName,
		ServerIDs:    strings.Join(serverIDs, ","),
		Branch:       input.Branch,
		Number:       number,
		Version:      input.Version,
		Remark:       input.Remark,
		Status:       domain.ExecStatusPending,
		OperatorID:   actor.ID,
		OperatorName: actor.Name,
		CreatedAt:    now,
	}
	if err := s.deployLogs.CreateDeployLog(ctx, log); err != nil {
		return nil, status.Wrap(status.LocalWriteFailed, status.CodeTriggerBuildFailed, "persist deploy log", err)
	}
	for _, server := range servers {
		nodeLog := &domain.DeployNodeLog{
			ID:          uuid.NewString(),
			TeamID:      job.TeamID,
			JobID:       job.ID,
			DeployLogID: log.ID,
			ServerID:    server.ID,
			Status:      domain.ExecStatusPending,
			CreatedAt:   now,
		}
		if err := s.deployLogs.CreateDeployNodeLog(ctx, nodeLog); err != nil {
			s.logger.Warn("deploy node log write failed", "deploy_log_id", log.ID, "server_id", server.ID, "error", err)
		}
	}
	if err := s.jobs.UpdateJobStatus(ctx, job.ID, domain.JobStatusRunning); err != nil {
		s.logger.Warn("job status update failed", "job_id", job.ID, "error", err)
	}

	s.audit.Activity(ctx, actor, domain.OpTriggerDeploy, "", job.ProjectID, map[string]any{"jobName": job.JobName, "number": number, "servers": serverIDs})
	s.broadcast(callbackKindDeploy, log.ID, job, number, domain.ExecStatusPending)
	s.logger.Info("deploy queued", "job_name", job.JobName, "number", number, "queue_id", queueID)
	return log, nil
}

// ProcessCallback applies the build host's execution report: the log row
// moves to the reported status, the job returns to idle on terminal states,
// and watchers are notified.
func (s Service) ProcessCallback(ctx context.Context, input CallbackInput) error {
	if input.Status < domain.ExecStatusPending || input.Status > domain.ExecStatusFailed {
		return status.E(status.ValidationFailed, status.CodeTriggerBuildFailed, "unknown execution status")
	}
	job, err := s.jobs.GetJobByID(ctx, input.JobID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return status.E(status.NotFound, status.CodeJobNotFound, "job not found")
		}
		return err
	}

	switch input.Kind {
	case callbackKindBuild:
		if err := s.buildLogs.UpdateBuildLogStatus(ctx, input.LogID, input.Status, input.Output); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return status.E(status.NotFound, status.CodeJobNotFound, "build log not found")
			}
			return err
		}
	case callbackKindDeploy:
		if err := s.deployLogs.UpdateDeployLogStatus(ctx, input.LogID, input.Status, input.Output); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return status.E(status.NotFound, status.CodeJobNotFound, "deploy log not found")
			}
			return err
		}
		for _, node := range input.Nodes {
			nodeLog := &domain.DeployNodeLog{
				ID:          uuid.NewString(),
				TeamID:      job.TeamID,
				JobID:       job.ID,
				DeployLogID: input.LogID,
				ServerID:    node.ServerID,
				NodeID:      node.NodeID,
				Status:      node.Status,
				Output:      node.Output,
				CreatedAt:   time.Now().UTC(),
			}
			if err := s.deployLogs.CreateDeployNodeLog(ctx, nodeLog); err != nil {
				s.logger.Warn("deploy node log write failed", "deploy_log_id", input.LogID, "server_id", node.ServerID, "error", err)
			}
		}
	default:
		return status.E(status.ValidationFailed, status.CodeTriggerBuildFailed, "unknown callback kind")
	}

	if input.Status == domain.ExecStatusSuccess || input.Status == domain.ExecStatusFailed {
		if err := s.jobs.UpdateJobStatus(ctx, job.ID, domain.JobStatusIdle); err != nil {
			s.logger.Warn("job status update failed", "job_id", job.ID, "error", err)
		}
	}

	s.broadcast(input.Kind, input.LogID, job, job.Number, input.Status)
	return nil
}

// ListByProject returns a project's jobs.
func (s Service) ListByProject(ctx context.Context, projectID string) ([]domain.Job, error) {
	return s.jobs.ListJobsByProject(ctx, projectID)
}

// BuildLogs pages through a team's build history.
func (s Service) BuildLogs(ctx context.Context, teamID string, limit, offset int) ([]domain.BuildLog, error) {
	return s.buildLogs.ListBuildLogsByTeam(ctx, teamID, limit, offset)
}

// DeployLogs pages through a team's deploy history.
func (s Service) DeployLogs(ctx context.Context, teamID string, limit, offset int) ([]domain.DeployLog, error) {
	return s.deployLogs.ListDeployLogsByTeam(ctx, teamID, limit, offset)
}

// LastBuild returns the newest build record for a project's job.
func (s Service) LastBuild(ctx context.Context, projectID, jobName string) (*domain.BuildLog, error) {
	log, err := s.buildLogs.GetLastBuildLog(ctx, projectID, jobName)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, status.E(status.NotFound, status.CodeJobNotFound, "no builds recorded")
		}
		return nil, err
	}
	return log, nil
}

func (s Service) loadJob(ctx context.Context, jobID string, wantType int) (*domain.Job, error) {
	job, err := s.jobs.GetJobByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, status.E(status.NotFound, status.CodeJobNotFound, "job not found")
		}
		return nil, err
	}
	if job.Type != wantType {
		return nil, status.E(status.ValidationFailed, status.CodeJobNotFound, "job type mismatch")
	}
	return job, nil
}

func (s Service) broadcast(kind, logID string, job *domain.Job, number, execStatus int) {
	if s.notify == nil {
		return
	}
	event := Event{
		Kind:       kind,
		LogID:      logID,
		JobID:      job.ID,
		JobName:    job.JobName,
		ProjectID:  job.ProjectID,
		Number:     number,
		Status:     execStatus,
		StatusText: s.catalog.Text(codetext.CategoryExecStatus, execStatus),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	s.notify.Broadcast(job.ProjectID, payload)
}

func remoteJobName(projectSlug string, jobType int) string {
	suffix := "-build"
	if jobType == domain.JobTypeDeploy {
		suffix = "-deploy"
	}
	return projectSlug + suffix
}

func xmlEscape(value string) string {
	replacer := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
	)
	return replacer.Replace(value)
}
