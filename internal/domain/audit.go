package domain

import "time"

// Operation types recorded in the audit trail.
const (
	OpCreateTeam    = "team.create"
	OpCreateGroup   = "group.create"
	OpUpdateGroup   = "group.update"
	OpDeleteGroup   = "group.delete"
	OpCreateProject = "project.create"
	OpUpdateProject = "project.update"
	OpDeleteProject = "project.delete"
	OpCreateRepo    = "repository.create"
	OpCreateTag     = "tag.create"
	OpCreateJob     = "job.create"
	OpDeleteJob     = "job.delete"
	OpTriggerBuild  = "build.trigger"
	OpTriggerDeploy = "deploy.trigger"
)

// OperationLog captures a before/after snapshot of one mutation.
type OperationLog struct {
	ID           string
	TeamID       string
	OperatorID   string
	OperatorName string
	Operation    string
	TargetField  string
	OldValue     []byte
	NewValue     []byte
	CreatedAt    time.Time
}

// ActivityEntry feeds the team activity stream.
type ActivityEntry struct {
	ID           string
	TeamID       string
	GroupID      string
	ProjectID    string
	OperatorID   string
	OperatorName string
	Operation    string
	Payload      []byte
	CreatedAt    time.Time
}
