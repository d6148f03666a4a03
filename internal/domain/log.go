package domain

import "time"

// Execution record statuses shared by build and deploy logs.
const (
	ExecStatusPending = 0
	ExecStatusRunning = 1
	ExecStatusSuccess = 2
	ExecStatusFailed  = 3
)

// BuildLog is an append-only record of one build execution.
type BuildLog struct {
	ID           string
	TeamID       string
	ProjectID    string
	JobName      string
	Branch       string
	Number       int
	QueueID      int64
	Status       int
	Output       string
	OperatorID   string
	OperatorName string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// DeployLog is an append-only record of one deploy execution across servers.
type DeployLog struct {
	ID           string
	TeamID       string
	ProjectID    string
	JobName      string
	ServerIDs    string
	Branch       string
	Number       int
	Version      string
	Remark       string
	Status       int
	Output       string
	OperatorID   string
	OperatorName string
	DeployAt     *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// DeployNodeLog records the outcome of one deploy on one server.
type DeployNodeLog struct {
	ID          string
	TeamID      string
	JobID       string
	DeployLogID string
	ServerID    string
	NodeID      string
	Status      int
	Output      string
	CreatedAt   time.Time
}

// Server is a deploy target. Rows are owned by a separate provisioning flow;
// this service only reads them when recording deploys.
type Server struct {
	ID        string
	TeamID    string
	Name      string
	IP        string
	SSHPort   int
	CreatedAt time.Time
}
