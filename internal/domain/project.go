package domain

import "time"

// Project statuses.
const (
	ProjectStatusActive   = 1
	ProjectStatusArchived = 2
)

// Project belongs to one group; team is denormalized for per-team queries.
// Slug is unique within the team.
type Project struct {
	ID           string
	TeamID       string
	GroupID      string
	Name         string
	Slug         string
	Type         int
	Status       int
	MembersCount int
	OperatorID   string
	OperatorName string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ProjectRepository is the 1:1 link between a project and its remote
// repository. A row exists only after the remote creation call succeeded.
type ProjectRepository struct {
	ID           string
	ProjectID    string
	TeamID       string
	Name         string
	RepositoryID int64
	HTTPURL      string
	SSHURL       string
	BranchCount  int
	OperatorID   string
	OperatorName string
	CreatedAt    time.Time
}
