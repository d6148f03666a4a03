package domain

import "time"

// Group statuses.
const (
	GroupStatusActive   = 1
	GroupStatusArchived = 2
)

// Group belongs to exactly one team. Slug doubles as the remote sub-group
// path segment and is unique within the team. RepositoryID is nil until the
// remote sub-group exists; a group without it must not parent repository
// creation.
type Group struct {
	ID            string
	TeamID        string
	Name          string
	Slug          string
	Status        int
	MembersCount  int
	ProjectsCount int
	RepositoryID  *int64
	OperatorID    string
	OperatorName  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
