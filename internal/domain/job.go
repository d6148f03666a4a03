package domain

import "time"

// Job types.
const (
	JobTypeBuild  = 1
	JobTypeDeploy = 2
)

// Job statuses.
const (
	JobStatusIdle    = 0
	JobStatusRunning = 1
)

// Job is a named job on the build host. JobName is the remote job's unique
// key; Number tracks the last build/deploy sequence handed out.
type Job struct {
	ID           string
	TeamID       string
	ProjectID    string
	JobName      string
	Type         int
	Status       int
	Number       int
	Shell        string
	OperatorID   string
	OperatorName string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
