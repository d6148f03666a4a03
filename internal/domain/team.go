package domain

import "time"

// Team is the aggregate root of the workspace hierarchy. RepositoryID points
// at the team's top-level group on the source-control host; it is nil until
// remote provisioning has succeeded.
type Team struct {
	ID            string
	Name          string
	Slug          string
	RepositoryID  *int64
	GroupsCount   int
	ProjectsCount int
	MembersCount  int
	OperatorID    string
	OperatorName  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Member links an account to a team and carries the account's remote
// credentials. AccessToken authenticates against the source-control host,
// APIToken against the build host. Both are stored encrypted.
type Member struct {
	ID          string
	TeamID      string
	AccountID   string
	Name        string
	Role        string
	AccessToken []byte
	APIToken    []byte
	CreatedAt   time.Time
}
