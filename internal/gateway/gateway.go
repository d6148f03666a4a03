// Package gateway defines the ports onto the two remote systems the
// provisioning flows drive: the source-control host and the build host.
//
// Every call is a single synchronous RPC with its own failure mode. A
// semantic rejection (the host processed the request and said no, or the
// target does not exist) is reported as ErrRejected; any other error is a
// transport failure whose remote side effect is unknown. Callers compensate
// on rejection and surface transport failures without inferring remote
// state.
package gateway

import (
	"context"
	"errors"
	"time"
)

// ErrRejected marks a semantic rejection by the remote host.
var ErrRejected = errors.New("gateway: operation rejected")

// RemoteGroup is a group/sub-group container on the source-control host.
type RemoteGroup struct {
	ID       int64
	Name     string
	Path     string
	FullPath string
}

// RemoteProject is a repository on the source-control host.
type RemoteProject struct {
	ID            int64
	Name          string
	HTTPURL       string
	SSHURL        string
	DefaultBranch string
}

// Branch is a repository branch.
type Branch struct {
	Name      string
	CommitSHA string
}

// Tag is a repository tag with its release metadata.
type Tag struct {
	Name        string
	Message     string
	Description string
	CommittedAt time.Time
}

// TagInput describes a tag to create.
type TagInput struct {
	Name               string
	Ref                string
	Message            string
	ReleaseDescription string
}

// RepositoryGateway abstracts the source-control host.
type RepositoryGateway interface {
	CreateRootGroup(ctx context.Context, slug, accessToken string) (*RemoteGroup, error)
	CreateSubGroup(ctx context.Context, slug, accessToken string, parentID int64) (*RemoteGroup, error)
	CreateProject(ctx context.Context, slug, accessToken string, groupID int64) (*RemoteProject, error)
	DeleteProject(ctx context.Context, repositoryID int64, accessToken string) error
	ListBranches(ctx context.Context, repositoryID int64, accessToken string) ([]Branch, error)
	ListTags(ctx context.Context, repositoryID int64, accessToken string) ([]Tag, error)
	CreateTag(ctx context.Context, repositoryID int64, input TagInput, accessToken string) (*Tag, error)
}

// BuildGateway abstracts the build host.
type BuildGateway interface {
	CreateJob(ctx context.Context, jobName, configXML, actorName, apiToken string) error
	DeleteJob(ctx context.Context, jobName, actorName, apiToken string) error
	TriggerBuild(ctx context.Context, jobName string, params map[string]string, actorName, apiToken string) (int64, error)
}
