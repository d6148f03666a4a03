// Package status defines the error taxonomy shared by the provisioning
// services and the transport layer. Every orchestrator failure carries a
// Kind, which decides propagation policy, and a Code, which callers receive
// in the result envelope.
package status

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for propagation purposes.
type Kind int

const (
	// ValidationFailed means caller input violated a precondition checked
	// before any write.
	ValidationFailed Kind = iota + 1
	// NotFound means a referenced entity does not exist.
	NotFound
	// LocalWriteFailed means a store write reported zero rows affected; no
	// remote side effect was attempted.
	LocalWriteFailed
	// RemoteCallFailed means a gateway call was rejected after local state
	// had already been committed.
	RemoteCallFailed
	// OrphanedRemoteResource means a remote side effect succeeded but the
	// follow-up local persistence failed. Never retried automatically.
	OrphanedRemoteResource
	// PreconditionBlocked means a structural invariant forbids the operation.
	PreconditionBlocked
)

// Code identifies a specific failure to API callers.
type Code string

const (
	CodeTeamNotFound            Code = "TeamNotFound"
	CodeGroupNotFound           Code = "GroupNotFound"
	CodeProjectNotFound         Code = "ProjectNotFound"
	CodeJobNotFound             Code = "JobNotFound"
	CodeMemberNotFound          Code = "MemberNotFound"
	CodeCreateTeamFailed        Code = "CreateTeamFailed"
	CodeCreateGroupFailed       Code = "CreateGroupFailed"
	CodeUpdateGroupFailed       Code = "UpdateGroupFailed"
	CodeDeleteGroupFailed       Code = "DeleteGroupFailed"
	CodeCreateProjectFailed     Code = "CreateProjectFailed"
	CodeUpdateProjectFailed     Code = "UpdateProjectFailed"
	CodeDeleteProjectFailed     Code = "DeleteProjectFailed"
	CodeDeleteJobFailed         Code = "DeleteJobFailed"
	CodeCreateJobFailed         Code = "CreateJobFailed"
	CodeGroupParentIDMissing    Code = "GroupParentIdMissing"
	CodeGroupHasProjects        Code = "GroupHasProjects"
	CodeGroupRepoIDMissing      Code = "GroupRepositoryIdMissing"
	CodeProjectGroupNotFound    Code = "ProjectGroupNotFound"
	CodeProjectRepoExists       Code = "ProjectRepositoryExists"
	CodeProjectSlugEmpty        Code = "ProjectSlugEmpty"
	CodeGroupSlugRequired       Code = "GroupSlugRequired"
	CodeNameRequired            Code = "NameRequired"
	CodeSlugTaken               Code = "SlugTaken"
	CodeShellRequired           Code = "ShellRequired"
	CodeBranchRequired          Code = "BranchRequired"
	CodeJobExists               Code = "JobExists"
	CodeProvisionInProgress     Code = "ProvisionInProgress"
	CodeCreateTeamRepoFailed    Code = "CreateTeamRepositoryFailed"
	CodeCreateGroupRepoFailed   Code = "CreateGroupRepositoryFailed"
	CodeCreateProjectRepoFailed Code = "CreateProjectRepositoryFailed"
	CodeCreateTagFailed         Code = "CreateProjectTagFailed"
	CodeCreateJobRemoteFailed   Code = "CreateJobRemoteFailed"
	CodeTriggerBuildFailed      Code = "TriggerBuildFailed"
	CodeOrphanedRemoteGroup     Code = "OrphanedRemoteGroup"
	CodeOrphanedRemoteRepo      Code = "OrphanedRemoteRepository"
)

// Error is the taxonomy-aware error returned by orchestrator operations.
type Error struct {
	Kind    Kind
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// E constructs a status error.
func E(kind Kind, code Code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap constructs a status error preserving an underlying cause.
func Wrap(kind Kind, code Code, message string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

// KindOf extracts the Kind from err, or zero when err is not a status error.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return 0
}

// CodeOf extracts the Code from err, or empty when err is not a status error.
func CodeOf(err error) Code {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}
