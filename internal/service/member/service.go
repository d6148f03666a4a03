// Package member manages team membership rows and resolves the remote
// credentials provisioning flows authenticate with.
package member

import (
	"context"
	"errors"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/kisscloud/nest/internal/crypto"
	"github.com/kisscloud/nest/internal/domain"
	"github.com/kisscloud/nest/internal/identity"
	"github.com/kisscloud/nest/internal/repository"
	"github.com/kisscloud/nest/internal/status"
)

// Credentials are an actor's decrypted remote tokens. AccessToken is for
// the source-control host, APIToken for the build host.
type Credentials struct {
	AccessToken string
	APIToken    string
}

// UpsertInput carries a membership registration.
type UpsertInput struct {
	TeamID      string
	AccountID   string
	Name        string
	Role        string
	AccessToken string
	APIToken    string
}

var errMissingAccountID = errors.New("account id required")

// Service manages members.
type Service struct {
	members repository.MemberRepository
	logger  *slog.Logger
	key     string
}

// New returns a member service. key is the credential encryption secret.
func New(members repository.MemberRepository, logger *slog.Logger, key string) Service {
	return Service{members: members, logger: logger, key: key}
}

// Upsert registers or refreshes a membership, encrypting both tokens at rest.
func (s Service) Upsert(ctx context.Context, input UpsertInput) error {
	if strings.TrimSpace(input.AccountID) == "" {
		return errMissingAccountID
	}
	accessToken, err := crypto.EncryptString(s.key, input.AccessToken)
	if err != nil {
		return err
	}
	apiToken, err := crypto.EncryptString(s.key, input.APIToken)
	if err != nil {
		return err
	}
	member := &domain.Member{
		ID:          uuid.NewString(),
		TeamID:      input.TeamID,
		AccountID:   input.AccountID,
		Name:        input.Name,
		Role:        input.Role,
		AccessToken: accessToken,
		APIToken:    apiToken,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.members.UpsertMember(ctx, member); err != nil {
		return err
	}
	s.logger.Info("member upserted", "team_id", input.TeamID, "account_id", input.AccountID)
	return nil
}

// Resolve returns the actor's decrypted remote credentials. Every remote
// call authenticates as the acting member, never as a service account.
func (s Service) Resolve(ctx context.Context, actor identity.Actor) (Credentials, error) {
	member, err := s.members.GetMemberByAccountID(ctx, actor.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return Credentials{}, status.E(status.NotFound, status.CodeMemberNotFound, "member not registered")
		}
		return Credentials{}, err
	}
	accessToken, err := crypto.DecryptToString(s.key, member.AccessToken)
	if err != nil {
		return Credentials{}, err
	}
	apiToken, err := crypto.DecryptToString(s.key, member.APIToken)
	if err != nil {
		return Credentials{}, err
	}
	return Credentials{AccessToken: accessToken, APIToken: apiToken}, nil
}
