package group

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"log/slog"

	"github.com/kisscloud/nest/internal/codetext"
	"github.com/kisscloud/nest/internal/crypto"
	"github.com/kisscloud/nest/internal/domain"
	"github.com/kisscloud/nest/internal/gateway"
	"github.com/kisscloud/nest/internal/identity"
	"github.com/kisscloud/nest/internal/repository"
	"github.com/kisscloud/nest/internal/service/audit"
	"github.com/kisscloud/nest/internal/service/member"
	"github.com/kisscloud/nest/internal/status"
)

const testCredentialKey = "test-credential-key"

type stubGroupRepository struct {
	groups      map[string]domain.Group
	linked      map[string]int64
	createErr   error
	linkErr     error
	deleteCalls []string
}

func newStubGroupRepository() *stubGroupRepository {
	return &stubGroupRepository{
		groups: make(map[string]domain.Group),
		linked: make(map[string]int64),
	}
}

func (s *stubGroupRepository) CreateGroup(ctx context.Context, group *domain.Group) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.groups[group.ID] = *group
	return nil
}

func (s *stubGroupRepository) GetGroupByID(ctx context.Context, groupID string) (*domain.Group, error) {
	group, ok := s.groups[groupID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &group, nil
}

func (s *stubGroupRepository) GetGroupBySlug(ctx context.Context, teamID, slug string) (*domain.Group, error) {
	for _, group := range s.groups {
		if group.TeamID == teamID && group.Slug == slug {
			return &group, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *stubGroupRepository) ListGroupsByTeam(ctx context.Context, teamID string) ([]domain.Group, error) {
	var out []domain.Group
	for _, group := range s.groups {
		if group.TeamID == teamID {
			out = append(out, group)
		}
	}
	return out, nil
}

func (s *stubGroupRepository) UpdateGroup(ctx context.Context, group *domain.Group) error {
	if _, ok := s.groups[group.ID]; !ok {
		return repository.ErrNotFound
	}
	s.groups[group.ID] = *group
	return nil
}

func (s *stubGroupRepository) DeleteGroup(ctx context.Context, groupID string) error {
	s.deleteCalls = append(s.deleteCalls, groupID)
	if _, ok := s.groups[groupID]; !ok {
		return repository.ErrNotFound
	}
	delete(s.groups, groupID)
	return nil
}

func (s *stubGroupRepository) SetGroupRepositoryID(ctx context.Context, groupID string, repositoryID int64) error {
	if s.linkErr != nil {
		return s.linkErr
	}
	group, ok := s.groups[groupID]
	if !ok {
		return repository.ErrNotFound
	}
	group.RepositoryID = &repositoryID
	s.groups[groupID] = group
	s.linked[groupID] = repositoryID
	return nil
}

func (s *stubGroupRepository) AddGroupProjectsCount(ctx context.Context, groupID string, delta int) error {
	return nil
}

type stubTeamRepository struct {
	team        domain.Team
	groupsDelta int
}

func (s *stubTeamRepository) CreateTeam(ctx context.Context, team *domain.Team) error { return nil }
func (s *stubTeamRepository) GetTeamByID(ctx context.Context, teamID string) (*domain.Team, error) {
	if teamID != s.team.ID {
		return nil, repository.ErrNotFound
	}
	team := s.team
	return &team, nil
}
func (s *stubTeamRepository) SetTeamRepositoryID(ctx context.Context, teamID string, repositoryID int64) error {
	return nil
}
func (s *stubTeamRepository) DeleteTeam(ctx context.Context, teamID string) error { return nil }
func (s *stubTeamRepository) AddGroupsCount(ctx context.Context, teamID string, delta int) error {
	s.groupsDelta += delta
	return nil
}
func (s *stubTeamRepository) AddProjectsCount(ctx context.Context, teamID string, delta int) error {
	return nil
}

type stubProjectCounter struct {
	count int
}

func (s *stubProjectCounter) CreateProject(ctx context.Context, project *domain.Project) error {
	return nil
}
func (s *stubProjectCounter) GetProjectByID(ctx context.Context, projectID string) (*domain.Project, error) {
	return nil, repository.ErrNotFound
}
func (s *stubProjectCounter) GetProjectBySlug(ctx context.Context, teamID, slug string) (*domain.Project, error) {
	return nil, repository.ErrNotFound
}
func (s *stubProjectCounter) ListProjects(ctx context.Context, teamID, groupID string) ([]domain.Project, error) {
	return nil, nil
}
func (s *stubProjectCounter) CountProjectsByGroup(ctx context.Context, groupID string) (int, error) {
	return s.count, nil
}
func (s *stubProjectCounter) UpdateProject(ctx context.Context, project *domain.Project) error {
	return nil
}
func (s *stubProjectCounter) DeleteProject(ctx context.Context, projectID string) error { return nil }

type stubMemberRepository struct {
	member domain.Member
}

func (s *stubMemberRepository) UpsertMember(ctx context.Context, m *domain.Member) error { return nil }
func (s *stubMemberRepository) GetMemberByAccountID(ctx context.Context, accountID string) (*domain.Member, error) {
	if accountID != s.member.AccountID {
		return nil, repository.ErrNotFound
	}
	m := s.member
	return &m, nil
}

type stubRepoGateway struct {
	subGroupErr   error
	subGroupCalls int
	nextID        int64
}

func (s *stubRepoGateway) CreateRootGroup(ctx context.Context, slug, accessToken string) (*gateway.RemoteGroup, error) {
	return &gateway.RemoteGroup{ID: 1, Path: slug}, nil
}

func (s *stubRepoGateway) CreateSubGroup(ctx context.Context, slug, accessToken string, parentID int64) (*gateway.RemoteGroup, error) {
	s.subGroupCalls++
	if s.subGroupErr != nil {
		return nil, s.subGroupErr
	}
	if s.nextID == 0 {
		s.nextID = 77
	}
	return &gateway.RemoteGroup{ID: s.nextID, Path: slug, FullPath: fmt.Sprintf("team/%s", slug)}, nil
}

func (s *stubRepoGateway) CreateProject(ctx context.Context, slug, accessToken string, groupID int64) (*gateway.RemoteProject, error) {
	return nil, gateway.ErrRejected
}
func (s *stubRepoGateway) DeleteProject(ctx context.Context, repositoryID int64, accessToken string) error {
	return nil
}
func (s *stubRepoGateway) ListBranches(ctx context.Context, repositoryID int64, accessToken string) ([]gateway.Branch, error) {
	return nil, nil
}
func (s *stubRepoGateway) ListTags(ctx context.Context, repositoryID int64, accessToken string) ([]gateway.Tag, error) {
	return nil, nil
}
func (s *stubRepoGateway) CreateTag(ctx context.Context, repositoryID int64, input gateway.TagInput, accessToken string) (*gateway.Tag, error) {
	return nil, nil
}

type noopAuditRepository struct{}

func (noopAuditRepository) InsertOperationLog(ctx context.Context, entry *domain.OperationLog) error {
	return nil
}
func (noopAuditRepository) InsertActivity(ctx context.Context, entry *domain.ActivityEntry) error {
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testMemberService(t *testing.T) member.Service {
	t.Helper()
	accessToken, err := crypto.EncryptString(testCredentialKey, "git-token")
	if err != nil {
		t.Fatalf("encrypt access token: %v", err)
	}
	apiToken, err := crypto.EncryptString(testCredentialKey, "build-token")
	if err != nil {
		t.Fatalf("encrypt api token: %v", err)
	}
	members := &stubMemberRepository{member: domain.Member{
		ID:          "member-1",
		TeamID:      "team-1",
		AccountID:   "user-1",
		Name:        "dev",
		AccessToken: accessToken,
		APIToken:    apiToken,
		CreatedAt:   time.Now(),
	}}
	return member.New(members, testLogger(), testCredentialKey)
}

func testCatalog(t *testing.T) *codetext.Catalog {
	t.Helper()
	catalog, err := codetext.Default()
	if err != nil {
		t.Fatalf("build catalog: %v", err)
	}
	return catalog
}

func newTestService(t *testing.T, groups *stubGroupRepository, teams *stubTeamRepository, projects *stubProjectCounter, repos *stubRepoGateway) Service {
	t.Helper()
	log := testLogger()
	return New(groups, teams, projects, testMemberService(t), repos, audit.New(noopAuditRepository{}, log), testCatalog(t), log)
}

func testActor() identity.Actor {
	return identity.Actor{ID: "user-1", Name: "dev", TeamID: "team-1"}
}

func teamWithRemote() *stubTeamRepository {
	repoID := int64(10)
	return &stubTeamRepository{team: domain.Team{ID: "team-1", Slug: "acme", RepositoryID: &repoID}}
}

func TestCreateLinksRemoteSubGroup(t *testing.T) {
	groups := newStubGroupRepository()
	repos := &stubRepoGateway{nextID: 42}
	svc := newTestService(t, groups, teamWithRemote(), &stubProjectCounter{}, repos)

	created, err := svc.Create(context.Background(), testActor(), CreateInput{Name: "Platform", Slug: "Platform"})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if created.RepositoryID == nil || *created.RepositoryID != 42 {
		t.Fatalf("expected repository id 42, got %+v", created.RepositoryID)
	}
	if created.Slug != "platform" {
		t.Fatalf("expected normalized slug, got %q", created.Slug)
	}
	stored, ok := groups.groups[created.ID]
	if !ok {
		t.Fatalf("group row missing after create")
	}
	if stored.RepositoryID == nil || *stored.RepositoryID != 42 {
		t.Fatalf("stored row not linked: %+v", stored.RepositoryID)
	}
}

func TestCreateCompensatesOnRemoteRejection(t *testing.T) {
	groups := newStubGroupRepository()
	teams := teamWithRemote()
	repos := &stubRepoGateway{subGroupErr: fmt.Errorf("%w: name taken", gateway.ErrRejected)}
	svc := newTestService(t, groups, teams, &stubProjectCounter{}, repos)

	_, err := svc.Create(context.Background(), testActor(), CreateInput{Name: "Platform", Slug: "platform"})
	if status.KindOf(err) != status.RemoteCallFailed {
		t.Fatalf("expected RemoteCallFailed, got %v", err)
	}
	if len(groups.groups) != 0 {
		t.Fatalf("expected local row rolled back, %d rows remain", len(groups.groups))
	}
	if teams.groupsDelta != 0 {
		t.Fatalf("expected counter restored, delta is %d", teams.groupsDelta)
	}
}

func TestCreateKeepsRowOnTransportFailure(t *testing.T) {
	groups := newStubGroupRepository()
	repos := &stubRepoGateway{subGroupErr: errors.New("connection reset")}
	svc := newTestService(t, groups, teamWithRemote(), &stubProjectCounter{}, repos)

	_, err := svc.Create(context.Background(), testActor(), CreateInput{Name: "Platform", Slug: "platform"})
	if status.KindOf(err) != status.RemoteCallFailed {
		t.Fatalf("expected RemoteCallFailed, got %v", err)
	}
	// Remote outcome unknown: the row must survive for diagnosis.
	if len(groups.groups) != 1 {
		t.Fatalf("expected local row kept, %d rows remain", len(groups.groups))
	}
}

func TestCreateBlockedWithoutTeamParent(t *testing.T) {
	groups := newStubGroupRepository()
	teams := &stubTeamRepository{team: domain.Team{ID: "team-1", Slug: "acme"}}
	repos := &stubRepoGateway{}
	svc := newTestService(t, groups, teams, &stubProjectCounter{}, repos)

	_, err := svc.Create(context.Background(), testActor(), CreateInput{Name: "Platform", Slug: "platform"})
	if status.CodeOf(err) != status.CodeGroupParentIDMissing {
		t.Fatalf("expected GroupParentIdMissing, got %v", err)
	}
	if repos.subGroupCalls != 0 {
		t.Fatalf("remote call must not happen without a parent, got %d calls", repos.subGroupCalls)
	}
	if len(groups.groups) != 0 {
		t.Fatalf("expected local row rolled back")
	}
}

func TestCreateReportsOrphanWhenLinkFails(t *testing.T) {
	groups := newStubGroupRepository()
	groups.linkErr = errors.New("db down")
	svc := newTestService(t, groups, teamWithRemote(), &stubProjectCounter{}, &stubRepoGateway{nextID: 42})

	_, err := svc.Create(context.Background(), testActor(), CreateInput{Name: "Platform", Slug: "platform"})
	if status.KindOf(err) != status.OrphanedRemoteResource {
		t.Fatalf("expected OrphanedRemoteResource, got %v", err)
	}
	// The row stays so the orphan can be reconciled by hand.
	if len(groups.groups) != 1 {
		t.Fatalf("expected local row kept for reconciliation")
	}
}

func TestDeleteBlockedWhileProjectsExist(t *testing.T) {
	groups := newStubGroupRepository()
	groups.groups["group-1"] = domain.Group{ID: "group-1", TeamID: "team-1", Slug: "platform"}
	svc := newTestService(t, groups, teamWithRemote(), &stubProjectCounter{count: 2}, &stubRepoGateway{})

	err := svc.Delete(context.Background(), testActor(), "group-1")
	if status.CodeOf(err) != status.CodeGroupHasProjects {
		t.Fatalf("expected GroupHasProjects, got %v", err)
	}
	if _, ok := groups.groups["group-1"]; !ok {
		t.Fatalf("group must survive a blocked delete")
	}
}

func TestDeleteRemovesEmptyGroup(t *testing.T) {
	groups := newStubGroupRepository()
	groups.groups["group-1"] = domain.Group{ID: "group-1", TeamID: "team-1", Slug: "platform"}
	teams := teamWithRemote()
	svc := newTestService(t, groups, teams, &stubProjectCounter{}, &stubRepoGateway{})

	if err := svc.Delete(context.Background(), testActor(), "group-1"); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if len(groups.groups) != 0 {
		t.Fatalf("expected group removed")
	}
	if teams.groupsDelta != -1 {
		t.Fatalf("expected counter decremented, delta is %d", teams.groupsDelta)
	}
}

func TestDeleteMissingGroup(t *testing.T) {
	svc := newTestService(t, newStubGroupRepository(), teamWithRemote(), &stubProjectCounter{}, &stubRepoGateway{})

	err := svc.Delete(context.Background(), testActor(), "nope")
	if status.KindOf(err) != status.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestGetResolvesStatusText(t *testing.T) {
	groups := newStubGroupRepository()
	groups.groups["group-1"] = domain.Group{ID: "group-1", TeamID: "team-1", Status: domain.GroupStatusActive}
	svc := newTestService(t, groups, teamWithRemote(), &stubProjectCounter{}, &stubRepoGateway{})

	view, err := svc.Get(context.Background(), "group-1")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if view.StatusText != "active" {
		t.Fatalf("expected status text %q, got %q", "active", view.StatusText)
	}
}
