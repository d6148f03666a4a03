// Package gitlab implements the repository gateway against a
// GitLab-compatible REST API (v4).
package gitlab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"log/slog"

	"github.com/sethvargo/go-retry"

	"github.com/kisscloud/nest/internal/gateway"
)

const tokenHeader = "PRIVATE-TOKEN"

// Client talks to the source-control host.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

var _ gateway.RepositoryGateway = (*Client)(nil)

// New constructs a Client for the given host.
func New(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type remoteGroupPayload struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Path     string `json:"path"`
	FullPath string `json:"full_path"`
}

type remoteProjectPayload struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	HTTPURL       string `json:"http_url_to_repo"`
	SSHURL        string `json:"ssh_url_to_repo"`
	DefaultBranch string `json:"default_branch"`
}

// CreateRootGroup creates a top-level group named by slug.
func (c *Client) CreateRootGroup(ctx context.Context, slug, accessToken string) (*gateway.RemoteGroup, error) {
	return c.createGroup(ctx, slug, accessToken, 0)
}

// CreateSubGroup creates a sub-group under parentID.
func (c *Client) CreateSubGroup(ctx context.Context, slug, accessToken string, parentID int64) (*gateway.RemoteGroup, error) {
	return c.createGroup(ctx, slug, accessToken, parentID)
}

func (c *Client) createGroup(ctx context.Context, slug, accessToken string, parentID int64) (*gateway.RemoteGroup, error) {
	form := url.Values{}
	form.Set("name", slug)
	form.Set("path", slug)
	if parentID > 0 {
		form.Set("parent_id", strconv.FormatInt(parentID, 10))
	}
	body, err := c.do(ctx, http.MethodPost, "/api/v4/groups", form, accessToken)
	if err != nil {
		return nil, err
	}
	var payload remoteGroupPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode group response: %w", err)
	}
	return &gateway.RemoteGroup{
		ID:       payload.ID,
		Name:     payload.Name,
		Path:     payload.Path,
		FullPath: payload.FullPath,
	}, nil
}

// CreateProject creates a repository under the given remote group.
func (c *Client) CreateProject(ctx context.Context, slug, accessToken string, groupID int64) (*gateway.RemoteProject, error) {
	form := url.Values{}
	form.Set("name", slug)
	form.Set("path", slug)
	form.Set("namespace_id", strconv.FormatInt(groupID, 10))
	body, err := c.do(ctx, http.MethodPost, "/api/v4/projects", form, accessToken)
	if err != nil {
		return nil, err
	}
	var payload remoteProjectPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode project response: %w", err)
	}
	return &gateway.RemoteProject{
		ID:            payload.ID,
		Name:          payload.Name,
		HTTPURL:       payload.HTTPURL,
		SSHURL:        payload.SSHURL,
		DefaultBranch: payload.DefaultBranch,
	}, nil
}

// DeleteProject removes a repository. Deletion is idempotent on the remote
// side, so transient transport failures are retried with backoff.
func (c *Client) DeleteProject(ctx context.Context, repositoryID int64, accessToken string) error {
	path := fmt.Sprintf("/api/v4/projects/%d", repositoryID)
	return c.withRetry(ctx, func(ctx context.Context) error {
		_, err := c.do(ctx, http.MethodDelete, path, nil, accessToken)
		return err
	})
}

// ListBranches enumerates repository branches.
func (c *Client) ListBranches(ctx context.Context, repositoryID int64, accessToken string) ([]gateway.Branch, error) {
	path := fmt.Sprintf("/api/v4/projects/%d/repository/branches", repositoryID)
	var body []byte
	err := c.withRetry(ctx, func(ctx context.Context) error {
		var err error
		body, err = c.do(ctx, http.MethodGet, path, nil, accessToken)
		return err
	})
	if err != nil {
		return nil, err
	}
	var payload []struct {
		Name   string `json:"name"`
		Commit struct {
			ID string `json:"id"`
		} `json:"commit"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode branches response: %w", err)
	}
	branches := make([]gateway.Branch, 0, len(payload))
	for _, item := range payload {
		if item.Name == "" {
			continue
		}
		branches = append(branches, gateway.Branch{Name: item.Name, CommitSHA: item.Commit.ID})
	}
	return branches, nil
}

// ListTags enumerates repository tags with release metadata.
func (c *Client) ListTags(ctx context.Context, repositoryID int64, accessToken string) ([]gateway.Tag, error) {
	path := fmt.Sprintf("/api/v4/projects/%d/repository/tags", repositoryID)
	var body []byte
	err := c.withRetry(ctx, func(ctx context.Context) error {
		var err error
		body, err = c.do(ctx, http.MethodGet, path, nil, accessToken)
		return err
	})
	if err != nil {
		return nil, err
	}
	return decodeTags(body)
}

// CreateTag creates an annotated tag with an optional release description.
func (c *Client) CreateTag(ctx context.Context, repositoryID int64, input gateway.TagInput, accessToken string) (*gateway.Tag, error) {
	form := url.Values{}
	form.Set("tag_name", input.Name)
	form.Set("ref", input.Ref)
	if input.Message != "" {
		form.Set("message", input.Message)
	}
	if input.ReleaseDescription != "" {
		form.Set("release_description", input.ReleaseDescription)
	}
	path := fmt.Sprintf("/api/v4/projects/%d/repository/tags", repositoryID)
	body, err := c.do(ctx, http.MethodPost, path, form, accessToken)
	if err != nil {
		return nil, err
	}
	tag, err := decodeTag(body)
	if err != nil {
		return nil, err
	}
	return tag, nil
}

type tagPayload struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Commit  struct {
		CommittedDate time.Time `json:"committed_date"`
	} `json:"commit"`
	Release *struct {
		Description string `json:"description"`
	} `json:"release"`
}

func decodeTags(body []byte) ([]gateway.Tag, error) {
	var payload []tagPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode tags response: %w", err)
	}
	tags := make([]gateway.Tag, 0, len(payload))
	for _, item := range payload {
		if item.Name == "" {
			continue
		}
		tags = append(tags, fromTagPayload(item))
	}
	return tags, nil
}

func decodeTag(body []byte) (*gateway.Tag, error) {
	var payload tagPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode tag response: %w", err)
	}
	tag := fromTagPayload(payload)
	return &tag, nil
}

func fromTagPayload(payload tagPayload) gateway.Tag {
	tag := gateway.Tag{
		Name:        payload.Name,
		Message:     payload.Message,
		CommittedAt: payload.Commit.CommittedDate,
	}
	if payload.Release != nil {
		tag.Description = payload.Release.Description
	}
	return tag
}

// do performs one request. 4xx responses are semantic rejections; everything
// else unexpected is a transport error whose remote effect is unknown.
func (c *Client) do(ctx context.Context, method, path string, form url.Values, accessToken string) ([]byte, error) {
	var reqBody io.Reader
	if form != nil {
		reqBody = bytes.NewBufferString(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set(tokenHeader, accessToken)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("git host request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("git host response: %w", err)
	}
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		if c.logger != nil {
			c.logger.Warn("git host rejected request", "method", method, "path", path, "status", resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: %s %s: status %d", gateway.ErrRejected, method, path, resp.StatusCode)
	default:
		return nil, retry.RetryableError(fmt.Errorf("git host error: %s %s: status %d", method, path, resp.StatusCode))
	}
}

// withRetry wraps idempotent calls with exponential backoff. Creation calls
// never go through here; retrying those could duplicate remote resources.
func (c *Client) withRetry(ctx context.Context, fn func(context.Context) error) error {
	backoff := retry.WithMaxRetries(3, retry.NewExponential(200*time.Millisecond))
	return retry.Do(ctx, backoff, fn)
}
