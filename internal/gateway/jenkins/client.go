// Package jenkins implements the build gateway against a
// Jenkins-compatible REST API.
package jenkins

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"github.com/sethvargo/go-retry"

	"github.com/kisscloud/nest/internal/gateway"
)

// Client talks to the build host. Requests authenticate with basic auth;
// the username is the acting member's account and the password their API
// token on the build host.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

var _ gateway.BuildGateway = (*Client)(nil)

// New constructs a Client for the given host.
func New(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// CreateJob registers a job definition from its config XML.
func (c *Client) CreateJob(ctx context.Context, jobName, configXML, actorName, apiToken string) error {
	endpoint := "/createItem?name=" + url.QueryEscape(jobName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, strings.NewReader(configXML))
	if err != nil {
		return err
	}
	req.SetBasicAuth(actorName, apiToken)
	req.Header.Set("Content-Type", "application/xml")
	_, _, err = c.send(req)
	return err
}

// DeleteJob removes a job definition. The call is idempotent on the build
// host, so transient failures are retried.
func (c *Client) DeleteJob(ctx context.Context, jobName, actorName, apiToken string) error {
	endpoint := "/job/" + url.PathEscape(jobName) + "/doDelete"
	backoff := retry.WithMaxRetries(3, retry.NewExponential(200*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, nil)
		if err != nil {
			return err
		}
		req.SetBasicAuth(actorName, apiToken)
		_, _, err = c.send(req)
		return err
	})
}

// TriggerBuild queues a run and returns the queue item id taken from the
// Location response header.
func (c *Client) TriggerBuild(ctx context.Context, jobName string, params map[string]string, actorName, apiToken string) (int64, error) {
	form := url.Values{}
	for key, value := range params {
		form.Set(key, value)
	}
	endpoint := "/job/" + url.PathEscape(jobName) + "/buildWithParameters"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return 0, err
	}
	req.SetBasicAuth(actorName, apiToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	_, location, err := c.send(req)
	if err != nil {
		return 0, err
	}
	queueID, err := parseQueueID(location)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", gateway.ErrRejected, err)
	}
	return queueID, nil
}

// parseQueueID extracts the trailing numeric id from a queue item URL such
// as http://host/queue/item/42/.
func parseQueueID(location string) (int64, error) {
	trimmed := strings.TrimSuffix(location, "/")
	idx := strings.LastIndex(trimmed, "/")
	if idx < 0 || idx == len(trimmed)-1 {
		return 0, fmt.Errorf("queue location %q has no item id", location)
	}
	id, err := strconv.ParseInt(trimmed[idx+1:], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("queue location %q has no item id", location)
	}
	return id, nil
}

func (c *Client) send(req *http.Request) ([]byte, string, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("build host request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("build host response: %w", err)
	}
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 400:
		return body, resp.Header.Get("Location"), nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		if c.logger != nil {
			c.logger.Warn("build host rejected request", "method", req.Method, "path", req.URL.Path, "status", resp.StatusCode)
		}
		return nil, "", fmt.Errorf("%w: %s %s: status %d", gateway.ErrRejected, req.Method, req.URL.Path, resp.StatusCode)
	default:
		return nil, "", retry.RetryableError(fmt.Errorf("build host error: %s %s: status %d", req.Method, req.URL.Path, resp.StatusCode))
	}
}
