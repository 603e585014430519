package tasklinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client is a minimal Taskline HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Task represents the API task model (partial).
type Task struct {
	ID                int64   `json:"id"`
	Title             string  `json:"title"`
	RepoPath          string  `json:"repo_path"`
	Request           string  `json:"request"`
	PreferredProvider string  `json:"preferred_provider"`
	Status            string  `json:"status"`
	ProviderUsed      string  `json:"provider_used"`
	CreatedAt         string  `json:"created_at"`
	FinishedAt        *string `json:"finished_at,omitempty"`
	Priority          int     `json:"priority"`
	LastError         *string `json:"last_error,omitempty"`
	BranchName        *string `json:"branch_name,omitempty"`
	CommitHash        *string `json:"commit_hash,omitempty"`
}

// Event represents a queue log entry.
type Event struct {
	ID      string `json:"id"`
	TS      string `json:"ts"`
	Type    string `json:"type"`
	TaskID  *int64 `json:"task_id,omitempty"`
	Payload string `json:"payload_json"`
}

// CreateTaskInput carries the fields accepted when enqueueing a task.
type CreateTaskInput struct {
	Title             string  `json:"title"`
	RepoPath          string  `json:"repo_path"`
	Request           string  `json:"request"`
	Constraints       *string `json:"constraints,omitempty"`
	Acceptance        *string `json:"acceptance,omitempty"`
	PreferredProvider string  `json:"preferred_provider,omitempty"`
	DependsOnTaskID   *int64  `json:"depends_on_task_id,omitempty"`
	Priority          int     `json:"priority,omitempty"`
	RunAfter          *string `json:"run_after,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateTask enqueues a task.
func (c *Client) CreateTask(ctx context.Context, input CreateTaskInput) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, "v0/tasks", input, &resp)
	return resp, err
}

// GetTask fetches one task by id.
func (c *Client) GetTask(ctx context.Context, id int64) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v0/tasks/%d", id), nil, &resp)
	return resp, err
}

// ListTasks returns tasks newest first.
func (c *Client) ListTasks(ctx context.Context) ([]Task, error) {
	var resp struct {
		Items []Task `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "v0/tasks", nil, &resp)
	return resp.Items, err
}

// CancelTask cancels a queued task.
func (c *Client) CancelTask(ctx context.Context, id int64) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/tasks/%d/cancel", id), nil, &resp)
	return resp, err
}

// PeekNextTask previews what the next claim would select; nil when the
// queue has no eligible task.
func (c *Client) PeekNextTask(ctx context.Context) (*Task, error) {
	var resp struct {
		Task *Task `json:"task"`
	}
	err := c.do(ctx, http.MethodGet, "v0/tasks/next", nil, &resp)
	return resp.Task, err
}

// Stats returns task counts by status.
func (c *Client) Stats(ctx context.Context) (map[string]int, error) {
	var resp struct {
		Counts map[string]int `json:"counts"`
	}
	err := c.do(ctx, http.MethodGet, "v0/stats", nil, &resp)
	return resp.Counts, err
}

// Events returns recent queue events.
func (c *Client) Events(ctx context.Context, limit int, evtType string) ([]Event, error) {
	endpoint := "v0/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?n=%d", endpoint, limit)
	}
	if evtType != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%stype=%s", endpoint, sep, evtType)
	}
	var resp struct {
		Items []Event `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
