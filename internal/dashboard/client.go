// Package dashboard is a typed client for the daypack task API. It rides on
// authclient.Sender, so every mutating call carries a CSRF token and gets the
// pipeline's single refresh-and-retry on rejection.
package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"daypack.app/internal/authclient"
)

// Task mirrors the API task payload.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Notes       string     `json:"notes,omitempty"`
	Done        bool       `json:"done"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// APIError is a non-2xx response from the task API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("dashboard: api error %d: %s", e.Status, e.Message)
}

// Client calls the task endpoints through an authenticated sender.
type Client struct {
	base   string
	sender *authclient.Sender
}

// NewClient builds a Client for the given origin, e.g. "https://api.daypack.app".
func NewClient(sender *authclient.Sender, baseURL string) (*Client, error) {
	if sender == nil {
		return nil, errors.New("dashboard: sender is required")
	}
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("dashboard: invalid base URL %q", baseURL)
	}
	return &Client{base: strings.TrimRight(baseURL, "/"), sender: sender}, nil
}

// ListTasks fetches the caller's tasks.
func (c *Client) ListTasks(ctx context.Context) ([]Task, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/v1/tasks", nil)
	if err != nil {
		return nil, err
	}
	var body struct {
		Tasks []Task `json:"tasks"`
	}
	if err := c.do(req, http.StatusOK, &body); err != nil {
		return nil, err
	}
	return body.Tasks, nil
}

// CreateTask creates a task. Each call carries a fresh Idempotency-Key so a
// retried request cannot create a duplicate.
func (c *Client) CreateTask(ctx context.Context, title, notes string) (*Task, error) {
	payload, err := json.Marshal(map[string]string{"title": title, "notes": notes})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/v1/tasks", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", uuid.NewString())

	var body struct {
		Task *Task `json:"task"`
	}
	if err := c.do(req, http.StatusCreated, &body); err != nil {
		return nil, err
	}
	return body.Task, nil
}

// CompleteTask marks the task done. Completing twice is a no-op server side.
func (c *Client) CompleteTask(ctx context.Context, id string) (*Task, error) {
	if id == "" {
		return nil, errors.New("dashboard: task id is required")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.base+"/v1/tasks/"+url.PathEscape(id)+"/complete", nil)
	if err != nil {
		return nil, err
	}
	var body struct {
		Task *Task `json:"task"`
	}
	if err := c.do(req, http.StatusOK, &body); err != nil {
		return nil, err
	}
	return body.Task, nil
}

func (c *Client) do(req *http.Request, want int, out any) error {
	resp, err := c.sender.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != want {
		return &APIError{Status: resp.StatusCode, Message: readAPIError(resp.Body)}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func readAPIError(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return ""
	}
	var body struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if body.Detail != "" {
			return body.Detail
		}
		if body.Error != "" {
			return body.Error
		}
	}
	return strings.TrimSpace(string(raw))
}
