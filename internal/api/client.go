package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"todoagent/internal/storage"
)

// StatusError 非 2xx 响应 / a non-2xx response from the Record API
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("todo api returned %d", e.StatusCode)
	}
	return fmt.Sprintf("todo api returned %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the Record API.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}

// Client Record API 的 HTTP 客户端
// Client talks to the Record API over HTTP
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) ListTodos(ctx context.Context) ([]storage.Todo, error) {
	var items []storage.Todo
	if err := c.do(ctx, http.MethodGet, "/todos", nil, &items); err != nil {
		return nil, err
	}
	if items == nil {
		items = []storage.Todo{}
	}
	return items, nil
}

func (c *Client) CreateTodo(ctx context.Context, title string) (storage.Todo, error) {
	var item storage.Todo
	err := c.do(ctx, http.MethodPost, "/todos", map[string]string{"title": title}, &item)
	return item, err
}

func (c *Client) UpdateTodo(ctx context.Context, id int64, patch storage.TodoPatch) (storage.Todo, error) {
	body := updateRequest{Title: patch.Title, Completed: patch.Completed}
	var item storage.Todo
	err := c.do(ctx, http.MethodPut, fmt.Sprintf("/todos/%d", id), body, &item)
	return item, err
}

func (c *Client) DeleteTodo(ctx context.Context, id int64) error {
	var out struct {
		Success bool `json:"success"`
	}
	if err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/todos/%d", id), nil, &out); err != nil {
		return err
	}
	if !out.Success {
		return fmt.Errorf("delete todo %d: api did not report success", id)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(raw, &apiErr)
		msg := apiErr.Error
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return &StatusError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}
