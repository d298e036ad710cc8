// Package client is a Go client for the botgate HTTP API, used by the CLI
// and by bot adapters that gate incoming messages.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

type Options struct {
	BaseURL          string
	AdminToken       string
	Timeout          time.Duration
	RetryInitialMs   int
	RetryMaxMs       int
	RetryMaxAttempts int
}

type Client struct {
	baseURL    string
	adminToken string
	http       *http.Client
	retry      *retrier
}

func New(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    opts.BaseURL,
		adminToken: opts.AdminToken,
		http:       &http.Client{Timeout: timeout},
		retry:      newRetrier(opts.RetryInitialMs, opts.RetryMaxMs, opts.RetryMaxAttempts),
	}
}

// CheckParams identifies the request to gate.
type CheckParams struct {
	UserID    string `json:"user_id"`
	RoleID    string `json:"role_id,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	ChatID    string `json:"chat_id,omitempty"`
}

// Decision mirrors the server's access-check response.
type Decision struct {
	Access           string     `json:"access"`
	Permissions      string     `json:"permissions"`
	RateLimitedUntil *time.Time `json:"rate_limited_until,omitempty"`
}

// User mirrors the server's user listing.
type User struct {
	UserID    string    `json:"user_id"`
	ChatID    string    `json:"chat_id"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Check evaluates one incoming request, retrying on transient failures.
func (c *Client) Check(ctx context.Context, params CheckParams) (*Decision, error) {
	var decision Decision
	err := c.retry.do(func() error {
		body, err := json.Marshal(params)
		if err != nil {
			return err
		}
		return c.doJSON(ctx, http.MethodPost, "/v1/access/check", bytes.NewReader(body), &decision)
	}, isRetryableHTTP)
	if err != nil {
		return nil, err
	}
	return &decision, nil
}

// Users lists known users. Requires the admin token.
func (c *Client) Users(ctx context.Context) ([]User, error) {
	var list []User
	err := c.retry.do(func() error {
		return c.doJSON(ctx, http.MethodGet, "/v1/users", nil, &list)
	}, isRetryableHTTP)
	if err != nil {
		return nil, err
	}
	return list, nil
}

// User fetches one user. Requires the admin token.
func (c *Client) User(ctx context.Context, userID string) (*User, error) {
	var user User
	err := c.retry.do(func() error {
		return c.doJSON(ctx, http.MethodGet, "/v1/users/"+userID, nil, &user)
	}, isRetryableHTTP)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Health fetches the server's dependency status.
func (c *Client) Health(ctx context.Context) (map[string]any, error) {
	var status map[string]any
	if err := c.doJSON(ctx, http.MethodGet, "/v1/health", nil, &status); err != nil {
		return nil, err
	}
	return status, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.adminToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.adminToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if isRetryableStatus(resp.StatusCode) {
		return retryableStatusError{status: resp.StatusCode}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: server returned %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(payload))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
