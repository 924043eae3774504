package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client provides HTTP client functionality to communicate with the realm admin API
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger // Optional logger for client operations
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://127.0.0.1:8001/api",
		Timeout: 10 * time.Second,
	}
}

// New creates a new realm admin API client
func New(config Config) *Client {
	def := DefaultConfig()
	if config.BaseURL == "" {
		config.BaseURL = def.BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = def.Timeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Client{
		baseURL: config.BaseURL,
		logger:  config.Logger,
		client:  &http.Client{Timeout: config.Timeout},
	}
}

// IsReachable checks if the admin API is up
func (c *Client) IsReachable(ctx context.Context) bool {
	err := c.do(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		c.logger.Debug("Admin API unreachable", "error", err)
		return false
	}
	return true
}

// List returns the status of every process
func (c *Client) List(ctx context.Context) ([]ProcessStatus, error) {
	var out []ProcessStatus
	return out, c.do(ctx, http.MethodGet, "/processes", &out)
}

// Status returns the status of one process
func (c *Client) Status(ctx context.Context, name string) (ProcessStatus, error) {
	var out ProcessStatus
	return out, c.do(ctx, http.MethodGet, "/processes/"+url.PathEscape(name), &out)
}

// Start starts one process
func (c *Client) Start(ctx context.Context, name string) error {
	return c.action(ctx, name, "start")
}

// Stop stops one process
func (c *Client) Stop(ctx context.Context, name string) error {
	return c.action(ctx, name, "stop")
}

// Restart restarts one process
func (c *Client) Restart(ctx context.Context, name string) error {
	return c.action(ctx, name, "restart")
}

// StartAll starts every process and returns per-process results
func (c *Client) StartAll(ctx context.Context) ([]Result, error) {
	var out []Result
	return out, c.do(ctx, http.MethodPost, "/start-all", &out)
}

// StopAll stops every process and returns per-process results
func (c *Client) StopAll(ctx context.Context) ([]Result, error) {
	var out []Result
	return out, c.do(ctx, http.MethodPost, "/stop-all", &out)
}

// Routes returns the route table in display order
func (c *Client) Routes(ctx context.Context) ([]Route, error) {
	var out []Route
	return out, c.do(ctx, http.MethodGet, "/routes", &out)
}

// History returns recent lifecycle events, newest first. An empty name
// returns events of every process.
func (c *Client) History(ctx context.Context, name string, limit int) ([]HistoryEvent, error) {
	q := url.Values{}
	if name != "" {
		q.Set("name", name)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/history"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out []HistoryEvent
	return out, c.do(ctx, http.MethodGet, path, &out)
}

func (c *Client) action(ctx context.Context, name, verb string) error {
	c.logger.Debug("Process action", "name", name, "action", verb)
	return c.do(ctx, http.MethodPost, "/processes/"+url.PathEscape(name)+"/"+verb, nil)
}

// do performs a request and decodes a JSON response into out when non-nil
func (c *Client) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.handleErrorResponse(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// handleErrorResponse handles HTTP error responses
func (c *Client) handleErrorResponse(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var errorResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errorResp); err == nil {
		apiErr.Message = errorResp.Error
	}
	c.logger.Debug("API request failed", "error", apiErr.Message, "status", resp.StatusCode)
	return apiErr
}

// IsNotFound reports whether err is an API error with status 404
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}
