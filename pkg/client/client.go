// Package client is a small HTTP client for the dashboard read API.
// External monitors and the status command use it to poll tracking rows
// and recent audit activity without touching the databases directly.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client communicates with a running owfill daemon.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration.
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger // optional logger for client operations
}

// DefaultConfig returns default client configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:8080/api",
		Timeout: 10 * time.Second,
	}
}

// New creates a dashboard API client.
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:8080/api"
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
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

// IsReachable checks if the daemon is running and answering.
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status", nil)
	if err != nil {
		c.logger.Debug("failed to create reachability request", "error", err)
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("daemon unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// Status returns all tracking rows.
func (c *Client) Status(ctx context.Context) ([]Tracking, error) {
	var out []Tracking
	if err := c.get(ctx, c.baseURL+"/status", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CallTypeStatus returns the tracking row for one call type.
func (c *Client) CallTypeStatus(ctx context.Context, callType string) (Tracking, error) {
	var out Tracking
	err := c.get(ctx, c.baseURL+"/status?call_type="+url.QueryEscape(callType), &out)
	return out, err
}

// RecentCalls returns the most recent call audit rows for a call type.
func (c *Client) RecentCalls(ctx context.Context, callType string, limit int) ([]Call, error) {
	var out []Call
	u := c.baseURL + "/calls/recent?call_type=" + url.QueryEscape(callType) + "&limit=" + strconv.Itoa(limit)
	if err := c.get(ctx, u, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// RecentOutcomes returns the most recent store-outcome rows for a call type.
func (c *Client) RecentOutcomes(ctx context.Context, callType string, limit int) ([]Outcome, error) {
	var out []Outcome
	u := c.baseURL + "/outcomes/recent?call_type=" + url.QueryEscape(callType) + "&limit=" + strconv.Itoa(limit)
	if err := c.get(ctx, u, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Overview returns the per-call-type summary the dashboard landing page
// renders.
func (c *Client) Overview(ctx context.Context) (map[string]Overview, error) {
	var out map[string]Overview
	if err := c.get(ctx, c.baseURL+"/overview", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// get performs a GET and decodes the JSON response into v, translating
// error payloads into errors.
func (c *Client) get(ctx context.Context, u string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	c.logger.Debug("dashboard request", "url", u)
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr ErrorResponse
		if jerr := json.Unmarshal(body, &apiErr); jerr == nil && apiErr.Error != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}

	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
