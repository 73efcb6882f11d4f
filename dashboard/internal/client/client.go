// Package client provides the dashboard server REST API client.
//
// # Operations
//
// Snapshots:
//   - Status, Agents, Agent, Alerts, Timeline, Resources, Metrics, Config
//
// Mutations:
//   - ResolveAlert, AcknowledgeAlert, UpdateThresholds
//
// Liveness:
//   - Health (served outside the /api prefix)
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/pilot-net/healthdash/dashboard/internal/telemetry"
	"github.com/pilot-net/healthdash/pkg/types"
)

// Client talks to the dashboard server over HTTP.
type Client struct {
	baseURL     string
	healthURL   string
	httpClient  *http.Client
	timeout     time.Duration
	authToken   string
	rateLimiter *rate.Limiter
	logger      *slog.Logger
}

// Config for the client.
type Config struct {
	BaseURL    string        // REST base including the /api prefix
	HealthURL  string        // Liveness probe URL
	AuthToken  string        // Optional bearer token
	Timeout    time.Duration // Per-request timeout (default: 10s)
	RateLimit  int           // Requests per minute (0 = unlimited)
	HTTPClient *http.Client  // HTTP client (optional)
	Logger     *slog.Logger  // Logger (optional)
}

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return e.Message
}

// IsNotFound reports whether err is an APIError with status 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// NewClient creates a new dashboard API client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: timeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	healthURL := cfg.HealthURL
	if healthURL == "" {
		healthURL = strings.TrimSuffix(strings.TrimSuffix(cfg.BaseURL, "/"), "/api") + "/health"
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.RateLimit)/60.0), 1)
	}

	return &Client{
		baseURL:     strings.TrimSuffix(cfg.BaseURL, "/"),
		healthURL:   healthURL,
		httpClient:  cfg.HTTPClient,
		timeout:     timeout,
		authToken:   cfg.AuthToken,
		rateLimiter: limiter,
		logger:      cfg.Logger.With("component", "api_client"),
	}
}

// AlertQuery filters GET /alerts.
type AlertQuery struct {
	Status   types.AlertStatusFilter
	Severity types.AlertSeverity
	Limit    int
}

func (q AlertQuery) encode() string {
	v := url.Values{}
	if q.Status != "" {
		v.Set("status", string(q.Status))
	}
	if q.Severity != "" {
		v.Set("severity", string(q.Severity))
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if len(v) == 0 {
		return ""
	}
	return "?" + v.Encode()
}

// Status fetches the system status snapshot.
func (c *Client) Status(ctx context.Context) (*types.SystemHealthSummary, error) {
	var result types.SystemHealthSummary
	if err := c.getJSON(ctx, "status", "/status", &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Agents fetches the full agent list.
func (c *Client) Agents(ctx context.Context) ([]types.AgentHealthStatus, error) {
	var result struct {
		Agents []types.AgentHealthStatus `json:"agents"`
	}
	if err := c.getJSON(ctx, "agents", "/agents", &result); err != nil {
		return nil, err
	}
	return result.Agents, nil
}

// Agent fetches one agent with its recent history.
func (c *Client) Agent(ctx context.Context, id string) (*types.AgentDetail, error) {
	var result types.AgentDetail
	if err := c.getJSON(ctx, "agent", "/agents/"+url.PathEscape(id), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Alerts fetches alerts matching the query.
func (c *Client) Alerts(ctx context.Context, q AlertQuery) ([]types.Alert, error) {
	var result struct {
		Alerts []types.Alert `json:"alerts"`
	}
	if err := c.getJSON(ctx, "alerts", "/alerts"+q.encode(), &result); err != nil {
		return nil, err
	}
	return result.Alerts, nil
}

// ResolveAlert marks an alert resolved. resolvedBy may be empty.
func (c *Client) ResolveAlert(ctx context.Context, id, resolvedBy string) error {
	body := struct {
		ResolvedBy string `json:"resolvedBy,omitempty"`
	}{ResolvedBy: resolvedBy}
	return c.send(ctx, "resolve_alert", http.MethodPost, "/alerts/"+url.PathEscape(id)+"/resolve", body, nil)
}

// AcknowledgeAlert records who acknowledged an alert.
func (c *Client) AcknowledgeAlert(ctx context.Context, id, acknowledgedBy string) error {
	body := struct {
		AcknowledgedBy string `json:"acknowledgedBy"`
	}{AcknowledgedBy: acknowledgedBy}
	return c.send(ctx, "acknowledge_alert", http.MethodPost, "/alerts/"+url.PathEscape(id)+"/acknowledge", body, nil)
}

// Metrics fetches dashboard-level metrics for a timeframe such as "1h" or "24h".
func (c *Client) Metrics(ctx context.Context, timeframe string) (*types.DashboardMetrics, error) {
	path := "/metrics"
	if timeframe != "" {
		path += "?timeframe=" + url.QueryEscape(timeframe)
	}
	var result types.DashboardMetrics
	if err := c.getJSON(ctx, "metrics", path, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Timeline fetches the most recent incident timeline entries.
func (c *Client) Timeline(ctx context.Context, limit int) ([]types.IncidentTimelineEntry, error) {
	path := "/timeline"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var result struct {
		Timeline []types.IncidentTimelineEntry `json:"timeline"`
	}
	if err := c.getJSON(ctx, "timeline", path, &result); err != nil {
		return nil, err
	}
	return result.Timeline, nil
}

// Resources fetches the resource status snapshot keyed by resource name.
func (c *Client) Resources(ctx context.Context) (map[string]types.ResourceStatus, error) {
	var result struct {
		Resources map[string]types.ResourceStatus `json:"resources"`
	}
	if err := c.getJSON(ctx, "resources", "/resources", &result); err != nil {
		return nil, err
	}
	return result.Resources, nil
}

// Config fetches the server runtime configuration.
func (c *Client) Config(ctx context.Context) (*types.RuntimeConfig, error) {
	var result types.RuntimeConfig
	if err := c.getJSON(ctx, "config", "/config", &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// UpdateThresholds replaces the server's alert thresholds.
func (c *Client) UpdateThresholds(ctx context.Context, thresholds types.AlertThresholds) error {
	return c.send(ctx, "update_thresholds", http.MethodPut, "/config/thresholds", thresholds, nil)
}

// Health probes the server liveness endpoint.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.doRequest(ctx, "health", http.MethodGet, c.healthURL, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return readError(resp)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, endpoint, path string, out any) error {
	return c.send(ctx, endpoint, http.MethodGet, path, nil, out)
}

// send performs a request against the API base and decodes a 2xx body into out.
func (c *Client) send(ctx context.Context, endpoint, method, path string, body, out any) error {
	resp, err := c.doRequest(ctx, endpoint, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := readError(resp)
		c.logger.Debug("request failed",
			"endpoint", endpoint,
			"status", resp.StatusCode,
			"error", err)
		return err
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// doRequest performs an HTTP request with standard headers.
func (c *Client) doRequest(ctx context.Context, endpoint, method, rawURL string, body any) (resp *http.Response, err error) {
	start := time.Now()
	defer func() {
		outcome := telemetry.OutcomeSuccess
		if err != nil || resp.StatusCode < 200 || resp.StatusCode > 299 {
			outcome = telemetry.OutcomeError
		}
		telemetry.APIRequests.WithLabelValues(endpoint, outcome).Inc()
		telemetry.APIRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}()

	if c.rateLimiter != nil {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	// The timeout also applies to injected HTTP clients. It covers the body
	// read and is released when the caller closes resp.Body.
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	req, err := http.NewRequestWithContext(ctx, method, rawURL, bodyReader)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", "healthdash/1.0")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err = c.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// cancelOnClose releases a request context once the body is closed.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

// readError extracts an error message from a failed response. The body's
// message field wins; otherwise the status line is used.
func readError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Message != "" {
		return &APIError{StatusCode: resp.StatusCode, Message: payload.Message}
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    fmt.Sprintf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
	}
}
