package aegis

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
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	defaultServerAddr   = "http://127.0.0.1:8080"
	defaultPollInterval = 2 * time.Second
	defaultMaxWait      = time.Minute
	cacheMaxSize        = 1000
)

// Client talks to an aegis-mcp server.
type Client struct {
	serverAddr   string
	failMode     string
	timeout      time.Duration
	httpClient   *http.Client
	pollInterval time.Duration
	maxWait      time.Duration

	cacheTTL time.Duration
	cacheMu  sync.Mutex
	cache    map[string]cacheEntry

	logger *slog.Logger
}

type cacheEntry struct {
	response  CheckResponse
	expiresAt time.Time
}

// NewClient creates a client. It reads AEGIS_MCP_* environment variables
// by default; options override them.
func NewClient(opts ...Option) *Client {
	c := &Client{
		serverAddr:   envOrDefault("AEGIS_MCP_SERVER_ADDR", defaultServerAddr),
		failMode:     envOrDefault("AEGIS_MCP_FAIL_MODE", "closed"),
		timeout:      parseDurationEnv("AEGIS_MCP_TIMEOUT", 5*time.Second),
		cacheTTL:     parseDurationEnv("AEGIS_MCP_CACHE_TTL", 5*time.Second),
		pollInterval: defaultPollInterval,
		maxWait:      defaultMaxWait,
		cache:        make(map[string]cacheEntry),
		logger:       slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		c.httpClient = &http.Client{
			Timeout: c.timeout,
		}
	}
	return c
}

// Enforce submits req for enforcement. An allowed call returns the
// response. A blocked call returns a *PolicyDeniedError. A pending call is
// polled until it is approved (the response is returned with Allowed set),
// denied (*PolicyDeniedError), or the wait runs out (*ApprovalPendingError).
func (c *Client) Enforce(ctx context.Context, req EnforceRequest) (*EnforceResponse, error) {
	var resp EnforceResponse
	if err := c.doRequest(ctx, http.MethodPost, "/guard/enforce", req, &resp); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if isConnectionError(err) {
			if c.failMode == "open" {
				c.logger.Warn("aegis server unreachable, failing open",
					"server_addr", c.serverAddr, "tool", req.Tool, "error", err)
				return &EnforceResponse{
					Allowed: true,
					Status:  StatusAllowed,
					Reasons: []string{"server unreachable, fail-open"},
				}, nil
			}
			return nil, &ServerUnreachableError{Cause: err}
		}
		return nil, err
	}

	switch resp.Status {
	case StatusAllowed:
		return &resp, nil
	case StatusBlocked:
		return nil, &PolicyDeniedError{Reasons: resp.Reasons, TraceID: resp.TraceID}
	case StatusPending:
		return c.waitForApproval(ctx, &resp)
	default:
		return &resp, nil
	}
}

// waitForApproval polls the approval list until resp's dry-run id leaves
// pending or maxWait elapses.
func (c *Client) waitForApproval(ctx context.Context, resp *EnforceResponse) (*EnforceResponse, error) {
	pending := &ApprovalPendingError{
		DryRunID:   resp.DryRunID,
		ApprovalID: resp.ApprovalID,
		Reasons:    resp.Reasons,
	}
	if c.maxWait <= 0 || resp.DryRunID == "" {
		return nil, pending
	}

	deadline := time.NewTimer(c.maxWait)
	defer deadline.Stop()
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, pending
		case <-ticker.C:
		}

		status, err := c.approvalStatus(ctx, resp.DryRunID)
		if err != nil {
			c.logger.Warn("approval status poll failed", "dry_run_id", resp.DryRunID, "error", err)
			continue
		}

		switch status {
		case ApprovalApproved:
			approved := *resp
			approved.Allowed = true
			approved.ApprovalRequired = false
			approved.Status = StatusAllowed
			return &approved, nil
		case ApprovalDenied:
			return nil, &PolicyDeniedError{
				Reasons:  []string{"approval denied"},
				DryRunID: resp.DryRunID,
				TraceID:  resp.TraceID,
			}
		}
	}
}

// approvalStatus returns the current status for dryRunID, or pending when
// the server has no record of it yet.
func (c *Client) approvalStatus(ctx context.Context, dryRunID string) (ApprovalStatus, error) {
	approvals, err := c.Approvals(ctx, "")
	if err != nil {
		return "", err
	}
	for _, a := range approvals {
		if a.DryRunID == dryRunID {
			return a.Status, nil
		}
	}
	return ApprovalPending, nil
}

// Check evaluates req without recording anything. Allowed results are
// cached for the cache TTL.
func (c *Client) Check(ctx context.Context, req EnforceRequest) (*CheckResponse, error) {
	key := cacheKey(req)
	if resp, ok := c.getFromCache(key); ok {
		return &resp, nil
	}

	var resp CheckResponse
	if err := c.doRequest(ctx, http.MethodPost, "/guard/check", req, &resp); err != nil {
		if ctx.Err() == nil && isConnectionError(err) {
			return nil, &ServerUnreachableError{Cause: err}
		}
		return nil, err
	}
	if resp.Allowed {
		c.putInCache(key, resp)
	}
	return &resp, nil
}

// Allowed is a convenience wrapper around Check.
func (c *Client) Allowed(ctx context.Context, req EnforceRequest) (bool, error) {
	resp, err := c.Check(ctx, req)
	if err != nil {
		return false, err
	}
	return resp.Allowed, nil
}

// Approvals lists the current approvals, optionally filtered by status.
func (c *Client) Approvals(ctx context.Context, status ApprovalStatus) ([]Approval, error) {
	path := "/approvals"
	if status != "" {
		path += "?status=" + url.QueryEscape(string(status))
	}
	var out struct {
		Approvals []Approval `json:"approvals"`
	}
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Approvals, nil
}

// Approve completes the approval for dryRunID with code. A wrong code is
// not an error: the response reports status denied.
func (c *Client) Approve(ctx context.Context, dryRunID, code string) (*ApprovalResponse, error) {
	body := map[string]string{"dry_run_id": dryRunID, "approval_code": code}
	var resp ApprovalResponse
	if err := c.doRequest(ctx, http.MethodPost, "/approvals/complete", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Audit writes a free-form audit record.
func (c *Client) Audit(ctx context.Context, ev AuditEvent) (*AuditResponse, error) {
	if ev.Action == "" {
		return nil, errors.New("aegis: audit action is required")
	}
	var resp AuditResponse
	if err := c.doRequest(ctx, http.MethodPost, "/audit", ev, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// doRequest performs an HTTP request against the server.
func (c *Client) doRequest(ctx context.Context, method, path string, body any, result any) error {
	target := strings.TrimRight(c.serverAddr, "/") + path

	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(respBody))
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		return &APIError{StatusCode: httpResp.StatusCode, Message: msg}
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}
	return nil
}

func cacheKey(req EnforceRequest) string {
	amount := "-"
	if req.AmountCents != nil {
		amount = strconv.FormatInt(*req.AmountCents, 10)
	}
	return req.Tool + "|" + req.Op + "|" + amount
}

func (c *Client) getFromCache(key string) (CheckResponse, bool) {
	if c.cacheTTL <= 0 {
		return CheckResponse{}, false
	}
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()

	entry, ok := c.cache[key]
	if !ok {
		return CheckResponse{}, false
	}
	if time.Now().After(entry.expiresAt) {
		delete(c.cache, key)
		return CheckResponse{}, false
	}
	return entry.response, true
}

func (c *Client) putInCache(key string, resp CheckResponse) {
	if c.cacheTTL <= 0 {
		return
	}
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()

	if len(c.cache) >= cacheMaxSize {
		now := time.Now()
		for k, e := range c.cache {
			if now.After(e.expiresAt) {
				delete(c.cache, k)
			}
		}
		// Still full: drop everything rather than track insertion order.
		if len(c.cache) >= cacheMaxSize {
			clear(c.cache)
		}
	}
	c.cache[key] = cacheEntry{response: resp, expiresAt: time.Now().Add(c.cacheTTL)}
}

// isConnectionError reports whether err came from reaching the server
// rather than from its response.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return false
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func parseDurationEnv(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	// Bare integers are seconds.
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return defaultVal
}
