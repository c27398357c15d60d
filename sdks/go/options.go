package aegis

import (
	"log/slog"
	"net/http"
	"time"
)

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithServerAddr sets the aegis-mcp server address.
// If not set, defaults to the AEGIS_MCP_SERVER_ADDR environment variable
// or http://127.0.0.1:8080.
func WithServerAddr(addr string) Option {
	return func(c *Client) {
		c.serverAddr = addr
	}
}

// WithFailMode sets the fail mode when the server is unreachable.
// Valid values are "open" (allow on failure) and "closed" (return
// ErrServerUnreachable). If not set, defaults to the AEGIS_MCP_FAIL_MODE
// environment variable or "closed".
func WithFailMode(mode string) Option {
	return func(c *Client) {
		c.failMode = mode
	}
}

// WithTimeout sets the HTTP request timeout.
// If not set, defaults to 5 seconds.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithCacheTTL sets how long allowed Check results are reused.
// Zero disables the cache. If not set, defaults to the AEGIS_MCP_CACHE_TTL
// environment variable or 5 seconds.
func WithCacheTTL(d time.Duration) Option {
	return func(c *Client) {
		c.cacheTTL = d
	}
}

// WithApprovalPolling sets how often, and for how long, Enforce waits on a
// pending approval. A maxWait of zero returns pending results immediately
// as *ApprovalPendingError.
func WithApprovalPolling(interval, maxWait time.Duration) Option {
	return func(c *Client) {
		c.pollInterval = interval
		c.maxWait = maxWait
	}
}

// WithHTTPClient sets a custom http.Client for making requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets the logger used for fail-open and polling warnings.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}
