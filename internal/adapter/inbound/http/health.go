package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"

	"github.com/lSAAGl/aegis-mcp/internal/domain/policy"
)

// HealthResponse is the JSON body of GET /health.
type HealthResponse struct {
	Status  string            `json:"status"` // "ok" or "unhealthy"
	Checks  map[string]string `json:"checks"`
	Version string            `json:"version,omitempty"`
}

// Locator names where a store writes.
type Locator interface {
	Location() string
}

// HealthChecker reports whether the policy can be loaded and where the
// ledgers live.
type HealthChecker struct {
	source    policy.Source
	audit     Locator
	approvals Locator
	version   string
}

// NewHealthChecker creates a checker. Nil components are reported as
// "not configured".
func NewHealthChecker(source policy.Source, audit, approvals Locator, version string) *HealthChecker {
	return &HealthChecker{source: source, audit: audit, approvals: approvals, version: version}
}

// Check runs every check.
func (h *HealthChecker) Check(ctx context.Context) HealthResponse {
	checks := make(map[string]string)
	healthy := true

	if h.source != nil {
		doc, err := h.source.Load(ctx)
		if err != nil {
			checks["policy"] = "error: " + err.Error()
			healthy = false
		} else {
			checks["policy"] = fmt.Sprintf("ok: version %d", doc.Version())
		}
	} else {
		checks["policy"] = "not configured"
	}

	checks["audit"] = locate(h.audit)
	checks["approvals"] = locate(h.approvals)
	checks["goroutines"] = fmt.Sprintf("%d", runtime.NumGoroutine())

	status := "ok"
	if !healthy {
		status = "unhealthy"
	}
	return HealthResponse{Status: status, Checks: checks, Version: h.version}
}

func locate(l Locator) string {
	if l == nil {
		return "not configured"
	}
	return "ok: " + l.Location()
}

// Handler serves the health endpoint: 200 when healthy, 503 otherwise.
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		health := h.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if health.Status != "ok" {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(health)
	})
}
