// Package http exposes the firewall over a JSON HTTP API.
//
// # Endpoints
//
//	GET  /health               component checks
//	GET  /policy               loaded policy with path and version
//	GET  /policy/effective     loaded policy document only
//	POST /policy/validate      {"policy": {...}} -> validation result
//	POST /policy/migrate       {"policy": {...}} -> version 2 rule list
//	POST /guard/check          decision without side effects
//	POST /guard/enforce        decision plus audit and approval records
//	GET  /approvals            current status per dry-run id (?status=pending)
//	POST /approvals/request    open a pending approval
//	POST /approvals/complete   complete with the approval code
//	GET  /audit                newest audit records (?limit=N)
//	POST /audit                free-form audit record
//	GET  /metrics              Prometheus exposition
//
// # Middleware Chain
//
// Requests pass through RequestIDMiddleware (X-Request-ID, request-scoped
// logger) and then MetricsMiddleware, which labels requests by the
// matched route pattern.
//
// The server binds to 127.0.0.1:8080 by default and has no
// authentication of its own; put it behind a reverse proxy before
// exposing it beyond localhost.
package http
