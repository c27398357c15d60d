package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/lSAAGl/aegis-mcp/internal/domain/approval"
	"github.com/lSAAGl/aegis-mcp/internal/domain/audit"
	"github.com/lSAAGl/aegis-mcp/internal/domain/policy"
	"github.com/lSAAGl/aegis-mcp/internal/service"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 1000
	maxBodyBytes      = 1 << 20
)

// APIHandler serves the JSON endpoints. Services that are not set answer
// 503.
type APIHandler struct {
	enforcement *service.EnforcementService
	approvals   *service.ApprovalService
	audit       *service.AuditSink
	admin       *service.PolicyAdminService
	logger      *slog.Logger
}

// APIOption configures an APIHandler dependency.
type APIOption func(*APIHandler)

// WithEnforcementService sets the decision and enforcement service.
func WithEnforcementService(s *service.EnforcementService) APIOption {
	return func(h *APIHandler) { h.enforcement = s }
}

// WithApprovalService sets the approval workflow.
func WithApprovalService(s *service.ApprovalService) APIOption {
	return func(h *APIHandler) { h.approvals = s }
}

// WithAuditSink sets the audit trail.
func WithAuditSink(s *service.AuditSink) APIOption {
	return func(h *APIHandler) { h.audit = s }
}

// WithPolicyAdminService sets the policy inspection service.
func WithPolicyAdminService(s *service.PolicyAdminService) APIOption {
	return func(h *APIHandler) { h.admin = s }
}

// WithAPILogger sets the logger used outside a request.
func WithAPILogger(l *slog.Logger) APIOption {
	return func(h *APIHandler) { h.logger = l }
}

// NewAPIHandler creates the handler.
func NewAPIHandler(opts ...APIOption) *APIHandler {
	h := &APIHandler{logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register adds the API routes to mux.
func (h *APIHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /policy", h.handleGetPolicy)
	mux.HandleFunc("GET /policy/effective", h.handleEffectivePolicy)
	mux.HandleFunc("POST /policy/validate", h.handleValidatePolicy)
	mux.HandleFunc("POST /policy/migrate", h.handleMigratePolicy)

	mux.HandleFunc("POST /guard/check", h.handleCheck)
	mux.HandleFunc("POST /guard/enforce", h.handleEnforce)

	mux.HandleFunc("GET /approvals", h.handleListApprovals)
	mux.HandleFunc("POST /approvals/request", h.handleRequestApproval)
	mux.HandleFunc("POST /approvals/complete", h.handleCompleteApproval)

	mux.HandleFunc("GET /audit", h.handleListAudit)
	mux.HandleFunc("POST /audit", h.handleWriteAudit)
}

type policyBody struct {
	Policy map[string]any `json:"policy"`
}

type guardRequest struct {
	Tool        string         `json:"tool"`
	AmountCents *int64         `json:"amount_cents"`
	Op          string         `json:"op"`
	Meta        map[string]any `json:"meta"`
}

type approvalRequest struct {
	DryRunID     string `json:"dry_run_id"`
	ApprovalCode string `json:"approval_code"`
}

type auditRequest struct {
	Action string `json:"action"`
	Tool   string `json:"tool"`
	OK     *bool  `json:"ok"`
	Note   string `json:"note"`
}

// GET /policy
func (h *APIHandler) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	if h.admin == nil {
		h.notConfigured(w, "policy")
		return
	}
	eff, err := h.admin.Effective(r.Context())
	if err != nil {
		h.internalError(w, r, "load policy", err)
		return
	}
	h.respondJSON(w, http.StatusOK, eff)
}

// GET /policy/effective
func (h *APIHandler) handleEffectivePolicy(w http.ResponseWriter, r *http.Request) {
	if h.admin == nil {
		h.notConfigured(w, "policy")
		return
	}
	eff, err := h.admin.Effective(r.Context())
	if err != nil {
		h.internalError(w, r, "load policy", err)
		return
	}
	h.respondJSON(w, http.StatusOK, eff.Policy)
}

// POST /policy/validate
func (h *APIHandler) handleValidatePolicy(w http.ResponseWriter, r *http.Request) {
	if h.admin == nil {
		h.notConfigured(w, "policy")
		return
	}
	var body policyBody
	if err := h.readJSON(w, r, &body); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.Policy == nil {
		h.respondError(w, http.StatusBadRequest, "policy is required")
		return
	}
	h.respondJSON(w, http.StatusOK, h.admin.Validate(body.Policy))
}

// POST /policy/migrate
func (h *APIHandler) handleMigratePolicy(w http.ResponseWriter, r *http.Request) {
	if h.admin == nil {
		h.notConfigured(w, "policy")
		return
	}
	var body policyBody
	if err := h.readJSON(w, r, &body); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.Policy == nil {
		body.Policy = map[string]any{}
	}
	res := h.admin.Migrate(body.Policy)
	status := http.StatusOK
	if !res.OK {
		status = http.StatusUnprocessableEntity
	}
	h.respondJSON(w, status, res)
}

// POST /guard/check
func (h *APIHandler) handleCheck(w http.ResponseWriter, r *http.Request) {
	if h.enforcement == nil {
		h.notConfigured(w, "enforcement")
		return
	}
	req, ok := h.readGuardRequest(w, r)
	if !ok {
		return
	}
	res, err := h.enforcement.Check(r.Context(), policy.Request{Tool: req.Tool, AmountCents: req.AmountCents, Op: req.Op})
	if err != nil {
		h.internalError(w, r, "check", err)
		return
	}
	h.respondJSON(w, http.StatusOK, res)
}

// POST /guard/enforce
func (h *APIHandler) handleEnforce(w http.ResponseWriter, r *http.Request) {
	if h.enforcement == nil {
		h.notConfigured(w, "enforcement")
		return
	}
	req, ok := h.readGuardRequest(w, r)
	if !ok {
		return
	}
	res, err := h.enforcement.Enforce(r.Context(), service.EnforceRequest{
		Tool:        req.Tool,
		AmountCents: req.AmountCents,
		Op:          req.Op,
		Meta:        req.Meta,
	})
	if err != nil {
		h.internalError(w, r, "enforce", err)
		return
	}
	h.respondJSON(w, http.StatusOK, res)
}

func (h *APIHandler) readGuardRequest(w http.ResponseWriter, r *http.Request) (guardRequest, bool) {
	var req guardRequest
	if err := h.readJSON(w, r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return req, false
	}
	if req.Tool == "" {
		h.respondError(w, http.StatusBadRequest, "tool is required")
		return req, false
	}
	return req, true
}

// GET /approvals?status=pending|approved|denied
func (h *APIHandler) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	if h.approvals == nil {
		h.notConfigured(w, "approvals")
		return
	}

	status := approval.Status(r.URL.Query().Get("status"))
	switch status {
	case "", approval.StatusPending, approval.StatusApproved, approval.StatusDenied:
	default:
		h.respondError(w, http.StatusBadRequest, "status must be one of: pending approved denied")
		return
	}

	records, err := h.approvals.List(r.Context(), status == approval.StatusPending)
	if err != nil {
		h.internalError(w, r, "list approvals", err)
		return
	}
	if status != "" && status != approval.StatusPending {
		records = approval.FilterStatus(records, status)
	}
	if records == nil {
		records = []approval.Record{}
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"approvals": records})
}

// POST /approvals/request
func (h *APIHandler) handleRequestApproval(w http.ResponseWriter, r *http.Request) {
	if h.approvals == nil {
		h.notConfigured(w, "approvals")
		return
	}
	var req approvalRequest
	if err := h.readJSON(w, r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.approvals.Request(r.Context(), req.DryRunID)
	if errors.Is(err, approval.ErrEmptyCorrelationID) {
		h.respondError(w, http.StatusBadRequest, "dry_run_id is required")
		return
	}
	if err != nil {
		h.internalError(w, r, "request approval", err)
		return
	}
	h.respondJSON(w, http.StatusAccepted, res)
}

// POST /approvals/complete
func (h *APIHandler) handleCompleteApproval(w http.ResponseWriter, r *http.Request) {
	if h.approvals == nil {
		h.notConfigured(w, "approvals")
		return
	}
	var req approvalRequest
	if err := h.readJSON(w, r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.approvals.Complete(r.Context(), req.DryRunID, req.ApprovalCode)
	if errors.Is(err, approval.ErrEmptyCorrelationID) {
		h.respondError(w, http.StatusBadRequest, "dry_run_id is required")
		return
	}
	if err != nil {
		h.internalError(w, r, "complete approval", err)
		return
	}
	// A wrong code is a normal outcome, reported in the body.
	h.respondJSON(w, http.StatusOK, res)
}

// GET /audit?limit=N
func (h *APIHandler) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		h.notConfigured(w, "audit")
		return
	}

	limit := defaultAuditLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			h.respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxAuditLimit)
	}

	records, err := h.audit.Recent(r.Context(), limit)
	if err != nil {
		h.internalError(w, r, "read audit log", err)
		return
	}
	if records == nil {
		records = []audit.Record{}
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"records": records})
}

// POST /audit
func (h *APIHandler) handleWriteAudit(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		h.notConfigured(w, "audit")
		return
	}
	var req auditRequest
	if err := h.readJSON(w, r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Action == "" {
		h.respondError(w, http.StatusBadRequest, "action is required")
		return
	}
	res, err := h.audit.WriteEvent(r.Context(), audit.Event{
		Action: req.Action,
		Tool:   req.Tool,
		OK:     req.OK,
		Note:   req.Note,
	})
	if err != nil {
		h.internalError(w, r, "write audit record", err)
		return
	}
	h.respondJSON(w, http.StatusCreated, res)
}

// --- JSON helper methods ---

func (h *APIHandler) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode JSON response", "error", err)
	}
}

func (h *APIHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}

func (h *APIHandler) notConfigured(w http.ResponseWriter, what string) {
	h.respondError(w, http.StatusServiceUnavailable, what+" not configured")
}

// internalError logs err with the request logger and hides it from the
// client.
func (h *APIHandler) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	LoggerFromContext(r.Context()).Error("request failed", "op", op, "error", err)
	h.respondError(w, http.StatusInternalServerError, op+" failed")
}

// readJSON decodes a size-limited body into v.
func (h *APIHandler) readJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}
