// Package mcpserver exposes the firewall as MCP tools over any go-sdk
// transport, normally stdio.
package mcpserver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/lSAAGl/aegis-mcp/internal/domain/audit"
	"github.com/lSAAGl/aegis-mcp/internal/domain/policy"
	"github.com/lSAAGl/aegis-mcp/internal/service"
)

// ServerName is the MCP implementation name.
const ServerName = "aegis-mcp"

const instructions = "Guard tools for MCP: policy_get, audit_write, require_approval, guard_check, firewall_enforce. " +
	"Call firewall_enforce before any sensitive tool; when it returns approval_required, " +
	"call require_approval with the returned dry_run_id and the operator's approval_code."

// Services are the firewall services the tools call.
type Services struct {
	Enforcement *service.EnforcementService
	Approvals   *service.ApprovalService
	Audit       *service.AuditSink
	Admin       *service.PolicyAdminService
}

// Server wraps an mcp.Server with the firewall tools registered.
type Server struct {
	svc    Services
	logger *slog.Logger
	server *mcp.Server
}

// New creates the server and registers its tools.
func New(svc Services, version string, logger *slog.Logger) *Server {
	s := &Server{
		svc:    svc,
		logger: logger,
		server: mcp.NewServer(
			&mcp.Implementation{Name: ServerName, Version: version},
			&mcp.ServerOptions{Instructions: instructions},
		),
	}
	s.registerTools()
	return s
}

// MCP returns the underlying go-sdk server.
func (s *Server) MCP() *mcp.Server {
	return s.server
}

// Run serves one session on transport until the client disconnects or ctx
// is cancelled.
func (s *Server) Run(ctx context.Context, transport mcp.Transport) error {
	s.logger.Info("MCP server starting", "name", ServerName)
	if err := s.server.Run(ctx, transport); err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}

// RunStdio serves on stdin and stdout.
func (s *Server) RunStdio(ctx context.Context) error {
	return s.Run(ctx, &mcp.StdioTransport{})
}

type policyGetInput struct{}

type auditWriteInput struct {
	Action string `json:"action" jsonschema:"event name, e.g. tool_call"`
	Tool   string `json:"tool,omitempty" jsonschema:"tool the event concerns"`
	OK     *bool  `json:"ok,omitempty" jsonschema:"outcome, if any"`
	Note   string `json:"note,omitempty" jsonschema:"free-form note"`
}

type requireApprovalInput struct {
	DryRunID     string `json:"dry_run_id" jsonschema:"correlation id returned by firewall_enforce"`
	ApprovalCode string `json:"approval_code,omitempty" jsonschema:"operator code; omit to open a pending request"`
}

type guardInput struct {
	Tool        string         `json:"tool" jsonschema:"tool name to evaluate"`
	AmountCents *int64         `json:"amount_cents,omitempty" jsonschema:"amount in cents for capped operations"`
	Op          string         `json:"op,omitempty" jsonschema:"operation; refund and payment_link_create carry the legacy caps"`
	Meta        map[string]any `json:"meta,omitempty" jsonschema:"caller metadata; dry_run_id is used as the correlation id"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "policy_get",
		Description: "Return the active policy (version 2 as written, legacy with defaults applied).",
	}, s.policyGet)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "audit_write",
		Description: "Append an event to the audit trail. Returns {ok, trace_id, path}.",
	}, s.auditWrite)

	mcp.AddTool(s.server, &mcp.Tool{
		Name: "require_approval",
		Description: "Two-phase approval. Without approval_code, records a pending request. " +
			"With the correct code records approval; with a wrong code records a denial.",
	}, s.requireApproval)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "guard_check",
		Description: "Policy decision for a prospective tool call. Writes nothing.",
	}, s.guardCheck)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "firewall_enforce",
		Description: "Decide, audit, and open an approval when required. Returns allowed, pending or blocked.",
	}, s.firewallEnforce)
}

func (s *Server) toolLogger(tool string) *slog.Logger {
	return s.logger.With("mcp_tool", tool)
}

func (s *Server) policyGet(ctx context.Context, _ *mcp.CallToolRequest, _ policyGetInput) (*mcp.CallToolResult, service.EffectivePolicy, error) {
	if s.svc.Admin == nil {
		return nil, service.EffectivePolicy{}, errNotConfigured("policy")
	}
	eff, err := s.svc.Admin.Effective(ctx)
	if err != nil {
		return nil, service.EffectivePolicy{}, err
	}
	return nil, eff, nil
}

func (s *Server) auditWrite(ctx context.Context, _ *mcp.CallToolRequest, in auditWriteInput) (*mcp.CallToolResult, service.AuditWriteResult, error) {
	if s.svc.Audit == nil {
		return nil, service.AuditWriteResult{}, errNotConfigured("audit")
	}
	if in.Action == "" {
		return nil, service.AuditWriteResult{}, fmt.Errorf("action is required")
	}
	logger := s.toolLogger("audit_write")
	res, err := s.svc.Audit.WriteEvent(ctx, audit.Event{Action: in.Action, Tool: in.Tool, OK: in.OK, Note: in.Note})
	if err != nil {
		logger.Error("audit write failed", "error", err)
		return nil, service.AuditWriteResult{}, err
	}
	return nil, res, nil
}

func (s *Server) requireApproval(ctx context.Context, _ *mcp.CallToolRequest, in requireApprovalInput) (*mcp.CallToolResult, service.ApprovalResult, error) {
	if s.svc.Approvals == nil {
		return nil, service.ApprovalResult{}, errNotConfigured("approvals")
	}
	logger := s.toolLogger("require_approval")
	res, err := s.svc.Approvals.Submit(ctx, in.DryRunID, in.ApprovalCode)
	if err != nil {
		logger.Error("approval failed", "dry_run_id", in.DryRunID, "error", err)
		return nil, service.ApprovalResult{}, err
	}
	return nil, res, nil
}

func (s *Server) guardCheck(ctx context.Context, _ *mcp.CallToolRequest, in guardInput) (*mcp.CallToolResult, service.CheckResult, error) {
	if s.svc.Enforcement == nil {
		return nil, service.CheckResult{}, errNotConfigured("enforcement")
	}
	if in.Tool == "" {
		return nil, service.CheckResult{}, fmt.Errorf("tool is required")
	}
	res, err := s.svc.Enforcement.Check(ctx, policy.Request{Tool: in.Tool, AmountCents: in.AmountCents, Op: in.Op})
	if err != nil {
		return nil, service.CheckResult{}, err
	}
	return nil, res, nil
}

func (s *Server) firewallEnforce(ctx context.Context, _ *mcp.CallToolRequest, in guardInput) (*mcp.CallToolResult, service.EnforceResult, error) {
	if s.svc.Enforcement == nil {
		return nil, service.EnforceResult{}, errNotConfigured("enforcement")
	}
	if in.Tool == "" {
		return nil, service.EnforceResult{}, fmt.Errorf("tool is required")
	}
	logger := s.toolLogger("firewall_enforce")
	res, err := s.svc.Enforcement.Enforce(ctx, service.EnforceRequest{
		Tool:        in.Tool,
		AmountCents: in.AmountCents,
		Op:          in.Op,
		Meta:        in.Meta,
	})
	if err != nil {
		logger.Error("enforcement failed", "tool", in.Tool, "error", err)
		return nil, service.EnforceResult{}, err
	}
	return nil, res, nil
}

func errNotConfigured(what string) error {
	return fmt.Errorf("%s not configured", what)
}
