// Package config provides configuration types for aegis-mcp.
//
// Configuration comes from an optional YAML file, AEGIS_MCP_* environment
// variables, and a few unprefixed variable names kept for existing
// deployments (POLICY_PATH, AUDIT_PATH, APPROVALS_PATH, APPROVAL_CODE).
// Values are resolved once at startup and passed to constructors; nothing
// below the command layer reads the environment.
package config

import "path/filepath"

// Storage backends.
const (
	BackendJSONL  = "jsonl"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// DevApprovalSecret is the approval code used in dev mode when no secret is
// configured.
const DevApprovalSecret = "123456"

// Config is the top-level configuration.
type Config struct {
	// PolicyPath is the policy document. A missing file means the default
	// legacy policy (allow everything, no caps).
	PolicyPath string `yaml:"policy_path" mapstructure:"policy_path" validate:"required"`

	Storage  StorageConfig  `yaml:"storage" mapstructure:"storage"`
	Approval ApprovalConfig `yaml:"approval" mapstructure:"approval"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Tracing  TracingConfig  `yaml:"tracing" mapstructure:"tracing"`

	// DevMode turns on debug logging and a well-known approval secret.
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// StorageConfig selects where audit and approval records are kept.
type StorageConfig struct {
	// Backend is jsonl (two line-delimited files), sqlite (one database,
	// two streams) or memory (process lifetime only, mirrored to stderr).
	Backend string `yaml:"backend" mapstructure:"backend" validate:"storage_backend"`

	AuditPath     string `yaml:"audit_path" mapstructure:"audit_path"`
	ApprovalsPath string `yaml:"approvals_path" mapstructure:"approvals_path"`
	SQLitePath    string `yaml:"sqlite_path" mapstructure:"sqlite_path"`

	// Fsync makes every jsonl append durable before it returns.
	Fsync bool `yaml:"fsync" mapstructure:"fsync"`
}

// ApprovalConfig holds the shared secret that completes approvals. Set
// either the plain value or an Argon2id hash from "aegis-mcp hash-secret".
type ApprovalConfig struct {
	Secret     string `yaml:"secret" mapstructure:"secret"`
	SecretHash string `yaml:"secret_hash" mapstructure:"secret_hash" validate:"omitempty,startswith=$argon2id$"`
}

// ServerConfig configures the HTTP listener and logging.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"required,hostname_port"`
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn error"`
}

// TracingConfig configures span export.
type TracingConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	// Output is a file path; empty writes to stderr.
	Output string `yaml:"output" mapstructure:"output"`
}

// SetDefaults fills in unset optional fields.
func (c *Config) SetDefaults() {
	if c.PolicyPath == "" {
		c.PolicyPath = "policy.yml"
	}

	if c.Storage.Backend == "" {
		c.Storage.Backend = BackendJSONL
	}
	if c.Storage.AuditPath == "" {
		c.Storage.AuditPath = "audit.log"
	}
	if c.Storage.ApprovalsPath == "" {
		c.Storage.ApprovalsPath = "approvals.log"
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = filepath.Join(filepath.Dir(c.Storage.AuditPath), "aegis.db")
	}

	// Localhost only unless the operator asks otherwise.
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
}

// SetDevDefaults applies dev-mode conveniences. Call after SetDefaults.
func (c *Config) SetDevDefaults() {
	if !c.DevMode {
		return
	}
	if c.Approval.Secret == "" && c.Approval.SecretHash == "" {
		c.Approval.Secret = DevApprovalSecret
	}
	c.Server.LogLevel = "debug"
}

// HasApprovalSecret reports whether approvals can ever be completed.
func (c *Config) HasApprovalSecret() bool {
	return c.Approval.Secret != "" || c.Approval.SecretHash != ""
}
