package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lSAAGl/aegis-mcp/internal/adapter/outbound/jsonl"
	"github.com/lSAAGl/aegis-mcp/internal/adapter/outbound/memory"
	"github.com/lSAAGl/aegis-mcp/internal/adapter/outbound/policyfile"
	"github.com/lSAAGl/aegis-mcp/internal/adapter/outbound/sqlite"
	"github.com/lSAAGl/aegis-mcp/internal/config"
	"github.com/lSAAGl/aegis-mcp/internal/domain/policy"
	"github.com/lSAAGl/aegis-mcp/internal/port/outbound"
	"github.com/lSAAGl/aegis-mcp/internal/service"
	"github.com/lSAAGl/aegis-mcp/internal/telemetry"
)

// loadConfig reads configuration and applies the global flags before
// validating it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if devMode {
		cfg.DevMode = true
	}
	if policyFlag != "" {
		cfg.PolicyPath = policyFlag
	}
	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// newLogger writes to w (stderr in production; stdout carries command
// output and the MCP stream). Dev mode always logs at debug.
func newLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	level := parseLogLevel(cfg.Server.LogLevel)
	if cfg.DevMode {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// parseLogLevel converts a string log level to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// app holds the wired services for one command invocation.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry

	loader  *policyfile.Loader
	watcher *policyfile.Watcher
	source  policy.Source

	auditLog     outbound.AppendLog
	approvalsLog outbound.AppendLog

	audit       *service.AuditSink
	ledger      *service.ApprovalLedger
	enforcement *service.EnforcementService
	approvals   *service.ApprovalService
	admin       *service.PolicyAdminService

	stopTracing telemetry.Shutdown
}

type appOptions struct {
	// watch serves the policy from a file watcher instead of re-reading
	// the file on every evaluation.
	watch bool
}

// newApp opens the stores named by cfg and wires the services on top.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts appOptions) (_ *app, err error) {
	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
		loader:   policyfile.NewLoader(cfg.PolicyPath, logger),
	}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	a.stopTracing, err = telemetry.Setup(telemetry.Config{
		Enabled: cfg.Tracing.Enabled,
		Output:  cfg.Tracing.Output,
		Version: Version,
	})
	if err != nil {
		return nil, err
	}

	a.source = a.loader
	if opts.watch {
		a.watcher, err = policyfile.NewWatcher(ctx, a.loader, logger,
			policyfile.WithReloadHook(func(doc policy.Document) {
				logger.Info("policy reloaded", "version", doc.Version(), "hash", doc.Hash)
			}))
		if err != nil {
			return nil, fmt.Errorf("load policy: %w", err)
		}
		a.source = a.watcher
	}

	a.auditLog, a.approvalsLog, err = openStores(cfg.Storage, logger)
	if err != nil {
		return nil, err
	}

	metrics := service.NewMetrics(a.registry)
	svcOpts := []service.Option{service.WithMetrics(metrics)}

	a.audit = service.NewAuditSink(a.auditLog, logger, svcOpts...)
	a.ledger = service.NewApprovalLedger(a.approvalsLog, logger, svcOpts...)
	verifier := service.NewSecretVerifier(cfg.Approval.Secret, cfg.Approval.SecretHash, logger)
	if !cfg.HasApprovalSecret() {
		logger.Warn("no approval secret configured; every approval completion will be denied")
	}

	a.enforcement = service.NewEnforcementService(a.source, a.audit, a.ledger, logger, svcOpts...)
	a.approvals = service.NewApprovalService(a.ledger, a.audit, verifier, logger, svcOpts...)
	a.admin = service.NewPolicyAdminService(a.source)

	logger.Debug("stores opened",
		"backend", cfg.Storage.Backend,
		"audit", a.auditLog.Location(),
		"approvals", a.approvalsLog.Location(),
		"policy", cfg.PolicyPath)
	return a, nil
}

// openStores opens the audit and approval streams on the configured
// backend.
func openStores(cfg config.StorageConfig, logger *slog.Logger) (outbound.AppendLog, outbound.AppendLog, error) {
	switch cfg.Backend {
	case config.BackendSQLite:
		auditLog, err := sqlite.Open(sqlite.Config{Path: cfg.SQLitePath, Stream: "audit"}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("open audit store: %w", err)
		}
		approvalsLog, err := sqlite.Open(sqlite.Config{Path: cfg.SQLitePath, Stream: "approvals"}, logger)
		if err != nil {
			_ = auditLog.Close()
			return nil, nil, fmt.Errorf("open approval store: %w", err)
		}
		return auditLog, approvalsLog, nil

	case config.BackendMemory:
		return memory.NewAppendLogWithWriter("memory:audit", os.Stderr),
			memory.NewAppendLogWithWriter("memory:approvals", os.Stderr), nil

	default:
		auditLog, err := jsonl.Open(cfg.AuditPath, logger, jsonl.WithFsync(cfg.Fsync))
		if err != nil {
			return nil, nil, fmt.Errorf("open audit store: %w", err)
		}
		approvalsLog, err := jsonl.Open(cfg.ApprovalsPath, logger, jsonl.WithFsync(cfg.Fsync))
		if err != nil {
			_ = auditLog.Close()
			return nil, nil, fmt.Errorf("open approval store: %w", err)
		}
		return auditLog, approvalsLog, nil
	}
}

// runWatcher follows the policy file until ctx ends. It is a no-op when
// the app was built without a watcher.
func (a *app) runWatcher(ctx context.Context) {
	if a.watcher == nil {
		return
	}
	if err := a.watcher.Run(ctx); err != nil {
		a.logger.Error("policy watcher stopped", "error", err)
	}
}

// Close releases the stores and flushes traces.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.auditLog != nil {
		errs = append(errs, a.auditLog.Close())
	}
	if a.approvalsLog != nil {
		errs = append(errs, a.approvalsLog.Close())
	}
	if a.stopTracing != nil {
		errs = append(errs, a.stopTracing(ctx))
	}
	return errors.Join(errs...)
}

// withApp loads config, builds the app, runs fn, and closes the app.
func withApp(ctx context.Context, opts appOptions, fn func(ctx context.Context, a *app) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(os.Stderr, cfg)
	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Debug("loaded config", "file", configFile)
	}

	a, err := newApp(ctx, cfg, logger, opts)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(context.Background()); cerr != nil {
			logger.Warn("error closing stores", "error", cerr)
		}
	}()
	return fn(ctx, a)
}
