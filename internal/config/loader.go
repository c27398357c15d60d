package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

const configName = "aegis-mcp"

// legacyEnv maps config keys to the unprefixed variables older
// deployments set. The prefixed AEGIS_MCP_* names are bound as well and
// take precedence.
var legacyEnv = map[string]string{
	"policy_path":            "POLICY_PATH",
	"storage.audit_path":     "AUDIT_PATH",
	"storage.approvals_path": "APPROVALS_PATH",
	"approval.secret":        "APPROVAL_CODE",
}

// InitViper points Viper at configFile, or at the first aegis-mcp.yaml/.yml
// found in the standard locations, and enables environment overrides.
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// ReadInConfig then reports ConfigFileNotFoundError, which callers
		// treat as "environment only".
		viper.SetConfigName(configName)
		viper.SetConfigType("yaml")
	}

	configureEnv()
}

// configureEnv enables environment overrides:
// AEGIS_MCP_STORAGE_AUDIT_PATH overrides storage.audit_path.
func configureEnv() {
	viper.SetEnvPrefix("AEGIS_MCP")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
	bindEnvKeys()
}

func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, "."+configName),
	}
	if runtime.GOOS == "windows" {
		if pd := os.Getenv("ProgramData"); pd != "" {
			paths = append(paths, filepath.Join(pd, configName))
		}
	} else {
		paths = append(paths, "/etc/"+configName)
	}
	return findConfigFileInPaths(paths)
}

// findConfigFileInPaths returns the first aegis-mcp.yaml or .yml in paths.
// An explicit extension is required so the binary itself never matches.
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, configName+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindEnvKeys binds every scalar key so env-only configuration unmarshals.
func bindEnvKeys() {
	keys := []string{
		"policy_path",
		"storage.backend",
		"storage.audit_path",
		"storage.approvals_path",
		"storage.sqlite_path",
		"storage.fsync",
		"approval.secret",
		"approval.secret_hash",
		"server.http_addr",
		"server.log_level",
		"tracing.enabled",
		"tracing.output",
		"dev_mode",
	}
	for _, key := range keys {
		envName := "AEGIS_MCP_" + strings.ToUpper(strings.NewReplacer(".", "_").Replace(key))
		if legacy, ok := legacyEnv[key]; ok {
			_ = viper.BindEnv(key, envName, legacy)
			continue
		}
		_ = viper.BindEnv(key, envName)
	}
}

// LoadConfig reads configuration, applies defaults and dev defaults, and
// validates the result.
func LoadConfig() (*Config, error) {
	cfg, err := LoadConfigRaw()
	if err != nil {
		return nil, err
	}
	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// LoadConfigRaw reads configuration and applies defaults only, so command
// flags can still change it before SetDevDefaults and Validate.
func LoadConfigRaw() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.SetDefaults()
	return &cfg, nil
}

// ConfigFileUsed returns the loaded config file, or "" in env-only mode.
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
