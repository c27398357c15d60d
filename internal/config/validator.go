package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// RegisterCustomValidators registers the config-specific rules.
func RegisterCustomValidators(v *validator.Validate) error {
	if err := v.RegisterValidation("storage_backend", validateStorageBackend); err != nil {
		return fmt.Errorf("failed to register storage_backend validator: %w", err)
	}
	return nil
}

func validateStorageBackend(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case BackendJSONL, BackendSQLite, BackendMemory:
		return true
	}
	return false
}

// Validate checks struct tags and cross-field rules.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if err := c.validateStoragePaths(); err != nil {
		return err
	}
	return nil
}

// validateStoragePaths ensures the selected backend has somewhere to write
// and that the two jsonl streams do not share a file.
func (c *Config) validateStoragePaths() error {
	switch c.Storage.Backend {
	case BackendJSONL:
		if c.Storage.AuditPath == "" || c.Storage.ApprovalsPath == "" {
			return errors.New("storage: jsonl backend needs audit_path and approvals_path")
		}
		if c.Storage.AuditPath == c.Storage.ApprovalsPath {
			return errors.New("storage: audit_path and approvals_path must differ")
		}
	case BackendSQLite:
		if c.Storage.SQLitePath == "" {
			return errors.New("storage: sqlite backend needs sqlite_path")
		}
	}
	return nil
}

func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()

	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "startswith":
		return fmt.Sprintf("%s must start with %q", field, e.Param())
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "storage_backend":
		return fmt.Sprintf("%s must be one of: jsonl sqlite memory", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, e.Tag())
	}
}
