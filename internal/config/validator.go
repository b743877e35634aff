package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// RegisterCustomValidators registers openmcpd-specific validation rules.
// Must be called before validating Config.
func RegisterCustomValidators(v *validator.Validate) error {
	if err := v.RegisterValidation("audit_output", validateAuditOutput); err != nil {
		return fmt.Errorf("failed to register audit_output validator: %w", err)
	}
	if err := v.RegisterValidation("duration", validateDuration); err != nil {
		return fmt.Errorf("failed to register duration validator: %w", err)
	}
	return nil
}

// validateAuditOutput validates the audit output field.
// Valid values: "file://<absolute-dir>" or "sqlite://<absolute-path>".
func validateAuditOutput(fl validator.FieldLevel) bool {
	output := fl.Field().String()

	for _, scheme := range []string{"file://", "sqlite://"} {
		if strings.HasPrefix(output, scheme) {
			path := strings.TrimPrefix(output, scheme)
			return path != "" && filepath.IsAbs(path)
		}
	}
	return false
}

// validateDuration validates that the field parses as a Go duration.
func validateDuration(fl validator.FieldLevel) bool {
	d, err := time.ParseDuration(fl.Field().String())
	return err == nil && d > 0
}

// Validate validates the Config using struct tags and cross-field rules.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if err := c.validateAuthKeys(); err != nil {
		return err
	}
	if err := c.validateAuditOutputRequired(); err != nil {
		return err
	}
	if err := c.validatePolicyRules(); err != nil {
		return err
	}
	return nil
}

// validateAuthKeys ensures required api_key auth has at least one key to
// verify against. Bearer auth validates tokens at runtime, so no keys are
// needed.
func (c *Config) validateAuthKeys() error {
	if c.Auth.Required && c.Auth.Strategy == "api_key" && len(c.Auth.Keys) == 0 {
		return errors.New("auth: required with strategy api_key needs at least one key (generate a hash with: openmcpd hash-key)")
	}
	return nil
}

// validateAuditOutputRequired ensures enabled audit has an output.
func (c *Config) validateAuditOutputRequired() error {
	if c.Audit.Enabled && c.Audit.Output == "" {
		return errors.New("audit: output is required when audit is enabled (file://<dir> or sqlite://<path>)")
	}
	return nil
}

// validatePolicyRules ensures each resource type has at most one rule.
// Policy lookup is by resource type, so a duplicate would silently shadow
// the earlier rule.
func (c *Config) validatePolicyRules() error {
	seen := make(map[string]struct{}, len(c.Policies.Rules))
	for i, rule := range c.Policies.Rules {
		if _, dup := seen[rule.ResourceType]; dup {
			return fmt.Errorf("policies.rules[%d]: duplicate resource_type %q", i, rule.ResourceType)
		}
		seen[rule.ResourceType] = struct{}{}
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to
// user-friendly messages.
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

// formatSingleValidationError creates a user-friendly message for a single
// validation error.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()

	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "duration":
		return fmt.Sprintf("%s must be a positive duration (e.g., \"30s\", \"5m\")", field)
	case "audit_output":
		return fmt.Sprintf("%s must be 'file://<absolute-dir>' or 'sqlite://<absolute-path>'", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, e.Tag())
	}
}
