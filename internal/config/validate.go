package config

import (
	"fmt"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	var errs ValidationErrors

	// DATABASE_URL is required
	if cfg.DatabaseURL == "" {
		errs = append(errs, ValidationError{
			Field:   "DATABASE_URL",
			Message: "required",
		})
	}

	errs = append(errs, checkDuration("SWEEP_INTERVAL", cfg.SweepIntervalStr)...)
	errs = append(errs, checkDuration("SWEEP_THRESHOLD", cfg.SweepThresholdStr)...)
	errs = append(errs, checkDuration("COLLABORATOR_TIMEOUT", cfg.CollaboratorTimeoutStr)...)

	// The sweep threshold must exceed any plausible single-job runtime,
	// or in-progress jobs get requeued and executed twice.
	if cfg.SweepThreshold > 0 && cfg.SweepThreshold < cfg.CollaboratorTimeout {
		errs = append(errs, ValidationError{
			Field:   "SWEEP_THRESHOLD",
			Message: "must not be shorter than COLLABORATOR_TIMEOUT",
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func checkDuration(field, value string) ValidationErrors {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return ValidationErrors{{
			Field:   field,
			Message: fmt.Sprintf("invalid duration: %v", err),
		}}
	}
	if d <= 0 {
		return ValidationErrors{{
			Field:   field,
			Message: "must be positive",
		}}
	}
	return nil
}
