// Package apperror defines the error taxonomy shared by the billing core.
//
// Every error surfaced by a billing operation wraps exactly one of the kind
// sentinels below, so callers can branch with errors.Is without knowing the
// concrete error type.
package apperror

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks input rejected before persistence (future-dated
	// reading, non-monotonic value, malformed zone set). Never retried.
	ErrValidation = errors.New("validation error")

	// ErrNotFound marks a missing referenced record (tariff, reading, invoice).
	ErrNotFound = errors.New("not found")

	// ErrStateConflict marks a write that the entity's lifecycle forbids.
	ErrStateConflict = errors.New("state conflict")

	// ErrConfiguration marks broken tariff or policy configuration. Fatal.
	ErrConfiguration = errors.New("configuration error")
)

// ValidationError carries the field that failed and a human readable reason.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// NewValidation builds a ValidationError.
func NewValidation(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// NotFoundError names the missing entity.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// NewNotFound builds a NotFoundError.
func NewNotFound(entity string, id fmt.Stringer) error {
	return &NotFoundError{Entity: entity, ID: id.String()}
}

// ConfigurationError describes a tariff or policy that cannot be evaluated.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s", e.Reason)
}

func (e *ConfigurationError) Unwrap() error {
	return ErrConfiguration
}

// NewConfiguration builds a ConfigurationError.
func NewConfiguration(format string, args ...any) error {
	return &ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsNotFound reports whether err indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsStateConflict reports whether err is a lifecycle violation.
func IsStateConflict(err error) bool {
	return errors.Is(err, ErrStateConflict)
}

// IsConfiguration reports whether err is a configuration failure.
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

// IsRetryable reports whether retrying the same message could succeed.
// Only infrastructure failures (no kind attached) are worth retrying.
func IsRetryable(err error) bool {
	return err != nil &&
		!IsValidation(err) &&
		!IsNotFound(err) &&
		!IsStateConflict(err) &&
		!IsConfiguration(err)
}
