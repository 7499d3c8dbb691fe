// Package storage provides shared configuration helpers for record store backends.
package storage

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig matches every *ConfigError under errors.Is, so callers
// can tell a misconfigured store from one that failed to open.
var ErrInvalidConfig = errors.New("invalid store configuration")

// ConfigError reports a bad `store.backend` or `store.config.*` setting.
type ConfigError struct {
	Backend string
	Field   string // key under store.config; empty when the backend itself is at fault
	Value   string
	Message string
	Cause   error
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", e.Backend, e.Message)
	}
	if e.Value == "" {
		return fmt.Sprintf("%s: %s: %s", e.Backend, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s=%q: %s", e.Backend, e.Field, e.Value, e.Message)
}

func (e *ConfigError) Unwrap() error { return e.Cause }

func (e *ConfigError) Is(target error) bool { return target == ErrInvalidConfig }

// ErrorType labels config failures in operation metrics and spans.
func (e *ConfigError) ErrorType() string { return "config" }

// Key returns the configuration key the user has to change.
func (e *ConfigError) Key() string {
	if e.Field == "" {
		return "store.backend"
	}
	return "store.config." + e.Field
}

// NewConfigError creates a ConfigError for a field validation failure.
func NewConfigError(backend, field, message string) *ConfigError {
	return &ConfigError{Backend: backend, Field: field, Message: message}
}

// NewConfigErrorWithValue creates a ConfigError that includes the invalid value.
func NewConfigErrorWithValue(backend, field, value, message string) *ConfigError {
	return &ConfigError{Backend: backend, Field: field, Value: value, Message: message}
}

// NewConfigErrorWithCause creates a ConfigError with an underlying cause.
func NewConfigErrorWithCause(backend, field, message string, cause error) *ConfigError {
	return &ConfigError{Backend: backend, Field: field, Message: message, Cause: cause}
}

// UnknownBackendError reports a store.backend name with no registered factory.
func UnknownBackendError(name string, available []string) *ConfigError {
	return &ConfigError{Backend: name, Message: fmt.Sprintf("unknown backend (available: %v)", available)}
}
