package config

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig marks configuration that cannot be used. It is fatal at startup.
var ErrInvalidConfig = errors.New("invalid configuration")

// ConfigError reports which setting is invalid.
//
//nolint:revive // ConfigError reads better at call sites than config.Error.
type ConfigError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid configuration: %s=%v: %s", e.Field, e.Value, e.Reason)
}

// Unwrap lets errors.Is match ErrInvalidConfig.
func (e *ConfigError) Unwrap() error { return ErrInvalidConfig }

func invalid(field string, value any, reason string) *ConfigError {
	return &ConfigError{Field: field, Value: value, Reason: reason}
}
