package cli

import (
	"errors"
	"fmt"
)

// Process exit statuses.
const (
	ExitOK       = 0
	ExitFailure  = 1
	ExitRejected = 2
	ExitConfig   = 3
)

// ConfigError represents an error in configuration.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "config error: " + e.Message
	}
	return fmt.Sprintf("config error in %s: %s", e.Field, e.Message)
}

// CommandError represents an error from a command execution.
type CommandError struct {
	Command string
	Err     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %s failed: %v", e.Command, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// RejectedError reports that admission control refused a payment. It is a
// normal outcome of the check command, not a failure of the tool.
type RejectedError struct {
	Stage string
	Err   error
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("payment rejected at %s: %v", e.Stage, e.Err)
}

func (e *RejectedError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{
		Field:   field,
		Message: message,
	}
}

// NewCommandError creates a new CommandError.
func NewCommandError(command string, err error) *CommandError {
	return &CommandError{
		Command: command,
		Err:     err,
	}
}

// ExitCode maps err to a process exit status.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var rejected *RejectedError
	if errors.As(err, &rejected) {
		return ExitRejected
	}
	var cfgErr *ConfigError
	if errors.As(err, &cfgErr) {
		return ExitConfig
	}
	return ExitFailure
}
