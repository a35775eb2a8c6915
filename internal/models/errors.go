package models

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when a device name is not registered.
	ErrNotFound = errors.New("device not found")

	// ErrAlreadyExists is returned when adding a device whose name is taken.
	ErrAlreadyExists = errors.New("device already exists")

	// ErrMissingCredential is returned when sleep is requested for a device
	// without an SSH credential.
	ErrMissingCredential = errors.New("SSH credential not configured")
)

// ValidationError reports a malformed device or credential field.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

// ConnectionError reports a failure to establish an SSH session.
type ConnectionError struct {
	Host string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to connect to %s: %v", e.Host, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// CommandExhaustionError reports that every command in a sleep ladder failed.
type CommandExhaustionError struct {
	Family   OSFamily
	Attempts []string
	LastErr  error
}

func (e *CommandExhaustionError) Error() string {
	return fmt.Sprintf("all %d %s sleep commands failed (%s): last error: %v",
		len(e.Attempts), e.Family, strings.Join(e.Attempts, ", "), e.LastErr)
}

func (e *CommandExhaustionError) Unwrap() error {
	return e.LastErr
}

// DispatchError wraps an unexpected failure during sleep dispatch.
type DispatchError struct {
	Device string
	Err    error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("sleep dispatch for %q failed: %v", e.Device, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}
