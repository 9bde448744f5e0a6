/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package global

import (
	"errors"
	"fmt"
	"strings"
)

// ErrSandboxTimeout is returned when code runs past the sandbox deadline
var ErrSandboxTimeout = errors.New("sandbox execution timed out")

// ErrSandboxUnavailable is returned when the sandbox backend cannot start at all
var ErrSandboxUnavailable = errors.New("sandbox unavailable")

// ConfigurationError is a structural problem with a plan that aborts a run before any node executes
type ConfigurationError struct {
	Reason string
	Nodes  []int // nodes involved, e.g. the members of a dependency cycle
}

func (e *ConfigurationError) Error() string {
	if len(e.Nodes) == 0 {
		return "configuration error: " + e.Reason
	}
	ids := make([]string, len(e.Nodes))
	for i, id := range e.Nodes {
		ids[i] = fmt.Sprintf("%d", id)
	}
	return fmt.Sprintf("configuration error: %s (nodes %s)", e.Reason, strings.Join(ids, ", "))
}

// SandboxExecutionError describes code that exited non-zero inside the sandbox
type SandboxExecutionError struct {
	ExitCode int
	Stderr   string
}

func (e *SandboxExecutionError) Error() string {
	return fmt.Sprintf("sandbox code exited with code %d: %s", e.ExitCode, strings.TrimSpace(e.Stderr))
}

// CollaboratorError is a failed or unusable call to an external collaborator
type CollaboratorError struct {
	Op  string // e.g. "classify", "generate", "should_merge"
	Err error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("collaborator %s failed: %v", e.Op, e.Err)
}

func (e *CollaboratorError) Unwrap() error {
	return e.Err
}

// NewCollaboratorError wraps err as a CollaboratorError for the named operation
func NewCollaboratorError(op string, err error) error {
	return &CollaboratorError{Op: op, Err: err}
}

// IsCollaboratorError reports whether err is or wraps a CollaboratorError
func IsCollaboratorError(err error) bool {
	var ce *CollaboratorError
	return errors.As(err, &ce)
}
