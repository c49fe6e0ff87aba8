package notif

import (
	"errors"
	"fmt"
)

var (
	ErrTemplateNotFound     = errors.New("template not found")
	ErrTemplateExists       = errors.New("a template with this name already exists")
	ErrChannelNotFound      = errors.New("channel not found")
	ErrChannelNotConfigured = errors.New("no active channel configured for this type")
	ErrNotificationNotFound = errors.New("notification not found")
	ErrPreferenceNotFound   = errors.New("preference not found")
)

// MissingVariableError is returned when a template's required variable is
// absent from the variable bag. The send fails before any row is created.
type MissingVariableError struct {
	Variable string
}

func (e *MissingVariableError) Error() string {
	return fmt.Sprintf("missing required template variable %q", e.Variable)
}

// ResolutionError wraps a user-directory failure during recipient resolution.
// Zero matching recipients is NOT a resolution error.
type ResolutionError struct {
	Selector string // "user <id>" or "role <role>"
	Err      error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolving %s: %v", e.Selector, e.Err)
}

// Cause supports pkg/errors unwrapping.
func (e *ResolutionError) Cause() error { return e.Err }

func (e *ResolutionError) Unwrap() error { return e.Err }
