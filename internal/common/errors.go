// Package common provides shared utilities and types used across the application.
package common

import (
	"errors"
	"fmt"
)

// Common application errors.
var (
	// Session and rule errors.
	ErrNotFound      = errors.New("not found")
	ErrInvalidState  = errors.New("invalid session state")
	ErrNothingToSave = errors.New("nothing to save")

	// ErrMalformedCondition marks a condition that cannot be evaluated. It is only
	// reported; evaluation treats such a condition as false.
	ErrMalformedCondition = errors.New("malformed condition")

	// Database errors.
	ErrDuplicateEntry    = errors.New("duplicate entry")
	ErrDatabaseCorrupted = errors.New("database corrupted")

	// Import errors.
	ErrNoColors       = errors.New("no colors to process")
	ErrMissingColumns = errors.New("missing required columns")

	// Configuration errors.
	ErrMissingConfig = errors.New("missing configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// UserError represents an error that should be shown to the user.
type UserError struct {
	Err         error
	UserMessage string
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.UserMessage, e.Err)
	}
	return e.UserMessage
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// NewUserError creates a new user-friendly error.
func NewUserError(userMessage string, err error) error {
	return &UserError{
		UserMessage: userMessage,
		Err:         err,
	}
}
