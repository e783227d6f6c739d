// Package storage provides SQLite persistence for exclusion rules, processing
// session snapshots and committed color output.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/color-pulse/internal/model"
	"github.com/Veraticus/color-pulse/internal/rules"
	"github.com/Veraticus/color-pulse/internal/session"
)

// Validation errors.
var (
	ErrNilContext   = errors.New("context cannot be nil")
	ErrEmptyString  = errors.New("string parameter cannot be empty")
	ErrNilParameter = errors.New("parameter cannot be nil")
	ErrEmptySlice   = errors.New("slice cannot be empty")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

// validateRule checks a rule before it is written.
func validateRule(rule *model.Rule) error {
	if rule == nil {
		return fmt.Errorf("%w: rule", ErrNilParameter)
	}
	return rules.Validate(*rule)
}

// validateSession checks a session snapshot before it is written.
func validateSession(s *session.Session) error {
	if s == nil {
		return fmt.Errorf("%w: session", ErrNilParameter)
	}
	if err := validateString(s.ID, "session ID"); err != nil {
		return err
	}
	switch s.Status {
	case session.StatusOpen, session.StatusCommitting, session.StatusCommitted, session.StatusExpired:
		return nil
	default:
		return fmt.Errorf("invalid session status %q", s.Status)
	}
}

// validateOutput checks committed output before it is written.
func validateOutput(out session.Output) error {
	if err := validateString(out.SessionID, "session ID"); err != nil {
		return err
	}
	if len(out.Rows) == 0 {
		return fmt.Errorf("%w: rows", ErrEmptySlice)
	}
	return nil
}
