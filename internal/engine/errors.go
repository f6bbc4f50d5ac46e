package engine

import (
	"errors"
	"fmt"

	"github.com/chronofact-dev/chronofact/internal/archive"
	"github.com/chronofact-dev/chronofact/internal/eventlog"
	"github.com/chronofact-dev/chronofact/internal/fact"
	"github.com/chronofact-dev/chronofact/internal/rules"
	"github.com/chronofact-dev/chronofact/internal/temporal"
)

// RuntimeError is the structured error the engine surfaces to callers.
//
// Runtime errors include:
//   - Invalid time input: a time string no layout accepts
//   - Malformed event: missing subject, action, or time
//   - Conflicting exclusivity: a domain redeclared with the opposite mode
//   - Archive unavailable: the cold store cannot be reached
//
// The wrapped sentinel stays reachable through errors.Is, so callers can
// match either the code or the underlying sentinel.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// Subject and Domain identify the affected fluent, when known.
	Subject string
	Domain  string

	// Err is the underlying error.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeInvalidTimeInput indicates a time string no layout accepts.
	ErrCodeInvalidTimeInput RuntimeErrorCode = "INVALID_TIME_INPUT"

	// ErrCodeMalformedEvent indicates an event missing a required field.
	ErrCodeMalformedEvent RuntimeErrorCode = "MALFORMED_EVENT"

	// ErrCodeConflictingExclusivity indicates a domain redeclared with the
	// opposite exclusivity mode.
	ErrCodeConflictingExclusivity RuntimeErrorCode = "CONFLICTING_EXCLUSIVITY"

	// ErrCodeArchiveUnavailable indicates the cold store cannot be reached.
	ErrCodeArchiveUnavailable RuntimeErrorCode = "ARCHIVE_UNAVAILABLE"

	// ErrCodeBadRule indicates a rule declaration that cannot be registered.
	ErrCodeBadRule RuntimeErrorCode = "BAD_RULE"

	// ErrCodeBadInput covers remaining input errors (unparseable literals,
	// unknown effects, corrupt import lines).
	ErrCodeBadInput RuntimeErrorCode = "BAD_INPUT"

	// ErrCodeInternal is the fallback for unclassified failures.
	ErrCodeInternal RuntimeErrorCode = "INTERNAL"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	if e.Subject != "" && e.Domain != "" {
		return fmt.Sprintf("%s: %s (subject=%s, domain=%s)", e.Code, e.Message, e.Subject, e.Domain)
	}
	if e.Subject != "" {
		return fmt.Sprintf("%s: %s (subject=%s)", e.Code, e.Message, e.Subject)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying sentinel to errors.Is and errors.As.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// CodeOf extracts the runtime error code from a (possibly wrapped) error,
// or empty string when the error is not a RuntimeError.
func CodeOf(err error) RuntimeErrorCode {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}

// WrapInput classifies a bare input-parsing error (bad time string,
// malformed literal) into a RuntimeError. Callers that parse user input
// before reaching the engine use this to get uniform error codes.
func WrapInput(err error) error {
	return wrap(err, "", "")
}

// wrap classifies an error from a lower layer into a RuntimeError. Errors
// that are already RuntimeErrors, and nil, pass through unchanged.
func wrap(err error, subject, domain string) error {
	if err == nil {
		return nil
	}
	var re *RuntimeError
	if errors.As(err, &re) {
		return err
	}
	return &RuntimeError{
		Code:    classify(err),
		Message: err.Error(),
		Subject: subject,
		Domain:  domain,
		Err:     err,
	}
}

func classify(err error) RuntimeErrorCode {
	switch {
	case errors.Is(err, temporal.ErrInvalidTimeInput):
		return ErrCodeInvalidTimeInput
	case errors.Is(err, eventlog.ErrMalformedEvent):
		return ErrCodeMalformedEvent
	case errors.Is(err, rules.ErrConflictingExclusivity):
		return ErrCodeConflictingExclusivity
	case errors.Is(err, archive.ErrArchiveUnavailable):
		return ErrCodeArchiveUnavailable
	case errors.Is(err, rules.ErrBadRule):
		return ErrCodeBadRule
	case errors.Is(err, fact.ErrBadLiteral):
		return ErrCodeBadInput
	default:
		return ErrCodeInternal
	}
}
