// Package apperr provides structured application errors with closed error kinds.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error into one of the closed failure categories.
type Kind string

const (
	// KindValidation is bad caller input (unknown operator, malformed date).
	KindValidation Kind = "VALIDATION"

	// KindStorage is a persistence failure; the affected pipeline stage is
	// not advanced so a retry is safe.
	KindStorage Kind = "STORAGE"

	// KindConnectorAuth halts pull/apply for the connector until re-auth.
	KindConnectorAuth Kind = "CONNECTOR_AUTH"

	// KindConnectorRateLimit triggers exponential backoff; the pull
	// watermark stays unchanged.
	KindConnectorRateLimit Kind = "CONNECTOR_RATE_LIMIT"

	// KindConnectorTransient is retried once, then treated as rate-limit.
	KindConnectorTransient Kind = "CONNECTOR_TRANSIENT"

	// KindLLMUnavailable degrades the affected analyzer to a
	// low-confidence assessment; the pipeline continues.
	KindLLMUnavailable Kind = "LLM_UNAVAILABLE"

	// KindRuleCompile marks a rule disabled with a reason.
	KindRuleCompile Kind = "RULE_COMPILE"

	// KindNotFound is a missing resource.
	KindNotFound Kind = "NOT_FOUND"

	// KindFatal is unrecoverable corruption detected at startup.
	KindFatal Kind = "FATAL"
)

// AppError represents a structured application error.
type AppError struct {
	Kind    Kind           `json:"kind"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Err     error          `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

// ExitCode maps the error kind to the CLI exit code contract:
// 1 user error, 2 storage error, 3 external service error.
func (e *AppError) ExitCode() int {
	switch e.Kind {
	case KindValidation, KindNotFound, KindRuleCompile:
		return 1
	case KindStorage, KindFatal:
		return 2
	case KindConnectorAuth, KindConnectorRateLimit, KindConnectorTransient, KindLLMUnavailable:
		return 3
	default:
		return 1
	}
}

// Constructor functions
func New(kind Kind, message string) *AppError {
	return &AppError{Kind: kind, Message: message}
}

func Wrap(err error, kind Kind, message string) *AppError {
	return &AppError{Kind: kind, Message: message, Err: err}
}

func Validation(message string) *AppError {
	return &AppError{Kind: KindValidation, Message: message}
}

func InvalidInput(field, reason string) *AppError {
	return &AppError{
		Kind:    KindValidation,
		Message: fmt.Sprintf("invalid input for '%s': %s", field, reason),
		Details: map[string]any{"field": field},
	}
}

func Storage(operation string, err error) *AppError {
	return &AppError{
		Kind:    KindStorage,
		Message: fmt.Sprintf("storage error: %s", operation),
		Err:     err,
	}
}

func NotFound(resource string) *AppError {
	return &AppError{Kind: KindNotFound, Message: fmt.Sprintf("%s not found", resource)}
}

func ConnectorAuth(connector string, err error) *AppError {
	return &AppError{
		Kind:    KindConnectorAuth,
		Message: fmt.Sprintf("authentication failed for %s", connector),
		Details: map[string]any{"connector": connector},
		Err:     err,
	}
}

func ConnectorRateLimit(connector string, err error) *AppError {
	return &AppError{
		Kind:    KindConnectorRateLimit,
		Message: fmt.Sprintf("rate limited by %s", connector),
		Details: map[string]any{"connector": connector},
		Err:     err,
	}
}

func ConnectorTransient(connector string, err error) *AppError {
	return &AppError{
		Kind:    KindConnectorTransient,
		Message: fmt.Sprintf("transient connector error: %s", connector),
		Details: map[string]any{"connector": connector},
		Err:     err,
	}
}

func LLMUnavailable(err error) *AppError {
	return &AppError{Kind: KindLLMUnavailable, Message: "llm unavailable", Err: err}
}

func RuleCompile(ruleID, reason string) *AppError {
	return &AppError{
		Kind:    KindRuleCompile,
		Message: fmt.Sprintf("rule %s failed to compile: %s", ruleID, reason),
		Details: map[string]any{"rule_id": ruleID},
	}
}

func Fatal(message string, err error) *AppError {
	return &AppError{Kind: KindFatal, Message: message, Err: err}
}

// Helper functions
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return Wrap(err, KindStorage, "unclassified error")
}

// KindOf returns the kind of err, or empty string for non-app errors.
func KindOf(err error) Kind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return ""
}

// IsKind reports whether err is an AppError of the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// ExitCode returns the CLI exit code for any error (0 for nil).
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.ExitCode()
	}
	return 1
}
