// Package errors provides structured error types for groundctl.
package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorCode identifies specific error conditions
type ErrorCode string

const (
	ErrCodeLoad           ErrorCode = "LOAD_ERROR"
	ErrCodeValidation     ErrorCode = "VALIDATION_ERROR"
	ErrCodeCycle          ErrorCode = "CYCLE_ERROR"
	ErrCodeDestroyBlocked ErrorCode = "DESTROY_BLOCKED"
	ErrCodeLockBusy       ErrorCode = "LOCK_BUSY"
	ErrCodeStalePlan      ErrorCode = "STALE_PLAN"
	ErrCodeStaleWrite     ErrorCode = "STALE_WRITE"
	ErrCodeProvider       ErrorCode = "PROVIDER_ERROR"
	ErrCodePartialApply   ErrorCode = "PARTIAL_APPLY"
	ErrCodeNotFound       ErrorCode = "NOT_FOUND"
	ErrCodeBackend        ErrorCode = "BACKEND_ERROR"
	ErrCodeExpression     ErrorCode = "EXPRESSION_ERROR"
	ErrCodeParse          ErrorCode = "PARSE_ERROR"
)

// Error is the base error type for groundctl
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
	Details map[string]interface{}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new error with the given code and message
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
	}
}

// Wrap creates a new error wrapping an existing error
func Wrap(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
		Details: make(map[string]interface{}),
	}
}

// WithDetail adds a single detail to an error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	e.Details[key] = value
	return e
}

// LoadError creates an error for malformed or unresolvable declarations.
func LoadError(file, message string) *Error {
	return &Error{
		Code:    ErrCodeLoad,
		Message: message,
		Details: map[string]interface{}{
			"file": file,
		},
	}
}

// ValidationError creates an error for an input that failed its validator.
func ValidationError(module, input, message string) *Error {
	return &Error{
		Code:    ErrCodeValidation,
		Message: message,
		Details: map[string]interface{}{
			"module": module,
			"input":  input,
		},
	}
}

// CycleError creates an error naming the members of a dependency cycle.
func CycleError(members []string) *Error {
	return &Error{
		Code:    ErrCodeCycle,
		Message: fmt.Sprintf("dependency cycle detected involving %d resources: %v", len(members), members),
		Details: map[string]interface{}{
			"members": members,
		},
	}
}

// DestroyBlockedError creates an error for a delete of a prevent_destroy resource.
func DestroyBlockedError(resource string) *Error {
	return &Error{
		Code:    ErrCodeDestroyBlocked,
		Message: fmt.Sprintf("resource %q is protected by prevent_destroy and cannot be deleted", resource),
		Details: map[string]interface{}{
			"resource": resource,
		},
	}
}

// LockInfo contains metadata about a lock
type LockInfo struct {
	ID        string
	Path      string
	Who       string
	Operation string
	Created   time.Time
	Lease     time.Duration
}

// LockBusy creates an error for a lock that could not be acquired in time.
func LockBusy(key string, info LockInfo) *Error {
	return &Error{
		Code:    ErrCodeLockBusy,
		Message: fmt.Sprintf("state %q is locked", key),
		Details: map[string]interface{}{
			"lock_id":   info.ID,
			"locked_by": info.Who,
			"operation": info.Operation,
			"created":   info.Created,
		},
	}
}

// StalePlanError creates an error for a plan whose snapshot digest is no longer current.
func StalePlanError(planDigest, currentDigest string) *Error {
	return &Error{
		Code:    ErrCodeStalePlan,
		Message: "plan is stale: the state snapshot changed since the plan was computed",
		Details: map[string]interface{}{
			"plan_digest":    planDigest,
			"current_digest": currentDigest,
		},
	}
}

// StaleWriteError creates an error for a snapshot write with a mismatched digest.
func StaleWriteError(expected, current string) *Error {
	return &Error{
		Code:    ErrCodeStaleWrite,
		Message: "snapshot write rejected: the state changed since it was read",
		Details: map[string]interface{}{
			"expected_digest": expected,
			"current_digest":  current,
		},
	}
}

// ProviderError creates an error for a failed provider effect.
func ProviderError(kind, resource, operation string, err error) *Error {
	return &Error{
		Code:    ErrCodeProvider,
		Message: fmt.Sprintf("provider for kind %q failed during %s of %s", kind, operation, resource),
		Cause:   err,
		Details: map[string]interface{}{
			"kind":      kind,
			"resource":  resource,
			"operation": operation,
		},
	}
}

// PartialApplyError creates a summary error for an apply that completed some
// but not all of its actions. The detail lists let a rerun resume safely.
func PartialApplyError(completed, failed, remaining []string) *Error {
	return &Error{
		Code: ErrCodePartialApply,
		Message: fmt.Sprintf("apply partially completed: %d applied, %d failed, %d not attempted",
			len(completed), len(failed), len(remaining)),
		Details: map[string]interface{}{
			"completed": completed,
			"failed":    failed,
			"remaining": remaining,
		},
	}
}

// NotFoundError creates a not found error
func NotFoundError(resourceType, name string) *Error {
	return &Error{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s %q not found", resourceType, name),
		Details: map[string]interface{}{
			"resource_type": resourceType,
			"name":          name,
		},
	}
}

// BackendError creates a backend error
func BackendError(backend string, operation string, err error) *Error {
	return &Error{
		Code:    ErrCodeBackend,
		Message: fmt.Sprintf("backend %s failed during %s", backend, operation),
		Cause:   err,
		Details: map[string]interface{}{
			"backend":   backend,
			"operation": operation,
		},
	}
}

// ExpressionError creates an expression evaluation error
func ExpressionError(expression string, err error) *Error {
	return &Error{
		Code:    ErrCodeExpression,
		Message: fmt.Sprintf("failed to evaluate expression: %s", expression),
		Cause:   err,
		Details: map[string]interface{}{
			"expression": expression,
		},
	}
}

// ParseError creates a parse error
func ParseError(filePath string, err error) *Error {
	return &Error{
		Code:    ErrCodeParse,
		Message: fmt.Sprintf("failed to parse %s", filePath),
		Cause:   err,
		Details: map[string]interface{}{
			"file": filePath,
		},
	}
}

// Is checks whether err, or any error it wraps, carries the given code
func Is(err error, code ErrorCode) bool {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code == code
	}
	return false
}
