// Package errors provides the categorised failure values returned by the
// bitactor runtime. Every recoverable condition surfaces as a StandardError
// wrapping one of the sentinel values below so callers can branch with
// errors.Is while logs keep the code and context.
package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
)

// ErrorCategory represents different categories of errors
type ErrorCategory string

const (
	CategoryCapacity    ErrorCategory = "CAPACITY"
	CategoryPropagation ErrorCategory = "PROPAGATION"
	CategoryCircuit     ErrorCategory = "CIRCUIT"
	CategorySupervision ErrorCategory = "SUPERVISION"
	CategoryValidation  ErrorCategory = "VALIDATION"
	CategoryInvariant   ErrorCategory = "INVARIANT"
)

// Sentinel errors. StandardError.Unwrap returns one of these.
var (
	ErrCapacity          = stderrors.New("capacity exhausted")
	ErrBackpressure      = stderrors.New("backpressure: low priority message rejected")
	ErrDeadLettered      = stderrors.New("message moved to dead letters")
	ErrDeadLetterFull    = stderrors.New("dead letter ring full")
	ErrCircuitOpen       = stderrors.New("circuit open")
	ErrHopsExhausted     = stderrors.New("hop budget exhausted")
	ErrInvalidHandle     = stderrors.New("invalid handle")
	ErrDuplicateName     = stderrors.New("duplicate name")
	ErrNotFound          = stderrors.New("not found")
	ErrUnsupportedFormat = stderrors.New("unsupported manifest format")
	ErrInvalidArgument   = stderrors.New("invalid argument")
	ErrRecoveryFailed    = stderrors.New("recovery failed")
	ErrNotRunning        = stderrors.New("actor not running")
	ErrInvariant         = stderrors.New("invariant violated")
)

// StandardError provides a consistent error format
type StandardError struct {
	Category ErrorCategory
	Code     string
	Message  string
	Context  map[string]interface{}
	Caller   string
	cause    error
}

// Error implements the error interface
func (e *StandardError) Error() string {
	return fmt.Sprintf("[%s:%s] %s (caller: %s)", e.Category, e.Code, e.Message, e.Caller)
}

// Unwrap exposes the sentinel so errors.Is matches on category.
func (e *StandardError) Unwrap() error { return e.cause }

// NewStandardError creates a new standardized error
func NewStandardError(category ErrorCategory, code, message string, cause error, context map[string]interface{}) *StandardError {
	return newStandardError(2, category, code, message, cause, context)
}

func newStandardError(skip int, category ErrorCategory, code, message string, cause error, context map[string]interface{}) *StandardError {
	pc, _, _, ok := runtime.Caller(skip)
	caller := "unknown"
	if ok {
		if fn := runtime.FuncForPC(pc); fn != nil {
			caller = fn.Name()
		}
	}

	return &StandardError{
		Category: category,
		Code:     code,
		Message:  message,
		Context:  context,
		Caller:   caller,
		cause:    cause,
	}
}

// Common error constructors

func CapacityExhausted(resource string, limit int) *StandardError {
	return newStandardError(2, CategoryCapacity, "CAPACITY_EXHAUSTED",
		fmt.Sprintf("%s full (limit %d)", resource, limit), ErrCapacity,
		map[string]interface{}{"resource": resource, "limit": limit})
}

func InvalidHandle(kind string, value interface{}) *StandardError {
	return newStandardError(2, CategoryValidation, "INVALID_HANDLE",
		fmt.Sprintf("invalid %s handle %v", kind, value), ErrInvalidHandle,
		map[string]interface{}{"kind": kind, "value": value})
}

func DuplicateName(name string) *StandardError {
	return newStandardError(2, CategoryValidation, "DUPLICATE_NAME",
		fmt.Sprintf("name %q already registered", name), ErrDuplicateName,
		map[string]interface{}{"name": name})
}

func NotFound(kind, key string) *StandardError {
	return newStandardError(2, CategoryValidation, "NOT_FOUND",
		fmt.Sprintf("%s %q not found", kind, key), ErrNotFound,
		map[string]interface{}{"kind": kind, "key": key})
}

func InvalidArgument(what string, value interface{}) *StandardError {
	return newStandardError(2, CategoryValidation, "INVALID_ARGUMENT",
		fmt.Sprintf("invalid %s: %v", what, value), ErrInvalidArgument,
		map[string]interface{}{"argument": what, "value": value})
}

func CircuitOpen(target uint32) *StandardError {
	return newStandardError(2, CategoryCircuit, "CIRCUIT_OPEN",
		fmt.Sprintf("circuit open for target %d", target), ErrCircuitOpen,
		map[string]interface{}{"target": target})
}

func HopsExhausted(actor uint8, hops int) *StandardError {
	return newStandardError(2, CategoryPropagation, "HOPS_EXHAUSTED",
		fmt.Sprintf("signal from actor %d rejected with %d hops left", actor, hops), ErrHopsExhausted,
		map[string]interface{}{"actor": actor, "hops": hops})
}

func RecoveryFailed(actor uint32, cause error) *StandardError {
	return newStandardError(2, CategorySupervision, "RECOVERY_FAILED",
		fmt.Sprintf("actor %d failed to restart: %v", actor, cause), ErrRecoveryFailed,
		map[string]interface{}{"actor": actor})
}

func NotRunning(actor uint32, state fmt.Stringer) *StandardError {
	return newStandardError(2, CategorySupervision, "NOT_RUNNING",
		fmt.Sprintf("actor %d is %s", actor, state), ErrNotRunning,
		map[string]interface{}{"actor": actor, "state": state.String()})
}

// Invariant reports a detected invariant violation. Builds tagged "debug"
// abort the process; all other builds get a typed INVARIANT failure back.
func Invariant(format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	abortOnInvariant(msg)
	return newStandardError(2, CategoryInvariant, "INVARIANT_VIOLATION", msg, ErrInvariant, nil)
}

// CategoryOf returns the category of err if it is (or wraps) a StandardError.
func CategoryOf(err error) (ErrorCategory, bool) {
	var se *StandardError
	if stderrors.As(err, &se) {
		return se.Category, true
	}
	return "", false
}
