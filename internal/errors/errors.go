// Package errors provides centralized error definitions and error handling utilities
// for autostore. It defines the sentinel errors shared by the planner, lock manager,
// fleet coordinator and order manager, the semantic error types built on top of them,
// and classification helpers used by retry loops.
//
// # Error Types
//
// Domain-specific errors carry fleet context:
//   - FleetError: errors raised while assigning or driving a bot
//   - StoreError: errors raised by the record store
//
// Semantic errors represent common error conditions:
//   - NotFoundError: a bot, bin, product or order is missing
//   - ValidationError: invalid input or state
//
// # Usage
//
//	err := errors.NewFleetError("plan to bin failed", errors.ErrNoPath).WithBot(2).WithOrder(7)
//
//	if errors.Is(err, errors.ErrNoPath) { ... }
//
//	var fleetErr *errors.FleetError
//	if errors.As(err, &fleetErr) { ... }
//
// Contention is never an error condition: a bin lock that is held simply
// defers assignment. ErrBinContended exists so callers can tell a deferred
// assignment apart from a failed one.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for conditions such as contention that resolve on their own.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Lookup sentinel errors
var (
	// ErrBotNotFound indicates that a bot id is not provisioned.
	ErrBotNotFound = New("bot not found")
	// ErrBinNotFound indicates that a bin id is not provisioned.
	ErrBinNotFound = New("bin not found")
	// ErrProductNotFound indicates that a product reference is unknown to the catalog.
	ErrProductNotFound = New("product not found")
	// ErrOrderNotFound indicates that an order id is unknown.
	ErrOrderNotFound = New("order not found")
)

// Coordination sentinel errors
var (
	// ErrNoPath indicates that the planner found no route inside its window.
	ErrNoPath = New("no path within planning window")
	// ErrNoIdleBot indicates that every bot is busy.
	ErrNoIdleBot = New("no idle bot available")
	// ErrNoCapableBot indicates that idle bots exist but none can carry the bin.
	ErrNoCapableBot = New("no idle bot can carry the bin")
	// ErrBinContended indicates that the target bin lock is held by another bot.
	ErrBinContended = New("bin lock held by another bot")
	// ErrTokenRevoked indicates that a fulfillment task lost its ownership token.
	ErrTokenRevoked = New("ownership token revoked")
	// ErrStillLive indicates that a reclamation was refused because the task made progress.
	ErrStillLive = New("task still making progress")
	// ErrInvalidTransition indicates a state machine transition that is not allowed.
	ErrInvalidTransition = New("invalid state transition")
)

// General sentinel errors
var (
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
	// ErrStoreBusy indicates that the record store reported contention.
	ErrStoreBusy = New("store busy")
)

// -----------------------------------------------------------------------------
// Base Error
// -----------------------------------------------------------------------------

// AutostoreError is the interface shared by every error type in this package.
type AutostoreError interface {
	error
	Unwrap() error
	Is(target error) bool
	Severity() Severity
	IsRetryable() bool
}

type baseError struct {
	message   string
	cause     error
	severity  Severity
	retryable bool
}

func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func (e *baseError) Unwrap() error { return e.cause }

func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

func (e *baseError) Severity() Severity { return e.severity }

func (e *baseError) IsRetryable() bool { return e.retryable }

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// FleetError represents errors raised while assigning or driving a bot.
//
// Example:
//
//	err := errors.NewFleetError("plan to delivery failed", errors.ErrNoPath).WithBot(1)
//	fmt.Println(err) // "fleet error [bot=1]: plan to delivery failed: no path within planning window"
type FleetError struct {
	baseError
	BotID   int64
	OrderID int64
	Phase   string
}

// NewFleetError creates a new FleetError. Planning and contention causes are
// marked retryable because the next reconciliation pass may succeed.
func NewFleetError(message string, cause error) *FleetError {
	retryable := errors.Is(cause, ErrNoPath) || errors.Is(cause, ErrBinContended) ||
		errors.Is(cause, ErrNoIdleBot) || errors.Is(cause, ErrNoCapableBot)
	sev := SeverityError
	if retryable {
		sev = SeverityInfo
	}
	return &FleetError{
		baseError: baseError{
			message:   message,
			cause:     cause,
			severity:  sev,
			retryable: retryable,
		},
	}
}

// WithBot adds a bot id to the error context.
func (e *FleetError) WithBot(id int64) *FleetError {
	e.BotID = id
	return e
}

// WithOrder adds an order id to the error context.
func (e *FleetError) WithOrder(id int64) *FleetError {
	e.OrderID = id
	return e
}

// WithPhase adds the bot phase (moving, carrying, ...) to the error context.
func (e *FleetError) WithPhase(phase string) *FleetError {
	e.Phase = phase
	return e
}

// Error returns the formatted error message.
func (e *FleetError) Error() string {
	var parts []string
	if e.BotID != 0 {
		parts = append(parts, fmt.Sprintf("bot=%d", e.BotID))
	}
	if e.OrderID != 0 {
		parts = append(parts, fmt.Sprintf("order=%d", e.OrderID))
	}
	if e.Phase != "" {
		parts = append(parts, fmt.Sprintf("phase=%s", e.Phase))
	}

	prefix := "fleet error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("fleet error [%s]", strings.Join(parts, ", "))
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *FleetError) Is(target error) bool {
	if _, ok := target.(*FleetError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// StoreError represents a failure of the record store.
type StoreError struct {
	baseError
	Op string
}

// NewStoreError creates a new StoreError for the named operation.
func NewStoreError(op string, cause error) *StoreError {
	return &StoreError{
		baseError: baseError{
			message:   op,
			cause:     cause,
			severity:  SeverityError,
			retryable: errors.Is(cause, ErrStoreBusy),
		},
		Op: op,
	}
}

// Error returns the formatted error message.
func (e *StoreError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("store error [%s]: %v", e.Op, e.cause)
	}
	return fmt.Sprintf("store error [%s]", e.Op)
}

// Is checks if this error matches the target.
func (e *StoreError) Is(target error) bool {
	if _, ok := target.(*StoreError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// NotFoundError represents a resource that could not be found.
//
// Example:
//
//	err := errors.NewNotFoundError("bin", "12")
//	fmt.Println(err) // "bin '12' not found"
type NotFoundError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{
		baseError: baseError{
			message:  fmt.Sprintf("%s '%s' not found", resourceType, resourceID),
			severity: SeverityWarning,
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// WithCause adds a cause to the error.
func (e *NotFoundError) WithCause(cause error) *NotFoundError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *NotFoundError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s '%s' not found: %v", e.ResourceType, e.ResourceID, e.cause)
	}
	return fmt.Sprintf("%s '%s' not found", e.ResourceType, e.ResourceID)
}

// Is checks if this error matches the target.
func (e *NotFoundError) Is(target error) bool {
	if _, ok := target.(*NotFoundError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ValidationError represents invalid input or state.
//
// Example:
//
//	err := errors.NewValidationError("quantity must be positive").WithField("items[0].quantity").WithValue(0)
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:  message,
			severity: SeverityWarning,
		},
	}
}

// WithField adds a field name to the error context.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue adds the invalid value to the error context.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	var parts []string
	if e.Field != "" {
		parts = append(parts, fmt.Sprintf("field=%s", e.Field))
	}
	if e.Value != nil {
		parts = append(parts, fmt.Sprintf("value=%v", e.Value))
	}

	prefix := "validation error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("validation error [%s]", strings.Join(parts, ", "))
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	if errors.Is(target, ErrInvalidInput) {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Error Classification Helpers
// -----------------------------------------------------------------------------

// IsRetryable returns true if the error represents a transient condition
// that may succeed on the next reconciliation pass or store retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var ae AutostoreError
	if As(err, &ae) {
		return ae.IsRetryable()
	}

	return Is(err, ErrNoPath) || Is(err, ErrBinContended) ||
		Is(err, ErrNoIdleBot) || Is(err, ErrNoCapableBot) || Is(err, ErrStoreBusy)
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement AutostoreError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}
	var ae AutostoreError
	if As(err, &ae) {
		return ae.Severity()
	}
	return SeverityError
}

// IsNotFound reports whether err is a NotFoundError or wraps a lookup sentinel.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	if As(err, &nf) {
		return true
	}
	return Is(err, ErrBotNotFound) || Is(err, ErrBinNotFound) ||
		Is(err, ErrProductNotFound) || Is(err, ErrOrderNotFound)
}
