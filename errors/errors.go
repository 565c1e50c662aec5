// Package errors provides standardized error handling for the agent runtime.
// It includes error classification, standard error variables, and helper
// functions for consistent error wrapping across the system.
package errors

import (
	"context"
	"errors"
	"fmt"
)

// ErrorClass represents the classification of errors for handling purposes
type ErrorClass int

const (
	// ErrorTransient represents temporary errors that may be retried
	ErrorTransient ErrorClass = iota
	// ErrorInvalid represents errors due to invalid input or usage
	ErrorInvalid
	// ErrorFatal represents unrecoverable errors that should stop processing
	ErrorFatal
)

// String returns the string representation of ErrorClass
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Standard error variables for common runtime conditions
var (
	// Runtime and actor lifecycle errors
	ErrAlreadyStarted = errors.New("runtime already started")
	ErrNotStarted     = errors.New("runtime not started")
	ErrNotInitialized = errors.New("agent not bound to a runtime")
	ErrAlreadyBound   = errors.New("agent already bound to a runtime")
	ErrStopTimeout    = errors.New("stop timed out before mailbox drained")
	ErrMailboxClosed  = errors.New("mailbox closed")

	// Activation and dispatch errors
	ErrAgentTypeNotRegistered = errors.New("agent type not registered")
	ErrAgentTypeExists        = errors.New("agent type already registered")
	ErrHandlerNotFound        = errors.New("no handler registered for message type")
	ErrHandlerExists          = errors.New("handler already registered for message type")

	// RPC correlation errors
	ErrUnknownRequest   = errors.New("response for unknown request id")
	ErrDuplicateRequest = errors.New("request id already pending")

	// Delivery errors
	ErrDeliveryConsumed = errors.New("delivery already invoked")
	ErrDeliveryCanceled = errors.New("delivery canceled")

	// Registry and state store errors
	ErrTokenMismatch        = errors.New("version token mismatch")
	ErrStateNotFound        = errors.New("no persisted state")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrSubscriptionExists   = errors.New("subscription id already registered")
	ErrMaxRetriesExceeded   = errors.New("maximum retries exceeded")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingConfig = errors.New("missing required configuration")
)

// ClassifiedError wraps an error with its classification
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// IsTransient checks if an error is transient and should be retried
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorTransient
	}

	return errors.Is(err, ErrTokenMismatch) ||
		errors.Is(err, context.DeadlineExceeded)
}

// IsFatal checks if an error is fatal and should stop processing
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorFatal
	}

	return errors.Is(err, ErrMaxRetriesExceeded) ||
		errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingConfig)
}

// IsInvalid checks if an error is due to invalid input or usage
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorInvalid
	}

	return errors.Is(err, ErrAgentTypeNotRegistered) ||
		errors.Is(err, ErrAgentTypeExists) ||
		errors.Is(err, ErrHandlerNotFound) ||
		errors.Is(err, ErrSubscriptionNotFound) ||
		errors.Is(err, ErrNotInitialized) ||
		errors.Is(err, ErrDeliveryConsumed)
}

// IsCanceled reports whether an error represents a cancellation outcome.
// Cancellation is a distinguished terminal state rather than an ordinary
// failure: callers routinely treat "aborted" differently from "failed".
func IsCanceled(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrDeliveryCanceled) || errors.Is(err, context.Canceled)
}

// Classify returns the error class for an error
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorTransient
	}

	if IsFatal(err) {
		return ErrorFatal
	}
	if IsInvalid(err) {
		return ErrorInvalid
	}

	// Default to transient for unknown errors to allow retry
	return ErrorTransient
}

// newClassified creates a new classified error.
// This is an internal helper - use WrapTransient(), WrapFatal(), or WrapInvalid() instead.
func newClassified(class ErrorClass, err error, component, operation, message string) *ClassifiedError {
	return &ClassifiedError{
		Class:     class,
		Err:       err,
		Message:   message,
		Component: component,
		Operation: operation,
	}
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

// WrapTransient wraps an error as transient with context
func WrapTransient(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorTransient, wrappedErr, component, method, wrappedErr.Error())
}

// WrapFatal wraps an error as fatal with context
func WrapFatal(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorFatal, wrappedErr, component, method, wrappedErr.Error())
}

// WrapInvalid wraps an error as invalid with context
func WrapInvalid(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorInvalid, wrappedErr, component, method, wrappedErr.Error())
}

// Standard library pass-throughs so callers can use Is/As/New/Join without a
// second errors import alongside the wrap helpers.

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool { return errors.Is(err, target) }

// As finds the first error in err's chain that matches target
func As(err error, target any) bool { return errors.As(err, target) }

// New returns an error that formats as the given text
func New(text string) error { return errors.New(text) }

// Join returns an error wrapping the given errors, discarding nils
func Join(errs ...error) error { return errors.Join(errs...) }
