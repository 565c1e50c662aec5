package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorClass_String(t *testing.T) {
	tests := []struct {
		class    ErrorClass
		expected string
	}{
		{ErrorTransient, "transient"},
		{ErrorInvalid, "invalid"},
		{ErrorFatal, "fatal"},
		{ErrorClass(999), "unknown"},
	}

	for _, test := range tests {
		t.Run(test.expected, func(t *testing.T) {
			result := test.class.String()
			if result != test.expected {
				t.Errorf("expected %s, got %s", test.expected, result)
			}
		})
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"token mismatch", ErrTokenMismatch, true},
		{"context deadline exceeded", context.DeadlineExceeded, true},
		{"handler not found", ErrHandlerNotFound, false},
		{"max retries exceeded", ErrMaxRetriesExceeded, false},
		{"classified transient", &ClassifiedError{Class: ErrorTransient, Err: fmt.Errorf("test")}, true},
		{"classified fatal", &ClassifiedError{Class: ErrorFatal, Err: fmt.Errorf("test")}, false},
		{"wrapped token mismatch", fmt.Errorf("registry write: %w", ErrTokenMismatch), true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := IsTransient(test.err)
			if result != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, result, test.err)
			}
		})
	}
}

func TestIsInvalid(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"agent type not registered", ErrAgentTypeNotRegistered, true},
		{"duplicate agent type", ErrAgentTypeExists, true},
		{"handler not found", ErrHandlerNotFound, true},
		{"subscription not found", ErrSubscriptionNotFound, true},
		{"not initialized", ErrNotInitialized, true},
		{"delivery consumed", ErrDeliveryConsumed, true},
		{"token mismatch", ErrTokenMismatch, false},
		{"classified invalid", &ClassifiedError{Class: ErrorInvalid, Err: fmt.Errorf("test")}, true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := IsInvalid(test.err)
			if result != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, result, test.err)
			}
		})
	}
}

func TestIsFatal(t *testing.T) {
	if !IsFatal(ErrMaxRetriesExceeded) {
		t.Error("expected ErrMaxRetriesExceeded to be fatal")
	}
	if !IsFatal(ErrInvalidConfig) {
		t.Error("expected ErrInvalidConfig to be fatal")
	}
	if IsFatal(ErrTokenMismatch) {
		t.Error("expected ErrTokenMismatch to not be fatal")
	}
	if IsFatal(nil) {
		t.Error("expected nil to not be fatal")
	}
}

func TestIsCanceled(t *testing.T) {
	if !IsCanceled(ErrDeliveryCanceled) {
		t.Error("expected ErrDeliveryCanceled to be canceled")
	}
	if !IsCanceled(context.Canceled) {
		t.Error("expected context.Canceled to be canceled")
	}
	if !IsCanceled(fmt.Errorf("rpc aborted: %w", ErrDeliveryCanceled)) {
		t.Error("expected wrapped cancellation to be canceled")
	}
	if IsCanceled(ErrHandlerNotFound) {
		t.Error("expected ordinary failure to not be canceled")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorClass
	}{
		{"nil error", nil, ErrorTransient},
		{"token mismatch", ErrTokenMismatch, ErrorTransient},
		{"handler not found", ErrHandlerNotFound, ErrorInvalid},
		{"retry budget spent", ErrMaxRetriesExceeded, ErrorFatal},
		{"unknown error", fmt.Errorf("something odd"), ErrorTransient},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := Classify(test.err); got != test.expected {
				t.Errorf("expected %v, got %v", test.expected, got)
			}
		})
	}
}

func TestWrap(t *testing.T) {
	base := errors.New("boom")
	wrapped := Wrap(base, "Registry", "AddSubscription", "state write")

	if !errors.Is(wrapped, base) {
		t.Error("wrapped error should unwrap to the base error")
	}
	want := "Registry.AddSubscription: state write failed: boom"
	if wrapped.Error() != want {
		t.Errorf("expected %q, got %q", want, wrapped.Error())
	}

	if Wrap(nil, "a", "b", "c") != nil {
		t.Error("wrapping nil should return nil")
	}
}

func TestWrapClassified(t *testing.T) {
	base := errors.New("boom")

	transient := WrapTransient(base, "Store", "Write", "kv update")
	if !IsTransient(transient) {
		t.Error("expected WrapTransient result to classify as transient")
	}
	if !errors.Is(transient, base) {
		t.Error("classified error should preserve the chain")
	}

	invalid := WrapInvalid(base, "Router", "Send", "receiver validation")
	if !IsInvalid(invalid) {
		t.Error("expected WrapInvalid result to classify as invalid")
	}

	fatal := WrapFatal(base, "Registry", "AddSubscription", "retry budget")
	if !IsFatal(fatal) {
		t.Error("expected WrapFatal result to classify as fatal")
	}

	var ce *ClassifiedError
	if !errors.As(fatal, &ce) {
		t.Fatal("expected a ClassifiedError in the chain")
	}
	if ce.Component != "Registry" || ce.Operation != "AddSubscription" {
		t.Errorf("unexpected component/operation: %s/%s", ce.Component, ce.Operation)
	}
	if !strings.Contains(ce.Error(), "retry budget failed") {
		t.Errorf("unexpected message: %s", ce.Error())
	}
}
