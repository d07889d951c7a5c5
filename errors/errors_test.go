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
		{"connection timeout", ErrConnectionTimeout, true},
		{"connection lost", ErrConnectionLost, true},
		{"startup timeout", ErrStartupTimeout, true},
		{"rate limited", ErrRateLimited, true},
		{"context deadline exceeded", context.DeadlineExceeded, true},
		{"context canceled", context.Canceled, true},
		{"invalid message", ErrInvalidMessage, false},
		{"invalid config", ErrInvalidConfig, false},
		{"timeout in message", fmt.Errorf("operation timeout occurred"), true},
		{"network error", fmt.Errorf("network connection failed"), true},
		{"plain error", fmt.Errorf("something broke"), false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := IsTransient(test.err)
			if result != test.expected {
				t.Errorf("IsTransient(%v) = %v, expected %v", test.err, result, test.expected)
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
		{"invalid message", ErrInvalidMessage, true},
		{"unknown kind", ErrUnknownKind, true},
		{"unknown component", ErrUnknownComponent, true},
		{"plain error", fmt.Errorf("something broke"), false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := IsInvalid(test.err)
			if result != test.expected {
				t.Errorf("IsInvalid(%v) = %v, expected %v", test.err, result, test.expected)
			}
		})
	}
}

func TestIsFatal(t *testing.T) {
	if !IsFatal(ErrInvalidConfig) {
		t.Error("expected ErrInvalidConfig to be fatal")
	}
	if !IsFatal(ErrMissingConfig) {
		t.Error("expected ErrMissingConfig to be fatal")
	}
	if IsFatal(nil) {
		t.Error("nil must not be fatal")
	}
	if IsFatal(ErrConnectionLost) {
		t.Error("connection lost is transient, not fatal")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorClass
	}{
		{"nil error", nil, ErrorTransient},
		{"transient", ErrConnectionTimeout, ErrorTransient},
		{"invalid", ErrUnknownComponent, ErrorInvalid},
		{"fatal", ErrInvalidConfig, ErrorFatal},
		{"unknown defaults to transient", fmt.Errorf("mystery"), ErrorTransient},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := Classify(test.err); got != test.expected {
				t.Errorf("Classify(%v) = %v, expected %v", test.err, got, test.expected)
			}
		})
	}
}

func TestWrap(t *testing.T) {
	base := errors.New("boom")

	wrapped := Wrap(base, "Manager", "StartComponent", "launch instance")
	if wrapped == nil {
		t.Fatal("expected non-nil wrapped error")
	}
	if !errors.Is(wrapped, base) {
		t.Error("wrapped error must match base via errors.Is")
	}
	if !strings.Contains(wrapped.Error(), "Manager.StartComponent: launch instance failed") {
		t.Errorf("unexpected message: %s", wrapped.Error())
	}

	if Wrap(nil, "Manager", "StartComponent", "launch") != nil {
		t.Error("wrapping nil must return nil")
	}
}

func TestWrapClassified(t *testing.T) {
	base := errors.New("boom")

	tests := []struct {
		name     string
		wrap     func(error, string, string, string) error
		expected ErrorClass
	}{
		{"transient", WrapTransient, ErrorTransient},
		{"invalid", WrapInvalid, ErrorInvalid},
		{"fatal", WrapFatal, ErrorFatal},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := test.wrap(base, "Bus", "Connect", "dial")
			var ce *ClassifiedError
			if !errors.As(err, &ce) {
				t.Fatal("expected a ClassifiedError")
			}
			if ce.Class != test.expected {
				t.Errorf("class = %v, expected %v", ce.Class, test.expected)
			}
			if ce.Component != "Bus" || ce.Operation != "Connect" {
				t.Errorf("unexpected context: %s.%s", ce.Component, ce.Operation)
			}
			if !errors.Is(err, base) {
				t.Error("classified error must unwrap to base")
			}
			if test.wrap(nil, "Bus", "Connect", "dial") != nil {
				t.Error("wrapping nil must return nil")
			}
		})
	}
}
