package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestSeverity_String(t *testing.T) {
	tests := []struct {
		severity Severity
		want     string
	}{
		{SeverityDebug, "debug"},
		{SeverityInfo, "info"},
		{SeverityWarning, "warning"},
		{SeverityError, "error"},
		{Severity(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.severity.String(); got != tt.want {
				t.Errorf("Severity.String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFleetError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *FleetError
		want string
	}{
		{
			name: "no context",
			err:  NewFleetError("assign failed", nil),
			want: "fleet error: assign failed",
		},
		{
			name: "bot and order",
			err:  NewFleetError("plan to bin failed", ErrNoPath).WithBot(2).WithOrder(7),
			want: "fleet error [bot=2, order=7]: plan to bin failed: no path within planning window",
		},
		{
			name: "phase only",
			err:  NewFleetError("stalled", nil).WithPhase("delivering"),
			want: "fleet error [phase=delivering]: stalled",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFleetError_Classification(t *testing.T) {
	tests := []struct {
		cause     error
		retryable bool
		severity  Severity
	}{
		{ErrNoPath, true, SeverityInfo},
		{ErrBinContended, true, SeverityInfo},
		{ErrNoIdleBot, true, SeverityInfo},
		{ErrBinNotFound, false, SeverityError},
		{nil, false, SeverityError},
	}

	for _, tt := range tests {
		name := "nil"
		if tt.cause != nil {
			name = tt.cause.Error()
		}
		t.Run(name, func(t *testing.T) {
			err := NewFleetError("x", tt.cause)
			if err.IsRetryable() != tt.retryable {
				t.Errorf("IsRetryable() = %v, want %v", err.IsRetryable(), tt.retryable)
			}
			if err.Severity() != tt.severity {
				t.Errorf("Severity() = %v, want %v", err.Severity(), tt.severity)
			}
		})
	}
}

func TestFleetError_IsAndAs(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", NewFleetError("lost token", ErrTokenRevoked).WithBot(1))

	if !Is(err, ErrTokenRevoked) {
		t.Error("Is(err, ErrTokenRevoked) = false, want true")
	}
	var fe *FleetError
	if !As(err, &fe) {
		t.Fatal("As(err, *FleetError) = false, want true")
	}
	if fe.BotID != 1 {
		t.Errorf("BotID = %d, want 1", fe.BotID)
	}
	if !errors.Is(err, &FleetError{}) {
		t.Error("errors.Is should match any *FleetError target")
	}
}

func TestStoreError(t *testing.T) {
	err := NewStoreError("save bot", ErrStoreBusy)
	if got, want := err.Error(), "store error [save bot]: store busy"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !err.IsRetryable() {
		t.Error("busy store error should be retryable")
	}
	if NewStoreError("save bot", New("disk full")).IsRetryable() {
		t.Error("generic store error should not be retryable")
	}
}

func TestNotFoundError(t *testing.T) {
	err := NewNotFoundError("bin", "12").WithCause(ErrBinNotFound)

	if got, want := err.Error(), "bin '12' not found: bin not found"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !IsNotFound(err) {
		t.Error("IsNotFound() = false, want true")
	}
	if !IsNotFound(fmt.Errorf("lookup: %w", ErrProductNotFound)) {
		t.Error("IsNotFound() should match wrapped sentinels")
	}
	if IsNotFound(ErrNoPath) {
		t.Error("IsNotFound(ErrNoPath) = true, want false")
	}
}

func TestValidationError(t *testing.T) {
	err := NewValidationError("quantity must be positive").
		WithField("items[0].quantity").
		WithValue(0)

	want := "validation error [field=items[0].quantity, value=0]: quantity must be positive"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if !Is(err, ErrInvalidInput) {
		t.Error("ValidationError should match ErrInvalidInput")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", New("boom"), false},
		{"no path sentinel", fmt.Errorf("plan: %w", ErrNoPath), true},
		{"store busy sentinel", ErrStoreBusy, true},
		{"not found", NewNotFoundError("order", "3"), false},
		{"fleet contended", NewFleetError("assign", ErrBinContended), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetSeverity(t *testing.T) {
	if GetSeverity(nil) != SeverityDebug {
		t.Error("GetSeverity(nil) should be debug")
	}
	if GetSeverity(New("x")) != SeverityError {
		t.Error("unknown errors default to SeverityError")
	}
	if GetSeverity(NewNotFoundError("bot", "1")) != SeverityWarning {
		t.Error("NotFoundError should be a warning")
	}
	if GetSeverity(NewFleetError("assign", ErrBinContended)) != SeverityInfo {
		t.Error("contention should be info")
	}
	if GetSeverity(NewFleetError("pickup", ErrInvalidTransition)) != SeverityError {
		t.Error("invalid transition should be an error")
	}
}
