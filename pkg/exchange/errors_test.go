package exchange

import (
	"errors"
	"testing"
)

func TestTransportError_Unwrap(t *testing.T) {
	inner := errors.New("dial tcp: connection refused")
	err := &TransportError{Op: "ws_connect", Err: inner, Retryable: true}

	if !errors.Is(err, inner) {
		t.Fatalf("errors.Is(err, inner) = false, want true")
	}
	if got := err.Error(); got == "" {
		t.Fatalf("Error() returned empty string")
	}
}

func TestStorageIoError_Unwrap(t *testing.T) {
	inner := errors.New("permission denied")
	err := &StorageIoError{Op: "write", Err: inner}

	if !errors.Is(err, inner) {
		t.Fatalf("errors.Is(err, inner) = false, want true")
	}
}

func TestErrorTypes_DiscriminableViaErrorsAs(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"config", &ConfigError{Field: "api_key", Reason: "missing"}},
		{"auth", &AuthError{Reason: "invalid signature"}},
		{"transport", &TransportError{Op: "place_order", Err: errors.New("timeout"), Retryable: true}},
		{"rejected", &RejectedError{OrderID: 42, Reason: "insufficient margin", Retryable: false}},
		{"invariant", &InvariantViolationError{Component: "hedger", Detail: "unexpected fill"}},
		{"storage", &StorageIoError{Op: "read", Err: errors.New("not found")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var wrapped error = tt.err
			switch tt.name {
			case "config":
				var target *ConfigError
				if !errors.As(wrapped, &target) {
					t.Fatalf("errors.As failed for %s", tt.name)
				}
			case "auth":
				var target *AuthError
				if !errors.As(wrapped, &target) {
					t.Fatalf("errors.As failed for %s", tt.name)
				}
			case "transport":
				var target *TransportError
				if !errors.As(wrapped, &target) {
					t.Fatalf("errors.As failed for %s", tt.name)
				}
			case "rejected":
				var target *RejectedError
				if !errors.As(wrapped, &target) {
					t.Fatalf("errors.As failed for %s", tt.name)
				}
			case "invariant":
				var target *InvariantViolationError
				if !errors.As(wrapped, &target) {
					t.Fatalf("errors.As failed for %s", tt.name)
				}
			case "storage":
				var target *StorageIoError
				if !errors.As(wrapped, &target) {
					t.Fatalf("errors.As failed for %s", tt.name)
				}
			}
			if wrapped.Error() == "" {
				t.Fatalf("Error() returned empty string for %s", tt.name)
			}
		})
	}
}
