package verror_test

import (
	"errors"
	"testing"

	"github.com/aledsdavies/symbex/internal/verror"
)

func TestNewHasNoUnwrap(t *testing.T) {
	err := verror.New(verror.ErrAssertionFalse, "postcondition does not hold")
	if err.Unwrap() != nil {
		t.Errorf("Unwrap() = %v, want nil", err.Unwrap())
	}
	if err.GetType() != verror.ErrAssertionFalse {
		t.Errorf("GetType() = %q, want %q", err.GetType(), verror.ErrAssertionFalse)
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("EOF")
	err := verror.Wrap(verror.ErrProverInteraction, "reading check-sat response", cause)

	if !errors.Is(err, cause) {
		t.Errorf("errors.Is(err, cause) = false, want true")
	}
	if got := err.Error(); got == "" {
		t.Errorf("Error() returned empty string")
	}
}

func TestWithContextRoundTrips(t *testing.T) {
	err := verror.New(verror.ErrInsufficientPermission, "x.f").
		WithContext("field", "f").
		WithContext("receiver", "x")

	field, ok := err.GetContext("field")
	if !ok || field != "f" {
		t.Errorf("GetContext(field) = %v, %v, want %q, true", field, ok, "f")
	}
	if _, ok := err.GetContext("missing"); ok {
		t.Errorf("GetContext(missing) returned ok=true")
	}
}

func TestIsErrorType(t *testing.T) {
	err := verror.NewInsufficientPermissionError("x.f")
	if !verror.IsErrorType(err, verror.ErrInsufficientPermission) {
		t.Errorf("IsErrorType(err, ErrInsufficientPermission) = false, want true")
	}
	if verror.IsErrorType(err, verror.ErrNegativePermission) {
		t.Errorf("IsErrorType(err, ErrNegativePermission) = true, want false")
	}
	if verror.IsErrorType(errors.New("plain"), verror.ErrInsufficientPermission) {
		t.Errorf("IsErrorType(plain error, ...) = true, want false")
	}
}

func TestHelperConstructorsSetContext(t *testing.T) {
	tests := []struct {
		name string
		err  *verror.VerificationError
		typ  string
		key  string
	}{
		{"insufficient permission", verror.NewInsufficientPermissionError("x.f"), verror.ErrInsufficientPermission, "resource"},
		{"negative permission", verror.NewNegativePermissionError("x.f"), verror.ErrNegativePermission, "resource"},
		{"receiver not injective", verror.NewReceiverNotInjectiveError("f"), verror.ErrReceiverNotInjective, "field"},
		{"magic wand chunk not found", verror.NewMagicWandChunkNotFoundError("A --* B"), verror.ErrMagicWandChunkNotFound, "wand"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.GetType() != tt.typ {
				t.Errorf("GetType() = %q, want %q", tt.err.GetType(), tt.typ)
			}
			if _, ok := tt.err.GetContext(tt.key); !ok {
				t.Errorf("missing context key %q", tt.key)
			}
		})
	}
}
