package registra

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorPredicatesAreDisjoint(t *testing.T) {
	predicates := map[string]func(error) bool{
		"not_found":   IsNotFound,
		"conflict":    IsConflict,
		"rejected":    IsRejected,
		"unavailable": IsUnavailable,
		"timeout":     IsTimeout,
		"malformed":   IsMalformed,
	}

	cases := map[string]error{
		"not_found":   NewSchemaNotFoundError("ticks_v1"),
		"conflict":    NewConflictError("ticks_v1", "latest pointer moved during publish"),
		"rejected":    NewRejectedError("ticks_v1", "breaking change requires major version bump"),
		"unavailable": NewUnavailableError("backend unreachable", errors.New("dial refused")),
		"timeout":     NewTimeoutError("get timed out", errors.New("deadline")),
		"malformed":   NewMalformedDocumentError("ticks_v1", "bad document"),
	}

	for errName, err := range cases {
		for predName, pred := range predicates {
			want := errName == predName
			if got := pred(err); got != want {
				t.Errorf("%s(%s error) = %t, want %t", predName, errName, got, want)
			}
		}
	}
}

func TestErrorPredicatesSeeThroughWrapping(t *testing.T) {
	inner := NewVersionNotFoundError("ticks_v1", MustParseVersion("1.2.0"))
	wrapped := fmt.Errorf("resolving latest: %w", inner)

	if !IsNotFound(wrapped) {
		t.Error("IsNotFound should unwrap")
	}
	if IsConflict(wrapped) {
		t.Error("IsConflict matched a not-found error")
	}
}

func TestRegistryErrorRendering(t *testing.T) {
	err := NewRejectedError("ticks_v1", "breaking change requires major version bump",
		"removed field price").WithVersion("1.2.1")

	msg := err.Error()
	for _, want := range []string{"rejected", "POLICY_VIOLATION", "ticks_v1", "1.2.1", "removed field price"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, missing %q", msg, want)
		}
	}
}

func TestRegistryErrorUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewUnavailableError("publish failed", cause)
	if !errors.Is(err, cause) {
		t.Error("Unwrap should expose the cause")
	}
}
