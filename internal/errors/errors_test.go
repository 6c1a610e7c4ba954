package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

func TestAppErrorMessage(t *testing.T) {
	err := New(ErrNotFound, "record missing")

	want := "[NOT_FOUND] record missing"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := stderrors.New("disk full")
	err := Wrap(ErrStorage, "put failed", cause)

	if !stderrors.Is(err, cause) {
		t.Error("Wrapped cause not reachable via errors.Is")
	}

	if err.Unwrap() != cause {
		t.Error("Unwrap did not return the cause")
	}
}

func TestIsMatchesNestedCode(t *testing.T) {
	inner := New(ErrConflict, "id already exists")
	outer := Wrap(ErrSyncFailed, "reconcile failed", inner)

	if !Is(outer, ErrSyncFailed) {
		t.Error("Outer code not matched")
	}
	if !Is(outer, ErrConflict) {
		t.Error("Nested code not matched")
	}
	if Is(outer, ErrNotFound) {
		t.Error("Unrelated code matched")
	}

	// Codes behind plain fmt wrapping are still found
	wrapped := fmt.Errorf("write: %w", inner)
	if !Is(wrapped, ErrConflict) {
		t.Error("Code behind fmt.Errorf not matched")
	}
}

func TestGetCode(t *testing.T) {
	if got := GetCode(New(ErrQueueFull, "full")); got != ErrQueueFull {
		t.Errorf("GetCode = %s, want %s", got, ErrQueueFull)
	}

	if got := GetCode(stderrors.New("plain")); got != ErrInternal {
		t.Errorf("GetCode on plain error = %s, want %s", got, ErrInternal)
	}
}
