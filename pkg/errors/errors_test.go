package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorFormatting(t *testing.T) {
	err := New(ErrCodeLoad, "something broke")
	if got := err.Error(); got != "[LOAD_ERROR] something broke" {
		t.Errorf("Error: %q", got)
	}

	wrapped := Wrap(ErrCodeBackend, "write failed", stderrors.New("disk full"))
	if !strings.Contains(wrapped.Error(), "disk full") {
		t.Errorf("cause missing: %q", wrapped.Error())
	}
	if stderrors.Unwrap(wrapped).Error() != "disk full" {
		t.Error("Unwrap lost the cause")
	}
}

func TestIsMatchesCode(t *testing.T) {
	err := DestroyBlockedError("net/vpc[0]")
	if !Is(err, ErrCodeDestroyBlocked) {
		t.Error("code not matched")
	}
	if Is(err, ErrCodeLockBusy) {
		t.Error("wrong code matched")
	}
	if Is(stderrors.New("plain"), ErrCodeLoad) {
		t.Error("plain error matched a code")
	}
	if Is(nil, ErrCodeLoad) {
		t.Error("nil matched a code")
	}
}

func TestIsUnwrapsWrappedErrors(t *testing.T) {
	inner := StalePlanError("a", "b")
	wrapped := fmt.Errorf("apply: %w", inner)
	if !Is(wrapped, ErrCodeStalePlan) {
		t.Error("wrapped code not matched")
	}
	if Is(wrapped, ErrCodeLockBusy) {
		t.Error("wrong code matched through wrap")
	}
}

func TestConstructorsCarryDetails(t *testing.T) {
	err := LockBusy("prod", LockInfo{ID: "lock-1", Who: "a@host", Operation: "apply"})
	if err.Details["locked_by"] != "a@host" {
		t.Errorf("details: %v", err.Details)
	}

	partial := PartialApplyError([]string{"a", "b"}, []string{"c"}, []string{"d"})
	if !strings.Contains(partial.Message, "2 applied, 1 failed, 1 not attempted") {
		t.Errorf("message: %q", partial.Message)
	}

	cycle := CycleError([]string{"x", "y"})
	if !strings.Contains(cycle.Message, "x") || !strings.Contains(cycle.Message, "y") {
		t.Errorf("message: %q", cycle.Message)
	}
}
