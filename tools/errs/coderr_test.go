package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestCodeErrorIsThroughWrapping(t *testing.T) {
	err := ErrForbidden.WrapMsg("not a participant", "conversation", "c2", "user", "y")
	wrapped := fmt.Errorf("handle message:send: %w", err)

	if !errors.Is(wrapped, ErrForbidden) {
		t.Fatalf("expected wrapped error to match ErrForbidden: %v", wrapped)
	}
	if errors.Is(wrapped, ErrValidation) {
		t.Fatalf("forbidden must not match validation")
	}
	if got := Name(wrapped); got != "FORBIDDEN" {
		t.Fatalf("Name=%q", got)
	}
	if got := CodeOf(errors.New("plain")); got != CodeInternal {
		t.Fatalf("CodeOf plain=%d", got)
	}
}

func TestWrapMsgDetail(t *testing.T) {
	err := ErrValidation.WrapMsg("quantity out of range", "quantity", 9)
	var ce *CodeError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CodeError in chain")
	}
	if ce.Detail != "quantity out of range, quantity=9" {
		t.Fatalf("detail=%q", ce.Detail)
	}
	if ErrValidation.Detail != "" {
		t.Fatalf("sentinel mutated: %q", ErrValidation.Detail)
	}
}

func TestErrPanic(t *testing.T) {
	if ErrPanic(nil) != nil {
		t.Fatalf("nil recover must give nil error")
	}
	if !errors.Is(ErrPanic("boom"), ErrInternal) {
		t.Fatalf("panic error must be internal")
	}
}
