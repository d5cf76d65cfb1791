package safe

import (
	"errors"
	"testing"

	"CragProject/tools/errs"
)

func TestRunRecoversPanic(t *testing.T) {
	err := Run(func() error { panic("handler blew up") })
	if !errors.Is(err, errs.ErrInternal) {
		t.Fatalf("expected internal error, got %v", err)
	}
	want := errors.New("plain")
	if got := Run(func() error { return want }); got != want {
		t.Fatalf("Run must pass through errors, got %v", got)
	}
}

func TestMustNotNil(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for nil pointer")
		}
	}()
	var p *int
	MustNotNil(p, "p")
}
