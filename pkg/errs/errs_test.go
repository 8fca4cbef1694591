package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorIsKind(t *testing.T) {
	err := New(Input, "alignment3d.tvr_05", "missing field")
	wrapped := fmt.Errorf("reading metadata: %w", err)

	if !errors.Is(wrapped, ErrInput) {
		t.Errorf("Expected wrapped error to match ErrInput")
	}
	if errors.Is(wrapped, ErrGeometry) {
		t.Errorf("Input error should not match ErrGeometry")
	}
	if KindOf(wrapped) != Input {
		t.Errorf("Expected kind %v, got %v", Input, KindOf(wrapped))
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(Write, "volume", nil) != nil {
		t.Errorf("Wrap of nil error should be nil")
	}
}

func TestErrorMessage(t *testing.T) {
	err := Wrap(NotFound, "atlas volume", errors.New("no such file"))
	want := "not found: atlas volume: no such file"
	if err.Error() != want {
		t.Errorf("Expected %q, got %q", want, err.Error())
	}
	if KindOf(errors.New("plain")) != 0 {
		t.Errorf("Plain errors should have no kind")
	}
}
