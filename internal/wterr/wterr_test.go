package wterr

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsDispatchesOnKind(t *testing.T) {
	err := New(Busy, errors.New("lock held"))
	if !Is(err, Busy) {
		t.Fatal("Is(Busy) should match")
	}
	if Is(err, OutOfDate) {
		t.Fatal("Is(OutOfDate) should not match a Busy error")
	}
}

func TestIsThroughWrapping(t *testing.T) {
	inner := New(Conflicts, nil)
	wrapped := fmt.Errorf("checkout foo: %w", inner)
	if !Is(wrapped, Conflicts) {
		t.Fatal("Is should see through fmt.Errorf wrapping")
	}
}

func TestKindStrings(t *testing.T) {
	if Busy.String() != "busy" {
		t.Errorf("Busy.String() = %q", Busy.String())
	}
	if FoldLast.String() != "fold-last" {
		t.Errorf("FoldLast.String() = %q", FoldLast.String())
	}
}
