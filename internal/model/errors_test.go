package model

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_IsMatchesByCode(t *testing.T) {
	detailed := ErrGameFull.With("game %s has %d/%d seats", "g1", 2, 2)
	if !errors.Is(detailed, ErrGameFull) {
		t.Fatal("detailed error should match its sentinel")
	}
	if errors.Is(detailed, ErrAlreadyJoined) {
		t.Fatal("different codes must not match")
	}

	wrapped := fmt.Errorf("join: %w", detailed)
	if !errors.Is(wrapped, ErrGameFull) {
		t.Fatal("fmt-wrapped error should still match")
	}
	e, ok := AsError(wrapped)
	if !ok || e.Kind != KindValidation {
		t.Fatalf("AsError = %v, %v", e, ok)
	}
}

func TestError_WrapKeepsCause(t *testing.T) {
	cause := errors.New("boom")
	err := ErrInvalidProof.Wrap(cause)
	if !errors.Is(err, cause) {
		t.Error("wrapped cause should be reachable")
	}
	if !errors.Is(err, ErrInvalidProof) {
		t.Error("wrapped error should match its code")
	}
}

func TestGameState_Terminal(t *testing.T) {
	cases := map[GameState]bool{
		StateOpen:               false,
		StateAwaitingRandomness: false,
		StateSettled:            true,
		StateCancelled:          true,
	}
	for s, want := range cases {
		if got := s.Terminal(); got != want {
			t.Errorf("%s.Terminal() = %v, want %v", s, got, want)
		}
	}
}
