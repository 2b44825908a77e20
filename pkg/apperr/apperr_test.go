package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOfWrapped(t *testing.T) {
	base := Conflict(ReasonCoupleFull, "couple already has two members", "couple-1")
	wrapped := fmt.Errorf("redeem: %w", base)

	if KindOf(wrapped) != KindConflict {
		t.Fatalf("expected conflict kind, got %s", KindOf(wrapped))
	}
	if ReasonOf(wrapped) != ReasonCoupleFull {
		t.Fatalf("expected reason %s, got %s", ReasonCoupleFull, ReasonOf(wrapped))
	}
	if EntityOf(wrapped) != "couple-1" {
		t.Fatalf("expected entity to survive wrapping, got %v", EntityOf(wrapped))
	}
}

func TestKindOfPlainErrorIsInternal(t *testing.T) {
	if KindOf(errors.New("boom")) != KindInternal {
		t.Fatal("expected plain errors to map to internal")
	}
	if Is(nil, KindInternal) {
		t.Fatal("nil error must not match any kind")
	}
}

func TestErrorMessageIncludesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(KindUpstreamUnavailable, "content generation failed", cause)
	if err.Error() != "content generation failed: connection refused" {
		t.Fatalf("unexpected message: %q", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected errors.Is to reach the cause")
	}
}
