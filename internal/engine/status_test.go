package engine_test

import (
	"testing"

	"github.com/nnicholas-c/CivicGrid/internal/engine"
)

func TestIsTerminal(t *testing.T) {
	terminal := map[string]bool{
		engine.StatusPending:    false,
		engine.StatusApproved:   false,
		engine.StatusAssigned:   false,
		engine.StatusInProgress: false,
		engine.StatusCompleted:  false,
		engine.StatusClosed:     true,
		engine.StatusDenied:     true,
	}
	for status, want := range terminal {
		if got := engine.IsTerminal(status); got != want {
			t.Fatalf("IsTerminal(%s) = %v, want %v", status, got, want)
		}
	}
}

func TestValidStatus(t *testing.T) {
	for _, s := range []string{
		engine.StatusPending, engine.StatusApproved, engine.StatusAssigned,
		engine.StatusInProgress, engine.StatusCompleted, engine.StatusClosed, engine.StatusDenied,
	} {
		if !engine.ValidStatus(s) {
			t.Fatalf("expected %s to be valid", s)
		}
	}
	for _, s := range []string{"", "open", "resolved", "PENDING"} {
		if engine.ValidStatus(s) {
			t.Fatalf("expected %s to be invalid", s)
		}
	}
}

func TestExtendedStatusMapping(t *testing.T) {
	ext, ok := engine.ExtendedStatus(engine.StatusCompleted)
	if !ok || ext != "verification" {
		t.Fatalf("ExtendedStatus(completed) = %s, %v", ext, ok)
	}
	if _, ok := engine.ExtendedStatus("open"); ok {
		t.Fatalf("expected unknown status to have no extended name")
	}

	// Both resolved and paid fold into closed.
	for _, ext := range []string{"resolved", "paid"} {
		canonical, ok := engine.CanonicalStatus(ext)
		if !ok || canonical != engine.StatusClosed {
			t.Fatalf("CanonicalStatus(%s) = %s, %v", ext, canonical, ok)
		}
	}
	// Round trip over the canonical set, minus the paid alias.
	for _, s := range []string{
		engine.StatusPending, engine.StatusApproved, engine.StatusAssigned,
		engine.StatusInProgress, engine.StatusCompleted, engine.StatusClosed, engine.StatusDenied,
	} {
		ext, ok := engine.ExtendedStatus(s)
		if !ok {
			t.Fatalf("no extended name for %s", s)
		}
		back, ok := engine.CanonicalStatus(ext)
		if !ok || back != s {
			t.Fatalf("round trip %s -> %s -> %s", s, ext, back)
		}
	}
}
