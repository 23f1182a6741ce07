package syncstate_test

import (
	"testing"

	"github.com/driftkit-mail/driftsync/internal/syncstate"
)

func TestIsUsableForNumbers(t *testing.T) {
	var s syncstate.State
	if s.IsUsableForNumbers() {
		t.Fatalf("zero-value State reports usable for numbers")
	}

	s = s.WithExists(5).WithUIDNext(100).WithUIDValidity(1)
	if !s.IsUsableForNumbers() {
		t.Fatalf("State with Exists/UIDNext/UIDValidity observed reports not usable for numbers")
	}
	if s.IsUsableForSyncing() {
		t.Fatalf("State missing Flags/PermanentFlags/Recent reports usable for syncing")
	}

	s = s.WithRecent(0).WithFlags([]string{`\Seen`}).WithPermanentFlags([]string{`\Seen`, `\*`})
	if !s.IsUsableForSyncing() {
		t.Fatalf("fully observed State reports not usable for syncing")
	}
}

func TestClearHighestModSeq(t *testing.T) {
	s := syncstate.State{}.WithHighestModSeq(42)
	if !s.Observed.Has(syncstate.ObservedHighestModSeq) {
		t.Fatalf("WithHighestModSeq did not raise the observed bit")
	}

	s = s.ClearHighestModSeq()
	if s.Observed.Has(syncstate.ObservedHighestModSeq) {
		t.Fatalf("ClearHighestModSeq left the observed bit set")
	}
	if s.HighestModSeq != 0 {
		t.Fatalf("ClearHighestModSeq left HighestModSeq = %d, want 0", s.HighestModSeq)
	}
}

func TestEqualRoundTrip(t *testing.T) {
	a := syncstate.State{}.WithExists(3).WithUIDNext(10).WithUIDValidity(7).
		WithFlags([]string{`\Seen`, `\Answered`})
	b := syncstate.State{}.WithExists(3).WithUIDNext(10).WithUIDValidity(7).
		WithFlags([]string{`\Seen`, `\Answered`})

	if !a.Equal(b) {
		t.Fatalf("two States built identically compared unequal")
	}

	c := b.WithExists(4)
	if a.Equal(c) {
		t.Fatalf("States with different Exists compared equal")
	}
}

func TestCloneDoesNotAliasSlices(t *testing.T) {
	a := syncstate.State{}.WithFlags([]string{`\Seen`})
	b := a.Clone()
	b.Flags[0] = "mutated"

	if a.Flags[0] == "mutated" {
		t.Fatalf("Clone() aliased the Flags slice")
	}
}
