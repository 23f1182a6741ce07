package uidmap_test

import (
	"reflect"
	"testing"

	"github.com/driftkit-mail/driftsync/internal/uidmap"
)

func TestFromSliceAndSeqOf(t *testing.T) {
	m := uidmap.FromSlice([]uint32{10, 20, 30})

	if m.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", m.Len())
	}
	seq, ok := m.SeqOf(20)
	if !ok || seq != 2 {
		t.Fatalf("SeqOf(20) = (%d, %v), want (2, true)", seq, ok)
	}
	if _, ok := m.SeqOf(99); ok {
		t.Fatalf("SeqOf(99) found, want not found")
	}
}

func TestAppend(t *testing.T) {
	m := uidmap.FromSlice([]uint32{10, 20})

	if !m.Append(30) {
		t.Fatalf("Append(30) = false, want true")
	}
	if m.Append(10) {
		t.Fatalf("Append(10) = true for a duplicate UID, want false")
	}
	if !reflect.DeepEqual(m.UIDs(), []uint32{10, 20, 30}) {
		t.Fatalf("UIDs() = %v, want [10 20 30]", m.UIDs())
	}
}

func TestEraseAtRenumbers(t *testing.T) {
	m := uidmap.FromSlice([]uint32{10, 20, 30, 40})

	removed, ok := m.EraseAt(2) // EXPUNGE of seq 2 removes UID 20
	if !ok || removed != 20 {
		t.Fatalf("EraseAt(2) = (%d, %v), want (20, true)", removed, ok)
	}
	if !reflect.DeepEqual(m.UIDs(), []uint32{10, 30, 40}) {
		t.Fatalf("UIDs() after erase = %v, want [10 30 40]", m.UIDs())
	}
	seq, ok := m.SeqOf(30)
	if !ok || seq != 2 {
		t.Fatalf("SeqOf(30) after erase = (%d, %v), want (2, true)", seq, ok)
	}
}

func TestEraseUIDsForVanished(t *testing.T) {
	m := uidmap.FromSlice([]uint32{10, 20, 30, 40, 50})

	n := m.EraseUIDs([]uint32{20, 40})
	if n != 2 {
		t.Fatalf("EraseUIDs removed %d, want 2", n)
	}
	if !reflect.DeepEqual(m.UIDs(), []uint32{10, 30, 50}) {
		t.Fatalf("UIDs() after EraseUIDs = %v, want [10 30 50]", m.UIDs())
	}
}

func TestValidateRejectsZeroOutOfRangeAndDuplicateUIDs(t *testing.T) {
	if err := uidmap.FromSlice([]uint32{1, 2, 3}).Validate(4); err != nil {
		t.Fatalf("Validate() on a clean map returned %v, want nil", err)
	}
	if err := uidmap.FromSlice([]uint32{1, 0, 3}).Validate(4); err == nil {
		t.Fatalf("Validate() with a zero UID returned nil, want error")
	}
	if err := uidmap.FromSlice([]uint32{1, 5, 3}).Validate(4); err == nil {
		t.Fatalf("Validate() with a UID >= uidNext returned nil, want error")
	}
	if err := uidmap.FromSlice([]uint32{1, 2, 2}).Validate(4); err == nil {
		t.Fatalf("Validate() with a duplicate UID returned nil, want error")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	m := uidmap.FromSlice([]uint32{1, 2, 3})
	c := m.Clone()
	c.Append(4)

	if m.Len() != 3 {
		t.Fatalf("original Len() = %d after mutating the clone, want 3", m.Len())
	}
	if c.Len() != 4 {
		t.Fatalf("clone Len() = %d, want 4", c.Len())
	}
}
