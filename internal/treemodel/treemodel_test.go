package treemodel_test

import (
	"reflect"
	"testing"

	"github.com/driftkit-mail/driftsync/internal/treemodel"
)

type recordingObserver struct {
	calls []string
}

func (r *recordingObserver) RowsAboutToBeInserted(path string, from, to int) {
	r.calls = append(r.calls, "aboutToInsert")
}
func (r *recordingObserver) RowsInserted(path string, from, to int) {
	r.calls = append(r.calls, "inserted")
}
func (r *recordingObserver) RowsAboutToBeRemoved(path string, from, to int) {
	r.calls = append(r.calls, "aboutToRemove")
}
func (r *recordingObserver) RowsRemoved(path string, from, to int) {
	r.calls = append(r.calls, "removed")
}
func (r *recordingObserver) DataChanged(path string, row int) {
	r.calls = append(r.calls, "dataChanged")
}

func TestSyncAppendsAtEnd(t *testing.T) {
	obs := &recordingObserver{}
	m := treemodel.New("INBOX", obs)

	m.Sync([]uint32{6, 9, 10})
	if !reflect.DeepEqual(m.Rows(), []uint32{6, 9, 10}) {
		t.Fatalf("Rows() = %v, want [6 9 10]", m.Rows())
	}
	if !reflect.DeepEqual(obs.calls, []string{"aboutToInsert", "inserted"}) {
		t.Fatalf("calls = %v, want one insert batch", obs.calls)
	}
}

func TestSyncRemovesThenInserts(t *testing.T) {
	obs := &recordingObserver{}
	m := treemodel.New("INBOX", obs)
	m.Sync([]uint32{6, 9, 10})

	obs.calls = nil
	m.Sync([]uint32{6, 10, 11}) // 9 expunged, 11 arrived

	if !reflect.DeepEqual(m.Rows(), []uint32{6, 10, 11}) {
		t.Fatalf("Rows() = %v, want [6 10 11]", m.Rows())
	}
	want := []string{"aboutToRemove", "removed", "aboutToInsert", "inserted"}
	if !reflect.DeepEqual(obs.calls, want) {
		t.Fatalf("calls = %v, want %v", obs.calls, want)
	}
}

func TestSyncBatchesContiguousRemovals(t *testing.T) {
	obs := &recordingObserver{}
	m := treemodel.New("INBOX", obs)
	m.Sync([]uint32{1, 2, 3, 4, 5})

	obs.calls = nil
	m.Sync([]uint32{1, 5}) // 2,3,4 removed in one contiguous run

	removals := 0
	for _, c := range obs.calls {
		if c == "removed" {
			removals++
		}
	}
	if removals != 1 {
		t.Fatalf("got %d removed signals for a contiguous run, want 1", removals)
	}
	if !reflect.DeepEqual(m.Rows(), []uint32{1, 5}) {
		t.Fatalf("Rows() = %v, want [1 5]", m.Rows())
	}
}

func TestFlagsChangedAnnouncesDataChanged(t *testing.T) {
	obs := &recordingObserver{}
	m := treemodel.New("INBOX", obs)
	m.Sync([]uint32{6, 9, 10})

	obs.calls = nil
	m.FlagsChanged(9)
	if !reflect.DeepEqual(obs.calls, []string{"dataChanged"}) {
		t.Fatalf("calls = %v, want [dataChanged]", obs.calls)
	}
}

func TestSetUIDAnnouncesDataChanged(t *testing.T) {
	obs := &recordingObserver{}
	m := treemodel.New("INBOX", obs)
	m.Sync([]uint32{0, 0})

	obs.calls = nil
	m.SetUID(1, 42)
	if m.Rows()[1] != 42 {
		t.Fatalf("Rows()[1] = %d, want 42", m.Rows()[1])
	}
	if !reflect.DeepEqual(obs.calls, []string{"dataChanged"}) {
		t.Fatalf("calls = %v, want [dataChanged]", obs.calls)
	}
}
