// Package treemodel provides an observable, row-indexed mirror of a
// mailbox's UID map. The synchronizer task announces row-count deltas
// through it before the corresponding cache write becomes visible, so a UI
// bound to Model never observes a row count that disagrees with what's
// about to be persisted.
package treemodel

// RowObserver receives announce-then-mutate signal pairs: each structural
// change is signalled before and after it is applied, and flag updates come
// through DataChanged. from/to are inclusive 0-based row indices.
type RowObserver interface {
	RowsAboutToBeInserted(path string, from, to int)
	RowsInserted(path string, from, to int)
	RowsAboutToBeRemoved(path string, from, to int)
	RowsRemoved(path string, from, to int)
	DataChanged(path string, row int)
}

// NopRowObserver implements RowObserver with no-ops, for callers with no UI.
type NopRowObserver struct{}

func (NopRowObserver) RowsAboutToBeInserted(string, int, int) {}
func (NopRowObserver) RowsInserted(string, int, int)          {}
func (NopRowObserver) RowsAboutToBeRemoved(string, int, int)  {}
func (NopRowObserver) RowsRemoved(string, int, int)           {}
func (NopRowObserver) DataChanged(string, int)                {}

// Model mirrors one mailbox's UID map as a row-indexed list. A row with
// UID 0 is valid but not yet known; the task fills it in once discovered
// via SetUID.
type Model struct {
	path     string
	uids     []uint32
	observer RowObserver
}

// New returns an empty Model for path. observer may be nil, in which case
// NopRowObserver is used.
func New(path string, observer RowObserver) *Model {
	if observer == nil {
		observer = NopRowObserver{}
	}
	return &Model{path: path, observer: observer}
}

// Rows returns the current row-to-UID mirror (read-only view).
func (m *Model) Rows() []uint32 { return m.uids }

// Sync reconciles the model to next, a full UID list in sequence-number
// order, announcing removals (descending, so earlier indices stay valid
// while later ones are cut) and then insertions (ascending, matching the
// UID map's append-at-end/erase-at-index mutation model).
func (m *Model) Sync(next []uint32) {
	keep := make(map[uint32]bool, len(next))
	for _, u := range next {
		keep[u] = true
	}

	// Remove rows whose UID is absent from next, walking back-to-front so
	// a removal never shifts the index of one still pending removal.
	i := len(m.uids) - 1
	for i >= 0 {
		if keep[m.uids[i]] {
			i--
			continue
		}
		// Batch a contiguous run of removals into one signal pair.
		end := i
		for i >= 0 && !keep[m.uids[i]] {
			i--
		}
		start := i + 1
		m.observer.RowsAboutToBeRemoved(m.path, start, end)
		m.uids = append(m.uids[:start], m.uids[end+1:]...)
		m.observer.RowsRemoved(m.path, start, end)
	}

	have := make(map[uint32]bool, len(m.uids))
	for _, u := range m.uids {
		have[u] = true
	}

	// Append rows for every UID in next not already present, in order.
	var pending []uint32
	for _, u := range next {
		if !have[u] {
			pending = append(pending, u)
		}
	}
	if len(pending) > 0 {
		start := len(m.uids)
		end := start + len(pending) - 1
		m.observer.RowsAboutToBeInserted(m.path, start, end)
		m.uids = append(m.uids, pending...)
		m.observer.RowsInserted(m.path, start, end)
	}
}

// SetUID fills in a row's UID once a prior arrival (shown as UID 0) is
// resolved, announcing a data change rather than a structural one.
func (m *Model) SetUID(row int, uid uint32) {
	if row < 0 || row >= len(m.uids) {
		return
	}
	m.uids[row] = uid
	m.observer.DataChanged(m.path, row)
}

// FlagsChanged announces that uid's flags were updated, resolving its
// current row by linear scan (mailbox row counts are small enough that
// this needs no auxiliary index).
func (m *Model) FlagsChanged(uid uint32) {
	for row, u := range m.uids {
		if u == uid {
			m.observer.DataChanged(m.path, row)
			return
		}
	}
}
