// Package uidmap implements the ordered sequence-number-to-UID mapping of
// a selected mailbox: Map[i] is the UID of the message whose IMAP sequence
// number is i+1 at the moment of the last committed update.
package uidmap

import "strconv"

// Map is an ordered, duplicate-free sequence of strictly positive UIDs.
type Map struct {
	uids []uint32
	pos  map[uint32]int // uid -> index, kept in sync with uids
}

// New returns an empty Map.
func New() *Map {
	return &Map{pos: make(map[uint32]int)}
}

// FromSlice builds a Map from a server-ordered UID list (e.g. the result of
// UID SEARCH ALL or UID SEARCH RETURN () ALL, already in ascending order).
func FromSlice(uids []uint32) *Map {
	m := &Map{
		uids: append([]uint32(nil), uids...),
		pos:  make(map[uint32]int, len(uids)),
	}
	for i, u := range m.uids {
		m.pos[u] = i
	}
	return m
}

// Len returns the number of messages; at every persisted checkpoint it
// equals the mailbox's EXISTS count.
func (m *Map) Len() int {
	return len(m.uids)
}

// UIDs returns the sequence in sequence-number order (read-only view: the
// caller must not mutate the returned slice).
func (m *Map) UIDs() []uint32 {
	return m.uids
}

// At returns the UID at 0-based sequence position i.
func (m *Map) At(i int) uint32 {
	return m.uids[i]
}

// SeqOf returns the 1-based sequence number of uid and true, or (0, false)
// if uid is not present.
func (m *Map) SeqOf(uid uint32) (uint32, bool) {
	i, ok := m.pos[uid]
	if !ok {
		return 0, false
	}
	return uint32(i + 1), true
}

// Contains reports whether uid is present anywhere in the map.
func (m *Map) Contains(uid uint32) bool {
	_, ok := m.pos[uid]
	return ok
}

// Append adds uid at the end (new arrival), if not already present.
// Returns false if uid was already present (a protocol violation the caller
// should treat as a duplicate-UID condition).
func (m *Map) Append(uid uint32) bool {
	if _, ok := m.pos[uid]; ok {
		return false
	}
	m.pos[uid] = len(m.uids)
	m.uids = append(m.uids, uid)
	return true
}

// EraseAt removes the message at 1-based sequence number seq (the IMAP
// EXPUNGE convention), renumbering every subsequent entry down by one.
// Returns the UID that was removed, or (0, false) if seq is out of range.
func (m *Map) EraseAt(seq uint32) (uint32, bool) {
	if seq == 0 || int(seq) > len(m.uids) {
		return 0, false
	}
	idx := int(seq) - 1
	removed := m.uids[idx]
	m.uids = append(m.uids[:idx], m.uids[idx+1:]...)
	delete(m.pos, removed)
	for i := idx; i < len(m.uids); i++ {
		m.pos[m.uids[i]] = i
	}
	return removed, true
}

// EraseUID removes uid wherever it currently sits, renumbering subsequent
// entries. Used for VANISHED (non-EARLIER) sets, which name UIDs rather
// than sequence numbers.
func (m *Map) EraseUID(uid uint32) bool {
	idx, ok := m.pos[uid]
	if !ok {
		return false
	}
	m.uids = append(m.uids[:idx], m.uids[idx+1:]...)
	delete(m.pos, uid)
	for i := idx; i < len(m.uids); i++ {
		m.pos[m.uids[i]] = i
	}
	return true
}

// EraseUIDs removes every uid in uids, in one pass, decrementing Len
// accordingly, the shape a VANISHED (non-EARLIER) response needs.
func (m *Map) EraseUIDs(uids []uint32) int {
	if len(uids) == 0 {
		return 0
	}
	remove := make(map[uint32]bool, len(uids))
	for _, u := range uids {
		remove[u] = true
	}
	kept := m.uids[:0]
	removedCount := 0
	for _, u := range m.uids {
		if remove[u] {
			delete(m.pos, u)
			removedCount++
			continue
		}
		kept = append(kept, u)
	}
	m.uids = kept
	for i, u := range m.uids {
		m.pos[u] = i
	}
	return removedCount
}

// Clone returns a deep copy, used when a task stages a working copy of the
// cache's committed map: the staged copy and the committed one must never
// alias.
func (m *Map) Clone() *Map {
	c := &Map{
		uids: append([]uint32(nil), m.uids...),
		pos:  make(map[uint32]int, len(m.pos)),
	}
	for k, v := range m.pos {
		c.pos[k] = v
	}
	return c
}

// Validate checks that every UID is strictly positive, below uidNext, and
// unique. Len()==EXISTS is the caller's responsibility to check against
// its sync state, since this type has no notion of one.
func (m *Map) Validate(uidNext uint32) error {
	seen := make(map[uint32]bool, len(m.uids))
	for _, u := range m.uids {
		if u == 0 {
			return errInvalidUID(u, "not strictly positive")
		}
		if u >= uidNext {
			return errInvalidUID(u, "not less than uidNext")
		}
		if seen[u] {
			return errInvalidUID(u, "duplicate")
		}
		seen[u] = true
	}
	return nil
}

type uidMapError struct {
	uid    uint32
	reason string
}

func (e *uidMapError) Error() string {
	return "uidmap: uid " + strconv.FormatUint(uint64(e.uid), 10) + ": " + e.reason
}

func errInvalidUID(uid uint32, reason string) error {
	return &uidMapError{uid: uid, reason: reason}
}
