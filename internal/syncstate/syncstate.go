// Package syncstate defines the scalar mailbox attribute snapshot shared by
// the cache, the synchronizer, and the observer callbacks.
package syncstate

// Observed is a bitmask recording which State fields have ever been
// reported by the server, independent of whether the reported value is the
// zero value. A struct-of-pointers would answer the same question, but
// the bitmask keeps State a plain copyable value with one flat word to
// persist and compare in Equal.
type Observed uint16

const (
	ObservedExists Observed = 1 << iota
	ObservedRecent
	ObservedUIDNext
	ObservedUIDValidity
	ObservedUnseenCount
	ObservedUnseenOffset
	ObservedHighestModSeq
	ObservedFlags
	ObservedPermanentFlags
)

// Has reports whether every bit in want is set.
func (o Observed) Has(want Observed) bool {
	return o&want == want
}

// State is the immutable-by-value snapshot of the scalar mailbox
// attributes a SELECT reports, plus the Observed bitmask.
type State struct {
	Exists         uint32
	Recent         uint32
	UIDNext        uint32
	UIDValidity    uint32
	UnseenCount    uint32
	UnseenOffset   uint32
	HighestModSeq  uint64
	Flags          []string
	PermanentFlags []string
	Observed       Observed
}

// Clone returns a deep copy so the staged copy a task mutates never aliases
// the committed one a Cache read handed back.
func (s State) Clone() State {
	c := s
	if s.Flags != nil {
		c.Flags = append([]string(nil), s.Flags...)
	}
	if s.PermanentFlags != nil {
		c.PermanentFlags = append([]string(nil), s.PermanentFlags...)
	}
	return c
}

// WithExists returns a copy with Exists set and its observed bit raised.
func (s State) WithExists(v uint32) State {
	s.Exists = v
	s.Observed |= ObservedExists
	return s
}

// WithRecent returns a copy with Recent set and its observed bit raised.
func (s State) WithRecent(v uint32) State {
	s.Recent = v
	s.Observed |= ObservedRecent
	return s
}

// WithUIDNext returns a copy with UIDNext set and its observed bit raised.
func (s State) WithUIDNext(v uint32) State {
	s.UIDNext = v
	s.Observed |= ObservedUIDNext
	return s
}

// WithUIDValidity returns a copy with UIDValidity set and its observed bit raised.
func (s State) WithUIDValidity(v uint32) State {
	s.UIDValidity = v
	s.Observed |= ObservedUIDValidity
	return s
}

// WithUnseenCount returns a copy with UnseenCount set and its observed bit raised.
func (s State) WithUnseenCount(v uint32) State {
	s.UnseenCount = v
	s.Observed |= ObservedUnseenCount
	return s
}

// WithUnseenOffset returns a copy with UnseenOffset set and its observed bit raised.
func (s State) WithUnseenOffset(v uint32) State {
	s.UnseenOffset = v
	s.Observed |= ObservedUnseenOffset
	return s
}

// WithHighestModSeq returns a copy with HighestModSeq set and its observed bit raised.
func (s State) WithHighestModSeq(v uint64) State {
	s.HighestModSeq = v
	s.Observed |= ObservedHighestModSeq
	return s
}

// ClearHighestModSeq downgrades HighestModSeq to the "never observed" state,
// used when the server reports NOMODSEQ during a SELECT that asked for it.
func (s State) ClearHighestModSeq() State {
	s.HighestModSeq = 0
	s.Observed &^= ObservedHighestModSeq
	return s
}

// WithFlags returns a copy with Flags set (server-reported order
// preserved) and its observed bit raised.
func (s State) WithFlags(flags []string) State {
	s.Flags = append([]string(nil), flags...)
	s.Observed |= ObservedFlags
	return s
}

// WithPermanentFlags returns a copy with PermanentFlags set and its observed
// bit raised.
func (s State) WithPermanentFlags(flags []string) State {
	s.PermanentFlags = append([]string(nil), flags...)
	s.Observed |= ObservedPermanentFlags
	return s
}

// IsUsableForNumbers reports whether Exists, UIDNext, and UIDValidity have
// all been observed at least once.
func (s State) IsUsableForNumbers() bool {
	return s.Observed.Has(ObservedExists | ObservedUIDNext | ObservedUIDValidity)
}

// IsUsableForSyncing reports IsUsableForNumbers plus Flags, PermanentFlags,
// and Recent all observed.
func (s State) IsUsableForSyncing() bool {
	return s.IsUsableForNumbers() &&
		s.Observed.Has(ObservedFlags|ObservedPermanentFlags|ObservedRecent)
}

// Equal reports whether two states carry the same observed fields and
// values.
func (s State) Equal(other State) bool {
	if s.Observed != other.Observed {
		return false
	}
	if s.Exists != other.Exists || s.Recent != other.Recent ||
		s.UIDNext != other.UIDNext || s.UIDValidity != other.UIDValidity ||
		s.UnseenCount != other.UnseenCount || s.UnseenOffset != other.UnseenOffset ||
		s.HighestModSeq != other.HighestModSeq {
		return false
	}
	return stringSliceEqual(s.Flags, other.Flags) && stringSliceEqual(s.PermanentFlags, other.PermanentFlags)
}

func stringSliceEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
