package syncengine

import (
	"github.com/driftkit-mail/driftsync/internal/syncstate"
	"github.com/driftkit-mail/driftsync/internal/uidmap"
)

// Capabilities is the subset of advertised server capabilities strategy
// selection consults.
type Capabilities struct {
	QResync        bool
	QResyncArrived bool
	CondStore      bool
	ESearch        bool
}

// chooseStrategy picks the SELECT form once, at task start, against the
// cached prior state: QRESYNC needs a usable snapshot and a known
// HIGHESTMODSEQ to resume from, CONDSTORE just a usable snapshot.
func chooseStrategy(caps Capabilities, prior syncstate.State) Strategy {
	if caps.QResync && prior.IsUsableForSyncing() && prior.HighestModSeq > 0 {
		return StrategyQResync
	}
	if caps.CondStore && prior.IsUsableForSyncing() {
		return StrategyCondStore
	}
	return StrategyPlain
}

// maxKnownPairs bounds the sequence/UID reference sample a QRESYNC SELECT
// carries. Ten anchors keep the command line short while still letting the
// server trim its VANISHED response for large mailboxes.
const maxKnownPairs = 10

// selectOptionsFor builds the SELECT form a strategy issues, including the
// QRESYNC parameter list sampled from the prior UidMap.
func selectOptionsFor(s Strategy, caps Capabilities, prior syncstate.State, priorUIDs *uidmap.Map) SelectOptions {
	switch s {
	case StrategyQResync:
		seqs, uids := knownPairs(priorUIDs)
		return SelectOptions{
			CondStore: true,
			QResync: &QResyncParams{
				UIDValidity:   prior.UIDValidity,
				HighestModSeq: prior.HighestModSeq,
				KnownSeqNums:  seqs,
				KnownUIDs:     uids,
				Arrived:       caps.QResyncArrived,
			},
		}
	case StrategyCondStore:
		return SelectOptions{CondStore: true}
	default:
		return SelectOptions{}
	}
}

// knownPairs samples up to maxKnownPairs (seq, uid) anchors from m, densest
// near the end of the mailbox where expunges are most likely to have
// happened since the last sync: the newest message, then halving backwards.
func knownPairs(m *uidmap.Map) (seqs, uids []uint32) {
	n := m.Len()
	if n == 0 {
		return nil, nil
	}

	picked := make(map[int]bool, maxKnownPairs)
	var order []int
	for step, i := 1, n-1; i >= 0 && len(order) < maxKnownPairs; step *= 2 {
		if !picked[i] {
			picked[i] = true
			order = append(order, i)
		}
		i -= step
	}
	// The parameter list reads oldest-first on the wire.
	for k := len(order) - 1; k >= 0; k-- {
		i := order[k]
		seqs = append(seqs, uint32(i+1))
		uids = append(uids, m.At(i))
	}
	return seqs, uids
}
