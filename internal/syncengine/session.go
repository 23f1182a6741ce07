package syncengine

import (
	"context"

	"github.com/driftkit-mail/driftsync/internal/imapdemux"
)

// SelectOptions mirrors internal/imap's select form, kept local so the
// Session contract does not depend on internal/imap.
type SelectOptions struct {
	ReadOnly  bool
	CondStore bool

	// QResync carries the reference state a QRESYNC SELECT hands the
	// server so it can fold deletions and flag deltas into the response.
	// Nil for plain and CONDSTORE selects.
	QResync *QResyncParams
}

// QResyncParams is the parameter list of SELECT (QRESYNC (...)): the cached
// UIDVALIDITY and HIGHESTMODSEQ, plus a compact sample of known
// sequence-number/UID pairs the server can use to shrink its VANISHED
// response. KnownSeqNums[i] names the message whose UID is KnownUIDs[i].
type QResyncParams struct {
	UIDValidity   uint32
	HighestModSeq uint64
	KnownSeqNums  []uint32
	KnownUIDs     []uint32

	// Arrived selects the QRESYNC-ARRIVED keyword variant; the parameter
	// list is identical.
	Arrived bool
}

// SelectResult is the folded SELECT response: the untagged data and
// response codes accumulated up to the tagged OK.
type SelectResult struct {
	UIDValidity    uint32
	UIDNext        uint32
	Exists         uint32
	Recent         uint32
	HighestModSeq  uint64
	NoModSeq       bool
	ReadOnly       bool
	Flags          []string
	PermanentFlags []string

	// VanishedUIDs and VanishedEarlier fold in a QRESYNC SELECT's VANISHED
	// (EARLIER) <set> response, absorbed while the SELECT is in flight
	// rather than as a trailing unsolicited event.
	VanishedUIDs    []uint32
	VanishedEarlier bool
}

// FlagsResult is one FETCH (FLAGS) response line.
type FlagsResult struct {
	SeqNum uint32
	UID    uint32 // 0 if the FETCH response carried no UID item
	Flags  []string
	ModSeq uint64
}

// Session is the wire-level contract the Task drives. Production code uses
// the go-imap adapter in session_imap.go, backed by internal/imap.Client;
// tests inject a scripted fake and drive the Task against literal wire
// fixtures without a socket.
type Session interface {
	// Select issues SELECT, possibly with CONDSTORE, and returns the
	// folded response once the tagged OK arrives.
	Select(ctx context.Context, mailbox string, opts SelectOptions) (*SelectResult, error)

	// SearchAllUIDs issues UID SEARCH ALL (or its ESEARCH form), in
	// ascending order.
	SearchAllUIDs(ctx context.Context) ([]uint32, error)

	// SearchUIDsSince issues UID SEARCH UID <fromUID>:* (or its ESEARCH
	// form), in ascending order.
	SearchUIDsSince(ctx context.Context, fromUID uint32) ([]uint32, error)

	// FetchFlags issues FETCH 1:n (FLAGS), optionally with CHANGEDSINCE
	// when changedSince > 0.
	FetchFlags(ctx context.Context, n uint32, changedSince uint64) ([]FlagsResult, error)

	// FetchUIDAndFlagsSince issues UID FETCH <fromUID>:* (FLAGS) to learn
	// the UID and flags of newly arrived messages.
	FetchUIDAndFlagsSince(ctx context.Context, fromUID uint32) ([]FlagsResult, error)

	// Events returns the channel of unsolicited responses (EXISTS/EXPUNGE/
	// FETCH/VANISHED) that arrived on this connection, in arrival order,
	// regardless of which command is currently in flight.
	Events() <-chan imapdemux.Event
}
