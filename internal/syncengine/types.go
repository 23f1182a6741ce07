// Package syncengine implements the mailbox synchronizer task: it drives
// one mailbox from a cached prior state to a reconciled current one,
// choosing among QRESYNC/CONDSTORE/plain strategies, tolerating
// asynchronous EXISTS/EXPUNGE/VANISHED/FETCH events that arrive mid-command,
// and committing the result atomically to the cache.
package syncengine

import (
	"github.com/google/uuid"

	"github.com/driftkit-mail/driftsync/internal/syncstate"
)

// Strategy is the SELECT form chosen at task start, based on the advertised
// capabilities and how much cached prior state is usable.
type Strategy int

const (
	StrategyPlain Strategy = iota
	StrategyCondStore
	StrategyQResync
)

func (s Strategy) String() string {
	switch s {
	case StrategyCondStore:
		return "condstore"
	case StrategyQResync:
		return "qresync"
	default:
		return "plain"
	}
}

// Phase is the task's position in its state machine.
type Phase int

const (
	PhaseInit Phase = iota
	PhaseSelecting
	PhaseSyncingUIDs
	PhaseSyncingFlags
	PhaseDone
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseSelecting:
		return "selecting"
	case PhaseSyncingUIDs:
		return "syncing_uids"
	case PhaseSyncingFlags:
		return "syncing_flags"
	case PhaseDone:
		return "done"
	case PhaseFailed:
		return "failed"
	default:
		return "init"
	}
}

// Branch is the reconciliation decision reached on the SELECT tagged OK.
type Branch int

const (
	BranchNoStructuralChange Branch = iota
	BranchNoArrivals
	BranchFlagResyncChangedSince
	BranchArrivalsOnly
	BranchFullResync
)

func (b Branch) String() string {
	switch b {
	case BranchNoArrivals:
		return "no_arrivals"
	case BranchFlagResyncChangedSince:
		return "flag_resync_changedsince"
	case BranchArrivalsOnly:
		return "arrivals_only"
	case BranchFullResync:
		return "full_resync"
	default:
		return "no_structural_change"
	}
}

// Observer receives the task's boundary callbacks, the hook a UI or a
// higher-level scheduler attaches to.
type Observer interface {
	AboutToSync(path string)
	Synced(path string, state syncstate.State)
	FlagsChanged(path string, uid uint32)
	ErrorOccurred(path string, message string)
}

// NopObserver implements Observer with no-ops, for callers with no UI to
// drive (library consumers that only want the final Result).
type NopObserver struct{}

func (NopObserver) AboutToSync(string)             {}
func (NopObserver) Synced(string, syncstate.State) {}
func (NopObserver) FlagsChanged(string, uint32)    {}
func (NopObserver) ErrorOccurred(string, string)   {}

// Result is what a completed task produces. ReadOnly is the Session's
// SelectResult.ReadOnly (the go-imap adapter echoes the requested SELECT
// form there, not the server's READ-ONLY/READ-WRITE response code); it is a
// property of the session, not of the mailbox, so it is reported here
// rather than persisted.
type Result struct {
	TaskID   uuid.UUID
	Path     string
	State    syncstate.State
	ReadOnly bool
	Strategy Strategy
	Branch   Branch
	Warnings []string
}
