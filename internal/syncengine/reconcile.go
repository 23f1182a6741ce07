package syncengine

import "github.com/driftkit-mail/driftsync/internal/syncstate"

// reconcileInput bundles the values the reconciliation decision compares.
type reconcileInput struct {
	strategy Strategy
	prior    syncstate.State
	priorLen int // len(UidMap0), for the "uidMap0 nonempty" test
	staged   SelectResult

	// expectedN is prior.Exists adjusted for any VANISHED set folded into
	// the SELECT response (Q-strategy only): the count the server's
	// EXISTS should match once known deletions are accounted for. Equal
	// to prior.Exists when no VANISHED set was reported.
	expectedN uint32
}

// reconcileOutcome is the decision plus any downgrade that happened along
// the way (strategy may be demoted from QResync when the server's numbers
// contradict it).
type reconcileOutcome struct {
	Branch   Branch
	Strategy Strategy
	Warnings []string
}

// reconcile decides, on the SELECT tagged OK, how much work is needed to
// bring the cached state up to what the server just reported.
func reconcile(in reconcileInput) reconcileOutcome {
	var warnings []string

	N, V, U, H := in.staged.Exists, in.staged.UIDValidity, in.staged.UIDNext, in.staged.HighestModSeq
	N0, U0, H0 := in.prior.Exists, in.prior.UIDNext, in.prior.HighestModSeq

	// Mailbox identity: a UIDVALIDITY mismatch invalidates every cached
	// UID-keyed artifact regardless of strategy.
	if in.prior.Observed.Has(syncstate.ObservedUIDValidity) && V != in.prior.UIDValidity {
		warnings = append(warnings, "UIDVALIDITY changed; forcing full resync")
		return reconcileOutcome{Branch: BranchFullResync, Strategy: in.strategy, Warnings: warnings}
	}

	if !in.prior.IsUsableForSyncing() {
		return reconcileOutcome{Branch: BranchFullResync, Strategy: in.strategy, Warnings: warnings}
	}

	strategy := in.strategy
	qActive := strategy == StrategyQResync
	cActive := strategy == StrategyCondStore

	if qActive && (N != in.expectedN || U != U0) {
		// Server's own numbers contradict what QRESYNC promised to have
		// already reconciled (after accounting for any VANISHED set):
		// downgrade and reason about arrivals/full resync as if
		// CONDSTORE/QRESYNC had never been used.
		qActive = false
		strategy = StrategyPlain
		H = 0
		warnings = append(warnings, "QRESYNC numbers contradicted by SELECT response; downgrading")
	}

	switch {
	case qActive && H > 0 && N == in.expectedN && U == U0:
		return reconcileOutcome{Branch: BranchNoStructuralChange, Strategy: strategy, Warnings: warnings}

	case cActive && H == H0 && N == N0 && U == U0:
		return reconcileOutcome{Branch: BranchNoStructuralChange, Strategy: strategy, Warnings: warnings}

	case cActive && H != H0 && N == N0 && U == U0:
		return reconcileOutcome{Branch: BranchFlagResyncChangedSince, Strategy: strategy, Warnings: warnings}

	case N == N0 && U == U0 && in.priorLen > 0:
		return reconcileOutcome{Branch: BranchNoArrivals, Strategy: strategy, Warnings: warnings}

	case N > N0 && U > U0:
		return reconcileOutcome{Branch: BranchArrivalsOnly, Strategy: strategy, Warnings: warnings}

	default:
		// UIDNEXT is strictly monotone within a UIDVALIDITY epoch; a
		// decrease means the server's numbers are contradictory.
		if U < U0 {
			warnings = append(warnings, "UIDNEXT decreased without UIDVALIDITY change; forcing full resync")
		}
		return reconcileOutcome{Branch: BranchFullResync, Strategy: strategy, Warnings: warnings}
	}
}
