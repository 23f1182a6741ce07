package syncengine

import (
	"strings"
	"testing"

	"github.com/driftkit-mail/driftsync/internal/syncstate"
)

func usablePrior(exists, uidNext, uidValidity uint32, hms uint64) syncstate.State {
	return syncstate.State{}.
		WithExists(exists).
		WithUIDNext(uidNext).
		WithUIDValidity(uidValidity).
		WithHighestModSeq(hms).
		WithRecent(0).
		WithFlags([]string{`\Seen`}).
		WithPermanentFlags([]string{`\Seen`, `\*`})
}

func TestReconcileBranchTable(t *testing.T) {
	prior := usablePrior(3, 15, 666, 33)

	tests := []struct {
		name        string
		strategy    Strategy
		prior       syncstate.State
		priorLen    int
		staged      SelectResult
		expectedN   uint32
		wantBranch  Branch
		wantWarning string
	}{
		{
			name:        "uidvalidity change forces full resync",
			strategy:    StrategyPlain,
			prior:       prior,
			priorLen:    3,
			staged:      SelectResult{Exists: 3, UIDValidity: 667, UIDNext: 15},
			expectedN:   3,
			wantBranch:  BranchFullResync,
			wantWarning: "UIDVALIDITY",
		},
		{
			name:       "unusable prior forces full resync",
			strategy:   StrategyPlain,
			prior:      syncstate.State{}.WithExists(3),
			priorLen:   0,
			staged:     SelectResult{Exists: 3, UIDValidity: 666, UIDNext: 15},
			expectedN:  3,
			wantBranch: BranchFullResync,
		},
		{
			name:       "qresync fast path",
			strategy:   StrategyQResync,
			prior:      prior,
			priorLen:   3,
			staged:     SelectResult{Exists: 3, UIDValidity: 666, UIDNext: 15, HighestModSeq: 36},
			expectedN:  3,
			wantBranch: BranchNoStructuralChange,
		},
		{
			name:       "qresync fast path after vanished earlier",
			strategy:   StrategyQResync,
			prior:      prior,
			priorLen:   3,
			staged:     SelectResult{Exists: 2, UIDValidity: 666, UIDNext: 15, HighestModSeq: 36, VanishedUIDs: []uint32{9}, VanishedEarlier: true},
			expectedN:  2,
			wantBranch: BranchNoStructuralChange,
		},
		{
			name:        "qresync contradicted downgrades to arrivals",
			strategy:    StrategyQResync,
			prior:       prior,
			priorLen:    3,
			staged:      SelectResult{Exists: 5, UIDValidity: 666, UIDNext: 20, HighestModSeq: 33},
			expectedN:   3,
			wantBranch:  BranchArrivalsOnly,
			wantWarning: "downgrading",
		},
		{
			name:       "qresync with nomodseq falls back to flag refresh",
			strategy:   StrategyQResync,
			prior:      prior,
			priorLen:   3,
			staged:     SelectResult{Exists: 3, UIDValidity: 666, UIDNext: 15, NoModSeq: true},
			expectedN:  3,
			wantBranch: BranchNoArrivals,
		},
		{
			name:       "condstore unchanged modseq",
			strategy:   StrategyCondStore,
			prior:      prior,
			priorLen:   3,
			staged:     SelectResult{Exists: 3, UIDValidity: 666, UIDNext: 15, HighestModSeq: 33},
			expectedN:  3,
			wantBranch: BranchNoStructuralChange,
		},
		{
			name:       "condstore changed modseq only",
			strategy:   StrategyCondStore,
			prior:      prior,
			priorLen:   3,
			staged:     SelectResult{Exists: 3, UIDValidity: 666, UIDNext: 15, HighestModSeq: 40},
			expectedN:  3,
			wantBranch: BranchFlagResyncChangedSince,
		},
		{
			name:       "plain unchanged numbers",
			strategy:   StrategyPlain,
			prior:      prior,
			priorLen:   3,
			staged:     SelectResult{Exists: 3, UIDValidity: 666, UIDNext: 15},
			expectedN:  3,
			wantBranch: BranchNoArrivals,
		},
		{
			name:       "pure arrivals",
			strategy:   StrategyPlain,
			prior:      prior,
			priorLen:   3,
			staged:     SelectResult{Exists: 5, UIDValidity: 666, UIDNext: 20},
			expectedN:  3,
			wantBranch: BranchArrivalsOnly,
		},
		{
			name:        "uidnext decreased without uidvalidity change",
			strategy:    StrategyPlain,
			prior:       prior,
			priorLen:    3,
			staged:      SelectResult{Exists: 2, UIDValidity: 666, UIDNext: 12},
			expectedN:   3,
			wantBranch:  BranchFullResync,
			wantWarning: "UIDNEXT decreased",
		},
		{
			name:       "empty prior map with unchanged numbers still full resyncs",
			strategy:   StrategyPlain,
			prior:      usablePrior(0, 1, 666, 0),
			priorLen:   0,
			staged:     SelectResult{Exists: 0, UIDValidity: 666, UIDNext: 1},
			expectedN:  0,
			wantBranch: BranchFullResync,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := reconcile(reconcileInput{
				strategy:  tt.strategy,
				prior:     tt.prior,
				priorLen:  tt.priorLen,
				staged:    tt.staged,
				expectedN: tt.expectedN,
			})
			if got.Branch != tt.wantBranch {
				t.Fatalf("reconcile() branch = %v, want %v", got.Branch, tt.wantBranch)
			}
			if tt.wantWarning == "" {
				if len(got.Warnings) != 0 {
					t.Fatalf("reconcile() warnings = %v, want none", got.Warnings)
				}
				return
			}
			found := false
			for _, w := range got.Warnings {
				if strings.Contains(w, tt.wantWarning) {
					found = true
				}
			}
			if !found {
				t.Fatalf("reconcile() warnings = %v, want one containing %q", got.Warnings, tt.wantWarning)
			}
		})
	}
}
