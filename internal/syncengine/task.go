package syncengine

import (
	"context"
	"errors"
	"fmt"

	"github.com/emersion/go-imap/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/driftkit-mail/driftsync/internal/imapdemux"
	"github.com/driftkit-mail/driftsync/internal/logging"
	"github.com/driftkit-mail/driftsync/internal/mailboxcache"
	"github.com/driftkit-mail/driftsync/internal/syncstate"
	"github.com/driftkit-mail/driftsync/internal/treemodel"
	"github.com/driftkit-mail/driftsync/internal/uidmap"
)

// Task drives one mailbox to a synchronized state.
type Task struct {
	ID       uuid.UUID
	Path     string
	Cache    mailboxcache.Cache
	Session  Session
	Observer Observer
	Caps     Capabilities

	// Rows mirrors the committed UID map to a UI-observable row list.
	// Nil is valid: a caller with no UI leaves it unset.
	Rows *treemodel.Model

	phase Phase
	log   zerolog.Logger

	// Committed view, retained after Run succeeds so the task can keep
	// absorbing unsolicited events in its steady state (Watch/Absorb).
	state syncstate.State
	uids  *uidmap.Map
	flags map[uint32][]string
}

// NewTask constructs a Task for mailbox path. observer may be nil, in which
// case NopObserver is used. Each Task gets a fresh ID so overlapping tasks
// across mailboxes on the same connection are distinguishable in logs and
// in the Result (TaskID); the observer callbacks do not carry it.
func NewTask(path string, cache mailboxcache.Cache, session Session, observer Observer, caps Capabilities) *Task {
	if observer == nil {
		observer = NopObserver{}
	}
	id := uuid.New()
	return &Task{
		ID:       id,
		Path:     path,
		Cache:    cache,
		Session:  session,
		Observer: observer,
		Caps:     caps,
		phase:    PhaseInit,
		log:      logging.WithComponent("syncengine").With().Str("task", id.String()).Logger(),
	}
}

// Phase returns the task's current state-machine phase.
func (t *Task) Phase() Phase { return t.phase }

// Run executes the full synchronization: strategy selection, SELECT,
// reconciliation, UID/flag discovery, and cache commit. Either it returns a
// Result with the committed state, or it returns an error and the cache is
// left exactly as it was before Run was called.
func (t *Task) Run(ctx context.Context) (*Result, error) {
	t.Observer.AboutToSync(t.Path)

	prior, err := t.Cache.GetSyncState(t.Path)
	if err != nil {
		return nil, t.fail(newTaskError(ErrCacheIO, t.Path, err))
	}
	priorUIDs, err := t.Cache.GetUIDMap(t.Path)
	if err != nil {
		return nil, t.fail(newTaskError(ErrCacheIO, t.Path, err))
	}

	strategy := chooseStrategy(t.Caps, prior)

	result, runErr := t.run(ctx, strategy, prior, priorUIDs)
	if runErr == nil {
		return result, nil
	}

	// A failed FETCH or SEARCH under the QRESYNC or CONDSTORE strategy
	// downgrades and retries once: restart the same mailbox with a plain
	// SELECT, bounded to one attempt. A failure under the plain strategy is
	// not retried. A rejected SELECT itself stays fatal with the cache
	// untouched.
	var taskErr *TaskError
	if errors.As(runErr, &taskErr) && taskErr.Kind == ErrBadResponse && strategy != StrategyPlain {
		t.log.Warn().Err(runErr).Str("mailbox", t.Path).
			Str("strategy", strategy.String()).
			Msg("downstream command failed, retrying once with a plain select")
		result, retryErr := t.run(ctx, StrategyPlain, prior, priorUIDs)
		if retryErr == nil {
			return result, nil
		}
		runErr = retryErr
	}
	if !errors.As(runErr, &taskErr) {
		taskErr = newTaskError(ErrBadResponse, t.Path, runErr)
	}
	return nil, t.fail(taskErr)
}

// run is one SELECT-to-commit pass under a fixed strategy.
func (t *Task) run(ctx context.Context, strategy Strategy, prior syncstate.State, priorUIDs *uidmap.Map) (*Result, error) {
	t.phase = PhaseSelecting

	t.log.Debug().Str("mailbox", t.Path).Str("strategy", strategy.String()).Msg("selecting mailbox")

	selResult, err := t.Session.Select(ctx, t.Path, selectOptionsFor(strategy, t.Caps, prior, priorUIDs))
	if err != nil {
		return nil, newTaskError(ErrSelectRejected, t.Path, err)
	}

	expectedN := prior.Exists
	if len(selResult.VanishedUIDs) > 0 {
		for _, uid := range selResult.VanishedUIDs {
			if priorUIDs.Contains(uid) {
				expectedN--
			}
		}
	}

	outcome := reconcile(reconcileInput{
		strategy:  strategy,
		prior:     prior,
		priorLen:  priorUIDs.Len(),
		staged:    *selResult,
		expectedN: expectedN,
	})
	for _, w := range outcome.Warnings {
		t.log.Warn().Str("mailbox", t.Path).Str("branch", outcome.Branch.String()).Msg(w)
	}

	staged := stateFromSelect(*selResult)

	var (
		finalUIDs  *uidmap.Map
		finalFlags map[uint32][]string
	)

	switch outcome.Branch {
	case BranchNoStructuralChange:
		t.phase = PhaseDone
		finalUIDs = priorUIDs.Clone()
		// A Q-strategy SELECT folds VANISHED (EARLIER) directly into the
		// response; apply those deletions now so the committed UidMap and
		// purged flags reflect them without any further command.
		if len(selResult.VanishedUIDs) > 0 {
			finalUIDs.EraseUIDs(selResult.VanishedUIDs)
		}
		finalFlags, err = t.loadAllFlags(finalUIDs)
		if err != nil {
			return nil, newTaskError(ErrCacheIO, t.Path, err)
		}

	case BranchNoArrivals:
		t.phase = PhaseSyncingFlags
		finalUIDs = priorUIDs.Clone()
		finalFlags, err = t.refreshAllFlags(ctx, finalUIDs, 0)
		if err != nil {
			return nil, newTaskError(ErrBadResponse, t.Path, err)
		}

	case BranchFlagResyncChangedSince:
		t.phase = PhaseSyncingFlags
		finalUIDs = priorUIDs.Clone()
		finalFlags, err = t.loadAllFlags(finalUIDs)
		if err != nil {
			return nil, newTaskError(ErrCacheIO, t.Path, err)
		}
		deltas, err := t.Session.FetchFlags(ctx, staged.Exists, prior.HighestModSeq)
		if err != nil {
			return nil, newTaskError(ErrBadResponse, t.Path, err)
		}
		t.applyDeltas(finalUIDs, finalFlags, deltas)

	case BranchArrivalsOnly:
		t.phase = PhaseSyncingUIDs
		finalUIDs, finalFlags, err = t.syncArrivals(ctx, priorUIDs, prior)
		if err != nil {
			return nil, newTaskError(ErrBadResponse, t.Path, err)
		}

	default: // BranchFullResync
		t.phase = PhaseSyncingUIDs
		uids, err := t.Session.SearchAllUIDs(ctx)
		if err != nil {
			return nil, newTaskError(ErrBadResponse, t.Path, err)
		}
		finalUIDs = uidmap.FromSlice(uids)
		t.phase = PhaseSyncingFlags
		finalFlags, err = t.refreshAllFlags(ctx, finalUIDs, 0)
		if err != nil {
			return nil, newTaskError(ErrBadResponse, t.Path, err)
		}
	}

	// Drain any trailing unsolicited events that arrived after the last
	// command's tagged OK but before we return control. EXPUNGE and VANISHED
	// are folded into the about-to-commit view; EXISTS and FETCH events
	// drained here are not applied, so arrivals or flag changes announced at
	// this point are not part of this commit.
	t.drainTrailingEvents(finalUIDs)

	staged.Exists = uint32(finalUIDs.Len())
	if err := finalUIDs.Validate(staged.UIDNext); err != nil {
		t.log.Warn().Err(err).Str("mailbox", t.Path).Msg("protocol violation: UidMap failed validation after reconciliation")
	}

	// Row-count deltas are announced to the TreeModel before the cache
	// write lands, so a UI bound to Rows never observes a row count that
	// disagrees with what's about to be persisted.
	if t.Rows != nil {
		t.Rows.Sync(finalUIDs.UIDs())
	}

	// A full resync replaces every UID-keyed artifact. The old ones are
	// cleared only now, after every command of the pass has succeeded, so a
	// failed SEARCH or FETCH leaves the committed cache as it was.
	if outcome.Branch == BranchFullResync {
		if err := t.Cache.ClearUIDSpace(t.Path); err != nil {
			t.log.Error().Err(err).Str("mailbox", t.Path).Msg("cache clear failed, continuing with in-memory view")
		}
	}

	if err := t.Cache.Commit(t.Path, staged, finalUIDs, finalFlags); err != nil {
		t.log.Error().Err(err).Str("mailbox", t.Path).Msg("cache commit failed")
		return nil, newTaskError(ErrCacheIO, t.Path, err)
	}

	t.phase = PhaseDone
	t.state = staged
	t.uids = finalUIDs
	t.flags = finalFlags
	t.Observer.Synced(t.Path, staged)

	return &Result{
		TaskID:   t.ID,
		Path:     t.Path,
		State:    staged,
		ReadOnly: selResult.ReadOnly,
		Strategy: outcome.Strategy,
		Branch:   outcome.Branch,
		Warnings: outcome.Warnings,
	}, nil
}

// fail marks the task FAILED, notifies the observer, and returns err so the
// caller can propagate it.
func (t *Task) fail(err *TaskError) error {
	t.phase = PhaseFailed
	if err.Kind.IsFatal() {
		t.log.Error().Err(err).Msg("task failed")
	} else {
		t.log.Warn().Err(err).Msg("task aborted on a non-fatal error class")
	}
	t.Observer.ErrorOccurred(t.Path, err.Error())
	return err
}

func stateFromSelect(r SelectResult) syncstate.State {
	s := syncstate.State{}.
		WithExists(r.Exists).
		WithRecent(r.Recent).
		WithFlags(r.Flags).
		WithPermanentFlags(r.PermanentFlags)
	// UIDVALIDITY and UIDNEXT are never zero when a server reports them, so
	// a zero here means the SELECT carried no such code: leave it unobserved.
	if r.UIDNext != 0 {
		s = s.WithUIDNext(r.UIDNext)
	}
	if r.UIDValidity != 0 {
		s = s.WithUIDValidity(r.UIDValidity)
	}

	if r.NoModSeq {
		return s.ClearHighestModSeq()
	}
	return s.WithHighestModSeq(r.HighestModSeq)
}

// loadAllFlags reads the cache's existing per-UID flags for every UID in m,
// used when a branch starts from the committed flags instead of a fresh
// FETCH (BranchNoStructuralChange, and the BranchFlagResyncChangedSince
// baseline the deltas are merged into).
func (t *Task) loadAllFlags(m *uidmap.Map) (map[uint32][]string, error) {
	out := make(map[uint32][]string, m.Len())
	for _, uid := range m.UIDs() {
		flags, err := t.Cache.GetFlags(t.Path, uid)
		if err != nil {
			return nil, err
		}
		out[uid] = flags
	}
	return out, nil
}

// refreshAllFlags issues FETCH 1:n (FLAGS) [ (CHANGEDSINCE changedSince) ]
// and returns a complete UID->flags map covering every UID in m; responses
// that carry only a sequence number are resolved to a UID through m.
func (t *Task) refreshAllFlags(ctx context.Context, m *uidmap.Map, changedSince uint64) (map[uint32][]string, error) {
	if m.Len() == 0 {
		return map[uint32][]string{}, nil
	}
	results, err := t.Session.FetchFlags(ctx, uint32(m.Len()), changedSince)
	if err != nil {
		return nil, fmt.Errorf("fetch flags: %w", err)
	}

	out := make(map[uint32][]string, m.Len())
	for _, r := range results {
		uid := r.UID
		if uid == 0 {
			if r.SeqNum == 0 || int(r.SeqNum) > m.Len() {
				continue
			}
			uid = m.At(int(r.SeqNum) - 1)
		}
		out[uid] = r.Flags
		t.notifyFlagsChanged(uid)
	}
	// UIDs the FETCH pass didn't mention (server sent nothing for them,
	// e.g. CHANGEDSINCE with no delta) keep their UidMap entry with no
	// flags, matching PerUidFlags's "unknown maps to empty set" semantics.
	for _, uid := range m.UIDs() {
		if _, ok := out[uid]; !ok {
			out[uid] = nil
		}
	}
	return out, nil
}

func (t *Task) applyDeltas(m *uidmap.Map, flags map[uint32][]string, deltas []FlagsResult) {
	for _, d := range deltas {
		uid := d.UID
		if uid == 0 {
			if d.SeqNum == 0 || int(d.SeqNum) > m.Len() {
				continue
			}
			uid = m.At(int(d.SeqNum) - 1)
		}
		flags[uid] = d.Flags
		t.notifyFlagsChanged(uid)
	}
}

// notifyFlagsChanged fans a flag update out to both the observer callback
// and the TreeModel's dataChanged signal, if one is attached.
func (t *Task) notifyFlagsChanged(uid uint32) {
	t.Observer.FlagsChanged(t.Path, uid)
	if t.Rows != nil {
		t.Rows.FlagsChanged(uid)
	}
}

// syncArrivals implements BranchArrivalsOnly: discover the new UIDs past
// the cached UIDNEXT, then refresh flags, tolerating the races below.
func (t *Task) syncArrivals(ctx context.Context, priorUIDs *uidmap.Map, prior syncstate.State) (*uidmap.Map, map[uint32][]string, error) {
	working := priorUIDs.Clone()

	newUIDs, err := t.Session.SearchUIDsSince(ctx, prior.UIDNext)
	if err != nil {
		return nil, nil, fmt.Errorf("search arrivals: %w", err)
	}

	// Drain events that arrived during the SEARCH: an old message expunged
	// mid-search must be applied to `working` before merging, and a further
	// EXISTS bump tells us there may be more arrivals than SEARCH covered.
	extraExists := uint32(0)
	pendingFetchFlags := make(map[uint32][]string)
	t.drainEvents(func(ev imapdemux.Event) {
		switch ev.Kind {
		case imapdemux.EventExpunge:
			t.eraseSeq(working, ev.SeqNum)
		case imapdemux.EventVanished:
			working.EraseUIDs(ev.VanishedUIDs)
		case imapdemux.EventExists:
			if ev.Count > extraExists {
				extraExists = ev.Count
			}
		case imapdemux.EventFetchFlags:
			if ev.UID != 0 {
				pendingFetchFlags[uint32(ev.UID)] = flagsToStringSlice(ev.Flags)
			}
		}
	})

	// SEARCH may report fewer UIDs than the arrival count implied, because
	// some arrivals were immediately expunged before their UID could be
	// learned. We only append what SEARCH actually returned; UIDNEXT still
	// advances to the server's staged value since that is folded in by the
	// caller from the SELECT response, not derived here.
	for _, uid := range newUIDs {
		working.Append(uid)
	}

	// If the server announced more EXISTS than SEARCH covered, a
	// supplementary UID FETCH discovers the remaining arrivals' UIDs and
	// flags.
	if extraExists > uint32(working.Len()) {
		lastUID := prior.UIDNext
		if working.Len() > 0 {
			lastUID = working.At(working.Len()-1) + 1
		}
		extra, err := t.Session.FetchUIDAndFlagsSince(ctx, lastUID)
		if err != nil {
			return nil, nil, fmt.Errorf("fetch trailing arrivals: %w", err)
		}
		for _, r := range extra {
			if r.UID == 0 {
				continue
			}
			working.Append(r.UID)
			pendingFetchFlags[r.UID] = r.Flags
		}
	}

	flags, err := t.refreshAllFlags(ctx, working, 0)
	if err != nil {
		return nil, nil, err
	}
	for uid, fl := range pendingFetchFlags {
		flags[uid] = fl
	}

	return working, flags, nil
}

// drainEvents applies fn to every event currently queued, without blocking.
func (t *Task) drainEvents(fn func(imapdemux.Event)) {
	events := t.Session.Events()
	for {
		select {
		case ev := <-events:
			fn(ev)
		default:
			return
		}
	}
}

// drainTrailingEvents folds in any EXPUNGE/VANISHED that landed after the
// last command's tagged OK but before commit, so the committed UID map
// never disagrees with EXISTS. Events of other kinds are consumed and
// discarded.
func (t *Task) drainTrailingEvents(m *uidmap.Map) {
	t.drainEvents(func(ev imapdemux.Event) {
		switch ev.Kind {
		case imapdemux.EventExpunge:
			t.eraseSeq(m, ev.SeqNum)
		case imapdemux.EventVanished:
			m.EraseUIDs(ev.VanishedUIDs)
		}
	})
}

// eraseSeq applies an EXPUNGE to m, surfacing the protocol violation when
// the named sequence number is beyond the current count.
func (t *Task) eraseSeq(m *uidmap.Map, seq uint32) {
	if _, ok := m.EraseAt(seq); !ok {
		t.log.Warn().Uint32("seq", seq).Int("exists", m.Len()).
			Str("mailbox", t.Path).Msg("protocol violation: EXPUNGE beyond EXISTS")
	}
}

func flagsToStringSlice(flags []imap.Flag) []string {
	out := make([]string, len(flags))
	for i, f := range flags {
		out[i] = string(f)
	}
	return out
}
