package syncengine

import (
	"context"
	"fmt"

	"github.com/driftkit-mail/driftsync/internal/imapdemux"
)

// Watch is the task's steady state after a successful Run: it keeps
// absorbing unsolicited mailbox events and committing them incrementally
// until ctx is cancelled — which is how a superseding task (a mailbox
// switch, a fresh resync) preempts this one. The staged-versus-committed
// distinction collapses here: each absorbed event is committed on its own.
func (t *Task) Watch(ctx context.Context) error {
	if t.phase != PhaseDone {
		return fmt.Errorf("syncengine: watch requires a completed task, phase is %s", t.phase)
	}

	events := t.Session.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-events:
			if err := t.Absorb(ctx, ev); err != nil {
				return err
			}
		}
	}
}

// Absorb applies one unsolicited event to the committed view and writes the
// cache. Exposed separately from Watch so an event-loop caller can pump
// events itself.
func (t *Task) Absorb(ctx context.Context, ev imapdemux.Event) error {
	if t.phase != PhaseDone {
		return fmt.Errorf("syncengine: absorb requires a completed task, phase is %s", t.phase)
	}

	switch ev.Kind {
	case imapdemux.EventExpunge:
		removed, ok := t.uids.EraseAt(ev.SeqNum)
		if !ok {
			t.log.Warn().Uint32("seq", ev.SeqNum).Int("exists", t.uids.Len()).
				Str("mailbox", t.Path).Msg("protocol violation: EXPUNGE beyond EXISTS")
			return nil
		}
		delete(t.flags, removed)
		t.state = t.state.WithExists(uint32(t.uids.Len()))
		return t.commitAbsorbed()

	case imapdemux.EventVanished:
		if t.uids.EraseUIDs(ev.VanishedUIDs) == 0 {
			return nil
		}
		for _, uid := range ev.VanishedUIDs {
			delete(t.flags, uid)
		}
		t.state = t.state.WithExists(uint32(t.uids.Len()))
		return t.commitAbsorbed()

	case imapdemux.EventRecent:
		t.state = t.state.WithRecent(ev.Count)
		return t.commitAbsorbed()

	case imapdemux.EventFetchFlags:
		uid := uint32(ev.UID)
		if uid == 0 {
			if ev.FetchSeqNum == 0 || int(ev.FetchSeqNum) > t.uids.Len() {
				return nil
			}
			uid = t.uids.At(int(ev.FetchSeqNum) - 1)
		}
		if !t.uids.Contains(uid) {
			return nil
		}
		t.flags[uid] = flagsToStringSlice(ev.Flags)
		if ev.ModSeq > t.state.HighestModSeq {
			t.state = t.state.WithHighestModSeq(ev.ModSeq)
		}
		t.notifyFlagsChanged(uid)
		return t.commitAbsorbed()

	case imapdemux.EventExists:
		if ev.Count <= uint32(t.uids.Len()) {
			return nil
		}
		// New arrivals in steady state: one UID FETCH from the committed
		// UIDNEXT learns both their UIDs and flags.
		arrivals, err := t.Session.FetchUIDAndFlagsSince(ctx, t.state.UIDNext)
		if err != nil {
			return newTaskError(ErrBadResponse, t.Path, err)
		}
		maxUID := t.state.UIDNext
		for _, r := range arrivals {
			if r.UID == 0 || !t.uids.Append(r.UID) {
				continue
			}
			t.flags[r.UID] = r.Flags
			if r.UID >= maxUID {
				maxUID = r.UID + 1
			}
		}
		t.state = t.state.WithExists(uint32(t.uids.Len())).WithUIDNext(maxUID)
		return t.commitAbsorbed()
	}
	return nil
}

func (t *Task) commitAbsorbed() error {
	if t.Rows != nil {
		t.Rows.Sync(t.uids.UIDs())
	}
	if err := t.Cache.Commit(t.Path, t.state, t.uids, t.flags); err != nil {
		// Cache I/O failures don't kill the session; the in-memory
		// view stays authoritative.
		t.log.Error().Err(err).Str("mailbox", t.Path).Msg("incremental cache commit failed")
		return nil
	}
	t.Observer.Synced(t.Path, t.state)
	return nil
}
