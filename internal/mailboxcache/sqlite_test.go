package mailboxcache_test

import (
	"path/filepath"
	"reflect"
	"testing"

	"github.com/driftkit-mail/driftsync/internal/database"
	"github.com/driftkit-mail/driftsync/internal/mailboxcache"
	"github.com/driftkit-mail/driftsync/internal/syncstate"
	"github.com/driftkit-mail/driftsync/internal/uidmap"
)

func openTestCache(t *testing.T) *mailboxcache.SQLiteCache {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return mailboxcache.NewSQLiteCache(db)
}

func TestSQLiteCacheCommitAndGet(t *testing.T) {
	c := openTestCache(t)
	const path = "INBOX"

	state := syncstate.State{}.
		WithExists(3).
		WithUIDNext(15).
		WithUIDValidity(666).
		WithHighestModSeq(33).
		WithRecent(1).
		WithFlags([]string{`\Seen`, `\Answered`}).
		WithPermanentFlags([]string{`\Seen`, `\*`})
	uids := uidmap.FromSlice([]uint32{6, 9, 10})
	flags := map[uint32][]string{
		6:  {`\Seen`},
		9:  {`\Answered`, `\Seen`},
		10: nil,
	}

	if err := c.Commit(path, state, uids, flags); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	got, err := c.GetSyncState(path)
	if err != nil {
		t.Fatalf("GetSyncState() error = %v", err)
	}
	if !got.Equal(state) {
		t.Fatalf("GetSyncState() = %+v, want %+v", got, state)
	}
	if !got.IsUsableForSyncing() {
		t.Fatalf("round-tripped state lost its observed bits: %+v", got)
	}

	gotUIDs, err := c.GetUIDMap(path)
	if err != nil {
		t.Fatalf("GetUIDMap() error = %v", err)
	}
	if !reflect.DeepEqual(gotUIDs.UIDs(), []uint32{6, 9, 10}) {
		t.Fatalf("GetUIDMap().UIDs() = %v, want [6 9 10]", gotUIDs.UIDs())
	}

	gotFlags, err := c.GetFlags(path, 9)
	if err != nil {
		t.Fatalf("GetFlags() error = %v", err)
	}
	if len(gotFlags) != 2 {
		t.Fatalf("GetFlags(9) = %v, want two flags", gotFlags)
	}
	if gotFlags, _ := c.GetFlags(path, 10); len(gotFlags) != 0 {
		t.Fatalf("GetFlags(10) = %v, want empty", gotFlags)
	}
}

func TestSQLiteCacheGetSyncStateUnknownPath(t *testing.T) {
	c := openTestCache(t)
	got, err := c.GetSyncState("nope")
	if err != nil {
		t.Fatalf("GetSyncState() error = %v", err)
	}
	if got.IsUsableForNumbers() {
		t.Fatalf("unknown path returned an observed state: %+v", got)
	}
}

func TestSQLiteCacheCommitReplacesAndReapsOrphans(t *testing.T) {
	c := openTestCache(t)
	const path = "INBOX"

	state := syncstate.State{}.WithExists(3).WithUIDNext(15).WithUIDValidity(666)
	if err := c.Commit(path, state, uidmap.FromSlice([]uint32{6, 9, 10}), map[uint32][]string{
		6: {`\Seen`}, 9: {`\Answered`}, 10: {`\Flagged`},
	}); err != nil {
		t.Fatalf("first Commit() error = %v", err)
	}

	// Second commit drops UID 9 but still passes its flags: the commit
	// must reap the orphan.
	state = state.WithExists(2)
	if err := c.Commit(path, state, uidmap.FromSlice([]uint32{6, 10}), map[uint32][]string{
		6: {`\Seen`}, 9: {`\Answered`}, 10: {`\Flagged`},
	}); err != nil {
		t.Fatalf("second Commit() error = %v", err)
	}

	if flags, _ := c.GetFlags(path, 9); len(flags) != 0 {
		t.Fatalf("flags for orphaned UID 9 = %v, want reaped", flags)
	}
	if flags, _ := c.GetFlags(path, 10); len(flags) != 1 || flags[0] != `\Flagged` {
		t.Fatalf("flags for UID 10 = %v, want [\\Flagged]", flags)
	}
	uids, _ := c.GetUIDMap(path)
	if !reflect.DeepEqual(uids.UIDs(), []uint32{6, 10}) {
		t.Fatalf("GetUIDMap().UIDs() = %v, want [6 10]", uids.UIDs())
	}
}

func TestSQLiteCacheClearUIDSpace(t *testing.T) {
	c := openTestCache(t)
	const path = "INBOX"

	state := syncstate.State{}.WithExists(1).WithUIDNext(2).WithUIDValidity(1)
	if err := c.Commit(path, state, uidmap.FromSlice([]uint32{1}), map[uint32][]string{1: {`\Seen`}}); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if err := c.PutMessageMetadata(path, 1, []byte("envelope")); err != nil {
		t.Fatalf("PutMessageMetadata() error = %v", err)
	}
	if err := c.PutMessagePart(path, 1, "1.1", []byte("body")); err != nil {
		t.Fatalf("PutMessagePart() error = %v", err)
	}

	if err := c.ClearUIDSpace(path); err != nil {
		t.Fatalf("ClearUIDSpace() error = %v", err)
	}

	uids, _ := c.GetUIDMap(path)
	if uids.Len() != 0 {
		t.Fatalf("UidMap after clear = %v, want empty", uids.UIDs())
	}
	if flags, _ := c.GetFlags(path, 1); len(flags) != 0 {
		t.Fatalf("flags after clear = %v, want empty", flags)
	}
	if _, ok, _ := c.GetMessageMetadata(path, 1); ok {
		t.Fatalf("message metadata survived ClearUIDSpace")
	}
	if _, ok, _ := c.GetMessagePart(path, 1, "1.1"); ok {
		t.Fatalf("message part survived ClearUIDSpace")
	}
}

func TestSQLiteCacheBlobRoundTrip(t *testing.T) {
	c := openTestCache(t)
	const path = "Archive"

	if err := c.PutMessagePart(path, 7, "2", []byte("first")); err != nil {
		t.Fatalf("PutMessagePart() error = %v", err)
	}
	if err := c.PutMessagePart(path, 7, "2", []byte("second")); err != nil {
		t.Fatalf("PutMessagePart() overwrite error = %v", err)
	}
	blob, ok, err := c.GetMessagePart(path, 7, "2")
	if err != nil || !ok {
		t.Fatalf("GetMessagePart() = (%v, %v, %v), want stored blob", blob, ok, err)
	}
	if string(blob) != "second" {
		t.Fatalf("GetMessagePart() = %q, want %q", blob, "second")
	}
}
