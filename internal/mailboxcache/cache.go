// Package mailboxcache implements the persistent per-mailbox cache:
// sync state, UID map, per-UID flags, and opaque per-UID blobs, with
// atomic commit ordered flags -> uid map -> sync state.
package mailboxcache

import (
	"github.com/driftkit-mail/driftsync/internal/syncstate"
	"github.com/driftkit-mail/driftsync/internal/uidmap"
)

// Cache is the persistence contract the Synchronizer task consumes. All
// Get* calls must observe either a prior commit in its entirety or the next
// one — never a mix.
type Cache interface {
	GetSyncState(path string) (syncstate.State, error)
	GetUIDMap(path string) (*uidmap.Map, error)
	GetFlags(path string, uid uint32) ([]string, error)

	// Commit atomically writes flags, then the UID map, then the sync
	// state for path. Implementations must make all three writes visible
	// together or not at all.
	Commit(path string, state syncstate.State, uids *uidmap.Map, flags map[uint32][]string) error

	// ClearUIDSpace erases the UidMap, flags, and opaque blobs for path.
	// Called before committing a new SyncState whose UIDVALIDITY differs
	// from the prior one: a UIDVALIDITY change invalidates every UID-keyed
	// artifact for the mailbox (RFC 3501 §2.3.1.1).
	ClearUIDSpace(path string) error

	GetMessageMetadata(path string, uid uint32) ([]byte, bool, error)
	PutMessageMetadata(path string, uid uint32, blob []byte) error
	GetMessagePart(path string, uid uint32, partID string) ([]byte, bool, error)
	PutMessagePart(path string, uid uint32, partID string, blob []byte) error
}
