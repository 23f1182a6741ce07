package mailboxcache

import (
	"sync"

	"github.com/driftkit-mail/driftsync/internal/syncstate"
	"github.com/driftkit-mail/driftsync/internal/uidmap"
)

// MemoryCache is an in-process Cache used by tests and by the fake-session
// harness; grounded in the mutex-guarded-map test-double idiom the example
// pack's store implementations use instead of interface-mocking libraries.
type MemoryCache struct {
	mu    sync.Mutex
	state map[string]syncstate.State
	uids  map[string]*uidmap.Map
	flags map[string]map[uint32][]string
	meta  map[string]map[uint32][]byte
	parts map[string]map[uint32]map[string][]byte
}

// NewMemoryCache returns an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		state: make(map[string]syncstate.State),
		uids:  make(map[string]*uidmap.Map),
		flags: make(map[string]map[uint32][]string),
		meta:  make(map[string]map[uint32][]byte),
		parts: make(map[string]map[uint32]map[string][]byte),
	}
}

func (c *MemoryCache) GetSyncState(path string) (syncstate.State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state[path].Clone(), nil
}

func (c *MemoryCache) GetUIDMap(path string) (*uidmap.Map, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.uids[path]
	if !ok {
		return uidmap.New(), nil
	}
	return m.Clone(), nil
}

func (c *MemoryCache) GetFlags(path string, uid uint32) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	byUID, ok := c.flags[path]
	if !ok {
		return nil, nil
	}
	return append([]string(nil), byUID[uid]...), nil
}

func (c *MemoryCache) Commit(path string, state syncstate.State, uids *uidmap.Map, flags map[uint32][]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Orphan flag entries (UIDs absent from the map being committed) are
	// reaped here rather than trusted to be pre-filtered by the caller.
	byUID := make(map[uint32][]string, len(flags))
	for uid, fl := range flags {
		if uids != nil && !uids.Contains(uid) {
			continue
		}
		byUID[uid] = append([]string(nil), fl...)
	}
	c.flags[path] = byUID

	if uids != nil {
		c.uids[path] = uids.Clone()
	}
	c.state[path] = state.Clone()
	return nil
}

func (c *MemoryCache) ClearUIDSpace(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.uids, path)
	delete(c.flags, path)
	delete(c.meta, path)
	delete(c.parts, path)
	return nil
}

func (c *MemoryCache) GetMessageMetadata(path string, uid uint32) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	byUID, ok := c.meta[path]
	if !ok {
		return nil, false, nil
	}
	blob, ok := byUID[uid]
	return blob, ok, nil
}

func (c *MemoryCache) PutMessageMetadata(path string, uid uint32, blob []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	byUID, ok := c.meta[path]
	if !ok {
		byUID = make(map[uint32][]byte)
		c.meta[path] = byUID
	}
	byUID[uid] = append([]byte(nil), blob...)
	return nil
}

func (c *MemoryCache) GetMessagePart(path string, uid uint32, partID string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	byUID, ok := c.parts[path]
	if !ok {
		return nil, false, nil
	}
	byPart, ok := byUID[uid]
	if !ok {
		return nil, false, nil
	}
	blob, ok := byPart[partID]
	return blob, ok, nil
}

func (c *MemoryCache) PutMessagePart(path string, uid uint32, partID string, blob []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	byUID, ok := c.parts[path]
	if !ok {
		byUID = make(map[uint32]map[string][]byte)
		c.parts[path] = byUID
	}
	byPart, ok := byUID[uid]
	if !ok {
		byPart = make(map[string][]byte)
		byUID[uid] = byPart
	}
	byPart[partID] = append([]byte(nil), blob...)
	return nil
}

var _ Cache = (*MemoryCache)(nil)
