package mailboxcache

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/driftkit-mail/driftsync/internal/database"
	"github.com/driftkit-mail/driftsync/internal/logging"
	"github.com/driftkit-mail/driftsync/internal/syncstate"
	"github.com/driftkit-mail/driftsync/internal/uidmap"
)

// SQLiteCache persists the mailbox cache in the tables created by
// internal/database's migrations, committing flags, then the UID map, then
// the sync state inside a single transaction, so a reader never observes
// a partially written snapshot.
type SQLiteCache struct {
	db *database.DB
}

// NewSQLiteCache wraps an already-migrated database.DB.
func NewSQLiteCache(db *database.DB) *SQLiteCache {
	return &SQLiteCache{db: db}
}

// Flags and PermanentFlags are stored as space-joined atoms: IMAP flag
// atoms can never contain whitespace, so this needs no escaping.
func joinFlags(flags []string) string { return strings.Join(flags, " ") }

func splitFlags(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Fields(s)
}

func (c *SQLiteCache) GetSyncState(path string) (syncstate.State, error) {
	row := c.db.QueryRow(`
		SELECT exists_count, recent_count, uid_next, uid_validity,
		       unseen_count, unseen_offset, highest_mod_seq,
		       flags, permanent_flags, observed
		FROM mailbox_sync_state WHERE path = ?`, path)

	var s syncstate.State
	var flagsStr, permFlagsStr string
	var observed uint16
	err := row.Scan(&s.Exists, &s.Recent, &s.UIDNext, &s.UIDValidity,
		&s.UnseenCount, &s.UnseenOffset, &s.HighestModSeq,
		&flagsStr, &permFlagsStr, &observed)
	if err == sql.ErrNoRows {
		return syncstate.State{}, nil
	}
	if err != nil {
		return syncstate.State{}, fmt.Errorf("mailboxcache: get sync state: %w", err)
	}

	s.Flags = splitFlags(flagsStr)
	s.PermanentFlags = splitFlags(permFlagsStr)
	s.Observed = syncstate.Observed(observed)
	return s, nil
}

func (c *SQLiteCache) GetUIDMap(path string) (*uidmap.Map, error) {
	rows, err := c.db.Query(`
		SELECT uid FROM mailbox_uid_map WHERE path = ? ORDER BY position ASC`, path)
	if err != nil {
		return nil, fmt.Errorf("mailboxcache: get uid map: %w", err)
	}
	defer rows.Close()

	var uids []uint32
	for rows.Next() {
		var uid uint32
		if err := rows.Scan(&uid); err != nil {
			return nil, fmt.Errorf("mailboxcache: scan uid map row: %w", err)
		}
		uids = append(uids, uid)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("mailboxcache: iterate uid map: %w", err)
	}
	return uidmap.FromSlice(uids), nil
}

func (c *SQLiteCache) GetFlags(path string, uid uint32) ([]string, error) {
	rows, err := c.db.Query(`
		SELECT flag FROM mailbox_flags WHERE path = ? AND uid = ? ORDER BY flag ASC`, path, uid)
	if err != nil {
		return nil, fmt.Errorf("mailboxcache: get flags: %w", err)
	}
	defer rows.Close()

	var flags []string
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			return nil, fmt.Errorf("mailboxcache: scan flag row: %w", err)
		}
		flags = append(flags, f)
	}
	return flags, rows.Err()
}

func (c *SQLiteCache) Commit(path string, state syncstate.State, uids *uidmap.Map, flags map[uint32][]string) error {
	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("mailboxcache: begin commit: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM mailbox_flags WHERE path = ?`, path); err != nil {
		return fmt.Errorf("mailboxcache: clear flags: %w", err)
	}
	for uid, fl := range flags {
		// Orphan entries for UIDs no longer in the map are reaped by
		// simply not re-inserting them after the delete above.
		if uids != nil && !uids.Contains(uid) {
			continue
		}
		for _, f := range fl {
			if _, err := tx.Exec(`INSERT INTO mailbox_flags (path, uid, flag) VALUES (?, ?, ?)`, path, uid, f); err != nil {
				return fmt.Errorf("mailboxcache: insert flag: %w", err)
			}
		}
	}

	if uids != nil {
		if _, err := tx.Exec(`DELETE FROM mailbox_uid_map WHERE path = ?`, path); err != nil {
			return fmt.Errorf("mailboxcache: clear uid map: %w", err)
		}
		for i, uid := range uids.UIDs() {
			if _, err := tx.Exec(`INSERT INTO mailbox_uid_map (path, position, uid) VALUES (?, ?, ?)`, path, i, uid); err != nil {
				return fmt.Errorf("mailboxcache: insert uid map row: %w", err)
			}
		}
	}

	_, err = tx.Exec(`
		INSERT INTO mailbox_sync_state
			(path, exists_count, recent_count, uid_next, uid_validity,
			 unseen_count, unseen_offset, highest_mod_seq, flags, permanent_flags, observed, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(path) DO UPDATE SET
			exists_count = excluded.exists_count,
			recent_count = excluded.recent_count,
			uid_next = excluded.uid_next,
			uid_validity = excluded.uid_validity,
			unseen_count = excluded.unseen_count,
			unseen_offset = excluded.unseen_offset,
			highest_mod_seq = excluded.highest_mod_seq,
			flags = excluded.flags,
			permanent_flags = excluded.permanent_flags,
			observed = excluded.observed,
			updated_at = CURRENT_TIMESTAMP`,
		path, state.Exists, state.Recent, state.UIDNext, state.UIDValidity,
		state.UnseenCount, state.UnseenOffset, state.HighestModSeq,
		joinFlags(state.Flags), joinFlags(state.PermanentFlags), uint16(state.Observed))
	if err != nil {
		return fmt.Errorf("mailboxcache: upsert sync state: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("mailboxcache: commit: %w", err)
	}
	return nil
}

func (c *SQLiteCache) ClearUIDSpace(path string) error {
	log := logging.WithComponent("mailboxcache")

	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("mailboxcache: begin clear: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"mailbox_uid_map", "mailbox_flags", "mailbox_message_meta", "mailbox_message_part"} {
		if _, err := tx.Exec(fmt.Sprintf(`DELETE FROM %s WHERE path = ?`, table), path); err != nil {
			return fmt.Errorf("mailboxcache: clear %s: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("mailboxcache: commit clear: %w", err)
	}
	log.Info().Str("mailbox", path).Msg("cleared UID space after UIDVALIDITY change")
	return nil
}

func (c *SQLiteCache) GetMessageMetadata(path string, uid uint32) ([]byte, bool, error) {
	var blob []byte
	err := c.db.QueryRow(`SELECT blob FROM mailbox_message_meta WHERE path = ? AND uid = ?`, path, uid).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("mailboxcache: get message metadata: %w", err)
	}
	return blob, true, nil
}

func (c *SQLiteCache) PutMessageMetadata(path string, uid uint32, blob []byte) error {
	_, err := c.db.Exec(`
		INSERT INTO mailbox_message_meta (path, uid, blob) VALUES (?, ?, ?)
		ON CONFLICT(path, uid) DO UPDATE SET blob = excluded.blob`, path, uid, blob)
	if err != nil {
		return fmt.Errorf("mailboxcache: put message metadata: %w", err)
	}
	return nil
}

func (c *SQLiteCache) GetMessagePart(path string, uid uint32, partID string) ([]byte, bool, error) {
	var blob []byte
	err := c.db.QueryRow(`SELECT blob FROM mailbox_message_part WHERE path = ? AND uid = ? AND part_id = ?`, path, uid, partID).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("mailboxcache: get message part: %w", err)
	}
	return blob, true, nil
}

func (c *SQLiteCache) PutMessagePart(path string, uid uint32, partID string, blob []byte) error {
	_, err := c.db.Exec(`
		INSERT INTO mailbox_message_part (path, uid, part_id, blob) VALUES (?, ?, ?, ?)
		ON CONFLICT(path, uid, part_id) DO UPDATE SET blob = excluded.blob`, path, uid, partID, blob)
	if err != nil {
		return fmt.Errorf("mailboxcache: put message part: %w", err)
	}
	return nil
}

var _ Cache = (*SQLiteCache)(nil)
