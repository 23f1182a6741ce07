package database

// Migration represents a database migration.
type Migration struct {
	Version int
	SQL     string
}

// migrations is the list of all database migrations, applied in order.
var migrations = []Migration{
	{
		Version: 1,
		SQL: `
			-- One row per mailbox path: the scalar SyncState snapshot.
			CREATE TABLE mailbox_sync_state (
				path             TEXT PRIMARY KEY,
				exists_count     INTEGER NOT NULL DEFAULT 0,
				recent_count     INTEGER NOT NULL DEFAULT 0,
				uid_next         INTEGER NOT NULL DEFAULT 0,
				uid_validity     INTEGER NOT NULL DEFAULT 0,
				unseen_count     INTEGER NOT NULL DEFAULT 0,
				unseen_offset    INTEGER NOT NULL DEFAULT 0,
				highest_mod_seq  INTEGER NOT NULL DEFAULT 0,
				flags            TEXT NOT NULL DEFAULT '',
				permanent_flags  TEXT NOT NULL DEFAULT '',
				observed         INTEGER NOT NULL DEFAULT 0,
				updated_at       DATETIME DEFAULT CURRENT_TIMESTAMP
			);

			-- Ordered sequence-number -> UID mapping for the mailbox.
			CREATE TABLE mailbox_uid_map (
				path     TEXT NOT NULL,
				position INTEGER NOT NULL,
				uid      INTEGER NOT NULL,
				PRIMARY KEY (path, position)
			);

			CREATE INDEX idx_mailbox_uid_map_uid ON mailbox_uid_map(path, uid);

			-- Per-UID flag sets. Absence of rows for a UID means "no flags",
			-- indistinguishable from an explicitly empty set.
			CREATE TABLE mailbox_flags (
				path TEXT NOT NULL,
				uid  INTEGER NOT NULL,
				flag TEXT NOT NULL,
				PRIMARY KEY (path, uid, flag)
			);

			-- Opaque per-UID metadata blobs, consulted only by higher layers;
			-- the synchronizer touches these exclusively via clearUidSpace.
			CREATE TABLE mailbox_message_meta (
				path TEXT NOT NULL,
				uid  INTEGER NOT NULL,
				blob BLOB NOT NULL,
				PRIMARY KEY (path, uid)
			);

			-- Opaque per-UID/per-part blobs, same invalidation rule as above.
			CREATE TABLE mailbox_message_part (
				path    TEXT NOT NULL,
				uid     INTEGER NOT NULL,
				part_id TEXT NOT NULL,
				blob    BLOB NOT NULL,
				PRIMARY KEY (path, uid, part_id)
			);
		`,
	},
}
