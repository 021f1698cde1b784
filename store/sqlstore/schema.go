package sqlstore

// schema is applied on every open: CREATE TABLE IF NOT EXISTS so opening
// an existing database is a no-op, plus the indexes the store's own query
// patterns need.
const schema = `
CREATE TABLE IF NOT EXISTS commits (
	ref            TEXT PRIMARY KEY,
	local_sync_id  INTEGER NOT NULL,
	remote_sync_id TEXT NOT NULL DEFAULT '',
	user_id        TEXT NOT NULL DEFAULT '',
	client_id      TEXT NOT NULL DEFAULT '',
	base_ref       TEXT NOT NULL DEFAULT '',
	merge_ref      TEXT NOT NULL DEFAULT '',
	merge_base_ref TEXT NOT NULL DEFAULT '',
	delta          BLOB,
	edit_metadata  BLOB
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_commits_local_sync_id ON commits(local_sync_id);
CREATE INDEX IF NOT EXISTS idx_commits_remote_sync_id ON commits(remote_sync_id);

CREATE TABLE IF NOT EXISTS heads (
	ref TEXT PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS remotes (
	local_store_id   TEXT PRIMARY KEY,
	last_sync_cursor TEXT NOT NULL DEFAULT ''
);
`
