package cache

// Schema contains SQL schema definitions for the cache. Summary lists and
// sync state are keyed "{account}:{folder}", details "{account}:{folder}:{uid}".
const Schema = `
-- Newest-first summary list of one folder, stored as JSON
CREATE TABLE IF NOT EXISTS email_lists (
    cache_key TEXT PRIMARY KEY,
    account_id TEXT NOT NULL,
    folder TEXT NOT NULL,
    data TEXT NOT NULL,
    last_updated INTEGER NOT NULL
);

-- How far a folder has been synced
CREATE TABLE IF NOT EXISTS sync_state (
    cache_key TEXT PRIMARY KEY,
    account_id TEXT NOT NULL,
    folder TEXT NOT NULL,
    last_uid INTEGER NOT NULL DEFAULT 0,
    uid_validity INTEGER NOT NULL DEFAULT 0,
    last_sync_time INTEGER NOT NULL DEFAULT 0
);

-- Fully decoded messages, stored as JSON
CREATE TABLE IF NOT EXISTS email_details (
    cache_key TEXT PRIMARY KEY,
    account_id TEXT NOT NULL,
    folder TEXT NOT NULL,
    uid INTEGER NOT NULL,
    data TEXT NOT NULL,
    cached_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_email_lists_account ON email_lists(account_id, folder);
CREATE INDEX IF NOT EXISTS idx_sync_state_account ON sync_state(account_id, folder);
CREATE INDEX IF NOT EXISTS idx_email_details_folder ON email_details(account_id, folder);
`
