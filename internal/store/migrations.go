package store

const schema = `
-- Plain records (host data, snapshots, contributor sets)
CREATE TABLE IF NOT EXISTS records (
    key         TEXT PRIMARY KEY,
    value       BLOB NOT NULL,
    updated_at  INTEGER NOT NULL,
    expires_at  INTEGER
);

-- List headers; items live in list_items
CREATE TABLE IF NOT EXISTS lists (
    key         TEXT PRIMARY KEY,
    length      INTEGER NOT NULL DEFAULT 0,
    updated_at  INTEGER NOT NULL,
    expires_at  INTEGER
);

CREATE TABLE IF NOT EXISTS list_items (
    key         TEXT NOT NULL,
    idx         INTEGER NOT NULL,
    value       BLOB NOT NULL,
    PRIMARY KEY (key, idx)
);

CREATE INDEX IF NOT EXISTS idx_records_expires ON records(expires_at) WHERE expires_at IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_lists_expires ON lists(expires_at) WHERE expires_at IS NOT NULL;
`
