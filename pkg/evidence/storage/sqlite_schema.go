package storage

// SchemaVersion is the current database schema version.
const SchemaVersion = 1

// Schema contains the SQL statements to create the audit database schema.
// The full entry is kept as JSON in payload so hashes verify after a read;
// the other columns exist for filtering.
const Schema = `
-- Audit entries table
CREATE TABLE IF NOT EXISTS audit_entries (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL UNIQUE,

    -- Unix nanoseconds, UTC
    ts INTEGER NOT NULL,

    request_id TEXT,
    tool TEXT NOT NULL,
    result TEXT NOT NULL,

    -- Lower-cased for case-insensitive lookup
    transaction_hash TEXT,

    payload TEXT NOT NULL
);

-- Schema version table
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TIMESTAMP NOT NULL
);

-- Indexes for common queries
CREATE INDEX IF NOT EXISTS idx_audit_ts ON audit_entries(ts);
CREATE INDEX IF NOT EXISTS idx_audit_request_id ON audit_entries(request_id);
CREATE INDEX IF NOT EXISTS idx_audit_tool ON audit_entries(tool);
CREATE INDEX IF NOT EXISTS idx_audit_transaction_hash ON audit_entries(transaction_hash);
`

// InsertSchemaVersion inserts the schema version into the schema_version table.
const InsertSchemaVersion = `
INSERT INTO schema_version (version, applied_at)
VALUES (?, datetime('now'))
ON CONFLICT(version) DO NOTHING;
`

// GetSchemaVersion retrieves the current schema version from the database.
const GetSchemaVersion = `
SELECT version FROM schema_version ORDER BY version DESC LIMIT 1;
`

const insertEntry = `
INSERT INTO audit_entries (id, ts, request_id, tool, result, transaction_hash, payload)
VALUES (?, ?, ?, ?, ?, ?, ?);
`
