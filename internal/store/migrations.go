package store

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    started_at DATETIME NOT NULL,
    finished_at DATETIME NOT NULL,
    total_sent INTEGER NOT NULL DEFAULT 0,
    replies_found INTEGER NOT NULL DEFAULT 0,
    extracted INTEGER NOT NULL DEFAULT 0,
    sink_updates INTEGER NOT NULL DEFAULT 0,
    imap_errors INTEGER NOT NULL DEFAULT 0,
    llm_errors INTEGER NOT NULL DEFAULT 0,
    sink_errors INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS bad_items (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    recipient TEXT NOT NULL,
    reason TEXT,
    body TEXT
);

CREATE INDEX IF NOT EXISTS idx_bad_items_run ON bad_items(run_id);
`
