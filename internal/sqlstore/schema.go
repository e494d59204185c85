package sqlstore

// Schema is the fixed update/revision/supersession/status data model for the
// embedded store. Deployments against an external server are expected to
// already carry these tables; the embedded store creates them on first open.
const Schema = `
CREATE TABLE IF NOT EXISTS updates (
    local_id       INTEGER PRIMARY KEY AUTOINCREMENT,
    id             TEXT NOT NULL UNIQUE,
    title          TEXT NOT NULL,
    classification TEXT NOT NULL,
    released_at    TIMESTAMP NOT NULL,
    is_declined    BOOLEAN NOT NULL DEFAULT 0,
    is_superseded  BOOLEAN NOT NULL DEFAULT 0,
    is_expired     BOOLEAN NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS revisions (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    local_update_id INTEGER NOT NULL REFERENCES updates(local_id),
    state           INTEGER NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_revisions_update ON revisions(local_update_id);
CREATE INDEX IF NOT EXISTS idx_revisions_state ON revisions(state);

-- Directed edge: the owning revision supersedes the referenced update.
-- An edge must never outlive its revision; pruning deletes edges before
-- the revision's purge.
CREATE TABLE IF NOT EXISTS supersession_edges (
    revision_id          INTEGER NOT NULL REFERENCES revisions(id),
    superseded_update_id TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_supersession_revision ON supersession_edges(revision_id);

-- Per-computer-per-update installation status. Large: 10^7+ rows in the
-- field, which is why all deletes against it are batched.
CREATE TABLE IF NOT EXISTS status_records (
    computer_id     TEXT NOT NULL,
    local_update_id INTEGER NOT NULL,
    revision_id     INTEGER NOT NULL REFERENCES revisions(id),
    status          INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_status_revision ON status_records(revision_id);

CREATE TABLE IF NOT EXISTS approvals (
    local_update_id INTEGER NOT NULL REFERENCES updates(local_id),
    target_group    TEXT NOT NULL,
    UNIQUE(local_update_id, target_group)
);

-- Per-index physical health, refreshed by the host's stats collector; the
-- maintenance planner only reads it.
CREATE TABLE IF NOT EXISTS index_physical_stats (
    table_name            TEXT NOT NULL,
    index_name            TEXT NOT NULL UNIQUE,
    fragmentation_percent REAL NOT NULL,
    page_count            INTEGER NOT NULL
);
`
