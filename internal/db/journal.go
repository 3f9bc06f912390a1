// Package db manages the SQLite database backing the append-only activity
// journal. The workspace document itself is a JSON file owned by the
// repository; the journal only records lifecycle events.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// JournalDBFile is the journal database name inside the workspace directory.
const JournalDBFile = "cloudgate-journal.db"

// JournalSchema defines the single append-only table. Records form a hash
// chain for tamper detection.
const JournalSchema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS journal (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp       TEXT NOT NULL,
    workspace_id    TEXT NOT NULL,
    session_id      TEXT DEFAULT '',
    event_type      TEXT NOT NULL,
    detail          TEXT DEFAULT '{}',
    record_hash     TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_journal_workspace ON journal(workspace_id);
CREATE INDEX IF NOT EXISTS idx_journal_session ON journal(session_id);
`

// OpenJournalDB opens (creating if needed) the journal database in dir.
func OpenJournalDB(dir string) (*sql.DB, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("creating journal directory: %w", err)
	}

	path := filepath.Join(dir, JournalDBFile)
	database, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening journal database: %w", err)
	}

	if _, err := database.Exec(JournalSchema); err != nil {
		database.Close()
		return nil, fmt.Errorf("initializing journal schema: %w", err)
	}
	return database, nil
}
