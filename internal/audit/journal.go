// Package audit provides the append-only activity journal. Records form a
// hash chain so tampering with past session or credential events is
// detectable.
package audit

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// EventType categorizes journal entries.
type EventType string

const (
	EventWorkspaceCreated  EventType = "workspace_created"
	EventWorkspaceRemoved  EventType = "workspace_removed"
	EventSessionCreated    EventType = "session_created"
	EventSessionStarted    EventType = "session_started"
	EventSessionStopped    EventType = "session_stopped"
	EventSessionRemoved    EventType = "session_removed"
	EventSessionExpired    EventType = "session_expired"
	EventSsoLogin          EventType = "sso_login"
	EventSsoLogout         EventType = "sso_logout"
	EventCredentialRefresh EventType = "credential_refresh"
)

// Journal writes tamper-evident records to the journal database.
type Journal struct {
	db          *sql.DB
	mu          sync.Mutex
	lastHash    string
	workspaceID string
}

// NewJournal creates a journal bound to the given workspace, recovering the
// hash chain tail for continuity.
func NewJournal(db *sql.DB, workspaceID string) (*Journal, error) {
	j := &Journal{db: db, workspaceID: workspaceID}

	var lastHash sql.NullString
	err := db.QueryRow(
		"SELECT record_hash FROM journal WHERE workspace_id = ? ORDER BY id DESC LIMIT 1",
		workspaceID,
	).Scan(&lastHash)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("recovering journal chain: %w", err)
	}
	if lastHash.Valid {
		j.lastHash = lastHash.String
	}
	return j, nil
}

// Record appends one event. Details must never contain secret material.
func (j *Journal) Record(eventType EventType, sessionID string, detail any) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	detailJSON, err := json.Marshal(detail)
	if err != nil {
		detailJSON = []byte(fmt.Sprintf(`{"error":"failed to marshal detail: %s"}`, err))
	}

	now := time.Now().UTC()
	recordHash := j.computeHash(now, eventType, sessionID, string(detailJSON))

	_, err = j.db.Exec(
		`INSERT INTO journal (timestamp, workspace_id, session_id, event_type, detail, record_hash)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		now.Format(time.RFC3339Nano),
		j.workspaceID,
		sessionID,
		string(eventType),
		string(detailJSON),
		recordHash,
	)
	if err != nil {
		return fmt.Errorf("inserting journal record: %w", err)
	}

	j.lastHash = recordHash
	return nil
}

// computeHash links the chain: SHA-256(previous + timestamp + type + session + detail).
func (j *Journal) computeHash(ts time.Time, eventType EventType, sessionID, detail string) string {
	data := j.lastHash + ts.Format(time.RFC3339Nano) + string(eventType) + sessionID + detail
	h := sha256.Sum256([]byte(data))
	return hex.EncodeToString(h[:])
}

// Entry is one journal record as read back for display or verification.
type Entry struct {
	Timestamp string
	SessionID string
	EventType EventType
	Detail    string
}

// Tail returns the most recent n entries, newest first.
func (j *Journal) Tail(n int) ([]Entry, error) {
	rows, err := j.db.Query(
		"SELECT timestamp, session_id, event_type, detail FROM journal WHERE workspace_id = ? ORDER BY id DESC LIMIT ?",
		j.workspaceID, n,
	)
	if err != nil {
		return nil, fmt.Errorf("querying journal: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var et string
		if err := rows.Scan(&e.Timestamp, &e.SessionID, &et, &e.Detail); err != nil {
			return nil, fmt.Errorf("scanning journal row: %w", err)
		}
		e.EventType = EventType(et)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Verify walks the chain for a workspace and reports whether every link
// holds, plus the number of records checked.
func Verify(db *sql.DB, workspaceID string) (bool, int, error) {
	rows, err := db.Query(
		"SELECT timestamp, session_id, event_type, detail, record_hash FROM journal WHERE workspace_id = ? ORDER BY id ASC",
		workspaceID,
	)
	if err != nil {
		return false, 0, fmt.Errorf("querying journal: %w", err)
	}
	defer rows.Close()

	var previousHash string
	count := 0
	for rows.Next() {
		var ts, sessionID, eventType, detail, recordHash string
		if err := rows.Scan(&ts, &sessionID, &eventType, &detail, &recordHash); err != nil {
			return false, count, fmt.Errorf("scanning journal row: %w", err)
		}

		data := previousHash + ts + eventType + sessionID + detail
		h := sha256.Sum256([]byte(data))
		if hex.EncodeToString(h[:]) != recordHash {
			return false, count, nil
		}
		previousHash = recordHash
		count++
	}
	return true, count, rows.Err()
}
