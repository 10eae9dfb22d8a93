// Package db is the sole durable home of projects, events, AI
// conversations, and AI-code matches. All other components write through
// the functions in this package; payloads are persisted as serialized
// JSON and never interpreted here.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// Init opens (creating if necessary) the sqlite database at dbPath and
// applies schema migrations. Migrations are additive only: missing
// columns are added with defaults, existing rows are left intact.
func Init(dbPath string) (*sql.DB, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	database, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := migrate(database); err != nil {
		database.Close()
		return nil, err
	}

	return database, nil
}

// migrate creates missing tables and adds missing columns. Destructive
// changes are never performed.
func migrate(database *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS projects (
	  id              INTEGER PRIMARY KEY,
	  name            TEXT NOT NULL,
	  path            TEXT NOT NULL UNIQUE,
	  description     TEXT,
	  created_at      INTEGER NOT NULL,
	  active          INTEGER NOT NULL DEFAULT 1,
	  ignore_patterns TEXT,
	  feature_doc_path TEXT,
	  tech_doc        TEXT,
	  tech_doc_updated_at INTEGER
	);

	CREATE TABLE IF NOT EXISTS events (
	  id         INTEGER PRIMARY KEY,
	  ts         INTEGER NOT NULL,
	  kind       TEXT NOT NULL,
	  path       TEXT,
	  payload    TEXT,
	  project_id INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_events_project_id ON events(project_id, id);
	CREATE INDEX IF NOT EXISTS idx_events_kind_id ON events(kind, id);

	CREATE TABLE IF NOT EXISTS ai_conversations (
	  id                INTEGER PRIMARY KEY,
	  project_id        INTEGER,
	  session_id        TEXT,
	  ai_provider       TEXT NOT NULL,
	  ai_model          TEXT,
	  timestamp         INTEGER NOT NULL,
	  conversation_type TEXT,
	  user_prompt       TEXT NOT NULL,
	  ai_response       TEXT NOT NULL,
	  context_files     TEXT,
	  code_snippets     TEXT,
	  metadata          TEXT,
	  matched_to_events TEXT,
	  confidence_score  REAL
	);

	CREATE INDEX IF NOT EXISTS idx_ai_conversations_project
	ON ai_conversations(project_id, timestamp);

	CREATE INDEX IF NOT EXISTS idx_ai_conversations_session
	ON ai_conversations(session_id);

	CREATE TABLE IF NOT EXISTS ai_code_matches (
	  id              INTEGER PRIMARY KEY,
	  conversation_id INTEGER NOT NULL,
	  event_id        INTEGER NOT NULL,
	  confidence      REAL NOT NULL,
	  reasoning       TEXT,
	  match_type      TEXT,
	  file_overlap    INTEGER NOT NULL DEFAULT 0,
	  time_delta      INTEGER NOT NULL DEFAULT 0,
	  created_at      INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_ai_code_matches_conversation
	ON ai_code_matches(conversation_id);

	CREATE INDEX IF NOT EXISTS idx_ai_code_matches_event
	ON ai_code_matches(event_id);
	`
	if _, err := database.Exec(schema); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}

	// Columns added after the initial release. ensureColumn is a no-op
	// when the column already exists, so older databases upgrade in place.
	upgrades := []struct {
		table, column, decl string
	}{
		{"projects", "active", "INTEGER NOT NULL DEFAULT 1"},
		{"projects", "feature_doc_path", "TEXT"},
		{"projects", "tech_doc", "TEXT"},
		{"projects", "tech_doc_updated_at", "INTEGER"},
		{"ai_code_matches", "file_overlap", "INTEGER NOT NULL DEFAULT 0"},
	}
	for _, u := range upgrades {
		if err := ensureColumn(database, u.table, u.column, u.decl); err != nil {
			return err
		}
	}
	return nil
}

// ensureColumn adds column to table when pragma table_info does not list it.
func ensureColumn(database *sql.DB, table, column, decl string) error {
	rows, err := database.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return fmt.Errorf("failed to inspect %s: %w", table, err)
	}
	defer rows.Close()

	present := false
	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notnull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return fmt.Errorf("failed to scan table_info for %s: %w", table, err)
		}
		if name == column {
			present = true
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if present {
		return nil
	}

	stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, decl)
	if _, err := database.Exec(stmt); err != nil {
		return fmt.Errorf("failed to add %s.%s: %w", table, column, err)
	}
	return nil
}

// toNullString converts a possibly-empty string to sql.NullString.
func toNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// toNullInt64 converts an optional id to sql.NullInt64.
func toNullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

// isUniqueConstraintError checks for a sqlite UNIQUE constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
