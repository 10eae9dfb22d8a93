package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/calebhsu/codetrail/internal/event"
	trailerrors "github.com/calebhsu/codetrail/internal/errors"
)

// AppendEvent serializes payload and inserts a new event stamped with the
// current time. It returns the stored record so callers can broadcast it.
func AppendEvent(database *sql.DB, kind event.Kind, projectID *int64, path string, payload any) (*event.Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", kind, err)
	}

	now := time.Now().Unix()
	res, err := database.Exec(
		`INSERT INTO events (ts, kind, path, payload, project_id) VALUES (?, ?, ?, ?, ?)`,
		now, string(kind), toNullString(path), string(raw), toNullInt64(projectID),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to append %s event: %w", kind, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read event id: %w", err)
	}

	return &event.Event{
		ID:        id,
		TS:        now,
		Kind:      kind,
		Path:      path,
		Payload:   raw,
		ProjectID: projectID,
	}, nil
}

// EventFilter narrows ListEvents. Zero values mean no constraint; Limit
// falls back to 100 and is capped at 1000.
type EventFilter struct {
	ProjectID *int64
	Kind      event.Kind
	Search    string
	Offset    int
	Limit     int
}

// EventPage is one page of a filtered event listing.
type EventPage struct {
	Items  []*event.Event
	Total  int64
	Offset int
	Limit  int
}

// ListEvents returns events matching the filter, newest first.
func ListEvents(database *sql.DB, filter EventFilter) (*EventPage, error) {
	if filter.Limit <= 0 {
		filter.Limit = 100
	}
	if filter.Limit > 1000 {
		filter.Limit = 1000
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	where, args := eventWhere(filter)

	var total int64
	if err := database.QueryRow(`SELECT COUNT(*) FROM events`+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}

	query := `SELECT id, ts, kind, path, payload, project_id FROM events` + where +
		` ORDER BY id DESC LIMIT ? OFFSET ?`
	rows, err := database.Query(query, append(args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	items, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}
	return &EventPage{Items: items, Total: total, Offset: filter.Offset, Limit: filter.Limit}, nil
}

// GetEvent loads one event by id.
func GetEvent(database *sql.DB, id int64) (*event.Event, error) {
	row := database.QueryRow(
		`SELECT id, ts, kind, path, payload, project_id FROM events WHERE id = ?`, id)
	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, trailerrors.NewNotFound("event", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load event %d: %w", id, err)
	}
	return e, nil
}

// EventsForExport streams all events for a project in insertion order.
func EventsForExport(database *sql.DB, projectID *int64) ([]*event.Event, error) {
	query := `SELECT id, ts, kind, path, payload, project_id FROM events`
	var args []any
	if projectID != nil {
		query += ` WHERE project_id = ?`
		args = append(args, *projectID)
	}
	query += ` ORDER BY id ASC`

	rows, err := database.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to read events for export: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// FileChangesInWindow returns file_change events for a project with ts in
// [from, to], oldest first. The correlator uses this to find candidate
// code changes around a conversation.
func FileChangesInWindow(database *sql.DB, projectID int64, from, to int64) ([]*event.Event, error) {
	rows, err := database.Query(
		`SELECT id, ts, kind, path, payload, project_id FROM events
		 WHERE project_id = ? AND kind = ? AND ts >= ? AND ts <= ?
		 ORDER BY ts ASC`,
		projectID, string(event.KindFileChange), from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query file changes in window: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// EventsSince returns a project's events newer than the cutoff, oldest
// first, capped at limit.
func EventsSince(database *sql.DB, projectID int64, since int64, limit int) ([]*event.Event, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := database.Query(
		`SELECT id, ts, kind, path, payload, project_id FROM events
		 WHERE project_id = ? AND ts >= ?
		 ORDER BY id ASC LIMIT ?`,
		projectID, since, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query events since %d: %w", since, err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// RecentEvents returns the newest limit events, optionally scoped to a
// project, in reverse insertion order. Summary generation digests these.
func RecentEvents(database *sql.DB, projectID *int64, limit int) ([]*event.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, ts, kind, path, payload, project_id FROM events`
	var args []any
	if projectID != nil {
		query += ` WHERE project_id = ?`
		args = append(args, *projectID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := database.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// LatestSummary returns the newest summary event, or nil when none exists.
func LatestSummary(database *sql.DB, projectID *int64) (*event.Event, error) {
	query := `SELECT id, ts, kind, path, payload, project_id FROM events WHERE kind = ?`
	args := []any{string(event.KindSummary)}
	if projectID != nil {
		query += ` AND project_id = ?`
		args = append(args, *projectID)
	}
	query += ` ORDER BY id DESC LIMIT 1`

	row := database.QueryRow(query, args...)
	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load latest summary: %w", err)
	}
	return e, nil
}

func eventWhere(filter EventFilter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if filter.ProjectID != nil {
		clauses = append(clauses, "project_id = ?")
		args = append(args, *filter.ProjectID)
	}
	if filter.Kind != "" {
		clauses = append(clauses, "kind = ?")
		args = append(args, string(filter.Kind))
	}
	if filter.Search != "" {
		clauses = append(clauses, "(LOWER(COALESCE(path, '')) LIKE ? OR LOWER(COALESCE(payload, '')) LIKE ?)")
		needle := "%" + strings.ToLower(filter.Search) + "%"
		args = append(args, needle, needle)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	where := " WHERE " + clauses[0]
	for _, c := range clauses[1:] {
		where += " AND " + c
	}
	return where, args
}

func scanEvent(row interface{ Scan(...any) error }) (*event.Event, error) {
	var (
		e         event.Event
		kind      string
		path      sql.NullString
		payload   sql.NullString
		projectID sql.NullInt64
	)
	if err := row.Scan(&e.ID, &e.TS, &kind, &path, &payload, &projectID); err != nil {
		return nil, err
	}
	e.Kind = event.Kind(kind)
	e.Path = path.String
	if payload.Valid {
		e.Payload = json.RawMessage(payload.String)
	}
	if projectID.Valid {
		e.ProjectID = &projectID.Int64
	}
	return &e, nil
}

func scanEvents(rows *sql.Rows) ([]*event.Event, error) {
	var out []*event.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
